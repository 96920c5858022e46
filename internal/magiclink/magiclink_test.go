package magiclink

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRequest() Request {
	return Request{Email: "ana@example.com", SessionID: "session_1_abc", ShortCode: "AB-1234"}
}

func TestRequest_Validate(t *testing.T) {
	assert.NoError(t, validRequest().Validate())

	missing := []Request{
		{SessionID: "s", ShortCode: "AB-1234"},
		{Email: "a@b.co", ShortCode: "AB-1234"},
		{Email: "a@b.co", SessionID: "s"},
	}
	for _, req := range missing {
		assert.ErrorIs(t, req.Validate(), ErrMissingField)
	}
}

func TestLogDispatcher(t *testing.T) {
	d := NewLogDispatcher("https://example.dev")

	assert.NoError(t, d.Dispatch(context.Background(), validRequest()))
	assert.ErrorIs(t, d.Dispatch(context.Background(), Request{}), ErrMissingField)
}

func TestHTTPDispatcher(t *testing.T) {
	var got Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(Result{Success: true, Message: "sent"})
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.URL, 0)
	require.NoError(t, d.Dispatch(context.Background(), validRequest()))
	assert.Equal(t, validRequest(), got)
}

func TestHTTPDispatcher_Failure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(Result{Error: "smtp down"})
	}))
	defer server.Close()

	d := NewHTTPDispatcher(server.URL, 0)
	err := d.Dispatch(context.Background(), validRequest())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}
