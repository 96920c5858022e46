package realtime

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.portfolio.chat/internal/feed"
)

type frame struct {
	Type string   `json:"type"`
	Data []string `json:"data"`
}

func serveFeed(t *testing.T, f *feed.Feed[[]string]) (*websocket.Conn, chan struct{}) {
	t.Helper()
	upgrader := NewUpgrader(nil)
	served := make(chan struct{})

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		Serve(NewConnection(ws), "snapshot", f)
		close(served)
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, served
}

func readFrame(t *testing.T, client *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := client.ReadMessage()
	require.NoError(t, err)

	var got frame
	require.NoError(t, json.Unmarshal(payload, &got))
	return got
}

func TestServe_PushesSnapshots(t *testing.T) {
	f := feed.New[[]string]()
	f.Push([]string{"a"})
	client, served := serveFeed(t, f)

	got := readFrame(t, client)
	assert.Equal(t, "snapshot", got.Type)
	assert.Equal(t, []string{"a"}, got.Data)

	f.Push([]string{"a", "b"})
	got = readFrame(t, client)
	assert.Equal(t, []string{"a", "b"}, got.Data)

	// 订阅关闭后连接随之关闭
	f.Close()
	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestServe_ClientDisconnectClosesFeed(t *testing.T) {
	f := feed.New[[]string]()
	f.Push([]string{"a"})
	client, served := serveFeed(t, f)
	readFrame(t, client)

	require.NoError(t, client.Close())

	select {
	case <-served:
	case <-time.After(2 * time.Second):
		t.Fatal("serve did not return")
	}
	assert.True(t, f.Closed())
}

func TestNewUpgrader_CheckOrigin(t *testing.T) {
	u := NewUpgrader([]string{"https://sudooom.dev"})

	r := httptest.NewRequest(http.MethodGet, "/ws", nil)
	r.Header.Set("Origin", "https://sudooom.dev")
	assert.True(t, u.CheckOrigin(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, u.CheckOrigin(r))

	r.Header.Del("Origin")
	assert.True(t, u.CheckOrigin(r))

	assert.True(t, NewUpgrader([]string{"*"}).CheckOrigin(r))
}
