package errors

import (
	"errors"
	"testing"
)

func TestNewError(t *testing.T) {
	err := NewError(11002, "test error")

	if err.Code != 11002 {
		t.Errorf("Expected code 11002, got %d", err.Code)
	}
	if err.Message != "test error" {
		t.Errorf("Expected message 'test error', got '%s'", err.Message)
	}
	if err.Err != nil {
		t.Error("Expected Err to be nil")
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			err:      NewError(12001, "not found"),
			expected: "[12001] not found",
		},
		{
			name:     "with wrapped error",
			err:      NewError(50002, "store").Wrap(errors.New("connection refused")),
			expected: "[50002] store: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, got)
			}
		})
	}
}

func TestAppError_WrapUnwrap(t *testing.T) {
	originalErr := errors.New("dial tcp: timeout")
	appErr := ErrStore.Wrap(originalErr)

	if appErr.Code != ErrStore.Code {
		t.Errorf("Expected code %d, got %d", ErrStore.Code, appErr.Code)
	}
	if errors.Unwrap(appErr) != originalErr {
		t.Error("Expected unwrapped error to be the original error")
	}
	// Wrap 不能修改预定义错误
	if ErrStore.Err != nil {
		t.Error("Predefined error must stay unwrapped")
	}
}

func TestIs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   *AppError
		expected bool
	}{
		{"same error", ErrSessionNotFound, ErrSessionNotFound, true},
		{"wrapped same error", ErrSessionNotFound.Wrap(errors.New("wrapped")), ErrSessionNotFound, true},
		{"fmt wrapped", fmtWrap(ErrInvalidEmail), ErrInvalidEmail, true},
		{"different error", ErrInvalidPassword, ErrSessionNotFound, false},
		{"non-app error", errors.New("standard error"), ErrSessionNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.target); got != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestGetCodeAndMessage(t *testing.T) {
	if got := GetCode(ErrInvalidShortCode); got != CodeInvalidShortCode {
		t.Errorf("Expected %d, got %d", CodeInvalidShortCode, got)
	}
	if got := GetCode(errors.New("boom")); got != CodeServerError {
		t.Errorf("Expected %d, got %d", CodeServerError, got)
	}
	if got := GetMessage(errors.New("boom")); got != "服务器内部错误" {
		t.Errorf("Unexpected message '%s'", got)
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		kind Kind
	}{
		{ErrInvalidShortCode, KindValidation},
		{ErrInvalidEmail, KindValidation},
		{ErrEmptyMessage, KindValidation},
		{ErrSessionNotFound, KindNotFound},
		{ErrStore.Wrap(errors.New("down")), KindTransport},
		{ErrDispatchFailed, KindTransport},
		{ErrInvalidPassword, KindAuthentication},
		{errors.New("unknown"), KindTransport},
	}

	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.kind {
			t.Errorf("%v: expected kind %q, got %q", tt.err, tt.kind, got)
		}
	}
}

func fmtWrap(err error) error {
	return errors.Join(errors.New("context"), err)
}
