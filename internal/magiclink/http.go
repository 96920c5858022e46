package magiclink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Result 发送接口的响应体
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HTTPDispatcher 调用远端发送接口
type HTTPDispatcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPDispatcher 创建远端发送器
func NewHTTPDispatcher(endpoint string, timeout time.Duration) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPDispatcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Dispatch POST {email, sessionId, shortCode}，非 200 视为失败
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to call magic link endpoint: %w", err)
	}
	defer resp.Body.Close()

	var result Result
	_ = json.NewDecoder(resp.Body).Decode(&result)

	if resp.StatusCode != http.StatusOK || !result.Success {
		return fmt.Errorf("magic link endpoint returned %d: %s", resp.StatusCode, result.Error)
	}
	return nil
}
