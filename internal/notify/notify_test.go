package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_PublishSubscribe(t *testing.T) {
	n := NewLocal()
	defer n.Close()

	var got []string
	unsubscribe, err := n.Subscribe(func(collection string) {
		got = append(got, collection)
	})
	require.NoError(t, err)

	require.NoError(t, n.Publish(context.Background(), "messages"))
	unsubscribe()
	unsubscribe()
	require.NoError(t, n.Publish(context.Background(), "sessions"))

	assert.Equal(t, []string{"messages"}, got)
}

func TestBuildChangesSubject(t *testing.T) {
	assert.Equal(t, "chat.changes.messages", BuildChangesSubject("messages"))
}

// 需要运行中的 NATS，否则跳过
func TestNATS_PublishSubscribe(t *testing.T) {
	n, err := Connect(Config{URL: nats.DefaultURL, MaxReconnects: 0, ReconnectWait: time.Second})
	if err != nil {
		t.Skipf("跳过测试：无法连接 NATS: %v", err)
	}
	defer n.Close()

	var (
		mu  sync.Mutex
		got []string
	)
	received := make(chan struct{}, 1)
	unsubscribe, err := n.Subscribe(func(collection string) {
		mu.Lock()
		got = append(got, collection)
		mu.Unlock()
		received <- struct{}{}
	})
	require.NoError(t, err)
	defer unsubscribe()

	require.NoError(t, n.Conn().Flush())
	require.NoError(t, n.Publish(context.Background(), "messages"))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("change event not received")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"messages"}, got)
}
