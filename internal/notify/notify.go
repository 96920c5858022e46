// Package notify 在写入方与订阅方之间传递"集合已变更"事件。
// 订阅方收到事件后重新查询，得到完整快照。
package notify

import (
	"context"
	"sync"
)

// Handler 变更回调，参数为集合名称
type Handler func(collection string)

// Notifier 变更通知
type Notifier interface {
	Publish(ctx context.Context, collection string) error
	Subscribe(handler Handler) (unsubscribe func(), err error)
	Close()
}

// Local 进程内通知，同步回调
type Local struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler
}

// NewLocal 创建进程内通知
func NewLocal() *Local {
	return &Local{handlers: make(map[int]Handler)}
}

// Publish 通知所有订阅者
func (l *Local) Publish(ctx context.Context, collection string) error {
	l.mu.RLock()
	handlers := make([]Handler, 0, len(l.handlers))
	for _, h := range l.handlers {
		handlers = append(handlers, h)
	}
	l.mu.RUnlock()

	for _, h := range handlers {
		h(collection)
	}
	return nil
}

// Subscribe 注册回调
func (l *Local) Subscribe(handler Handler) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextID++
	id := l.nextID
	l.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.handlers, id)
			l.mu.Unlock()
		})
	}, nil
}

// Close 移除所有回调
func (l *Local) Close() {
	l.mu.Lock()
	l.handlers = make(map[int]Handler)
	l.mu.Unlock()
}
