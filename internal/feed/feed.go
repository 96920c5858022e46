// Package feed 提供快照订阅的基础类型。
//
// 每次变更都推送完整结果集，消费者只关心最新快照，
// 所以通道容量为 1，新快照会替换尚未被读取的旧快照。
package feed

import "sync"

// Feed 一个长期存在的快照序列，必须显式 Close
type Feed[T any] struct {
	mu      sync.Mutex
	ch      chan T
	done    chan struct{}
	closed  bool
	onClose []func()
}

// New 创建 Feed
func New[T any]() *Feed[T] {
	return &Feed[T]{
		ch:   make(chan T, 1),
		done: make(chan struct{}),
	}
}

// C 快照通道，Close 之后关闭
func (f *Feed[T]) C() <-chan T {
	return f.ch
}

// Done Close 之后关闭
func (f *Feed[T]) Done() <-chan struct{} {
	return f.done
}

// Push 推送快照，未读取的旧快照被丢弃
// 已关闭时返回 false
func (f *Feed[T]) Push(v T) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}

	select {
	case <-f.ch:
	default:
	}
	f.ch <- v
	return true
}

// OnClose 注册关闭时的清理函数，已关闭则立即执行
func (f *Feed[T]) OnClose(fn func()) {
	f.mu.Lock()
	if !f.closed {
		f.onClose = append(f.onClose, fn)
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()
	fn()
}

// Closed 是否已关闭
func (f *Feed[T]) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Close 取消订阅，可重复调用
func (f *Feed[T]) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	close(f.done)
	close(f.ch)
	hooks := f.onClose
	f.onClose = nil
	f.mu.Unlock()

	for i := len(hooks) - 1; i >= 0; i-- {
		hooks[i]()
	}
}
