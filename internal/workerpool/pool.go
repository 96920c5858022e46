// Package workerpool 有界的后台写入池。
//
// 管理员打开会话时每个快照都可能包含同一批未读消息，
// 带 key 的任务在执行完成前不会重复入队。
package workerpool

import (
	"context"
	"log/slog"
	"sync"
)

// Task 任务函数，ctx 在 Shutdown 超时后取消
type Task func(ctx context.Context)

type job struct {
	key  string
	task Task
}

// Pool 固定数量 worker 的任务池
type Pool struct {
	workers int
	queue   chan job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger

	// sendMu 保护队列的写入与关闭
	sendMu  sync.RWMutex
	stopped bool

	mu       sync.Mutex
	closed   bool
	inflight map[string]struct{}
}

// New 创建任务池
// workers: worker 数量
// queueSize: 队列长度
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		workers:  workers,
		queue:    make(chan job, queueSize),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}

	for i := 0; i < workers; i++ {
		pool.wg.Add(1)
		go pool.worker(i)
	}

	pool.logger.Info("Worker pool started",
		"workers", workers,
		"queue_size", queueSize)

	return pool
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for j := range p.queue {
		p.run(id, j)
	}
}

// run 执行任务，捕获 panic
func (p *Pool) run(id int, j job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panic recovered",
				"worker_id", id,
				"key", j.key,
				"panic", r)
		}
		if j.key != "" {
			p.mu.Lock()
			delete(p.inflight, j.key)
			p.mu.Unlock()
		}
	}()
	j.task(p.ctx)
}

// Submit 提交任务，队列满时阻塞
// 已关闭返回 false
func (p *Pool) Submit(task Task) bool {
	return p.enqueue(job{task: task}, true)
}

// TrySubmit 提交任务，队列满时立即返回 false
func (p *Pool) TrySubmit(task Task) bool {
	return p.enqueue(job{task: task}, false)
}

// SubmitKeyed 同一 key 的任务尚未完成时直接返回 true，不重复入队
func (p *Pool) SubmitKeyed(key string, task Task) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}
	if _, ok := p.inflight[key]; ok {
		p.mu.Unlock()
		return true
	}
	p.inflight[key] = struct{}{}
	p.mu.Unlock()

	if p.enqueue(job{key: key, task: task}, false) {
		return true
	}

	p.mu.Lock()
	delete(p.inflight, key)
	p.mu.Unlock()
	return false
}

// Pending 已入队或执行中的带 key 任务数
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}

// enqueue 持有 sendMu 读锁期间发送，Shutdown 取写锁后才关闭队列
func (p *Pool) enqueue(j job, block bool) bool {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()

	if p.stopped {
		return false
	}
	if block {
		p.queue <- j
		return true
	}

	select {
	case p.queue <- j:
		return true
	default:
		p.logger.Warn("Worker pool queue full, task dropped", "key", j.key)
		return false
	}
}

// Shutdown 停止接收任务，等待队列中的任务执行完
// ctx 结束时取消仍在执行的任务
func (p *Pool) Shutdown(ctx context.Context) {
	p.sendMu.Lock()
	if p.stopped {
		p.sendMu.Unlock()
		return
	}
	p.stopped = true
	close(p.queue)
	p.sendMu.Unlock()

	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
	p.logger.Info("Worker pool shutdown completed")
}
