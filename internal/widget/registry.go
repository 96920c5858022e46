package widget

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/internal/magiclink"
	"sudooom.portfolio.chat/internal/session"
	"sudooom.portfolio.chat/internal/store"
	appErrors "sudooom.portfolio.chat/pkg/errors"
)

// Registry 按设备ID管理已挂载的窗口
// 每个设备同时只有一个窗口，重新打开会先卸载旧窗口
type Registry struct {
	sessions   *session.Manager
	messages   store.MessageStore
	dispatcher magiclink.Dispatcher
	locals     localstore.Provider
	logger     *slog.Logger

	mu      sync.Mutex
	widgets map[string]*Widget
}

// NewRegistry 创建窗口注册表
func NewRegistry(sessions *session.Manager, messages store.MessageStore, dispatcher magiclink.Dispatcher, locals localstore.Provider) *Registry {
	return &Registry{
		sessions:   sessions,
		messages:   messages,
		dispatcher: dispatcher,
		locals:     locals,
		logger:     slog.Default().With("component", "widget_registry"),
		widgets:    make(map[string]*Widget),
	}
}

// Open 为设备挂载窗口
func (r *Registry) Open(ctx context.Context, deviceID, urlSessionRef string) (*Widget, error) {
	r.Close(deviceID)

	w, err := Open(ctx, Deps{
		Sessions:   r.sessions,
		Messages:   r.messages,
		Dispatcher: r.dispatcher,
		Local:      r.locals.ForDevice(deviceID),
	}, urlSessionRef)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	old := r.widgets[deviceID]
	r.widgets[deviceID] = w
	r.mu.Unlock()

	// 并发打开时后到者胜出
	if old != nil {
		old.Close()
	}
	return w, nil
}

// Get 返回设备当前的窗口
func (r *Registry) Get(deviceID string) (*Widget, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, ok := r.widgets[deviceID]
	if !ok || w.Closed() {
		return nil, appErrors.ErrWidgetNotOpen
	}
	return w, nil
}

// Close 卸载设备的窗口
func (r *Registry) Close(deviceID string) {
	r.mu.Lock()
	w := r.widgets[deviceID]
	delete(r.widgets, deviceID)
	r.mu.Unlock()

	if w != nil {
		w.Close()
	}
}

// Len 已挂载的窗口数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.widgets)
}

// Sweep 卸载超过 idle 没有操作且没有推送连接的窗口，返回卸载数量
func (r *Registry) Sweep(idle time.Duration) int {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	var stale []*Widget
	for deviceID, w := range r.widgets {
		last, watchers := w.idleSince()
		if watchers == 0 && last.Before(cutoff) {
			stale = append(stale, w)
			delete(r.widgets, deviceID)
		}
	}
	r.mu.Unlock()

	for _, w := range stale {
		w.Close()
	}
	if len(stale) > 0 {
		r.logger.Info("Idle widgets unmounted", "count", len(stale))
	}
	return len(stale)
}

// Run 定期清理空闲窗口，ctx 结束时卸载全部窗口
func (r *Registry) Run(ctx context.Context, interval, idle time.Duration) {
	if interval <= 0 || idle <= 0 {
		<-ctx.Done()
		r.CloseAll()
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			r.Sweep(idle)
		}
	}
}

// CloseAll 卸载全部窗口
func (r *Registry) CloseAll() {
	r.mu.Lock()
	widgets := r.widgets
	r.widgets = make(map[string]*Widget)
	r.mu.Unlock()

	for _, w := range widgets {
		w.Close()
	}
}
