// Package widget 实现访客聊天窗口的状态机。
//
// 状态: name -> email(可跳过) -> active，恢复码入口 recover 只能从 name 进入。
// active 状态下持有且只持有一个当前会话的消息订阅。
package widget

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"sudooom.portfolio.chat/internal/feed"
	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/internal/magiclink"
	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/internal/session"
	"sudooom.portfolio.chat/internal/store"
	"sudooom.portfolio.chat/internal/thread"
	appErrors "sudooom.portfolio.chat/pkg/errors"
)

// State 窗口状态
type State string

const (
	StateName      State = "name"
	StateEmail     State = "email"
	StateEmailSent State = "email_sent"
	StateActive    State = "active"
	StateRecover   State = "recover"
)

// Notice 一次性提示，下一次成功操作后清除
type Notice struct {
	Kind    appErrors.Kind `json:"kind"`
	Code    int            `json:"code"`
	Message string         `json:"message"`
}

// SessionView 展示给访客的会话信息
type SessionView struct {
	ID        string `json:"sessionId"`
	ShortCode string `json:"shortCode"`
	UserName  string `json:"userName,omitempty"`
	Email     string `json:"email,omitempty"`
}

// View 渲染所需的全部状态
type View struct {
	State         State           `json:"state"`
	Session       SessionView     `json:"session"`
	Messages      []model.Message `json:"messages"`
	Sending       bool            `json:"sending"`
	Draft         string          `json:"draft,omitempty"`
	Notice        *Notice         `json:"notice,omitempty"`
	StripURLParam bool            `json:"stripUrlParam,omitempty"`
}

// Deps 窗口依赖
type Deps struct {
	Sessions   *session.Manager
	Messages   store.MessageStore
	Dispatcher magiclink.Dispatcher
	Local      localstore.Storage
}

// Widget 一个浏览器上的聊天窗口实例
type Widget struct {
	deps   Deps
	logger *slog.Logger

	// opMu 串行化会改变状态的操作（发送消息除外，发送通过 sending 拒绝并发）
	opMu sync.Mutex

	mu         sync.Mutex
	state      State
	session    model.Session
	stripURL   bool
	sending    bool
	draft      string
	notice     *Notice
	thread     *thread.View
	sub        *feed.Feed[[]model.Message]
	watchers   map[*feed.Feed[View]]struct{}
	closed     bool
	lastActive time.Time
}

// Open 解析会话并挂载窗口
// 已知会话直接进入 active，否则从名字引导开始
func Open(ctx context.Context, deps Deps, urlSessionRef string) (*Widget, error) {
	res, err := deps.Sessions.Resolve(ctx, deps.Local, urlSessionRef)
	if err != nil {
		return nil, err
	}

	w := &Widget{
		deps:       deps,
		logger:     slog.Default().With("component", "widget"),
		state:      StateName,
		session:    res.Session,
		stripURL:   res.StripURLParam,
		thread:     thread.NewView(),
		watchers:   make(map[*feed.Feed[View]]struct{}),
		lastActive: time.Now(),
	}

	if res.Known() {
		w.mu.Lock()
		err := w.activateLocked()
		w.mu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	w.logger.Debug("Widget opened", "session_id", res.Session.ID, "source", res.Source.String(), "state", w.state)
	return w, nil
}

// SubmitName 提交名字，写入会话记录
func (w *Widget) SubmitName(ctx context.Context, name string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	s, err := w.expect(StateName)
	if err != nil {
		return err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return w.fail(appErrors.ErrEmptyName)
	}

	s.UserName = name
	if err := w.deps.Sessions.Persist(ctx, &s); err != nil {
		return w.fail(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.session = s
	w.state = StateEmail
	w.notice = nil
	w.publishLocked()
	return nil
}

// SubmitEmail 保存邮箱并发送魔法链接
// 发送失败时停留在 email 状态，访客可重试或跳过
func (w *Widget) SubmitEmail(ctx context.Context, email string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	s, err := w.expect(StateEmail)
	if err != nil {
		return err
	}

	email = strings.TrimSpace(email)
	if !session.ValidEmail(email) {
		return w.fail(appErrors.ErrInvalidEmail)
	}

	if err := w.deps.Sessions.SetEmail(ctx, s.ID, email); err != nil {
		return w.fail(err)
	}
	s.Email = email

	w.mu.Lock()
	w.session = s
	w.mu.Unlock()

	req := magiclink.Request{Email: email, SessionID: s.ID, ShortCode: s.ShortCode}
	if err := w.deps.Dispatcher.Dispatch(ctx, req); err != nil {
		w.logger.Error("Failed to dispatch magic link", "session_id", s.ID, "error", err)
		return w.fail(appErrors.ErrDispatchFailed.Wrap(err))
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = StateEmailSent
	w.notice = nil
	w.publishLocked()
	return nil
}

// SkipEmail 跳过邮箱，直接进入聊天
func (w *Widget) SkipEmail(ctx context.Context) error {
	return w.transitionToActive(StateEmail)
}

// Continue 魔法链接已发送，进入聊天
func (w *Widget) Continue(ctx context.Context) error {
	return w.transitionToActive(StateEmailSent)
}

// StartRecovery 打开恢复码输入
func (w *Widget) StartRecovery() error {
	return w.switchState(StateName, StateRecover)
}

// CancelRecovery 返回名字引导
func (w *Widget) CancelRecovery() error {
	return w.switchState(StateRecover, StateName)
}

// Recover 通过恢复码找回会话
// 格式错误或未找到时停留在 recover 状态
func (w *Widget) Recover(ctx context.Context, code string) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	if _, err := w.expect(StateRecover); err != nil {
		return err
	}

	res, err := w.deps.Sessions.RecoverByCode(ctx, w.deps.Local, code)
	if err != nil {
		return w.fail(err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return appErrors.ErrWidgetNotOpen
	}
	w.session = res.Session
	if err := w.activateLocked(); err != nil {
		w.setNoticeLocked(err)
		w.publishLocked()
		return err
	}
	w.notice = nil
	w.publishLocked()
	return nil
}

// Send 发送访客消息
// 同一窗口同时只允许一条消息在发送中，失败时保留草稿
func (w *Widget) Send(ctx context.Context, text string) (*model.Message, error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil, appErrors.ErrWidgetNotOpen
	}
	if w.state != StateActive {
		w.mu.Unlock()
		return nil, appErrors.ErrInvalidState
	}
	if w.sending {
		w.mu.Unlock()
		return nil, appErrors.ErrSendInFlight
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		w.mu.Unlock()
		return nil, appErrors.ErrEmptyMessage
	}
	w.sending = true
	w.draft = text
	w.lastActive = time.Now()
	s := w.session
	w.publishLocked()
	w.mu.Unlock()

	msg := model.NewVisitorMessage(s.ID, s.UserName, trimmed)
	if _, err := w.deps.Messages.Append(ctx, msg); err != nil {
		w.logger.Error("Failed to send message", "session_id", s.ID, "error", err)
		appErr := appErrors.ErrStore.Wrap(err)

		w.mu.Lock()
		w.sending = false
		w.setNoticeLocked(appErr)
		w.publishLocked()
		w.mu.Unlock()
		return nil, appErr
	}

	if err := w.deps.Sessions.Touch(ctx, s.ID); err != nil {
		// 消息已写入，活跃时间下次发送时再更新
		w.logger.Warn("Failed to update last activity", "session_id", s.ID, "error", err)
	}

	w.mu.Lock()
	w.sending = false
	w.draft = ""
	w.notice = nil
	w.publishLocked()
	w.mu.Unlock()
	return msg, nil
}

// View 当前视图
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.viewLocked()
}

// State 当前状态
func (w *Widget) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Session 当前会话
func (w *Widget) Session() model.Session {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session
}

// Updates 订阅视图变化，立即推送当前视图，调用方负责 Close
func (w *Widget) Updates() *feed.Feed[View] {
	f := feed.New[View]()

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		f.Close()
		return f
	}
	w.watchers[f] = struct{}{}
	f.Push(w.viewLocked())
	w.mu.Unlock()

	f.OnClose(func() {
		w.mu.Lock()
		delete(w.watchers, f)
		w.mu.Unlock()
	})
	return f
}

// Close 卸载窗口，取消订阅
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	sub := w.sub
	w.sub = nil
	watchers := make([]*feed.Feed[View], 0, len(w.watchers))
	for f := range w.watchers {
		watchers = append(watchers, f)
	}
	w.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	for _, f := range watchers {
		f.Close()
	}
	w.logger.Debug("Widget closed", "session_id", w.session.ID)
}

// Closed 是否已卸载
func (w *Widget) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// idleSince 最后一次操作时间
func (w *Widget) idleSince() (time.Time, int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastActive, len(w.watchers)
}

func (w *Widget) transitionToActive(from State) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkLocked(from); err != nil {
		return err
	}
	if err := w.activateLocked(); err != nil {
		w.setNoticeLocked(err)
		w.publishLocked()
		return err
	}
	w.notice = nil
	w.publishLocked()
	return nil
}

func (w *Widget) switchState(from, to State) error {
	w.opMu.Lock()
	defer w.opMu.Unlock()

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkLocked(from); err != nil {
		return err
	}
	w.state = to
	w.notice = nil
	w.publishLocked()
	return nil
}

// expect 检查状态并返回当前会话的副本
func (w *Widget) expect(state State) (model.Session, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.checkLocked(state); err != nil {
		return model.Session{}, err
	}
	w.lastActive = time.Now()
	return w.session, nil
}

func (w *Widget) checkLocked(state State) error {
	if w.closed {
		return appErrors.ErrWidgetNotOpen
	}
	if w.state != state {
		return appErrors.ErrInvalidState
	}
	return nil
}

// fail 记录提示并返回错误，状态不变
func (w *Widget) fail(err error) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.setNoticeLocked(err)
	w.publishLocked()
	return err
}

// activateLocked 切换到 active 并订阅当前会话
// 旧订阅先关闭，保证任何时刻只有一个订阅
func (w *Widget) activateLocked() error {
	if w.sub != nil {
		w.sub.Close()
		w.sub = nil
	}
	w.thread.Reset()

	sub, err := w.deps.Messages.Subscribe(context.Background(), store.MessageQuery{
		SessionID: w.session.ID,
		Order:     store.Ascending,
	})
	if err != nil {
		w.logger.Error("Failed to subscribe to messages", "session_id", w.session.ID, "error", err)
		return appErrors.ErrStore.Wrap(err)
	}

	w.sub = sub
	w.state = StateActive
	go w.pump(sub)
	return nil
}

// pump 把订阅快照应用到消息列表
func (w *Widget) pump(sub *feed.Feed[[]model.Message]) {
	for snapshot := range sub.C() {
		w.mu.Lock()
		if w.sub != sub {
			w.mu.Unlock()
			return
		}
		if w.thread.Apply(snapshot) {
			w.publishLocked()
		}
		w.mu.Unlock()
	}
}

func (w *Widget) setNoticeLocked(err error) {
	w.notice = &Notice{
		Kind:    appErrors.KindOf(err),
		Code:    appErrors.GetCode(err),
		Message: appErrors.GetMessage(err),
	}
}

func (w *Widget) publishLocked() {
	if len(w.watchers) == 0 {
		return
	}
	v := w.viewLocked()
	for f := range w.watchers {
		f.Push(v)
	}
}

func (w *Widget) viewLocked() View {
	return View{
		State: w.state,
		Session: SessionView{
			ID:        w.session.ID,
			ShortCode: w.session.ShortCode,
			UserName:  w.session.UserName,
			Email:     w.session.Email,
		},
		Messages:      w.thread.Messages(),
		Sending:       w.sending,
		Draft:         w.draft,
		Notice:        w.notice,
		StripURLParam: w.stripURL,
	}
}
