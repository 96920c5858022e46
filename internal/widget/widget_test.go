package widget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.portfolio.chat/internal/localstore"
	"sudooom.portfolio.chat/internal/magiclink"
	"sudooom.portfolio.chat/internal/model"
	"sudooom.portfolio.chat/internal/session"
	"sudooom.portfolio.chat/internal/store"
	appErrors "sudooom.portfolio.chat/pkg/errors"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

// recordingDispatcher 记录发送请求，err 非空时模拟发送失败
type recordingDispatcher struct {
	mu   sync.Mutex
	sent []magiclink.Request
	err  error
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, req magiclink.Request) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, req)
	return nil
}

func (d *recordingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

// failingAppend 写入总是失败
type failingAppend struct {
	store.MessageStore
}

func (failingAppend) Append(ctx context.Context, msg *model.Message) (string, error) {
	return "", errors.New("network unreachable")
}

// blockingAppend 写入阻塞到 release 关闭
type blockingAppend struct {
	store.MessageStore
	release chan struct{}
}

func (b blockingAppend) Append(ctx context.Context, msg *model.Message) (string, error) {
	<-b.release
	return b.MessageStore.Append(ctx, msg)
}

type fixture struct {
	mem        *store.Memory
	sessions   *session.Manager
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	t.Cleanup(func() { _ = mem.Close() })
	return &fixture{
		mem:        mem,
		sessions:   session.NewManager(mem),
		dispatcher: &recordingDispatcher{},
	}
}

func (f *fixture) deps(local localstore.Storage) Deps {
	return Deps{
		Sessions:   f.sessions,
		Messages:   f.mem,
		Dispatcher: f.dispatcher,
		Local:      local,
	}
}

func (f *fixture) open(t *testing.T, local localstore.Storage, urlRef string) *Widget {
	t.Helper()
	w, err := Open(context.Background(), f.deps(local), urlRef)
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w
}

// onboard 新访客完成名字引导并跳过邮箱
func (f *fixture) onboard(t *testing.T, local localstore.Storage, name string) *Widget {
	t.Helper()
	w := f.open(t, local, "")
	require.NoError(t, w.SubmitName(context.Background(), name))
	require.NoError(t, w.SkipEmail(context.Background()))
	require.Equal(t, StateActive, w.State())
	return w
}

func waitMessages(t *testing.T, w *Widget, n int) []model.Message {
	t.Helper()
	require.Eventually(t, func() bool { return len(w.View().Messages) == n }, waitFor, tick)
	return w.View().Messages
}

func TestOpen_NewVisitorStartsAtName(t *testing.T) {
	f := newFixture(t)
	w := f.open(t, localstore.Map{}, "")

	v := w.View()
	assert.Equal(t, StateName, v.State)
	assert.True(t, session.ValidShortCode(v.Session.ShortCode))
	assert.Empty(t, v.Messages)
	assert.Equal(t, 0, f.mem.Watchers())
}

func TestNewVisitorFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	local := localstore.Map{}
	w := f.open(t, local, "")

	assert.True(t, appErrors.Is(w.SubmitName(ctx, "   "), appErrors.ErrEmptyName))
	assert.Equal(t, StateName, w.State())

	require.NoError(t, w.SubmitName(ctx, "  Ana "))
	assert.Equal(t, StateEmail, w.State())

	s, err := f.mem.GetSession(ctx, w.Session().ID)
	require.NoError(t, err)
	assert.Equal(t, "Ana", s.UserName)

	require.NoError(t, w.SkipEmail(ctx))
	assert.Equal(t, StateActive, w.State())
	assert.Equal(t, 1, f.mem.Watchers())

	msg, err := w.Send(ctx, "  hi there ")
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.Text)

	msgs := waitMessages(t, w, 1)
	assert.Equal(t, model.SenderVisitor, msgs[0].Sender)
	assert.False(t, msgs[0].Read)
	assert.Equal(t, "Ana", msgs[0].UserName)
	assert.Equal(t, s.ID, msgs[0].SessionID)
	assert.Empty(t, w.View().Draft)
}

func TestReturningVisitorSkipsOnboarding(t *testing.T) {
	f := newFixture(t)
	local := localstore.Map{}
	first := f.onboard(t, local, "Ana")
	_, err := first.Send(context.Background(), "hello")
	require.NoError(t, err)
	first.Close()
	assert.Equal(t, 0, f.mem.Watchers())

	again := f.open(t, local, "")
	assert.Equal(t, StateActive, again.State())
	assert.Equal(t, first.Session().ID, again.Session().ID)
	waitMessages(t, again, 1)
}

func TestMagicLinkAdoptsSession(t *testing.T) {
	f := newFixture(t)
	owner := f.onboard(t, localstore.Map{}, "Ana")

	other := localstore.Map{}
	w := f.open(t, other, owner.Session().ID)

	v := w.View()
	assert.Equal(t, StateActive, v.State)
	assert.True(t, v.StripURLParam)
	assert.Equal(t, owner.Session().ID, other[localstore.KeySessionID])
}

func TestAdminReplyAppears(t *testing.T) {
	f := newFixture(t)
	w := f.onboard(t, localstore.Map{}, "Ana")
	ctx := context.Background()

	_, err := w.Send(ctx, "is anyone there?")
	require.NoError(t, err)
	_, err = f.mem.Append(ctx, model.NewAdminMessage(w.Session().ID, "Sudooom", "yes!"))
	require.NoError(t, err)

	msgs := waitMessages(t, w, 2)
	assert.Equal(t, model.SenderVisitor, msgs[0].Sender)
	assert.Equal(t, model.SenderAdmin, msgs[1].Sender)
	assert.True(t, msgs[1].Read)
}

func TestSubmitEmail(t *testing.T) {
	ctx := context.Background()

	t.Run("invalid email stays without dispatch", func(t *testing.T) {
		f := newFixture(t)
		w := f.open(t, localstore.Map{}, "")
		require.NoError(t, w.SubmitName(ctx, "Ana"))

		err := w.SubmitEmail(ctx, "not-an-email")
		assert.True(t, appErrors.Is(err, appErrors.ErrInvalidEmail))
		assert.Equal(t, StateEmail, w.State())
		assert.Equal(t, 0, f.dispatcher.count())
		require.NotNil(t, w.View().Notice)
		assert.Equal(t, appErrors.KindValidation, w.View().Notice.Kind)
	})

	t.Run("dispatch then continue", func(t *testing.T) {
		f := newFixture(t)
		w := f.open(t, localstore.Map{}, "")
		require.NoError(t, w.SubmitName(ctx, "Ana"))

		require.NoError(t, w.SubmitEmail(ctx, "ana@example.com"))
		assert.Equal(t, StateEmailSent, w.State())
		assert.Nil(t, w.View().Notice)

		require.Equal(t, 1, f.dispatcher.count())
		sent := f.dispatcher.sent[0]
		assert.Equal(t, "ana@example.com", sent.Email)
		assert.Equal(t, w.Session().ID, sent.SessionID)
		assert.Equal(t, w.Session().ShortCode, sent.ShortCode)

		s, err := f.mem.GetSession(ctx, w.Session().ID)
		require.NoError(t, err)
		assert.Equal(t, "ana@example.com", s.Email)

		require.NoError(t, w.Continue(ctx))
		assert.Equal(t, StateActive, w.State())
	})

	t.Run("dispatch failure stays at email", func(t *testing.T) {
		f := newFixture(t)
		f.dispatcher.err = errors.New("smtp down")
		w := f.open(t, localstore.Map{}, "")
		require.NoError(t, w.SubmitName(ctx, "Ana"))

		err := w.SubmitEmail(ctx, "ana@example.com")
		assert.True(t, appErrors.Is(err, appErrors.ErrDispatchFailed))
		assert.Equal(t, StateEmail, w.State())

		// 仍可跳过
		require.NoError(t, w.SkipEmail(ctx))
		assert.Equal(t, StateActive, w.State())
	})
}

func TestRecovery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := f.onboard(t, localstore.Map{}, "Ana")
	_, err := owner.Send(ctx, "from laptop")
	require.NoError(t, err)
	code := owner.Session().ShortCode

	local := localstore.Map{}
	w := f.open(t, local, "")

	assert.True(t, appErrors.Is(w.Recover(ctx, code), appErrors.ErrInvalidState))

	require.NoError(t, w.StartRecovery())
	assert.Equal(t, StateRecover, w.State())

	err = w.Recover(ctx, "AB1234")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidShortCode))
	assert.Equal(t, StateRecover, w.State())

	err = w.Recover(ctx, "ZZ-0000")
	if code == "ZZ-0000" {
		t.Skip("generated code collided with the probe")
	}
	assert.True(t, appErrors.Is(err, appErrors.ErrSessionNotFound))
	assert.Equal(t, StateRecover, w.State())
	assert.Equal(t, appErrors.KindNotFound, w.View().Notice.Kind)

	require.NoError(t, w.CancelRecovery())
	assert.Equal(t, StateName, w.State())
	require.NoError(t, w.StartRecovery())

	// 小写和空白都能识别
	require.NoError(t, w.Recover(ctx, "  "+lower(code)+" "))
	assert.Equal(t, StateActive, w.State())
	assert.Equal(t, owner.Session().ID, w.Session().ID)
	assert.Equal(t, owner.Session().ID, local[localstore.KeySessionID])
	assert.Nil(t, w.View().Notice)

	msgs := waitMessages(t, w, 1)
	assert.Equal(t, "from laptop", msgs[0].Text)
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.open(t, localstore.Map{}, "")

	_, err := w.Send(ctx, "hello")
	assert.True(t, appErrors.Is(err, appErrors.ErrInvalidState))

	require.NoError(t, w.SubmitName(ctx, "Ana"))
	require.NoError(t, w.SkipEmail(ctx))

	_, err = w.Send(ctx, " \n\t ")
	assert.True(t, appErrors.Is(err, appErrors.ErrEmptyMessage))

	msgs, err := f.mem.Query(ctx, store.MessageQuery{})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestSend_SingleFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := make(chan struct{})

	local := localstore.Map{}
	w := f.onboard(t, local, "Ana")
	w.deps.Messages = blockingAppend{MessageStore: f.mem, release: release}

	done := make(chan error, 1)
	go func() {
		_, err := w.Send(ctx, "first")
		done <- err
	}()

	require.Eventually(t, func() bool { return w.View().Sending }, waitFor, tick)
	assert.Equal(t, "first", w.View().Draft)

	_, err := w.Send(ctx, "second")
	assert.True(t, appErrors.Is(err, appErrors.ErrSendInFlight))

	close(release)
	require.NoError(t, <-done)

	msgs := waitMessages(t, w, 1)
	assert.Equal(t, "first", msgs[0].Text)
	assert.False(t, w.View().Sending)
}

func TestSend_FailureKeepsDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.onboard(t, localstore.Map{}, "Ana")
	w.deps.Messages = failingAppend{MessageStore: f.mem}

	_, err := w.Send(ctx, "lost?")
	assert.True(t, appErrors.Is(err, appErrors.ErrStore))

	v := w.View()
	assert.Equal(t, "lost?", v.Draft)
	assert.False(t, v.Sending)
	require.NotNil(t, v.Notice)
	assert.Equal(t, appErrors.KindTransport, v.Notice.Kind)
	assert.Equal(t, StateActive, v.State)

	// 恢复后可以重试
	w.deps.Messages = f.mem
	_, err = w.Send(ctx, v.Draft)
	require.NoError(t, err)
	assert.Empty(t, w.View().Draft)
	assert.Nil(t, w.View().Notice)
}

func TestSend_TouchesSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.onboard(t, localstore.Map{}, "Ana")

	before, err := f.mem.GetSession(ctx, w.Session().ID)
	require.NoError(t, err)

	time.Sleep(2 * time.Millisecond)
	_, err = w.Send(ctx, "ping")
	require.NoError(t, err)

	after, err := f.mem.GetSession(ctx, w.Session().ID)
	require.NoError(t, err)
	assert.True(t, after.LastActivity.After(before.LastActivity))
}

func TestSingleSubscription(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	other := f.onboard(t, localstore.Map{}, "Luis")
	other.Close()

	w := f.onboard(t, localstore.Map{}, "Ana")
	assert.Equal(t, 1, f.mem.Watchers())

	// 活跃状态下不能再进入恢复，先回到新窗口
	fresh := f.open(t, localstore.Map{}, "")
	require.NoError(t, fresh.StartRecovery())
	require.NoError(t, fresh.Recover(ctx, other.Session().ShortCode))
	assert.Equal(t, 2, f.mem.Watchers())

	w.Close()
	w.Close()
	fresh.Close()
	assert.Equal(t, 0, f.mem.Watchers())

	_, err := w.Send(ctx, "after close")
	assert.True(t, appErrors.Is(err, appErrors.ErrWidgetNotOpen))
}

func TestUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	w := f.open(t, localstore.Map{}, "")

	updates := w.Updates()
	defer updates.Close()

	v := <-updates.C()
	assert.Equal(t, StateName, v.State)

	require.NoError(t, w.SubmitName(ctx, "Ana"))
	v = <-updates.C()
	assert.Equal(t, StateEmail, v.State)

	w.Close()
	_, open := <-updates.C()
	assert.False(t, open)
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	locals := localstore.NewMemory()
	r := NewRegistry(f.sessions, f.mem, f.dispatcher, locals)
	ctx := context.Background()

	_, err := r.Get("device-1")
	assert.True(t, appErrors.Is(err, appErrors.ErrWidgetNotOpen))

	w1, err := r.Open(ctx, "device-1", "")
	require.NoError(t, err)
	require.NoError(t, w1.SubmitName(ctx, "Ana"))
	require.NoError(t, w1.SkipEmail(ctx))
	assert.Equal(t, 1, f.mem.Watchers())

	// 重新打开先卸载旧窗口
	w2, err := r.Open(ctx, "device-1", "")
	require.NoError(t, err)
	assert.True(t, w1.Closed())
	assert.Equal(t, StateActive, w2.State())
	assert.Equal(t, w1.Session().ID, w2.Session().ID)
	assert.Equal(t, 1, f.mem.Watchers())

	got, err := r.Get("device-1")
	require.NoError(t, err)
	assert.Same(t, w2, got)

	_, err = r.Open(ctx, "device-2", "")
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	r.Close("device-1")
	assert.True(t, w2.Closed())
	assert.Equal(t, 0, f.mem.Watchers())

	assert.Equal(t, 1, r.Sweep(0))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_SweepKeepsWatchedWidgets(t *testing.T) {
	f := newFixture(t)
	r := NewRegistry(f.sessions, f.mem, f.dispatcher, localstore.NewMemory())

	w, err := r.Open(context.Background(), "device-1", "")
	require.NoError(t, err)
	updates := w.Updates()
	defer updates.Close()

	assert.Equal(t, 0, r.Sweep(0))
	assert.Equal(t, 1, r.Len())

	updates.Close()
	assert.Equal(t, 1, r.Sweep(0))
}
