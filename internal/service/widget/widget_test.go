package widget

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/troikatech/chatwidget/internal/model/chat"
	widgetmodel "github.com/troikatech/chatwidget/internal/model/widget"
	chatservice "github.com/troikatech/chatwidget/internal/service/chat"
	"github.com/troikatech/chatwidget/internal/service/session"
)

type fakeGateway struct {
	mu        sync.Mutex
	creates   int
	ended     []string
	sent      []chat.SendRequest
	config    *widgetmodel.Config
	configErr error
	createErr error

	// sendStarted and sendBlock, when set, hold SendMessage until released.
	sendStarted chan struct{}
	sendBlock   chan struct{}
	sendErr     error
}

func (g *fakeGateway) CreateSession(ctx context.Context, projectID string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates++
	if g.createErr != nil {
		return "", g.createErr
	}
	return "sess-" + projectID, nil
}

func (g *fakeGateway) EndSession(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ended = append(g.ended, sessionID)
	return nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, req chat.SendRequest) (chat.Reply, error) {
	g.mu.Lock()
	g.sent = append(g.sent, req)
	started, block, sendErr := g.sendStarted, g.sendBlock, g.sendErr
	g.mu.Unlock()

	if started != nil {
		close(started)
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return chat.Reply{}, ctx.Err()
		}
	}
	if sendErr != nil {
		return chat.Reply{}, sendErr
	}
	return chat.Reply{Message: "We are open 9 to 5.", Sources: []string{"hours.md"}}, nil
}

func (g *fakeGateway) SessionHistory(ctx context.Context, sessionID string) ([]chat.Message, error) {
	return []chat.Message{{ID: 1, Text: "hi", Sender: chat.SenderUser}}, nil
}

func (g *fakeGateway) ProjectConfig(ctx context.Context, projectID string) (widgetmodel.Config, error) {
	if g.configErr != nil {
		return widgetmodel.Config{}, g.configErr
	}
	if g.config != nil {
		return *g.config, nil
	}
	return widgetmodel.Default(), nil
}

type queuedScheduler struct {
	mu     sync.Mutex
	queued []*queuedTimer
}

type queuedTimer struct {
	s       *queuedScheduler
	delay   time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (t *queuedTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (s *queuedScheduler) AfterFunc(d time.Duration, f func()) chatservice.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &queuedTimer{s: s, delay: d, f: f}
	s.queued = append(s.queued, t)
	return t
}

func (s *queuedScheduler) run() int {
	s.mu.Lock()
	var due []func()
	for _, t := range s.queued {
		if !t.stopped && !t.fired {
			t.fired = true
			due = append(due, t.f)
		}
	}
	s.mu.Unlock()
	for _, f := range due {
		f()
	}
	return len(due)
}

func mountTestWidget(t *testing.T, gw *fakeGateway, cfg *widgetmodel.Config) (*Widget, *queuedScheduler) {
	t.Helper()
	sched := &queuedScheduler{}
	w, err := Mount(context.Background(), Options{
		ProjectID:   "proj_42",
		Config:      cfg,
		Gateway:     gw,
		TypingDelay: chatservice.DefaultTypingDelay,
		Scheduler:   sched,
	})
	require.NoError(t, err)
	t.Cleanup(w.Close)
	return w, sched
}

func TestWidgetConversationScenario(t *testing.T) {
	gw := &fakeGateway{}
	w, sched := mountTestWidget(t, gw, nil)
	require.Equal(t, chat.StateUninitialized, w.Session().State)

	require.NoError(t, w.Open(context.Background()))
	sess := w.Session()
	require.Equal(t, chat.StateActive, sess.State)
	require.Equal(t, "sess-proj_42", sess.SessionID)

	_, err := w.Send(context.Background(), "What are your hours?")
	require.NoError(t, err)
	require.True(t, w.Typing())
	require.Equal(t, 1, sched.run())

	msgs := w.Messages()
	require.Len(t, msgs, 3)
	require.Equal(t, widgetmodel.DefaultWelcomeMessage, msgs[0].Text)
	require.Equal(t, chat.SenderBot, msgs[0].Sender)
	require.Equal(t, "What are your hours?", msgs[1].Text)
	require.Equal(t, chat.SenderUser, msgs[1].Sender)
	require.Equal(t, chat.SenderBot, msgs[2].Sender)
	require.Equal(t, []string{"hours.md"}, msgs[2].SourceTags())
	require.Less(t, msgs[0].ID, msgs[1].ID)
	require.Less(t, msgs[1].ID, msgs[2].ID)

	require.Equal(t, []chat.SendRequest{{SessionID: "sess-proj_42", ProjectID: "proj_42", Message: "What are your hours?"}}, gw.sent)
}

func TestWidgetEventsReachSubscribers(t *testing.T) {
	w, sched := mountTestWidget(t, &fakeGateway{}, nil)

	var mu sync.Mutex
	var got []chat.EventType
	unsubscribe := w.Subscribe(func(ev chat.Event) {
		mu.Lock()
		got = append(got, ev.Type)
		mu.Unlock()
	})

	require.NoError(t, w.Open(context.Background()))
	_, err := w.Send(context.Background(), "hi")
	require.NoError(t, err)
	sched.run()
	unsubscribe()
	_, err = w.Send(context.Background(), "after unsubscribe")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []chat.EventType{
		chat.EventState, chat.EventState, chat.EventMessage,
		chat.EventMessage, chat.EventTyping,
		chat.EventMessage, chat.EventTyping,
	}, got)
}

func TestWidgetUsesProjectConfigWhenNoneGiven(t *testing.T) {
	cfg := widgetmodel.Default()
	cfg.WelcomeMessage = "Hi from the project"
	w, _ := mountTestWidget(t, &fakeGateway{config: &cfg}, nil)
	require.Equal(t, "Hi from the project", w.Config().WelcomeMessage)

	w2, _ := mountTestWidget(t, &fakeGateway{configErr: errors.New("down")}, nil)
	require.Equal(t, widgetmodel.Default(), w2.Config())
}

func TestWidgetRejectsInvalidConfig(t *testing.T) {
	cfg := widgetmodel.Default()
	cfg.Theme = "neon"
	_, err := Mount(context.Background(), Options{ProjectID: "proj_42", Config: &cfg, Gateway: &fakeGateway{}})
	require.ErrorIs(t, err, widgetmodel.ErrInvalidTheme)

	_, err = Mount(context.Background(), Options{Gateway: &fakeGateway{}})
	require.ErrorIs(t, err, session.ErrProjectRequired)
}

func TestWidgetAutoOpenAfterTriggerDelay(t *testing.T) {
	cfg := widgetmodel.Default()
	cfg.AutoOpen = true
	cfg.TriggerDelayMs = 1500
	gw := &fakeGateway{}
	w, sched := mountTestWidget(t, gw, &cfg)

	require.Equal(t, chat.StateUninitialized, w.Session().State)
	require.Len(t, sched.queued, 1)
	require.Equal(t, 1500*time.Millisecond, sched.queued[0].delay)

	sched.run()
	require.Equal(t, chat.StateActive, w.Session().State)
	require.Equal(t, 1, gw.creates)
}

func TestWidgetCloseStopsAutoOpenAndPendingReplies(t *testing.T) {
	cfg := widgetmodel.Default()
	cfg.AutoOpen = true
	gw := &fakeGateway{}
	w, sched := mountTestWidget(t, gw, &cfg)

	w.Close()
	require.Zero(t, sched.run())
	require.Zero(t, gw.creates)

	_, err := w.Send(context.Background(), "hi")
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, w.Open(context.Background()), ErrClosed)
}

func TestWidgetEndCancelsPendingReply(t *testing.T) {
	gw := &fakeGateway{}
	w, sched := mountTestWidget(t, gw, nil)
	require.NoError(t, w.Open(context.Background()))

	reply, err := w.Send(context.Background(), "hi")
	require.NoError(t, err)

	require.NoError(t, w.End(context.Background()))
	require.Zero(t, sched.run())
	require.Len(t, w.Messages(), 2)
	require.Equal(t, chat.StateEnded, w.Session().State)
	require.Equal(t, []string{"sess-proj_42"}, gw.ended)

	_, err = reply.Wait(context.Background())
	require.ErrorIs(t, err, chatservice.ErrReplyCanceled)

	_, err = w.Send(context.Background(), "again")
	require.ErrorIs(t, err, chatservice.ErrSessionNotActive)
}

func TestWidgetEndDropsReplyOfOutstandingSend(t *testing.T) {
	gw := &fakeGateway{sendStarted: make(chan struct{}), sendBlock: make(chan struct{})}
	w, sched := mountTestWidget(t, gw, nil)
	require.NoError(t, w.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := w.Send(context.Background(), "hi")
		done <- err
	}()
	<-gw.sendStarted

	require.NoError(t, w.End(context.Background()))
	close(gw.sendBlock)

	err := <-done
	require.ErrorIs(t, err, chatservice.ErrReplyCanceled)
	kind, _ := Classify(err)
	require.Equal(t, KindValidation, kind)

	require.Zero(t, sched.run())
	msgs := w.Messages()
	require.Len(t, msgs, 2)
	require.Equal(t, chat.SenderBot, msgs[0].Sender)
	require.Equal(t, chat.SenderUser, msgs[1].Sender)
	require.Equal(t, chat.StateEnded, w.Session().State)
	require.False(t, w.Typing())
	require.Empty(t, w.Error())
}

func TestWidgetCloseDuringSendIsNotASendFailure(t *testing.T) {
	gw := &fakeGateway{
		sendStarted: make(chan struct{}),
		sendBlock:   make(chan struct{}),
		sendErr:     errors.New("connection reset"),
	}
	w, sched := mountTestWidget(t, gw, nil)
	require.NoError(t, w.Open(context.Background()))

	done := make(chan error, 1)
	go func() {
		_, err := w.Send(context.Background(), "hi")
		done <- err
	}()
	<-gw.sendStarted

	w.Close()

	err := <-done
	require.ErrorIs(t, err, chatservice.ErrPipelineClosed)
	kind, _ := Classify(err)
	require.Equal(t, KindClosed, kind)

	require.Empty(t, w.Error())
	require.Zero(t, sched.run())
	require.Len(t, w.Messages(), 2)
	close(gw.sendBlock)
}

func TestWidgetErrorBanner(t *testing.T) {
	gw := &fakeGateway{createErr: errors.New("503")}
	w, _ := mountTestWidget(t, gw, nil)

	err := w.Open(context.Background())
	require.Error(t, err)
	require.Equal(t, session.InitFailedMessage, w.Error())

	kind, msg := Classify(err)
	require.Equal(t, KindSessionInit, kind)
	require.Equal(t, session.InitFailedMessage, msg)
}

func TestWidgetHistoryRequiresSession(t *testing.T) {
	w, _ := mountTestWidget(t, &fakeGateway{}, nil)

	_, err := w.History(context.Background())
	require.ErrorIs(t, err, chatservice.ErrSessionNotActive)

	require.NoError(t, w.Open(context.Background()))
	msgs, err := w.History(context.Background())
	require.NoError(t, err)
	require.Len(t, msgs, 1)
}

func TestClassify(t *testing.T) {
	kind, _ := Classify(chatservice.ErrEmptyMessage)
	require.Equal(t, KindValidation, kind)

	kind, msg := Classify(&chatservice.SendError{Err: errors.New("x")})
	require.Equal(t, KindSend, kind)
	require.Equal(t, chatservice.SendFailedMessage, msg)

	kind, _ = Classify(ErrClosed)
	require.Equal(t, KindClosed, kind)

	kind, _ = Classify(errors.New("mystery"))
	require.Equal(t, KindInternal, kind)
}
