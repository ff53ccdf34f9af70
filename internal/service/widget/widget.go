package widget

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/troikatech/chatwidget/internal/metrics"
	"github.com/troikatech/chatwidget/internal/model/chat"
	widgetmodel "github.com/troikatech/chatwidget/internal/model/widget"
	chatservice "github.com/troikatech/chatwidget/internal/service/chat"
	"github.com/troikatech/chatwidget/internal/service/session"
)

var ErrClosed = errors.New("widget is closed")

// Gateway is the backend surface a widget needs.
type Gateway interface {
	session.Gateway
	chatservice.MessageSender
	SessionHistory(ctx context.Context, sessionID string) ([]chat.Message, error)
	ProjectConfig(ctx context.Context, projectID string) (widgetmodel.Config, error)
}

// Options configures Mount.
type Options struct {
	ProjectID string

	// Config is used as given; when nil the project's backend config seeds
	// the widget, falling back to the defaults.
	Config *widgetmodel.Config

	Gateway Gateway

	// TypingDelay is passed to the pipeline: zero means
	// chatservice.DefaultTypingDelay, negative means no delay.
	TypingDelay      time.Duration
	ReleaseLockEarly bool
	Scheduler        chatservice.Scheduler
	Metrics          *metrics.Metrics
}

// Listener observes widget events. It runs on the goroutine that caused the
// change and must not block.
type Listener func(chat.Event)

// Widget is one embedded chat instance bound to a single session.
type Widget struct {
	id         string
	projectID  string
	cfg        widgetmodel.Config
	gateway    Gateway
	transcript *chatservice.Transcript
	session    *session.Manager
	pipeline   *chatservice.Pipeline

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	listeners    map[int]Listener
	nextListener int
	autoOpen     chatservice.Timer
	closed       bool
}

// Mount creates a widget for opts.ProjectID in the Uninitialized state. When
// the config asks for auto-open, Open is scheduled after its trigger delay.
func Mount(ctx context.Context, opts Options) (*Widget, error) {
	if opts.ProjectID == "" {
		return nil, session.ErrProjectRequired
	}
	if opts.Gateway == nil {
		return nil, session.ErrGatewayRequired
	}

	cfg := resolveConfig(ctx, opts)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = chatservice.RealScheduler
	}

	w := &Widget{
		id:         uuid.NewString(),
		projectID:  opts.ProjectID,
		cfg:        cfg,
		gateway:    opts.Gateway,
		transcript: chatservice.NewTranscript(),
		listeners:  make(map[int]Listener),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	mgr, err := session.NewManager(session.Options{
		ProjectID:      opts.ProjectID,
		WelcomeMessage: cfg.WelcomeMessage,
		Gateway:        opts.Gateway,
		Transcript:     w.transcript,
		Notify:         w.emit,
		Metrics:        opts.Metrics,
		BaseContext:    w.ctx,
	})
	if err != nil {
		w.cancel()
		return nil, err
	}
	w.session = mgr

	w.pipeline = chatservice.NewPipeline(chatservice.Options{
		Transcript:       w.transcript,
		Sender:           opts.Gateway,
		Session:          mgr,
		TypingDelay:      opts.TypingDelay,
		ReleaseLockEarly: opts.ReleaseLockEarly,
		Scheduler:        scheduler,
		Notify:           w.emit,
		Metrics:          opts.Metrics,
	})

	if cfg.AutoOpen {
		delay := time.Duration(cfg.TriggerDelayMs) * time.Millisecond
		w.autoOpen = scheduler.AfterFunc(delay, func() {
			if err := w.Open(w.ctx); err != nil && !errors.Is(err, ErrClosed) {
				log.Warn().Err(err).Str("component", "widget").Str("widget_id", w.id).Msg("auto-open failed")
			}
		})
	}

	log.Debug().
		Str("component", "widget").
		Str("widget_id", w.id).
		Str("project_id", w.projectID).
		Bool("auto_open", cfg.AutoOpen).
		Msg("widget mounted")
	return w, nil
}

func resolveConfig(ctx context.Context, opts Options) widgetmodel.Config {
	if opts.Config != nil {
		return *opts.Config
	}
	cfg, err := opts.Gateway.ProjectConfig(ctx, opts.ProjectID)
	if err != nil {
		log.Warn().Err(err).
			Str("component", "widget").
			Str("project_id", opts.ProjectID).
			Msg("project config unavailable, using defaults")
		return widgetmodel.Default()
	}
	return cfg
}

// ID identifies this widget instance.
func (w *Widget) ID() string { return w.id }

// ProjectID returns the project the widget is bound to.
func (w *Widget) ProjectID() string { return w.projectID }

// Config returns the configuration the widget was mounted with.
func (w *Widget) Config() widgetmodel.Config { return w.cfg }

// Open starts the session if needed. See session.Manager.Open.
func (w *Widget) Open(ctx context.Context) error {
	if w.isClosed() {
		return ErrClosed
	}
	callCtx, cancel := w.bind(ctx)
	defer cancel()
	return w.session.Open(callCtx)
}

// Send submits text through the message pipeline.
func (w *Widget) Send(ctx context.Context, text string) (*chatservice.Reply, error) {
	if w.isClosed() {
		return nil, ErrClosed
	}
	callCtx, cancel := w.bind(ctx)
	defer cancel()
	return w.pipeline.Send(callCtx, text)
}

// End terminates the session and cancels pending replies. Replies whose
// backend call is still running are dropped once it returns.
func (w *Widget) End(ctx context.Context) error {
	err := w.session.End(ctx)
	w.pipeline.CancelPending()
	return err
}

// History fetches the backend transcript of the current session.
func (w *Widget) History(ctx context.Context) ([]chat.Message, error) {
	sess := w.session.Session()
	if sess.SessionID == "" {
		return nil, chatservice.ErrSessionNotActive
	}
	return w.gateway.SessionHistory(ctx, sess.SessionID)
}

// Close tears the widget down: the auto-open timer and pending replies are
// canceled and in-flight calls see their context canceled. The backend
// session is left as is; call End first to terminate it.
func (w *Widget) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	if w.autoOpen != nil {
		w.autoOpen.Stop()
	}
	w.mu.Unlock()

	w.pipeline.Close()
	w.cancel()
	log.Debug().Str("component", "widget").Str("widget_id", w.id).Msg("widget closed")
}

// Messages returns the transcript in insertion order.
func (w *Widget) Messages() []chat.Message { return w.transcript.Messages() }

// Session returns a snapshot of the session.
func (w *Widget) Session() chat.Session { return w.session.Session() }

// Typing reports whether a bot reply is pending.
func (w *Widget) Typing() bool { return w.pipeline.Typing() }

// InFlight reports whether the send lock is held.
func (w *Widget) InFlight() bool { return w.pipeline.InFlight() }

// Error returns the banner text to show, empty when there is none.
func (w *Widget) Error() string {
	if msg := w.pipeline.Err(); msg != "" {
		return msg
	}
	return w.session.Err()
}

// Subscribe registers l for future events and returns a function removing it.
func (w *Widget) Subscribe(l Listener) func() {
	w.mu.Lock()
	id := w.nextListener
	w.nextListener++
	w.listeners[id] = l
	w.mu.Unlock()

	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

func (w *Widget) emit(ev chat.Event) {
	w.mu.Lock()
	listeners := make([]Listener, 0, len(w.listeners))
	for _, l := range w.listeners {
		listeners = append(listeners, l)
	}
	w.mu.Unlock()

	for _, l := range listeners {
		l(ev)
	}
}

func (w *Widget) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// bind derives a context that is also canceled when the widget closes.
func (w *Widget) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	callCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(w.ctx, cancel)
	return callCtx, func() {
		stop()
		cancel()
	}
}
