package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/troikatech/chatwidget/internal/metrics"
	"github.com/troikatech/chatwidget/internal/model/chat"
	chatservice "github.com/troikatech/chatwidget/internal/service/chat"
)

var (
	ErrProjectRequired   = errors.New("project id is required")
	ErrGatewayRequired   = errors.New("session gateway is required")
	ErrSessionEnded      = errors.New("chat session has ended")
	ErrInvalidTransition = errors.New("invalid session transition")
	errEmptySessionID    = errors.New("backend returned an empty session id")
)

// InitFailedMessage is the banner shown when create-session fails.
const InitFailedMessage = "Failed to start chat session"

// Gateway is the part of the backend the lifecycle depends on.
type Gateway interface {
	CreateSession(ctx context.Context, projectID string) (string, error)
	EndSession(ctx context.Context, sessionID string) error
}

// InitError reports a failed create-session call. Open may be retried.
type InitError struct {
	ProjectID string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("create session for project %s: %v", e.ProjectID, e.Err)
}

func (e *InitError) Unwrap() error { return e.Err }

// UserMessage is the text shown in the widget error banner.
func (e *InitError) UserMessage() string { return InitFailedMessage }

// Options configures a Manager.
type Options struct {
	ProjectID      string
	WelcomeMessage string
	Gateway        Gateway
	Transcript     *chatservice.Transcript
	Notify         chat.Notifier
	Metrics        *metrics.Metrics

	// BaseContext bounds the shared create-session call. Canceling one
	// waiting caller does not abort it; canceling BaseContext does.
	BaseContext context.Context
}

// Manager owns the session state machine of one widget instance:
//
//	Uninitialized -> Initializing -> Active -> Ended
//	                 Initializing -> Error -> Initializing (retry via Open)
type Manager struct {
	projectID  string
	welcome    string
	gateway    Gateway
	transcript *chatservice.Transcript
	notify     chat.Notifier
	metrics    *metrics.Metrics
	base       context.Context

	group singleflight.Group

	mu      sync.RWMutex
	session chat.Session
	lastErr string
}

// NewManager creates a manager in StateUninitialized.
func NewManager(opts Options) (*Manager, error) {
	if opts.ProjectID == "" {
		return nil, ErrProjectRequired
	}
	if opts.Gateway == nil {
		return nil, ErrGatewayRequired
	}
	transcript := opts.Transcript
	if transcript == nil {
		transcript = chatservice.NewTranscript()
	}
	base := opts.BaseContext
	if base == nil {
		base = context.Background()
	}

	return &Manager{
		projectID:  opts.ProjectID,
		welcome:    opts.WelcomeMessage,
		gateway:    opts.Gateway,
		transcript: transcript,
		notify:     opts.Notify,
		metrics:    opts.Metrics,
		base:       base,
		session: chat.Session{
			ProjectID: opts.ProjectID,
			State:     chat.StateUninitialized,
			CreatedAt: time.Now().UTC(),
		},
	}, nil
}

// Open creates the backend session on first use. It is a no-op while the
// session is active; concurrent calls during initialization share the single
// create-session request. A caller whose ctx is done stops waiting while the
// shared request keeps running for the others. After a failure Open may be
// called again.
func (m *Manager) Open(ctx context.Context) error {
	switch m.State() {
	case chat.StateActive:
		return nil
	case chat.StateEnded:
		return ErrSessionEnded
	}

	ch := m.group.DoChan(m.projectID, func() (any, error) {
		callCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		defer cancel()
		stop := context.AfterFunc(m.base, cancel)
		defer stop()
		return nil, m.open(callCtx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) open(ctx context.Context) error {
	m.mu.Lock()
	switch m.session.State {
	case chat.StateActive:
		m.mu.Unlock()
		return nil
	case chat.StateEnded:
		m.mu.Unlock()
		return ErrSessionEnded
	}
	m.session.State = chat.StateInitializing
	clearedErr := m.lastErr != ""
	m.lastErr = ""
	m.mu.Unlock()

	m.metrics.SessionTransition(chat.StateInitializing.String())
	events := []chat.Event{{Type: chat.EventState, State: chat.StateInitializing}}
	if clearedErr {
		events = append(events, chat.Event{Type: chat.EventError})
	}
	m.notify.Emit(events...)

	sessionID, err := m.gateway.CreateSession(ctx, m.projectID)
	if err == nil && sessionID == "" {
		err = errEmptySessionID
	}

	m.mu.Lock()
	if err != nil {
		m.session.State = chat.StateError
		m.lastErr = InitFailedMessage
		m.mu.Unlock()

		log.Warn().Err(err).
			Str("component", "session").
			Str("project_id", m.projectID).
			Msg("failed to initialize chat session")
		m.metrics.SessionTransition(chat.StateError.String())
		m.notify.Emit(
			chat.Event{Type: chat.EventState, State: chat.StateError},
			chat.Event{Type: chat.EventError, Error: InitFailedMessage},
		)
		return &InitError{ProjectID: m.projectID, Err: err}
	}

	// Seed before publishing Active so no send can precede the welcome.
	welcome := m.transcript.Seed(chat.Message{
		Text:    m.welcome,
		Sender:  chat.SenderBot,
		Sources: []string{},
	})
	m.session.SessionID = sessionID
	m.session.State = chat.StateActive
	m.mu.Unlock()

	log.Info().
		Str("component", "session").
		Str("project_id", m.projectID).
		Str("session_id", sessionID).
		Msg("chat session active")
	m.metrics.SessionTransition(chat.StateActive.String())
	m.notify.Emit(
		chat.Event{Type: chat.EventState, State: chat.StateActive},
		chat.Event{Type: chat.EventMessage, Message: &welcome},
	)
	return nil
}

// End terminates an active session and notifies the backend. The session is
// Ended even when the notification fails; the error is returned for logging.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	state := m.session.State
	if state != chat.StateActive {
		m.mu.Unlock()
		if state == chat.StateEnded {
			return ErrSessionEnded
		}
		return fmt.Errorf("%w: cannot end session in state %s", ErrInvalidTransition, state)
	}
	m.session.State = chat.StateEnded
	sessionID := m.session.SessionID
	m.mu.Unlock()

	m.metrics.SessionTransition(chat.StateEnded.String())
	m.notify.Emit(chat.Event{Type: chat.EventState, State: chat.StateEnded})

	if err := m.gateway.EndSession(ctx, sessionID); err != nil {
		log.Warn().Err(err).
			Str("component", "session").
			Str("session_id", sessionID).
			Msg("failed to notify backend of session end")
		return fmt.Errorf("notify end of session %s: %w", sessionID, err)
	}
	log.Info().Str("component", "session").Str("session_id", sessionID).Msg("chat session ended")
	return nil
}

// Session returns a snapshot of the current session.
func (m *Manager) Session() chat.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session
}

// State returns the current lifecycle state.
func (m *Manager) State() chat.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.session.State
}

// Err returns the current error banner, empty when there is none.
func (m *Manager) Err() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// Transcript returns the log seeded on activation.
func (m *Manager) Transcript() *chatservice.Transcript {
	return m.transcript
}
