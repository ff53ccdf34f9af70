package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/troikatech/chatwidget/internal/metrics"
	"github.com/troikatech/chatwidget/internal/model/chat"
)

var (
	ErrEmptyMessage     = errors.New("message text is empty")
	ErrSendInFlight     = errors.New("a message is already being sent")
	ErrSessionNotActive = errors.New("chat session is not active")
	ErrPipelineClosed   = errors.New("chat pipeline is closed")
	ErrReplyCanceled    = errors.New("reply was canceled")
)

const (
	// DefaultTypingDelay is the pause before a bot reply becomes visible.
	DefaultTypingDelay = 1000 * time.Millisecond

	// SendFailedMessage is the banner shown after a failed send.
	SendFailedMessage = "Failed to send message. Please try again."
)

// MessageSender delivers a user message to the backend.
type MessageSender interface {
	SendMessage(ctx context.Context, req chat.SendRequest) (chat.Reply, error)
}

// SessionSource exposes the session the pipeline sends through.
type SessionSource interface {
	Session() chat.Session
}

// SendError wraps a network or backend failure of send-message. The user
// message stays in the transcript.
type SendError struct {
	Err error
}

func (e *SendError) Error() string { return "send message: " + e.Err.Error() }

func (e *SendError) Unwrap() error { return e.Err }

// UserMessage is the text shown in the widget error banner.
func (e *SendError) UserMessage() string { return SendFailedMessage }

// Options configures a Pipeline.
type Options struct {
	Transcript *Transcript
	Sender     MessageSender
	Session    SessionSource

	// TypingDelay gates when a bot reply is appended. Zero selects
	// DefaultTypingDelay; a negative value appends replies immediately.
	TypingDelay time.Duration

	// ReleaseLockEarly frees the send lock as soon as the backend answered,
	// before the reply is appended. Overlapping exchanges are then allowed and
	// their bot replies may land out of call order.
	ReleaseLockEarly bool

	Scheduler Scheduler
	Notify    chat.Notifier
	Metrics   *metrics.Metrics
}

// Pipeline appends messages in request order and allows a single outstanding
// send at a time.
type Pipeline struct {
	transcript   *Transcript
	sender       MessageSender
	session      SessionSource
	typingDelay  time.Duration
	releaseEarly bool
	scheduler    Scheduler
	notify       chat.Notifier
	metrics      *metrics.Metrics

	mu       sync.Mutex
	inFlight bool
	typing   int
	lastErr  string
	pending  map[*Reply]struct{}
	closed   bool
}

// NewPipeline builds a pipeline. Transcript, Sender and Session are required.
func NewPipeline(opts Options) *Pipeline {
	delay := opts.TypingDelay
	switch {
	case delay == 0:
		delay = DefaultTypingDelay
	case delay < 0:
		delay = 0
	}
	scheduler := opts.Scheduler
	if scheduler == nil {
		scheduler = RealScheduler
	}
	transcript := opts.Transcript
	if transcript == nil {
		transcript = NewTranscript()
	}

	return &Pipeline{
		transcript:   transcript,
		sender:       opts.Sender,
		session:      opts.Session,
		typingDelay:  delay,
		releaseEarly: opts.ReleaseLockEarly,
		scheduler:    scheduler,
		notify:       opts.Notify,
		metrics:      opts.Metrics,
		pending:      make(map[*Reply]struct{}),
	}
}

// Send appends a user message, forwards it to the backend and schedules the
// bot reply. Validation failures are returned before anything is appended or
// sent. A backend failure returns *SendError and keeps the user message.
// When the pipeline closes or the session ends while the backend call runs,
// the reply is dropped and ErrPipelineClosed or ErrReplyCanceled returned.
func (p *Pipeline) Send(ctx context.Context, text string) (*Reply, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		p.metrics.SendOutcome("rejected")
		return nil, ErrEmptyMessage
	}

	p.mu.Lock()
	if err := p.admitLocked(); err != nil {
		p.mu.Unlock()
		p.metrics.SendOutcome("rejected")
		return nil, err
	}
	sess := p.session.Session()

	userMsg := p.transcript.Append(chat.Message{Text: trimmed, Sender: chat.SenderUser})
	p.inFlight = true
	p.typing++
	clearedErr := p.lastErr != ""
	p.lastErr = ""
	p.mu.Unlock()

	events := []chat.Event{{Type: chat.EventMessage, Message: &userMsg}}
	if clearedErr {
		events = append(events, chat.Event{Type: chat.EventError})
	}
	events = append(events, chat.Event{Type: chat.EventTyping, Typing: true})
	p.notify.Emit(events...)

	resp, err := p.sender.SendMessage(ctx, chat.SendRequest{
		SessionID: sess.SessionID,
		ProjectID: sess.ProjectID,
		Message:   trimmed,
	})

	p.mu.Lock()
	if p.closed || !p.sessionActiveLocked() {
		// Torn down or ended while the backend call ran: nothing may be
		// appended any more, and no banner is shown.
		dropErr := ErrReplyCanceled
		if p.closed {
			dropErr = ErrPipelineClosed
		}
		p.inFlight = false
		p.typing--
		stillTyping := p.typing > 0
		p.mu.Unlock()

		log.Debug().AnErr("send_err", err).
			Str("component", "pipeline").
			Str("session_id", sess.SessionID).
			Msg("reply dropped after session end")
		p.metrics.SendOutcome("canceled")
		p.notify.Emit(chat.Event{Type: chat.EventTyping, Typing: stillTyping})
		return nil, dropErr
	}

	if err != nil {
		p.inFlight = false
		p.typing--
		p.lastErr = SendFailedMessage
		stillTyping := p.typing > 0
		p.mu.Unlock()

		log.Warn().Err(err).
			Str("component", "pipeline").
			Str("session_id", sess.SessionID).
			Msg("send message failed")
		p.metrics.SendOutcome("failed")
		p.notify.Emit(
			chat.Event{Type: chat.EventError, Error: SendFailedMessage},
			chat.Event{Type: chat.EventTyping, Typing: stillTyping},
		)
		return nil, &SendError{Err: err}
	}

	reply := &Reply{
		p:       p,
		done:    make(chan struct{}),
		text:    resp.Message,
		sources: append([]string{}, resp.Sources...),
	}
	if p.releaseEarly {
		p.inFlight = false
	}
	p.pending[reply] = struct{}{}
	reply.timer = p.scheduler.AfterFunc(p.typingDelay, reply.fire)
	p.mu.Unlock()

	p.metrics.SendOutcome("delivered")
	log.Debug().
		Str("component", "pipeline").
		Str("session_id", sess.SessionID).
		Int("sources", len(resp.Sources)).
		Dur("typing_delay", p.typingDelay).
		Msg("reply scheduled")
	return reply, nil
}

func (p *Pipeline) admitLocked() error {
	if p.closed {
		return ErrPipelineClosed
	}
	if p.inFlight {
		return ErrSendInFlight
	}
	if !p.sessionActiveLocked() {
		return ErrSessionNotActive
	}
	return nil
}

// sessionActiveLocked reads the session under p.mu; the session lock is
// always taken after the pipeline lock.
func (p *Pipeline) sessionActiveLocked() bool {
	sess := p.session.Session()
	return sess.State == chat.StateActive && sess.SessionID != ""
}

// CancelPending cancels every scheduled reply that has not been appended.
func (p *Pipeline) CancelPending() int {
	p.mu.Lock()
	canceled := make([]*Reply, 0, len(p.pending))
	for r := range p.pending {
		if p.cancelLocked(r) {
			canceled = append(canceled, r)
		}
	}
	stillTyping := p.typing > 0
	p.mu.Unlock()

	p.finishCanceled(canceled, stillTyping)
	return len(canceled)
}

// Close cancels pending replies and rejects further sends. No message is
// appended after Close returns.
func (p *Pipeline) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.CancelPending()
}

// InFlight reports whether the send lock is held.
func (p *Pipeline) InFlight() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inFlight
}

// Typing reports whether a reply is outstanding.
func (p *Pipeline) Typing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typing > 0
}

// Err returns the current error banner, empty when there is none.
func (p *Pipeline) Err() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastErr
}

// Transcript returns the log the pipeline appends to.
func (p *Pipeline) Transcript() *Transcript {
	return p.transcript
}

func (p *Pipeline) cancelLocked(r *Reply) bool {
	if r.status != replyPending {
		return false
	}
	r.status = replyCanceled
	if r.timer != nil {
		r.timer.Stop()
	}
	delete(p.pending, r)
	if !p.releaseEarly {
		p.inFlight = false
	}
	p.typing--
	return true
}

func (p *Pipeline) finishCanceled(canceled []*Reply, stillTyping bool) {
	if len(canceled) == 0 {
		return
	}
	for _, r := range canceled {
		close(r.done)
		p.metrics.ReplyOutcome("canceled")
	}
	p.notify.Emit(chat.Event{Type: chat.EventTyping, Typing: stillTyping})
}

type replyStatus int

const (
	replyPending replyStatus = iota
	replyAppended
	replyCanceled
)

// Reply is the scheduled appearance of a bot message. It can be canceled
// until the typing delay has elapsed.
type Reply struct {
	p       *Pipeline
	timer   Timer
	done    chan struct{}
	text    string
	sources []string

	// guarded by p.mu
	status  replyStatus
	message chat.Message
}

// Done is closed once the reply was appended or canceled.
func (r *Reply) Done() <-chan struct{} {
	return r.done
}

// Cancel stops the reply. It returns false when the reply was already
// appended or canceled.
func (r *Reply) Cancel() bool {
	p := r.p
	p.mu.Lock()
	ok := p.cancelLocked(r)
	stillTyping := p.typing > 0
	p.mu.Unlock()

	if ok {
		p.finishCanceled([]*Reply{r}, stillTyping)
	}
	return ok
}

// Message returns the appended bot message once available.
func (r *Reply) Message() (chat.Message, bool) {
	r.p.mu.Lock()
	defer r.p.mu.Unlock()
	return r.message, r.status == replyAppended
}

// Wait blocks until the reply is appended, canceled, or ctx is done.
func (r *Reply) Wait(ctx context.Context) (chat.Message, error) {
	select {
	case <-r.done:
	case <-ctx.Done():
		return chat.Message{}, ctx.Err()
	}
	if msg, ok := r.Message(); ok {
		return msg, nil
	}
	return chat.Message{}, ErrReplyCanceled
}

func (r *Reply) fire() {
	p := r.p
	p.mu.Lock()
	if r.status != replyPending {
		p.mu.Unlock()
		return
	}
	if !p.sessionActiveLocked() {
		p.cancelLocked(r)
		stillTyping := p.typing > 0
		p.mu.Unlock()
		p.finishCanceled([]*Reply{r}, stillTyping)
		return
	}
	delete(p.pending, r)
	msg := p.transcript.Append(chat.Message{
		Text:    r.text,
		Sender:  chat.SenderBot,
		Sources: r.sources,
	})
	r.status = replyAppended
	r.message = msg
	if !p.releaseEarly {
		p.inFlight = false
	}
	p.typing--
	stillTyping := p.typing > 0
	p.mu.Unlock()

	p.metrics.ReplyOutcome("appended")
	p.notify.Emit(
		chat.Event{Type: chat.EventMessage, Message: &msg},
		chat.Event{Type: chat.EventTyping, Typing: stillTyping},
	)
	// Waiters resume only after listeners observed the message.
	close(r.done)
}
