package widget

import (
	"context"
	"errors"

	chatservice "github.com/troikatech/chatwidget/internal/service/chat"
	"github.com/troikatech/chatwidget/internal/service/session"
)

// ErrorKind groups widget errors by how the host should react.
type ErrorKind string

const (
	KindValidation  ErrorKind = "validation"
	KindSessionInit ErrorKind = "session_init"
	KindSend        ErrorKind = "send"
	KindClosed      ErrorKind = "closed"
	KindInternal    ErrorKind = "internal"
)

// Classify maps err to its kind and the text to show the user.
func Classify(err error) (ErrorKind, string) {
	var initErr *session.InitError
	var sendErr *chatservice.SendError

	switch {
	case err == nil:
		return "", ""
	case errors.As(err, &initErr):
		return KindSessionInit, initErr.UserMessage()
	case errors.As(err, &sendErr):
		return KindSend, sendErr.UserMessage()
	case errors.Is(err, ErrClosed), errors.Is(err, chatservice.ErrPipelineClosed), errors.Is(err, context.Canceled):
		return KindClosed, "The chat window was closed."
	case errors.Is(err, chatservice.ErrEmptyMessage):
		return KindValidation, "Please enter a message."
	case errors.Is(err, chatservice.ErrSendInFlight):
		return KindValidation, "Please wait for the current reply."
	case errors.Is(err, chatservice.ErrSessionNotActive),
		errors.Is(err, session.ErrSessionEnded),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, chatservice.ErrReplyCanceled):
		return KindValidation, "The chat session is not active."
	default:
		return KindInternal, "Something went wrong. Please try again."
	}
}
