package chat

// EventType names a change observable on a widget.
type EventType string

const (
	EventState   EventType = "state"
	EventMessage EventType = "message"
	EventTyping  EventType = "typing"
	EventError   EventType = "error"
)

// Event is emitted after a widget component changed state. Only the field
// matching Type is meaningful.
type Event struct {
	Type    EventType `json:"type"`
	State   State     `json:"state,omitempty"`
	Message *Message  `json:"message,omitempty"`
	Typing  bool      `json:"typing,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Notifier receives widget events. Implementations must not block.
type Notifier func(Event)

// Emit delivers events in order, ignoring a nil notifier.
func (n Notifier) Emit(events ...Event) {
	if n == nil {
		return
	}
	for _, ev := range events {
		n(ev)
	}
}
