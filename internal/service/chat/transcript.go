package chat

import (
	"sync"
	"time"

	"github.com/troikatech/chatwidget/internal/model/chat"
)

// Transcript is the ordered message log of one widget. Entries are never
// reordered or deduplicated once appended.
type Transcript struct {
	mu       sync.RWMutex
	messages []chat.Message
	lastID   int64
	now      func() time.Time
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{
		messages: make([]chat.Message, 0, 16),
		now:      time.Now,
	}
}

// Append stamps message with a fresh id and timestamp and adds it to the end
// of the log. The stored copy is returned.
func (t *Transcript) Append(message chat.Message) chat.Message {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	message.ID = t.nextIDLocked(now)
	message.Timestamp = now.UTC()
	if message.Sources != nil {
		message.Sources = append(make([]string, 0, len(message.Sources)), message.Sources...)
	}

	t.messages = append(t.messages, message)
	return message
}

// Seed replaces the log with a single message.
func (t *Transcript) Seed(message chat.Message) chat.Message {
	t.mu.Lock()
	t.messages = t.messages[:0]
	t.mu.Unlock()
	return t.Append(message)
}

// Messages returns a copy of the log in insertion order.
func (t *Transcript) Messages() []chat.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	copied := make([]chat.Message, len(t.messages))
	copy(copied, t.messages)
	return copied
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// nextIDLocked keeps ids millisecond-based and strictly increasing, using
// last+1 when two messages land in the same millisecond.
func (t *Transcript) nextIDLocked(now time.Time) int64 {
	id := now.UnixMilli()
	if id <= t.lastID {
		id = t.lastID + 1
	}
	t.lastID = id
	return id
}
