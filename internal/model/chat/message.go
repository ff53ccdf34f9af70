package chat

import "time"

// Sender identifies who authored a message.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
)

// Message is one entry of the widget transcript.
type Message struct {
	ID        int64     `json:"id"`
	Text      string    `json:"text"`
	Sender    Sender    `json:"sender"`
	Timestamp time.Time `json:"timestamp"`
	Sources   []string  `json:"sources,omitempty"`
}

// SourceTags returns one display label per citation. Only bot messages carry
// sources; the result is nil when there is nothing to render.
func (m Message) SourceTags() []string {
	if m.Sender != SenderBot || len(m.Sources) == 0 {
		return nil
	}
	tags := make([]string, 0, len(m.Sources))
	for _, src := range m.Sources {
		if src == "" {
			continue
		}
		tags = append(tags, src)
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}
