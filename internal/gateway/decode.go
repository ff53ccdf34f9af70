package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/troikatech/chatwidget/internal/model/chat"
	"github.com/troikatech/chatwidget/internal/model/widget"
)

// The backend has shipped a few response shapes over time; the decoders
// below accept the bare payload as well as the data/config envelopes.

type historyItem struct {
	Text      string    `json:"text"`
	Message   string    `json:"message"`
	Content   string    `json:"content"`
	Sender    string    `json:"sender"`
	Role      string    `json:"role"`
	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"created_at"`
	Sources   []string  `json:"sources"`
}

func decodeHistory(raw json.RawMessage) ([]chat.Message, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return []chat.Message{}, nil
	}

	var items []historyItem
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
	} else {
		var envelope struct {
			Messages []historyItem `json:"messages"`
			History  []historyItem `json:"history"`
			Data     []historyItem `json:"data"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil, fmt.Errorf("decode history: %w", err)
		}
		switch {
		case envelope.Messages != nil:
			items = envelope.Messages
		case envelope.History != nil:
			items = envelope.History
		default:
			items = envelope.Data
		}
	}

	messages := make([]chat.Message, 0, len(items))
	for i, item := range items {
		msg := chat.Message{
			ID:        int64(i + 1),
			Text:      firstNonEmpty(item.Text, item.Message, item.Content),
			Sender:    senderFrom(firstNonEmpty(item.Sender, item.Role)),
			Timestamp: item.Timestamp,
		}
		if msg.Timestamp.IsZero() {
			msg.Timestamp = item.CreatedAt
		}
		if msg.Sender == chat.SenderBot {
			msg.Sources = append([]string{}, item.Sources...)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

func senderFrom(v string) chat.Sender {
	switch strings.ToLower(v) {
	case "user", "human", "visitor":
		return chat.SenderUser
	default:
		return chat.SenderBot
	}
}

type projectConfigDTO struct {
	Theme           *string `json:"theme"`
	Position        *string `json:"position"`
	PrimaryColor    *string `json:"primary_color"`
	WelcomeMessage  *string `json:"welcome_message"`
	PlaceholderText *string `json:"placeholder_text"`
	Width           *int    `json:"width"`
	Height          *int    `json:"height"`
	ShowBranding    *bool   `json:"show_branding"`
	EnableSound     *bool   `json:"enable_sound"`
	AutoExpand      *bool   `json:"auto_expand"`
	TriggerDelayMs  *int    `json:"trigger_delay_ms"`
}

func decodeProjectConfig(raw json.RawMessage) (widget.Patch, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return widget.Patch{}, nil
	}

	var envelope struct {
		Data         json.RawMessage `json:"data"`
		Config       json.RawMessage `json:"config"`
		WidgetConfig json.RawMessage `json:"widget_config"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return widget.Patch{}, err
	}
	for _, inner := range []json.RawMessage{envelope.WidgetConfig, envelope.Config, envelope.Data} {
		if len(inner) > 0 && inner[0] == '{' {
			raw = inner
			break
		}
	}

	var dto projectConfigDTO
	if err := json.Unmarshal(raw, &dto); err != nil {
		return widget.Patch{}, err
	}
	return dto.patch(), nil
}

// patch keeps only values the widget understands; unknown themes such as
// "custom" fall back to the default.
func (d projectConfigDTO) patch() widget.Patch {
	var p widget.Patch

	if d.Theme != nil {
		switch t := widget.Theme(*d.Theme); t {
		case widget.ThemeLight, widget.ThemeDark, widget.ThemeAuto:
			p.Theme = &t
		}
	}
	if d.Position != nil {
		switch pos := widget.Position(*d.Position); pos {
		case widget.PositionBottomRight, widget.PositionBottomLeft, widget.PositionTopRight,
			widget.PositionTopLeft, widget.PositionCenter:
			p.Position = &pos
		}
	}
	if d.PrimaryColor != nil && widget.IsSafeCSSValue(*d.PrimaryColor) {
		p.PrimaryColor = d.PrimaryColor
	}
	p.WelcomeMessage = d.WelcomeMessage
	p.Placeholder = d.PlaceholderText
	if d.Width != nil && *d.Width > 0 {
		w := fmt.Sprintf("%dpx", *d.Width)
		p.Width = &w
	}
	if d.Height != nil && *d.Height > 0 {
		h := fmt.Sprintf("%dpx", *d.Height)
		p.Height = &h
	}
	p.ShowBranding = d.ShowBranding
	p.EnableSound = d.EnableSound
	p.AutoOpen = d.AutoExpand
	if d.TriggerDelayMs != nil && *d.TriggerDelayMs >= 0 {
		p.TriggerDelayMs = d.TriggerDelayMs
	}
	return p
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
