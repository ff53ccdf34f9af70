package widget

import (
	"errors"
	"fmt"
	"strings"
)

// Theme selects the widget color scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
	ThemeAuto  Theme = "auto"
)

// Position anchors the widget inside the host page.
type Position string

const (
	PositionBottomRight Position = "bottom-right"
	PositionBottomLeft  Position = "bottom-left"
	PositionTopRight    Position = "top-right"
	PositionTopLeft     Position = "top-left"
	PositionCenter      Position = "center"
)

const (
	DefaultTheme          = ThemeLight
	DefaultPosition       = PositionBottomRight
	DefaultPrimaryColor   = "#667eea"
	DefaultWelcomeMessage = "Hello! I'm your AI assistant. How can I help you today?"
	DefaultPlaceholder    = "Type your message..."
	DefaultHeight         = "500px"
	DefaultWidth          = "350px"
)

var (
	ErrInvalidTheme    = errors.New("invalid theme")
	ErrInvalidPosition = errors.New("invalid position")
	ErrEmptyField      = errors.New("field must not be empty")
	ErrUnsafeCSSValue  = errors.New("css value contains unsupported characters")
	ErrNegativeDelay   = errors.New("trigger delay must not be negative")
)

// Config describes the appearance and behavior of one widget render.
//
// Config is a value: methods never mutate the receiver, they return a new
// Config instead.
type Config struct {
	Theme          Theme    `json:"theme" yaml:"theme"`
	Position       Position `json:"position" yaml:"position"`
	PrimaryColor   string   `json:"primaryColor" yaml:"primaryColor"`
	WelcomeMessage string   `json:"welcomeMessage" yaml:"welcomeMessage"`
	Placeholder    string   `json:"placeholder" yaml:"placeholder"`
	Height         string   `json:"height" yaml:"height"`
	Width          string   `json:"width" yaml:"width"`
	ShowBranding   bool     `json:"showBranding" yaml:"showBranding"`
	EnableSound    bool     `json:"enableSound" yaml:"enableSound"`
	AutoOpen       bool     `json:"autoOpen" yaml:"autoOpen"`
	TriggerDelayMs int      `json:"triggerDelayMs" yaml:"triggerDelayMs"`
}

// Default returns the canonical default configuration.
func Default() Config {
	return Config{
		Theme:          DefaultTheme,
		Position:       DefaultPosition,
		PrimaryColor:   DefaultPrimaryColor,
		WelcomeMessage: DefaultWelcomeMessage,
		Placeholder:    DefaultPlaceholder,
		Height:         DefaultHeight,
		Width:          DefaultWidth,
		ShowBranding:   true,
		EnableSound:    false,
		AutoOpen:       false,
		TriggerDelayMs: 0,
	}
}

// Patch is a partial update. Nil fields keep the current value; empty
// strings fall back to the default for that field.
type Patch struct {
	Theme          *Theme    `json:"theme,omitempty" yaml:"theme,omitempty"`
	Position       *Position `json:"position,omitempty" yaml:"position,omitempty"`
	PrimaryColor   *string   `json:"primaryColor,omitempty" yaml:"primaryColor,omitempty"`
	WelcomeMessage *string   `json:"welcomeMessage,omitempty" yaml:"welcomeMessage,omitempty"`
	Placeholder    *string   `json:"placeholder,omitempty" yaml:"placeholder,omitempty"`
	Height         *string   `json:"height,omitempty" yaml:"height,omitempty"`
	Width          *string   `json:"width,omitempty" yaml:"width,omitempty"`
	ShowBranding   *bool     `json:"showBranding,omitempty" yaml:"showBranding,omitempty"`
	EnableSound    *bool     `json:"enableSound,omitempty" yaml:"enableSound,omitempty"`
	AutoOpen       *bool     `json:"autoOpen,omitempty" yaml:"autoOpen,omitempty"`
	TriggerDelayMs *int      `json:"triggerDelayMs,omitempty" yaml:"triggerDelayMs,omitempty"`
}

// Apply returns a copy of c with the patch applied.
func (c Config) Apply(p Patch) Config {
	def := Default()
	next := c

	if p.Theme != nil {
		next.Theme = Theme(orDefault(string(*p.Theme), string(def.Theme)))
	}
	if p.Position != nil {
		next.Position = Position(orDefault(string(*p.Position), string(def.Position)))
	}
	if p.PrimaryColor != nil {
		next.PrimaryColor = orDefault(*p.PrimaryColor, def.PrimaryColor)
	}
	if p.WelcomeMessage != nil {
		next.WelcomeMessage = orDefault(*p.WelcomeMessage, def.WelcomeMessage)
	}
	if p.Placeholder != nil {
		next.Placeholder = orDefault(*p.Placeholder, def.Placeholder)
	}
	if p.Height != nil {
		next.Height = orDefault(*p.Height, def.Height)
	}
	if p.Width != nil {
		next.Width = orDefault(*p.Width, def.Width)
	}
	if p.ShowBranding != nil {
		next.ShowBranding = *p.ShowBranding
	}
	if p.EnableSound != nil {
		next.EnableSound = *p.EnableSound
	}
	if p.AutoOpen != nil {
		next.AutoOpen = *p.AutoOpen
	}
	if p.TriggerDelayMs != nil {
		next.TriggerDelayMs = *p.TriggerDelayMs
	}
	return next
}

// FromPatch builds a full configuration from defaults plus p.
func FromPatch(p Patch) Config {
	return Default().Apply(p)
}

// Validate reports the first invalid field, if any.
func (c Config) Validate() error {
	switch c.Theme {
	case ThemeLight, ThemeDark, ThemeAuto:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTheme, c.Theme)
	}

	switch c.Position {
	case PositionBottomRight, PositionBottomLeft, PositionTopRight, PositionTopLeft, PositionCenter:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPosition, c.Position)
	}

	for _, field := range []struct {
		name  string
		value string
		css   bool
	}{
		{"primaryColor", c.PrimaryColor, true},
		{"welcomeMessage", c.WelcomeMessage, false},
		{"placeholder", c.Placeholder, false},
		{"height", c.Height, true},
		{"width", c.Width, true},
	} {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%s: %w", field.name, ErrEmptyField)
		}
		if field.css && !IsSafeCSSValue(field.value) {
			return fmt.Errorf("%s: %w: %q", field.name, ErrUnsafeCSSValue, field.value)
		}
	}

	if c.TriggerDelayMs < 0 {
		return ErrNegativeDelay
	}
	return nil
}

// IsSafeCSSValue reports whether v can be placed verbatim inside a style
// declaration or an HTML attribute.
func IsSafeCSSValue(v string) bool {
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case strings.ContainsRune(" #%.,()+*/-", r):
		default:
			return false
		}
	}
	return true
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
