package embed

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"text/template"

	"github.com/troikatech/chatwidget/internal/model/widget"
)

// Format selects the kind of embed artifact.
type Format string

const (
	FormatScript    Format = "script"
	FormatIframe    Format = "iframe"
	FormatWordPress Format = "wordpress"
)

var (
	ErrUnknownFormat    = errors.New("unknown embed format")
	ErrInvalidProjectID = errors.New("invalid project id")
	ErrInvalidBaseURL   = errors.New("invalid backend base url")
)

var projectIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// Formats lists the supported formats in display order.
func Formats() []Format {
	return []Format{FormatScript, FormatIframe, FormatWordPress}
}

// ParseFormat resolves a format name; an empty name selects FormatScript.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case "":
		return FormatScript, nil
	case FormatScript, FormatIframe, FormatWordPress:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// Compile renders the artifact for format. It reads nothing but its
// arguments: identical inputs always produce byte-identical output.
func Compile(format Format, cfg widget.Config, projectID, baseURL string) (string, error) {
	if !projectIDPattern.MatchString(projectID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidProjectID, projectID)
	}
	base, err := normalizeBaseURL(baseURL)
	if err != nil {
		return "", err
	}
	if err := cfg.Validate(); err != nil {
		return "", fmt.Errorf("invalid widget config: %w", err)
	}

	view := artifactView{
		ProjectID: projectID,
		BaseURL:   base,
		ScriptURL: base + "/widget/chatbot.js",
		StyleURL:  base + "/widget/chatbot.css",
		PHPIdent:  phpIdent(projectID),
		Config:    cfg,
	}

	switch format {
	case FormatScript:
		return render(scriptTemplate, view)
	case FormatWordPress:
		return render(wordpressTemplate, view)
	case FormatIframe:
		return renderIframe(view), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// CompileAll renders every format, keyed by format.
func CompileAll(cfg widget.Config, projectID, baseURL string) (map[Format]string, error) {
	out := make(map[Format]string, len(Formats()))
	for _, f := range Formats() {
		artifact, err := Compile(f, cfg, projectID, baseURL)
		if err != nil {
			return nil, err
		}
		out[f] = artifact
	}
	return out, nil
}

type artifactView struct {
	ProjectID string
	BaseURL   string
	ScriptURL string
	StyleURL  string
	PHPIdent  string
	Config    widget.Config
}

func normalizeBaseURL(raw string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(raw), "/")
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidBaseURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q must be an absolute http(s) url", ErrInvalidBaseURL, raw)
	}
	if u.RawQuery != "" || u.Fragment != "" || strings.ContainsAny(trimmed, "\"'<> \t\n") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBaseURL, raw)
	}
	return trimmed, nil
}

func render(tmpl *template.Template, view artifactView) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render %s: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func renderIframe(v artifactView) string {
	// Query-escaped values contain no characters that need attribute
	// escaping, so the separators stay a literal '&'.
	query := strings.Join([]string{
		queryParam("theme", string(v.Config.Theme)),
		queryParam("color", v.Config.PrimaryColor),
		queryParam("welcome", v.Config.WelcomeMessage),
	}, "&")

	var b strings.Builder
	b.WriteString(`<iframe src="`)
	b.WriteString(htmlAttr(v.BaseURL + "/embed/" + v.ProjectID))
	b.WriteString("?")
	b.WriteString(query)
	b.WriteString(`" width="`)
	b.WriteString(htmlAttr(v.Config.Width))
	b.WriteString(`" height="`)
	b.WriteString(htmlAttr(v.Config.Height))
	b.WriteString(`" title="Troika Tech Chatbot" style="`)
	b.WriteString(positionStyle(v.Config.Position))
	b.WriteString(`" frameborder="0" loading="lazy"></iframe>`)
	return b.String()
}

func positionStyle(p widget.Position) string {
	const base = "border: none; position: fixed; z-index: 9999; "
	switch p {
	case widget.PositionBottomLeft:
		return base + "bottom: 20px; left: 20px;"
	case widget.PositionTopRight:
		return base + "top: 20px; right: 20px;"
	case widget.PositionTopLeft:
		return base + "top: 20px; left: 20px;"
	case widget.PositionCenter:
		return base + "top: 50%; left: 50%; transform: translate(-50%, -50%);"
	default:
		return base + "bottom: 20px; right: 20px;"
	}
}
