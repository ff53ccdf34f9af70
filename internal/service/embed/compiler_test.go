package embed

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/troikatech/chatwidget/internal/model/widget"
)

const testBase = "https://api.example.com"

func TestIframeScenario(t *testing.T) {
	out, err := Compile(FormatIframe, widget.Default(), "proj_42", testBase)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "<iframe "))
	require.Contains(t, out, `src="https://api.example.com/embed/proj_42?theme=light&color=%23667eea&welcome=`)
	require.Contains(t, out, `width="350px"`)
	require.Contains(t, out, `height="500px"`)
	require.Contains(t, out, "bottom: 20px; right: 20px;")
	require.Equal(t, 1, strings.Count(out, "<iframe"))
}

func TestCompileIsDeterministic(t *testing.T) {
	cfg := widget.Default()
	for _, f := range Formats() {
		a, err := Compile(f, cfg, "proj_42", testBase)
		require.NoError(t, err)
		b, err := Compile(f, cfg, "proj_42", testBase+"/")
		require.NoError(t, err)
		require.Equal(t, a, b, f)
	}
}

func TestCompileReflectsEveryInput(t *testing.T) {
	base := widget.Default()
	theme := widget.ThemeDark
	color := "#123456"
	welcome := "Howdy"
	changed := base.Apply(widget.Patch{Theme: &theme, PrimaryColor: &color, WelcomeMessage: &welcome})

	for _, f := range Formats() {
		a, err := Compile(f, base, "proj_42", testBase)
		require.NoError(t, err)
		b, err := Compile(f, changed, "proj_42", testBase)
		require.NoError(t, err)
		require.NotEqual(t, a, b, f)

		c, err := Compile(f, base, "proj_43", testBase)
		require.NoError(t, err)
		require.NotEqual(t, a, c, f)
	}
}

func TestScriptCarriesFullConfig(t *testing.T) {
	cfg := widget.Default()
	cfg.AutoOpen = true
	cfg.TriggerDelayMs = 2500

	out, err := Compile(FormatScript, cfg, "proj_42", testBase)
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(out, "<!-- Troika Tech Chatbot Widget -->"))
	require.Contains(t, out, `<div id="troika-chatbot-proj_42"></div>`)
	require.Contains(t, out, "projectId: 'proj_42'")
	require.Contains(t, out, "apiBaseUrl: 'https://api.example.com'")
	require.Contains(t, out, "script.src = 'https://api.example.com/widget/chatbot.js'")
	require.Contains(t, out, "link.href = 'https://api.example.com/widget/chatbot.css'")
	require.Contains(t, out, "theme: 'light'")
	require.Contains(t, out, "showBranding: true")
	require.Contains(t, out, "autoOpen: true")
	require.Contains(t, out, "triggerDelay: 2500")
	require.Contains(t, out, "--primary-color: #667eea;")
	require.Contains(t, out, "script.onerror")
}

func TestWordPressHasNoHTMLComments(t *testing.T) {
	out, err := Compile(FormatWordPress, widget.Default(), "my-project", testBase)
	require.NoError(t, err)

	require.NotContains(t, out, "<!--")
	require.True(t, strings.HasPrefix(out, "<?php"))
	require.Contains(t, out, "function troika_chatbot_widget_my_hproject()")
	require.Contains(t, out, "add_action('wp_footer', 'troika_chatbot_widget_my_hproject');")
	require.Contains(t, out, `<div id="troika-chatbot-my-project"></div>`)
}

func TestWordPressFunctionNamesDoNotCollide(t *testing.T) {
	dashed, err := Compile(FormatWordPress, widget.Default(), "a-b", testBase)
	require.NoError(t, err)
	underscored, err := Compile(FormatWordPress, widget.Default(), "a_b", testBase)
	require.NoError(t, err)

	require.Contains(t, dashed, "function troika_chatbot_widget_a_hb()")
	require.Contains(t, underscored, "function troika_chatbot_widget_a__b()")
	require.NotEqual(t, phpIdent("a-b"), phpIdent("a_b"))
	require.NotEqual(t, phpIdent("a_hb"), phpIdent("a-b"))
}

func TestWelcomeMessageIsEscaped(t *testing.T) {
	cfg := widget.Default()
	cfg.WelcomeMessage = `</script><script>alert("x")</script> it's <b>`

	script, err := Compile(FormatScript, cfg, "proj_42", testBase)
	require.NoError(t, err)
	require.NotContains(t, script, "</script><script>alert")
	require.Contains(t, script, `welcomeMessage: '\u003c/script\u003e\u003cscript\u003ealert(\"x\")\u003c/script\u003e it\'s \u003cb\u003e'`)
	require.Equal(t, 1, strings.Count(script, "</script>"))

	iframe, err := Compile(FormatIframe, cfg, "proj_42", testBase)
	require.NoError(t, err)
	require.NotContains(t, iframe, "<script")
	require.NotContains(t, iframe, `"x"`)
}

func TestJSStringEscapesLineTerminators(t *testing.T) {
	require.Equal(t, `'a\nb c\\d'`, jsString("a\nb c\\d"))
	require.Equal(t, `'\u0001'`, jsString("\x01"))
}

func TestCompileRejectsInvalidInput(t *testing.T) {
	cfg := widget.Default()

	_, err := Compile(FormatScript, cfg, "bad id", testBase)
	require.ErrorIs(t, err, ErrInvalidProjectID)

	_, err = Compile(FormatScript, cfg, "", testBase)
	require.ErrorIs(t, err, ErrInvalidProjectID)

	for _, base := range []string{"", "api.example.com", "ftp://x.com", "javascript:alert(1)", `https://x.com/"><script>`} {
		_, err = Compile(FormatIframe, cfg, "proj_42", base)
		require.ErrorIs(t, err, ErrInvalidBaseURL, base)
	}

	_, err = Compile(Format("pdf"), cfg, "proj_42", testBase)
	require.ErrorIs(t, err, ErrUnknownFormat)

	cfg.PrimaryColor = "red;}"
	_, err = Compile(FormatScript, cfg, "proj_42", testBase)
	require.ErrorIs(t, err, widget.ErrUnsafeCSSValue)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatScript, f)

	f, err = ParseFormat(" WordPress ")
	require.NoError(t, err)
	require.Equal(t, FormatWordPress, f)

	_, err = ParseFormat("pdf")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestCompileAllCoversEveryFormat(t *testing.T) {
	all, err := CompileAll(widget.Default(), "proj_42", testBase)
	require.NoError(t, err)
	require.Len(t, all, len(Formats()))
	for _, f := range Formats() {
		require.NotEmpty(t, all[f])
	}
}
