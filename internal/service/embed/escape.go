package embed

import (
	"fmt"
	"html"
	"net/url"
	"strings"
)

// All interpolation into generated markup goes through this file.

// jsString renders v as a single-quoted JavaScript string literal that is
// also safe inside an inline <script> element.
func jsString(v any) string {
	s := fmt.Sprint(v)

	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('\'')
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '"':
			b.WriteString(`\"`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '<', '>', '&', '`', '\u2028', '\u2029':
			fmt.Fprintf(&b, `\u%04x`, r)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04x`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('\'')
	return b.String()
}

// jsBool renders a JavaScript boolean literal.
func jsBool(v bool) string {
	if v {
		return "true"
	}
	return "false"
}

// htmlAttr escapes a value for a double-quoted HTML attribute.
func htmlAttr(v string) string {
	return html.EscapeString(v)
}

// queryParam encodes one key=value pair. Keys are emitted in call order, not
// sorted, so the artifact keeps a stable, documented parameter order.
func queryParam(key, value string) string {
	return url.QueryEscape(key) + "=" + url.QueryEscape(value)
}

// phpIdentReplacer keeps distinct project ids distinct: "_" doubles and "-"
// becomes "_h", so "a-b" and "a_b" never share a function name.
var phpIdentReplacer = strings.NewReplacer("_", "__", "-", "_h")

// phpIdent turns a validated project id into a PHP identifier suffix.
func phpIdent(projectID string) string {
	return phpIdentReplacer.Replace(projectID)
}
