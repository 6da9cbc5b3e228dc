package tgui

import (
	"html"
	"strings"
)

type H string

func (h H) String() string { return string(h) }

// Len counts the runes a user sees, ignoring tags and entities.
func (h H) Len() int { return len([]rune(Plain(h))) }

func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks s as already safe.
func Raw(s string) H { return H(s) }

func wrap(tag string, inner H) H { return H("<" + tag + ">" + string(inner) + "</" + tag + ">") }

func B(s string) H    { return wrap("b", Esc(s)) }
func I(s string) H    { return wrap("i", Esc(s)) }
func Code(s string) H { return wrap("code", Esc(s)) }

// Link returns an anchor; an empty url yields just the escaped text.
func Link(text, url string) H {
	if strings.TrimSpace(url) == "" {
		return Esc(text)
	}
	return H(`<a href="` + html.EscapeString(url) + `">` + html.EscapeString(text) + `</a>`)
}

// Field renders "<b>label:</b> value", or nothing when value is blank.
func Field(label, value string) H {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return H("<b>" + html.EscapeString(label) + ":</b> " + html.EscapeString(value))
}

// Lines joins the non-empty parts with newlines.
func Lines(parts ...H) H { return JoinH("\n", parts...) }

func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(string(p)) == "" {
			continue
		}
		ss = append(ss, string(p))
	}
	return H(strings.Join(ss, sep))
}

// Plain strips tags and unescapes entities. It only understands the
// markup this package produces.
func Plain(h H) string {
	var b strings.Builder
	s := string(h)
	for {
		i := strings.IndexByte(s, '<')
		if i < 0 {
			b.WriteString(s)
			break
		}
		b.WriteString(s[:i])
		j := strings.IndexByte(s[i:], '>')
		if j < 0 {
			break
		}
		s = s[i+j+1:]
	}
	return html.UnescapeString(b.String())
}
