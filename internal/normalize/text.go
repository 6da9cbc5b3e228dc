package normalize

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
)

// captionBreakers would corrupt Telegram Markdown/HTML captions.
const captionBreakers = "*_`[]<>"

// blockTags become a space so adjacent words don't merge.
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "ul": true, "ol": true,
	"tr": true, "td": true, "th": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "section": true, "article": true,
}

// CleanTitle strips markup and control characters, removes caption-breaking
// characters, collapses whitespace and truncates to maxRunes.
func CleanTitle(s string, maxRunes int) string {
	s = stripMarkup(s)
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsControl(r):
			return ' '
		case strings.ContainsRune(captionBreakers, r):
			return -1
		}
		return r
	}, s)
	return truncateRunes(collapseSpace(s), maxRunes)
}

// stripMarkup drops HTML tags and decodes entities. Content of script and
// style elements is discarded.
func stripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}
	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tag == "script" || tag == "style" {
				skip++
				continue
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if (tag == "script" || tag == "style") && skip > 0 {
				skip--
				continue
			}
			if blockTags[tag] {
				b.WriteByte(' ')
			}
		}
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// truncateRunes cuts s to at most maxRunes runes, preferring a whitespace
// boundary in the second half of the window, and marks the cut with "...".
func truncateRunes(s string, maxRunes int) string {
	rs := []rune(s)
	if maxRunes <= 0 || len(rs) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(rs[:maxRunes])
	}
	window := rs[:maxRunes-3]
	cut := len(window)
	for i := len(window) - 1; i >= len(window)/2; i-- {
		if unicode.IsSpace(window[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(window[:cut]), unicode.IsSpace) + "..."
}
