package tgui

import "unicode/utf8"

const Ellipsis = "..."

// TruncRunes cuts s to at most n runes, the last three being "..." when
// anything was removed.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= len(Ellipsis) {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-len(Ellipsis)]) + Ellipsis
}
