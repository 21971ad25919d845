package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxSafeNameLen  = 120
	maxWatermarkLen = 100
)

// SafeName keeps only alphanumerics, '-', '_' and '.', capped at 120 bytes.
// Path separators are dropped so the result can never escape its directory.
func SafeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		if r < utf8.RuneSelf && (isASCIIAlnum(r) || r == '-' || r == '_' || r == '.') {
			b.WriteRune(r)
		}
		if b.Len() >= maxSafeNameLen {
			break
		}
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "file"
	}
	return out
}

func isASCIIAlnum(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// EscapeDrawtext prepares text for use as the value of drawtext's text option
// inside a -vf filter graph. Two levels apply: the option-value level, where
// ':' separates options, and the filter-graph level, where ',', ';' and
// brackets separate filters and pads.
func EscapeDrawtext(text string) string {
	clean := cleanWatermark(text)

	level1 := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(clean)

	var b strings.Builder
	for _, r := range level1 {
		switch r {
		case '\\', '\'', '[', ']', ',', ';':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func cleanWatermark(text string) string {
	var b strings.Builder
	n := 0
	for _, r := range strings.TrimSpace(text) {
		if unicode.IsControl(r) {
			r = ' '
		}
		b.WriteRune(r)
		n++
		if n >= maxWatermarkLen {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// Truncate keeps the last max bytes of s, which is where tools print the
// actual failure reason.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := len(s) - max
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}
