package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
	"golang.org/x/text/width"
)

// NormalizeTitle returns the comparison form of a display title.
func NormalizeTitle(value string) string {
	if value == "" {
		return ""
	}
	value = norm.NFKC.String(value)
	value = foldWidth(value)
	return CollapseSpace(value)
}

// NormalizeCode trims an item code and folds full-width characters. Case is
// preserved: codes are opaque identifiers.
func NormalizeCode(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	return strings.TrimSpace(width.Narrow.String(norm.NFKC.String(value)))
}

// CollapseSpace trims value and replaces every run of whitespace or control
// characters with one ASCII space.
func CollapseSpace(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	pendingSpace := false
	for _, r := range value {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			pendingSpace = b.Len() > 0
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	return b.String()
}

// foldWidth narrows full-width ASCII and widens half-width katakana, the
// two width variants catalogue pages mix for the same text.
func foldWidth(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		props := width.LookupRune(r)
		switch props.Kind() {
		case width.EastAsianFullwidth:
			if narrow := props.Narrow(); narrow != 0 && narrow < unicode.MaxASCII {
				b.WriteRune(narrow)
				continue
			}
		case width.EastAsianHalfwidth:
			if wide := props.Wide(); wide != 0 {
				b.WriteRune(wide)
				continue
			}
		}
		b.WriteRune(r)
	}
	return b.String()
}
