// Package textclean normalizes extracted text before quality gating and chunking.
package textclean

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/unicode/norm"
)

// Stats describes what Clean removed.
type Stats struct {
	InputRunes   int
	DroppedRunes int
}

// GarbageRatio is the share of input runes dropped as garbage.
func (s Stats) GarbageRatio() float64 {
	if s.InputRunes == 0 {
		return 0
	}
	return float64(s.DroppedRunes) / float64(s.InputRunes)
}

// Clean returns the normalized form of text.
func Clean(text string) string {
	out, _ := CleanWithStats(text)
	return out
}

// CleanWithStats decodes leftover HTML entities, composes accents to NFC so
// Italian diacritics survive as single runes, drops control and replacement
// characters, rejoins words hyphenated across line breaks and collapses
// whitespace. Paragraph breaks are kept as a blank line; every other
// whitespace run becomes one space.
func CleanWithStats(text string) (string, Stats) {
	if strings.IndexByte(text, '&') >= 0 {
		text = html.UnescapeString(text)
	}
	return CleanDecodedWithStats(text)
}

// CleanDecodedWithStats is CleanWithStats for text whose entities were
// already decoded, such as HTML parser output. A literal "&amp;lt;" in the
// page reaches it as "&lt;" and must stay that way.
func CleanDecodedWithStats(text string) (string, Stats) {
	var st Stats
	if text == "" {
		return "", st
	}
	text = norm.NFC.String(text)

	var b strings.Builder
	b.Grow(len(text))

	runes := []rune(text)
	st.InputRunes = len(runes)

	pendingSpace := false
	newlines := 0
	flush := func() {
		if b.Len() == 0 {
			pendingSpace, newlines = false, 0
			return
		}
		if newlines >= 2 {
			b.WriteString("\n\n")
		} else if pendingSpace || newlines == 1 {
			b.WriteByte(' ')
		}
		pendingSpace, newlines = false, 0
	}

	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\r':
			continue
		case r == '\n':
			newlines++
			continue
		case unicode.IsSpace(r):
			pendingSpace = true
			continue
		case isInvisible(r):
			// Formatting marks carry no text; not counted as garbage.
			continue
		case IsGarbageRune(r):
			st.DroppedRunes++
			continue
		}

		// "docu-\nmento" -> "documento"
		if r == '-' && i+1 < len(runes) && hyphenBreak(runes, i) {
			i = skipToNextLetter(runes, i)
			continue
		}

		if pendingSpace || newlines > 0 {
			flush()
		}
		b.WriteRune(r)
	}
	return b.String(), st
}

// IsGarbageRune reports runes that never belong in extracted text: private
// use area, the replacement character and control characters.
func IsGarbageRune(r rune) bool {
	switch {
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	case r == unicode.ReplacementChar:
		return true
	case r < 0x20 && r != '\n' && r != '\r' && r != '\t':
		return true
	case r >= 0x7F && r < 0xA0:
		return true
	}
	return false
}

func isInvisible(r rune) bool {
	switch r {
	case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
		return true
	}
	return false
}

// hyphenBreak reports a hyphen at runes[i] that ends a line inside a word.
func hyphenBreak(runes []rune, i int) bool {
	if i == 0 || !unicode.IsLetter(runes[i-1]) {
		return false
	}
	j := i + 1
	for j < len(runes) && (runes[j] == ' ' || runes[j] == '\t' || runes[j] == '\r') {
		j++
	}
	if j >= len(runes) || runes[j] != '\n' {
		return false
	}
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	return j < len(runes) && unicode.IsLower(runes[j])
}

func skipToNextLetter(runes []rune, i int) int {
	j := i + 1
	for j < len(runes) && unicode.IsSpace(runes[j]) {
		j++
	}
	return j - 1
}
