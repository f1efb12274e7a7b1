package ingestion_engine

import (
	"strings"
	"unicode"

	"github.com/markdave123-py/lexkb/internal/core/textclean"
)

const (
	// alphaTarget is the alphabetic share of ordinary Italian prose; at or
	// above it the alphabetic signal is saturated.
	alphaTarget = 0.7
	// fullPageWords is the word count at which the word signal saturates.
	fullPageWords = 40
)

// TextQuality holds the raw signals behind Score.
type TextQuality struct {
	PrintableRatio float64
	AlphaRatio     float64
	Words          int
	WordlikeRatio  float64
}

// Score combines the signals into 0.0-1.0:
// 0.4*printable + 0.4*min(1, alpha/0.7) + 0.2*wordScore, where wordScore is
// the word-like share scaled down for pages with very few words.
func (q TextQuality) Score() float64 {
	if q.Words == 0 {
		return 0
	}
	alpha := q.AlphaRatio / alphaTarget
	if alpha > 1 {
		alpha = 1
	}
	density := float64(q.Words) / fullPageWords
	if density > 1 {
		density = 1
	}
	s := 0.4*q.PrintableRatio + 0.4*alpha + 0.2*q.WordlikeRatio*density
	if s > 1 {
		s = 1
	}
	if s < 0 {
		s = 0
	}
	return s
}

// MeasureText computes the quality signals of text. Whitespace is ignored
// in the ratios.
func MeasureText(text string) TextQuality {
	var q TextQuality
	total, printable, alpha := 0, 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if textclean.IsGarbageRune(r) {
			continue
		}
		if unicode.IsPrint(r) {
			printable++
		}
		if unicode.IsLetter(r) {
			alpha++
		}
	}
	if total == 0 {
		return q
	}
	q.PrintableRatio = float64(printable) / float64(total)
	q.AlphaRatio = float64(alpha) / float64(total)

	fields := strings.Fields(text)
	q.Words = len(fields)
	wordlike := 0
	for _, f := range fields {
		if isWordlike(f) {
			wordlike++
		}
	}
	if q.Words > 0 {
		q.WordlikeRatio = float64(wordlike) / float64(q.Words)
	}
	return q
}

// ScoreText is MeasureText(text).Score().
func ScoreText(text string) float64 {
	return MeasureText(text).Score()
}

// isWordlike accepts tokens of 1-20 runes that are mostly letters or digits
// once surrounding punctuation is trimmed.
func isWordlike(tok string) bool {
	tok = strings.TrimFunc(tok, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSymbol(r) })
	n, good := 0, 0
	for _, r := range tok {
		n++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '\u2019' || r == '.' || r == '-' {
			good++
		}
	}
	if n == 0 || n > 20 {
		return false
	}
	return float64(good)/float64(n) >= 0.8
}
