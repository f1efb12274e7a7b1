package ingestion_engine

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ChunkOptions bound the chunker. Tokens are whitespace-delimited words.
type ChunkOptions struct {
	MaxTokens     int
	OverlapTokens int
}

func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{MaxTokens: 512, OverlapTokens: 50}
}

// TextChunk is one chunk produced by ChunkText.
//
// Index:       zero-based position inside the document.
// Text:        overlap words followed by the chunk's own words, space separated.
// TokenCount:  number of words in Text, never above MaxTokens.
// OverlapPrev: how many leading words of Text repeat the end of the previous chunk.
type TextChunk struct {
	Index       int
	Text        string
	TokenCount  int
	OverlapPrev int
}

// Core returns the chunk's words without the leading overlap.
func (c TextChunk) Core() string {
	words := strings.Fields(c.Text)
	if c.OverlapPrev >= len(words) {
		return ""
	}
	return strings.Join(words[c.OverlapPrev:], " ")
}

// ChunkText packs whole sentences greedily into chunks of at most
// opts.MaxTokens words. A sentence longer than the room left in an empty
// chunk is cut into word windows. Every chunk after the first starts with
// the last opts.OverlapTokens words of the previous one.
func ChunkText(text string, opts ChunkOptions) []TextChunk {
	if opts.MaxTokens <= 0 {
		opts = DefaultChunkOptions()
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.OverlapTokens >= opts.MaxTokens {
		opts.OverlapTokens = opts.MaxTokens - 1
	}

	var (
		out    []TextChunk
		prefix []string
		core   []string
	)
	budget := func() int { return opts.MaxTokens - len(prefix) }

	emit := func() {
		if len(core) == 0 {
			return
		}
		words := make([]string, 0, len(prefix)+len(core))
		words = append(words, prefix...)
		words = append(words, core...)
		out = append(out, TextChunk{
			Index:       len(out),
			Text:        strings.Join(words, " "),
			TokenCount:  len(words),
			OverlapPrev: len(prefix),
		})

		n := opts.OverlapTokens
		if n > len(words) {
			n = len(words)
		}
		prefix = append([]string(nil), words[len(words)-n:]...)
		core = nil
	}

	for _, sent := range splitSentences(text) {
		if len(core)+len(sent) <= budget() {
			core = append(core, sent...)
			continue
		}
		emit()
		for len(sent) > budget() {
			room := budget()
			core = append(core, sent[:room]...)
			sent = sent[room:]
			emit()
		}
		core = append(core, sent...)
	}
	emit()

	return out
}

// splitSentences returns the words of text grouped by sentence. Paragraph
// breaks (blank lines) always end a sentence.
func splitSentences(text string) [][]string {
	var out [][]string
	for _, para := range strings.Split(text, "\n\n") {
		words := strings.Fields(para)
		start := 0
		for i := 0; i+1 < len(words); i++ {
			if isSentenceEnd(words[i], words[i+1]) {
				out = append(out, words[start:i+1])
				start = i + 1
			}
		}
		if start < len(words) {
			out = append(out, words[start:])
		}
	}
	return out
}

const (
	closingPunct = `"'”’»)]`
	openingPunct = `"'“‘«([`
)

func isSentenceEnd(word, next string) bool {
	w := strings.TrimRight(word, closingPunct)
	if w == "" {
		return false
	}
	last, _ := utf8.DecodeLastRuneInString(w)
	switch last {
	case '!', '?', '…':
		return startsSentence(next)
	case '.':
	default:
		return false
	}
	if strings.HasSuffix(w, "...") {
		return startsSentence(next)
	}
	stem := strings.TrimRight(w, ".")
	if stem == "" || isAbbreviation(stem) {
		return false
	}
	return startsSentence(next)
}

func startsSentence(next string) bool {
	r, _ := utf8.DecodeRuneInString(next)
	return unicode.IsUpper(r) || unicode.IsDigit(r) || strings.ContainsRune(openingPunct, r)
}

// isAbbreviation reports whether stem (a word stripped of its final period)
// is an abbreviation, a dotted acronym such as D.P.R or a single initial.
func isAbbreviation(stem string) bool {
	stem = strings.TrimLeft(stem, openingPunct)
	// "dell'Art." -> "Art"
	if i := strings.LastIndexAny(stem, "'’"); i >= 0 {
		_, size := utf8.DecodeRuneInString(stem[i:])
		stem = stem[i+size:]
	}
	if stem == "" {
		return false
	}
	if strings.Contains(stem, ".") {
		return true
	}
	if utf8.RuneCountInString(stem) == 1 {
		r, _ := utf8.DecodeRuneInString(stem)
		return unicode.IsLetter(r)
	}
	_, ok := italianAbbreviations[strings.ToLower(stem)]
	return ok
}

var italianAbbreviations = func() map[string]struct{} {
	list := []string{
		"art", "artt", "all", "avv", "ca", "cap", "cass", "cd", "cfr", "circ", "cit", "civ", "cod",
		"comma", "dir", "dlgs", "dott", "dpr", "ecc", "es", "gazz", "geom", "ing", "lett", "max", "min",
		"mod", "modd", "nn", "on", "ord", "pag", "pagg", "par", "pen", "pp", "proc", "prof", "prot",
		"rag", "reg", "rif", "ris", "sec", "seg", "segg", "sent", "sez", "sig", "sigg", "sigra", "sim",
		"spa", "srl", "ss", "succ", "suppl", "tab", "tel", "trib", "ult", "vol", "vs",
	}
	m := make(map[string]struct{}, len(list))
	for _, a := range list {
		m[a] = struct{}{}
	}
	return m
}()
