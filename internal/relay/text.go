package relay

import (
	"regexp"
	"strings"
)

// TruncationMarker is appended to the last kept word when EnforceWordLimit
// truncates. It attaches directly to the word so re-applying the limit is a
// no-op.
const TruncationMarker = "…"

// markdownLink matches inline markdown links so StripMarkup can keep the
// label and drop the URL before synthesis.
var markdownLink = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)

// StripMarkup removes formatting markup that a text generator tends to emit
// but a voice synthesizer should not read aloud: markdown emphasis and code
// characters, heading markers, and inline link URLs (the link label is kept).
func StripMarkup(s string) string {
	s = markdownLink.ReplaceAllString(s, "$1")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '*', '_', '`', '#', '~':
			continue
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}

// SplitIntoChunks splits text into synthesis segments of at most budget
// characters, never splitting inside a sentence. A segment accumulates whole
// sentences until adding the next one would exceed the budget. A single
// sentence longer than the budget becomes its own segment.
//
// A non-positive budget falls back to 50.
func SplitIntoChunks(text string, budget int) []string {
	if budget <= 0 {
		budget = 50
	}
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var (
		chunks []string
		cur    strings.Builder
	)
	for _, s := range sentences {
		switch {
		case cur.Len() == 0:
			cur.WriteString(s)
		case cur.Len()+1+len(s) <= budget:
			cur.WriteByte(' ')
			cur.WriteString(s)
		default:
			chunks = append(chunks, cur.String())
			cur.Reset()
			cur.WriteString(s)
		}
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitSentences splits text on '.', '!' and '?' boundaries followed by
// whitespace or end of input. Boundary punctuation stays with its sentence.
// Empty sentences are dropped.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	var (
		sentences []string
		start     int
	)
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && !isSpace(text[i+1]) {
				continue
			}
			s := strings.TrimSpace(text[start : i+1])
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

func isSpace(b byte) bool {
	switch b {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

// EnforceWordLimit caps text at limit whitespace-delimited words, appending
// TruncationMarker to the last kept word iff the input exceeded the limit.
// The marker does not add a word, so applying the function twice with the
// same limit yields the same result.
//
// A non-positive limit returns text unchanged.
func EnforceWordLimit(text string, limit int) string {
	if limit <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= limit {
		return text
	}
	kept := words[:limit]
	return strings.Join(kept, " ") + TruncationMarker
}
