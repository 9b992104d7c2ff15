package speech

import (
	"strings"
	"unicode"
)

// Split cuts text into chunks of at most max runes for a length-limited
// engine. Sentences are accumulated until the next one would overflow; a
// sentence longer than max is cut at the last whitespace that fits, or at
// max runes when there is none.
//
// The chunks partition the input: strings.Join(chunks, "") == text.
// Whitespace between sentences stays attached to the end of the earlier
// chunk. Split returns nil for blank text. A max below 1 means
// tts.MaxUtterance.
func Split(text string, max int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if max < 1 {
		max = defaultMaxChunk
	}

	var (
		chunks []string
		cur    []rune
	)
	flush := func() {
		if len(cur) > 0 {
			chunks = append(chunks, string(cur))
			cur = nil
		}
	}

	for _, s := range sentences([]rune(text)) {
		if len(cur)+len(s) <= max {
			cur = append(cur, s...)
			continue
		}
		flush()
		for len(s) > max {
			cut := hardCut(s, max)
			chunks = append(chunks, string(s[:cut]))
			s = s[cut:]
		}
		cur = append([]rune(nil), s...)
	}
	flush()
	return chunks
}

// sentences splits r after each terminator and its trailing whitespace.
func sentences(r []rune) [][]rune {
	var out [][]rune
	start := 0
	for i := 0; i < len(r); {
		c := r[i]
		if !isTerminal(c) {
			i++
			continue
		}
		j := i + 1
		for j < len(r) && isCloser(r[j]) {
			j++
		}
		if c != '\n' && j < len(r) && !unicode.IsSpace(r[j]) {
			i = j
			continue
		}
		for j < len(r) && unicode.IsSpace(r[j]) {
			j++
		}
		out = append(out, r[start:j])
		start, i = j, j
	}
	if start < len(r) {
		out = append(out, r[start:])
	}
	return out
}

// hardCut returns where to cut an overlong sentence: just after the last
// whitespace within max runes, else at max.
func hardCut(s []rune, max int) int {
	for i := max; i > 0; i-- {
		if unicode.IsSpace(s[i-1]) {
			return i
		}
	}
	return max
}

func isTerminal(c rune) bool {
	switch c {
	case '.', '!', '?', '\n', '…':
		return true
	}
	return false
}

func isCloser(c rune) bool {
	switch c {
	case '.', '!', '?', '"', '\'', ')', ']', '’', '”':
		return true
	}
	return false
}
