package nlu

import (
	"strconv"
	"strings"
	"unicode"
)

var smallNumbers = map[string]int{
	"zero": 0, "one": 1, "two": 2, "three": 3, "four": 4, "five": 5,
	"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10,
	"eleven": 11, "twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15,
	"sixteen": 16, "seventeen": 17, "eighteen": 18, "nineteen": 19,
}

var tensNumbers = map[string]int{
	"twenty": 20, "thirty": 30, "forty": 40, "fifty": 50,
	"sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
}

// Clean lowercases text, replaces punctuation other than apostrophes and
// percent signs with spaces, converts number words to digits and collapses
// whitespace.
func Clean(text string) string {
	return clean(text).text
}

// span is a byte range of the original text.
type span struct{ start, end int }

// cleaned is the result of cleaning, with every output token traced back to
// the part of the original text it came from.
type cleaned struct {
	text   string
	orig   string
	tokens []string
	offset []int // byte offset of each token in text
	spans  []span
}

func clean(text string) cleaned {
	var (
		tokens []string
		spans  []span
		cur    strings.Builder
		from   = -1
	)
	flush := func(end int) {
		if from >= 0 {
			tokens = append(tokens, cur.String())
			spans = append(spans, span{from, end})
			cur.Reset()
			from = -1
		}
	}
	for i, r := range text {
		r = unicode.ToLower(r)
		if r == '’' {
			r = '\''
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '\'' || r == '%' {
			if from < 0 {
				from = i
			}
			cur.WriteRune(r)
			continue
		}
		flush(i)
	}
	flush(len(text))

	tokens, spans = wordsToDigits(tokens, spans)

	c := cleaned{orig: text}
	for i, tok := range tokens {
		if p := strings.TrimSuffix(tok, "%"); p != tok && isDigits(p) {
			c.tokens = append(c.tokens, p, "percent")
			c.spans = append(c.spans, spans[i], spans[i])
			continue
		}
		c.tokens = append(c.tokens, tok)
		c.spans = append(c.spans, spans[i])
	}

	var b strings.Builder
	for i, tok := range c.tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		c.offset = append(c.offset, b.Len())
		b.WriteString(tok)
	}
	c.text = b.String()
	return c
}

// source returns the original text behind c.text[from:to], widened to
// whole tokens. Punctuation, case and number words survive.
func (c cleaned) source(from, to int) string {
	first, last := -1, -1
	for i, off := range c.offset {
		end := off + len(c.tokens[i])
		if end > from && off < to {
			if first < 0 {
				first = i
			}
			last = i
		}
	}
	if first < 0 {
		return ""
	}
	return strings.TrimSpace(c.orig[c.spans[first].start:c.spans[last].end])
}

func wordsToDigits(tokens []string, spans []span) ([]string, []span) {
	out := make([]string, 0, len(tokens))
	outSpans := make([]span, 0, len(spans))
	for i := 0; i < len(tokens); {
		v, n := parseNumber(tokens[i:])
		if n == 0 {
			out = append(out, tokens[i])
			outSpans = append(outSpans, spans[i])
			i++
			continue
		}
		out = append(out, strconv.Itoa(v))
		outSpans = append(outSpans, span{spans[i].start, spans[i+n-1].end})
		i += n
	}
	return out, outSpans
}

// parseNumber reads a cardinal number phrase from the front of tokens and
// returns its value and the number of tokens consumed (0 if none).
func parseNumber(tokens []string) (int, int) {
	if len(tokens) == 0 {
		return 0, 0
	}
	if tokens[0] == "hundred" {
		v, n := parseUnderHundred(tokens[1:])
		return 100 + v, 1 + n
	}
	if u, ok := smallNumbers[tokens[0]]; ok {
		if len(tokens) > 1 && tokens[1] == "hundred" && u > 0 {
			rest := tokens[2:]
			skip := 0
			if len(rest) > 0 && rest[0] == "and" {
				if _, m := parseUnderHundred(rest[1:]); m > 0 {
					rest = rest[1:]
					skip = 1
				}
			}
			v, n := parseUnderHundred(rest)
			return u*100 + v, 2 + skip + n
		}
		return u, 1
	}
	return parseUnderHundred(tokens)
}

func parseUnderHundred(tokens []string) (int, int) {
	if len(tokens) == 0 {
		return 0, 0
	}
	if t, ok := tensNumbers[tokens[0]]; ok {
		if len(tokens) > 1 {
			if u, ok := smallNumbers[tokens[1]]; ok && u > 0 && u < 10 {
				return t + u, 2
			}
		}
		return t, 1
	}
	if u, ok := smallNumbers[tokens[0]]; ok {
		return u, 1
	}
	return 0, 0
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
