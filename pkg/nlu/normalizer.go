// Package nlu implements the deterministic, pattern-based tier of intent
// recognition.
//
// A Normalizer compiles an intent registry into an ordered table of regular
// expressions once, at construction. Normalize walks the table in order and
// returns the first match; it never scores competing matches.
package nlu

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/teslashibe/go-voicenav/pkg/intent"
)

// Compilation errors for malformed registry examples.
var (
	ErrUnbalancedBraces   = errors.New("nlu: unbalanced braces")
	ErrUnknownPlaceholder = errors.New("nlu: unknown placeholder")
	ErrEmptyExample       = errors.New("nlu: empty example")
)

// Placeholders recognised in examples. {number} captures digits; the rest
// capture free text. {text} is named from the action, the others name
// their own slot.
var placeholders = map[string]bool{
	"number": true,
	"text":   true,
	"query":  true,
	"target": true,
	"value":  true,
	"field":  true,
}

// Determiners are optional wherever they appear in an example and tolerated
// between words of an utterance.
var determiners = map[string]bool{
	"the": true, "a": true, "an": true, "this": true, "that": true, "my": true,
}

// Words dropped when deriving an action name from an example.
var actionStopwords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "for": true, "of": true,
	"on": true, "by": true, "with": true, "this": true, "that": true, "my": true,
	"me": true, "please": true, "is": true, "am": true, "are": true, "what": true,
	"i": true, "can": true,
}

const (
	politePrefix = `(?:(?:please|can you|could you|would you|i want to|i'd like to)\s+)?`
	politeSuffix = `(?:\s+please)?`
	optionalDet  = `(?:\s+(?:the|a|an|this|that|my))?`
)

// DefaultSynonyms are single-word substitutions applied one at a time to
// each example to produce extra variants.
var DefaultSynonyms = map[string][]string{
	"scroll":    {"move"},
	"open":      {"visit"},
	"top":       {"beginning"},
	"bottom":    {"end"},
	"back":      {"backward"},
	"forward":   {"forwards"},
	"previous":  {"last", "prior"},
	"next":      {"following"},
	"stop":      {"halt"},
	"pause":     {"hold"},
	"resume":    {"unpause"},
	"find":      {"locate"},
	"describe":  {"summarize"},
	"highlight": {"mark"},
	"enter":     {"input"},
}

// Slot describes one capture group of a compiled pattern.
type Slot struct {
	Name    string
	Numeric bool
}

// Pattern is one compiled matcher.
type Pattern struct {
	Intent  string
	Action  string
	Example string
	Regexp  *regexp.Regexp
	Slots   []Slot
}

// Normalizer maps utterances to normalized commands.
// It is immutable after New and safe for concurrent use.
type Normalizer struct {
	patterns []Pattern
	skipped  int
	logger   *slog.Logger
}

// Option configures a Normalizer.
type Option func(*options)

type options struct {
	synonyms map[string][]string
	logger   *slog.Logger
}

// WithSynonyms replaces the synonym table.
func WithSynonyms(s map[string][]string) Option {
	return func(o *options) { o.synonyms = s }
}

// WithLogger sets the logger used for compile warnings.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New compiles schemas into a pattern table. Malformed examples are logged
// and skipped.
func New(schemas []intent.Schema, opts ...Option) *Normalizer {
	o := options{synonyms: DefaultSynonyms}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default().With("component", "nlu")
	}

	n := &Normalizer{logger: o.logger}
	seen := make(map[string]bool)

	for _, s := range schemas {
		for _, ex := range s.Examples {
			compiled, err := compileExample(s, ex, o.synonyms)
			if err != nil {
				n.skipped++
				n.logger.Warn("skipping malformed example",
					"intent", s.Name, "example", ex, "error", err)
				continue
			}
			for _, p := range compiled {
				src := p.Regexp.String()
				if seen[src] {
					continue
				}
				seen[src] = true
				n.patterns = append(n.patterns, p)
			}
		}
	}

	n.logger.Debug("compiled patterns", "patterns", len(n.patterns), "skipped", n.skipped)
	return n
}

// Patterns returns the compiled table in match order.
func (n *Normalizer) Patterns() []Pattern {
	out := make([]Pattern, len(n.patterns))
	copy(out, n.patterns)
	return out
}

// Skipped returns the number of examples rejected at compile time.
func (n *Normalizer) Skipped() int {
	return n.skipped
}

// Normalize maps text to the first matching intent.
func (n *Normalizer) Normalize(text string) intent.NormalizedCommand {
	c := clean(text)
	cleaned := c.text
	result := intent.NormalizedCommand{
		Original:   text,
		Normalized: cleaned,
		Intent:     intent.Unknown,
		Slots:      intent.Slots{},
	}
	if cleaned == "" {
		return result
	}

	total := utf8.RuneCountInString(cleaned)
	for _, p := range n.patterns {
		loc := p.Regexp.FindStringSubmatchIndex(cleaned)
		if loc == nil {
			continue
		}

		start, end := loc[0], loc[1]
		confidence := 1.0
		if start != 0 || end != len(cleaned) {
			coverage := float64(utf8.RuneCountInString(cleaned[start:end])) / float64(total)
			confidence = math.Min(0.95, coverage+0.15)
		}

		result.Intent = p.Intent
		result.Action = p.Action
		result.Confidence = intent.ClampConfidence(confidence)
		result.Slots = extractSlots(p, c, loc)
		return result
	}
	return result
}

// extractSlots reads captures. Numbers come from the cleaned text, where
// number words are already digits; free text is cut from the original so
// addresses, names and spelled-out words reach the page unchanged.
func extractSlots(p Pattern, c cleaned, loc []int) intent.Slots {
	slots := intent.Slots{}
	for i, s := range p.Slots {
		from, to := loc[2+2*i], loc[3+2*i]
		if from < 0 {
			continue
		}
		if s.Numeric {
			raw := strings.TrimSpace(c.text[from:to])
			if v, err := strconv.Atoi(raw); err == nil {
				slots[s.Name] = v
				continue
			}
		}
		if raw := c.source(from, to); raw != "" {
			slots[s.Name] = raw
		}
	}
	for k, v := range inferSlots(p.Action) {
		if _, ok := slots[k]; !ok {
			slots[k] = v
		}
	}
	return slots
}

// inferSlots derives slots from the words of an action name.
func inferSlots(action string) intent.Slots {
	slots := intent.Slots{}
	words := strings.Split(action, "_")
	zoom := false
	for _, w := range words {
		if w == "zoom" {
			zoom = true
		}
	}
	for _, w := range words {
		switch w {
		case "down", "up", "left", "right", "back", "forward", "next", "previous":
			slots["direction"] = w
		case "top", "bottom":
			slots["position"] = w
		case "in", "out":
			if zoom {
				slots["direction"] = w
			}
		}
	}
	return slots
}

type token struct {
	word        string
	placeholder string
}

func compileExample(s intent.Schema, example string, synonyms map[string][]string) ([]Pattern, error) {
	tokens, err := tokenize(example)
	if err != nil {
		return nil, err
	}

	action := actionName(tokens, s.Name)
	slots := slotNames(tokens, s, action)

	variants := [][]token{tokens}
	for i, tok := range tokens {
		for _, syn := range synonyms[tok.word] {
			v := make([]token, len(tokens))
			copy(v, tokens)
			v[i] = token{word: syn}
			variants = append(variants, v)
		}
	}

	patterns := make([]Pattern, 0, len(variants))
	for _, v := range variants {
		re, err := regexp.Compile(buildRegex(v))
		if err != nil {
			return nil, fmt.Errorf("nlu: compile %q: %w", example, err)
		}
		patterns = append(patterns, Pattern{
			Intent:  s.Name,
			Action:  action,
			Example: example,
			Regexp:  re,
			Slots:   slots,
		})
	}
	return patterns, nil
}

func tokenize(example string) ([]token, error) {
	fields := strings.Fields(strings.ToLower(example))
	if len(fields) == 0 {
		return nil, ErrEmptyExample
	}

	var tokens []token
	for _, f := range fields {
		if strings.ContainsAny(f, "{}") {
			if len(f) < 3 || f[0] != '{' || f[len(f)-1] != '}' || strings.Count(f, "{") != 1 || strings.Count(f, "}") != 1 {
				return nil, fmt.Errorf("%w in %q", ErrUnbalancedBraces, f)
			}
			name := f[1 : len(f)-1]
			if !placeholders[name] {
				return nil, fmt.Errorf("%w %q", ErrUnknownPlaceholder, name)
			}
			tokens = append(tokens, token{placeholder: name})
			continue
		}
		for _, w := range strings.Fields(Clean(f)) {
			tokens = append(tokens, token{word: w})
		}
	}
	if len(tokens) == 0 {
		return nil, ErrEmptyExample
	}
	return tokens, nil
}

func buildRegex(tokens []token) string {
	var b strings.Builder
	b.WriteString(`\b`)
	b.WriteString(politePrefix)

	wrote := false
	wordBoundary := false
	for i, tok := range tokens {
		last := i == len(tokens)-1
		switch {
		case tok.placeholder != "":
			if wrote {
				b.WriteString(`\s+`)
			}
			switch {
			case tok.placeholder == "number":
				b.WriteString(`(\d+)`)
				wordBoundary = true
			case last:
				b.WriteString(`(.+)`)
				wordBoundary = false
			default:
				b.WriteString(`(.+?)`)
				wordBoundary = false
			}
			wrote = true
		case determiners[tok.word]:
			q := regexp.QuoteMeta(tok.word)
			if wrote {
				b.WriteString(`(?:\s+` + q + `)?`)
			} else {
				b.WriteString(`(?:` + q + `\s+)?`)
			}
		default:
			if wrote {
				b.WriteString(optionalDet)
				b.WriteString(`\s+`)
			}
			b.WriteString(regexp.QuoteMeta(tok.word))
			wrote = true
			wordBoundary = true
		}
	}
	b.WriteString(politeSuffix)
	if wordBoundary {
		b.WriteString(`\b`)
	}
	return b.String()
}

func actionName(tokens []token, fallback string) string {
	var words []string
	for _, t := range tokens {
		if t.placeholder != "" || actionStopwords[t.word] {
			continue
		}
		words = append(words, t.word)
	}
	if len(words) == 0 {
		return fallback
	}
	return strings.Join(words, "_")
}

// slotNames names capture groups in order. Slot hints win, then explicit
// placeholder names, then action heuristics.
func slotNames(tokens []token, s intent.Schema, action string) []Slot {
	var slots []Slot
	first := strings.SplitN(action, "_", 2)[0]
	for _, t := range tokens {
		if t.placeholder == "" {
			continue
		}
		idx := len(slots)
		slot := Slot{Numeric: t.placeholder == "number"}
		switch {
		case idx < len(s.SlotHints) && s.SlotHints[idx] != "":
			slot.Name = s.SlotHints[idx]
		case t.placeholder != "number" && t.placeholder != "text":
			slot.Name = t.placeholder
		case slot.Numeric && strings.Contains(action, "link"):
			slot.Name = "index"
		case slot.Numeric:
			slot.Name = "amount"
		case first == "search" || first == "find" || first == "look":
			slot.Name = "query"
		case first == "type" || first == "fill" || first == "enter" || first == "input":
			slot.Name = "value"
		default:
			slot.Name = "target"
		}
		slots = append(slots, slot)
	}
	return slots
}
