package speech

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
		want []string
	}{
		{"single chunk", "Hello there. How are you?", 100, []string{"Hello there. How are you?"}},
		{"sentence per chunk", "Hello. World.", 8, []string{"Hello. ", "World."}},
		{"accumulate to limit", "One. Two. Three.", 10, []string{"One. Two. ", "Three."}},
		{"hard split at whitespace", "aaaa bbbb cccc", 6, []string{"aaaa ", "bbbb ", "cccc"}},
		{"hard split without whitespace", "abcdefgh", 3, []string{"abc", "def", "gh"}},
		{"newline ends sentence", "line one\nline two", 10, []string{"line one\n", "line two"}},
		{"decimal is not a boundary", "Version 1.5 is out. Yes.", 20, []string{"Version 1.5 is out. ", "Yes."}},
		{"closing quote stays", `He said "stop." Then left.`, 16, []string{`He said "stop." `, "Then left."}},
		{"blank", "  \n ", 10, nil},
		{"empty", "", 10, nil},
		{"default max", "Short text.", 0, []string{"Short text."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Split(tt.text, tt.max)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
			}
		})
	}
}

func TestSplitReconstructsLongText(t *testing.T) {
	var b strings.Builder
	sentences := []string{
		"The quick brown fox jumps over the lazy dog. ",
		"Voice navigation makes the web usable without a mouse! ",
		"Does it handle questions? ",
		"Café menus, naïve résumés and other accents survive.\n",
	}
	for i := 0; b.Len() < 3300; i++ {
		b.WriteString(sentences[i%len(sentences)])
	}
	// One sentence far longer than a chunk.
	b.WriteString(strings.Repeat("word ", 300))
	b.WriteString(strings.Repeat("x", 700))
	b.WriteString(". The end.")
	text := b.String()
	if n := utf8.RuneCountInString(text); n < 5000 {
		t.Fatalf("fixture is %d runes, want at least 5000", n)
	}

	chunks := Split(text, 1600)
	if len(chunks) < 4 {
		t.Fatalf("got %d chunks, want at least 4", len(chunks))
	}
	for i, c := range chunks {
		if n := utf8.RuneCountInString(c); n > 1600 {
			t.Errorf("chunk %d has %d runes", i, n)
		}
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is blank", i)
		}
	}
	if got := strings.Join(chunks, ""); got != text {
		t.Error("chunks do not reconstruct the input")
	}
}

func TestSplitRuneBoundaries(t *testing.T) {
	text := strings.Repeat("é", 10)
	chunks := Split(text, 4)
	want := []string{"éééé", "éééé", "éé"}
	if !reflect.DeepEqual(chunks, want) {
		t.Errorf("Split = %q, want %q", chunks, want)
	}
}
