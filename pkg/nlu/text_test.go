package nlu

import "testing"

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Scroll Down!", "scroll down"},
		{"  open   link\tthree ", "open link 3"},
		{"Don’t stop", "don't stop"},
		{"zoom to 150%", "zoom to 150 percent"},
		{"twenty five", "25"},
		{"one hundred and five", "105"},
		{"two hundred", "200"},
		{"hundred", "100"},
		{"ninety nine red balloons", "99 red balloons"},
		{"zero", "0"},
		{"well-known", "well known"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Clean(tt.in); got != tt.want {
				t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCleanSource(t *testing.T) {
	tests := []struct {
		in       string
		from, to int // token range in the cleaned text
		want     string
	}{
		{"type John.Doe@example.com", 1, 5, "John.Doe@example.com"},
		{"scroll twenty five lines", 1, 2, "twenty five"},
		{"zoom to 50%", 2, 4, "50%"},
		{"Don’t stop!", 0, 2, "Don’t stop"},
		{"find  a - b ", 1, 3, "a - b"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			c := clean(tt.in)
			from := c.offset[tt.from]
			to := c.offset[tt.to-1] + len(c.tokens[tt.to-1])
			if got := c.source(from, to); got != tt.want {
				t.Errorf("source(%q) = %q, want %q", c.text[from:to], got, tt.want)
			}
		})
	}
}
