package surface

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Mock implements Page and every capability for testing.
type Mock struct {
	mu sync.Mutex

	// Fixture state.
	Page      Info
	Content   []Block
	LinkList  []Link
	Matches   int
	Summary   string
	Fields    map[string]string
	ZoomLevel int

	// Errs forces a method (by name) to fail.
	Errs map[string]error

	calls []string
}

// NewMock creates a mock page at 100% zoom.
func NewMock() *Mock {
	return &Mock{
		Page:      Info{URL: "https://example.com/", Title: "Example"},
		ZoomLevel: 100,
		Fields:    make(map[string]string),
		Errs:      make(map[string]error),
	}
}

func (m *Mock) record(method string, args ...any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := method
	if len(args) > 0 {
		parts := make([]string, len(args))
		for i, a := range args {
			parts[i] = fmt.Sprint(a)
		}
		call += " " + strings.Join(parts, " ")
	}
	m.calls = append(m.calls, call)
	return m.Errs[method]
}

// Calls returns every recorded call, e.g. "Scroll down 0".
func (m *Mock) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// LastCall returns the most recent call or "".
func (m *Mock) LastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

// Reset clears recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *Mock) Scroll(_ context.Context, dir Direction, amount int) error {
	return m.record("Scroll", dir, amount)
}

func (m *Mock) ScrollTo(_ context.Context, pos Position) error {
	return m.record("ScrollTo", pos)
}

func (m *Mock) Navigate(_ context.Context, dir Direction) error {
	return m.record("Navigate", dir)
}

func (m *Mock) Zoom(context.Context) (int, error) {
	if err := m.record("Zoom"); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ZoomLevel, nil
}

func (m *Mock) SetZoom(_ context.Context, percent int) error {
	if err := m.record("SetZoom", percent); err != nil {
		return err
	}
	m.mu.Lock()
	m.ZoomLevel = percent
	m.mu.Unlock()
	return nil
}

func (m *Mock) Info(context.Context) (Info, error) {
	if err := m.record("Info"); err != nil {
		return Info{}, err
	}
	return m.Page, nil
}

func (m *Mock) Blocks(context.Context) ([]Block, error) {
	if err := m.record("Blocks"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Block(nil), m.Content...), nil
}

func (m *Mock) HighlightBlock(_ context.Context, id string) error {
	return m.record("HighlightBlock", id)
}

func (m *Mock) HighlightText(_ context.Context, text string) (int, error) {
	if err := m.record("HighlightText", text); err != nil {
		return 0, err
	}
	return m.Matches, nil
}

func (m *Mock) ClearHighlights(context.Context) error {
	return m.record("ClearHighlights")
}

func (m *Mock) Links(context.Context) ([]Link, error) {
	if err := m.record("Links"); err != nil {
		return nil, err
	}
	return append([]Link(nil), m.LinkList...), nil
}

func (m *Mock) OpenLink(_ context.Context, index int) error {
	if err := m.record("OpenLink", index); err != nil {
		return err
	}
	if index < 1 || index > len(m.LinkList) {
		return ErrNotFound
	}
	return nil
}

func (m *Mock) ClickText(_ context.Context, text string) error {
	if err := m.record("ClickText", text); err != nil {
		return err
	}
	for _, l := range m.LinkList {
		if strings.Contains(strings.ToLower(l.Text), text) {
			return nil
		}
	}
	return ErrNotFound
}

func (m *Mock) Search(_ context.Context, query string) (int, error) {
	if err := m.record("Search", query); err != nil {
		return 0, err
	}
	return m.Matches, nil
}

func (m *Mock) Fill(_ context.Context, field, value string) error {
	if err := m.record("Fill", field, value); err != nil {
		return err
	}
	m.mu.Lock()
	m.Fields[field] = value
	m.mu.Unlock()
	return nil
}

func (m *Mock) Type(_ context.Context, text string) error {
	return m.record("Type", text)
}

func (m *Mock) Submit(context.Context) error {
	return m.record("Submit")
}

func (m *Mock) Describe(context.Context) (string, error) {
	if err := m.record("Describe"); err != nil {
		return "", err
	}
	return m.Summary, nil
}

var (
	_ Page        = (*Mock)(nil)
	_ Reader      = (*Mock)(nil)
	_ Highlighter = (*Mock)(nil)
	_ LinkOpener  = (*Mock)(nil)
	_ Searcher    = (*Mock)(nil)
	_ FormFiller  = (*Mock)(nil)
	_ Describer   = (*Mock)(nil)
)
