// Package surface declares the page a command acts on.
//
// Page is the mandatory core every surface implements. Everything else
// (reading blocks, links, search, forms, highlights, descriptions) is an
// optional capability interface. Probe resolves the optional ones once so
// callers never type-assert per call.
package surface

import (
	"context"
	"errors"
)

// Sentinel errors.
var (
	// ErrUnsupported is returned when a page lacks a capability.
	ErrUnsupported = errors.New("surface: operation not supported")

	// ErrNotFound is returned when a link, field or block does not exist.
	ErrNotFound = errors.New("surface: element not found")
)

// Direction is a scroll or history direction.
type Direction string

const (
	Up       Direction = "up"
	Down     Direction = "down"
	Left     Direction = "left"
	Right    Direction = "right"
	Backward Direction = "back"
	Forward  Direction = "forward"
)

// Position is an absolute scroll target.
type Position string

const (
	Top    Position = "top"
	Bottom Position = "bottom"
)

// Info identifies the current page.
type Info struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// Page is the core action surface.
type Page interface {
	// Scroll moves the viewport. An amount of 0 means one screen;
	// otherwise it is a percentage of the viewport.
	Scroll(ctx context.Context, dir Direction, amount int) error

	// ScrollTo jumps to the top or bottom.
	ScrollTo(ctx context.Context, pos Position) error

	// Navigate moves through history (Backward or Forward).
	Navigate(ctx context.Context, dir Direction) error

	// Zoom returns the current zoom percent.
	Zoom(ctx context.Context) (int, error)

	// SetZoom sets the zoom percent.
	SetZoom(ctx context.Context, percent int) error

	// Info returns the page URL and title.
	Info(ctx context.Context) (Info, error)
}

// Block is a readable unit of page content, usually a paragraph.
type Block struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Reader extracts readable blocks in document order.
type Reader interface {
	Blocks(ctx context.Context) ([]Block, error)
}

// Highlighter marks content on the page.
type Highlighter interface {
	HighlightBlock(ctx context.Context, id string) error
	HighlightText(ctx context.Context, text string) (int, error)
	ClearHighlights(ctx context.Context) error
}

// Link is a numbered link on the page. Index starts at 1.
type Link struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
	URL   string `json:"url"`
}

// LinkOpener lists and follows links.
type LinkOpener interface {
	Links(ctx context.Context) ([]Link, error)
	OpenLink(ctx context.Context, index int) error
	ClickText(ctx context.Context, text string) error
}

// Searcher finds text on the page and returns the number of matches.
type Searcher interface {
	Search(ctx context.Context, query string) (int, error)
}

// FormFiller edits and submits forms.
type FormFiller interface {
	Fill(ctx context.Context, field, value string) error
	Type(ctx context.Context, text string) error
	Submit(ctx context.Context) error
}

// Describer summarizes the page.
type Describer interface {
	Describe(ctx context.Context) (string, error)
}

// Capabilities are the optional interfaces a Page implements. A nil field
// means unsupported.
type Capabilities struct {
	Reader      Reader
	Highlighter Highlighter
	Links       LinkOpener
	Search      Searcher
	Forms       FormFiller
	Describer   Describer
}

// Probe resolves the optional capabilities of p.
func Probe(p Page) Capabilities {
	var c Capabilities
	c.Reader, _ = p.(Reader)
	c.Highlighter, _ = p.(Highlighter)
	c.Links, _ = p.(LinkOpener)
	c.Search, _ = p.(Searcher)
	c.Forms, _ = p.(FormFiller)
	c.Describer, _ = p.(Describer)
	return c
}

// Names lists the supported capabilities.
func (c Capabilities) Names() []string {
	var names []string
	add := func(ok bool, name string) {
		if ok {
			names = append(names, name)
		}
	}
	add(c.Reader != nil, "read")
	add(c.Highlighter != nil, "highlight")
	add(c.Links != nil, "links")
	add(c.Search != nil, "search")
	add(c.Forms != nil, "forms")
	add(c.Describer != nil, "describe")
	return names
}
