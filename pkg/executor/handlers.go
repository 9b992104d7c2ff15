package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/surface"
)

// Zoom limits.
const (
	MinZoom  = 25
	MaxZoom  = 500
	ZoomStep = 10

	maxListedLinks = 10
)

func unsupported(what string) Result {
	return failErr(fmt.Sprintf("This page doesn't support %s.", what), surface.ErrUnsupported)
}

func hasWord(action string, words ...string) bool {
	for _, part := range strings.Split(action, "_") {
		for _, w := range words {
			if part == w {
				return true
			}
		}
	}
	return false
}

func (e *Executor) navigate(ctx context.Context, cmd intent.Command) Result {
	if pos := cmd.Slots.String("position"); pos != "" {
		if err := e.page.ScrollTo(ctx, surface.Position(pos)); err != nil {
			return failErr("I couldn't scroll the page.", err)
		}
		return ok(fmt.Sprintf("Scrolled to the %s.", pos))
	}

	dir := cmd.Slots.String("direction")
	switch dir {
	case "back", "forward":
		if err := e.page.Navigate(ctx, surface.Direction(dir)); err != nil {
			return failErr(fmt.Sprintf("I couldn't go %s.", dir), err)
		}
		return ok(fmt.Sprintf("Going %s.", dir))
	case "up", "down", "left", "right":
		amount, _ := cmd.Slots.Int("amount")
		if err := e.page.Scroll(ctx, surface.Direction(dir), amount); err != nil {
			return failErr("I couldn't scroll the page.", err)
		}
		return ok(fmt.Sprintf("Scrolled %s.", dir))
	}
	return fail("Which way should I go?")
}

func (e *Executor) zoom(ctx context.Context, cmd intent.Command) Result {
	target, explicit := cmd.Slots.Int("percent")
	if !explicit {
		target, explicit = cmd.Slots.Int("amount")
	}

	if !explicit {
		switch dir := cmd.Slots.String("direction"); {
		case hasWord(cmd.Action, "reset"):
			target = 100
		case dir == "in" || dir == "out":
			cur, err := e.page.Zoom(ctx)
			if err != nil {
				return failErr("I couldn't read the zoom level.", err)
			}
			target = cur + ZoomStep
			if dir == "out" {
				target = cur - ZoomStep
			}
		default:
			return fail("Should I zoom in or out?")
		}
	}

	target = max(MinZoom, min(MaxZoom, target))
	if err := e.page.SetZoom(ctx, target); err != nil {
		return failErr("I couldn't change the zoom.", err)
	}
	return ok(fmt.Sprintf("Zoom %d percent.", target))
}

func (e *Executor) read(ctx context.Context, _ intent.Command) Result {
	err := e.reader.Start(ctx)
	switch {
	case errors.Is(err, surface.ErrUnsupported):
		return unsupported("reading aloud")
	case errors.Is(err, ErrNothingToRead):
		return failErr("There's nothing to read on this page.", err)
	case err != nil:
		return failErr("I couldn't read this page.", err)
	}
	return ok("Reading.").silent()
}

func (e *Executor) reading(ctx context.Context, cmd intent.Command) Result {
	var (
		err error
		msg string
	)
	dir := cmd.Slots.String("direction")
	switch {
	case hasWord(cmd.Action, "pause"):
		err, msg = e.reader.Pause(), "Paused."
	case hasWord(cmd.Action, "resume", "continue"):
		err, msg = e.reader.Resume(), "Resuming."
	case hasWord(cmd.Action, "next", "skip") || dir == "next":
		err, msg = e.reader.Next(ctx), "Next paragraph."
	case hasWord(cmd.Action, "previous", "back") || dir == "previous" || dir == "back":
		err, msg = e.reader.Previous(ctx), "Previous paragraph."
	default:
		return fail(msgNotUnderstood)
	}

	switch {
	case err == nil:
		return ok(msg).silent()
	case errors.Is(err, surface.ErrUnsupported):
		return unsupported("reading aloud")
	case errors.Is(err, ErrNotReading):
		return failErr("Nothing is being read.", err)
	case errors.Is(err, ErrNotPaused):
		return failErr("Reading isn't paused.", err)
	case errors.Is(err, ErrNoMoreBlocks):
		return failErr("That was the last paragraph.", err)
	case errors.Is(err, ErrAtStart):
		return failErr("That was the first paragraph.", err)
	case errors.Is(err, ErrNothingToRead):
		return failErr("There's nothing to read on this page.", err)
	default:
		return failErr("I couldn't do that.", err)
	}
}

func (e *Executor) links(ctx context.Context, cmd intent.Command) Result {
	l := e.caps.Links
	if l == nil {
		return unsupported("links")
	}

	if hasWord(cmd.Action, "list", "show") {
		links, err := l.Links(ctx)
		if err != nil {
			return failErr("I couldn't list the links.", err)
		}
		if len(links) == 0 {
			return fail("There are no links on this page.")
		}
		msg := describeLinks(links)
		e.say(msg)
		return ok(msg).silent()
	}

	if n, found := cmd.Slots.Int("index"); found {
		if err := l.OpenLink(ctx, n); err != nil {
			if errors.Is(err, surface.ErrNotFound) {
				return failErr(fmt.Sprintf("There is no link %d.", n), err)
			}
			return failErr("I couldn't open that link.", err)
		}
		return ok(fmt.Sprintf("Opening link %d.", n))
	}

	if text := cmd.Slots.String("target"); text != "" {
		if err := l.ClickText(ctx, text); err != nil {
			if errors.Is(err, surface.ErrNotFound) {
				return failErr(fmt.Sprintf("I couldn't find %s.", text), err)
			}
			return failErr("I couldn't click that.", err)
		}
		return ok(fmt.Sprintf("Clicked %s.", text))
	}
	return fail("Which link?")
}

func describeLinks(links []surface.Link) string {
	var b strings.Builder
	if len(links) == 1 {
		b.WriteString("There is 1 link.")
	} else {
		fmt.Fprintf(&b, "There are %d links.", len(links))
	}
	for i, l := range links {
		if i == maxListedLinks {
			break
		}
		fmt.Fprintf(&b, " %d, %s.", l.Index, l.Text)
	}
	return b.String()
}

func (e *Executor) search(ctx context.Context, cmd intent.Command) Result {
	if e.caps.Search == nil {
		return unsupported("search")
	}
	query := firstSlot(cmd.Slots, "query", "target", "value")
	if query == "" {
		return fail("What should I search for?")
	}
	n, err := e.caps.Search.Search(ctx, query)
	switch {
	case err != nil:
		return failErr("Search failed.", err)
	case n == 0:
		return fail(fmt.Sprintf("No matches for %s.", query))
	case n == 1:
		return ok(fmt.Sprintf("Found 1 match for %s.", query))
	}
	return ok(fmt.Sprintf("Found %d matches for %s.", n, query))
}

func (e *Executor) form(ctx context.Context, cmd intent.Command) Result {
	f := e.caps.Forms
	if f == nil {
		return unsupported("forms")
	}
	field, value := cmd.Slots.String("field"), cmd.Slots.String("value")
	if field != "" {
		if err := f.Fill(ctx, field, value); err != nil {
			if errors.Is(err, surface.ErrNotFound) {
				return failErr(fmt.Sprintf("I couldn't find the %s field.", field), err)
			}
			return failErr("I couldn't fill that in.", err)
		}
		return ok(fmt.Sprintf("Filled %s.", field))
	}

	text := firstSlot(cmd.Slots, "value", "target", "query")
	if text == "" {
		return fail("What should I type?")
	}
	if err := f.Type(ctx, text); err != nil {
		return failErr("I couldn't type that.", err)
	}
	return ok("Typed.")
}

func (e *Executor) submit(ctx context.Context, _ intent.Command) Result {
	if e.caps.Forms == nil {
		return unsupported("forms")
	}
	if err := e.caps.Forms.Submit(ctx); err != nil {
		return failErr("I couldn't submit the form.", err)
	}
	return ok("Form submitted.")
}

func (e *Executor) highlight(ctx context.Context, cmd intent.Command) Result {
	h := e.caps.Highlighter
	if h == nil {
		return unsupported("highlighting")
	}
	if hasWord(cmd.Action, "clear") {
		if err := h.ClearHighlights(ctx); err != nil {
			return failErr("I couldn't clear the highlights.", err)
		}
		return ok("Highlights cleared.")
	}

	text := firstSlot(cmd.Slots, "target", "query", "value")
	if text == "" {
		return fail("What should I highlight?")
	}
	n, err := h.HighlightText(ctx, text)
	switch {
	case err != nil:
		return failErr("I couldn't highlight that.", err)
	case n == 0:
		return fail(fmt.Sprintf("I couldn't find %s.", text))
	}
	return ok(fmt.Sprintf("Highlighted %s.", text))
}

func (e *Executor) describe(ctx context.Context, _ intent.Command) Result {
	var msg string
	if d := e.caps.Describer; d != nil {
		summary, err := d.Describe(ctx)
		if err != nil {
			return failErr("I couldn't describe this page.", err)
		}
		msg = summary
	}
	if msg == "" {
		info, err := e.page.Info(ctx)
		if err != nil {
			return failErr("I couldn't describe this page.", err)
		}
		msg = fmt.Sprintf("This page is %s.", info.Title)
	}
	e.say(msg)
	return ok(msg).silent()
}

func (e *Executor) help(context.Context, intent.Command) Result {
	msg := "You can say things like scroll down, read this page, or open link 1."
	if e.registry != nil {
		var examples []string
		for _, s := range e.registry.Schemas() {
			switch s.Name {
			case intent.Stop, intent.Cancel, intent.Confirm, intent.Deny, "help":
				continue
			}
			if ex := exampleFor(s); ex != "" {
				examples = append(examples, ex)
			}
		}
		if len(examples) > 0 {
			msg = "You can say: " + strings.Join(examples, ", ") + "."
		}
	}
	e.say(msg)
	return ok(msg).silent()
}

// exampleFor picks the first example without placeholders.
func exampleFor(s intent.Schema) string {
	for _, ex := range s.Examples {
		if !strings.Contains(ex, "{") {
			return ex
		}
	}
	return ""
}

// describeAction renders a held command for the confirmation prompt.
func describeAction(cmd intent.Command) string {
	if cmd.Original != "" {
		return cmd.Original
	}
	if cmd.Action != "" {
		return strings.ReplaceAll(cmd.Action, "_", " ")
	}
	return cmd.Intent
}

func firstSlot(s intent.Slots, keys ...string) string {
	for _, k := range keys {
		if v := s.String(k); v != "" {
			return v
		}
	}
	return ""
}
