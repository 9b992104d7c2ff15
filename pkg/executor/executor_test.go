package executor

import (
	"context"
	"errors"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-voicenav/internal/log"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/speech"
	"github.com/teslashibe/go-voicenav/pkg/surface"
	"github.com/teslashibe/go-voicenav/pkg/tts"
)

type signal struct {
	kind    Signal
	intent  string
	message string
}

type signalRecorder struct {
	mu      sync.Mutex
	signals []signal
}

func (r *signalRecorder) Signal(kind Signal, cmd intent.Command, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.signals = append(r.signals, signal{kind, cmd.Intent, message})
}

func (r *signalRecorder) last() signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.signals) == 0 {
		return signal{}
	}
	return r.signals[len(r.signals)-1]
}

type interruptCounter struct {
	mu sync.Mutex
	n  int
}

func (i *interruptCounter) Interrupt() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.n++
}

func (i *interruptCounter) count() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.n
}

type fixture struct {
	page    *surface.Mock
	engine  *tts.Mock
	speech  *speech.Coordinator
	signals *signalRecorder
	exec    *Executor
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	m := tts.NewMock()
	return newFixtureWithEngine(t, m, m, opts...)
}

// newFixtureWithEngine builds a fixture around engine; m is the mock
// view of the same engine used for assertions.
func newFixtureWithEngine(t *testing.T, engine tts.Engine, m *tts.Mock, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		page:    surface.NewMock(),
		engine:  m,
		signals: &signalRecorder{},
	}
	f.speech = speech.NewCoordinator(engine, speech.WithLogger(log.Discard()))
	t.Cleanup(func() { f.speech.Close() })

	base := []Option{WithLogger(log.Discard()), WithGraceDelay(10 * time.Millisecond)}
	exec, err := New(Deps{
		Page:     f.page,
		Speech:   f.speech,
		Registry: intent.Default(),
		Signaler: f.signals,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.exec = exec
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func (f *fixture) waitSpoken(t *testing.T, text string) {
	t.Helper()
	waitFor(t, "engine to speak "+text, func() bool {
		return slices.Contains(f.engine.Spoken(), text)
	})
}

func (f *fixture) waitInFlight(t *testing.T, text string) {
	t.Helper()
	waitFor(t, "in flight "+text, func() bool {
		return slices.Equal(f.engine.InFlight(), []string{text})
	})
}

func (f *fixture) waitPageCall(t *testing.T, call string) {
	t.Helper()
	waitFor(t, "page call "+call, func() bool {
		return slices.Contains(f.page.Calls(), call)
	})
}

func command(name, action string, slots intent.Slots) intent.Command {
	return intent.Command{Intent: name, Action: action, Slots: slots, Original: strings.ReplaceAll(action, "_", " "), Confidence: 1}
}

func TestNewRequiresDependencies(t *testing.T) {
	if _, err := New(Deps{}); !errors.Is(err, ErrMissingDependency) {
		t.Errorf("err = %v, want ErrMissingDependency", err)
	}
}

func TestNavigate(t *testing.T) {
	tests := []struct {
		name     string
		slots    intent.Slots
		wantCall string
		wantOK   bool
	}{
		{"scroll down", intent.Slots{"direction": "down"}, "Scroll down 0", true},
		{"scroll up by amount", intent.Slots{"direction": "up", "amount": 50}, "Scroll up 50", true},
		{"to the top", intent.Slots{"position": "top"}, "ScrollTo top", true},
		{"history back", intent.Slots{"direction": "back"}, "Navigate back", true},
		{"history forward", intent.Slots{"direction": "forward"}, "Navigate forward", true},
		{"no direction", intent.Slots{}, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.exec.Execute(context.Background(), command("navigate", "scroll", tt.slots))
			if res.Success != tt.wantOK {
				t.Fatalf("Success = %v (%s)", res.Success, res.Message)
			}
			if got := f.page.LastCall(); got != tt.wantCall {
				t.Errorf("page call = %q, want %q", got, tt.wantCall)
			}
		})
	}
}

func TestNavigatePageError(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("detached")
	f.page.Errs["Scroll"] = boom

	res := f.exec.Execute(context.Background(), command("navigate", "scroll_down", intent.Slots{"direction": "down"}))
	if res.Success || !errors.Is(res.Err, boom) {
		t.Errorf("result = %+v", res)
	}
	if err := f.exec.Run(context.Background(), command("navigate", "scroll_down", intent.Slots{"direction": "down"})); !errors.Is(err, boom) {
		t.Errorf("Run err = %v", err)
	}
}

func TestZoom(t *testing.T) {
	tests := []struct {
		name   string
		action string
		slots  intent.Slots
		want   int
		wantOK bool
	}{
		{"percent", "zoom_percent", intent.Slots{"percent": 150}, 150, true},
		{"in", "zoom_in", intent.Slots{"direction": "in"}, 110, true},
		{"out", "zoom_out", intent.Slots{"direction": "out"}, 90, true},
		{"reset", "reset_zoom", intent.Slots{}, 100, true},
		{"clamped high", "zoom_percent", intent.Slots{"percent": 1000}, MaxZoom, true},
		{"clamped low", "zoom_percent", intent.Slots{"percent": 5}, MinZoom, true},
		{"ambiguous", "zoom", intent.Slots{}, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.exec.Execute(context.Background(), command("zoom", tt.action, tt.slots))
			if res.Success != tt.wantOK {
				t.Fatalf("Success = %v (%s)", res.Success, res.Message)
			}
			if f.page.ZoomLevel != tt.want {
				t.Errorf("zoom = %d, want %d", f.page.ZoomLevel, tt.want)
			}
		})
	}
}

func TestUnknownIntent(t *testing.T) {
	f := newFixture(t)
	res := f.exec.Execute(context.Background(), command(intent.Unknown, "", nil))
	if res.Success || res.Message != "Sorry, I didn't understand" {
		t.Errorf("result = %+v", res)
	}
	if s := f.signals.last(); s.kind != SignalError {
		t.Errorf("signal = %+v", s)
	}
	f.waitSpoken(t, "Sorry, I didn't understand")
}

func TestFeedback(t *testing.T) {
	t.Run("spoken confirmation", func(t *testing.T) {
		f := newFixture(t, WithSpokenConfirmations(true))
		f.exec.Execute(context.Background(), command("navigate", "scroll_down", intent.Slots{"direction": "down"}))
		if s := f.signals.last(); s.kind != SignalConfirm || s.message != "Scrolled down." {
			t.Errorf("signal = %+v", s)
		}
		f.waitSpoken(t, "Scrolled down.")
	})

	t.Run("silent confirmation", func(t *testing.T) {
		f := newFixture(t)
		f.exec.Execute(context.Background(), command("navigate", "scroll_down", intent.Slots{"direction": "down"}))
		if s := f.signals.last(); s.kind != SignalConfirm {
			t.Errorf("signal = %+v", s)
		}
		time.Sleep(20 * time.Millisecond)
		if n := f.engine.CallCount("Speak"); n != 0 {
			t.Errorf("engine spoke %d times", n)
		}
	})

	t.Run("long failure is not spoken", func(t *testing.T) {
		f := newFixture(t)
		query := strings.Repeat("very long query ", 10)
		res := f.exec.Execute(context.Background(), command("search", "search", intent.Slots{"query": query}))
		if res.Success || len(res.Message) <= 120 {
			t.Fatalf("result = %+v", res)
		}
		if s := f.signals.last(); s.kind != SignalError {
			t.Errorf("signal = %+v", s)
		}
		time.Sleep(20 * time.Millisecond)
		if n := f.engine.CallCount("Speak"); n != 0 {
			t.Errorf("engine spoke %d times", n)
		}
	})

	// The limit is on what the listener hears, so it counts characters.
	for _, tt := range []struct {
		name   string
		query  string
		spoken bool
	}{
		{"multibyte under limit", strings.Repeat("日", 60), true},
		{"multibyte over limit", strings.Repeat("日", 110), false},
		{"accented under limit", strings.Repeat("é", 100), true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			res := f.exec.Execute(context.Background(), command("search", "search", intent.Slots{"query": tt.query}))
			if res.Success || len(res.Message) <= 120 {
				t.Fatalf("result = %+v", res)
			}
			if tt.spoken {
				f.waitSpoken(t, res.Message)
				return
			}
			time.Sleep(20 * time.Millisecond)
			if n := f.engine.CallCount("Speak"); n != 0 {
				t.Errorf("engine spoke %d times", n)
			}
		})
	}
}

func TestStopBypassesDispatch(t *testing.T) {
	f := newFixture(t)
	q := &interruptCounter{}
	f.exec.BindQueue(q)

	f.page.Content = []surface.Block{{ID: "b1", Text: "Some text."}}
	f.exec.Execute(context.Background(), command("read", "read_page", nil))
	f.waitInFlight(t, "Some text.")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := f.exec.Execute(ctx, command(intent.Stop, "stop", nil))
	if !res.Success {
		t.Fatalf("stop failed: %s", res.Message)
	}
	if q.count() != 1 {
		t.Errorf("Interrupt called %d times", q.count())
	}
	if st := f.exec.Reader().Status(); st.State != StateStopped {
		t.Errorf("reader state = %s", st.State)
	}
	f.waitPageCall(t, "ClearHighlights")
}

func TestStopWithoutQueueStopsSpeech(t *testing.T) {
	f := newFixture(t)
	read := f.speech.SpeakContinuous([]string{"a", "b"}, speech.ContinuousOptions{}, nil)
	f.waitInFlight(t, "a")

	res := f.exec.Execute(context.Background(), command(intent.Cancel, "cancel", nil))
	if !res.Success || res.Message != "Cancelled." {
		t.Errorf("result = %+v", res)
	}
	select {
	case <-read.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("read was not stopped")
	}
}

func TestConfirmationFlow(t *testing.T) {
	ctx := context.Background()
	submit := command("submit", "submit_form", nil)

	t.Run("confirm runs the held command", func(t *testing.T) {
		f := newFixture(t)
		res := f.exec.Execute(ctx, submit)
		if !res.Success || !strings.Contains(res.Message, "Say yes or no") {
			t.Fatalf("hold result = %+v", res)
		}
		if slices.Contains(f.page.Calls(), "Submit") {
			t.Fatal("submitted before confirmation")
		}
		if _, held := f.exec.PendingConfirmation(); !held {
			t.Fatal("expected a pending confirmation")
		}
		if s := f.signals.last(); s.kind != SignalConfirm {
			t.Errorf("signal = %+v", s)
		}
		f.waitSpoken(t, res.Message)

		res = f.exec.Execute(ctx, command(intent.Confirm, "yes", nil))
		if !res.Success || res.Message != "Form submitted." {
			t.Errorf("confirm result = %+v", res)
		}
		if f.page.LastCall() != "Submit" {
			t.Errorf("last page call = %q", f.page.LastCall())
		}
		if _, held := f.exec.PendingConfirmation(); held {
			t.Error("confirmation should be consumed")
		}
	})

	t.Run("deny drops the held command", func(t *testing.T) {
		f := newFixture(t)
		f.exec.Execute(ctx, submit)
		res := f.exec.Execute(ctx, command(intent.Deny, "no", nil))
		if !res.Success {
			t.Errorf("deny result = %+v", res)
		}
		if res := f.exec.Execute(ctx, command(intent.Confirm, "yes", nil)); res.Success {
			t.Error("confirm after deny should fail")
		}
		if slices.Contains(f.page.Calls(), "Submit") {
			t.Error("denied command was submitted")
		}
	})

	t.Run("held command expires", func(t *testing.T) {
		now := time.Now()
		f := newFixture(t, withClock(func() time.Time { return now }), WithConfirmTTL(30*time.Second))
		f.exec.Execute(ctx, submit)
		now = now.Add(31 * time.Second)
		res := f.exec.Execute(ctx, command(intent.Confirm, "yes", nil))
		if res.Success || res.Message != "There is nothing to confirm." {
			t.Errorf("result = %+v", res)
		}
	})

	t.Run("nothing to confirm", func(t *testing.T) {
		f := newFixture(t)
		if res := f.exec.Execute(ctx, command(intent.Deny, "no", nil)); res.Success {
			t.Errorf("result = %+v", res)
		}
	})
}

func TestUnsupportedCapabilities(t *testing.T) {
	f := newFixture(t)
	exec, err := New(Deps{Page: struct{ surface.Page }{f.page}, Speech: f.speech}, WithLogger(log.Discard()))
	if err != nil {
		t.Fatal(err)
	}

	for _, cmd := range []intent.Command{
		command("links", "list_links", nil),
		command("search", "search", intent.Slots{"query": "x"}),
		command("form", "type", intent.Slots{"value": "x"}),
		command("highlight", "highlight", intent.Slots{"target": "x"}),
		command("read", "read_page", nil),
		command("reading", "next_paragraph", nil),
	} {
		res := exec.Execute(context.Background(), cmd)
		if res.Success || !errors.Is(res.Err, surface.ErrUnsupported) {
			t.Errorf("%s: result = %+v", cmd.Intent, res)
		}
	}
	if got := exec.Capabilities().Names(); len(got) != 0 {
		t.Errorf("capabilities = %v", got)
	}
}

func TestLinks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.page.LinkList = []surface.Link{
		{Index: 1, Text: "Home", URL: "/"},
		{Index: 2, Text: "Pricing", URL: "/pricing"},
	}

	res := f.exec.Execute(ctx, command("links", "list_links", nil))
	want := "There are 2 links. 1, Home. 2, Pricing."
	if !res.Success || res.Message != want {
		t.Errorf("list = %+v", res)
	}
	f.waitSpoken(t, want)

	if res := f.exec.Execute(ctx, command("links", "open_link", intent.Slots{"index": 2})); !res.Success {
		t.Errorf("open = %+v", res)
	}
	if f.page.LastCall() != "OpenLink 2" {
		t.Errorf("last call = %q", f.page.LastCall())
	}

	res = f.exec.Execute(ctx, command("links", "open_link", intent.Slots{"index": 9}))
	if res.Success || res.Message != "There is no link 9." {
		t.Errorf("missing link = %+v", res)
	}

	if res := f.exec.Execute(ctx, command("links", "click", intent.Slots{"target": "pricing"})); !res.Success {
		t.Errorf("click = %+v", res)
	}
}

func TestSearchFormHighlight(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name     string
		cmd      intent.Command
		matches  int
		wantOK   bool
		wantMsg  string
		wantCall string
	}{
		{"search hit", command("search", "search", intent.Slots{"query": "cats"}), 3, true, "Found 3 matches for cats.", "Search cats"},
		{"search single", command("search", "find", intent.Slots{"query": "cats"}), 1, true, "Found 1 match for cats.", "Search cats"},
		{"search miss", command("search", "search", intent.Slots{"query": "dogs"}), 0, false, "No matches for dogs.", "Search dogs"},
		{"search empty", command("search", "search", nil), 0, false, "What should I search for?", ""},
		{"fill field", command("form", "fill", intent.Slots{"field": "email", "value": "a@b.c"}), 0, true, "Filled email.", "Fill email a@b.c"},
		{"type text", command("form", "type", intent.Slots{"value": "hello"}), 0, true, "Typed.", "Type hello"},
		{"highlight", command("highlight", "highlight", intent.Slots{"target": "price"}), 2, true, "Highlighted price.", "HighlightText price"},
		{"highlight miss", command("highlight", "highlight", intent.Slots{"target": "zzz"}), 0, false, "I couldn't find zzz.", "HighlightText zzz"},
		{"clear highlights", command("highlight", "clear_highlights", nil), 0, true, "Highlights cleared.", "ClearHighlights"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.page.Matches = tt.matches
			res := f.exec.Execute(ctx, tt.cmd)
			if res.Success != tt.wantOK || res.Message != tt.wantMsg {
				t.Errorf("result = %+v, want success=%v message=%q", res, tt.wantOK, tt.wantMsg)
			}
			if got := f.page.LastCall(); got != tt.wantCall {
				t.Errorf("page call = %q, want %q", got, tt.wantCall)
			}
		})
	}
}

func TestDescribe(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t)
	f.page.Summary = "A news article about otters."
	res := f.exec.Execute(ctx, command("describe", "describe_page", nil))
	if !res.Success || res.Message != f.page.Summary {
		t.Errorf("result = %+v", res)
	}
	f.waitSpoken(t, f.page.Summary)

	f = newFixture(t)
	res = f.exec.Execute(ctx, command("describe", "where", nil))
	if res.Message != "This page is Example." {
		t.Errorf("fallback description = %q", res.Message)
	}
}

func TestHelpListsIntents(t *testing.T) {
	f := newFixture(t)
	res := f.exec.Execute(context.Background(), command("help", "help", nil))
	if !res.Success || !strings.HasPrefix(res.Message, "You can say: ") {
		t.Fatalf("result = %+v", res)
	}
	for _, want := range []string{"read this page", "reset zoom", "list links"} {
		if !strings.Contains(res.Message, want) {
			t.Errorf("help %q missing %q", res.Message, want)
		}
	}
	if strings.Contains(res.Message, "{") {
		t.Errorf("help contains a placeholder: %q", res.Message)
	}
}
