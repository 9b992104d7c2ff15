package fallback

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teslashibe/go-voicenav/internal/log"
	"github.com/teslashibe/go-voicenav/pkg/inference"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/resolver"
)

func TestProcessCommand(t *testing.T) {
	tests := []struct {
		name       string
		reply      string
		wantIntent string
		wantConf   float64
		wantErr    error
	}{
		{
			name:       "plain json",
			reply:      `{"intent":"zoom","action":"zoom_in","slots":{"direction":"in"},"confidence":0.82,"reasoning":"bigger"}`,
			wantIntent: "zoom",
			wantConf:   0.82,
		},
		{
			name:       "fenced",
			reply:      "```json\n{\"intent\":\"Links\",\"slots\":{\"index\":2},\"confidence\":0.7}\n```",
			wantIntent: "links",
			wantConf:   0.7,
		},
		{
			name:       "invented intent",
			reply:      `{"intent":"teleport","confidence":0.9}`,
			wantIntent: intent.Unknown,
			wantConf:   0,
		},
		{
			name:    "prose",
			reply:   "I think you want to zoom.",
			wantErr: ErrMalformedReply,
		},
		{
			name:    "broken json",
			reply:   `{"intent": zoom}`,
			wantErr: ErrMalformedReply,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := inference.NewMock(tt.reply)
			fb := New(mock, intent.Default(), WithLogger(log.Discard()))

			res, err := fb.ProcessCommand(context.Background(), "make it bigger", resolver.PageContext{Title: "Docs"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("ProcessCommand() error = %v", err)
			}
			if res.Intent != tt.wantIntent || res.Confidence != tt.wantConf {
				t.Errorf("result = %+v", res)
			}

			p, ok := mock.Last()
			if !ok || !p.JSON || p.System == "" {
				t.Fatalf("prompt = %+v", p)
			}
			if !strings.Contains(p.User, "make it bigger") || !strings.Contains(p.User, "Docs") {
				t.Errorf("user prompt = %q", p.User)
			}
		})
	}
}

func TestIntegerSlots(t *testing.T) {
	mock := inference.NewMock(`{"intent":"links","slots":{"index":3,"ratio":0.5},"confidence":0.9}`)
	fb := New(mock, intent.Default(), WithLogger(log.Discard()))

	res, err := fb.ProcessCommand(context.Background(), "third link", resolver.PageContext{})
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := res.Slots["index"].(int); !ok || v != 3 {
		t.Errorf("index = %#v", res.Slots["index"])
	}
	if v, ok := res.Slots["ratio"].(float64); !ok || v != 0.5 {
		t.Errorf("ratio = %#v", res.Slots["ratio"])
	}
}

func TestSystemPromptListsIntents(t *testing.T) {
	prompt := systemPrompt(intent.Default())
	for _, name := range intent.Default().Names() {
		if !strings.Contains(prompt, "- "+name+":") {
			t.Errorf("prompt missing intent %q", name)
		}
	}
}

func TestLoad(t *testing.T) {
	fb := New(inference.NewMock("{}"), intent.Default(), WithLogger(log.Discard()))
	if err := fb.Load(context.Background()); err != nil {
		t.Errorf("Load() = %v", err)
	}

	boom := errors.New("connection refused")
	fb = New(inference.NewFailingMock(boom), intent.Default(), WithLogger(log.Discard()))
	if err := fb.Load(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Load() = %v, want %v", err, boom)
	}
}

func TestModelErrorPropagates(t *testing.T) {
	boom := errors.New("rate limited")
	fb := New(inference.NewFailingMock(boom), intent.Default(), WithLogger(log.Discard()))
	if _, err := fb.ProcessCommand(context.Background(), "x", resolver.PageContext{}); !errors.Is(err, boom) {
		t.Errorf("error = %v", err)
	}
}

func TestWorksWithResolver(t *testing.T) {
	mock := inference.NewMock(`{"intent":"zoom","action":"zoom_in","slots":{"direction":"in"},"confidence":0.8}`)
	fb := New(mock, intent.Default(), WithLogger(log.Discard()))

	unknown := func(text string) intent.NormalizedCommand {
		return intent.NormalizedCommand{Original: text, Normalized: text, Intent: intent.Unknown, Slots: intent.Slots{}}
	}
	r := resolver.New(normalizerFunc(unknown), fb, resolver.WithLogger(log.Discard()))
	if err := r.EnsureLoaded(context.Background()); err != nil {
		t.Fatal(err)
	}
	got := r.Resolve(context.Background(), "make it bigger", resolver.PageContext{})
	if got.Source != intent.SourceFallback || got.Intent != "zoom" {
		t.Errorf("Resolve() = %+v", got)
	}
}

type normalizerFunc func(string) intent.NormalizedCommand

func (f normalizerFunc) Normalize(text string) intent.NormalizedCommand { return f(text) }
