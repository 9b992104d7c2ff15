package surface

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

// basic hides every optional capability of the wrapped page.
type basic struct{ Page }

func TestProbe(t *testing.T) {
	full := Probe(NewMock())
	want := []string{"read", "highlight", "links", "search", "forms", "describe"}
	if got := full.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}

	bare := Probe(basic{NewMock()})
	if got := bare.Names(); len(got) != 0 {
		t.Errorf("bare page capabilities = %v", got)
	}
	if bare.Reader != nil || bare.Forms != nil {
		t.Error("expected nil capabilities")
	}
}

func TestMockRecordsCalls(t *testing.T) {
	ctx := context.Background()
	m := NewMock()

	m.Scroll(ctx, Down, 0)
	m.ScrollTo(ctx, Top)
	m.SetZoom(ctx, 150)
	m.Fill(ctx, "email", "a@b.c")

	want := []string{"Scroll down 0", "ScrollTo top", "SetZoom 150", "Fill email a@b.c"}
	if got := m.Calls(); !reflect.DeepEqual(got, want) {
		t.Errorf("Calls() = %v, want %v", got, want)
	}
	if z, _ := m.Zoom(ctx); z != 150 {
		t.Errorf("Zoom() = %d", z)
	}
	if m.Fields["email"] != "a@b.c" {
		t.Errorf("Fields = %v", m.Fields)
	}
}

func TestMockErrors(t *testing.T) {
	ctx := context.Background()
	m := NewMock()
	m.LinkList = []Link{{Index: 1, Text: "Home", URL: "/"}}

	if err := m.OpenLink(ctx, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("OpenLink(2) err = %v", err)
	}
	if err := m.ClickText(ctx, "home"); err != nil {
		t.Errorf("ClickText(home) err = %v", err)
	}

	boom := errors.New("boom")
	m.Errs["Scroll"] = boom
	if err := m.Scroll(ctx, Up, 0); !errors.Is(err, boom) {
		t.Errorf("Scroll err = %v", err)
	}
}
