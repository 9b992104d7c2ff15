package web

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/teslashibe/go-voicenav/internal/log"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/metrics"
	"github.com/teslashibe/go-voicenav/pkg/pipeline"
	"github.com/teslashibe/go-voicenav/pkg/queue"
	"github.com/teslashibe/go-voicenav/pkg/surface"
	"github.com/teslashibe/go-voicenav/pkg/tts"
)

type testServer struct {
	s        *Server
	page     *surface.Mock
	feedback *FeedbackLog
}

func newTestServer(t *testing.T, opts ...pipeline.Option) *testServer {
	t.Helper()
	reg := prometheus.NewRegistry()
	ts := &testServer{
		page:     surface.NewMock(),
		feedback: NewFeedbackLog(10),
	}
	base := []pipeline.Option{
		pipeline.WithLogger(log.Discard()),
		pipeline.WithSignaler(ts.feedback),
		pipeline.WithMetrics(metrics.New(reg)),
	}
	p, err := pipeline.New(intent.Default(), ts.page, tts.NewMock(), append(base, opts...)...)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	ts.s = NewServer(":0", p,
		WithFeedback(ts.feedback),
		WithBridge(NewPageBridge(log.Discard())),
		WithGatherer(reg),
		WithLogger(log.Discard()),
	)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) (int, string) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.s.app.Test(req, 2000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(b)
}

func (ts *testServer) waitPageCall(t *testing.T, call string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !slices.Contains(ts.page.Calls(), call) {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for page call %s", call)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSubmitCommand(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/commands",
		`{"intent":"navigate","action":"scroll_down","slots":{"direction":"down"}}`)
	if code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", code, body)
	}
	var resp struct{ ID string }
	if err := json.Unmarshal([]byte(body), &resp); err != nil || resp.ID == "" {
		t.Errorf("body = %s", body)
	}
	ts.waitPageCall(t, "Scroll down 0")
}

func TestSubmitCommandRejected(t *testing.T) {
	ts := newTestServer(t, pipeline.WithQueueOptions(queue.WithCooldown(queue.MaxCooldown)))

	cmd := `{"intent":"navigate","action":"scroll_down","slots":{"direction":"down"}}`
	if code, body := ts.do(t, http.MethodPost, "/api/commands", cmd); code != http.StatusAccepted {
		t.Fatalf("first status = %d, body %s", code, body)
	}
	ts.waitPageCall(t, "Scroll down 0")

	if code, _ := ts.do(t, http.MethodPost, "/api/commands", cmd); code != http.StatusTooManyRequests {
		t.Errorf("second status = %d, want 429", code)
	}

	// Priority commands bypass the cooldown.
	stop := `{"intent":"stop","priority":true}`
	if code, body := ts.do(t, http.MethodPost, "/api/commands", stop); code != http.StatusAccepted {
		t.Errorf("stop status = %d, body %s", code, body)
	}
}

func TestSubmitCommandValidation(t *testing.T) {
	ts := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"intent":`},
		{"unknown intent", `{"intent":"teleport"}`},
		{"missing intent", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if code, body := ts.do(t, http.MethodPost, "/api/commands", tt.body); code != http.StatusBadRequest {
				t.Errorf("status = %d, body %s", code, body)
			}
		})
	}
}

func TestUtterance(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodPost, "/api/utterances", `{"text":"scroll down"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, body %s", code, body)
	}
	var sub pipeline.Submission
	if err := json.Unmarshal([]byte(body), &sub); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !sub.Accepted || sub.Resolved.Intent != "navigate" || sub.Resolved.Source != intent.SourceFast {
		t.Errorf("submission = %+v", sub)
	}
	ts.waitPageCall(t, "Scroll down 0")
}

func TestUtteranceInterimAndBlank(t *testing.T) {
	ts := newTestServer(t)

	if code, _ := ts.do(t, http.MethodPost, "/api/utterances", `{"text":"scroll","isFinal":false}`); code != http.StatusNoContent {
		t.Errorf("interim status = %d, want 204", code)
	}
	if code, _ := ts.do(t, http.MethodPost, "/api/utterances", `{"text":"  "}`); code != http.StatusBadRequest {
		t.Errorf("blank status = %d, want 400", code)
	}
}

func TestStatusInterruptClear(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/status", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var st StatusResponse
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Queue.IsProcessing || st.PageAttached || st.Fallback != "disabled" {
		t.Errorf("status = %+v", st)
	}

	if code, _ := ts.do(t, http.MethodPost, "/api/interrupt", ""); code != http.StatusOK {
		t.Errorf("interrupt status = %d", code)
	}
	code, body = ts.do(t, http.MethodPost, "/api/clear", "")
	if code != http.StatusOK || !strings.Contains(body, `"cleared":0`) {
		t.Errorf("clear = %d %s", code, body)
	}
}

func TestIntentsAndFeedback(t *testing.T) {
	ts := newTestServer(t)

	code, body := ts.do(t, http.MethodGet, "/api/intents", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	var schemas []intent.Schema
	if err := json.Unmarshal([]byte(body), &schemas); err != nil || len(schemas) == 0 {
		t.Fatalf("intents = %s, %v", body, err)
	}
	if schemas[0].Name != "stop" {
		t.Errorf("first intent = %q, want registry order", schemas[0].Name)
	}

	ts.do(t, http.MethodPost, "/api/utterances", `{"text":"asdfqwerty"}`)
	_, body = ts.do(t, http.MethodGet, "/api/feedback", "")
	var entries []FeedbackEntry
	if err := json.Unmarshal([]byte(body), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 1 || entries[0].Kind != "error" {
		t.Errorf("feedback = %+v", entries)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodPost, "/api/utterances", `{"text":"scroll down"}`)

	code, body := ts.do(t, http.MethodGet, "/metrics", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if !strings.Contains(body, "voicenav_") {
		t.Errorf("metrics body has no voicenav series")
	}
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/ws/status", "/ws/page"} {
		if code, _ := ts.do(t, http.MethodGet, path, ""); code != http.StatusUpgradeRequired {
			t.Errorf("%s status = %d, want 426", path, code)
		}
	}
}

func TestFeedbackLogBounded(t *testing.T) {
	l := NewFeedbackLog(2)
	for _, msg := range []string{"a", "b", "c"} {
		l.Signal("confirm", intent.Command{Intent: "navigate"}, msg)
	}
	got := l.Entries()
	if len(got) != 2 || got[0].Message != "b" || got[1].Message != "c" {
		t.Errorf("entries = %+v", got)
	}
}
