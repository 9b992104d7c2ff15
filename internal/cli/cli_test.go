package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	RootCmd.SetArgs(args)
	if err := RootCmd.Execute(); err != nil {
		t.Fatalf("voicenav %s: %v\n%s", strings.Join(args, " "), err, out.String())
	}
	return out.String()
}

func TestIntentsCommand(t *testing.T) {
	out := execute(t, "intents", "--format", "text", "--log-level", "error")
	if !strings.HasPrefix(out, "stop: ") {
		t.Errorf("first line should be the stop intent, got %q", strings.SplitN(out, "\n", 2)[0])
	}
	if !strings.Contains(out, "scroll down") {
		t.Error("navigate examples missing")
	}
}

func TestParseCommand(t *testing.T) {
	out := execute(t, "parse", "--format", "json", "--log-level", "error", "scroll", "down")

	var res parseResult
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if res.Resolved.Intent != "navigate" || res.Resolved.Source != "fast" {
		t.Errorf("resolved = %+v", res.Resolved)
	}
	if res.Normalized.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", res.Normalized.Confidence)
	}
}

func TestSayRequiresNATS(t *testing.T) {
	RootCmd.SetArgs([]string{"say", "--log-level", "error", "hello"})
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&out)
	if err := RootCmd.Execute(); err == nil || !strings.Contains(err.Error(), "nats.url") {
		t.Errorf("err = %v, want nats.url error", err)
	}
}
