package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/teslashibe/go-voicenav/pkg/intent"
)

// DefaultSubject is the NATS subject transcripts are read from.
const DefaultSubject = "voicenav.transcripts"

const originNATS = "nats"

// TranscriptSource feeds transcript events from a NATS subject into a
// pipeline.
type TranscriptSource struct {
	conn   *nats.Conn
	sub    *nats.Subscription
	p      *Pipeline
	ctx    context.Context
	logger *slog.Logger
}

// ConnectNATS connects to url. Call Subscribe to start consuming. p may be
// nil when the source is only used to Publish.
func ConnectNATS(ctx context.Context, url string, p *Pipeline, logger *slog.Logger) (*TranscriptSource, error) {
	nc, err := nats.Connect(url, nats.Name("voicenav"))
	if err != nil {
		return nil, fmt.Errorf("pipeline: connect nats: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "nats")
	logger.Info("connected to nats", "url", url)
	return newTranscriptSource(ctx, nc, p, logger), nil
}

func newTranscriptSource(ctx context.Context, nc *nats.Conn, p *Pipeline, logger *slog.Logger) *TranscriptSource {
	return &TranscriptSource{conn: nc, p: p, ctx: ctx, logger: logger}
}

// Subscribe starts consuming subject. An empty subject uses DefaultSubject.
func (s *TranscriptSource) Subscribe(subject string) error {
	if subject == "" {
		subject = DefaultSubject
	}
	sub, err := s.conn.Subscribe(subject, func(msg *nats.Msg) {
		if err := s.handle(msg.Data); err != nil {
			s.logger.Error("transcript rejected", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("pipeline: subscribe %s: %w", subject, err)
	}
	s.sub = sub
	return nil
}

// Publish sends a transcript event, for tools that simulate speech input.
func (s *TranscriptSource) Publish(subject string, ev intent.TranscriptEvent) error {
	if subject == "" {
		subject = DefaultSubject
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.conn.Publish(subject, data)
}

// Flush waits until published events reach the server.
func (s *TranscriptSource) Flush() error {
	return s.conn.Flush()
}

func (s *TranscriptSource) handle(data []byte) error {
	if s.p == nil {
		return errors.New("no pipeline attached")
	}
	var ev intent.TranscriptEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return fmt.Errorf("decode transcript: %w", err)
	}
	_, _, err := s.p.HandleTranscript(s.ctx, originNATS, ev)
	return err
}

// Close unsubscribes and drains the connection.
func (s *TranscriptSource) Close() error {
	if s.sub != nil {
		if err := s.sub.Unsubscribe(); err != nil {
			s.logger.Warn("unsubscribe failed", "error", err)
		}
	}
	if s.conn != nil {
		s.conn.Close()
	}
	return nil
}
