// Package pipeline wires the voice command components into one explicit
// context object: normalizer, resolver, speech coordinator, executor and
// queue. Utterances enter through HandleUtterance or HandleTranscript;
// direct commands through Submit.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/teslashibe/go-voicenav/pkg/executor"
	"github.com/teslashibe/go-voicenav/pkg/hub"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/metrics"
	"github.com/teslashibe/go-voicenav/pkg/nlu"
	"github.com/teslashibe/go-voicenav/pkg/queue"
	"github.com/teslashibe/go-voicenav/pkg/resolver"
	"github.com/teslashibe/go-voicenav/pkg/speech"
	"github.com/teslashibe/go-voicenav/pkg/surface"
	"github.com/teslashibe/go-voicenav/pkg/tts"
)

// DefaultMinConfidence is the lowest resolution confidence that is enqueued.
const DefaultMinConfidence = 0.5

// Cooldown feedback modes.
const (
	FeedbackSilent = "silent"
	FeedbackTone   = "tone"
	FeedbackSpeech = "speech"
)

const (
	msgNotUnderstood = "Sorry, I didn't understand."
	msgPleaseWait    = "Please wait."

	// pageInfoTimeout bounds the page round-trip made before a fallback call.
	pageInfoTimeout = 500 * time.Millisecond
)

var (
	ErrMissingDependency = errors.New("pipeline: missing dependency")
	ErrEmptyUtterance    = errors.New("pipeline: empty utterance")
)

// Publisher receives pipeline events. *hub.Hub satisfies it.
type Publisher interface {
	Publish(eventType string, data any) error
}

// Submission is the result of feeding one utterance to the pipeline.
type Submission struct {
	Resolved intent.ResolvedIntent `json:"resolved"`
	ID       string                `json:"id,omitempty"`
	Accepted bool                  `json:"accepted"`
}

// Feedback is the payload of a feedback event.
type Feedback struct {
	Kind    executor.Signal `json:"kind"`
	Intent  string          `json:"intent,omitempty"`
	Message string          `json:"message"`
}

// Option configures a Pipeline.
type Option func(*options)

type options struct {
	fallback         resolver.Fallback
	nluOpts          []nlu.Option
	resolverOpts     []resolver.Option
	queueOpts        []queue.Option
	speechOpts       []speech.Option
	executorOpts     []executor.Option
	metrics          *metrics.Metrics
	signaler         executor.Signaler
	events           Publisher
	minConfidence    float64
	cooldownFeedback string
	logger           *slog.Logger
}

// WithFallback enables the slow resolution tier.
func WithFallback(fb resolver.Fallback) Option {
	return func(o *options) { o.fallback = fb }
}

func WithNormalizerOptions(opts ...nlu.Option) Option {
	return func(o *options) { o.nluOpts = append(o.nluOpts, opts...) }
}

func WithResolverOptions(opts ...resolver.Option) Option {
	return func(o *options) { o.resolverOpts = append(o.resolverOpts, opts...) }
}

func WithQueueOptions(opts ...queue.Option) Option {
	return func(o *options) { o.queueOpts = append(o.queueOpts, opts...) }
}

func WithSpeechOptions(opts ...speech.Option) Option {
	return func(o *options) { o.speechOpts = append(o.speechOpts, opts...) }
}

func WithExecutorOptions(opts ...executor.Option) Option {
	return func(o *options) { o.executorOpts = append(o.executorOpts, opts...) }
}

// WithMetrics records metrics in every component.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithSignaler forwards feedback signals (tones, visual cues).
func WithSignaler(s executor.Signaler) Option {
	return func(o *options) { o.signaler = s }
}

// WithEvents publishes transcript, resolution, feedback and status events.
func WithEvents(p Publisher) Option {
	return func(o *options) { o.events = p }
}

// WithMinConfidence sets the lowest confidence that is enqueued. Lower
// resolutions are reported as not understood.
func WithMinConfidence(c float64) Option {
	return func(o *options) { o.minConfidence = c }
}

// WithCooldownFeedback selects what happens when a command is dropped by
// the cooldown: FeedbackSilent, FeedbackTone or FeedbackSpeech.
func WithCooldownFeedback(mode string) Option {
	return func(o *options) { o.cooldownFeedback = mode }
}

// WithLogger sets the logger for the pipeline and its components.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Pipeline owns one instance of every component.
type Pipeline struct {
	Registry   *intent.Registry
	Normalizer *nlu.Normalizer
	Resolver   *resolver.Resolver
	Speech     *speech.Coordinator
	Executor   *executor.Executor
	Queue      *queue.Queue
	Metrics    *metrics.Metrics

	page             surface.Page
	signaler         executor.Signaler
	events           Publisher
	minConfidence    float64
	cooldownFeedback string
	logger           *slog.Logger
}

// New builds a pipeline. A nil registry uses the embedded default.
func New(reg *intent.Registry, page surface.Page, engine tts.Engine, opts ...Option) (*Pipeline, error) {
	if page == nil || engine == nil {
		return nil, fmt.Errorf("%w: page and engine are required", ErrMissingDependency)
	}
	if reg == nil {
		reg = intent.Default()
	}

	o := options{
		minConfidence:    DefaultMinConfidence,
		cooldownFeedback: FeedbackSilent,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	p := &Pipeline{
		Registry:         reg,
		Metrics:          o.metrics,
		page:             page,
		signaler:         o.signaler,
		events:           o.events,
		minConfidence:    o.minConfidence,
		cooldownFeedback: o.cooldownFeedback,
		logger:           o.logger.With("component", "pipeline"),
	}

	p.Normalizer = nlu.New(reg.Schemas(),
		append([]nlu.Option{nlu.WithLogger(o.logger.With("component", "nlu"))}, o.nluOpts...)...)

	p.Resolver = resolver.New(p.Normalizer, o.fallback,
		append([]resolver.Option{
			resolver.WithMetrics(o.metrics),
			resolver.WithLogger(o.logger.With("component", "resolver")),
		}, o.resolverOpts...)...)

	p.Speech = speech.NewCoordinator(engine,
		append([]speech.Option{
			speech.WithMetrics(o.metrics),
			speech.WithLogger(o.logger),
		}, o.speechOpts...)...)

	exec, err := executor.New(executor.Deps{
		Page:     page,
		Speech:   p.Speech,
		Registry: reg,
		Signaler: executor.SignalerFunc(p.signal),
	}, append([]executor.Option{
		executor.WithMetrics(o.metrics),
		executor.WithLogger(o.logger),
	}, o.executorOpts...)...)
	if err != nil {
		p.Speech.Close()
		return nil, err
	}
	p.Executor = exec

	p.Queue = queue.New(exec,
		append([]queue.Option{
			queue.WithStopper(p.Speech),
			queue.WithOnReject(p.rejected),
			queue.WithMetrics(o.metrics),
			queue.WithLogger(o.logger),
		}, o.queueOpts...)...)
	exec.BindQueue(p.Queue)

	p.logger.Info("pipeline ready",
		"intents", reg.Len(),
		"patterns", len(p.Normalizer.Patterns()),
		"skipped", p.Normalizer.Skipped(),
		"fallback", p.Resolver.FallbackStatus(),
		"capabilities", exec.Capabilities().Names(),
	)
	return p, nil
}

// Start begins loading the fallback in the background.
func (p *Pipeline) Start(ctx context.Context) {
	p.Resolver.StartBackgroundLoad(ctx)
}

// HandleUtterance resolves text and enqueues the command. Stop and cancel
// are enqueued with priority. Unknown or low-confidence resolutions are
// not enqueued; the user hears "not understood" unless the cooldown is
// open, since the utterance is then most likely our own speech.
func (p *Pipeline) HandleUtterance(ctx context.Context, text string) (Submission, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Submission{}, ErrEmptyUtterance
	}

	res := p.Resolver.ResolveWith(ctx, text, p.pageContext)
	p.publish(hub.EventResolution, res)

	sub := Submission{Resolved: res}
	cmd := res.Command()
	if res.IsUnknown() || res.Confidence < p.minConfidence {
		p.notUnderstood(cmd)
		return sub, nil
	}

	sub.ID, sub.Accepted = p.Queue.Enqueue(cmd, cmd.IsStop())
	p.logger.Debug("utterance handled",
		"text", text,
		"intent", res.Intent,
		"source", res.Source,
		"confidence", res.Confidence,
		"accepted", sub.Accepted,
	)
	p.publishStatus()
	return sub, nil
}

// HandleTranscript feeds a speech-to-text event. Interim and blank events
// are counted and ignored; handled reports whether the event was used.
func (p *Pipeline) HandleTranscript(ctx context.Context, origin string, ev intent.TranscriptEvent) (sub Submission, handled bool, err error) {
	p.Metrics.Transcript(origin, ev.IsFinal)
	p.publish(hub.EventTranscript, ev)
	if !ev.IsFinal || strings.TrimSpace(ev.Text) == "" {
		return Submission{}, false, nil
	}
	sub, err = p.HandleUtterance(ctx, ev.Text)
	return sub, err == nil, err
}

// Submit enqueues a command directly, bypassing resolution. Stop and
// cancel are always priority.
func (p *Pipeline) Submit(cmd intent.Command, priority bool) (id string, ok bool) {
	if cmd.Source == "" {
		cmd.Source = intent.SourceManual
	}
	if cmd.Confidence == 0 {
		cmd.Confidence = 1
	}
	id, ok = p.Queue.Enqueue(cmd, priority || cmd.IsStop())
	p.publishStatus()
	return id, ok
}

// Status returns the queue status.
func (p *Pipeline) Status() queue.Status {
	return p.Queue.Status()
}

// Interrupt stops the running command, clears pending ones and silences
// speech.
func (p *Pipeline) Interrupt() {
	p.Queue.Interrupt()
	p.publishStatus()
}

// Clear drops pending commands without touching the running one.
func (p *Pipeline) Clear() int {
	n := p.Queue.Clear()
	p.publishStatus()
	return n
}

// Close stops the queue and the speech coordinator.
func (p *Pipeline) Close() error {
	return errors.Join(p.Queue.Close(), p.Speech.Close())
}

func (p *Pipeline) pageContext(ctx context.Context) resolver.PageContext {
	pc := resolver.PageContext{
		Reading: p.Executor.Reader().Status().State == executor.StateReading,
	}
	ctx, cancel := context.WithTimeout(ctx, pageInfoTimeout)
	defer cancel()
	info, err := p.page.Info(ctx)
	if err != nil {
		p.logger.Debug("page info unavailable", "error", err)
		return pc
	}
	pc.URL = info.URL
	pc.Title = info.Title
	return pc
}

func (p *Pipeline) notUnderstood(cmd intent.Command) {
	if p.Queue.Status().CooldownActive {
		p.logger.Debug("unresolved utterance during cooldown", "text", cmd.Original)
		return
	}
	p.signal(executor.SignalError, cmd, msgNotUnderstood)
	p.Speech.SpeakShort(msgNotUnderstood, speech.ShortOptions{})
}

// rejected runs on the enqueueing goroutine for commands dropped by the
// cooldown.
func (p *Pipeline) rejected(cmd intent.Command) {
	p.logger.Debug("command dropped by cooldown", "intent", cmd.Intent, "mode", p.cooldownFeedback)
	switch p.cooldownFeedback {
	case FeedbackTone:
		p.signal(executor.SignalError, cmd, msgPleaseWait)
	case FeedbackSpeech:
		p.signal(executor.SignalError, cmd, msgPleaseWait)
		p.Speech.SpeakShort(msgPleaseWait, speech.ShortOptions{})
	}
}

func (p *Pipeline) signal(kind executor.Signal, cmd intent.Command, message string) {
	if p.signaler != nil {
		p.signaler.Signal(kind, cmd, message)
	}
	p.publish(hub.EventFeedback, Feedback{Kind: kind, Intent: cmd.Intent, Message: message})
}

func (p *Pipeline) publishStatus() {
	p.publish(hub.EventStatus, p.Queue.Status())
}

func (p *Pipeline) publish(eventType string, data any) {
	if p.events == nil {
		return
	}
	if err := p.events.Publish(eventType, data); err != nil {
		p.logger.Warn("publish event failed", "type", eventType, "error", err)
	}
}
