package tts

import (
	"sync"
	"time"
)

// Mock implements Engine for testing. Utterances stay in flight until the
// test calls Complete or Fail, unless a latency is set.
type Mock struct {
	// SpeakErr, if set, is returned by Speak.
	SpeakErr error

	latency time.Duration

	mu       sync.Mutex
	nextID   int
	inFlight []*MockUtterance
	calls    []MockCall
}

// MockUtterance is one Speak invocation.
type MockUtterance struct {
	ID      int
	Text    string
	Options Options

	done DoneFunc
	once sync.Once
}

func (u *MockUtterance) finish(r Result) {
	u.once.Do(func() { u.done(r) })
}

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Text   string
	Time   time.Time
}

// NewMock creates a mock that only finishes utterances on request.
func NewMock() *Mock {
	return &Mock{}
}

// NewMockWithLatency creates a mock that ends each utterance naturally
// after d.
func NewMockWithLatency(d time.Duration) *Mock {
	return &Mock{latency: d}
}

// Speak records the utterance and keeps it in flight.
func (m *Mock) Speak(text string, opts Options, done DoneFunc) error {
	m.record("Speak", text)
	if m.SpeakErr != nil {
		return m.SpeakErr
	}
	if text == "" {
		return ErrEmptyText
	}

	m.mu.Lock()
	m.nextID++
	u := &MockUtterance{ID: m.nextID, Text: text, Options: opts, done: done}
	m.inFlight = append(m.inFlight, u)
	latency := m.latency
	m.mu.Unlock()

	if latency > 0 {
		time.AfterFunc(latency, func() { m.finish(u.ID, Result{Reason: ReasonEnd}) })
	}
	return nil
}

// CancelAll cancels every in-flight utterance.
func (m *Mock) CancelAll() error {
	m.record("CancelAll", "")
	m.mu.Lock()
	pending := m.inFlight
	m.inFlight = nil
	m.mu.Unlock()

	for _, u := range pending {
		u.finish(Result{Reason: ReasonCancelled})
	}
	return nil
}

// Complete ends the oldest in-flight utterance naturally. It returns false
// if nothing is in flight.
func (m *Mock) Complete() bool {
	m.mu.Lock()
	if len(m.inFlight) == 0 {
		m.mu.Unlock()
		return false
	}
	id := m.inFlight[0].ID
	m.mu.Unlock()
	return m.finish(id, Result{Reason: ReasonEnd})
}

// Fail ends the oldest in-flight utterance with err.
func (m *Mock) Fail(err error) bool {
	m.mu.Lock()
	if len(m.inFlight) == 0 {
		m.mu.Unlock()
		return false
	}
	id := m.inFlight[0].ID
	m.mu.Unlock()
	return m.finish(id, Result{Reason: ReasonError, Err: err})
}

func (m *Mock) finish(id int, r Result) bool {
	m.mu.Lock()
	var u *MockUtterance
	for i, cand := range m.inFlight {
		if cand.ID == id {
			u = cand
			m.inFlight = append(m.inFlight[:i], m.inFlight[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if u == nil {
		return false
	}
	u.finish(r)
	return true
}

// InFlight returns the texts currently being spoken, oldest first.
func (m *Mock) InFlight() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.inFlight))
	for i, u := range m.inFlight {
		out[i] = u.Text
	}
	return out
}

// Spoken returns the text of every Speak call, in order.
func (m *Mock) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.Method == "Speak" {
			out = append(out, c.Text)
		}
	}
	return out
}

func (m *Mock) record(method, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Text: text, Time: time.Now()})
}

// Calls returns all recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears recorded calls. In-flight utterances are kept.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

// PausableMock is a Mock that also implements Pauser.
type PausableMock struct {
	*Mock

	pmu    sync.Mutex
	paused bool
}

// NewPausableMock creates a pausable mock.
func NewPausableMock() *PausableMock {
	return &PausableMock{Mock: NewMock()}
}

// Pause records the call and marks playback paused.
func (p *PausableMock) Pause() error {
	p.record("Pause", "")
	p.pmu.Lock()
	p.paused = true
	p.pmu.Unlock()
	return nil
}

// Resume records the call and clears the paused flag.
func (p *PausableMock) Resume() error {
	p.record("Resume", "")
	p.pmu.Lock()
	p.paused = false
	p.pmu.Unlock()
	return nil
}

// Paused reports whether playback is paused.
func (p *PausableMock) Paused() bool {
	p.pmu.Lock()
	defer p.pmu.Unlock()
	return p.paused
}

var (
	_ Engine = (*Mock)(nil)
	_ Engine = (*PausableMock)(nil)
	_ Pauser = (*PausableMock)(nil)
)
