package tts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsEngineName       = "ws"
	keepaliveInterval  = 30 * time.Second
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// Wire messages exchanged with a remote speech agent.
//
//	-> {"type":"speak","id":"...","text":"...","options":{...}}
//	-> {"type":"cancel"} | {"type":"pause"} | {"type":"resume"}
//	<- {"type":"end"|"cancelled"|"error","id":"...","error":"..."}
type wsCommand struct {
	Type    string   `json:"type"`
	ID      string   `json:"id,omitempty"`
	Text    string   `json:"text,omitempty"`
	Options *Options `json:"options,omitempty"`
}

type wsEvent struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// WSEngine speaks through a remote agent over a websocket. It implements
// Engine and Pauser.
type WSEngine struct {
	url    string
	header http.Header
	logger *slog.Logger

	connMu       sync.Mutex
	conn         *websocket.Conn
	connected    bool
	reconnecting bool

	mu      sync.Mutex
	pending map[string]DoneFunc

	ctx    context.Context
	cancel context.CancelFunc

	// OnConnected and OnDisconnect are optional connection hooks.
	OnConnected  func()
	OnDisconnect func()
}

// WSOption configures a WSEngine.
type WSOption func(*WSEngine)

// WithHeader sets handshake headers (e.g. authorization).
func WithHeader(h http.Header) WSOption {
	return func(e *WSEngine) { e.header = h }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) WSOption {
	return func(e *WSEngine) { e.logger = l }
}

// NewWSEngine creates an engine for the agent at url (ws:// or wss://).
// Call Connect before speaking.
func NewWSEngine(url string, opts ...WSOption) *WSEngine {
	e := &WSEngine{
		url:     url,
		pending: make(map[string]DoneFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.logger = e.logger.With("component", "tts.ws")
	return e
}

// Connect dials the agent and starts the background loops.
func (e *WSEngine) Connect(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)
	if err := e.dial(); err != nil {
		e.cancel()
		return err
	}
	go e.readLoop()
	go e.keepaliveLoop()
	return nil
}

func (e *WSEngine) dial() error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(e.ctx, e.url, e.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("tts: websocket dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("tts: websocket dial failed: %w", err)
	}

	e.connMu.Lock()
	e.conn = conn
	e.connected = true
	e.connMu.Unlock()

	e.logger.Info("speech agent connected", "url", e.url)
	if e.OnConnected != nil {
		e.OnConnected()
	}
	return nil
}

// Speak sends text to the agent.
func (e *WSEngine) Speak(text string, opts Options, done DoneFunc) error {
	if text == "" {
		return ErrEmptyText
	}
	id := uuid.NewString()

	e.mu.Lock()
	e.pending[id] = done
	e.mu.Unlock()

	if err := e.send(wsCommand{Type: "speak", ID: id, Text: text, Options: &opts}); err != nil {
		e.mu.Lock()
		delete(e.pending, id)
		e.mu.Unlock()
		return err
	}
	return nil
}

// CancelAll asks the agent to stop. Pending callbacks fire when the agent
// confirms each cancellation.
func (e *WSEngine) CancelAll() error {
	return e.send(wsCommand{Type: "cancel"})
}

// Pause pauses playback in place.
func (e *WSEngine) Pause() error {
	return e.send(wsCommand{Type: "pause"})
}

// Resume resumes paused playback.
func (e *WSEngine) Resume() error {
	return e.send(wsCommand{Type: "resume"})
}

func (e *WSEngine) send(cmd wsCommand) error {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	if !e.connected || e.conn == nil {
		return ErrNotConnected
	}
	if err := e.conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("tts: send %s: %w", cmd.Type, err)
	}
	return nil
}

func (e *WSEngine) readLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		default:
		}

		e.connMu.Lock()
		conn := e.conn
		e.connMu.Unlock()
		if conn == nil {
			select {
			case <-e.ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		var ev wsEvent
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				e.logger.Error("speech agent read error", "error", err)
			}
			e.handleDisconnect()
			continue
		}
		e.dispatch(ev)
	}
}

func (e *WSEngine) dispatch(ev wsEvent) {
	var r Result
	switch ev.Type {
	case "end":
		r = Result{Reason: ReasonEnd}
	case "cancelled", "interrupted":
		r = Result{Reason: ReasonCancelled}
	case "error":
		r = Result{Reason: ReasonError, Err: &EngineError{Engine: wsEngineName, ID: ev.ID, Message: ev.Error}}
	default:
		e.logger.Debug("ignoring agent event", "type", ev.Type)
		return
	}

	e.mu.Lock()
	done, ok := e.pending[ev.ID]
	delete(e.pending, ev.ID)
	e.mu.Unlock()

	if ok && done != nil {
		done(r)
	}
}

// failPending ends every outstanding utterance with err.
func (e *WSEngine) failPending(err error) {
	e.mu.Lock()
	pending := e.pending
	e.pending = make(map[string]DoneFunc)
	e.mu.Unlock()

	for _, done := range pending {
		if done != nil {
			done(Result{Reason: ReasonError, Err: err})
		}
	}
}

func (e *WSEngine) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return
		case <-ticker.C:
			e.connMu.Lock()
			var err error
			if e.connected && e.conn != nil {
				err = e.conn.WriteMessage(websocket.PingMessage, nil)
			}
			e.connMu.Unlock()
			if err != nil {
				e.logger.Warn("keepalive ping failed", "error", err)
				e.handleDisconnect()
			}
		}
	}
}

func (e *WSEngine) handleDisconnect() {
	e.connMu.Lock()
	if e.conn != nil {
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	wasReconnecting := e.reconnecting
	e.reconnecting = true
	e.connMu.Unlock()

	e.failPending(ErrInterrupted)
	if e.OnDisconnect != nil {
		e.OnDisconnect()
	}

	if !wasReconnecting && e.ctx.Err() == nil {
		go e.reconnectLoop()
	}
}

func (e *WSEngine) reconnectLoop() {
	delay := reconnectBaseDelay
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-time.After(delay):
		}

		if err := e.dial(); err != nil {
			e.logger.Warn("reconnect failed", "error", err, "delay", delay)
			delay *= 2
			if delay > reconnectMaxDelay {
				delay = reconnectMaxDelay
			}
			continue
		}

		e.connMu.Lock()
		e.reconnecting = false
		e.connMu.Unlock()
		return
	}
}

// IsConnected reports whether the websocket is up.
func (e *WSEngine) IsConnected() bool {
	e.connMu.Lock()
	defer e.connMu.Unlock()
	return e.connected
}

// Close terminates the connection. Outstanding utterances end with ErrClosed.
func (e *WSEngine) Close() error {
	if e.cancel != nil {
		e.cancel()
	}

	e.connMu.Lock()
	if e.conn != nil {
		e.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		e.conn.Close()
		e.conn = nil
	}
	e.connected = false
	e.connMu.Unlock()

	e.failPending(ErrClosed)
	return nil
}

var (
	_ Engine = (*WSEngine)(nil)
	_ Pauser = (*WSEngine)(nil)
)
