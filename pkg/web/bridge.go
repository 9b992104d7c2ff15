package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-voicenav/pkg/surface"
)

// DefaultCallTimeout bounds a bridge call when ctx has no deadline.
const DefaultCallTimeout = 5 * time.Second

// Error codes a page script may return.
const (
	codeUnsupported = "unsupported"
	codeNotFound    = "not_found"
)

var (
	// ErrBridgeClosed is returned when no page is attached or the page
	// disconnected before answering.
	ErrBridgeClosed = errors.New("web: page bridge closed")

	// ErrPageBusy is returned by Attach when another page is attached.
	ErrPageBusy = errors.New("web: page already attached")
)

// BridgeConn is the websocket connection of an attached page.
type BridgeConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// bridgeRequest is sent to the page script.
type bridgeRequest struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// bridgeResponse answers the request with the same id.
type bridgeResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
	Code   string          `json:"code,omitempty"`
}

// PageError is a failure reported by the page script.
type PageError struct {
	Method  string
	Message string
	Code    string
}

func (e *PageError) Error() string {
	return fmt.Sprintf("web: page %s: %s", e.Method, e.Message)
}

// Unwrap maps page error codes to surface sentinels.
func (e *PageError) Unwrap() error {
	switch e.Code {
	case codeUnsupported:
		return surface.ErrUnsupported
	case codeNotFound:
		return surface.ErrNotFound
	default:
		return nil
	}
}

// PageBridge implements surface.Page and every capability by forwarding
// calls to a page script over a websocket. One page is attached at a time.
type PageBridge struct {
	timeout time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	conn    BridgeConn
	detach  chan struct{}
	pending map[string]chan bridgeResponse

	writeMu sync.Mutex
}

// NewPageBridge creates a bridge with no page attached.
func NewPageBridge(logger *slog.Logger) *PageBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageBridge{
		timeout: DefaultCallTimeout,
		logger:  logger.With("component", "bridge"),
		pending: make(map[string]chan bridgeResponse),
	}
}

// Attached reports whether a page is connected.
func (b *PageBridge) Attached() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn != nil
}

// Attach serves conn until it closes. Responses are routed to waiting
// calls by id. Calls still waiting when the page leaves fail with
// ErrBridgeClosed.
func (b *PageBridge) Attach(conn BridgeConn) error {
	b.mu.Lock()
	if b.conn != nil {
		b.mu.Unlock()
		return ErrPageBusy
	}
	b.conn = conn
	b.detach = make(chan struct{})
	b.mu.Unlock()
	b.logger.Info("page attached")

	defer func() {
		b.mu.Lock()
		b.conn = nil
		close(b.detach)
		b.pending = make(map[string]chan bridgeResponse)
		b.mu.Unlock()
		conn.Close()
		b.logger.Info("page detached")
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil
		}
		var resp bridgeResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			b.logger.Warn("malformed page message", "error", err)
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		delete(b.pending, resp.ID)
		b.mu.Unlock()
		if !ok {
			b.logger.Debug("response for unknown request", "id", resp.ID)
			continue
		}
		ch <- resp
	}
}

// call sends method to the page and decodes the result into out.
func (b *PageBridge) call(ctx context.Context, method string, params, out any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	req := bridgeRequest{ID: uuid.NewString(), Method: method, Params: params}
	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	ch := make(chan bridgeResponse, 1)
	b.mu.Lock()
	conn, detach := b.conn, b.detach
	if conn == nil {
		b.mu.Unlock()
		return ErrBridgeClosed
	}
	b.pending[req.ID] = ch
	b.mu.Unlock()

	b.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	b.writeMu.Unlock()
	if err != nil {
		b.forget(req.ID)
		return fmt.Errorf("%w: %v", ErrBridgeClosed, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != "" || resp.Code != "" {
			msg := resp.Error
			if msg == "" {
				msg = resp.Code
			}
			return &PageError{Method: method, Message: msg, Code: resp.Code}
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("web: decode %s result: %w", method, err)
		}
		return nil
	case <-detach:
		return ErrBridgeClosed
	case <-ctx.Done():
		b.forget(req.ID)
		return ctx.Err()
	}
}

func (b *PageBridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *PageBridge) Scroll(ctx context.Context, dir surface.Direction, amount int) error {
	return b.call(ctx, "scroll", map[string]any{"direction": dir, "amount": amount}, nil)
}

func (b *PageBridge) ScrollTo(ctx context.Context, pos surface.Position) error {
	return b.call(ctx, "scrollTo", map[string]any{"position": pos}, nil)
}

func (b *PageBridge) Navigate(ctx context.Context, dir surface.Direction) error {
	return b.call(ctx, "navigate", map[string]any{"direction": dir}, nil)
}

func (b *PageBridge) Zoom(ctx context.Context) (int, error) {
	var percent int
	err := b.call(ctx, "zoom", nil, &percent)
	return percent, err
}

func (b *PageBridge) SetZoom(ctx context.Context, percent int) error {
	return b.call(ctx, "setZoom", map[string]any{"percent": percent}, nil)
}

func (b *PageBridge) Info(ctx context.Context) (surface.Info, error) {
	var info surface.Info
	err := b.call(ctx, "info", nil, &info)
	return info, err
}

func (b *PageBridge) Blocks(ctx context.Context) ([]surface.Block, error) {
	var blocks []surface.Block
	err := b.call(ctx, "blocks", nil, &blocks)
	return blocks, err
}

func (b *PageBridge) HighlightBlock(ctx context.Context, id string) error {
	return b.call(ctx, "highlightBlock", map[string]any{"id": id}, nil)
}

func (b *PageBridge) HighlightText(ctx context.Context, text string) (int, error) {
	var n int
	err := b.call(ctx, "highlightText", map[string]any{"text": text}, &n)
	return n, err
}

func (b *PageBridge) ClearHighlights(ctx context.Context) error {
	return b.call(ctx, "clearHighlights", nil, nil)
}

func (b *PageBridge) Links(ctx context.Context) ([]surface.Link, error) {
	var links []surface.Link
	err := b.call(ctx, "links", nil, &links)
	return links, err
}

func (b *PageBridge) OpenLink(ctx context.Context, index int) error {
	return b.call(ctx, "openLink", map[string]any{"index": index}, nil)
}

func (b *PageBridge) ClickText(ctx context.Context, text string) error {
	return b.call(ctx, "clickText", map[string]any{"text": text}, nil)
}

func (b *PageBridge) Search(ctx context.Context, query string) (int, error) {
	var n int
	err := b.call(ctx, "search", map[string]any{"query": query}, &n)
	return n, err
}

func (b *PageBridge) Fill(ctx context.Context, field, value string) error {
	return b.call(ctx, "fill", map[string]any{"field": field, "value": value}, nil)
}

func (b *PageBridge) Type(ctx context.Context, text string) error {
	return b.call(ctx, "type", map[string]any{"text": text}, nil)
}

func (b *PageBridge) Submit(ctx context.Context) error {
	return b.call(ctx, "submit", nil, nil)
}

func (b *PageBridge) Describe(ctx context.Context) (string, error) {
	var summary string
	err := b.call(ctx, "describe", nil, &summary)
	return summary, err
}

var (
	_ surface.Page        = (*PageBridge)(nil)
	_ surface.Reader      = (*PageBridge)(nil)
	_ surface.Highlighter = (*PageBridge)(nil)
	_ surface.LinkOpener  = (*PageBridge)(nil)
	_ surface.Searcher    = (*PageBridge)(nil)
	_ surface.FormFiller  = (*PageBridge)(nil)
	_ surface.Describer   = (*PageBridge)(nil)
)
