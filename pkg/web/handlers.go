package web

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-voicenav/pkg/executor"
	"github.com/teslashibe/go-voicenav/pkg/hub"
	"github.com/teslashibe/go-voicenav/pkg/intent"
	"github.com/teslashibe/go-voicenav/pkg/pipeline"
	"github.com/teslashibe/go-voicenav/pkg/queue"
	"github.com/teslashibe/go-voicenav/pkg/resolver"
	"github.com/teslashibe/go-voicenav/pkg/speech"
)

const originHTTP = "http"

// StatusResponse is returned by GET /api/status.
type StatusResponse struct {
	Queue        queue.Status        `json:"queue"`
	Speech       speech.State        `json:"speech"`
	Reader       executor.ReadStatus `json:"reader"`
	Fallback     resolver.Status     `json:"fallback"`
	PageAttached bool                `json:"pageAttached"`
	Clients      int                 `json:"clients"`
}

// CommandRequest is the body of POST /api/commands.
type CommandRequest struct {
	Intent   string       `json:"intent"`
	Action   string       `json:"action"`
	Slots    intent.Slots `json:"slots"`
	Original string       `json:"original"`
	Priority bool         `json:"priority"`
}

// UtteranceRequest is the body of POST /api/utterances. A missing isFinal
// counts as final.
type UtteranceRequest struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	IsFinal    *bool   `json:"isFinal"`
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func (s *Server) status() StatusResponse {
	st := StatusResponse{
		Queue:    s.pipeline.Status(),
		Speech:   s.pipeline.Speech.State(),
		Reader:   s.pipeline.Executor.Reader().Status(),
		Fallback: s.pipeline.Resolver.FallbackStatus(),
		Clients:  s.hub.ClientCount(),
	}
	if s.bridge != nil {
		st.PageAttached = s.bridge.Attached()
	}
	return st
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.status())
}

func (s *Server) handleIntents(c *fiber.Ctx) error {
	return c.JSON(s.pipeline.Registry.Schemas())
}

func (s *Server) handleFeedback(c *fiber.Ctx) error {
	if s.feedback == nil {
		return c.JSON([]FeedbackEntry{})
	}
	return c.JSON(s.feedback.Entries())
}

// handleCommand enqueues a command directly. 429 means the cooldown
// dropped it.
func (s *Server) handleCommand(c *fiber.Ctx) error {
	var req CommandRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	req.Intent = strings.TrimSpace(req.Intent)
	if _, ok := s.pipeline.Registry.Lookup(req.Intent); !ok {
		return fiber.NewError(fiber.StatusBadRequest, "unknown intent "+req.Intent)
	}

	id, ok := s.pipeline.Submit(intent.Command{
		Intent:   req.Intent,
		Action:   req.Action,
		Slots:    req.Slots,
		Original: req.Original,
	}, req.Priority)
	if !ok {
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "cooldown active"})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": id})
}

func (s *Server) handleUtterance(c *fiber.Ctx) error {
	var req UtteranceRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid body")
	}
	ev := intent.TranscriptEvent{Text: req.Text, Confidence: req.Confidence, IsFinal: true}
	if req.IsFinal != nil {
		ev.IsFinal = *req.IsFinal
	}
	if ev.IsFinal && strings.TrimSpace(ev.Text) == "" {
		return fiber.NewError(fiber.StatusBadRequest, pipeline.ErrEmptyUtterance.Error())
	}

	sub, handled, err := s.pipeline.HandleTranscript(c.UserContext(), originHTTP, ev)
	if err != nil {
		return err
	}
	if !handled {
		return c.SendStatus(fiber.StatusNoContent)
	}
	return c.JSON(sub)
}

func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	s.pipeline.Interrupt()
	return c.JSON(s.pipeline.Status())
}

func (s *Server) handleClear(c *fiber.Ctx) error {
	n := s.pipeline.Clear()
	return c.JSON(fiber.Map{"cleared": n})
}

// handleStatusWS sends the current status, then streams hub events.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	if err := c.WriteJSON(hub.Event{Type: hub.EventStatus, Time: time.Now(), Data: s.status()}); err != nil {
		return
	}
	hub.NewClient(s.hub, c).Run()
}

// handlePageWS attaches the page script to the bridge.
func (s *Server) handlePageWS(c *websocket.Conn) {
	if s.bridge == nil {
		c.Close()
		return
	}
	if err := s.bridge.Attach(c); err != nil {
		s.logger.Warn("page rejected", "error", err)
		c.Close()
	}
}
