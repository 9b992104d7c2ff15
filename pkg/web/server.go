// Package web exposes the pipeline over HTTP: the command submission API,
// a websocket status stream and the websocket page bridge.
package web

import (
	"context"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/teslashibe/go-voicenav/pkg/hub"
	"github.com/teslashibe/go-voicenav/pkg/pipeline"
)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithHub streams hub events to /ws/status clients.
func WithHub(h *hub.Hub) ServerOption {
	return func(s *Server) { s.hub = h }
}

// WithBridge serves the page bridge on /ws/page.
func WithBridge(b *PageBridge) ServerOption {
	return func(s *Server) { s.bridge = b }
}

// WithFeedback serves the feedback log on /api/feedback.
func WithFeedback(l *FeedbackLog) ServerOption {
	return func(s *Server) { s.feedback = l }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// Server is the HTTP front end of a pipeline.
type Server struct {
	app      *fiber.App
	addr     string
	pipeline *pipeline.Pipeline

	hub      *hub.Hub
	bridge   *PageBridge
	feedback *FeedbackLog
	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// NewServer creates a server for p listening on addr.
func NewServer(addr string, p *pipeline.Pipeline, opts ...ServerOption) *Server {
	s := &Server{
		addr:     addr,
		pipeline: p,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("component", "web")
	if s.hub == nil {
		s.hub = hub.New("status", s.logger)
	}

	app := fiber.New(fiber.Config{
		AppName:               "voicenav",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/intents", s.handleIntents)
	api.Get("/feedback", s.handleFeedback)
	api.Post("/commands", s.handleCommand)
	api.Post("/utterances", s.handleUtterance)
	api.Post("/interrupt", s.handleInterrupt)
	api.Post("/clear", s.handleClear)

	metrics := fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	app.Get("/metrics", func(c *fiber.Ctx) error {
		metrics(c.Context())
		return nil
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/page", websocket.New(s.handlePageWS))

	s.app = app
	return s
}

// Hub returns the status hub.
func (s *Server) Hub() *hub.Hub {
	return s.hub
}

// Start runs the hub and listens until the app is shut down.
func (s *Server) Start(ctx context.Context) error {
	go s.hub.Run(ctx)
	s.logger.Info("http server listening", "addr", s.addr)
	return s.app.Listen(s.addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
