// Package web serves the parrot's hardware-facing websockets and its small
// HTTP control API.
//
// Three fiber apps run on separate ports, matching the firmware's
// expectations: speaker audio plus the API and metrics, microphone audio,
// and the optional Bottango websocket controller.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-parrot/pkg/hub"
)

// shutdownTimeout bounds graceful shutdown of each app.
const shutdownTimeout = 5 * time.Second

// Status is the snapshot served by GET /api/status.
type Status struct {
	Speaking      bool   `json:"speaking"`
	SpeakingLeft  string `json:"speaking_remaining"`
	Speakers      int    `json:"speakers"`
	Microphones   int    `json:"microphones"`
	Backend       string `json:"backend"`
	Session       string `json:"session"`
	Device        string `json:"device"`
	Autonomous    bool   `json:"autonomous"`
	Silence       string `json:"silence"`
	PendingFrames int    `json:"pending_frames"`

	// Eligible lists the behaviors that could fire right now.
	Eligible []string `json:"eligible_behaviors"`
	// DroppedEvents counts session events lost to a lagging consumer.
	DroppedEvents int64 `json:"dropped_events"`
}

// Control is the orchestrator surface exposed over HTTP.
type Control interface {
	Status() Status
	SetAutonomous(enabled bool)
	Say(ctx context.Context, text string) error
}

// MicSink consumes microphone frames.
type MicSink interface {
	HandleMic(ctx context.Context, frame []byte)
}

// LineSink consumes text frames from a websocket device.
type LineSink interface {
	Deliver(data []byte)
}

// Deps are the collaborators the servers route to.
type Deps struct {
	Speakers    *hub.Hub
	Microphones *hub.Hub
	Devices     *hub.Hub

	Mic     MicSink
	Device  LineSink
	Control Control
	// Metrics serves /metrics; nil disables the route.
	Metrics http.Handler

	Logger *slog.Logger
}

// Server is one fiber app bound to one address.
type Server struct {
	name   string
	addr   string
	app    *fiber.App
	logger *slog.Logger
	ctx    context.Context
}

func newServer(name, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	app := fiber.New(fiber.Config{
		AppName:               "go-parrot " + name,
		DisableStartupMessage: true,
	})
	app.Use(recover.New())

	return &Server{
		name:   name,
		addr:   addr,
		app:    app,
		logger: logger.With("component", "web."+name),
		ctx:    context.Background(),
	}
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// requireUpgrade rejects plain HTTP requests on websocket routes.
func requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// serveHub registers websocket connections in h for their lifetime.
func (s *Server) serveHub(h *hub.Hub, onMessage func(*hub.Client, hub.MessageType, []byte)) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		h.Serve(s.ctx, c, c.RemoteAddr().String(), onMessage)
	})
}

// NewAudioServer serves /audio-stream for speakers plus the control API and
// /metrics.
func NewAudioServer(addr string, d Deps) *Server {
	s := newServer("audio", addr, d.Logger)

	s.app.Use("/audio-stream", requireUpgrade)
	// Speakers only listen; anything they send is ignored.
	s.app.Get("/audio-stream", s.serveHub(d.Speakers, nil))

	api := s.app.Group("/api", cors.New())
	api.Get("/status", handleStatus(d.Control))
	api.Post("/autonomous", handleAutonomous(d.Control))
	api.Post("/say", handleSay(d.Control))

	if d.Metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(d.Metrics))
	}
	return s
}

// NewMicServer serves /microphone. Binary frames are PCM16 audio.
func NewMicServer(addr string, d Deps) *Server {
	s := newServer("microphone", addr, d.Logger)

	s.app.Use("/microphone", requireUpgrade)
	s.app.Get("/microphone", s.serveHub(d.Microphones, func(_ *hub.Client, typ hub.MessageType, data []byte) {
		if typ != hub.BinaryMessage {
			s.logger.Debug("ignoring text frame from microphone", "bytes", len(data))
			return
		}
		d.Mic.HandleMic(s.ctx, data)
	}))
	return s
}

// NewDeviceServer serves /bottango for controllers that dial in.
func NewDeviceServer(addr string, d Deps) *Server {
	s := newServer("bottango", addr, d.Logger)

	s.app.Use("/bottango", requireUpgrade)
	s.app.Get("/bottango", s.serveHub(d.Devices, func(_ *hub.Client, _ hub.MessageType, data []byte) {
		d.Device.Deliver(data)
	}))
	return s
}

// Run listens until ctx is done, then shuts down gracefully. Open
// websocket handlers are released through ctx.
func (s *Server) Run(ctx context.Context) error {
	s.ctx = ctx

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.addr)
		errCh <- s.app.Listen(s.addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
