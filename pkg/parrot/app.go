// Package parrot wires the voice session, audio relay, animation pipeline,
// device link and behavior scheduler into one running application.
package parrot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-parrot/internal/config"
	"github.com/teslashibe/go-parrot/internal/observe"
	"github.com/teslashibe/go-parrot/pkg/animation"
	"github.com/teslashibe/go-parrot/pkg/audioio"
	"github.com/teslashibe/go-parrot/pkg/behavior"
	"github.com/teslashibe/go-parrot/pkg/bottango"
	"github.com/teslashibe/go-parrot/pkg/conversation"
	"github.com/teslashibe/go-parrot/pkg/hub"
	"github.com/teslashibe/go-parrot/pkg/relay"
	"github.com/teslashibe/go-parrot/pkg/robot"
	"github.com/teslashibe/go-parrot/pkg/speaking"
	"github.com/teslashibe/go-parrot/pkg/web"
)

// sessionRetryDelay is how long a failed session connect waits before the
// next attempt while clients are still attached.
const sessionRetryDelay = 5 * time.Second

// App is the parrot orchestrator.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	metrics        *observe.Metrics
	metricsHandler http.Handler

	session conversation.Session

	speakers *hub.Hub
	mics     *hub.Hub
	devices  *hub.Hub

	clock     *speaking.Clock
	relay     *relay.Relay
	ctrl      *robot.Controller
	anim      *animation.Synchronizer
	scheduler *behavior.Scheduler

	transport bottango.Transport
	wsDevice  *bottango.WSTransport
	link      atomic.Pointer[bottango.Link]

	servers []*web.Server

	// sessionMu serializes connect and disconnect of the voice session.
	sessionMu sync.Mutex
	reconcile chan struct{}

	// agentText holds finished agent transcripts of the current turn and
	// agentPartial the streamed deltas not yet confirmed by one.
	agentMu      sync.Mutex
	agentText    strings.Builder
	agentPartial strings.Builder
}

// Option configures an App.
type Option func(*App)

// WithSession replaces the session built from the config.
func WithSession(s conversation.Session) Option {
	return func(a *App) { a.session = s }
}

// WithLogger sets the base logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithMetrics records into m and serves h on /metrics.
func WithMetrics(m *observe.Metrics, h http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = h
	}
}

// WithTransport drives the device link over t instead of opening the
// configured serial port.
func WithTransport(t bottango.Transport) Option {
	return func(a *App) { a.transport = t }
}

// New builds the application from cfg. Nothing touches the network or the
// serial port until Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	a := &App{
		cfg:       cfg,
		logger:    slog.Default(),
		reconcile: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.session == nil {
		s, err := newSession(cfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.session = s
	}

	hubOpts := []hub.Option{hub.WithLogger(a.logger), hub.WithMetrics(a.metrics)}
	a.speakers = hub.New("speaker", hubOpts...)
	a.mics = hub.New("microphone", hubOpts...)
	a.devices = hub.New("bottango", hubOpts...)

	a.clock = speaking.NewClock(
		speaking.WithGrace(cfg.Speaking.Grace),
		speaking.WithTick(cfg.Speaking.Tick),
		speaking.WithLogger(a.logger),
	)

	var recorder *audioio.Recorder
	if cfg.Relay.SaveRecordings {
		r, err := audioio.NewRecorder(cfg.Relay.RecordingsDir, audioio.SampleRate, a.logger)
		if err != nil {
			return nil, fmt.Errorf("parrot: recordings: %w", err)
		}
		recorder = r
	}

	a.scheduler = behavior.NewScheduler(behaviors(cfg.Behavior.Behaviors),
		behavior.WithEnabled(cfg.Behavior.Autonomous),
		behavior.WithTick(cfg.Behavior.Tick),
		behavior.WithBaseProbability(cfg.Behavior.BaseProbability),
		behavior.WithMaxSilence(cfg.Behavior.MaxSilence),
		behavior.WithLogger(a.logger),
		behavior.WithMetrics(a.metrics),
	)

	a.relay = relay.New(relay.Config{
		ChunkSize:         cfg.Relay.ChunkSize,
		ChunkDelay:        cfg.Relay.ChunkDelay,
		MicSampleRate:     cfg.Relay.MicSampleRate,
		ForwardUtterances: cfg.Relay.ForwardUtterances,
		VADThreshold:      cfg.Relay.VAD.Threshold,
		VADMaxSilence:     cfg.Relay.VAD.MaxSilence,
		VADMinSpeech:      cfg.Relay.VAD.MinSpeechFrames,
		VADMaxUtterance:   cfg.Relay.VAD.MaxUtterance,
		Recorder:          recorder,
		OnVoiceActivity:   a.scheduler.Touch,
	}, a.speakers, a.clock, a.logger, a.metrics)
	a.relay.SetSink(a.session)

	var act robot.Actuator
	if cfg.Device.Transport != config.TransportNone || a.transport != nil {
		act = robot.ActuatorFunc(a.setPosition)
	}
	a.ctrl = robot.NewController(act,
		robot.WithTick(cfg.Animation.Resolution),
		robot.WithRate(robot.Wing, cfg.Animation.WingRate),
		robot.WithRate(robot.HeadTilt, cfg.Animation.TiltRate),
		robot.WithRate(robot.HeadRotation, cfg.Animation.RotationRate),
		robot.WithLogger(a.logger),
	)
	analyzer := animation.NewAnalyzer(animation.Params{
		Resolution:     cfg.Animation.Resolution,
		SampleRate:     audioio.SampleRate,
		MouthThreshold: cfg.Animation.MouthThreshold,
		EnergyScale:    cfg.Animation.EnergyScale,
		Smoothing:      cfg.Animation.Smoothing,
	}, nil)
	idle := animation.NewIdle(cfg.Animation.IdleInterval, cfg.Animation.IdleJitter, cfg.Animation.IdleVariance, nil, time.Now())
	a.anim = animation.NewSynchronizer(a.ctrl, a.clock, analyzer, idle, a.logger)

	if cfg.Device.Transport == config.TransportWebSocket && a.transport == nil {
		a.wsDevice = bottango.NewWSTransport(a.devices)
	}

	a.speakers.OnChange(a.onClientsChanged)
	a.mics.OnChange(a.onClientsChanged)
	a.mics.OnChange(func(_ string, count int) {
		if count == 0 {
			a.relay.FlushUtterance(context.Background())
		}
	})

	deps := web.Deps{
		Speakers:    a.speakers,
		Microphones: a.mics,
		Devices:     a.devices,
		Mic:         a.relay,
		Device:      a.wsDevice,
		Control:     a,
		Metrics:     a.metricsHandler,
		Logger:      a.logger,
	}
	a.servers = []*web.Server{
		web.NewAudioServer(fmt.Sprintf(":%d", cfg.Server.AudioPort), deps),
		web.NewMicServer(fmt.Sprintf(":%d", cfg.Server.MicPort), deps),
	}
	if a.wsDevice != nil {
		a.servers = append(a.servers, web.NewDeviceServer(fmt.Sprintf(":%d", cfg.Device.Port), deps))
	}
	return a, nil
}

func newSession(cfg *config.Config, logger *slog.Logger) (conversation.Session, error) {
	opts := []conversation.Option{conversation.WithLogger(logger)}
	switch cfg.Backend {
	case config.BackendVAPI:
		opts = append(opts,
			conversation.WithAPIKey(cfg.VAPI.APIKey),
			conversation.WithPublicKey(cfg.VAPI.PublicKey),
			conversation.WithAssistantID(cfg.VAPI.AssistantID),
			conversation.WithBaseURL(cfg.VAPI.BaseURL),
		)
	default:
		opts = append(opts,
			conversation.WithAPIKey(cfg.OpenAI.APIKey),
			conversation.WithModel(cfg.OpenAI.Model),
			conversation.WithVoice(cfg.OpenAI.Voice),
			conversation.WithInstructions(cfg.OpenAI.Instructions),
			conversation.WithTemperature(cfg.OpenAI.Temperature),
		)
	}
	s, err := conversation.New(cfg.Backend, opts...)
	if err != nil {
		return nil, fmt.Errorf("parrot: voice session: %w", err)
	}
	return s, nil
}

func behaviors(specs []config.BehaviorSpec) []behavior.Behavior {
	if len(specs) == 0 {
		return behavior.Defaults()
	}
	out := make([]behavior.Behavior, 0, len(specs))
	for _, s := range specs {
		out = append(out, behavior.Behavior{
			Name:       s.Name,
			Prompt:     s.Prompt,
			Frequency:  s.Frequency,
			MinSilence: s.MinSilence,
			Cooldown:   s.Cooldown,
		})
	}
	return out
}

// Run starts every loop and server and blocks until ctx is done or one of
// them fails. The voice session is disconnected before Run returns.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("parrot starting",
		"backend", a.session.Backend(),
		"device", a.cfg.Device.Transport,
		"audio_port", a.cfg.Server.AudioPort,
		"mic_port", a.cfg.Server.MicPort,
		"autonomous", a.scheduler.Enabled(),
	)

	g, gctx := errgroup.WithContext(ctx)
	run := func(name string, fn func(context.Context) error) {
		g.Go(func() error {
			err := fn(gctx)
			if err == nil || gctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("parrot: %s: %w", name, err)
		})
	}

	run("speaking clock", a.clock.Run)
	run("animation", a.anim.Run)
	run("session", a.runSession)
	run("events", a.runEvents)
	run("device", a.runDevice)
	run("behaviors", func(ctx context.Context) error {
		return a.scheduler.Run(ctx, behaviorEnv{a})
	})
	for _, s := range a.servers {
		run("server "+s.Addr(), s.Run)
	}

	err := g.Wait()
	a.Shutdown()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Shutdown releases the voice session and the device link.
func (a *App) Shutdown() {
	a.sessionMu.Lock()
	if a.session.IsConnected() {
		if err := a.session.Disconnect(); err != nil {
			a.logger.Warn("session disconnect failed", "error", err)
		}
	}
	a.sessionMu.Unlock()

	if l := a.link.Swap(nil); l != nil {
		if err := l.Close(); err != nil {
			a.logger.Debug("device link close", "error", err)
		}
	}
	a.logger.Info("parrot stopped")
}

// Controller exposes the actuator controller.
func (a *App) Controller() *robot.Controller {
	return a.ctrl
}
