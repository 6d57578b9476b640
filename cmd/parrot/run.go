package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parrot/internal/config"
	"github.com/teslashibe/go-parrot/internal/observe"
	"github.com/teslashibe/go-parrot/pkg/parrot"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the parrot",
	RunE:  runParrot,
}

func init() {
	f := runCmd.Flags()
	f.String("backend", "", "voice backend: openai or vapi")
	f.String("device", "", "device transport: serial, websocket or none")
	f.String("serial-port", "", "Bottango controller serial port")
	f.Bool("save-recordings", false, "save microphone utterances as WAV files")
	f.Bool("autonomous", true, "enable autonomous behaviors")
	f.Bool("forward-utterances", false, "send only complete utterances to the voice service")
}

// applyFlags overlays explicitly set flags onto cfg.
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("backend") {
		cfg.Backend, _ = f.GetString("backend")
	}
	if f.Changed("device") {
		cfg.Device.Transport, _ = f.GetString("device")
	}
	if f.Changed("serial-port") {
		cfg.Device.SerialPort, _ = f.GetString("serial-port")
	}
	if f.Changed("save-recordings") {
		cfg.Relay.SaveRecordings, _ = f.GetBool("save-recordings")
	}
	if f.Changed("autonomous") {
		cfg.Behavior.Autonomous, _ = f.GetBool("autonomous")
	}
	if f.Changed("forward-utterances") {
		cfg.Relay.ForwardUtterances, _ = f.GetBool("forward-utterances")
	}
}

func runParrot(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Read(configPath)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)
	logger := setupLogger(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		return err
	}

	metrics, shutdownMetrics, err := observe.InitProvider(version)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := shutdownMetrics(ctx); err != nil {
			logger.Warn("metrics shutdown", "error", err)
		}
	}()

	app, err := parrot.New(cfg,
		parrot.WithLogger(logger),
		parrot.WithMetrics(metrics, promhttp.Handler()),
	)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting parrot", "version", version)
	if err := app.Run(ctx); err != nil {
		logger.Error("parrot failed", "error", err)
		return err
	}
	return nil
}
