// Command parrot runs the animatronic parrot: a realtime voice session
// bridged to ESP32 speaker and microphone clients, with mouth, wing and
// head animation driven over a Bottango controller.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-parrot/internal/config"
	parrotlog "github.com/teslashibe/go-parrot/internal/log"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "parrot",
	Short: "Animatronic parrot voice and animation orchestrator",
	Long: `parrot connects a realtime voice assistant (OpenAI Realtime or VAPI) to the
parrot's ESP32 speaker and microphone, and animates its mouth, wings and head
in time with the speech through a Bottango servo controller.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("parrot", version)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", os.Getenv("PARROT_CONFIG"), "YAML tuning file (default $PARROT_CONFIG)")
	pf.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	pf.StringVar(&logFormat, "log-format", "", "log format: text or json")

	rootCmd.AddCommand(versionCmd, runCmd, servoTestCmd, monitorCmd, portsCmd)
}

// setupLogger initializes the global logger from cfg and the log flags.
func setupLogger(cfg *config.Config) *slog.Logger {
	level, format := cfg.Log.Level, cfg.Log.Format
	if logLevel != "" {
		level = logLevel
	}
	if logFormat != "" {
		format = logFormat
	}
	parrotlog.Init(level, format)
	return parrotlog.L()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
