// Package config loads the go-parrot runtime configuration.
//
// Values are layered: built-in defaults, then an optional YAML tuning file,
// then environment variables (a local .env file is loaded first), and finally
// command-line flags applied by cmd/parrot. The result is a static snapshot
// consumed once at startup.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Voice backends.
const (
	BackendOpenAI = "openai"
	BackendVAPI   = "vapi"
)

// Device transports.
const (
	TransportSerial    = "serial"
	TransportWebSocket = "websocket"
	TransportNone      = "none"
)

// Defaults mirrored from the parrot hardware setup.
const (
	DefaultOpenAIModel   = "gpt-4o-realtime-preview-2024-12-17"
	DefaultOpenAIVoice   = "ballad"
	DefaultSerialPort    = "/dev/tty.usbserial-0001"
	DefaultBaudRate      = 115200
	DefaultAudioPort     = 8001
	DefaultMicPort       = 8002
	DefaultDevicePort    = 8080
	DefaultRecordingsDir = "mic_recordings"
	DefaultSampleRate    = 24000
)

// Config is the full runtime configuration.
type Config struct {
	Backend   string          `yaml:"backend"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
	VAPI      VAPIConfig      `yaml:"vapi"`
	Device    DeviceConfig    `yaml:"device"`
	Server    ServerConfig    `yaml:"server"`
	Relay     RelayConfig     `yaml:"relay"`
	Speaking  SpeakingConfig  `yaml:"speaking"`
	Animation AnimationConfig `yaml:"animation"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	Log       LogConfig       `yaml:"log"`
}

// OpenAIConfig configures the OpenAI Realtime backend.
type OpenAIConfig struct {
	APIKey       string  `yaml:"api_key"`
	Model        string  `yaml:"model"`
	Voice        string  `yaml:"voice"`
	Instructions string  `yaml:"instructions"`
	Temperature  float64 `yaml:"temperature"`
}

// VAPIConfig configures the VAPI backend.
type VAPIConfig struct {
	APIKey      string `yaml:"api_key"`
	PublicKey   string `yaml:"public_key"`
	AssistantID string `yaml:"assistant_id"`
	BaseURL     string `yaml:"base_url"`
}

// DeviceConfig configures the actuator controller link.
type DeviceConfig struct {
	Transport      string        `yaml:"transport"`
	SerialPort     string        `yaml:"serial_port"`
	BaudRate       int           `yaml:"baud_rate"`
	Port           int           `yaml:"port"`
	SettleDelay    time.Duration `yaml:"settle_delay"`
	BootTimeout    time.Duration `yaml:"boot_timeout"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	InitServos     bool          `yaml:"init_servos"`
}

// ServerConfig configures the hardware-facing websocket servers.
type ServerConfig struct {
	AudioPort int `yaml:"audio_port"`
	MicPort   int `yaml:"mic_port"`
}

// RelayConfig configures the audio relay.
type RelayConfig struct {
	ChunkSize         int           `yaml:"chunk_size"`
	ChunkDelay        time.Duration `yaml:"chunk_delay"`
	MicSampleRate     int           `yaml:"mic_sample_rate"`
	ForwardUtterances bool          `yaml:"forward_utterances"`
	SaveRecordings    bool          `yaml:"save_recordings"`
	RecordingsDir     string        `yaml:"recordings_dir"`
	VAD               VADConfig     `yaml:"vad"`
}

// VADConfig configures the energy voice-activity segmenter.
type VADConfig struct {
	Threshold       float64       `yaml:"threshold"`
	MaxSilence      time.Duration `yaml:"max_silence"`
	MinSpeechFrames int           `yaml:"min_speech_frames"`
	// MaxUtterance ends an utterance that never pauses.
	MaxUtterance time.Duration `yaml:"max_utterance"`
}

// SpeakingConfig configures the speaking-state timer.
type SpeakingConfig struct {
	Grace time.Duration `yaml:"grace"`
	Tick  time.Duration `yaml:"tick"`
}

// AnimationConfig holds the animation tunables.
type AnimationConfig struct {
	Resolution     time.Duration `yaml:"resolution"`
	MouthThreshold float64       `yaml:"mouth_threshold"`
	EnergyScale    float64       `yaml:"energy_scale"`
	Smoothing      float64       `yaml:"smoothing"`
	WingRate       float64       `yaml:"wing_rate"`
	TiltRate       float64       `yaml:"tilt_rate"`
	RotationRate   float64       `yaml:"rotation_rate"`
	IdleInterval   time.Duration `yaml:"idle_interval"`
	IdleJitter     time.Duration `yaml:"idle_jitter"`
	IdleVariance   time.Duration `yaml:"idle_variance"`
}

// BehaviorConfig configures the autonomous behavior scheduler.
type BehaviorConfig struct {
	Autonomous      bool           `yaml:"autonomous"`
	Tick            time.Duration  `yaml:"tick"`
	BaseProbability float64        `yaml:"base_probability"`
	MaxSilence      time.Duration  `yaml:"max_silence"`
	Behaviors       []BehaviorSpec `yaml:"behaviors"`
}

// BehaviorSpec describes one scripted behavior. An empty list in the YAML
// file keeps the built-in set.
type BehaviorSpec struct {
	Name       string        `yaml:"name"`
	Prompt     string        `yaml:"prompt"`
	Frequency  float64       `yaml:"frequency"`
	MinSilence time.Duration `yaml:"min_silence"`
	Cooldown   time.Duration `yaml:"cooldown"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Backend: BackendOpenAI,
		OpenAI: OpenAIConfig{
			Model:        DefaultOpenAIModel,
			Voice:        DefaultOpenAIVoice,
			Instructions: DefaultInstructions,
			Temperature:  0.9,
		},
		VAPI: VAPIConfig{
			BaseURL: "https://api.vapi.ai",
		},
		Device: DeviceConfig{
			Transport:      TransportSerial,
			SerialPort:     DefaultSerialPort,
			BaudRate:       DefaultBaudRate,
			Port:           DefaultDevicePort,
			SettleDelay:    2 * time.Second,
			BootTimeout:    5 * time.Second,
			RetryDelay:     2 * time.Second,
			CommandTimeout: 5 * time.Second,
			InitServos:     true,
		},
		Server: ServerConfig{
			AudioPort: DefaultAudioPort,
			MicPort:   DefaultMicPort,
		},
		Relay: RelayConfig{
			ChunkSize:     1024,
			ChunkDelay:    500 * time.Microsecond,
			MicSampleRate: DefaultSampleRate,
			RecordingsDir: DefaultRecordingsDir,
			VAD: VADConfig{
				Threshold:       1000,
				MaxSilence:      1500 * time.Millisecond,
				MinSpeechFrames: 3,
				MaxUtterance:    30 * time.Second,
			},
		},
		Speaking: SpeakingConfig{
			Grace: 250 * time.Millisecond,
			Tick:  100 * time.Millisecond,
		},
		Animation: AnimationConfig{
			Resolution:     50 * time.Millisecond,
			MouthThreshold: 800,
			EnergyScale:    2000,
			Smoothing:      0.5,
			WingRate:       0.6,
			TiltRate:       0.7,
			RotationRate:   0.7,
			IdleInterval:   500 * time.Millisecond,
			IdleJitter:     200 * time.Millisecond,
			IdleVariance:   300 * time.Millisecond,
		},
		Behavior: BehaviorConfig{
			Autonomous:      true,
			Tick:            time.Second,
			BaseProbability: 0.2,
			MaxSilence:      30 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds a Config from defaults, the YAML file at path (optional, may be
// empty), a .env file in the working directory and the process environment.
// The result is validated.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for tools that need only part of the
// configuration.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := cfg.Decode(f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

// Decode overlays YAML from r onto c. Unknown keys are rejected.
func (c *Config) Decode(r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// Validate checks that c contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendOpenAI:
		if c.OpenAI.APIKey == "" {
			errs = append(errs, &ConfigError{Field: "openai.api_key", Message: "OPENAI_API_KEY is required for the openai backend"})
		}
	case BackendVAPI:
		if c.VAPI.APIKey == "" {
			errs = append(errs, &ConfigError{Field: "vapi.api_key", Message: "VAPI_API_KEY is required for the vapi backend"})
		}
		if c.VAPI.AssistantID == "" {
			errs = append(errs, &ConfigError{Field: "vapi.assistant_id", Message: "VAPI_ASSISTANT_ID is required for the vapi backend"})
		}
	default:
		errs = append(errs, &ConfigError{Field: "backend", Message: fmt.Sprintf("unknown voice backend %q; valid values: openai, vapi", c.Backend)})
	}

	switch c.Device.Transport {
	case TransportSerial:
		if c.Device.SerialPort == "" {
			errs = append(errs, &ConfigError{Field: "device.serial_port", Message: "serial port is required for the serial transport"})
		}
	case TransportWebSocket, TransportNone:
	default:
		errs = append(errs, &ConfigError{Field: "device.transport", Message: fmt.Sprintf("unknown device transport %q; valid values: serial, websocket, none", c.Device.Transport)})
	}

	if c.Relay.ChunkSize <= 0 {
		errs = append(errs, &ConfigError{Field: "relay.chunk_size", Message: "chunk size must be positive"})
	}
	if c.Relay.MicSampleRate <= 0 {
		errs = append(errs, &ConfigError{Field: "relay.mic_sample_rate", Message: "mic sample rate must be positive"})
	}
	if c.Animation.Resolution <= 0 {
		errs = append(errs, &ConfigError{Field: "animation.resolution", Message: "animation resolution must be positive"})
	}
	if c.Animation.Smoothing < 0 || c.Animation.Smoothing >= 1 {
		errs = append(errs, &ConfigError{Field: "animation.smoothing", Message: "smoothing must be in [0, 1)"})
	}
	for _, r := range []struct {
		field string
		v     float64
	}{
		{"animation.wing_rate", c.Animation.WingRate},
		{"animation.tilt_rate", c.Animation.TiltRate},
		{"animation.rotation_rate", c.Animation.RotationRate},
	} {
		if r.v <= 0 || r.v > 1 {
			errs = append(errs, &ConfigError{Field: r.field, Message: "axis rate must be in (0, 1]"})
		}
	}
	if c.Behavior.BaseProbability < 0 || c.Behavior.BaseProbability > 1 {
		errs = append(errs, &ConfigError{Field: "behavior.base_probability", Message: "base probability must be in [0, 1]"})
	}

	seen := make(map[string]int, len(c.Behavior.Behaviors))
	for i, b := range c.Behavior.Behaviors {
		prefix := fmt.Sprintf("behavior.behaviors[%d]", i)
		if b.Name == "" {
			errs = append(errs, &ConfigError{Field: prefix + ".name", Message: "name is required"})
		} else if prev, ok := seen[b.Name]; ok {
			errs = append(errs, &ConfigError{Field: prefix + ".name", Message: fmt.Sprintf("%q duplicates behaviors[%d]", b.Name, prev)})
		} else {
			seen[b.Name] = i
		}
		if b.Prompt == "" {
			errs = append(errs, &ConfigError{Field: prefix + ".prompt", Message: "prompt is required"})
		}
		if b.Frequency < 0 || b.Frequency > 1 {
			errs = append(errs, &ConfigError{Field: prefix + ".frequency", Message: "frequency must be in [0, 1]"})
		}
	}

	return errors.Join(errs...)
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}
