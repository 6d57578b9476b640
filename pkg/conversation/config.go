package conversation

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/teslashibe/go-parrot/internal/httpc"
)

// Config holds configuration for voice sessions.
type Config struct {
	// APIKey is the authentication key for the service.
	APIKey string

	// AssistantID is the VAPI assistant identifier.
	AssistantID string

	// PublicKey is the VAPI public key (informational, sent nowhere by default).
	PublicKey string

	// Model is the realtime model (OpenAI).
	Model string

	// Voice is the voice name (OpenAI).
	Voice string

	// BaseURL overrides the default API endpoint.
	BaseURL string

	// Instructions is the persona / system prompt.
	Instructions string

	// Temperature controls response randomness.
	Temperature float64

	// SampleRate is the PCM16 sample rate used in both directions.
	SampleRate int

	// Timeout bounds the connection handshake.
	Timeout time.Duration

	// ReadTimeout bounds the wait for any inbound message.
	ReadTimeout time.Duration

	// WriteTimeout bounds each outbound write.
	WriteTimeout time.Duration

	// EventBuffer is the capacity of the event channel.
	EventBuffer int

	// TurnDetection configures server-side voice activity detection.
	TurnDetection *TurnDetection

	// HTTPClient is used for REST calls (VAPI call lifecycle).
	HTTPClient *http.Client

	// Logger is the structured logger to use.
	Logger *slog.Logger
}

// TurnDetection configures voice activity detection for turn-taking.
type TurnDetection struct {
	// Type is the detection type: "server_vad" or "none".
	Type string

	// Threshold is the VAD threshold (0.0-1.0).
	Threshold float64

	// PrefixPaddingMs is audio kept before detected speech.
	PrefixPaddingMs int

	// SilenceDurationMs is silence duration to end a turn.
	SilenceDurationMs int

	// CreateResponse asks the service to answer automatically at turn end.
	CreateResponse bool
}

// DefaultConfig returns a Config with the parrot defaults.
func DefaultConfig() *Config {
	return &Config{
		Temperature:  0.9,
		SampleRate:   24000,
		Timeout:      30 * time.Second,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Second,
		EventBuffer:  512,
		HTTPClient:   httpc.Client,
		Logger:       slog.Default(),
		TurnDetection: &TurnDetection{
			Type:              "server_vad",
			Threshold:         0.6,
			PrefixPaddingMs:   350,
			SilenceDurationMs: 650,
			CreateResponse:    true,
		},
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option is a functional option for configuring sessions.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) {
		c.APIKey = key
	}
}

// WithAssistantID sets the VAPI assistant ID.
func WithAssistantID(id string) Option {
	return func(c *Config) {
		c.AssistantID = id
	}
}

// WithPublicKey sets the VAPI public key.
func WithPublicKey(key string) Option {
	return func(c *Config) {
		c.PublicKey = key
	}
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Config) {
		c.Model = model
	}
}

// WithVoice sets the voice.
func WithVoice(voice string) Option {
	return func(c *Config) {
		c.Voice = voice
	}
}

// WithBaseURL sets the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Config) {
		c.BaseURL = url
	}
}

// WithInstructions sets the persona prompt.
func WithInstructions(text string) Option {
	return func(c *Config) {
		c.Instructions = text
	}
}

// WithTemperature sets the response temperature.
func WithTemperature(temp float64) Option {
	return func(c *Config) {
		c.Temperature = temp
	}
}

// WithTimeout sets the connection timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithReadTimeout sets the inbound read timeout.
func WithReadTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.ReadTimeout = d
	}
}

// WithEventBuffer sets the event channel capacity.
func WithEventBuffer(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.EventBuffer = n
		}
	}
}

// WithTurnDetection overrides server-side turn detection.
func WithTurnDetection(td *TurnDetection) Option {
	return func(c *Config) {
		c.TurnDetection = td
	}
}

// WithHTTPClient sets the HTTP client used for REST calls.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
