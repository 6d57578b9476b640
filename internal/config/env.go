package config

import (
	"strconv"
	"strings"
	"time"
)

// LookupFunc resolves an environment variable. os.LookupEnv satisfies it.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides c with any set environment variables.
// Malformed numeric values are ignored and the previous value kept.
func (c *Config) ApplyEnv(lookup LookupFunc) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("VOICE_BACKEND"); ok && v != "" {
		c.Backend = strings.ToLower(v)
	}

	str("OPENAI_API_KEY", &c.OpenAI.APIKey)
	str("OPENAI_VOICE", &c.OpenAI.Voice)
	str("OPENAI_MODEL", &c.OpenAI.Model)

	str("VAPI_API_KEY", &c.VAPI.APIKey)
	str("VAPI_PUBLIC_KEY", &c.VAPI.PublicKey)
	str("VAPI_ASSISTANT_ID", &c.VAPI.AssistantID)
	str("VAPI_BASE_URL", &c.VAPI.BaseURL)

	str("PARROT_SERIAL_PORT", &c.Device.SerialPort)
	if v, ok := lookup("PARROT_DEVICE_TRANSPORT"); ok && v != "" {
		c.Device.Transport = strings.ToLower(v)
	}
	intVar(lookup, "PARROT_AUDIO_PORT", &c.Server.AudioPort)
	intVar(lookup, "PARROT_MIC_PORT", &c.Server.MicPort)
	intVar(lookup, "PARROT_DEVICE_PORT", &c.Device.Port)

	boolVar(lookup, "PARROT_AUTONOMOUS", &c.Behavior.Autonomous)
	boolVar(lookup, "PARROT_SAVE_RECORDINGS", &c.Relay.SaveRecordings)
	durationVar(lookup, "PARROT_SPEAKING_GRACE", &c.Speaking.Grace)

	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
}

func intVar(lookup LookupFunc, key string, dst *int) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

func boolVar(lookup LookupFunc, key string, dst *bool) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func durationVar(lookup LookupFunc, key string, dst *time.Duration) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
	}
}
