// Package conversation provides a uniform session contract over real-time
// cloud voice services. It supports the OpenAI Realtime API and VAPI.
//
// A Session is connected on demand, accepts microphone audio and synthetic
// text, and delivers everything the service sends back as typed events on a
// single channel:
//
//	session, err := conversation.New(conversation.BackendOpenAI,
//	    conversation.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := session.Connect(ctx); err != nil {
//	    return err
//	}
//	defer session.Disconnect()
//
//	for ev := range session.Events() {
//	    switch ev.Type {
//	    case conversation.EventAudio:
//	        // play ev.Audio
//	    case conversation.EventError:
//	        // log ev.Err
//	    }
//	}
//
// SendAudio and SendText are no-ops while disconnected: audio is produced
// continuously and a missing session must never abort the capture loop.
package conversation

import (
	"context"
	"fmt"
	"strings"
)

// Session is one cloud voice conversation.
type Session interface {
	// Connect establishes the session. It fails with a *ConnectionError when
	// the transport cannot be established or a session is already active.
	Connect(ctx context.Context) error

	// Disconnect tears the session down. Safe to call when disconnected.
	Disconnect() error

	// SendAudio streams PCM16 mono audio to the service.
	SendAudio(audio []byte) error

	// SendText submits text as user input and requests a response.
	SendText(text string) error

	// Events returns the inbound event stream. The channel lives as long as
	// the Session value and is shared across reconnects.
	Events() <-chan Event

	// State reports the connection state.
	State() ConnectionState

	// IsConnected is shorthand for State() == StateConnected.
	IsConnected() bool

	// Backend names the implementation ("openai", "vapi", "mock").
	Backend() string

	// DroppedEvents counts events discarded because the consumer lagged.
	DroppedEvents() int64
}

// Backend kinds accepted by New.
const (
	BackendOpenAI = "openai"
	BackendVAPI   = "vapi"
)

// New creates the Session for the named backend.
func New(backend string, opts ...Option) (Session, error) {
	switch strings.ToLower(backend) {
	case BackendOpenAI:
		return NewOpenAI(opts...)
	case BackendVAPI:
		return NewVAPI(opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrProviderNotSupported, backend)
	}
}

// EventType identifies an inbound event.
type EventType int

const (
	// EventAudio carries one independently decodable PCM16 fragment.
	EventAudio EventType = iota
	// EventTranscript carries a transcript fragment.
	EventTranscript
	// EventSpeechStarted marks speech onset detected by the service.
	EventSpeechStarted
	// EventSpeechStopped marks the end of detected speech.
	EventSpeechStopped
	// EventTurnDone marks the end of a response turn.
	EventTurnDone
	// EventError carries a backend error.
	EventError
)

func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "audio"
	case EventTranscript:
		return "transcript"
	case EventSpeechStarted:
		return "speech_started"
	case EventSpeechStopped:
		return "speech_stopped"
	case EventTurnDone:
		return "turn_done"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Role identifies who produced a transcript.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Event is one inbound message from the voice service.
type Event struct {
	Type  EventType
	Audio []byte
	Role  Role
	Text  string
	Final bool
	Err   error
}

// ConnectionState represents the state of the session connection.
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}
