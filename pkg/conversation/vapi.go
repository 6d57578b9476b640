package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/teslashibe/go-parrot/internal/httpc"
)

const vapiBaseURL = "https://api.vapi.ai"

// VAPI implements Session for VAPI web calls. A call is created over REST
// and audio flows over the websocket URL the call returns.
type VAPI struct {
	config *Config
	logger *slog.Logger
	events *eventStream

	mu     sync.RWMutex
	conn   *websocket.Conn
	callID string
	state  ConnectionState
	cancel context.CancelFunc
	ctx    context.Context
}

type vapiCallRequest struct {
	AssistantID string `json:"assistant_id"`
	Type        string `json:"type"`
	AudioFormat string `json:"audio_format"`
	SampleRate  int    `json:"sample_rate"`
}

type vapiCallResponse struct {
	ID           string `json:"id"`
	WebsocketURL string `json:"websocket_url"`
}

type vapiMessage struct {
	Type       string          `json:"type"`
	Role       string          `json:"role,omitempty"`
	Transcript string          `json:"transcript,omitempty"`
	Status     string          `json:"status,omitempty"`
	Function   json.RawMessage `json:"functionCall,omitempty"`
	Error      string          `json:"error,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// NewVAPI creates a new VAPI session.
func NewVAPI(opts ...Option) (*VAPI, error) {
	cfg := DefaultConfig()
	cfg.BaseURL = vapiBaseURL
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.AssistantID == "" {
		return nil, ErrMissingAssistantID
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.Client
	}

	logger := cfg.Logger.With("component", "conversation.vapi")
	return &VAPI{
		config: cfg,
		logger: logger,
		events: newEventStream(cfg.EventBuffer, logger),
		state:  StateDisconnected,
	}, nil
}

// Backend implements Session.
func (v *VAPI) Backend() string { return BackendVAPI }

// Events implements Session.
func (v *VAPI) Events() <-chan Event { return v.events.ch }

// DroppedEvents implements Session.
func (v *VAPI) DroppedEvents() int64 { return v.events.Dropped() }

// State implements Session.
func (v *VAPI) State() ConnectionState {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.state
}

// IsConnected implements Session.
func (v *VAPI) IsConnected() bool {
	return v.State() == StateConnected
}

func (v *VAPI) authHeader() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+v.config.APIKey)
	return h
}

// Connect creates a web call and opens its audio websocket.
func (v *VAPI) Connect(ctx context.Context) error {
	v.mu.Lock()
	if v.state != StateDisconnected {
		v.mu.Unlock()
		return NewConnectionError("session already active", ErrAlreadyConnected, false)
	}
	v.state = StateConnecting
	v.mu.Unlock()

	v.logger.Info("creating VAPI call", "assistant_id", v.config.AssistantID)

	reqCtx, cancelReq := context.WithTimeout(ctx, v.config.Timeout)
	defer cancelReq()

	var call vapiCallResponse
	err := httpc.DoJSON(reqCtx, v.config.HTTPClient, http.MethodPost,
		strings.TrimRight(v.config.BaseURL, "/")+"/call",
		v.authHeader(),
		vapiCallRequest{
			AssistantID: v.config.AssistantID,
			Type:        "web",
			AudioFormat: "pcm16",
			SampleRate:  v.config.SampleRate,
		},
		&call,
	)
	if err != nil {
		v.setState(StateDisconnected)
		var se *httpc.StatusError
		if errors.As(err, &se) {
			return NewConnectionError("create call failed",
				NewAPIError(se.StatusCode, "", se.Body),
				se.StatusCode == 429 || se.StatusCode >= 500)
		}
		return NewConnectionError("create call failed", err, true)
	}
	if call.WebsocketURL == "" {
		v.setState(StateDisconnected)
		return NewConnectionError("create call returned no websocket URL", ErrInvalidMessage, false)
	}

	conn, _, err := websocket.Dial(reqCtx, call.WebsocketURL, &websocket.DialOptions{
		HTTPHeader: v.authHeader(),
	})
	if err != nil {
		v.setState(StateDisconnected)
		v.deleteCall(call.ID)
		return NewConnectionError("dial failed", err, true)
	}
	// Audio deltas can be large.
	conn.SetReadLimit(4 << 20)

	sessCtx, cancel := context.WithCancel(context.Background())

	v.mu.Lock()
	v.conn = conn
	v.callID = call.ID
	v.ctx = sessCtx
	v.cancel = cancel
	v.state = StateConnected
	v.mu.Unlock()

	go v.readLoop(sessCtx, conn)

	v.logger.Info("connected to VAPI", "call_id", call.ID)
	return nil
}

// Disconnect closes the websocket and ends the call. No-op when disconnected.
func (v *VAPI) Disconnect() error {
	v.mu.Lock()
	conn := v.conn
	callID := v.callID
	cancel := v.cancel
	v.conn = nil
	v.callID = ""
	v.cancel = nil
	v.state = StateDisconnected
	v.mu.Unlock()

	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	v.deleteCall(callID)

	v.logger.Info("disconnected from VAPI", "call_id", callID)
	return nil
}

func (v *VAPI) deleteCall(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), v.config.Timeout)
	defer cancel()

	err := httpc.DoJSON(ctx, v.config.HTTPClient, http.MethodDelete,
		strings.TrimRight(v.config.BaseURL, "/")+"/call/"+id,
		v.authHeader(), nil, nil)
	if err != nil {
		v.logger.Warn("failed to end call", "call_id", id, "error", err)
	}
}

// SendAudio sends PCM16 audio as a binary frame. No-op when disconnected.
func (v *VAPI) SendAudio(audio []byte) error {
	return v.write(websocket.MessageBinary, audio)
}

// SendText sends a text message for the assistant. No-op when disconnected.
func (v *VAPI) SendText(text string) error {
	data, err := json.Marshal(map[string]string{"type": "text", "text": text})
	if err != nil {
		return fmt.Errorf("conversation: encode text: %w", err)
	}
	return v.write(websocket.MessageText, data)
}

func (v *VAPI) write(typ websocket.MessageType, data []byte) error {
	v.mu.RLock()
	conn := v.conn
	ctx := v.ctx
	v.mu.RUnlock()

	if conn == nil {
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, v.config.WriteTimeout)
	defer cancel()
	if err := conn.Write(wctx, typ, data); err != nil {
		return NewConnectionError("send failed", err, true)
	}
	return nil
}

func (v *VAPI) setState(s ConnectionState) {
	v.mu.Lock()
	v.state = s
	v.mu.Unlock()
}

// release marks the session disconnected if conn is still current.
func (v *VAPI) release(conn *websocket.Conn) {
	v.mu.Lock()
	if v.conn == conn {
		v.conn = nil
		v.callID = ""
		v.state = StateDisconnected
		if v.cancel != nil {
			v.cancel()
			v.cancel = nil
		}
	}
	v.mu.Unlock()
	_ = conn.CloseNow()
}

func (v *VAPI) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer v.release(conn)

	for {
		rctx, cancel := context.WithTimeout(ctx, v.config.ReadTimeout)
		typ, data, err := conn.Read(rctx)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			v.release(conn)
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				v.events.emitError(NewConnectionError("closed by server", ErrConnectionClosed, true))
				return
			}
			v.logger.Error("read error", "error", err)
			v.events.emitError(NewConnectionError("read failed", err, true))
			return
		}

		if typ == websocket.MessageBinary {
			if len(data) > 0 {
				v.events.emit(Event{Type: EventAudio, Audio: data})
			}
			continue
		}

		var msg vapiMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			v.logger.Warn("failed to parse message", "error", err)
			continue
		}
		v.handleMessage(msg)
	}
}

func (v *VAPI) handleMessage(msg vapiMessage) {
	switch msg.Type {
	case "transcript":
		role := RoleAgent
		if msg.Role == "user" {
			role = RoleUser
		}
		v.events.emit(Event{Type: EventTranscript, Role: role, Text: msg.Transcript, Final: true})

	case "speech-update":
		switch msg.Status {
		case "started":
			v.events.emit(Event{Type: EventSpeechStarted})
		case "stopped":
			v.events.emit(Event{Type: EventSpeechStopped})
		}

	case "function-call":
		v.logger.Info("function call", "payload", string(msg.Function))

	case "error":
		text := msg.Error
		if text == "" {
			text = msg.Message
		}
		v.events.emitError(NewAPIError(0, "", text))

	default:
		v.logger.Debug("unhandled message", "type", msg.Type)
	}
}

var _ Session = (*VAPI)(nil)
