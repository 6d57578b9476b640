package conversation

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	openAIRealtimeURL = "wss://api.openai.com/v1/realtime"
	openAIModel       = "gpt-4o-realtime-preview-2024-12-17"
	openAIVoice       = "ballad"
)

// OpenAI implements Session for the OpenAI Realtime API.
type OpenAI struct {
	config *Config
	logger *slog.Logger
	events *eventStream

	mu        sync.RWMutex
	conn      *websocket.Conn
	state     ConnectionState
	cancelCtx context.CancelFunc

	// gorilla connections allow one concurrent writer.
	writeMu sync.Mutex

	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
}

// NewOpenAI creates a new OpenAI Realtime session.
func NewOpenAI(opts ...Option) (*OpenAI, error) {
	cfg := DefaultConfig()
	cfg.Model = openAIModel
	cfg.Voice = openAIVoice
	cfg.BaseURL = openAIRealtimeURL
	cfg.Apply(opts...)

	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	logger := cfg.Logger.With("component", "conversation.openai")
	return &OpenAI{
		config: cfg,
		logger: logger,
		events: newEventStream(cfg.EventBuffer, logger),
		state:  StateDisconnected,
	}, nil
}

// Backend implements Session.
func (o *OpenAI) Backend() string { return BackendOpenAI }

// Events implements Session.
func (o *OpenAI) Events() <-chan Event { return o.events.ch }

// DroppedEvents implements Session.
func (o *OpenAI) DroppedEvents() int64 { return o.events.Dropped() }

// State implements Session.
func (o *OpenAI) State() ConnectionState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// IsConnected implements Session.
func (o *OpenAI) IsConnected() bool {
	return o.State() == StateConnected
}

// Connect dials the realtime endpoint and configures the session.
func (o *OpenAI) Connect(ctx context.Context) error {
	o.mu.Lock()
	if o.state != StateDisconnected {
		o.mu.Unlock()
		return NewConnectionError("session already active", ErrAlreadyConnected, false)
	}
	o.state = StateConnecting
	o.mu.Unlock()

	u, err := url.Parse(o.config.BaseURL)
	if err != nil {
		o.setState(StateDisconnected)
		return NewConnectionError("invalid base URL", err, false)
	}
	q := u.Query()
	q.Set("model", o.config.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+o.config.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		HandshakeTimeout: o.config.Timeout,
	}

	o.logger.Info("connecting to OpenAI Realtime API", "model", o.config.Model)

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		o.setState(StateDisconnected)
		if resp != nil {
			return NewConnectionError(
				fmt.Sprintf("dial failed with status %d", resp.StatusCode),
				err,
				resp.StatusCode >= 500,
			)
		}
		return NewConnectionError("dial failed", err, true)
	}

	msgCtx, cancel := context.WithCancel(context.Background())

	o.mu.Lock()
	o.conn = conn
	o.state = StateConnected
	o.cancelCtx = cancel
	o.mu.Unlock()

	if err := o.configureSession(conn); err != nil {
		cancel()
		o.teardown(conn)
		return err
	}

	go o.readLoop(msgCtx, conn)

	o.logger.Info("connected to OpenAI Realtime API")
	return nil
}

// Disconnect closes the connection. It is a no-op when disconnected.
func (o *OpenAI) Disconnect() error {
	o.mu.Lock()
	conn := o.conn
	cancel := o.cancelCtx
	o.cancelCtx = nil
	o.mu.Unlock()

	if conn == nil {
		return nil
	}
	if cancel != nil {
		cancel()
	}

	o.writeMu.Lock()
	_ = conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	o.writeMu.Unlock()

	o.teardown(conn)
	o.logger.Info("disconnected from OpenAI Realtime API",
		"sent", o.messagesSent.Load(),
		"received", o.messagesReceived.Load(),
	)
	return nil
}

// SendAudio appends audio to the input buffer. No-op when disconnected.
func (o *OpenAI) SendAudio(audio []byte) error {
	return o.write(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(audio),
	})
}

// SendText adds a user message and asks for a response. No-op when disconnected.
func (o *OpenAI) SendText(text string) error {
	item := map[string]any{
		"type": "conversation.item.create",
		"item": map[string]any{
			"type": "message",
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": text},
			},
		},
	}
	if err := o.write(item); err != nil {
		return err
	}
	return o.write(map[string]string{"type": "response.create"})
}

func (o *OpenAI) configureSession(conn *websocket.Conn) error {
	session := map[string]any{
		"modalities":          []string{"text", "audio"},
		"instructions":        o.config.Instructions,
		"voice":               o.config.Voice,
		"input_audio_format":  "pcm16",
		"output_audio_format": "pcm16",
		"input_audio_transcription": map[string]any{
			"model": "whisper-1",
		},
		"temperature": o.config.Temperature,
	}
	if td := o.config.TurnDetection; td != nil {
		session["turn_detection"] = map[string]any{
			"type":                td.Type,
			"threshold":           td.Threshold,
			"prefix_padding_ms":   td.PrefixPaddingMs,
			"silence_duration_ms": td.SilenceDurationMs,
			"create_response":     td.CreateResponse,
		}
	}

	if err := o.writeTo(conn, map[string]any{"type": "session.update", "session": session}); err != nil {
		return NewConnectionError("configure session failed", err, true)
	}
	return nil
}

func (o *OpenAI) write(msg any) error {
	o.mu.RLock()
	conn := o.conn
	state := o.state
	o.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return nil
	}
	if err := o.writeTo(conn, msg); err != nil {
		return NewConnectionError("send failed", err, true)
	}
	return nil
}

func (o *OpenAI) writeTo(conn *websocket.Conn, msg any) error {
	o.writeMu.Lock()
	defer o.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(o.config.WriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		return err
	}
	o.messagesSent.Add(1)
	return nil
}

func (o *OpenAI) setState(s ConnectionState) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// teardown closes conn and marks the session disconnected if conn is still current.
func (o *OpenAI) teardown(conn *websocket.Conn) {
	conn.Close()

	o.mu.Lock()
	if o.conn == conn {
		o.conn = nil
		o.state = StateDisconnected
		if o.cancelCtx != nil {
			o.cancelCtx()
			o.cancelCtx = nil
		}
	}
	o.mu.Unlock()
}

// readLoop processes inbound messages until the connection ends.
func (o *OpenAI) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer o.teardown(conn)

	for {
		_ = conn.SetReadDeadline(time.Now().Add(o.config.ReadTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Consumers reconnect on the error event, so the session must
			// already read as disconnected when it arrives.
			o.teardown(conn)
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				o.logger.Info("connection closed by server")
				o.events.emitError(NewConnectionError("closed by server", ErrConnectionClosed, true))
				return
			}
			o.logger.Error("read error", "error", err)
			o.events.emitError(NewConnectionError("read failed", err, true))
			return
		}

		o.messagesReceived.Add(1)

		var msg map[string]any
		if err := json.Unmarshal(data, &msg); err != nil {
			o.logger.Warn("failed to parse message", "error", err)
			continue
		}

		o.handleMessage(msg)
	}
}

// handleMessage maps one realtime server event onto the event stream.
func (o *OpenAI) handleMessage(msg map[string]any) {
	msgType, _ := msg["type"].(string)

	switch msgType {
	case "session.created", "session.updated":
		o.logger.Debug("session event", "type", msgType)

	case "input_audio_buffer.speech_started":
		o.events.emit(Event{Type: EventSpeechStarted})

	case "input_audio_buffer.speech_stopped":
		o.events.emit(Event{Type: EventSpeechStopped})

	case "conversation.item.input_audio_transcription.completed":
		if transcript, ok := msg["transcript"].(string); ok {
			o.events.emit(Event{Type: EventTranscript, Role: RoleUser, Text: transcript, Final: true})
		}

	case "response.audio.delta":
		delta, _ := msg["delta"].(string)
		if delta == "" {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(delta)
		if err != nil {
			o.logger.Warn("bad audio delta", "error", err)
			return
		}
		o.events.emit(Event{Type: EventAudio, Audio: audio})

	case "response.audio_transcript.delta":
		if delta, ok := msg["delta"].(string); ok {
			o.events.emit(Event{Type: EventTranscript, Role: RoleAgent, Text: delta})
		}

	case "response.audio_transcript.done":
		if text, ok := msg["transcript"].(string); ok {
			o.events.emit(Event{Type: EventTranscript, Role: RoleAgent, Text: text, Final: true})
		}

	case "response.done":
		o.events.emit(Event{Type: EventTurnDone})

	case "error":
		errData, _ := msg["error"].(map[string]any)
		errMsg, _ := errData["message"].(string)
		errCode, _ := errData["code"].(string)
		o.events.emitError(NewAPIError(0, errCode, errMsg))
	}
}

// Ensure OpenAI implements Session.
var _ Session = (*OpenAI)(nil)
