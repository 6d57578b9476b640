package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-parrot/pkg/hub"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeControl struct {
	mu         sync.Mutex
	autonomous bool
	said       []string
	sayErr     error
}

func (f *fakeControl) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Status{Autonomous: f.autonomous, Session: "connected", Backend: "mock"}
}

func (f *fakeControl) SetAutonomous(on bool) {
	f.mu.Lock()
	f.autonomous = on
	f.mu.Unlock()
}

func (f *fakeControl) Say(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sayErr != nil {
		return f.sayErr
	}
	f.said = append(f.said, text)
	return nil
}

type fakeMic struct {
	mu     sync.Mutex
	frames [][]byte
	got    chan struct{}
}

func (m *fakeMic) HandleMic(_ context.Context, frame []byte) {
	m.mu.Lock()
	m.frames = append(m.frames, frame)
	m.mu.Unlock()
	select {
	case m.got <- struct{}{}:
	default:
	}
}

func testDeps(ctl Control) Deps {
	return Deps{
		Speakers:    hub.New("speaker", hub.WithLogger(quietLogger())),
		Microphones: hub.New("microphone", hub.WithLogger(quietLogger())),
		Devices:     hub.New("bottango", hub.WithLogger(quietLogger())),
		Control:     ctl,
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, "parrot_relay_chunks_total 3\n")
		}),
		Logger: quietLogger(),
	}
}

func TestAPI(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		path       string
		body       string
		sayErr     error
		wantStatus int
		wantBody   string
	}{
		{"status", http.MethodGet, "/api/status", "", nil, 200, `"session":"connected"`},
		{"enable autonomous", http.MethodPost, "/api/autonomous", `{"enabled":true}`, nil, 200, `"autonomous":true`},
		{"autonomous missing field", http.MethodPost, "/api/autonomous", `{}`, nil, 400, "enabled"},
		{"say", http.MethodPost, "/api/say", `{"text":"Ahoy"}`, nil, 200, `"success":true`},
		{"say empty", http.MethodPost, "/api/say", `{"text":"  "}`, nil, 400, "text is required"},
		{"say disconnected", http.MethodPost, "/api/say", `{"text":"Ahoy"}`, errors.New("conversation: not connected"), 503, "not connected"},
		{"metrics", http.MethodGet, "/metrics", "", nil, 200, "parrot_relay_chunks_total"},
		{"plain request on websocket route", http.MethodGet, "/audio-stream", "", nil, 426, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctl := &fakeControl{sayErr: tt.sayErr}
			srv := NewAudioServer(":0", testDeps(ctl))

			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.body != "" {
				req.Header.Set("Content-Type", "application/json")
			}
			resp, err := srv.App().Test(req)
			if err != nil {
				t.Fatalf("request failed: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			body, _ := io.ReadAll(resp.Body)
			if !strings.Contains(string(body), tt.wantBody) {
				t.Errorf("body %q does not contain %q", body, tt.wantBody)
			}
		})
	}
}

func TestSayForwardsText(t *testing.T) {
	ctl := &fakeControl{}
	srv := NewAudioServer(":0", testDeps(ctl))

	req := httptest.NewRequest(http.MethodPost, "/api/say", strings.NewReader(`{"text":"Tell a joke"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.App().Test(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(ctl.said) != 1 || ctl.said[0] != "Tell a joke" {
		t.Errorf("said = %q", ctl.said)
	}
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(Status{Speaking: true, Speakers: 2})
	if err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{`"speaking":true`, `"speakers":2`, `"autonomous":false`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("status JSON %s missing %s", data, key)
		}
	}
}

func TestMicrophoneWebsocket(t *testing.T) {
	d := testDeps(&fakeControl{})
	mic := &fakeMic{got: make(chan struct{}, 1)}
	d.Mic = mic
	srv := NewMicServer(":0", d)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go srv.App().Listener(ln)
	defer srv.App().Shutdown()

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/microphone", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte("hello")); err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, make([]byte, 960)); err != nil {
		t.Fatal(err)
	}

	select {
	case <-mic.got:
	case <-time.After(2 * time.Second):
		t.Fatal("microphone frame not delivered")
	}

	mic.mu.Lock()
	defer mic.mu.Unlock()
	if len(mic.frames) != 1 || len(mic.frames[0]) != 960 {
		t.Errorf("mic frames = %d, want one 960-byte binary frame", len(mic.frames))
	}
	if d.Microphones.ClientCount() != 1 {
		t.Errorf("microphone clients = %d, want 1", d.Microphones.ClientCount())
	}
}
