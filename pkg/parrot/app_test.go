package parrot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-parrot/internal/config"
	"github.com/teslashibe/go-parrot/pkg/bottango"
	"github.com/teslashibe/go-parrot/pkg/conversation"
	"github.com/teslashibe/go-parrot/pkg/robot"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeConn is a hub.Conn that records binary frames.
type fakeConn struct {
	mu     sync.Mutex
	frames int
	bytes  int
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn { return &fakeConn{closed: make(chan struct{})} }

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, io.EOF
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames++
	c.bytes += len(data)
	return nil
}

func (c *fakeConn) SetReadDeadline(time.Time) error   { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetReadLimit(int64)                {}
func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) received() (frames, bytes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames, c.bytes
}

// waitFor polls cond until it holds or the timeout passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

// scriptedDevice is a controller that boots immediately and acks everything.
type scriptedDevice struct {
	mu      sync.Mutex
	written []string
	lines   chan string
}

func newScriptedDevice() *scriptedDevice {
	d := &scriptedDevice{lines: make(chan string, 64)}
	d.lines <- "Bottango BOOT"
	return d
}

func (d *scriptedDevice) WriteLine(_ context.Context, line string) error {
	d.mu.Lock()
	d.written = append(d.written, line)
	d.mu.Unlock()
	if line == bottango.HandshakeRequest {
		d.lines <- bottango.HandshakeAck
	}
	d.lines <- bottango.OK
	return nil
}

func (d *scriptedDevice) Lines() <-chan string { return d.lines }
func (d *scriptedDevice) Close() error         { return nil }

func (d *scriptedDevice) sent() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.written...)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Device.Transport = config.TransportNone
	cfg.Device.SettleDelay = 0
	cfg.Relay.ChunkDelay = 0
	cfg.Server.AudioPort = 0
	cfg.Server.MicPort = 0
	return cfg
}

func newTestApp(t *testing.T, cfg *config.Config, opts ...Option) (*App, *conversation.Mock) {
	t.Helper()
	mock := conversation.NewMock()
	opts = append([]Option{WithSession(mock), WithLogger(quietLogger())}, opts...)
	a, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, mock
}

// speech returns d of loud PCM16 audio.
func speech(d time.Duration) []byte {
	n := int(d/time.Millisecond) * 24
	pcm := make([]byte, 2*n)
	for i := 0; i < n; i++ {
		v := int16(6000)
		if i%2 == 1 {
			v = -6000
		}
		pcm[2*i] = byte(v)
		pcm[2*i+1] = byte(uint16(v) >> 8)
	}
	return pcm
}

func TestSessionFollowsOccupancy(t *testing.T) {
	a, mock := newTestApp(t, testConfig())
	ctx := context.Background()

	if err := a.reconcileSession(ctx); err != nil {
		t.Fatal(err)
	}
	if mock.ConnectCalls != 0 {
		t.Errorf("connected with no clients")
	}

	speaker := a.speakers.Add(newFakeConn(), "speaker")
	mic := a.mics.Add(newFakeConn(), "mic")
	if len(a.reconcile) != 1 {
		t.Errorf("membership change did not signal reconcile")
	}
	if err := a.reconcileSession(ctx); err != nil {
		t.Fatal(err)
	}
	if !mock.IsConnected() {
		t.Fatal("session not connected with clients attached")
	}

	// One hub emptying is not enough.
	a.speakers.Remove(speaker)
	if err := a.reconcileSession(ctx); err != nil {
		t.Fatal(err)
	}
	if !mock.IsConnected() {
		t.Error("session dropped while a microphone is attached")
	}

	a.mics.Remove(mic)
	if err := a.reconcileSession(ctx); err != nil {
		t.Fatal(err)
	}
	if mock.IsConnected() {
		t.Error("session still connected with no clients")
	}
	if mock.ConnectCalls != 1 || mock.DisconnectCalls != 1 {
		t.Errorf("connect/disconnect calls = %d/%d, want 1/1", mock.ConnectCalls, mock.DisconnectCalls)
	}
}

func TestSessionConnectFailure(t *testing.T) {
	a, mock := newTestApp(t, testConfig())
	mock.ConnectFunc = func(context.Context) error {
		return conversation.NewConnectionError("dial failed", errors.New("refused"), true)
	}
	a.speakers.Add(newFakeConn(), "speaker")

	err := a.reconcileSession(context.Background())
	if !conversation.IsConnectionError(err) {
		t.Fatalf("err = %v, want connection error", err)
	}
	if mock.IsConnected() {
		t.Error("session reported connected after failure")
	}
}

func TestAudioEventFansOutAndAnimates(t *testing.T) {
	a, _ := newTestApp(t, testConfig())
	ctx := context.Background()

	conn := newFakeConn()
	a.speakers.Add(conn, "speaker")

	pcm := speech(200 * time.Millisecond)
	a.handleEvent(ctx, conversation.Event{Type: conversation.EventAudio, Audio: pcm})

	var frames, bytes int
	waitFor(t, time.Second, func() bool {
		frames, bytes = conn.received()
		return bytes == len(pcm)
	})
	if bytes != len(pcm) {
		t.Errorf("speaker got %d bytes, want %d", bytes, len(pcm))
	}
	if want := (len(pcm) + 1023) / 1024; frames != want {
		t.Errorf("speaker got %d chunks, want %d", frames, want)
	}
	if got := a.anim.Pending(); got != 4 {
		t.Errorf("pending frames = %d, want 4", got)
	}
	if !a.clock.IsSpeaking() {
		t.Error("clock not speaking after audio")
	}
}

func TestAudioWithoutSpeakersIsDropped(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	a.handleEvent(context.Background(), conversation.Event{Type: conversation.EventAudio, Audio: speech(100 * time.Millisecond)})

	if a.anim.Pending() != 0 {
		t.Errorf("frames scheduled with no speakers")
	}
	if a.clock.IsSpeaking() {
		t.Error("clock extended with no speakers")
	}
}

func TestConnectionErrorTriggersReconcile(t *testing.T) {
	a, _ := newTestApp(t, testConfig())

	a.handleEvent(context.Background(), conversation.Event{
		Type: conversation.EventError,
		Err:  conversation.NewConnectionError("read failed", io.ErrUnexpectedEOF, true),
	})
	if len(a.reconcile) != 1 {
		t.Error("connection error did not signal reconcile")
	}

	<-a.reconcile
	a.handleEvent(context.Background(), conversation.Event{
		Type: conversation.EventError,
		Err:  conversation.NewAPIError(400, "bad_request", "nope"),
	})
	if len(a.reconcile) != 0 {
		t.Error("API error signalled reconcile")
	}
}

func TestSay(t *testing.T) {
	a, mock := newTestApp(t, testConfig())
	ctx := context.Background()

	if err := a.Say(ctx, "hello"); !errors.Is(err, conversation.ErrNotConnected) {
		t.Fatalf("Say while disconnected = %v, want ErrNotConnected", err)
	}

	if err := mock.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := a.Say(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if got := mock.Texts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("texts = %q", got)
	}
}

func TestBehaviorEnv(t *testing.T) {
	a, mock := newTestApp(t, testConfig())
	env := behaviorEnv{a}

	if env.HasClients() {
		t.Error("HasClients with no speakers")
	}
	a.mics.Add(newFakeConn(), "mic")
	if env.HasClients() {
		t.Error("a microphone alone should not count as an audience")
	}
	a.speakers.Add(newFakeConn(), "speaker")
	if !env.HasClients() {
		t.Error("HasClients false with a speaker attached")
	}

	if err := mock.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := env.Submit(context.Background(), "autonomous_command: squawk"); err != nil {
		t.Fatal(err)
	}
	if got := mock.Texts(); len(got) != 1 || !strings.HasPrefix(got[0], "autonomous_command: ") {
		t.Errorf("texts = %q", got)
	}
}

func TestStatus(t *testing.T) {
	cfg := testConfig()
	cfg.Behavior.Autonomous = false
	a, mock := newTestApp(t, cfg)
	a.speakers.Add(newFakeConn(), "speaker")

	st := a.Status()
	if st.Backend != "mock" || st.Session != "disconnected" {
		t.Errorf("backend/session = %q/%q", st.Backend, st.Session)
	}
	if st.Speakers != 1 || st.Microphones != 0 {
		t.Errorf("speakers/microphones = %d/%d", st.Speakers, st.Microphones)
	}
	if st.Device != config.TransportNone {
		t.Errorf("device = %q, want none", st.Device)
	}
	if st.Autonomous {
		t.Error("autonomous should follow config")
	}

	if st.Eligible == nil || len(st.Eligible) != 0 {
		t.Errorf("eligible = %v, want an empty list right after start", st.Eligible)
	}

	a.SetAutonomous(true)
	if !a.Status().Autonomous {
		t.Error("SetAutonomous(true) not reflected in status")
	}

	mock.Dropped = 3
	if got := a.Status().DroppedEvents; got != 3 {
		t.Errorf("dropped events = %d, want 3", got)
	}
}

func TestDeviceLinkOverTransport(t *testing.T) {
	cfg := testConfig()
	dev := newScriptedDevice()
	a, _ := newTestApp(t, cfg, WithTransport(dev))

	if err := a.setPosition(context.Background(), robot.Mouth, 0.5); !errors.Is(err, bottango.ErrNotReady) {
		t.Fatalf("setPosition before link = %v, want ErrNotReady", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.runDevice(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for a.deviceState() != bottango.StateReady.String() {
		if time.Now().After(deadline) {
			t.Fatalf("device state = %s, want ready", a.deviceState())
		}
		time.Sleep(5 * time.Millisecond)
	}
	// Servo registration follows the handshake.
	for len(dev.sent()) < 1+len(bottango.DefaultServos) {
		if time.Now().After(deadline) {
			t.Fatalf("sent = %q", dev.sent())
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := a.setPosition(context.Background(), robot.Mouth, 0.5); err != nil {
		t.Fatalf("setPosition: %v", err)
	}

	sent := dev.sent()
	if sent[0] != bottango.HandshakeRequest {
		t.Errorf("first line = %q, want handshake request", sent[0])
	}
	for i, s := range bottango.DefaultServos {
		if sent[1+i] != s.Command() {
			t.Errorf("line %d = %q, want %q", 1+i, sent[1+i], s.Command())
		}
	}
	if last := sent[len(sent)-1]; last != bottango.PositionCommand(bottango.PinMouth, 0.5) {
		t.Errorf("last line = %q", last)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("runDevice did not return after cancel")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	a, mock := newTestApp(t, testConfig())
	if err := mock.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
	if mock.IsConnected() {
		t.Error("session left connected after Run")
	}
}
