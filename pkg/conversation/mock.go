package conversation

import (
	"context"
	"sync"
)

// Mock is a Session for tests. Sends are captured while connected and
// Simulate injects inbound events.
type Mock struct {
	mu sync.RWMutex

	connected bool
	events    chan Event

	// Configurable behavior
	ConnectFunc    func(ctx context.Context) error
	DisconnectFunc func() error
	SendAudioFunc  func(audio []byte) error
	SendTextFunc   func(text string) error

	// Captured calls for assertions
	AudioSent       [][]byte
	TextSent        []string
	ConnectCalls    int
	DisconnectCalls int

	// Dropped is reported by DroppedEvents.
	Dropped int64
}

// NewMock creates a new Mock session.
func NewMock() *Mock {
	return &Mock{events: make(chan Event, 256)}
}

// Backend implements Session.
func (m *Mock) Backend() string { return "mock" }

// Connect implements Session.
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.ConnectCalls++
	fn := m.ConnectFunc
	m.mu.Unlock()

	if fn != nil {
		if err := fn(ctx); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return NewConnectionError("session already active", ErrAlreadyConnected, false)
	}
	m.connected = true
	return nil
}

// Disconnect implements Session.
func (m *Mock) Disconnect() error {
	m.mu.Lock()
	m.DisconnectCalls++
	fn := m.DisconnectFunc
	m.connected = false
	m.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}

// IsConnected implements Session.
func (m *Mock) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// State implements Session.
func (m *Mock) State() ConnectionState {
	if m.IsConnected() {
		return StateConnected
	}
	return StateDisconnected
}

// SendAudio implements Session.
func (m *Mock) SendAudio(audio []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	cp := make([]byte, len(audio))
	copy(cp, audio)
	m.AudioSent = append(m.AudioSent, cp)
	fn := m.SendAudioFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(audio)
	}
	return nil
}

// SendText implements Session.
func (m *Mock) SendText(text string) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return nil
	}
	m.TextSent = append(m.TextSent, text)
	fn := m.SendTextFunc
	m.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	return nil
}

// Events implements Session.
func (m *Mock) Events() <-chan Event { return m.events }

// DroppedEvents implements Session.
func (m *Mock) DroppedEvents() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Dropped
}

// Simulate delivers ev as if the service had sent it.
func (m *Mock) Simulate(ev Event) {
	m.events <- ev
}

// Texts returns a copy of the captured text messages.
func (m *Mock) Texts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.TextSent))
	copy(out, m.TextSent)
	return out
}

// AudioCount returns how many audio fragments were captured.
func (m *Mock) AudioCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.AudioSent)
}

var _ Session = (*Mock)(nil)
