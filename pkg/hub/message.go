// Package hub tracks the hardware websocket clients of one kind (speakers,
// microphones) and fans messages out to them. Every client has its own
// bounded outbound queue drained by a writer goroutine, so one slow socket
// never holds up the others. A client that falls behind or fails a write is
// evicted.
package hub

import "github.com/gofiber/websocket/v2"

// MessageType indicates the websocket message format
type MessageType int

const (
	// TextMessage is a UTF-8 text frame (JSON status, device command lines).
	TextMessage MessageType = iota
	// BinaryMessage is raw binary data (PCM16 audio).
	BinaryMessage
)

func (t MessageType) wsType() int {
	if t == BinaryMessage {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

func fromWSType(t int) MessageType {
	if t == websocket.BinaryMessage {
		return BinaryMessage
	}
	return TextMessage
}

// Message represents a message to be sent to clients
type Message struct {
	Type MessageType
	Data []byte
}

// NewTextMessage creates a text message from pre-encoded bytes
func NewTextMessage(data []byte) Message {
	return Message{Type: TextMessage, Data: data}
}

// NewBinaryMessage creates a binary message
func NewBinaryMessage(data []byte) Message {
	return Message{Type: BinaryMessage, Data: data}
}
