// Package hub implements the Event Hub (spec.md §4.5): the full-duplex
// authenticated subscriber multiplexer that pushes queue snapshots,
// prompt updates, stream frames, and periodic health to web clients.
// Grounded on original_source/backend/server.py's WebSocketManager, built
// on github.com/gorilla/websocket.
package hub

import "time"

// Envelope is the unit pushed to subscribers (spec.md §3.5).
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// StreamFrame is the payload of a prompt_stream envelope.
type StreamFrame struct {
	PromptID  string    `json:"prompt_id"`
	Stream    string    `json:"stream"`
	Chunk     string    `json:"chunk,omitempty"`
	Reset     bool      `json:"reset,omitempty"`
	Done      bool      `json:"done,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	TypeHello        = "hello"
	TypeAuthOK       = "auth_ok"
	TypeQueueSnap    = "queue_snapshot"
	TypePromptUpdate = "prompt_update"
	TypePromptDelete = "prompt_deleted"
	TypePromptStream = "prompt_stream"
	TypeHealth       = "health"
	TypePong         = "pong"
	TypeError        = "error"
)
