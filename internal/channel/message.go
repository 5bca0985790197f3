package channel

import (
	"encoding/json"
	"fmt"
)

// EventType names the kind of frame pushed down a client channel.
type EventType string

const (
	// EventConnection is the first frame on a new channel and carries the
	// assigned client id.
	EventConnection EventType = "connection"
	// EventHeartbeat is the periodic liveness frame.
	EventHeartbeat EventType = "heartbeat"
	// EventResult carries the outcome of a dispatched call.
	EventResult EventType = "result"
)

// Message is one frame queued for delivery on a client channel.
type Message struct {
	// ID correlates the frame with a submitted call; empty for frames the
	// server originates (connection, heartbeat).
	ID    string
	Event EventType
	Data  any
}

// EncodeSSE renders the message as a Server-Sent Events frame. Data is JSON
// encoded on a single data: line; the trailing blank line terminates the
// frame per the SSE wire format.
func (m Message) EncodeSSE() ([]byte, error) {
	payload, err := json.Marshal(m.Data)
	if err != nil {
		return nil, fmt.Errorf("encode %s event: %w", m.Event, err)
	}
	var out []byte
	if m.ID != "" {
		out = fmt.Appendf(out, "id: %s\n", m.ID)
	}
	out = fmt.Appendf(out, "event: %s\n", m.Event)
	out = fmt.Appendf(out, "data: %s\n\n", payload)
	return out, nil
}

// WireFrame is the JSON form of a message used by the WebSocket transport,
// mirroring the SSE frame fields.
type WireFrame struct {
	ID    string `json:"id,omitempty"`
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Wire converts the message to its WebSocket JSON form.
func (m Message) Wire() WireFrame {
	return WireFrame{ID: m.ID, Event: string(m.Event), Data: m.Data}
}
