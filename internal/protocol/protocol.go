// Package protocol defines the wire format of the room bus: one JSON envelope
// stream per WebSocket connection, multiplexing any number of topics.
package protocol

import "encoding/json"

// Envelope ops. Client sends join/leave/subscribe/unsubscribe/publish; the
// server sends message and error.
const (
	OpJoin        = "join"
	OpLeave       = "leave"
	OpSubscribe   = "subscribe"
	OpUnsubscribe = "unsubscribe"
	OpPublish     = "publish"
	OpMessage     = "message"
	OpError       = "error"
)

type Envelope struct {
	Op    string          `json:"op"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(op, topic string, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = b
	}
	return json.Marshal(Envelope{Op: op, Topic: topic, Data: data})
}
