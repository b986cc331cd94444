// internal/topic/control.go
package topic

import (
	"fmt"

	json "github.com/goccy/go-json"
)

const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionHeartbeat   = "h"
)

// Frame is the outbound JSON control message.
type Frame struct {
	Action string `json:"a"`
	Value  []any  `json:"v"`
	Method string `json:"m"`
}

// EncodeFrame marshals f. A nil Value is sent as [].
func EncodeFrame(f Frame) ([]byte, error) {
	if f.Value == nil {
		f.Value = []any{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("topic: encode frame: %w", err)
	}
	return b, nil
}

// DecodeFrame parses a control message.
func DecodeFrame(b []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(b, &f); err != nil {
		return Frame{}, fmt.Errorf("topic: decode frame: %w", err)
	}
	return f, nil
}

var heartbeat = []byte(`{"a":"h","v":[],"m":""}`)

// Heartbeat returns the keep-alive frame.
func Heartbeat() []byte { return heartbeat }
