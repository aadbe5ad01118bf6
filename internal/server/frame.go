package server

import (
	"fmt"

	"github.com/hermesync/hermesync/pkg/encoding"
)

var _ encoding.Serializable[Frame] = (*Frame)(nil)

// Frame is the wire unit every transport accepts: a named entity, an event
// name and optional arguments. The same JSON shape is used over websocket
// messages and QUIC streams.
type Frame struct {
	Entity string         `json:"entity"`
	Event  string         `json:"event"`
	Args   map[string]any `json:"args,omitempty"`
}

// Serialize encodes the frame as JSON.
func (f *Frame) Serialize() ([]byte, error) {
	return encoding.MarshalJSON(f)
}

// Deserialize decodes the frame from JSON.
func (f *Frame) Deserialize(data []byte) error {
	decoded, err := encoding.UnmarshalJSON[Frame](data)
	if err != nil {
		return err
	}
	*f = decoded
	return nil
}

// Validate checks the required fields.
func (f *Frame) Validate() error {
	if f.Entity == "" {
		return fmt.Errorf("%w: missing entity", ErrInvalidMessage)
	}
	if f.Event == "" {
		return fmt.Errorf("%w: missing event", ErrInvalidMessage)
	}
	return nil
}

// Reply is the per-frame response sent back on the same transport.
type Reply struct {
	Status string `json:"status"`
	Event  string `json:"event,omitempty"`
	Error  string `json:"error,omitempty"`
}

func accepted(event string) Reply {
	return Reply{Status: "accepted", Event: event}
}

func rejected(err error) Reply {
	return Reply{Status: "rejected", Error: err.Error()}
}
