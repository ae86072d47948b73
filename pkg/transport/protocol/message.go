package protocol

import (
	"encoding/json"
	"time"

	"github.com/rs/xid"
)

// Version is stamped on every frame the relay writes.
const Version = "1.0"

// Frame represents a transport-level message frame
type Frame struct {
	Version   string          `json:"version,omitempty"`
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewFrame creates a new frame
func NewFrame(messageType string, payload any) (*Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Frame{
		Version:   Version,
		Type:      messageType,
		ID:        xid.New().String(),
		Timestamp: time.Now(),
		Payload:   data,
	}, nil
}

// Decode decodes the frame payload into the provided interface
func (f *Frame) Decode(v any) error {
	if len(f.Payload) == 0 {
		return json.Unmarshal([]byte("{}"), v)
	}
	return json.Unmarshal(f.Payload, v)
}

// Marshal marshals the frame to bytes
func (f *Frame) Marshal() ([]byte, error) {
	return json.Marshal(f)
}

// Unmarshal unmarshals bytes into a frame
func Unmarshal(data []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
