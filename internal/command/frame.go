package command

import "encoding/json"

// FrameKind is the outer envelope's routing class (spec.md §6): control
// messages (Register, connect/disconnect), keepalives, or data messages
// carrying a Command payload.
type FrameKind string

const (
	FrameControl   FrameKind = "control"
	FrameKeepAlive FrameKind = "keepalive"
	FrameMessage   FrameKind = "message"
)

// Frame is the single JSON document carried by every WebSocket text frame:
// {sender, recipient, zone, payload, kind}.
type Frame struct {
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Zone      string    `json:"zone"`
	Kind      FrameKind `json:"kind"`
	Payload   Command   `json:"payload"`
}

// NewFrame wraps a Command for transmission, classifying control commands
// (Register) distinctly from data commands.
func NewFrame(sender, recipient, zone string, payload Command) Frame {
	kind := FrameMessage
	if payload.Kind == KindRegister {
		kind = FrameControl
	}
	return Frame{Sender: sender, Recipient: recipient, Zone: zone, Kind: kind, Payload: payload}
}

// NewKeepAlive builds the bare keepalive ping/pong frame.
func NewKeepAlive(sender, recipient, zone string) Frame {
	return Frame{Sender: sender, Recipient: recipient, Zone: zone, Kind: FrameKeepAlive}
}

// Encode marshals the frame to its wire JSON form.
func (f Frame) Encode() ([]byte, error) { return json.Marshal(f) }

// Decode parses a wire frame.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, err
	}
	return f, nil
}
