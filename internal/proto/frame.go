package proto

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the closed set of inbound frame kinds.
type Kind int

const (
	// KindUnrecognized is any well-formed frame whose type is not known.
	KindUnrecognized Kind = iota
	KindIdentify
	KindSendMessage
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindIdentify:
		return TypeIdentify
	case KindSendMessage:
		return TypeSendMessage
	case KindHeartbeat:
		return TypeHeartbeat
	default:
		return "UNRECOGNIZED"
	}
}

// ErrMalformed wraps every decode failure.
var ErrMalformed = errors.New("malformed frame")

// Frame is a decoded inbound frame. Exactly one payload field is set for
// kinds that carry one.
type Frame struct {
	Kind     Kind
	Type     string // raw tag, kept for logging unrecognized frames
	Identify *IdentifyPayload
	Send     *SendMessagePayload
}

// Decode parses a raw text frame into a Frame.
// Unknown types decode to KindUnrecognized without error.
func Decode(data []byte) (Frame, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	frame := Frame{Type: in.Type}
	switch in.Type {
	case TypeIdentify:
		var p IdentifyPayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return Frame{}, err
		}
		frame.Kind = KindIdentify
		frame.Identify = &p
	case TypeSendMessage:
		var p SendMessagePayload
		if err := decodePayload(in.Payload, &p); err != nil {
			return Frame{}, err
		}
		frame.Kind = KindSendMessage
		frame.Send = &p
	case TypeHeartbeat:
		frame.Kind = KindHeartbeat
	default:
		frame.Kind = KindUnrecognized
	}

	return frame, nil
}

func decodePayload(raw json.RawMessage, dst any) error {
	// A missing payload decodes to the zero value and fails validation later.
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("%w: payload: %v", ErrMalformed, err)
	}
	return nil
}

// Encode serializes an outbound envelope.
func Encode(out Outbound) ([]byte, error) {
	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", out.Type, err)
	}
	return data, nil
}

// ErrorFrame builds an ERROR envelope.
func ErrorFrame(code, msg string) Outbound {
	return Outbound{Type: TypeError, Code: code, Message: msg}
}

// SuccessFrame builds a SUCCESS envelope.
func SuccessFrame(msg string) Outbound {
	return Outbound{Type: TypeSuccess, Message: msg}
}

// AliveFrame is the heartbeat acknowledgment.
func AliveFrame() Outbound {
	return Outbound{Type: TypeAlive}
}

// NewMessageFrame builds the fan-out envelope.
func NewMessageFrame(p NewMessagePayload) Outbound {
	return Outbound{Type: TypeNewMessage, Payload: p}
}

// NewInbound builds a client frame with payload marshalled into place.
func NewInbound(typ string, payload any) (Inbound, error) {
	in := Inbound{Type: typ}
	if payload == nil {
		return in, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Inbound{}, fmt.Errorf("encode %s payload: %w", typ, err)
	}
	in.Payload = raw
	return in, nil
}
