package proto

import (
	"encoding/json"
	"time"
)

// Inbound is the envelope for frames coming from the client.
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Wire type tags.
const (
	TypeIdentify    = "IDENTIFY"
	TypeSendMessage = "SEND_MESSAGE"
	TypeHeartbeat   = "HEARTBEAT"

	TypeNewMessage = "NEW_MESSAGE"
	TypeError      = "ERROR"
	TypeSuccess    = "SUCCESS"
	TypeAlive      = "Alive"
)

// IdentifyPayload binds a connection to a user.
type IdentifyPayload struct {
	UserID string `json:"userId" validate:"required"`
}

// SendMessagePayload posts content into a channel.
type SendMessagePayload struct {
	ChannelID string `json:"channelId" validate:"required"`
	Content   string `json:"content"`
}

// Outbound is the envelope for frames sent to the client.
type Outbound struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Payload any    `json:"payload,omitempty"`
}

// NewMessagePayload is fanned out to every live connection of every member.
type NewMessagePayload struct {
	ID        string      `json:"id"`
	Content   string      `json:"content"`
	ChannelID string      `json:"channelId"`
	UserID    string      `json:"userId"`
	CreatedAt time.Time   `json:"createdAt"`
	User      UserProfile `json:"user"`
}

// UserProfile is the public part of the sender.
type UserProfile struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar"`
}

// Received is an outbound frame as a client decodes it.
type Received struct {
	Type    string          `json:"type"`
	Code    string          `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}
