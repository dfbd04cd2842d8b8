package realtime

import (
	"encoding/json"
	"time"
)

// FrameType tags a realtime frame.
type FrameType string

const (
	// Client to server.
	FrameSubscribe   FrameType = "SUBSCRIBE"
	FrameUnsubscribe FrameType = "UNSUBSCRIBE"
	FrameSend        FrameType = "SEND"

	// Server to client.
	FrameConnected FrameType = "CONNECTED"
	FrameMessage   FrameType = "MESSAGE"
	FrameError     FrameType = "ERROR"
)

// Frame is one realtime wire message. Topic addresses a room's channel
// (`/sub/messages/{roomID}`) for subscriptions and incoming messages, or
// the publish destination (`/pub/send`) for outgoing sends.
type Frame struct {
	Type    FrameType       `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// PublishDestination is where all outgoing chat messages are sent.
const PublishDestination = "/pub/send"

// RoomTopic returns the subscription topic for a room's messages.
func RoomTopic(roomID string) string {
	return "/sub/messages/" + roomID
}

// SignalType classifies a chat payload.
type SignalType string

const (
	SignalJoin  SignalType = "JOIN"
	SignalLeave SignalType = "LEAVE"
	SignalChat  SignalType = "CHAT"
)

// MessagePayload is the chat message descriptor carried in SEND and
// MESSAGE frames.
type MessagePayload struct {
	MessageID   string     `json:"message_id"`
	Signal      SignalType `json:"signal"`
	RoomID      string     `json:"room_id"`
	SenderID    string     `json:"sender_id"`
	SentAt      time.Time  `json:"sent_at"`
	Body        string     `json:"body,omitempty"`
	IsGift      bool       `json:"is_gift,omitempty"`
	GiftOrderID string     `json:"gift_order_id,omitempty"`
}
