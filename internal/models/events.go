package models

import (
	"github.com/go-playground/validator/v10"
)

// Live protocol events. Each event kind carries a fixed payload shape,
// validated at the connection boundary before any handler runs.

type ClientEventType string

const (
	ClientEventJoinRoom    ClientEventType = "joinRoom"
	ClientEventSendMessage ClientEventType = "sendMessage"
	ClientEventTyping      ClientEventType = "typing"
	ClientEventStopTyping  ClientEventType = "stopTyping"
	ClientEventMessageSeen ClientEventType = "messageSeen"
)

// ClientEvent is a message sent from the client to the server.
type ClientEvent struct {
	Type        ClientEventType `json:"type" validate:"required,oneof=joinRoom sendMessage typing stopTyping messageSeen"`
	RoomID      string          `json:"roomId" validate:"required"`
	Content     string          `json:"content" validate:"required_if=Type sendMessage"`
	MessageType MessageType     `json:"messageType" validate:"omitempty,oneof=text image video audio file"`
	MediaURL    string          `json:"mediaUrl" validate:"omitempty,url"`
	FileName    string          `json:"fileName"`
	FileSize    int64           `json:"fileSize" validate:"gte=0"`
	ReplyTo     string          `json:"replyTo"`
	MessageID   string          `json:"messageId" validate:"required_if=Type messageSeen"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (e ClientEvent) Validate() error {
	return validate.Struct(e)
}

type ServerEventType string

const (
	ServerEventNewMessage        ServerEventType = "newMessage"
	ServerEventUserTyping        ServerEventType = "userTyping"
	ServerEventUserStopTyping    ServerEventType = "userStopTyping"
	ServerEventMessageSeenUpdate ServerEventType = "messageSeenUpdate"
	ServerEventRoomCreated       ServerEventType = "roomCreated"
	ServerEventError             ServerEventType = "error"
)

// ServerEvent is a message pushed to the client.
type ServerEvent struct {
	Type      ServerEventType `json:"type"`
	RoomID    string          `json:"roomId,omitempty"`
	Message   *Message        `json:"message,omitempty"`
	Room      *Room           `json:"room,omitempty"`
	UserID    string          `json:"userId,omitempty"`
	Username  string          `json:"username,omitempty"`
	MessageID string          `json:"messageId,omitempty"`
	SeenBy    string          `json:"seenBy,omitempty"`
	SeenAt    int64           `json:"seenAt,omitempty"`
	Error     string          `json:"error,omitempty"`
}
