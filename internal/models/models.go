package models

import (
	"errors"

	"github.com/samber/lo"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrBadRequest      = errors.New("bad request")
)

// User represents a user in the system. User records are owned by the
// external auth service; we keep a local copy for display fields and presence.
type User struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	FirstName string   `json:"firstName,omitempty"`
	LastName  string   `json:"lastName,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
	Presence  Presence `json:"presence"`
}

// Presence represents the online status of a user, derived from
// active live connections.
type Presence struct {
	Online   bool  `json:"online"`
	LastSeen int64 `json:"lastSeen"` // Unix timestamp (seconds)
}

type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// LastMessage is a denormalized summary of the most recent message in a
// room, recoverable from message history if the room update ever fails.
type LastMessage struct {
	Content   string      `json:"content"`
	SenderID  string      `json:"senderId"`
	Type      MessageType `json:"messageType"`
	Timestamp int64       `json:"timestamp"`
}

// Room is a conversation container with a fixed participant set.
// A direct (non-group) room has exactly two participants and at most one
// such room exists per unordered pair.
type Room struct {
	ID           string       `json:"id"`
	IsGroup      bool         `json:"isGroup"`
	Name         string       `json:"name,omitempty"`
	Participants []string     `json:"participants"`
	CreatedBy    string       `json:"createdBy,omitempty"`
	LastMessage  *LastMessage `json:"lastMessage,omitempty"`
	CreatedAt    int64        `json:"createdAt"`
}

func (r Room) HasParticipant(userID string) bool {
	return lo.Contains(r.Participants, userID)
}

// ReadReceipt records that a user has seen a message. Unique per user
// within a message's ReadBy list.
type ReadReceipt struct {
	UserID string `json:"userId"`
	ReadAt int64  `json:"readAt"`
}

// Message is immutable once created except for ReadBy growth.
type Message struct {
	ID         string        `json:"id"`
	Seq        uint64        `json:"seq"`
	RoomID     string        `json:"roomId"`
	SenderID   string        `json:"senderId"`
	SenderName string        `json:"senderName,omitempty"`
	Content    string        `json:"content"`
	HTML       string        `json:"html,omitempty"`
	Type       MessageType   `json:"messageType"`
	MediaURL   string        `json:"mediaUrl,omitempty"`
	FileName   string        `json:"fileName,omitempty"`
	FileSize   int64         `json:"fileSize,omitempty"`
	ReplyTo    string        `json:"replyTo,omitempty"`
	ReadBy     []ReadReceipt `json:"readBy,omitempty"`
	CreatedAt  int64         `json:"createdAt"`
}

func (m Message) ReadByUser(userID string) bool {
	return lo.ContainsBy(m.ReadBy, func(r ReadReceipt) bool {
		return r.UserID == userID
	})
}

// PushSubscription is a web-push endpoint registered by a client.
// Shape follows the browser PushSubscription.toJSON() format.
type PushSubscription struct {
	Endpoint string               `json:"endpoint"`
	Keys     PushSubscriptionKeys `json:"keys"`
}

type PushSubscriptionKeys struct {
	Auth   string `json:"auth"`
	P256dh string `json:"p256dh"`
}
