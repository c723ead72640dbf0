package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID        string `msgpack:"id"`
	Username  string `msgpack:"username"`
	FirstName string `msgpack:"firstName"`
	LastName  string `msgpack:"lastName"`
	AvatarURL string `msgpack:"avatarUrl"`
	IsOnline  bool   `msgpack:"isOnline"`
	LastSeen  int64  `msgpack:"lastSeen"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBLastMessage struct {
	Content   string `msgpack:"content"`
	SenderID  string `msgpack:"senderId"`
	Type      string `msgpack:"messageType"`
	Timestamp int64  `msgpack:"timestamp"`
}

type DBRoom struct {
	ID           string         `msgpack:"id"`
	IsGroup      bool           `msgpack:"isGroup"`
	Name         string         `msgpack:"name"`
	Participants []string       `msgpack:"participants"`
	CreatedBy    string         `msgpack:"createdBy"`
	LastMessage  *DBLastMessage `msgpack:"lastMessage"`
	CreatedAt    int64          `msgpack:"createdAt"`
}

func (r *DBRoom) Key() []byte {
	return []byte(r.ID)
}

func (r *DBRoom) MarshalBinary() (data []byte, err error) {
	type alias DBRoom
	return msgpack.Marshal((*alias)(r))
}

func (r *DBRoom) UnmarshalBinary(data []byte) error {
	type alias DBRoom
	return msgpack.Unmarshal(data, (*alias)(r))
}

type DBReadReceipt struct {
	UserID string `msgpack:"userId"`
	ReadAt int64  `msgpack:"readAt"`
}

type DBMessage struct {
	ID         string          `msgpack:"id"`
	Seq        uint64          `msgpack:"seq"`
	RoomID     string          `msgpack:"roomId"`
	SenderID   string          `msgpack:"senderId"`
	SenderName string          `msgpack:"senderName"`
	Content    string          `msgpack:"content"`
	HTML       string          `msgpack:"html"`
	Type       string          `msgpack:"messageType"`
	MediaURL   string          `msgpack:"mediaUrl"`
	FileName   string          `msgpack:"fileName"`
	FileSize   int64           `msgpack:"fileSize"`
	ReplyTo    string          `msgpack:"replyTo"`
	ReadBy     []DBReadReceipt `msgpack:"readBy"`
	CreatedAt  int64           `msgpack:"createdAt"`
}

// Key is the message's per-room sequence number, big-endian so that a
// cursor walk yields chronological order.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	Auth     string `msgpack:"auth"`
	P256dh   string `msgpack:"p256dh"`
}

func (s *DBPushSubscription) Key() []byte {
	return []byte(s.Endpoint)
}

func (s *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(s))
}

func (s *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(s))
}
