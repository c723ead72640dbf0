package storage

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"palaver/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers       = []byte("users")
	bucketRooms       = []byte("rooms")
	bucketDirectRooms = []byte("direct_rooms")
	bucketMessages    = []byte("messages")
	bucketPushSubs    = []byte("push_subs")
	bucketFiles       = []byte("files")
)

type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketRooms,
			bucketDirectRooms,
			bucketMessages,
			bucketPushSubs,
			bucketFiles,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or updated user record.
func (s *BboltStorage) UpsertUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		dbUser := &DBUser{
			ID:        user.ID,
			Username:  user.Username,
			FirstName: user.FirstName,
			LastName:  user.LastName,
			AvatarURL: user.AvatarURL,
			IsOnline:  user.Presence.Online,
			LastSeen:  user.Presence.LastSeen,
		}
		data, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), data)
	})
}

func (s *BboltStorage) FindUserByID(userID string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketUsers).Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		user = dbUser.toModel()
		return nil
	})
	return user, err
}

func (s *BboltStorage) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, dbUser.toModel())
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].Username < users[j].Username
	})
	return users, nil
}

// UpdateUserOnlineStatus persists an online/offline transition so REST
// reads reflect current presence even absent a live connection.
func (s *BboltStorage) UpdateUserOnlineStatus(userID string, online bool, lastSeen int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketUsers)
		data := b.Get([]byte(userID))
		if data == nil {
			return fmt.Errorf("user %s: %w", userID, models.ErrNotFound)
		}
		var dbUser DBUser
		if err := dbUser.UnmarshalBinary(data); err != nil {
			return err
		}
		dbUser.IsOnline = online
		dbUser.LastSeen = lastSeen
		updated, err := dbUser.MarshalBinary()
		if err != nil {
			return err
		}
		return b.Put(dbUser.Key(), updated)
	})
}

func (s *BboltStorage) CreateRoom(room models.Room) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putRoom(tx, room)
	})
}

func (s *BboltStorage) FindRoomByID(roomID string) (models.Room, error) {
	var room models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		r, err := getRoom(tx, roomID)
		if err != nil {
			return err
		}
		room = r
		return nil
	})
	return room, err
}

func (s *BboltStorage) FindRoomsForUser(userID string) ([]models.Room, error) {
	var rooms []models.Room
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRooms).ForEach(func(k, v []byte) error {
			var dbRoom DBRoom
			if err := dbRoom.UnmarshalBinary(v); err != nil {
				return err
			}
			room := dbRoom.toModel()
			if room.HasParticipant(userID) {
				rooms = append(rooms, room)
			}
			return nil
		})
	})
	return rooms, err
}

// EnsureDirectRoom returns the direct room for the unordered user pair,
// creating candidate if none exists yet. The uniqueness index lives in the
// same update transaction as room creation, so concurrent calls for the
// same pair cannot create duplicates.
func (s *BboltStorage) EnsureDirectRoom(userA, userB string, candidate models.Room) (models.Room, bool, error) {
	var (
		room    models.Room
		created bool
	)
	err := s.db.Update(func(tx *bbolt.Tx) error {
		idx := tx.Bucket(bucketDirectRooms)
		key := directRoomKey(userA, userB)

		if existingID := idx.Get(key); existingID != nil {
			existing, err := getRoom(tx, string(existingID))
			if err != nil {
				return err
			}
			room = existing
			return nil
		}

		if err := putRoom(tx, candidate); err != nil {
			return err
		}
		if err := idx.Put(key, []byte(candidate.ID)); err != nil {
			return err
		}
		room = candidate
		created = true
		return nil
	})
	return room, created, err
}

// UpdateRoomLastMessage refreshes the room's denormalized last-message
// summary.
func (s *BboltStorage) UpdateRoomLastMessage(roomID string, last models.LastMessage) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		room, err := getRoom(tx, roomID)
		if err != nil {
			return err
		}
		room.LastMessage = &last
		return putRoom(tx, room)
	})
}

// CreateMessage persists a message, assigning it the next sequence number
// within its room.
func (s *BboltStorage) CreateMessage(message models.Message) (models.Message, error) {
	if message.RoomID == "" {
		return models.Message{}, fmt.Errorf("message missing roomID: %w", models.ErrBadRequest)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		roomBucket, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(message.RoomID))
		if err != nil {
			return fmt.Errorf("failed to create room message bucket: %w", err)
		}

		seq, err := roomBucket.NextSequence()
		if err != nil {
			return err
		}
		message.Seq = seq

		dbMessage := fromMessage(message)
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		return roomBucket.Put(dbMessage.Key(), data)
	})
	if err != nil {
		return models.Message{}, err
	}
	return message, nil
}

// QueryMessages returns up to limit messages for the room, newest first,
// skipping skip messages from the newest end.
func (s *BboltStorage) QueryMessages(roomID string, limit, skip int) ([]models.Message, error) {
	var messages []models.Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil // no messages yet
		}

		c := roomBucket.Cursor()
		skipped := 0
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if skipped < skip {
				skipped++
				continue
			}
			if limit > 0 && len(messages) >= limit {
				break
			}
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, dbMsg.toModel())
		}
		return nil
	})
	return messages, err
}

// MarkMessagesRead appends a read receipt for userID to every message in
// the room that userID did not send and has not read yet. Idempotent.
// Returns the number of messages updated.
func (s *BboltStorage) MarkMessagesRead(roomID, userID string, readAt int64) (int, error) {
	updated := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil
		}

		c := roomBucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.SenderID == userID || hasReceipt(dbMsg.ReadBy, userID) {
				continue
			}
			dbMsg.ReadBy = append(dbMsg.ReadBy, DBReadReceipt{UserID: userID, ReadAt: readAt})
			data, err := dbMsg.MarshalBinary()
			if err != nil {
				return err
			}
			if err := roomBucket.Put(dbMsg.Key(), data); err != nil {
				return err
			}
			updated++
		}
		return nil
	})
	return updated, err
}

// CountUnread counts messages in the room not sent by userID and not yet
// read by userID. Uses the same predicate as MarkMessagesRead.
func (s *BboltStorage) CountUnread(roomID, userID string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		roomBucket := tx.Bucket(bucketMessages).Bucket([]byte(roomID))
		if roomBucket == nil {
			return nil
		}
		return roomBucket.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			if dbMsg.SenderID != userID && !hasReceipt(dbMsg.ReadBy, userID) {
				count++
			}
			return nil
		})
	})
	return count, err
}

func (s *BboltStorage) UpsertPushSubscription(userID string, sub models.PushSubscription) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket, err := tx.Bucket(bucketPushSubs).CreateBucketIfNotExists([]byte(userID))
		if err != nil {
			return err
		}
		dbSub := &DBPushSubscription{
			UserID:   userID,
			Endpoint: sub.Endpoint,
			Auth:     sub.Keys.Auth,
			P256dh:   sub.Keys.P256dh,
		}
		data, err := dbSub.MarshalBinary()
		if err != nil {
			return err
		}
		return userBucket.Put(dbSub.Key(), data)
	})
}

func (s *BboltStorage) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	var subs []models.PushSubscription
	err := s.db.View(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.ForEach(func(k, v []byte) error {
			var dbSub DBPushSubscription
			if err := dbSub.UnmarshalBinary(v); err != nil {
				return err
			}
			subs = append(subs, models.PushSubscription{
				Endpoint: dbSub.Endpoint,
				Keys: models.PushSubscriptionKeys{
					Auth:   dbSub.Auth,
					P256dh: dbSub.P256dh,
				},
			})
			return nil
		})
	})
	return subs, err
}

func (s *BboltStorage) DeletePushSubscription(userID, endpoint string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		userBucket := tx.Bucket(bucketPushSubs).Bucket([]byte(userID))
		if userBucket == nil {
			return nil
		}
		return userBucket.Delete([]byte(endpoint))
	})
}

// Helpers

func directRoomKey(userA, userB string) []byte {
	pair := []string{userA, userB}
	sort.Strings(pair)
	return []byte(strings.Join(pair, "|"))
}

func hasReceipt(receipts []DBReadReceipt, userID string) bool {
	for _, r := range receipts {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func getRoom(tx *bbolt.Tx, roomID string) (models.Room, error) {
	data := tx.Bucket(bucketRooms).Get([]byte(roomID))
	if data == nil {
		return models.Room{}, fmt.Errorf("room %s: %w", roomID, models.ErrNotFound)
	}
	var dbRoom DBRoom
	if err := dbRoom.UnmarshalBinary(data); err != nil {
		return models.Room{}, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return dbRoom.toModel(), nil
}

func putRoom(tx *bbolt.Tx, room models.Room) error {
	dbRoom := fromRoom(room)
	data, err := dbRoom.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}
	return tx.Bucket(bucketRooms).Put(dbRoom.Key(), data)
}

func (u *DBUser) toModel() models.User {
	return models.User{
		ID:        u.ID,
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		AvatarURL: u.AvatarURL,
		Presence: models.Presence{
			Online:   u.IsOnline,
			LastSeen: u.LastSeen,
		},
	}
}

func (r *DBRoom) toModel() models.Room {
	room := models.Room{
		ID:           r.ID,
		IsGroup:      r.IsGroup,
		Name:         r.Name,
		Participants: r.Participants,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
	}
	if r.LastMessage != nil {
		room.LastMessage = &models.LastMessage{
			Content:   r.LastMessage.Content,
			SenderID:  r.LastMessage.SenderID,
			Type:      models.MessageType(r.LastMessage.Type),
			Timestamp: r.LastMessage.Timestamp,
		}
	}
	return room
}

func fromRoom(room models.Room) *DBRoom {
	dbRoom := &DBRoom{
		ID:           room.ID,
		IsGroup:      room.IsGroup,
		Name:         room.Name,
		Participants: room.Participants,
		CreatedBy:    room.CreatedBy,
		CreatedAt:    room.CreatedAt,
	}
	if room.LastMessage != nil {
		dbRoom.LastMessage = &DBLastMessage{
			Content:   room.LastMessage.Content,
			SenderID:  room.LastMessage.SenderID,
			Type:      string(room.LastMessage.Type),
			Timestamp: room.LastMessage.Timestamp,
		}
	}
	return dbRoom
}

func (m *DBMessage) toModel() models.Message {
	msg := models.Message{
		ID:         m.ID,
		Seq:        m.Seq,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		HTML:       m.HTML,
		Type:       models.MessageType(m.Type),
		MediaURL:   m.MediaURL,
		FileName:   m.FileName,
		FileSize:   m.FileSize,
		ReplyTo:    m.ReplyTo,
		CreatedAt:  m.CreatedAt,
	}
	for _, r := range m.ReadBy {
		msg.ReadBy = append(msg.ReadBy, models.ReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return msg
}

func fromMessage(msg models.Message) *DBMessage {
	dbMsg := &DBMessage{
		ID:         msg.ID,
		Seq:        msg.Seq,
		RoomID:     msg.RoomID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		HTML:       msg.HTML,
		Type:       string(msg.Type),
		MediaURL:   msg.MediaURL,
		FileName:   msg.FileName,
		FileSize:   msg.FileSize,
		ReplyTo:    msg.ReplyTo,
		CreatedAt:  msg.CreatedAt,
	}
	for _, r := range msg.ReadBy {
		dbMsg.ReadBy = append(dbMsg.ReadBy, DBReadReceipt{UserID: r.UserID, ReadAt: r.ReadAt})
	}
	return dbMsg
}
