package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"palaver/internal/content"
	"palaver/internal/models"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	defaultRoomCacheTTL = 30 * time.Second
)

// Store is the persistence interface the chat service consumes.
// Identifiers are opaque string handles.
type Store interface {
	FindRoomByID(roomID string) (models.Room, error)
	FindRoomsForUser(userID string) ([]models.Room, error)
	EnsureDirectRoom(userA, userB string, candidate models.Room) (models.Room, bool, error)
	UpdateRoomLastMessage(roomID string, last models.LastMessage) error
	CreateMessage(message models.Message) (models.Message, error)
	QueryMessages(roomID string, limit, skip int) ([]models.Message, error)
	MarkMessagesRead(roomID, userID string, readAt int64) (int, error)
	CountUnread(roomID, userID string) (int, error)
	FindUserByID(userID string) (models.User, error)
	ListUsers() ([]models.User, error)
}

// Broadcaster fans events out to live connections. Delivery is
// best-effort; history via the store is the durable fallback.
type Broadcaster interface {
	Publish(roomID string, event models.ServerEvent)
	PublishToUser(userID string, event models.ServerEvent)
}

// Notifier is told about persisted messages so offline participants can
// be reached out-of-band.
type Notifier interface {
	MessageCreated(room models.Room, message models.Message)
}

// Service gates every room-scoped operation on membership, runs the
// message ingestion path and tracks read/seen state.
type Service struct {
	store       Store
	broadcaster Broadcaster
	notifier    Notifier

	// Read-through cache over room lookups. Entries are dropped whenever
	// a room is mutated.
	rooms geche.Geche[string, models.Room]

	now func() time.Time
}

func NewService(ctx context.Context, store Store, broadcaster Broadcaster, notifier Notifier, roomCacheTTL time.Duration) *Service {
	if roomCacheTTL <= 0 {
		roomCacheTTL = defaultRoomCacheTTL
	}
	return &Service{
		store:       store,
		broadcaster: broadcaster,
		notifier:    notifier,
		rooms:       geche.NewMapTTLCache[string, models.Room](ctx, roomCacheTTL, time.Minute),
		now:         time.Now,
	}
}

func (s *Service) roomByID(roomID string) (models.Room, error) {
	if room, err := s.rooms.Get(roomID); err == nil {
		return room, nil
	}
	room, err := s.store.FindRoomByID(roomID)
	if err != nil {
		return models.Room{}, err
	}
	s.rooms.Set(roomID, room)
	return room, nil
}

// AuthorizeJoin checks that the room exists and userID belongs to its
// participant set. Every room-scoped operation passes through here before
// touching room or message state.
func (s *Service) AuthorizeJoin(ctx context.Context, userID, roomID string) (models.Room, error) {
	room, err := s.roomByID(roomID)
	if err != nil {
		return models.Room{}, err
	}
	if !room.HasParticipant(userID) {
		return models.Room{}, fmt.Errorf("user %s is not a participant of room %s: %w", userID, roomID, models.ErrForbidden)
	}
	return room, nil
}

// RoomView is a room enriched with resolved participants and the
// caller's unread count.
type RoomView struct {
	ID           string              `json:"id"`
	IsGroup      bool                `json:"isGroup"`
	Name         string              `json:"name,omitempty"`
	Participants []models.User       `json:"participants"`
	CreatedBy    string              `json:"createdBy,omitempty"`
	LastMessage  *models.LastMessage `json:"lastMessage,omitempty"`
	CreatedAt    int64               `json:"createdAt"`
	UnreadCount  int                 `json:"unreadCount"`
}

func (s *Service) buildView(room models.Room, userID string) (RoomView, error) {
	view := RoomView{
		ID:           room.ID,
		IsGroup:      room.IsGroup,
		Name:         room.Name,
		CreatedBy:    room.CreatedBy,
		LastMessage:  room.LastMessage,
		CreatedAt:    room.CreatedAt,
		Participants: make([]models.User, 0, len(room.Participants)),
	}

	for _, participantID := range room.Participants {
		user, err := s.store.FindUserByID(participantID)
		if err != nil {
			slog.Warn("failed to resolve room participant",
				"room_id", room.ID, "user_id", participantID, "error", err)
			continue
		}
		view.Participants = append(view.Participants, user)
		// Direct rooms are displayed under the other party's name.
		if !room.IsGroup && participantID != userID {
			view.Name = user.Username
		}
	}

	unread, err := s.store.CountUnread(room.ID, userID)
	if err != nil {
		return RoomView{}, err
	}
	view.UnreadCount = unread

	return view, nil
}

// Rooms lists the rooms the user participates in, most recently active
// first.
func (s *Service) Rooms(ctx context.Context, userID string) ([]RoomView, error) {
	rooms, err := s.store.FindRoomsForUser(userID)
	if err != nil {
		return nil, err
	}

	views := make([]RoomView, 0, len(rooms))
	for _, room := range rooms {
		view, err := s.buildView(room, userID)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}

	activity := func(v RoomView) int64 {
		if v.LastMessage != nil {
			return v.LastMessage.Timestamp
		}
		return v.CreatedAt
	}
	sort.Slice(views, func(i, j int) bool {
		return activity(views[i]) > activity(views[j])
	})

	return views, nil
}

// RoomDetail returns a single room and marks its messages read for the
// caller, mirroring a client opening the conversation.
func (s *Service) RoomDetail(ctx context.Context, userID, roomID string) (RoomView, error) {
	room, err := s.AuthorizeJoin(ctx, userID, roomID)
	if err != nil {
		return RoomView{}, err
	}

	if _, err := s.store.MarkMessagesRead(roomID, userID, s.now().Unix()); err != nil {
		return RoomView{}, err
	}

	return s.buildView(room, userID)
}

// CreateDirectRoom finds or creates the two-party room for the caller and
// otherID. Idempotent, including under concurrent calls for the same pair.
func (s *Service) CreateDirectRoom(ctx context.Context, userID, otherID string) (RoomView, error) {
	if otherID == "" {
		return RoomView{}, fmt.Errorf("participant id is required: %w", models.ErrBadRequest)
	}
	if otherID == userID {
		return RoomView{}, fmt.Errorf("cannot open a direct room with yourself: %w", models.ErrBadRequest)
	}

	if _, err := s.store.FindUserByID(otherID); err != nil {
		return RoomView{}, err
	}

	candidate := models.Room{
		ID:           uuid.NewString(),
		IsGroup:      false,
		Participants: []string{userID, otherID},
		CreatedBy:    userID,
		CreatedAt:    s.now().Unix(),
	}

	room, created, err := s.store.EnsureDirectRoom(userID, otherID, candidate)
	if err != nil {
		return RoomView{}, err
	}

	if created {
		// Tell the other party on their personal channel so their room
		// list refreshes without a reconnect.
		s.broadcaster.PublishToUser(otherID, models.ServerEvent{
			Type:   models.ServerEventRoomCreated,
			RoomID: room.ID,
			Room:   &room,
		})
	}

	return s.buildView(room, userID)
}

// SendInput carries a message through the ingestion path.
type SendInput struct {
	SenderID string
	RoomID   string
	Content  string
	Type     models.MessageType
	MediaURL string
	FileName string
	FileSize int64
	ReplyTo  string
}

// SendMessage runs the Validated -> Persisted -> Broadcast pipeline.
// Validation and authorization failures short-circuit with no side
// effects; persistence failures abort before broadcast; broadcast is
// fire-and-forget.
func (s *Service) SendMessage(ctx context.Context, in SendInput) (models.Message, error) {
	in.Content = strings.TrimSpace(in.Content)
	if in.RoomID == "" || in.Content == "" {
		return models.Message{}, fmt.Errorf("room id and content are required: %w", models.ErrBadRequest)
	}

	if _, err := s.AuthorizeJoin(ctx, in.SenderID, in.RoomID); err != nil {
		return models.Message{}, err
	}

	sender, err := s.store.FindUserByID(in.SenderID)
	if err != nil {
		return models.Message{}, err
	}

	if in.Type == "" {
		in.Type = models.MessageTypeText
	}

	message := models.Message{
		ID:         uuid.NewString(),
		RoomID:     in.RoomID,
		SenderID:   in.SenderID,
		SenderName: sender.Username,
		Content:    content.Sanitize(in.Content),
		Type:       in.Type,
		MediaURL:   in.MediaURL,
		FileName:   in.FileName,
		FileSize:   in.FileSize,
		ReplyTo:    in.ReplyTo,
		CreatedAt:  s.now().Unix(),
	}

	if message.Type == models.MessageTypeText {
		html, err := content.RenderMarkdown(message.Content)
		if err != nil {
			slog.Warn("failed to render message markdown", "room_id", in.RoomID, "error", err)
		} else {
			message.HTML = html
		}
	}

	persisted, err := s.store.CreateMessage(message)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to persist message: %w", err)
	}

	err = s.store.UpdateRoomLastMessage(in.RoomID, models.LastMessage{
		Content:   persisted.Content,
		SenderID:  persisted.SenderID,
		Type:      persisted.Type,
		Timestamp: persisted.CreatedAt,
	})
	if err != nil {
		// The message exists; the denormalized summary can be re-derived
		// from history. No broadcast without both writes.
		return persisted, fmt.Errorf("failed to update room last message: %w", err)
	}

	_ = s.rooms.Del(in.RoomID)

	s.broadcaster.Publish(in.RoomID, models.ServerEvent{
		Type:    models.ServerEventNewMessage,
		RoomID:  in.RoomID,
		Message: &persisted,
	})

	if s.notifier != nil {
		room, err := s.roomByID(in.RoomID)
		if err == nil {
			go s.notifier.MessageCreated(room, persisted)
		}
	}

	return persisted, nil
}

// History returns up to limit messages in chronological order, skipping
// skip messages from the newest end, and marks the room read for the
// caller.
func (s *Service) History(ctx context.Context, userID, roomID string, limit, skip int) ([]models.Message, error) {
	if _, err := s.AuthorizeJoin(ctx, userID, roomID); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if skip < 0 {
		skip = 0
	}

	messages, err := s.store.QueryMessages(roomID, limit, skip)
	if err != nil {
		return nil, err
	}

	if _, err := s.store.MarkMessagesRead(roomID, userID, s.now().Unix()); err != nil {
		return nil, err
	}

	return lo.Reverse(messages), nil
}

// MarkRead appends a read receipt for the caller to every unread message
// in the room. Idempotent.
func (s *Service) MarkRead(ctx context.Context, userID, roomID string) error {
	if _, err := s.AuthorizeJoin(ctx, userID, roomID); err != nil {
		return err
	}
	_, err := s.store.MarkMessagesRead(roomID, userID, s.now().Unix())
	return err
}

// UnreadCount reports how many messages in the room the caller has not
// read. Calling MarkRead then UnreadCount always yields zero.
func (s *Service) UnreadCount(ctx context.Context, userID, roomID string) (int, error) {
	if _, err := s.AuthorizeJoin(ctx, userID, roomID); err != nil {
		return 0, err
	}
	return s.store.CountUnread(roomID, userID)
}

// Typing publishes a transient typing indicator to the room. No state is
// held server-side; the originating client debounces stop events.
func (s *Service) Typing(ctx context.Context, user models.User, roomID string, active bool) error {
	if _, err := s.AuthorizeJoin(ctx, user.ID, roomID); err != nil {
		return err
	}

	eventType := models.ServerEventUserTyping
	if !active {
		eventType = models.ServerEventUserStopTyping
	}
	s.broadcaster.Publish(roomID, models.ServerEvent{
		Type:     eventType,
		RoomID:   roomID,
		UserID:   user.ID,
		Username: user.Username,
	})
	return nil
}

// MessageSeen publishes an advisory seen event. The durable source of
// truth remains the persisted readBy list written via MarkRead.
func (s *Service) MessageSeen(ctx context.Context, userID, roomID, messageID string) error {
	if _, err := s.AuthorizeJoin(ctx, userID, roomID); err != nil {
		return err
	}

	s.broadcaster.Publish(roomID, models.ServerEvent{
		Type:      models.ServerEventMessageSeenUpdate,
		RoomID:    roomID,
		MessageID: messageID,
		SeenBy:    userID,
		SeenAt:    s.now().Unix(),
	})
	return nil
}

// Users lists all known users except the caller.
func (s *Service) Users(ctx context.Context, userID string) ([]models.User, error) {
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	return lo.Filter(users, func(u models.User, _ int) bool {
		return u.ID != userID
	}), nil
}
