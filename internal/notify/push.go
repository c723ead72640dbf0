package notify

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"palaver/internal/content"
	"palaver/internal/models"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const previewLength = 120

// SubscriptionStore holds web-push endpoints registered by clients.
type SubscriptionStore interface {
	ListPushSubscriptions(userID string) ([]models.PushSubscription, error)
	DeletePushSubscription(userID, endpoint string) error
}

// Presence answers whether a user currently holds a live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// Pusher sends web-push notifications to room participants who have no
// live connection when a message lands. Best-effort: failures are logged
// and swallowed, never retried.
type Pusher struct {
	store    SubscriptionStore
	presence Presence

	vapidPublicKey  string
	vapidPrivateKey string
	contact         string
}

func NewPusher(store SubscriptionStore, presence Presence, vapidPublicKey, vapidPrivateKey, contact string) *Pusher {
	return &Pusher{
		store:           store,
		presence:        presence,
		vapidPublicKey:  vapidPublicKey,
		vapidPrivateKey: vapidPrivateKey,
		contact:         contact,
	}
}

// Enabled reports whether a VAPID key pair is configured.
func (p *Pusher) Enabled() bool {
	return p.vapidPublicKey != "" && p.vapidPrivateKey != ""
}

type pushPayload struct {
	RoomID  string `json:"roomId"`
	Sender  string `json:"sender"`
	Preview string `json:"preview"`
}

// MessageCreated notifies every offline participant of the room about the
// persisted message.
func (p *Pusher) MessageCreated(room models.Room, message models.Message) {
	if !p.Enabled() {
		return
	}

	payload, err := json.Marshal(pushPayload{
		RoomID:  room.ID,
		Sender:  message.SenderName,
		Preview: content.Preview(message.Content, previewLength),
	})
	if err != nil {
		slog.Error("failed to marshal push payload", "room_id", room.ID, "error", err)
		return
	}

	for _, participantID := range room.Participants {
		if participantID == message.SenderID || p.presence.IsOnline(participantID) {
			continue
		}
		p.notifyUser(participantID, payload)
	}
}

func (p *Pusher) notifyUser(userID string, payload []byte) {
	subs, err := p.store.ListPushSubscriptions(userID)
	if err != nil {
		slog.Error("failed to list push subscriptions", "user_id", userID, "error", err)
		return
	}

	for _, sub := range subs {
		resp, err := webpush.SendNotification(payload, &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys: webpush.Keys{
				Auth:   sub.Keys.Auth,
				P256dh: sub.Keys.P256dh,
			},
		}, &webpush.Options{
			Subscriber:      p.contact,
			VAPIDPublicKey:  p.vapidPublicKey,
			VAPIDPrivateKey: p.vapidPrivateKey,
			TTL:             60,
		})
		if err != nil {
			slog.Warn("web push failed", "user_id", userID, "error", err)
			continue
		}
		if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
			// Endpoint is dead, prune it.
			_ = p.store.DeletePushSubscription(userID, sub.Endpoint)
		}
		_ = resp.Body.Close()
	}
}
