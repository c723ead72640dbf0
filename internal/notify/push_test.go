package notify

import (
	"testing"

	"palaver/internal/models"
)

type fakeSubs struct {
	listed  []string
	deleted []string
}

func (f *fakeSubs) ListPushSubscriptions(userID string) ([]models.PushSubscription, error) {
	f.listed = append(f.listed, userID)
	return nil, nil
}

func (f *fakeSubs) DeletePushSubscription(userID, endpoint string) error {
	f.deleted = append(f.deleted, endpoint)
	return nil
}

type fakePresence map[string]bool

func (f fakePresence) IsOnline(userID string) bool { return f[userID] }

func TestPusherEnabled(t *testing.T) {
	if NewPusher(nil, nil, "", "", "").Enabled() {
		t.Error("pusher without keys reported enabled")
	}
	if !NewPusher(nil, nil, "pub", "priv", "").Enabled() {
		t.Error("pusher with keys reported disabled")
	}
}

func TestMessageCreatedTargetsOfflineParticipants(t *testing.T) {
	subs := &fakeSubs{}
	presence := fakePresence{"online-user": true}
	pusher := NewPusher(subs, presence, "pub", "priv", "mailto:ops@localhost")

	room := models.Room{
		ID:           "r1",
		Participants: []string{"sender", "online-user", "offline-user"},
	}
	pusher.MessageCreated(room, models.Message{
		RoomID:     "r1",
		SenderID:   "sender",
		SenderName: "alice",
		Content:    "hello",
	})

	// Only the offline non-sender participant is looked up.
	if len(subs.listed) != 1 || subs.listed[0] != "offline-user" {
		t.Errorf("unexpected lookup targets: %v", subs.listed)
	}
}

func TestMessageCreatedDisabled(t *testing.T) {
	subs := &fakeSubs{}
	pusher := NewPusher(subs, fakePresence{}, "", "", "")

	pusher.MessageCreated(models.Room{
		ID:           "r1",
		Participants: []string{"a", "b"},
	}, models.Message{SenderID: "a"})

	if len(subs.listed) != 0 {
		t.Errorf("disabled pusher looked up subscriptions: %v", subs.listed)
	}
}
