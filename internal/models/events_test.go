package models

import "testing"

func TestClientEventValidate(t *testing.T) {
	cases := []struct {
		name    string
		event   ClientEvent
		wantErr bool
	}{
		{
			name:  "join room",
			event: ClientEvent{Type: ClientEventJoinRoom, RoomID: "r1"},
		},
		{
			name:    "join room without room id",
			event:   ClientEvent{Type: ClientEventJoinRoom},
			wantErr: true,
		},
		{
			name:    "missing type",
			event:   ClientEvent{RoomID: "r1"},
			wantErr: true,
		},
		{
			name:    "unknown type",
			event:   ClientEvent{Type: "dance", RoomID: "r1"},
			wantErr: true,
		},
		{
			name:  "send message",
			event: ClientEvent{Type: ClientEventSendMessage, RoomID: "r1", Content: "hi"},
		},
		{
			name:    "send message without content",
			event:   ClientEvent{Type: ClientEventSendMessage, RoomID: "r1"},
			wantErr: true,
		},
		{
			name: "send message with media",
			event: ClientEvent{
				Type:        ClientEventSendMessage,
				RoomID:      "r1",
				Content:     "photo",
				MessageType: MessageTypeImage,
				MediaURL:    "https://example.com/f/abc",
				FileSize:    1024,
			},
		},
		{
			name: "send message with bad media url",
			event: ClientEvent{
				Type:     ClientEventSendMessage,
				RoomID:   "r1",
				Content:  "photo",
				MediaURL: "not a url",
			},
			wantErr: true,
		},
		{
			name: "send message with bad message type",
			event: ClientEvent{
				Type:        ClientEventSendMessage,
				RoomID:      "r1",
				Content:     "hi",
				MessageType: "hologram",
			},
			wantErr: true,
		},
		{
			name:  "typing",
			event: ClientEvent{Type: ClientEventTyping, RoomID: "r1"},
		},
		{
			name:  "stop typing",
			event: ClientEvent{Type: ClientEventStopTyping, RoomID: "r1"},
		},
		{
			name:  "message seen",
			event: ClientEvent{Type: ClientEventMessageSeen, RoomID: "r1", MessageID: "m1"},
		},
		{
			name:    "message seen without message id",
			event:   ClientEvent{Type: ClientEventMessageSeen, RoomID: "r1"},
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected validation error: %v", err)
			}
		})
	}
}
