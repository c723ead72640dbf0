package ws

import (
	"context"
	"errors"
	"sync"

	"palaver/internal/chat"
	"palaver/internal/models"
)

const sendBufferSize = 100

type wsConn interface {
	Close() error
	WriteJSON(v interface{}) error
	ReadJSON(v interface{}) error
}

type registry interface {
	Register(c *Connection)
	Unregister(c *Connection)
	JoinRoom(c *Connection, roomID string)
}

type chatService interface {
	AuthorizeJoin(ctx context.Context, userID, roomID string) (models.Room, error)
	SendMessage(ctx context.Context, in chat.SendInput) (models.Message, error)
	Typing(ctx context.Context, user models.User, roomID string, active bool) error
	MessageSeen(ctx context.Context, userID, roomID, messageID string) error
}

// Connection is one live websocket session for an authenticated user.
// Owned exclusively by the hub; destroyed on disconnect.
type Connection struct {
	ws  wsConn
	reg registry
	svc chatService

	userID   string
	username string

	// Current room subscription. Guarded by the hub's mutex.
	room string

	fromClient chan models.ClientEvent
	send       chan models.ServerEvent
	errorCh    chan error
}

func NewConnection(reg registry, svc chatService, ws wsConn, user models.User) *Connection {
	c := &Connection{
		ws:         ws,
		reg:        reg,
		svc:        svc,
		userID:     user.ID,
		username:   user.Username,
		fromClient: make(chan models.ClientEvent),
		send:       make(chan models.ServerEvent, sendBufferSize),
		errorCh:    make(chan error, 2),
	}
	reg.Register(c)
	return c
}

// trySend enqueues an event for delivery without blocking the caller.
// Events to a full buffer are dropped; history via the store is the
// durable fallback.
func (c *Connection) trySend(event models.ServerEvent) {
	select {
	case c.send <- event:
	default:
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromClient)
		close(c.errorCh)
		c.reg.Unregister(c)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpEvents(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpEvents(ctx context.Context) error {
	for {
		var event models.ClientEvent
		if err := c.ws.ReadJSON(&event); err != nil {
			return err
		}
		select {
		case c.fromClient <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case event := <-c.fromClient:
			if err := c.processClientEvent(ctx, event); err != nil {
				return err
			}
		case event := <-c.send:
			if err := c.ws.WriteJSON(event); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// processClientEvent dispatches one validated client event. Domain
// failures surface to the client as an error event and keep the
// connection open; only transport failures terminate the loop.
func (c *Connection) processClientEvent(ctx context.Context, event models.ClientEvent) error {
	if err := event.Validate(); err != nil {
		return c.writeError("invalid event payload")
	}

	user := models.User{ID: c.userID, Username: c.username}

	var err error
	switch event.Type {
	case models.ClientEventJoinRoom:
		if _, err = c.svc.AuthorizeJoin(ctx, c.userID, event.RoomID); err == nil {
			c.reg.JoinRoom(c, event.RoomID)
		}
	case models.ClientEventSendMessage:
		_, err = c.svc.SendMessage(ctx, chat.SendInput{
			SenderID: c.userID,
			RoomID:   event.RoomID,
			Content:  event.Content,
			Type:     event.MessageType,
			MediaURL: event.MediaURL,
			FileName: event.FileName,
			FileSize: event.FileSize,
			ReplyTo:  event.ReplyTo,
		})
	case models.ClientEventTyping:
		err = c.svc.Typing(ctx, user, event.RoomID, true)
	case models.ClientEventStopTyping:
		err = c.svc.Typing(ctx, user, event.RoomID, false)
	case models.ClientEventMessageSeen:
		err = c.svc.MessageSeen(ctx, c.userID, event.RoomID, event.MessageID)
	}

	if err != nil {
		return c.writeError(publicError(err))
	}
	return nil
}

func (c *Connection) writeError(message string) error {
	return c.ws.WriteJSON(models.ServerEvent{
		Type:  models.ServerEventError,
		Error: message,
	})
}

func publicError(err error) string {
	switch {
	case errors.Is(err, models.ErrForbidden):
		return "access denied"
	case errors.Is(err, models.ErrNotFound):
		return "room not found"
	case errors.Is(err, models.ErrBadRequest):
		return "invalid request"
	default:
		return "internal error"
	}
}
