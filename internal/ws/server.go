package ws

import (
	"log/slog"
	"net/http"

	"palaver/internal/auth"
	"palaver/internal/models"

	"github.com/gorilla/websocket"
)

type authenticator interface {
	Authenticate(token string) (models.User, error)
}

// Server upgrades authenticated HTTP requests to websocket connections.
type Server struct {
	auth     authenticator
	hub      *Hub
	svc      chatService
	upgrader *websocket.Upgrader
}

func NewServer(auth authenticator, hub *Hub, svc chatService) *Server {
	return &Server{
		auth: auth,
		hub:  hub,
		svc:  svc,
		upgrader: &websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // same-origin enforcement happens at the proxy
			},
		},
	}
}

// HandleConnections authenticates the handshake credential and, on
// success, runs the connection until it closes. An absent or invalid
// credential rejects the connection before any event handler is attached.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.Authenticate(auth.TokenFromRequest(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("failed to upgrade to websocket", "user_id", user.ID, "error", err)
		return
	}

	c := NewConnection(s.hub, s.svc, conn, user)
	if err := c.Handle(r.Context()); err != nil {
		slog.Debug("connection closed", "user_id", user.ID, "error", err)
	}
}
