package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"palaver/internal/api"
	"palaver/internal/ws"
)

// NewRouter wires the REST surface and the websocket endpoint.
func NewRouter(apiHandlers *api.API, wsServer *ws.Server) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/chat/rooms", apiHandlers.RequireAuth(apiHandlers.RoomsHandler))
	mux.HandleFunc("POST /api/chat/rooms/direct", apiHandlers.RequireAuth(apiHandlers.CreateDirectRoomHandler))
	mux.HandleFunc("GET /api/chat/rooms/{roomId}", apiHandlers.RequireAuth(apiHandlers.RoomDetailHandler))
	mux.HandleFunc("GET /api/chat/rooms/{roomId}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/chat/rooms/{roomId}/read", apiHandlers.RequireAuth(apiHandlers.MarkReadHandler))
	mux.HandleFunc("GET /api/chat/rooms/{roomId}/unread-count", apiHandlers.RequireAuth(apiHandlers.UnreadCountHandler))
	mux.HandleFunc("POST /api/chat/messages", apiHandlers.RequireAuth(apiHandlers.SendMessageHandler))
	mux.HandleFunc("GET /api/chat/users", apiHandlers.RequireAuth(apiHandlers.UsersHandler))
	mux.HandleFunc("POST /api/push/subscribe", apiHandlers.RequireAuth(apiHandlers.SubscribePushHandler))
	mux.HandleFunc("POST /api/upload", apiHandlers.RequireAuth(apiHandlers.UploadHandler))
	mux.HandleFunc("GET /api/files/{id}", apiHandlers.FileHandler)

	// WebSocket endpoint; authentication happens inside the handshake.
	mux.HandleFunc("/api/chat/ws", wsServer.HandleConnections)

	return mux
}

type APIServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewAPIServer(apiHandlers *api.API, wsServer *ws.Server, addr string) *APIServer {
	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: NewRouter(apiHandlers, wsServer),
		},
	}
}

func (s *APIServer) Start() error {
	log.Printf("Server started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
