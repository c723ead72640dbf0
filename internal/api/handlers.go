package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"palaver/internal/auth"
	"palaver/internal/chat"
	"palaver/internal/filestore"
	"palaver/internal/models"
	"palaver/internal/storage"

	"github.com/google/uuid"
	"github.com/h2non/filetype"
)

const maxUploadBytes = 25 << 20 // 25 MiB

type ctxKey string

const userKey ctxKey = "user"

type API struct {
	auth    *auth.Authenticator
	chat    *chat.Service
	store   *storage.BboltStorage
	blobs   filestore.BlobStore
	baseURL string
}

func New(authService *auth.Authenticator, chatService *chat.Service, store *storage.BboltStorage, blobs filestore.BlobStore, baseURL string) *API {
	return &API{
		auth:    authService,
		chat:    chatService,
		store:   store,
		blobs:   blobs,
		baseURL: baseURL,
	}
}

// RequireAuth authenticates the request's bearer credential and stores
// the resolved user on the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, err := a.auth.Authenticate(auth.TokenFromRequest(r))
		if err != nil {
			writeError(w, err, "User not authenticated")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
	}
}

func userFrom(r *http.Request) models.User {
	user, _ := r.Context().Value(userKey).(models.User)
	return user
}

// RoomsHandler lists the caller's rooms, most recently active first.
func (a *API) RoomsHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	rooms, err := a.chat.Rooms(r.Context(), user.ID)
	if err != nil {
		writeError(w, err, "Failed to retrieve chat list")
		return
	}
	writeSuccess(w, http.StatusOK, "Chat list retrieved successfully", rooms)
}

// CreateDirectRoomHandler finds or creates a two-party room.
func (a *API) CreateDirectRoomHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req struct {
		ParticipantID string `json:"participantId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", models.ErrBadRequest), "Invalid request body")
		return
	}

	room, err := a.chat.CreateDirectRoom(r.Context(), user.ID, req.ParticipantID)
	if err != nil {
		writeError(w, err, "Failed to create chat room")
		return
	}
	writeSuccess(w, http.StatusOK, "Chat room created successfully", room)
}

// RoomDetailHandler returns one room and marks it read for the caller.
func (a *API) RoomDetailHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	room, err := a.chat.RoomDetail(r.Context(), user.ID, r.PathValue("roomId"))
	if err != nil {
		writeError(w, err, "Failed to retrieve chat room")
		return
	}
	writeSuccess(w, http.StatusOK, "Chat room retrieved successfully", room)
}

// MessagesHandler returns paginated history in chronological order.
func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	skip, _ := strconv.Atoi(r.URL.Query().Get("skip"))

	messages, err := a.chat.History(r.Context(), user.ID, r.PathValue("roomId"), limit, skip)
	if err != nil {
		writeError(w, err, "Failed to retrieve message history")
		return
	}
	writeSuccess(w, http.StatusOK, "Message history retrieved successfully", messages)
}

// SendMessageHandler runs a message through the ingestion path.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var req struct {
		RoomID      string             `json:"roomId"`
		Content     string             `json:"content"`
		MessageType models.MessageType `json:"messageType"`
		MediaURL    string             `json:"mediaUrl"`
		FileName    string             `json:"fileName"`
		FileSize    int64              `json:"fileSize"`
		ReplyTo     string             `json:"replyTo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("invalid request body: %w", models.ErrBadRequest), "Invalid request body")
		return
	}

	message, err := a.chat.SendMessage(r.Context(), chat.SendInput{
		SenderID: user.ID,
		RoomID:   req.RoomID,
		Content:  req.Content,
		Type:     req.MessageType,
		MediaURL: req.MediaURL,
		FileName: req.FileName,
		FileSize: req.FileSize,
		ReplyTo:  req.ReplyTo,
	})
	if err != nil {
		writeError(w, err, "Failed to send message")
		return
	}
	writeSuccess(w, http.StatusCreated, "Message sent successfully", message)
}

// MarkReadHandler appends read receipts for the caller.
func (a *API) MarkReadHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	if err := a.chat.MarkRead(r.Context(), user.ID, r.PathValue("roomId")); err != nil {
		writeError(w, err, "Failed to mark messages as read")
		return
	}
	writeSuccess(w, http.StatusOK, "Messages marked as read", nil)
}

// UnreadCountHandler reports the caller's unread count for a room.
func (a *API) UnreadCountHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	count, err := a.chat.UnreadCount(r.Context(), user.ID, r.PathValue("roomId"))
	if err != nil {
		writeError(w, err, "Failed to retrieve unread count")
		return
	}
	writeSuccess(w, http.StatusOK, "Unread count retrieved successfully", map[string]int{"unreadCount": count})
}

// UsersHandler lists all users except the caller.
func (a *API) UsersHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)
	users, err := a.chat.Users(r.Context(), user.ID)
	if err != nil {
		writeError(w, err, "Failed to retrieve users list")
		return
	}
	writeSuccess(w, http.StatusOK, "Users list retrieved successfully", users)
}

// SubscribePushHandler registers a web-push endpoint for the caller.
func (a *API) SubscribePushHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	var sub models.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		writeError(w, fmt.Errorf("invalid subscription: %w", models.ErrBadRequest), "Invalid subscription")
		return
	}

	if err := a.store.UpsertPushSubscription(user.ID, sub); err != nil {
		writeError(w, err, "Failed to store subscription")
		return
	}
	writeSuccess(w, http.StatusCreated, "Subscription stored", nil)
}

// UploadHandler stores a media blob and returns the URL plus a message
// type hint derived from content sniffing.
func (a *API) UploadHandler(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r)

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, fmt.Errorf("missing file: %w", models.ErrBadRequest), "File is required")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, fmt.Errorf("failed to read upload: %w", err), "Failed to read upload")
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	kind, _ := filetype.Match(data)
	mimeType := kind.MIME.Value
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	messageType := models.MessageTypeFile
	switch {
	case filetype.IsImage(data):
		messageType = models.MessageTypeImage
	case filetype.IsVideo(data):
		messageType = models.MessageTypeVideo
	case filetype.IsAudio(data):
		messageType = models.MessageTypeAudio
	}

	if err := a.blobs.Save(bytes.NewReader(data), hash); err != nil {
		writeError(w, fmt.Errorf("failed to store blob: %w", err), "Failed to store file")
		return
	}

	meta := storage.FileMetadata{
		ID:          uuid.NewString(),
		Hash:        hash,
		MimeType:    mimeType,
		MessageType: string(messageType),
		FileName:    header.Filename,
		Size:        int64(len(data)),
		UploaderID:  user.ID,
		CreatedAt:   time.Now().Unix(),
	}
	if err := a.store.UpsertFileMetadata(meta); err != nil {
		writeError(w, fmt.Errorf("failed to store file metadata: %w", err), "Failed to store file")
		return
	}

	writeSuccess(w, http.StatusCreated, "File uploaded successfully", map[string]any{
		"mediaUrl":    fmt.Sprintf("%s/api/files/%s", a.baseURL, meta.ID),
		"messageType": messageType,
		"fileName":    header.Filename,
		"fileSize":    meta.Size,
		"mimeType":    mimeType,
	})
}

// FileHandler serves a stored media blob.
func (a *API) FileHandler(w http.ResponseWriter, r *http.Request) {
	meta, err := a.store.GetFileMetadata(r.PathValue("id"))
	if err != nil {
		writeError(w, err, "File not found")
		return
	}

	blob, err := a.blobs.Get(meta.Hash)
	if err != nil {
		writeError(w, fmt.Errorf("failed to open blob: %w", err), "Failed to read file")
		return
	}
	defer func() { _ = blob.Close() }()

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	_, _ = io.Copy(w, blob)
}
