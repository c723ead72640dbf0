package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"palaver/internal/api"
	"palaver/internal/auth"
	"palaver/internal/chat"
	"palaver/internal/filestore"
	internalhttp "palaver/internal/http"
	"palaver/internal/models"
	"palaver/internal/storage"
	"palaver/internal/ws"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "api-test-secret"

type testEnv struct {
	router http.Handler
	store  *storage.BboltStorage
	tokens map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	store, err := storage.NewBboltStorage(filepath.Join(dir, "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	authService, err := auth.New(testSecret, store)
	require.NoError(t, err)

	hub := ws.NewHub(store)
	svc := chat.NewService(t.Context(), store, hub, nil, time.Second)
	blobs, err := filestore.NewLocalBlobStore(filepath.Join(dir, "blobs"))
	require.NoError(t, err)

	handlers := api.New(authService, svc, store, blobs, "http://localhost:8080")
	wsServer := ws.NewServer(authService, hub, svc)

	env := &testEnv{
		router: internalhttp.NewRouter(handlers, wsServer),
		store:  store,
		tokens: make(map[string]string),
	}

	for _, id := range []string{"alice", "bob", "carol"} {
		require.NoError(t, store.UpsertUser(models.User{ID: id, Username: id}))
		token, err := auth.Issue(testSecret, id, time.Hour)
		require.NoError(t, err)
		env.tokens[id] = token
	}

	return env
}

func (e *testEnv) do(t *testing.T, user, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	r := httptest.NewRequest(method, path, reader)
	if user != "" {
		r.Header.Set("Authorization", "Bearer "+e.tokens[user])
	}
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	return w
}

func decodeData[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var envelope struct {
		Success bool            `json:"success"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.True(t, envelope.Success, "expected success envelope: %s", w.Body.String())

	var out T
	require.NoError(t, json.Unmarshal(envelope.Data, &out))
	return out
}

func TestUnauthenticatedRequests(t *testing.T) {
	env := newTestEnv(t)

	for _, path := range []string{
		"/api/chat/rooms",
		"/api/chat/users",
		"/api/chat/rooms/r1",
	} {
		w := env.do(t, "", http.MethodGet, path, nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}

	// A token for a deleted user is rejected too.
	token, err := auth.Issue(testSecret, "ghost", time.Hour)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodGet, "/api/chat/rooms", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestDirectRoomLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodPost, "/api/chat/rooms/direct",
		map[string]string{"participantId": "bob"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	first := decodeData[chat.RoomView](t, w)
	assert.False(t, first.IsGroup)
	assert.Equal(t, "bob", first.Name)

	// Creating again, from either side, returns the same room.
	w = env.do(t, "bob", http.MethodPost, "/api/chat/rooms/direct",
		map[string]string{"participantId": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	second := decodeData[chat.RoomView](t, w)
	assert.Equal(t, first.ID, second.ID)

	w = env.do(t, "alice", http.MethodPost, "/api/chat/rooms/direct",
		map[string]string{"participantId": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(t, "alice", http.MethodPost, "/api/chat/rooms/direct",
		map[string]string{"participantId": "alice"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMessageFlow(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodPost, "/api/chat/rooms/direct",
		map[string]string{"participantId": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	room := decodeData[chat.RoomView](t, w)

	// Send two messages.
	for _, content := range []string{"first", "second"} {
		w = env.do(t, "alice", http.MethodPost, "/api/chat/messages",
			map[string]string{"roomId": room.ID, "content": content})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	// Recipient sees two unread.
	w = env.do(t, "bob", http.MethodGet, fmt.Sprintf("/api/chat/rooms/%s/unread-count", room.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	counts := decodeData[map[string]int](t, w)
	assert.Equal(t, 2, counts["unreadCount"])

	// History is chronological and marks the room read.
	w = env.do(t, "bob", http.MethodGet, fmt.Sprintf("/api/chat/rooms/%s/messages", room.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	messages := decodeData[[]models.Message](t, w)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)

	w = env.do(t, "bob", http.MethodGet, fmt.Sprintf("/api/chat/rooms/%s/unread-count", room.ID), nil)
	counts = decodeData[map[string]int](t, w)
	assert.Equal(t, 0, counts["unreadCount"])

	// The room list reflects the last message.
	w = env.do(t, "alice", http.MethodGet, "/api/chat/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rooms := decodeData[[]chat.RoomView](t, w)
	require.Len(t, rooms, 1)
	require.NotNil(t, rooms[0].LastMessage)
	assert.Equal(t, "second", rooms[0].LastMessage.Content)

	// Explicit mark-read endpoint.
	w = env.do(t, "alice", http.MethodPost, fmt.Sprintf("/api/chat/rooms/%s/read", room.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	// Invalid sends are rejected.
	w = env.do(t, "alice", http.MethodPost, "/api/chat/messages",
		map[string]string{"roomId": room.ID, "content": "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRoomAccessControl(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodPost, "/api/chat/rooms/direct",
		map[string]string{"participantId": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	room := decodeData[chat.RoomView](t, w)

	// A non-participant is denied on every room route.
	for _, req := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/chat/rooms/" + room.ID, nil},
		{http.MethodGet, "/api/chat/rooms/" + room.ID + "/messages", nil},
		{http.MethodPost, "/api/chat/rooms/" + room.ID + "/read", nil},
		{http.MethodGet, "/api/chat/rooms/" + room.ID + "/unread-count", nil},
		{http.MethodPost, "/api/chat/messages", map[string]string{"roomId": room.ID, "content": "hi"}},
	} {
		w := env.do(t, "carol", req.method, req.path, req.body)
		assert.Equal(t, http.StatusForbidden, w.Code, "%s %s", req.method, req.path)
	}

	// Carol has no rooms.
	w = env.do(t, "carol", http.MethodGet, "/api/chat/rooms", nil)
	require.Equal(t, http.StatusOK, w.Code)
	rooms := decodeData[[]chat.RoomView](t, w)
	assert.Empty(t, rooms)
}

func TestUsersEndpoint(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodGet, "/api/chat/users", nil)
	require.Equal(t, http.StatusOK, w.Code)
	users := decodeData[[]models.User](t, w)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, "alice", u.ID)
	}
}

func TestPushSubscribe(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, "alice", http.MethodPost, "/api/push/subscribe", models.PushSubscription{
		Endpoint: "https://push.example.com/ep1",
		Keys: models.PushSubscriptionKeys{
			Auth:   "auth-secret",
			P256dh: "p256dh-key",
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	subs, err := env.store.ListPushSubscriptions("alice")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "https://push.example.com/ep1", subs[0].Endpoint)

	// Endpoint is required.
	w = env.do(t, "alice", http.MethodPost, "/api/push/subscribe", models.PushSubscription{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// Smallest valid PNG header plus IHDR magic so content sniffing detects
// an image.
var pngHeader = []byte{
	0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A,
	0x00, 0x00, 0x00, 0x0D, 0x49, 0x48, 0x44, 0x52,
}

func TestUploadAndServe(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "pic.png")
	require.NoError(t, err)
	_, err = part.Write(pngHeader)
	require.NoError(t, err)
	require.NoError(t, form.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	r.Header.Set("Authorization", "Bearer "+env.tokens["alice"])
	r.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	result := decodeData[map[string]any](t, w)
	assert.Equal(t, "image", result["messageType"])
	assert.Equal(t, "pic.png", result["fileName"])
	assert.Equal(t, "image/png", result["mimeType"])
	mediaURL, _ := result["mediaUrl"].(string)
	require.NotEmpty(t, mediaURL)

	// The returned URL serves the blob back with the sniffed content type.
	fileReq := httptest.NewRequest(http.MethodGet,
		mediaURL[len("http://localhost:8080"):], nil)
	fileRes := httptest.NewRecorder()
	env.router.ServeHTTP(fileRes, fileReq)
	require.Equal(t, http.StatusOK, fileRes.Code)
	assert.Equal(t, "image/png", fileRes.Header().Get("Content-Type"))
	assert.Equal(t, pngHeader, fileRes.Body.Bytes())

	// Unknown file id is a 404.
	missing := httptest.NewRecorder()
	env.router.ServeHTTP(missing, httptest.NewRequest(http.MethodGet, "/api/files/unknown", nil))
	assert.Equal(t, http.StatusNotFound, missing.Code)
}

func TestUploadRequiresFile(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	require.NoError(t, form.WriteField("note", "no file here"))
	require.NoError(t, form.Close())

	r := httptest.NewRequest(http.MethodPost, "/api/upload", &buf)
	r.Header.Set("Authorization", "Bearer "+env.tokens["alice"])
	r.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
