package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sakani/sakani_backend/attachments"
	"github.com/sakani/sakani_backend/database"
	"github.com/sakani/sakani_backend/middleware"
	"github.com/sakani/sakani_backend/models"
	"github.com/sakani/sakani_backend/services"
	"github.com/sakani/sakani_backend/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type testEnv struct {
	app      *fiber.App
	handler  *ChatHandler
	store    *database.MessageStore
	registry *websocket.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.ConnectDB("sqlite", "file::memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	storage, err := attachments.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	store := database.NewMessageStore(db)
	registry := websocket.NewRegistry()
	t.Cleanup(registry.Shutdown)

	h := &ChatHandler{
		Chat:       services.NewChatService(store, registry, nil, time.Minute),
		Storage:    storage,
		Registry:   registry,
		JWTSecret:  testSecret,
		SendBuffer: 32,
	}

	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler})
	chats := app.Group("/api/v1/chats", middleware.Protected(testSecret))
	chats.Get("/unread", h.GetUnreadTotal)
	chats.Get("/upload-signature", h.GetUploadSignature)
	chats.Post("/delete-chat", h.DeleteChat)
	chats.Post("/mark-as-read", h.MarkAsRead)
	chats.Post("/messages", h.SendMessage)
	chats.Post("/upload-file", h.UploadFile)
	chats.Get("/:userId/:roommateId/unread", h.GetUnreadCount)
	chats.Get("/:userId/:roommateId", h.GetChatHistory)

	return &testEnv{app: app, handler: h, store: store, registry: registry}
}

func bearer(t *testing.T, userID string) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + token
}

func (e *testEnv) do(t *testing.T, caller, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", bearer(t, caller))
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, raw
}

func (e *testEnv) history(t *testing.T, user, other string) []models.Message {
	t.Helper()
	resp, raw := e.do(t, user, "GET", "/api/v1/chats/"+user+"/"+other, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(raw))
	var out []models.Message
	require.NoError(t, json.Unmarshal(raw, &out))
	return out
}

func multipartUpload(t *testing.T, fields map[string]string, filename, contentType string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func TestSendMessageThenHistory(t *testing.T) {
	env := newTestEnv(t)

	resp, raw := env.do(t, "u", "POST", "/api/v1/chats/messages", fiber.Map{"senderId": "u", "receiverId": "v", "message": "hello"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(raw))

	var saved map[string]any
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, "hello", saved["message"])
	assert.Equal(t, "none", saved["fileType"])
	assert.Equal(t, "", saved["fileUrl"])
	assert.Equal(t, false, saved["read"])
	assert.NotContains(t, saved, "hiddenFor")

	got := env.history(t, "v", "u")
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Body)
	assert.False(t, got[0].Read)
}

func TestSendMessageRejectsBadInput(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "u", "POST", "/api/v1/chats/messages", fiber.Map{"senderId": "u", "receiverId": "v"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "u", "POST", "/api/v1/chats/messages", fiber.Map{"receiverId": "v", "message": "hi"})
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, "mallory", "POST", "/api/v1/chats/messages", fiber.Map{"senderId": "u", "receiverId": "v", "message": "hi"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	n, err := env.store.CountConversation(context.Background(), "u", "v")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHistoryReturnsWholeConversationUnlessPaged(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 60; i++ {
		_, err := env.handler.Chat.Send(context.Background(), services.IngestInput{SenderID: "u", ReceiverID: "v", Body: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}

	got := env.history(t, "v", "u")
	require.Len(t, got, 60)
	assert.Equal(t, "m0", got[0].Body)
	assert.Equal(t, "m59", got[59].Body)

	resp, raw := env.do(t, "v", "GET", "/api/v1/chats/v/u?page=3&page_size=20", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	var page []models.Message
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page, 20)
	assert.Equal(t, "m40", page[0].Body)
	assert.Equal(t, "m59", page[19].Body)

	resp, raw = env.do(t, "v", "GET", "/api/v1/chats/v/u?page=2", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	page = nil
	require.NoError(t, json.Unmarshal(raw, &page))
	require.Len(t, page, 10)
	assert.Equal(t, "m50", page[0].Body)
}

func TestHistoryIsOwnerOnly(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "w", "GET", "/api/v1/chats/u/v", nil)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	resp, raw := env.do(t, "u", "GET", "/api/v1/chats/u/v", nil)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, "[]", string(raw))
}

func TestMarkAsReadAndUnreadCounts(t *testing.T) {
	env := newTestEnv(t)
	for i := 0; i < 3; i++ {
		resp, _ := env.do(t, "u", "POST", "/api/v1/chats/messages", fiber.Map{"senderId": "u", "receiverId": "v", "message": "ping"})
		require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	}

	resp, raw := env.do(t, "v", "GET", "/api/v1/chats/v/u/unread", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"unread":3}`, string(raw))

	resp, raw = env.do(t, "v", "GET", "/api/v1/chats/unread", nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"unread":3}`, string(raw))

	resp, raw = env.do(t, "v", "POST", "/api/v1/chats/mark-as-read", fiber.Map{"userId": "v", "roommateId": "u"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"updated":3`)

	for _, m := range env.history(t, "v", "u") {
		assert.True(t, m.Read)
	}

	resp, raw = env.do(t, "v", "POST", "/api/v1/chats/mark-as-read", fiber.Map{"userId": "v", "roommateId": "u"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `"updated":0`)

	resp, _ = env.do(t, "u", "POST", "/api/v1/chats/mark-as-read", fiber.Map{"userId": "v", "roommateId": "u"})
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)
}

func TestDeleteChatHidesForCallerOnly(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.do(t, "u", "POST", "/api/v1/chats/delete-chat", fiber.Map{"userId": "u", "roommateId": "v"})
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	resp, _ = env.do(t, "u", "POST", "/api/v1/chats/messages", fiber.Map{"senderId": "u", "receiverId": "v", "message": "bye"})
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	resp, raw := env.do(t, "u", "POST", "/api/v1/chats/delete-chat", fiber.Map{"userId": "u", "roommateId": "v"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode, string(raw))

	assert.Empty(t, env.history(t, "u", "v"))
	assert.Len(t, env.history(t, "v", "u"), 1)
}

func TestUploadFile(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartUpload(t, map[string]string{"senderId": "u", "receiverId": "v"}, "photo.png", "application/octet-stream", pngHeader)
	req := httptest.NewRequest("POST", "/api/v1/chats/upload-file", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", bearer(t, "u"))
	resp, raw := env.send(t, req)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode, string(raw))

	var saved models.Message
	require.NoError(t, json.Unmarshal(raw, &saved))
	assert.Equal(t, models.AttachmentImage, saved.AttachmentKind)
	assert.True(t, strings.HasPrefix(saved.AttachmentRef, "uploads/others/"), saved.AttachmentRef)
	assert.Equal(t, "", saved.Body)

	body, ct = multipartUpload(t, map[string]string{"senderId": "u", "receiverId": "v"}, "run.exe", "application/octet-stream", []byte("MZ"))
	req = httptest.NewRequest("POST", "/api/v1/chats/upload-file", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", bearer(t, "u"))
	resp, _ = env.send(t, req)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	assert.Len(t, env.history(t, "u", "v"), 1)
}

func TestUploadSignatureRequiresSigner(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.do(t, "u", "GET", "/api/v1/chats/upload-signature", nil)
	assert.Equal(t, fiber.StatusNotImplemented, resp.StatusCode)
}

func TestRequestsWithoutTokenAreRejected(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest("GET", "/api/v1/chats/unread", nil)
	resp, _ := env.send(t, req)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}
