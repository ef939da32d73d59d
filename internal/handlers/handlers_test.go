package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/tickchat/internal/hub"
	"github.com/tickchat/internal/models"
	"github.com/tickchat/internal/repository"
	"github.com/tickchat/internal/service"
	"github.com/tickchat/pkg/jwt"
)

const testSecret = "test-secret"

type testServer struct {
	*httptest.Server
	hub    *hub.Hub
	tokens jwt.Service
}

func newTestServer(t *testing.T, authRequired bool) *testServer {
	t.Helper()
	logger := zerolog.Nop()

	store, err := repository.NewBoltStorage(filepath.Join(t.TempDir(), "http.db"), &logger)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	svc := service.NewMessageService(store, service.MessageOptions{})
	h := hub.NewHub(svc, store.Presence(), hub.Options{}, &logger)
	tokens := jwt.NewJWTService(testSecret)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	router := mux.NewRouter()
	router.Use(LoggingMiddleware(&logger))
	SetupRoutes(ctx, router, h, service.NewAuthService(tokens), RouteOptions{AuthRequired: authRequired}, &logger)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, hub: h, tokens: tokens}
}

func (s *testServer) token(t *testing.T, userID int64) string {
	t.Helper()
	token, err := s.tokens.GenerateToken(userID, time.Hour)
	require.NoError(t, err)
	return token
}

func (s *testServer) get(t *testing.T, path, token string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, frame string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
}

func next(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev map[string]any
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, true)

	resp := srv.get(t, "/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, "ok", body["status"])
	require.Equal(t, float64(0), body["connections"])
	require.Equal(t, float64(20000), body["heartbeat_interval_ms"])
}

func TestAPI_RequiresToken(t *testing.T) {
	srv := newTestServer(t, false)

	require.Equal(t, http.StatusUnauthorized, srv.get(t, "/api/users/status?user_id=1", "").StatusCode)
	require.Equal(t, http.StatusUnauthorized, srv.get(t, "/api/users/status?user_id=1", "garbage").StatusCode)

	foreign, err := jwt.NewJWTService("other-secret").GenerateToken(1, time.Hour)
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, srv.get(t, "/api/users/status?user_id=1", foreign).StatusCode)

	require.Equal(t, http.StatusOK, srv.get(t, "/api/users/status?user_id=1", srv.token(t, 1)).StatusCode)
}

func TestMessageHistory(t *testing.T) {
	srv := newTestServer(t, true)
	ctx := context.Background()
	token := srv.token(t, 1)

	for i := 0; i < 3; i++ {
		_, err := srv.hub.SendMessage(ctx, 2, 1, fmt.Sprintf("m%d", i), "", "")
		require.NoError(t, err)
	}

	resp := srv.get(t, "/api/messages/history?user_id=2&limit=2", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var messages []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	require.Len(t, messages, 2)
	require.Equal(t, "m1", messages[0].Body)
	require.Equal(t, "m2", messages[1].Body)

	// history is read-only
	for _, m := range messages {
		require.Equal(t, models.StatusSent, m.Status)
	}

	resp = srv.get(t, "/api/messages/history?user_id=3", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var empty []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&empty))
	require.Empty(t, empty)

	for _, query := range []string{"", "?user_id=abc", "?user_id=-1", "?user_id=2&limit=0", "?user_id=2&limit=5000"} {
		require.Equal(t, http.StatusBadRequest, srv.get(t, "/api/messages/history"+query, token).StatusCode, query)
	}
}

func TestUserStatus(t *testing.T) {
	srv := newTestServer(t, true)
	token := srv.token(t, 1)

	conn := srv.dial(t, "?token="+srv.token(t, 2))
	send(t, conn, `{"action":"identify"}`)
	require.Eventually(t, func() bool { return srv.hub.Registry().IsOnline(2) }, 2*time.Second, 10*time.Millisecond)

	resp := srv.get(t, "/api/users/status?user_id=2&user_id=3", token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var statuses []models.Presence
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	require.Len(t, statuses, 2)
	require.True(t, statuses[0].IsOnline)
	require.False(t, statuses[1].IsOnline)
	require.Nil(t, statuses[1].LastSeen)

	conn.Close()
	require.Eventually(t, func() bool { return !srv.hub.Registry().IsOnline(2) }, 2*time.Second, 10*time.Millisecond)

	resp = srv.get(t, "/api/users/status?user_id=2", token)
	statuses = nil
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&statuses))
	require.False(t, statuses[0].IsOnline)
	require.NotNil(t, statuses[0].LastSeen)

	require.Equal(t, http.StatusBadRequest, srv.get(t, "/api/users/status", token).StatusCode)
	require.Equal(t, http.StatusBadRequest, srv.get(t, "/api/users/status?user_id=x", token).StatusCode)
}

func TestWebSocket_RejectsMissingToken(t *testing.T) {
	srv := newTestServer(t, true)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebSocket_DeliveryTicks(t *testing.T) {
	srv := newTestServer(t, true)

	alice := srv.dial(t, "?token="+srv.token(t, 1))
	send(t, alice, `{"action":"identify","user_id":1,"peer_id":2}`)

	ev := next(t, alice)
	require.Equal(t, "presence_update", ev["event"])
	require.Equal(t, false, ev["is_online"])

	send(t, alice, `{"action":"send_message","receiver_id":2,"message":"hi","correlation_id":"abc"}`)
	ev = next(t, alice)
	require.Equal(t, "chat_message", ev["event"])
	require.Equal(t, "hi", ev["message"])
	require.Equal(t, "sent", ev["status"])
	require.Equal(t, "abc", ev["correlation_id"])
	msgID := ev["msg_id"]

	bob := srv.dial(t, "?token="+srv.token(t, 2))
	send(t, bob, `{"action":"identify","user_id":2}`)

	ev = next(t, alice)
	require.Equal(t, "presence_update", ev["event"])
	require.Equal(t, true, ev["is_online"])

	ev = next(t, alice)
	require.Equal(t, "status_update", ev["event"])
	require.Equal(t, "delivered", ev["status"])
	require.Equal(t, []any{msgID}, ev["message_ids"])

	send(t, bob, `{"action":"mark_read","other_user_id":1}`)
	ev = next(t, alice)
	require.Equal(t, "status_update", ev["event"])
	require.Equal(t, "read", ev["status"])
	require.Equal(t, []any{msgID}, ev["message_ids"])

	// errors stay on the offending connection, which keeps working
	send(t, bob, `{"action":"identify","user_id":1}`)
	ev = next(t, bob)
	require.Equal(t, "error", ev["event"])
	require.Equal(t, models.CodeIdentityMismatch, ev["code"])

	send(t, bob, `not json`)
	ev = next(t, bob)
	require.Equal(t, models.CodeMalformed, ev["code"])

	send(t, bob, `{"action":"get_presence","user_id":1}`)
	ev = next(t, bob)
	require.Equal(t, "presence_update", ev["event"])
	require.Equal(t, true, ev["is_online"])
}

func TestWebSocket_AnonymousWhenAuthOptional(t *testing.T) {
	srv := newTestServer(t, false)

	conn := srv.dial(t, "")
	send(t, conn, `{"action":"heartbeat"}`)
	ev := next(t, conn)
	require.Equal(t, models.CodeNotIdentified, ev["code"])

	send(t, conn, `{"action":"identify","user_id":42}`)
	require.Eventually(t, func() bool { return srv.hub.Registry().IsOnline(42) }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_LongMultibyteBodies(t *testing.T) {
	srv := newTestServer(t, true)

	conn := srv.dial(t, "?token="+srv.token(t, 1))
	send(t, conn, `{"action":"identify","user_id":1}`)

	longest := strings.Repeat("€", service.DefaultMaxBodyLength)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":      "send_message",
		"receiver_id": 2,
		"message":     longest,
	}))
	ev := next(t, conn)
	require.Equal(t, "chat_message", ev["event"])
	require.Equal(t, longest, ev["message"])

	// the same body with every character escaped
	send(t, conn, fmt.Sprintf(`{"action":"send_message","receiver_id":2,"message":"%s"}`,
		strings.Repeat(`\u20ac`, service.DefaultMaxBodyLength)))
	ev = next(t, conn)
	require.Equal(t, "chat_message", ev["event"])
	require.Equal(t, longest, ev["message"])

	// one character over is rejected, and the connection survives
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":         "send_message",
		"receiver_id":    2,
		"message":        longest + "€",
		"correlation_id": "too-long",
	}))
	ev = next(t, conn)
	require.Equal(t, "error", ev["event"])
	require.Equal(t, models.CodeInvalidRequest, ev["code"])
	require.Equal(t, "too-long", ev["correlation_id"])

	send(t, conn, `{"action":"get_presence","user_id":2}`)
	ev = next(t, conn)
	require.Equal(t, "presence_update", ev["event"])
	require.True(t, srv.hub.Registry().IsOnline(1))
}

func TestWebSocket_BodyTextRoundTrips(t *testing.T) {
	srv := newTestServer(t, true)
	body := `it's 5 < 6 & "ok"`

	conn := srv.dial(t, "?token="+srv.token(t, 1))
	send(t, conn, `{"action":"identify","user_id":1}`)
	require.NoError(t, conn.WriteJSON(map[string]any{
		"action":      "send_message",
		"receiver_id": 2,
		"message":     body,
	}))

	ev := next(t, conn)
	require.Equal(t, "chat_message", ev["event"])
	require.Equal(t, body, ev["message"])

	resp := srv.get(t, "/api/messages/history?user_id=1", srv.token(t, 2))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var messages []models.Message
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&messages))
	require.Len(t, messages, 1)
	require.Equal(t, body, messages[0].Body)
}
