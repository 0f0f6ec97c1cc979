package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shravanisdakve/NexusAI-sub002/internal/config"
	"github.com/shravanisdakve/NexusAI-sub002/internal/domain"
	"github.com/shravanisdakve/NexusAI-sub002/internal/hub"
	"github.com/shravanisdakve/NexusAI-sub002/internal/moderation"
	"github.com/shravanisdakve/NexusAI-sub002/internal/repository"
	"github.com/shravanisdakve/NexusAI-sub002/internal/room"
	"github.com/shravanisdakve/NexusAI-sub002/internal/service"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/database"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/jwt"
	"github.com/shravanisdakve/NexusAI-sub002/pkg/middleware"
)

type testServer struct {
	srv      *httptest.Server
	registry *room.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithAuth(t, middleware.DevIdentity())
}

func newTestServerWithAuth(t *testing.T, auth gin.HandlerFunc) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.New(&database.Config{
		Driver:   "sqlite",
		FilePath: "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		LogLevel: "silent",
	})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db, &domain.RoomModel{}, &domain.ParticipantModel{}, &domain.MessageModel{}))

	rooms := repository.NewGormRoomRepository(db)
	messages := repository.NewGormMessageRepository(db)

	engine, err := moderation.NewEngine()
	require.NoError(t, err)

	cfg := room.DefaultConfig()
	cfg.PersistBackoff = time.Millisecond
	cfg.IdleTimeout = 0

	wsHub := hub.NewHub()
	registry := room.NewRegistry(cfg, rooms, messages, wsHub, engine)

	ws := NewWSHandler(wsHub, service.NewChatService(registry), config.WebSocketConfig{
		PingInterval:   time.Minute,
		PongWait:       time.Minute,
		WriteWait:      time.Second,
		MaxMessageSize: 16384,
		SendBuffer:     64,
	}, hub.Limits{})
	api := NewHandler(service.NewRoomService(rooms, messages, registry), auth)

	r := gin.New()
	r.GET("/health", Health)
	ws.RegisterRoutes(r, auth)
	api.RegisterRoutes(r)

	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		registry.Close()
		wsHub.Close()
		_ = database.Close(db)
	})
	return &testServer{srv: srv, registry: registry}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code string `json:"code"`
	} `json:"error"`
}

func (s *testServer) do(t *testing.T, method, path, userID string, body interface{}) (int, envelope) {
	t.Helper()
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-ID", userID)
	}
	return s.request(t, method, path, header, body)
}

func (s *testServer) request(t *testing.T, method, path string, header http.Header, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.srv.URL+path, &buf)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *testServer) createRoom(t *testing.T, name string) domain.Room {
	t.Helper()
	status, env := s.do(t, http.MethodPost, "/api/v1/rooms", "owner", domain.CreateRoomRequest{Name: name, CourseID: "CS101"})
	require.Equal(t, http.StatusCreated, status)
	var r domain.Room
	require.NoError(t, json.Unmarshal(env.Data, &r))
	return r
}

func (s *testServer) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws?user_id=" + userID + "&username=" + userID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg interface{}) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil skips frames until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var frame map[string]interface{}
		require.NoError(t, conn.ReadJSON(&frame), "waiting for %s", typ)
		if frame["type"] == typ {
			return frame
		}
	}
}

func TestWebSocket_ChatRoundTrip(t *testing.T) {
	s := newTestServer(t)
	r := s.createRoom(t, "Algorithms")

	alice := s.dial(t, "alice")
	bob := s.dial(t, "bob")

	send(t, alice, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, RoomID: r.ID})
	readUntil(t, alice, domain.MsgTypeRoomSnapshot)
	send(t, bob, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, RoomID: r.ID})
	readUntil(t, bob, domain.MsgTypeRoomSnapshot)

	send(t, alice, domain.ChatMessageWS{Type: domain.MsgTypeChatMessage, Content: "is quicksort stable?"})
	got := readUntil(t, bob, domain.MsgTypeChatMessage)
	assert.Equal(t, "is quicksort stable?", got["content"])
	assert.Equal(t, "alice", got["sender_id"])
	assert.NotEmpty(t, got["message_id"])

	status, env := s.do(t, http.MethodGet, "/api/v1/rooms/"+r.ID+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var history struct {
		Messages []domain.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &history))
	require.Len(t, history.Messages, 1)
	assert.Equal(t, "is quicksort stable?", history.Messages[0].Body)
}

func TestWebSocket_ReflexRejectionStaysPrivate(t *testing.T) {
	s := newTestServer(t)
	r := s.createRoom(t, "Physics")

	alice := s.dial(t, "alice")
	send(t, alice, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, RoomID: r.ID})
	readUntil(t, alice, domain.MsgTypeRoomSnapshot)

	send(t, alice, domain.ChatMessageWS{Type: domain.MsgTypeChatMessage, Content: "join www.example.com now"})
	got := readUntil(t, alice, domain.MsgTypeModerationRejected)
	assert.EqualValues(t, 1, got["tier"])
	assert.NotEmpty(t, got["content"])

	status, env := s.do(t, http.MethodGet, "/api/v1/rooms/"+r.ID+"/messages", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"messages":[]}`, string(env.Data))
}

func TestWebSocket_ProtocolErrors(t *testing.T) {
	s := newTestServer(t)
	conn := s.dial(t, "alice")

	send(t, conn, map[string]string{"type": domain.MsgTypePing})
	readUntil(t, conn, domain.MsgTypePong)

	send(t, conn, map[string]string{"type": "dance"})
	got := readUntil(t, conn, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeBadRequest, got["code"])

	send(t, conn, domain.ChatMessageWS{Type: domain.MsgTypeChatMessage, Content: "hi"})
	got = readUntil(t, conn, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeNotInRoom, got["code"])

	send(t, conn, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, RoomID: uuid.NewString()})
	got = readUntil(t, conn, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeRoomNotFound, got["code"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	got = readUntil(t, conn, domain.MsgTypeError)
	assert.Equal(t, domain.ErrCodeBadRequest, got["code"])
}

func TestWebSocket_RequiresIdentity(t *testing.T) {
	s := newTestServer(t)
	url := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHTTP_CloseRoomNotifiesMembers(t *testing.T) {
	s := newTestServer(t)
	r := s.createRoom(t, "Chemistry")

	alice := s.dial(t, "alice")
	send(t, alice, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, RoomID: r.ID})
	readUntil(t, alice, domain.MsgTypeRoomSnapshot)

	status, _ := s.do(t, http.MethodDelete, "/api/v1/rooms/"+r.ID, "owner", nil)
	require.Equal(t, http.StatusOK, status)
	got := readUntil(t, alice, domain.MsgTypeRoomClosed)
	assert.Equal(t, r.ID, got["room_id"])

	status, env := s.do(t, http.MethodGet, "/api/v1/rooms/"+r.ID, "alice", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.False(t, env.Success)

	status, env = s.do(t, http.MethodGet, "/api/v1/rooms?include_inactive=true", "alice", nil)
	require.Equal(t, http.StatusOK, status)
	var list domain.ListRoomsResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list.Rooms, 1)
	assert.False(t, list.Rooms[0].Active)
}

func TestHTTP_RoutesAndErrors(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodPost, "/api/v1/rooms", "", domain.CreateRoomRequest{Name: "x"})
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.False(t, env.Success)

	status, _ = s.do(t, http.MethodPost, "/api/v1/rooms", "owner", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, status)

	r := s.createRoom(t, "Biology")

	for _, path := range []string{"/api/v1/rooms", "/api/v1/rooms/" + r.ID, "/api/v1/rooms/" + r.ID + "/messages"} {
		status, _ = s.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, status, path)
	}

	status, env = s.do(t, http.MethodGet, "/api/v1/rooms/"+r.ID, "owner", nil)
	require.Equal(t, http.StatusOK, status)
	var snap domain.RoomSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	assert.Equal(t, "Biology", snap.Name)

	status, _ = s.do(t, http.MethodGet, "/api/v1/rooms/"+r.ID+"/messages?limit=abc", "owner", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	status, env = s.do(t, http.MethodGet, "/api/v1/rooms/"+uuid.NewString()+"/messages", "owner", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, env = s.do(t, http.MethodPost, "/api/v1/rooms/"+r.ID+"/moderation", "owner", nil)
	assert.Equal(t, http.StatusForbidden, status, "only participants may ask for moderation")
	require.NotNil(t, env.Error)

	alice := s.dial(t, "alice")
	send(t, alice, domain.JoinRoomMessage{Type: domain.MsgTypeJoinRoom, RoomID: r.ID})
	readUntil(t, alice, domain.MsgTypeRoomSnapshot)

	// no scheduler is wired in this server
	status, env = s.do(t, http.MethodPost, "/api/v1/rooms/"+r.ID+"/moderation", "alice", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	require.NotNil(t, env.Error)

	status, env = s.do(t, http.MethodGet, "/api/v1/rooms", "owner", nil)
	require.Equal(t, http.StatusOK, status)
	var list domain.ListRoomsResponse
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Equal(t, 1, list.Total)
	assert.Equal(t, 1, list.TotalPages)
}

func TestHTTP_TokenRequiredWhenSecretSet(t *testing.T) {
	verifier, err := jwt.NewVerifier("test-secret", "studyroom")
	require.NoError(t, err)
	s := newTestServerWithAuth(t, middleware.NewAuthMiddleware(verifier).RequireAuth())

	token, err := verifier.Issue("owner", "Owner", time.Minute)
	require.NoError(t, err)
	bearer := http.Header{"Authorization": []string{"Bearer " + token}}

	status, env := s.request(t, http.MethodPost, "/api/v1/rooms", bearer, domain.CreateRoomRequest{Name: "Statistics"})
	require.Equal(t, http.StatusCreated, status)
	var r domain.Room
	require.NoError(t, json.Unmarshal(env.Data, &r))

	messages := "/api/v1/rooms/" + r.ID + "/messages"
	status, env = s.request(t, http.MethodGet, messages, http.Header{}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	require.NotNil(t, env.Error)
	assert.Equal(t, "UNAUTHORIZED", env.Error.Code)

	status, _ = s.do(t, http.MethodGet, messages, "owner", nil)
	assert.Equal(t, http.StatusUnauthorized, status, "the dev identity header is ignored")

	status, _ = s.request(t, http.MethodGet, messages, bearer, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	resp, err := http.Get(s.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
