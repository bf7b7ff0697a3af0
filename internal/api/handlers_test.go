package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/studynexus/chat-server/internal/auth"
	"github.com/studynexus/chat-server/internal/config"
	"github.com/studynexus/chat-server/internal/database"
	"github.com/studynexus/chat-server/internal/server"
	"github.com/studynexus/chat-server/internal/stats"
	"github.com/studynexus/chat-server/internal/testutil"
	"github.com/studynexus/chat-server/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testSigningKey = "test-signing-key"

func newTestApp(t *testing.T, db database.ChatRepository) (*ChatApp, *auth.TokenResolver) {
	t.Helper()

	su := &stats.MockStatsUpdater{}
	su.On("RegisterMetric", mock.Anything).Times(5)
	su.On("Incr", mock.Anything).Maybe()
	su.On("Decr", mock.Anything).Maybe()

	logger := testutil.TestLogger(t)
	cs, err := server.NewChatServer(logger, db, su)
	require.NoError(t, err, "expected no error creating ChatServer")

	tokens := auth.NewTokenResolver([]byte(testSigningKey))

	cfg := &config.Config{
		ServerAddr: "localhost:8000",
		SigningKey: []byte(testSigningKey),
	}

	return NewChatApp(http.NewServeMux(), logger, cs, db, tokens, cfg), tokens
}

func authedRequest(t *testing.T, tokens *auth.TokenResolver, userId, method, target string) *http.Request {
	t.Helper()

	token, err := tokens.CreateToken(userId, time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(method, target, nil)
	req.AddCookie(&http.Cookie{Name: tokenCookieKey, Value: token})
	return req
}

func Test_register(t *testing.T) {
	t.Run("creates the account", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("CreateUser", mock.MatchedBy(func(p database.CreateUserParams) bool {
			return p.Username == "alice" && p.EmailAddress == "alice@example.com" && p.PasswordHash != ""
		})).Return(database.User{
			Id:           "u1",
			Username:     "alice",
			EmailAddress: "alice@example.com",
		}, nil).Once()

		app, _ := newTestApp(t, db)

		body := bytes.NewBufferString(`{"email":"alice@example.com","username":"alice","password":"s3cret"}`)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/register", body)

		app.register(rr, req)

		assert.Equal(t, http.StatusCreated, rr.Code)

		var u types.User
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
		assert.Equal(t, "u1", u.Id)
		assert.Equal(t, "alice", u.Username)
	})

	t.Run("rejects incomplete requests", func(t *testing.T) {
		app, _ := newTestApp(t, &database.MockChatRepository{})

		for _, body := range []string{
			`not json`,
			`{"email":"","username":"alice","password":"s3cret"}`,
			`{"email":"alice@example.com","username":"","password":"s3cret"}`,
			`{"email":"alice@example.com","username":"alice","password":""}`,
		} {
			rr := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/api/auth/register", bytes.NewBufferString(body))

			app.register(rr, req)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		}
	})
}

func Test_login(t *testing.T) {
	pwdHash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.DefaultCost)
	require.NoError(t, err)

	dbUser := database.User{
		Id:           "u1",
		Username:     "alice",
		EmailAddress: "alice@example.com",
		PasswordHash: string(pwdHash),
	}

	t.Run("successful login sets the token cookie", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetUserByEmail", "alice@example.com").Return(dbUser, nil).Once()

		app, tokens := newTestApp(t, db)

		body := bytes.NewBufferString(`{"email":"alice@example.com","password":"s3cret"}`)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)

		app.login(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var cookie *http.Cookie
		for _, c := range rr.Result().Cookies() {
			if c.Name == tokenCookieKey {
				cookie = c
			}
		}
		require.NotNil(t, cookie, "expected the token cookie to be set")

		userId, err := tokens.UserIdFromToken(cookie.Value)
		assert.NoError(t, err)
		assert.Equal(t, "u1", userId, "expected the cookie token to resolve to the user")
	})

	t.Run("wrong password", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetUserByEmail", "alice@example.com").Return(dbUser, nil).Once()

		app, _ := newTestApp(t, db)

		body := bytes.NewBufferString(`{"email":"alice@example.com","password":"wrong"}`)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)

		app.login(rr, req)
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("unknown user", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetUserByEmail", "ghost@example.com").Return(database.User{}, sql.ErrNoRows).Once()

		app, _ := newTestApp(t, db)

		body := bytes.NewBufferString(`{"email":"ghost@example.com","password":"s3cret"}`)
		rr := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", body)

		app.login(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func Test_token(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	db.On("UserExists", "u1").Return(true).Once()

	app, tokens := newTestApp(t, db)

	rr := httptest.NewRecorder()
	req := authedRequest(t, tokens, "u1", http.MethodGet, "/api/auth/token")

	app.authMiddleware(app.token)(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))

	userId, err := tokens.UserIdFromToken(resp["token"])
	assert.NoError(t, err)
	assert.Equal(t, "u1", userId, "expected the minted token to resolve to the user")
}

func Test_directRoom(t *testing.T) {
	t.Run("both users exist", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("UserExists", "u1").Return(true).Twice()
		db.On("UserExists", "u2").Return(true).Twice()

		app, tokens := newTestApp(t, db)

		var roomIds []string
		for _, target := range []string{
			"/api/chat/direct-room?user1=u1&user2=u2",
			"/api/chat/direct-room?user1=u2&user2=u1",
		} {
			rr := httptest.NewRecorder()
			req := authedRequest(t, tokens, "u1", http.MethodGet, target)

			app.authMiddleware(app.directRoom)(rr, req)
			assert.Equal(t, http.StatusOK, rr.Code)

			var resp map[string]string
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			roomIds = append(roomIds, resp["roomId"])
		}

		assert.Equal(t, "u1_u2", roomIds[0])
		assert.Equal(t, roomIds[0], roomIds[1], "expected the same id regardless of parameter order")
	})

	t.Run("missing user", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("UserExists", "u1").Return(true).Once()
		db.On("UserExists", "ghost").Return(false).Once()

		app, tokens := newTestApp(t, db)

		rr := httptest.NewRecorder()
		req := authedRequest(t, tokens, "u1", http.MethodGet, "/api/chat/direct-room?user1=u1&user2=ghost")

		app.authMiddleware(app.directRoom)(rr, req)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("missing parameters", func(t *testing.T) {
		app, tokens := newTestApp(t, &database.MockChatRepository{})

		rr := httptest.NewRecorder()
		req := authedRequest(t, tokens, "u1", http.MethodGet, "/api/chat/direct-room?user1=u1")

		app.authMiddleware(app.directRoom)(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func Test_history(t *testing.T) {
	t.Run("participant gets ordered history", func(t *testing.T) {
		first := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)
		db.On("GetRoomHistory", "u1_u2").Return([]database.Message{
			{Id: "m1", RoomId: "u1_u2", SenderId: "u1", Content: "hi", CreatedAt: first},
			{Id: "m2", RoomId: "u1_u2", SenderId: "u2", Content: "hey", CreatedAt: first.Add(time.Second)},
		}, nil).Once()

		app, tokens := newTestApp(t, db)

		rr := httptest.NewRecorder()
		req := authedRequest(t, tokens, "u1", http.MethodGet, "/api/chat/history?room_id=u1_u2")

		app.authMiddleware(app.history)(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)

		var envelopes []server.Envelope
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&envelopes))
		require.Len(t, envelopes, 2)
		assert.Equal(t, server.TypeMessage, envelopes[0].Type)
		assert.Equal(t, "u1", envelopes[0].SenderId)
		assert.Equal(t, first.UnixMilli(), envelopes[0].Timestamp)
		assert.Less(t, envelopes[0].Timestamp, envelopes[1].Timestamp, "expected ascending order")
	})

	t.Run("non-participant is forbidden", func(t *testing.T) {
		db := &database.MockChatRepository{}
		defer db.AssertExpectations(t)

		app, tokens := newTestApp(t, db)

		rr := httptest.NewRecorder()
		req := authedRequest(t, tokens, "carol", http.MethodGet, "/api/chat/history?room_id=u1_u2")

		app.authMiddleware(app.history)(rr, req)
		assert.Equal(t, http.StatusForbidden, rr.Code)
		db.AssertNotCalled(t, "GetRoomHistory", mock.Anything)
	})

	t.Run("missing room id", func(t *testing.T) {
		app, tokens := newTestApp(t, &database.MockChatRepository{})

		rr := httptest.NewRecorder()
		req := authedRequest(t, tokens, "u1", http.MethodGet, "/api/chat/history")

		app.authMiddleware(app.history)(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func dialWs(t *testing.T, srv *httptest.Server, token string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat"
	if token != "" {
		url += "?token=" + token
	}

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err, "expected websocket dial to succeed")
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) server.Envelope {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env server.Envelope
	require.NoError(t, conn.ReadJSON(&env), "expected an envelope before the read deadline")
	return env
}

func TestServeWs_EndToEnd(t *testing.T) {
	roomId := server.DeriveDirectRoomId("u1", "u2")
	saved := database.Message{
		Id:        "m1",
		RoomId:    roomId,
		SenderId:  "u1",
		Content:   "hi",
		CreatedAt: time.Now().UTC().Round(time.Millisecond),
	}

	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)
	db.On("SaveMessage", database.Message{
		RoomId:   roomId,
		SenderId: "u1",
		Content:  "hi",
	}).Return(saved, nil).Once()

	app, tokens := newTestApp(t, db)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	t1, err := tokens.CreateToken("u1", time.Hour)
	require.NoError(t, err)
	t2, err := tokens.CreateToken("u2", time.Hour)
	require.NoError(t, err)

	conn1 := dialWs(t, srv, t1)
	conn2 := dialWs(t, srv, t2)

	// both users join the room and get their private ack
	for _, conn := range []*websocket.Conn{conn1, conn2} {
		require.NoError(t, conn.WriteJSON(server.Envelope{Type: server.TypeJoinRoom, RoomId: roomId}))
		ack := readEnvelope(t, conn)
		assert.Equal(t, server.TypeRoomJoined, ack.Type)
		assert.Equal(t, roomId, ack.RoomId)
	}

	// the client-supplied sender id is ignored in favor of the
	// authenticated identity
	require.NoError(t, conn1.WriteJSON(server.Envelope{
		Type:     server.TypeMessage,
		RoomId:   roomId,
		SenderId: "mallory",
		Content:  "hi",
	}))

	for _, conn := range []*websocket.Conn{conn1, conn2} {
		env := readEnvelope(t, conn)
		assert.Equal(t, server.TypeMessage, env.Type)
		assert.Equal(t, roomId, env.RoomId)
		assert.Equal(t, "u1", env.SenderId)
		assert.Equal(t, "hi", env.Content)
		assert.Equal(t, saved.CreatedAt.UnixMilli(), env.Timestamp)
	}
}

func TestServeWs_MalformedEnvelope(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	app, tokens := newTestApp(t, db)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	token, err := tokens.CreateToken("u1", time.Hour)
	require.NoError(t, err)

	conn := dialWs(t, srv, token)

	// a malformed payload is dropped without terminating the connection
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	roomId := server.DeriveDirectRoomId("u1", "u2")
	require.NoError(t, conn.WriteJSON(server.Envelope{Type: server.TypeJoinRoom, RoomId: roomId}))

	ack := readEnvelope(t, conn)
	assert.Equal(t, server.TypeRoomJoined, ack.Type, "expected the connection to survive the malformed payload")
}

func TestServeWs_RejectsInvalidToken(t *testing.T) {
	db := &database.MockChatRepository{}
	defer db.AssertExpectations(t)

	app, _ := newTestApp(t, db)
	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	tcases := []struct {
		name  string
		token string
	}{
		{name: "missing token", token: ""},
		{name: "garbage token", token: "garbage"},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			conn := dialWs(t, srv, tc.token)

			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			_, _, err := conn.ReadMessage()
			assert.Error(t, err, "expected the server to close an unauthenticated connection")
		})
	}
}
