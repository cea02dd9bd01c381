package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// findCookie returns the named cookie set on the response, or nil.
func findCookie(rr *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, cookie := range rr.Result().Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func sessionCookie(t *testing.T, app *ChatApp, username string) *http.Cookie {
	token, err := app.createJwtForSession(username, time.Hour)
	require.NoError(t, err)
	return createJwtCookie(token, time.Hour)
}

func jsonBody(t *testing.T, v any) *bytes.Buffer {
	buf := &bytes.Buffer{}
	if s, ok := v.(string); ok {
		buf.WriteString(s)
		return buf
	}
	require.NoError(t, json.NewEncoder(buf).Encode(v))
	return buf
}

func serve(app *ChatApp, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	app.srv.Handler.ServeHTTP(rr, req)
	return rr
}

func Test_healthCheck(t *testing.T) {
	tcases := []struct {
		name    string
		mockErr error
	}{
		{
			name: "successful health check",
		},
		{
			name:    "failed health check",
			mockErr: errors.New("db error"),
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			db.On("Ping", mock.Anything).Return(tc.mockErr).Once()
			defer db.AssertExpectations(t)

			app := newTestApp(t, db, testutil.TestLogger(t))
			rr := serve(app, httptest.NewRequest(http.MethodGet, "/healthz", nil))

			if tc.mockErr != nil {
				assert.Equal(t, http.StatusInternalServerError, rr.Code)
			} else {
				assert.Equal(t, http.StatusOK, rr.Code)
				assert.Equal(t, "OK", rr.Body.String())
			}
		})
	}
}

func TestCreateAccountHandler(t *testing.T) {
	tcases := []struct {
		name         string
		body         any
		mockErr      error
		callsDb      bool
		expectedCode int
	}{
		{
			name:         "successfully creates a new account",
			body:         SignupRequest{Username: "alice", FirstName: "Alice", LastName: "Liddell", Password: "secret"},
			callsDb:      true,
			expectedCode: http.StatusCreated,
		},
		{
			name:         "fails with invalid json body",
			body:         "invalid json",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "fails with missing username",
			body:         SignupRequest{Password: "secret"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "fails with missing password",
			body:         SignupRequest{Username: "alice"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "fails with duplicate username",
			body:         SignupRequest{Username: "alice", Password: "secret"},
			mockErr:      fmt.Errorf("create account: %w", database.ErrDuplicateUsername),
			callsDb:      true,
			expectedCode: http.StatusConflict,
		},
		{
			name:         "fails with database error",
			body:         SignupRequest{Username: "alice", Password: "secret"},
			mockErr:      errors.New("connection reset"),
			callsDb:      true,
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			defer db.AssertExpectations(t)

			if tc.callsDb {
				db.On("CreateAccount", mock.Anything, mock.MatchedBy(func(p database.CreateAccountParams) bool {
					return p.Username == "alice" && verifyPassword(p.PasswordHash, "secret")
				})).Return(database.User{
					Username:  "alice",
					FirstName: "Alice",
					LastName:  "Liddell",
					CreatedAt: time.Now().UTC(),
				}, tc.mockErr).Once()
			}

			app := newTestApp(t, db, testutil.TestLogger(t))
			rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/signup", jsonBody(t, tc.body)))

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode == http.StatusCreated {
				var u types.User
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
				assert.Equal(t, "alice", u.Username)
				assert.Equal(t, "Alice", u.FirstName)
				assert.NotContains(t, rr.Body.String(), "password")
			} else {
				var apiErr ApiError
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&apiErr))
				assert.Equal(t, tc.expectedCode, apiErr.StatusCode)
			}
		})
	}
}

func TestLoginHandler(t *testing.T) {
	store := testutil.NewMemoryStore()
	hash, err := hashPassword("secret")
	require.NoError(t, err)
	_, err = store.CreateAccount(context.Background(), database.CreateAccountParams{
		Username:     "alice",
		PasswordHash: hash,
	})
	require.NoError(t, err)

	tcases := []struct {
		name         string
		body         any
		expectedCode int
	}{
		{
			name:         "successful login",
			body:         LoginRequest{Username: "alice", Password: "secret"},
			expectedCode: http.StatusOK,
		},
		{
			name:         "wrong password",
			body:         LoginRequest{Username: "alice", Password: "wrong"},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "unknown user",
			body:         LoginRequest{Username: "mallory", Password: "secret"},
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "missing password",
			body:         LoginRequest{Username: "alice"},
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "invalid json",
			body:         "{",
			expectedCode: http.StatusBadRequest,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, store, testutil.TestLogger(t))
			rr := serve(app, httptest.NewRequest(http.MethodPost, "/api/login", jsonBody(t, tc.body)))

			assert.Equal(t, tc.expectedCode, rr.Code)
			cookie := findCookie(rr, tokenCookieKey)
			if tc.expectedCode != http.StatusOK {
				assert.Nil(t, cookie, "expected no session cookie")
				return
			}

			var resp LoginResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.Equal(t, "alice", resp.Username)
			assert.NotEmpty(t, resp.Message)

			require.NotNil(t, cookie, "expected session cookie")
			username, err := app.extractUsernameFromToken(cookie.Value)
			assert.NoError(t, err)
			assert.Equal(t, "alice", username)
		})
	}
}

func TestLogoutHandler(t *testing.T) {
	app := newTestApp(t, &database.MockChatRepository{}, testutil.TestLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
	req.AddCookie(sessionCookie(t, app, "alice"))
	rr := serve(app, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	cookie := findCookie(rr, tokenCookieKey)
	require.NotNil(t, cookie)
	assert.Empty(t, cookie.Value)
	assert.True(t, cookie.MaxAge < 0, "expected cookie to be expired")
}

func TestSessionHandler(t *testing.T) {
	tcases := []struct {
		name         string
		mockUser     database.User
		mockErr      error
		expectedCode int
	}{
		{
			name:         "current user",
			mockUser:     database.User{Username: "alice", FirstName: "Alice"},
			expectedCode: http.StatusOK,
		},
		{
			name:         "account removed",
			mockErr:      database.ErrNotFound,
			expectedCode: http.StatusNotFound,
		},
		{
			name:         "database error",
			mockErr:      errors.New("db down"),
			expectedCode: http.StatusInternalServerError,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockChatRepository{}
			db.On("GetAccountByUsername", mock.Anything, "alice").Return(tc.mockUser, tc.mockErr).Once()
			defer db.AssertExpectations(t)

			app := newTestApp(t, db, testutil.TestLogger(t))
			req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
			req.AddCookie(sessionCookie(t, app, "alice"))
			rr := serve(app, req)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedCode == http.StatusOK {
				var u types.User
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&u))
				assert.Equal(t, "alice", u.Username)
				assert.Equal(t, "Alice", u.FirstName)
			}
		})
	}
}

func TestHistoryHandlers(t *testing.T) {
	store := testutil.NewMemoryStore()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, store.CreateRoomMessage(context.Background(), database.RoomMessage{
			Id:       fmt.Sprintf("r%d", i),
			FromUser: "bob",
			Room:     "general",
			Message:  fmt.Sprintf("msg %d", i),
			DateSent: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	require.NoError(t, store.CreateDirectMessage(context.Background(), database.DirectMessage{
		Id:       "d1",
		FromUser: "alice",
		ToUser:   "carol",
		Message:  "psst",
		DateSent: base,
	}))

	tcases := []struct {
		name         string
		path         string
		noCookie     bool
		expectedCode int
		expectedIds  []string
	}{
		{
			name:         "room history",
			path:         "/api/messages/general",
			expectedCode: http.StatusOK,
			expectedIds:  []string{"r0", "r1", "r2"},
		},
		{
			name:         "room history with limit",
			path:         "/api/messages/general?limit=2",
			expectedCode: http.StatusOK,
			expectedIds:  []string{"r0", "r1"},
		},
		{
			name:         "empty room",
			path:         "/api/messages/random",
			expectedCode: http.StatusOK,
			expectedIds:  []string{},
		},
		{
			name:         "limit too large",
			path:         "/api/messages/general?limit=201",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "limit not a number",
			path:         "/api/messages/general?limit=ten",
			expectedCode: http.StatusBadRequest,
		},
		{
			name:         "unauthenticated",
			path:         "/api/messages/general",
			noCookie:     true,
			expectedCode: http.StatusUnauthorized,
		},
		{
			name:         "direct history as participant",
			path:         "/api/private/carol/alice",
			expectedCode: http.StatusOK,
			expectedIds:  []string{"d1"},
		},
		{
			name:         "direct history as outsider",
			path:         "/api/private/carol/bob",
			expectedCode: http.StatusForbidden,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			app := newTestApp(t, store, testutil.TestLogger(t))
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if !tc.noCookie {
				req.AddCookie(sessionCookie(t, app, "alice"))
			}
			rr := serve(app, req)

			assert.Equal(t, tc.expectedCode, rr.Code)
			if tc.expectedIds == nil {
				return
			}

			var msgs []struct {
				Id string `json:"id"`
			}
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&msgs))
			ids := []string{}
			for _, m := range msgs {
				ids = append(ids, m.Id)
			}
			assert.Equal(t, tc.expectedIds, ids)
		})
	}
}

func TestOnlineUsersHandler(t *testing.T) {
	app := newTestApp(t, testutil.NewMemoryStore(), testutil.TestLogger(t))

	req := httptest.NewRequest(http.MethodGet, "/api/online", nil)
	req.AddCookie(sessionCookie(t, app, "alice"))
	rr := serve(app, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"count":0,"users":[]}`, rr.Body.String())
}

func TestServeWs(t *testing.T) {
	store := testutil.NewMemoryStore()
	for _, u := range []string{"alice", "carol"} {
		_, err := store.CreateAccount(context.Background(), database.CreateAccountParams{Username: u, PasswordHash: "x"})
		require.NoError(t, err)
	}

	app := newTestApp(t, store, zap.NewNop())
	srv := httptest.NewServer(app.srv.Handler)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	dial := func(username, origin string) (*websocket.Conn, *http.Response, error) {
		header := http.Header{}
		cookie := sessionCookie(t, app, username)
		header.Set("Cookie", cookie.Name+"="+cookie.Value)
		if origin != "" {
			header.Set("Origin", origin)
		}
		return websocket.DefaultDialer.Dial(wsURL, header)
	}

	t.Run("rejects disallowed origin", func(t *testing.T) {
		_, resp, err := dial("alice", "http://evil.example.com")
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		}
	})

	t.Run("rejects unknown account", func(t *testing.T) {
		_, resp, err := dial("mallory", "")
		assert.Error(t, err)
		if assert.NotNil(t, resp) {
			assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		}
	})

	t.Run("delivers direct message", func(t *testing.T) {
		alice, _, err := dial("alice", "http://localhost:3000")
		require.NoError(t, err)
		defer alice.Close()
		carol, _, err := dial("carol", "")
		require.NoError(t, err)
		defer carol.Close()

		require.NoError(t, alice.WriteJSON(map[string]any{"event": "registerUser", "data": "alice"}))
		require.NoError(t, carol.WriteJSON(map[string]any{"event": "registerUser", "data": "carol"}))
		assert.Eventually(t, func() bool {
			return app.cs.OnlineUsers().Count == 2
		}, time.Second, 10*time.Millisecond)

		require.NoError(t, alice.WriteJSON(map[string]any{
			"event": "sendPrivate",
			"data":  map[string]string{"from_user": "alice", "to_user": "carol", "message": "psst"},
		}))

		require.NoError(t, carol.SetReadDeadline(time.Now().Add(2*time.Second)))
		var frame struct {
			Event string              `json:"event"`
			Data  types.DirectMessage `json:"data"`
		}
		require.NoError(t, carol.ReadJSON(&frame))
		assert.Equal(t, "receivePrivate", frame.Event)
		assert.Equal(t, "alice", frame.Data.FromUser)
		assert.Equal(t, "carol", frame.Data.ToUser)
		assert.Equal(t, "psst", frame.Data.Message)

		history, err := store.GetDirectMessages(context.Background(), "alice", "carol", 10)
		assert.NoError(t, err)
		assert.Len(t, history, 1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, app.cs.Shutdown(ctx))

	t.Run("closes connections opened during shutdown", func(t *testing.T) {
		conn, _, err := dial("alice", "")
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, _, err = conn.ReadMessage()
		assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "expected going away close, got %v", err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()
		assert.NoError(t, app.cs.Shutdown(ctx))
	})
}
