package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/types"
	"go.uber.org/zap"
)

type SignupRequest struct {
	Username  string `json:"username"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
	Password  string `json:"password"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Message  string `json:"message"`
	Username string `json:"username"`
}

func (s *ChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", zap.Error(err))
	}
}

func (s *ChatApp) writeError(w http.ResponseWriter, errResp *ApiError) {
	if errResp.Err != nil && errResp.StatusCode >= http.StatusInternalServerError {
		s.log.Error("request failed", zap.Error(errResp))
	}
	s.writeJson(w, errResp.StatusCode, errResp)
}

func (s *ChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(r.Context()); err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *ChatApp) createAccount(w http.ResponseWriter, r *http.Request) {
	var req SignupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	pwdHash, err := hashPassword(req.Password)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	newUser, err := s.db.CreateAccount(r.Context(), database.CreateAccountParams{
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		PasswordHash: pwdHash,
	})
	if err != nil {
		if errors.Is(err, database.ErrDuplicateUsername) {
			s.writeError(w, NewConflictError(err))
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.log.Info("account created", zap.String("username", newUser.Username))
	s.writeJson(w, http.StatusCreated, toUser(newUser))
}

func (s *ChatApp) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if req.Username == "" || req.Password == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUser, err := s.db.GetAccountByUsername(r.Context(), req.Username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewUnauthorizedError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	if !verifyPassword(dbUser.PasswordHash, req.Password) {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	token, err := s.createJwtForSession(dbUser.Username, defaultExp)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	http.SetCookie(w, createJwtCookie(token, defaultExp))
	s.writeJson(w, http.StatusOK, LoginResponse{
		Message:  "login successful",
		Username: dbUser.Username,
	})
}

func (s *ChatApp) logout(w http.ResponseWriter, _ *http.Request) {
	// overwrite the cookie with an expired one
	http.SetCookie(w, createJwtCookie("", 0))
	w.WriteHeader(http.StatusNoContent)
}

func (s *ChatApp) session(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, toUser(user))
}

// parseLimit reads the optional limit query parameter.
func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return database.MaxHistoryLimit, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil {
		return 0, err
	}
	if limit < 1 || limit > database.MaxHistoryLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d", database.MaxHistoryLimit)
	}

	return limit, nil
}

func (s *ChatApp) roomHistory(w http.ResponseWriter, r *http.Request) {
	room := r.PathValue("room")
	limit, err := parseLimit(r)
	if room == "" || err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	msgs, err := s.cs.RoomHistory(r.Context(), room, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *ChatApp) directHistory(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	userA, userB := r.PathValue("userA"), r.PathValue("userB")
	limit, err := parseLimit(r)
	if userA == "" || userB == "" || err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	if username != userA && username != userB {
		s.writeError(w, NewForbiddenError())
		return
	}

	msgs, err := s.cs.DirectHistory(r.Context(), userA, userB, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, msgs)
}

func (s *ChatApp) onlineUsers(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, s.cs.OnlineUsers())
}

func (s *ChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	username, ok := Username(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	user, err := s.db.GetAccountByUsername(r.Context(), username)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			s.writeError(w, NewNotFoundError())
			return
		}
		s.writeError(w, NewInternalServerError(err))
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade connection", zap.Error(err))
		return
	}

	client := server.NewClient(toUser(user), conn, s.cs, s.log.Named("client"))
	if err := s.cs.OnConnect(client); err != nil {
		s.log.Info("refusing connection", zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	go client.Write()
	go client.Read()
}

func toUser(u database.User) types.User {
	return types.User{
		Username:  u.Username,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		CreatedAt: u.CreatedAt,
	}
}
