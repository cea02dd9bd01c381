package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"go.uber.org/zap"
)

type ChatApp struct {
	log            *zap.Logger
	db             database.ChatRepository
	srv            *http.Server
	cs             *server.ChatServer
	signingKey     []byte
	allowedOrigins []string
}

// NewChatApp registers the HTTP routes on mux and wraps it with CORS and
// panic recovery.
func NewChatApp(mux *http.ServeMux, logger *zap.Logger, cs *server.ChatServer, db database.ChatRepository, cfg *config.Config) *ChatApp {
	s := &ChatApp{
		log:            logger,
		db:             db,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/signup", s.createAccount)
	mux.HandleFunc("POST /api/login", s.login)
	mux.HandleFunc("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.HandleFunc("GET /api/auth/session", s.authMiddleware(s.session))
	mux.HandleFunc("GET /api/messages/{room}", s.authMiddleware(s.roomHistory))
	mux.HandleFunc("GET /api/private/{userA}/{userB}", s.authMiddleware(s.directHistory))
	mux.HandleFunc("GET /api/online", s.authMiddleware(s.onlineUsers))
	mux.HandleFunc("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	return s
}

func (s *ChatApp) Start() error {
	s.log.Info("starting server", zap.String("addr", s.srv.Addr))
	return s.srv.ListenAndServe()
}

func (s *ChatApp) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
