package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/joho/godotenv"
	"github.com/npezzotti/go-chatrelay/internal/api"
	"github.com/npezzotti/go-chatrelay/internal/config"
	"github.com/npezzotti/go-chatrelay/internal/database"
	"github.com/npezzotti/go-chatrelay/internal/server"
	"github.com/npezzotti/go-chatrelay/internal/stats"
	"go.uber.org/zap"
)

const (
	defaultSigningKey = "wT0phFUusHZIrDhL9bUKPUhwaxKhpi/SaI6PtgB+MgU="
	shutdownTimeout   = 10 * time.Second
)

func splitList(value string) []string {
	var out []string
	for _, v := range strings.Split(value, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

var (
	addr           string
	store          string
	dsn            string
	mongoDatabase  string
	signingKey     string
	allowedOrigins string
	debug          bool
)

func main() {
	// a missing .env is fine, the environment and flags still apply
	envErr := godotenv.Load()

	flag.StringVar(&addr, "addr", envOr("CHAT_ADDR", "localhost:3000"), "server address")
	flag.StringVar(&store, "store", envOr("CHAT_STORE", config.StorePostgres), "message store: postgres or mongo")
	flag.StringVar(&dsn, "dsn", envOr("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"), "postgres connection string or mongo URI")
	flag.StringVar(&mongoDatabase, "mongo-db", envOr("MONGO_DATABASE", "chat"), "mongo database name")
	flag.StringVar(&signingKey, "signing-key", envOr("SIGNING_KEY", defaultSigningKey), "base64 encoded signing key")
	flag.StringVar(&allowedOrigins, "allowed-origins", os.Getenv("ALLOWED_ORIGINS"), "comma-separated list of allowed origins for CORS")
	flag.BoolVar(&debug, "debug", false, "enable debug logging")
	flag.Parse()

	logger, err := newLogger(debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if envErr != nil {
		logger.Debug(".env not loaded", zap.Error(envErr))
	}

	cfg, err := config.NewConfig(addr, store, dsn, mongoDatabase, signingKey, splitList(allowedOrigins))
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	db, err := openStore(cfg)
	if err != nil {
		logger.Fatal("open store", zap.String("store", cfg.Store), zap.Error(err))
	}
	logger.Info("store ready", zap.String("store", cfg.Store))

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)
	statsUpdater.Run()

	chatServer, err := server.NewChatServer(logger.Named("chat"), db, statsUpdater)
	if err != nil {
		logger.Fatal("new chat server", zap.Error(err))
	}

	app := api.NewChatApp(mux, logger.Named("http"), chatServer, db, cfg)

	go func() {
		if err := app.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"server": func(ctx context.Context) error {
				if err := app.Shutdown(ctx); err != nil {
					return err
				}
				if err := chatServer.Shutdown(ctx); err != nil {
					return fmt.Errorf("chat server shutdown: %w", err)
				}
				statsUpdater.Stop()
				return db.Close()
			},
		},
	)

	exitCode := <-wait
	logger.Info("shutdown complete", zap.Int("exit_code", exitCode))
	logger.Sync()
	os.Exit(exitCode)
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func openStore(cfg *config.Config) (database.ChatRepository, error) {
	switch cfg.Store {
	case config.StoreMongo:
		repo, err := database.NewMongoChatRepository(cfg.DatabaseDSN, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := repo.EnsureIndexes(ctx); err != nil {
			repo.Close()
			return nil, fmt.Errorf("ensure indexes: %w", err)
		}
		return repo, nil
	default:
		repo, err := database.NewPgChatRepository(cfg.DatabaseDSN)
		if err != nil {
			return nil, err
		}

		if err := repo.Migrate(); err != nil {
			repo.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return repo, nil
	}
}
