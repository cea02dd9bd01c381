package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const uniqueViolation = "23505"

type PgChatRepository struct {
	conn *sql.DB
}

var _ ChatRepository = (*PgChatRepository)(nil)

func NewPgChatRepository(dsn string) (*PgChatRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	return &PgChatRepository{conn: db}, nil
}

// Migrate applies every pending schema migration.
func (db *PgChatRepository) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migration source: %w", err)
	}

	driver, err := postgres.WithInstance(db.conn, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}

	return nil
}

func (db *PgChatRepository) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *PgChatRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"INSERT INTO accounts (username, firstname, lastname, password_hash, created_at) "+
			"VALUES ($1, $2, $3, $4, $5) RETURNING username, firstname, lastname, created_at",
		params.Username,
		params.FirstName,
		params.LastName,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var u User
	err := row.Scan(
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.CreatedAt,
	)
	if err != nil {
		return User{}, translatePgError(err)
	}

	return u, nil
}

func (db *PgChatRepository) GetAccountByUsername(ctx context.Context, username string) (User, error) {
	row := db.conn.QueryRowContext(ctx,
		"SELECT username, firstname, lastname, password_hash, created_at FROM accounts "+
			"WHERE username = $1 LIMIT 1",
		username,
	)

	var u User
	err := row.Scan(
		&u.Username,
		&u.FirstName,
		&u.LastName,
		&u.PasswordHash,
		&u.CreatedAt,
	)
	if err != nil {
		return User{}, translatePgError(err)
	}

	return u, nil
}

func (db *PgChatRepository) CreateRoomMessage(ctx context.Context, msg RoomMessage) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO group_messages (id, from_user, room, message, date_sent) "+
			"VALUES ($1, $2, $3, $4, $5)",
		msg.Id,
		msg.FromUser,
		msg.Room,
		msg.Message,
		msg.DateSent,
	)

	return err
}

func (db *PgChatRepository) CreateDirectMessage(ctx context.Context, msg DirectMessage) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO private_messages (id, from_user, to_user, message, date_sent) "+
			"VALUES ($1, $2, $3, $4, $5)",
		msg.Id,
		msg.FromUser,
		msg.ToUser,
		msg.Message,
		msg.DateSent,
	)

	return err
}

// GetRoomMessages returns the first limit messages of a room, oldest first.
func (db *PgChatRepository) GetRoomMessages(ctx context.Context, room string, limit int) ([]RoomMessage, error) {
	query := `
		SELECT id, from_user, room, message, date_sent
		FROM group_messages
		WHERE room = $1
		ORDER BY date_sent ASC, seq ASC
		LIMIT $2;
`

	rows, err := db.conn.QueryContext(ctx, query, room, HistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query room messages: %w", err)
	}
	defer rows.Close()

	messages := make([]RoomMessage, 0)
	for rows.Next() {
		var msg RoomMessage
		if err := rows.Scan(&msg.Id, &msg.FromUser, &msg.Room, &msg.Message, &msg.DateSent); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

// GetDirectMessages returns the first limit messages exchanged between two
// users in either direction, oldest first.
func (db *PgChatRepository) GetDirectMessages(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	query := `
		SELECT id, from_user, to_user, message, date_sent
		FROM private_messages
		WHERE (from_user = $1 AND to_user = $2)
		   OR (from_user = $2 AND to_user = $1)
		ORDER BY date_sent ASC, seq ASC
		LIMIT $3;
`

	rows, err := db.conn.QueryContext(ctx, query, userA, userB, HistoryLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query direct messages: %w", err)
	}
	defer rows.Close()

	messages := make([]DirectMessage, 0)
	for rows.Next() {
		var msg DirectMessage
		if err := rows.Scan(&msg.Id, &msg.FromUser, &msg.ToUser, &msg.Message, &msg.DateSent); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		messages = append(messages, msg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return messages, nil
}

func translatePgError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateUsername, pqErr.Constraint)
	}

	return err
}
