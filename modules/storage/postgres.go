package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded goose migrations to db.
func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// PostgresRepository implements Backend with a pgx connection pool.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository wraps an open pool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// OpenPostgres migrates the database at dsn and opens a pool against it.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}
	defer db.Close()

	if err := RunMigrations(ctx, db); err != nil {
		return nil, err
	}

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgresRepository(pool), nil
}

// Driver returns the backend name.
func (r *PostgresRepository) Driver() string {
	return "postgres"
}

const messageColumns = `id, room_id, author_id, content, type, attachments, is_ephemeral, expires_at, is_read, created_at`

// CreateMessage inserts a message.
func (r *PostgresRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_messages (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		msg.ID, msg.RoomID, msg.AuthorID, msg.Content, string(msg.Type),
		nullableJSON(msg.Attachments), msg.IsEphemeral, msg.ExpiresAt, msg.IsRead, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages of a room, newest first.
func (r *PostgresRepository) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]domain.Message, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+messageColumns+` FROM chat_messages
		 WHERE room_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	defer rows.Close()

	messages := make([]domain.Message, 0, limit)
	for rows.Next() {
		var (
			msg         domain.Message
			msgType     string
			attachments []byte
		)
		if err := rows.Scan(
			&msg.ID, &msg.RoomID, &msg.AuthorID, &msg.Content, &msgType,
			&attachments, &msg.IsEphemeral, &msg.ExpiresAt, &msg.IsRead, &msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Type = domain.MessageType(msgType)
		msg.Attachments = attachments
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// DeleteExpired removes every ephemeral message expiring at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM chat_messages WHERE is_ephemeral AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetUser retrieves a user by ID.
func (r *PostgresRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	err := r.pool.QueryRow(ctx,
		`SELECT id, account_id, username, is_online, last_seen, created_at FROM users WHERE id = $1`,
		userID,
	).Scan(&user.ID, &user.AccountID, &user.Username, &user.IsOnline, &user.LastSeen, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// ListAccountMembers returns every user of an account.
func (r *PostgresRepository) ListAccountMembers(ctx context.Context, accountID string) ([]domain.User, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, account_id, username, is_online, last_seen, created_at FROM users
		 WHERE account_id = $1 ORDER BY created_at ASC`,
		accountID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list account members: %w", err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.AccountID, &user.Username, &user.IsOnline, &user.LastSeen, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list account members: %w", err)
	}
	return users, nil
}

// SetPresence updates the online flag, and last_seen when given.
func (r *PostgresRepository) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	query := `UPDATE users SET is_online = $2 WHERE id = $1`
	args := []any{userID, online}
	if lastSeen != nil {
		query = `UPDATE users SET is_online = $2, last_seen = $3 WHERE id = $1`
		args = append(args, *lastSeen)
	}

	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// MarkAllOffline flips every online user to offline.
func (r *PostgresRepository) MarkAllOffline(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE users SET is_online = FALSE, last_seen = $1 WHERE is_online`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to reset presence: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ResolveRoom returns the chat room of an account.
func (r *PostgresRepository) ResolveRoom(ctx context.Context, accountID string) (*domain.Room, error) {
	var room domain.Room
	err := r.pool.QueryRow(ctx,
		`SELECT id, account_id, COALESCE(participant1_id, ''), COALESCE(participant2_id, ''), created_at
		 FROM chat_rooms WHERE account_id = $1`,
		accountID,
	).Scan(&room.ID, &room.AccountID, &room.Participant1ID, &room.Participant2ID, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find chat room: %w", err)
	}
	return &room, nil
}

// CreateUser inserts a user, ignoring an existing row with the same ID.
func (r *PostgresRepository) CreateUser(ctx context.Context, user *domain.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO users (id, account_id, username, is_online, last_seen, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6) ON CONFLICT (id) DO NOTHING`,
		user.ID, user.AccountID, user.Username, user.IsOnline, user.LastSeen, user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// CreateRoom inserts a chat room, ignoring an existing row with the same ID.
func (r *PostgresRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	if room.CreatedAt.IsZero() {
		room.CreatedAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`INSERT INTO chat_rooms (id, account_id, participant1_id, participant2_id, created_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (id) DO NOTHING`,
		room.ID, room.AccountID, room.Participant1ID, room.Participant2ID, room.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create chat room: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Close closes the pool.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// nullableJSON maps empty attachments to SQL NULL.
func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
