package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormRepository implements Backend on top of GORM.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository wraps an open GORM handle.
func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// OpenSQLite opens (or creates) the SQLite database at path and migrates it.
func OpenSQLite(path string, debug bool) (*GormRepository, error) {
	logLevel := logger.Silent
	if debug {
		logLevel = logger.Info
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:  logger.Default.LogMode(logLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite serialises writers anyway, and ":memory:" is per connection.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	if err := AutoMigrate(db); err != nil {
		return nil, err
	}
	return NewGormRepository(db), nil
}

// AutoMigrate creates or updates the chat tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&domain.User{}, &domain.Room{}, &domain.Message{}); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Driver returns the backend name.
func (r *GormRepository) Driver() string {
	return "sqlite"
}

// CreateMessage inserts a message.
func (r *GormRepository) CreateMessage(ctx context.Context, msg *domain.Message) error {
	// Timestamps are compared as text by SQLite; keep them all in UTC.
	msg.CreatedAt = msg.CreatedAt.UTC()
	if msg.ExpiresAt != nil {
		exp := msg.ExpiresAt.UTC()
		msg.ExpiresAt = &exp
	}
	if err := r.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("failed to create message: %w", err)
	}
	return nil
}

// ListMessages returns up to limit messages of a room, newest first.
func (r *GormRepository) ListMessages(ctx context.Context, roomID string, limit, offset int) ([]domain.Message, error) {
	var messages []domain.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

// DeleteExpired removes every ephemeral message expiring at or before now.
func (r *GormRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("is_ephemeral = ? AND expires_at IS NOT NULL AND expires_at <= ?", true, now.UTC()).
		Delete(&domain.Message{})
	if err := result.Error; err != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}
	return result.RowsAffected, nil
}

// GetUser retrieves a user by ID.
func (r *GormRepository) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var user domain.User
	if err := r.db.WithContext(ctx).First(&user, "id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &user, nil
}

// ListAccountMembers returns every user of an account.
func (r *GormRepository) ListAccountMembers(ctx context.Context, accountID string) ([]domain.User, error) {
	var users []domain.User
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at ASC").
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list account members: %w", err)
	}
	return users, nil
}

// SetPresence updates the online flag, and last_seen when given.
func (r *GormRepository) SetPresence(ctx context.Context, userID string, online bool, lastSeen *time.Time) error {
	updates := map[string]any{"is_online": online}
	if lastSeen != nil {
		updates["last_seen"] = lastSeen.UTC()
	}

	result := r.db.WithContext(ctx).Model(&domain.User{}).Where("id = ?", userID).Updates(updates)
	if err := result.Error; err != nil {
		return fmt.Errorf("failed to update presence: %w", err)
	}
	if result.RowsAffected == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// MarkAllOffline flips every online user to offline.
func (r *GormRepository) MarkAllOffline(ctx context.Context, now time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("is_online = ?", true).
		Updates(map[string]any{"is_online": false, "last_seen": now.UTC()})
	if err := result.Error; err != nil {
		return 0, fmt.Errorf("failed to reset presence: %w", err)
	}
	return result.RowsAffected, nil
}

// ResolveRoom returns the chat room of an account.
func (r *GormRepository) ResolveRoom(ctx context.Context, accountID string) (*domain.Room, error) {
	var room domain.Room
	if err := r.db.WithContext(ctx).First(&room, "account_id = ?", accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrRoomNotFound
		}
		return nil, fmt.Errorf("failed to find chat room: %w", err)
	}
	return &room, nil
}

// CreateUser inserts a user.
func (r *GormRepository) CreateUser(ctx context.Context, user *domain.User) error {
	user.CreatedAt = user.CreatedAt.UTC()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// CreateRoom inserts a chat room.
func (r *GormRepository) CreateRoom(ctx context.Context, room *domain.Room) error {
	room.CreatedAt = room.CreatedAt.UTC()
	if err := r.db.WithContext(ctx).Create(room).Error; err != nil {
		return fmt.Errorf("failed to create chat room: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection.
func (r *GormRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get sql.DB: %w", err)
	}
	return sqlDB.Close()
}
