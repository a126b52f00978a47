// Package storage persists chat messages and reads the account directory
// through GORM on SQLite or pgx on PostgreSQL.
package storage

import (
	"context"
	"fmt"

	domain "github.com/example/memories-chat/domain/chat"
)

// Backend is a database implementation of every chat persistence port.
type Backend interface {
	domain.MessageRepository
	domain.Directory
	domain.RoomResolver

	// CreateUser and CreateRoom are used by seeding and tests; the account
	// collaborator owns these records in production.
	CreateUser(ctx context.Context, user *domain.User) error
	CreateRoom(ctx context.Context, room *domain.Room) error

	Ping(ctx context.Context) error
	Close() error
	Driver() string
}

// Config selects and configures the database backend.
type Config struct {
	Driver      string // "sqlite" or "postgres"
	SQLitePath  string
	DatabaseURL string
	Debug       bool
}

// Open connects to the configured backend and brings its schema up to date.
func Open(ctx context.Context, cfg Config) (Backend, error) {
	switch cfg.Driver {
	case "", "sqlite":
		return OpenSQLite(cfg.SQLitePath, cfg.Debug)
	case "postgres":
		return OpenPostgres(ctx, cfg.DatabaseURL)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
