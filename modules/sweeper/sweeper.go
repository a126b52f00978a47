// Package sweeper deletes ephemeral messages once they expire.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"time"
)

// ExpiredDeleter removes ephemeral messages expiring at or before now.
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper runs one purge at a time.
type Sweeper struct {
	repo    ExpiredDeleter
	timeout time.Duration
	now     func() time.Time
}

// New creates a Sweeper whose purges are bounded by timeout.
func New(repo ExpiredDeleter, timeout time.Duration) *Sweeper {
	return &Sweeper{repo: repo, timeout: timeout, now: time.Now}
}

// SweepOnce deletes every expired ephemeral message and returns the count.
// A panic in the store is turned into an error so the schedule survives it.
func (s *Sweeper) SweepOnce(ctx context.Context) (n int64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sweep panicked: %v", r)
		}
	}()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	n, err = s.repo.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired messages: %w", err)
	}
	if n > 0 {
		log.Printf("[sweeper] Purged %d expired ephemeral messages", n)
	}
	return n, nil
}
