package sweeper

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/example/memories-chat/modules/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDeleter counts calls and fails on demand.
type fakeDeleter struct {
	calls   atomic.Int64
	failFor int64
	panics  bool
}

func (f *fakeDeleter) DeleteExpired(context.Context, time.Time) (int64, error) {
	n := f.calls.Add(1)
	if f.panics {
		panic("store exploded")
	}
	if n <= f.failFor {
		return 0, errors.New("database is locked")
	}
	return 1, nil
}

func TestSweeper_SweepOnce(t *testing.T) {
	repo, err := storage.OpenSQLite(":memory:", false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	author := domain.User{ID: uuid.New().String(), AccountID: "acct", CreatedAt: now}
	require.NoError(t, repo.CreateUser(ctx, &author))
	room := &domain.Room{ID: uuid.New().String(), AccountID: "acct", Participant1ID: author.ID, CreatedAt: now}
	require.NoError(t, repo.CreateRoom(ctx, room))

	add := func(id string, createdAt time.Time, ephemeral bool) {
		msg := &domain.Message{ID: id, RoomID: room.ID, AuthorID: author.ID, Content: id, Type: domain.TypeText, CreatedAt: createdAt}
		if ephemeral {
			exp := createdAt.Add(domain.EphemeralLifetime)
			msg.IsEphemeral = true
			msg.ExpiresAt = &exp
		}
		require.NoError(t, repo.CreateMessage(ctx, msg))
	}
	add("expired", now.Add(-5*time.Minute), true)
	add("boundary", now.Add(-domain.EphemeralLifetime), true)
	add("fresh", now.Add(-time.Minute), true)
	add("plain", now.Add(-time.Hour), false)

	s := New(repo, time.Second)
	s.now = func() time.Time { return now }

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	left, err := repo.ListMessages(ctx, room.ID, 10, 0)
	require.NoError(t, err)
	var ids []string
	for _, m := range left {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []string{"fresh", "plain"}, ids)

	n, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "second sweep finds nothing")
}

func TestSweeper_SweepOnceErrors(t *testing.T) {
	tests := []struct {
		name    string
		deleter *fakeDeleter
		wantMsg string
	}{
		{"store error", &fakeDeleter{failFor: 1}, "database is locked"},
		{"store panic", &fakeDeleter{panics: true}, "sweep panicked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := New(tt.deleter, time.Second).SweepOnce(context.Background())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
			assert.Equal(t, int64(0), n)
		})
	}
}

func TestSweeperModule_RunsOnInterval(t *testing.T) {
	deleter := &fakeDeleter{failFor: 1}
	m := NewModule(New(deleter, time.Second), 10*time.Millisecond)
	ctx := context.Background()

	assert.Equal(t, "sweeper", m.Name())
	require.NoError(t, m.Start(ctx))

	assert.Eventually(t, func() bool { return deleter.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"a failed sweep does not stop the schedule")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	require.NoError(t, m.Stop(stopCtx), "Stop is idempotent")

	calls := deleter.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, deleter.calls.Load(), "no sweeps after Stop")

	health := m.Health(ctx)
	assert.True(t, health.Healthy)
	assert.GreaterOrEqual(t, health.Details["total_purged"].(int64), int64(2))
	assert.Contains(t, health.Details, "last_run")
	assert.NotContains(t, health.Details, "last_error")
}

func TestSweeperModule_StopBeforeStart(t *testing.T) {
	m := NewModule(New(&fakeDeleter{}, time.Second), 0)
	assert.NoError(t, m.Stop(context.Background()))
	assert.Equal(t, DefaultInterval, m.interval)
}
