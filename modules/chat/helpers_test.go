package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	domain "github.com/example/memories-chat/domain/chat"
	"github.com/example/memories-chat/modules/presence"
	"github.com/example/memories-chat/modules/storage"
	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// fakeConn records the text frames written by a client's pump.
type fakeConn struct {
	mu     sync.Mutex
	texts  []string
	closed bool
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if messageType == websocket.TextMessage {
		f.texts = append(f.texts, string(data))
	}
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Frames decodes every text frame written so far.
func (f *fakeConn) Frames() []map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]map[string]any, 0, len(f.texts))
	for _, text := range f.texts {
		var frame map[string]any
		if err := json.Unmarshal([]byte(text), &frame); err == nil {
			out = append(out, frame)
		}
	}
	return out
}

// FramesOfType returns the decoded frames with the given type.
func (f *fakeConn) FramesOfType(frameType string) []map[string]any {
	var out []map[string]any
	for _, frame := range f.Frames() {
		if frame["type"] == frameType {
			out = append(out, frame)
		}
	}
	return out
}

// liveClient starts a client whose pump writes into a fakeConn.
func liveClient(t *testing.T, id string) (*presence.Client, *fakeConn) {
	t.Helper()
	conn := &fakeConn{}
	client := presence.NewClient(id, conn, 16, 0)
	go client.WritePump()
	t.Cleanup(func() {
		client.Close()
		client.Wait()
	})
	return client, conn
}

// flush waits until the client's queue is drained by closing it.
func flush(client *presence.Client) {
	client.Close()
	client.Wait()
}

func setupStore(t *testing.T) *storage.GormRepository {
	t.Helper()
	repo, err := storage.OpenSQLite(":memory:", false)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

// seedAccount creates an account with the given members and, optionally, its room.
func seedAccount(t *testing.T, repo *storage.GormRepository, members int, withRoom bool) (*domain.Room, []domain.User) {
	t.Helper()
	ctx := context.Background()
	accountID := uuid.New().String()
	now := time.Now().UTC()

	users := make([]domain.User, members)
	for i := range users {
		users[i] = domain.User{
			ID:        uuid.New().String(),
			AccountID: accountID,
			Username:  "member",
			CreatedAt: now.Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, repo.CreateUser(ctx, &users[i]))
	}

	if !withRoom {
		return nil, users
	}
	room := &domain.Room{ID: uuid.New().String(), AccountID: accountID, CreatedAt: now}
	if members > 0 {
		room.Participant1ID = users[0].ID
	}
	if members > 1 {
		room.Participant2ID = users[1].ID
	}
	require.NoError(t, repo.CreateRoom(ctx, room))
	return room, users
}

// fakeVerifier maps tokens to users.
type fakeVerifier map[string]string

func (v fakeVerifier) VerifyToken(token string) (string, error) {
	if userID, ok := v[token]; ok {
		return userID, nil
	}
	return "", errors.New("invalid token")
}

func tokenFor(userID string) string {
	return "token-" + userID
}

func verifierFor(users []domain.User) fakeVerifier {
	v := fakeVerifier{}
	for _, u := range users {
		v[tokenFor(u.ID)] = u.ID
	}
	return v
}

// failingMessages fails every write.
type failingMessages struct {
	domain.MessageRepository
	err error
}

func (f failingMessages) CreateMessage(context.Context, *domain.Message) error {
	return f.err
}
