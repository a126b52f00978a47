package presence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn records written frames.
type fakeConn struct {
	mu       sync.Mutex
	texts    []string
	kinds    []int
	closed   bool
	writeErr error
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.kinds = append(f.kinds, messageType)
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

func (f *fakeConn) Texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeConn) Kinds() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.kinds...)
}

func (f *fakeConn) IsClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	c := NewClient("c1", &fakeConn{}, 4, 0)

	assert.Nil(t, r.Register("u1", c))

	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.Equal(t, 1, r.Count())

	_, ok = r.Lookup("u2")
	assert.False(t, ok)
}

func TestRegistry_RegisterReplacesAndClosesPrevious(t *testing.T) {
	r := NewRegistry()
	oldConn := &fakeConn{}
	old := NewClient("old", oldConn, 4, 0)
	fresh := NewClient("new", &fakeConn{}, 4, 0)

	r.Register("u1", old)
	replaced := r.Register("u1", fresh)

	assert.Same(t, old, replaced)
	assert.True(t, old.Closed(), "superseded client is closed")
	assert.False(t, fresh.Closed())

	got, _ := r.Lookup("u1")
	assert.Same(t, fresh, got)
	assert.Equal(t, 1, r.Count(), "at most one entry per user")
}

func TestRegistry_RegisterSameClientTwice(t *testing.T) {
	r := NewRegistry()
	c := NewClient("c1", &fakeConn{}, 4, 0)

	r.Register("u1", c)
	assert.Nil(t, r.Register("u1", c))
	assert.False(t, c.Closed())
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry()
	r.Unregister("nobody") // no-op

	r.Register("u1", NewClient("c1", &fakeConn{}, 4, 0))
	r.Unregister("u1")
	_, ok := r.Lookup("u1")
	assert.False(t, ok)
}

func TestRegistry_UnregisterClient_KeepsSuccessor(t *testing.T) {
	r := NewRegistry()
	old := NewClient("old", &fakeConn{}, 4, 0)
	fresh := NewClient("new", &fakeConn{}, 4, 0)
	r.Register("u1", old)
	r.Register("u1", fresh)

	assert.False(t, r.UnregisterClient("u1", old), "stale client must not evict the new binding")
	got, ok := r.Lookup("u1")
	require.True(t, ok)
	assert.Same(t, fresh, got)

	assert.True(t, r.UnregisterClient("u1", fresh))
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_CloseAll(t *testing.T) {
	r := NewRegistry()
	a := NewClient("a", &fakeConn{}, 4, 0)
	b := NewClient("b", &fakeConn{}, 4, 0)
	r.Register("u1", a)
	r.Register("u2", b)

	assert.Equal(t, 2, r.CloseAll())
	assert.True(t, a.Closed())
	assert.True(t, b.Closed())
	assert.Equal(t, 0, r.Count())
}

func TestRegistry_ConcurrentAccess(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", i%5)
			c := NewClient(fmt.Sprintf("c%d", i), &fakeConn{}, 1, 0)
			r.Register(userID, c)
			r.Lookup(userID)
			r.UnregisterClient(userID, c)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, r.Count(), 5)
}

func TestClient_SendIsWrittenByPump(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("c1", conn, 8, 0)
	go c.WritePump()

	require.NoError(t, c.Send(map[string]string{"type": "new_message"}))
	require.NoError(t, c.SendRaw([]byte(`{"type":"partner_status"}`)))

	assert.Eventually(t, func() bool { return len(conn.Texts()) == 2 }, time.Second, 5*time.Millisecond)
	assert.JSONEq(t, `{"type":"new_message"}`, conn.Texts()[0])

	c.Close()
	c.Wait()
	assert.True(t, conn.IsClosed())
}

func TestClient_SendAfterClose(t *testing.T) {
	c := NewClient("c1", &fakeConn{}, 8, 0)
	c.Close()
	c.Close() // idempotent

	assert.ErrorIs(t, c.SendRaw([]byte("x")), ErrClientClosed)
	select {
	case <-c.Done():
	default:
		t.Fatal("Done() not closed after Close()")
	}
}

func TestClient_SendBufferFull(t *testing.T) {
	c := NewClient("c1", &fakeConn{}, 1, 0)

	require.NoError(t, c.SendRaw([]byte("first")))
	assert.ErrorIs(t, c.SendRaw([]byte("second")), ErrSendBufferFull)
}

func TestClient_CloseFlushesQueuedFrames(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("c1", conn, 8, 0)

	require.NoError(t, c.SendRaw([]byte(`{"n":1}`)))
	require.NoError(t, c.SendRaw([]byte(`{"n":2}`)))
	c.Close()

	c.WritePump()

	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, conn.Texts())
	kinds := conn.Kinds()
	require.NotEmpty(t, kinds)
	assert.Equal(t, websocket.CloseMessage, kinds[len(kinds)-1])
	assert.True(t, conn.IsClosed())
}

func TestClient_WriteFailureClosesClient(t *testing.T) {
	conn := &fakeConn{writeErr: errors.New("broken pipe")}
	c := NewClient("c1", conn, 8, 0)
	go c.WritePump()

	require.NoError(t, c.SendRaw([]byte("x")))
	c.Wait()

	assert.True(t, c.Closed())
	assert.True(t, conn.IsClosed())
}

func TestClient_Pings(t *testing.T) {
	conn := &fakeConn{}
	c := NewClient("c1", conn, 8, 10*time.Millisecond)
	go c.WritePump()
	defer func() {
		c.Close()
		c.Wait()
	}()

	assert.Eventually(t, func() bool {
		for _, k := range conn.Kinds() {
			if k == websocket.PingMessage {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestPresenceModule_Lifecycle(t *testing.T) {
	m := NewModule()
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, "presence", m.Name())

	c := NewClient("c1", &fakeConn{}, 4, 0)
	m.Registry().Register("u1", c)
	assert.Equal(t, 1, m.Health(ctx).Details["connected_users"])

	require.NoError(t, m.Stop(ctx))
	assert.True(t, c.Closed())
	assert.Equal(t, 0, m.Registry().Count())
}
