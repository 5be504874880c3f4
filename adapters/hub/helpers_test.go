package hub

import (
	"errors"
	"io"
	"log"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"intelhub/adapters/cache"
	"intelhub/protocol"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

var errTransportClosed = errors.New("transport closed")

// fakeTransport 記錄所有寫入的訊息
type fakeTransport struct {
	mu       sync.Mutex
	writes   chan []byte
	pings    int
	closed   bool
	writeErr error

	// 設置後 Write 會先通知 started，再等待 block 關閉
	started chan struct{}
	block   chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{writes: make(chan []byte, 100)}
}

func (f *fakeTransport) Write(data []byte) error {
	if f.block != nil {
		f.started <- struct{}{}
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes <- data
	return nil
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errTransportClosed
	}
	f.pings++
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) pingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pings
}

// recv 等待下一則訊息
func (f *fakeTransport) recv(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case data := <-f.writes:
		msg, err := protocol.Decode(data)
		require.NoError(t, err)
		return msg
	case <-time.After(time.Second):
		t.Fatal("did not receive message in time")
		return protocol.Message{}
	}
}

// expectNothing 確認一段時間內沒有收到訊息
func (f *fakeTransport) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case data := <-f.writes:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// newTestHub 建立不會自動觸發存活檢查的 Hub
func newTestHub(t *testing.T, snapshots cache.ICache, opts ...Option) *Hub {
	t.Helper()
	base := []Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithPingInterval(time.Hour),
		WithPongTimeout(2 * time.Hour),
	}
	h, err := NewHub(snapshots, append(base, opts...)...)
	require.NoError(t, err)
	return h
}

// accept 註冊連線並讀掉連線確認訊息
func accept(t *testing.T, h *Hub) (string, *fakeTransport) {
	t.Helper()
	ft := newFakeTransport()
	id, err := h.Accept(ft)
	require.NoError(t, err)
	msg := ft.recv(t)
	require.Equal(t, protocol.TypeConnection, msg.Type)
	return id, ft
}

func subscribe(t *testing.T, h *Hub, id string, ft *fakeTransport, channel string) {
	t.Helper()
	require.NoError(t, h.HandleInbound(id, []byte(`{"type":"subscribe","channel":"`+channel+`"}`)))
	msg := ft.recv(t)
	require.Equal(t, protocol.TypeSubscribed, msg.Type)
	require.Equal(t, channel, msg.Channel)
}
