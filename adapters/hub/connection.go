package hub

import (
	"sync"
	"time"

	"github.com/samber/lo"

	"intelhub/protocol"
)

// Connection 是伺服器端對單一客戶端連線的紀錄，
// 包含其傳輸通道、訂閱頻道集合與最後一次存活回應的時間。
type Connection struct {
	id        string
	transport Transport
	send      chan []byte

	mu       sync.Mutex // 保護 channels、lastSeen 與 closed
	channels map[string]struct{}
	lastSeen time.Time
	closed   bool

	closeOnce sync.Once
}

func newConnection(id string, transport Transport, bufferSize int, now time.Time) *Connection {
	return &Connection{
		id:        id,
		transport: transport,
		send:      make(chan []byte, bufferSize),
		channels:  make(map[string]struct{}),
		lastSeen:  now,
	}
}

// ID 回傳連線識別碼
func (c *Connection) ID() string {
	return c.id
}

// Channels 回傳目前訂閱的頻道
func (c *Connection) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.Keys(c.channels)
}

// LastSeen 回傳最後一次存活回應的時間
func (c *Connection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

func (c *Connection) touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now
}

func (c *Connection) subscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels[channel] = struct{}{}
}

func (c *Connection) unsubscribe(channel string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.channels, channel)
}

// matches 判斷廣播到 channel 的訊息是否應送給此連線
func (c *Connection) matches(channel string) bool {
	if channel == protocol.ChannelAll {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.channels[channel]; ok {
		return true
	}
	_, ok := c.channels[protocol.ChannelAll]
	return ok
}

// enqueue 將資料排入發送佇列，佇列已滿或連線已關閉時回傳 false
func (c *Connection) enqueue(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// terminate 關閉發送佇列與傳輸通道，可重複呼叫
func (c *Connection) terminate() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.transport.Close()
	})
}
