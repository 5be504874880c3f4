package hub

import (
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// registry 是連線識別碼到連線紀錄的對照表，
// 可同時被新連線、訊息處理與存活檢查存取。
type registry struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

func newRegistry() *registry {
	return &registry{
		conns: make(map[string]*Connection),
	}
}

// add 產生一個目前未被使用的識別碼，以 build 建立連線後加入註冊表。
// build 在持有鎖的情況下執行，必須不會阻塞。
func (r *registry) add(build func(id string) *Connection) *Connection {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.NewString()
	for {
		if _, exists := r.conns[id]; !exists {
			break
		}
		id = uuid.NewString()
	}
	conn := build(id)
	r.conns[id] = conn
	return conn
}

func (r *registry) get(id string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[id]
	return conn, ok
}

func (r *registry) remove(id string) (*Connection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[id]
	if ok {
		delete(r.conns, id)
	}
	return conn, ok
}

// subscribers 回傳所有應收到 channel 廣播的連線
func (r *registry) subscribers(channel string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Filter(lo.Values(r.conns), func(conn *Connection, _ int) bool {
		return conn.matches(channel)
	})
}

func (r *registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.conns)
}

// drain 清空註冊表並回傳原有的連線
func (r *registry) drain() []*Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	conns := lo.Values(r.conns)
	clear(r.conns)
	return conns
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
