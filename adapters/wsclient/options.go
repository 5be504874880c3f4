package wsclient

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	DefaultMaxAttempts = 10
	DefaultBaseDelay   = time.Second
	DefaultWriteWait   = 10 * time.Second
)

// DefaultMaxDelay 為 0，等待時間依 base × 2^(n−1) 持續成長
const DefaultMaxDelay time.Duration = 0

type options struct {
	logger        *slog.Logger
	header        http.Header
	dialer        *websocket.Dialer
	maxAttempts   int
	baseDelay     time.Duration
	maxDelay      time.Duration
	writeWait     time.Duration
	onStateChange func(State)
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithHeader 設置連線時附帶的 HTTP header
func WithHeader(header http.Header) Option {
	return func(o *options) {
		o.header = header
	}
}

// WithDialer 設置 WebSocket dialer
func WithDialer(dialer *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = dialer
	}
}

// WithMaxAttempts 設置連線中斷後最多重試的次數
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		o.maxAttempts = n
	}
}

// WithBaseDelay 設置第一次重連前的等待時間
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) {
		o.baseDelay = d
	}
}

// WithMaxDelay 設置重連等待時間的上限，0 表示不設上限
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) {
		o.maxDelay = d
	}
}

// WithWriteWait 設置單次寫入的逾時
func WithWriteWait(d time.Duration) Option {
	return func(o *options) {
		o.writeWait = d
	}
}

// WithStateHandler 設置狀態變化的回呼，回呼中不可呼叫 Disconnect 以外會等待連線的操作
func WithStateHandler(fn func(State)) Option {
	return func(o *options) {
		o.onStateChange = fn
	}
}
