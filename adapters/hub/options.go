package hub

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultPingInterval = 25 * time.Second
	DefaultPongTimeout  = 60 * time.Second
	DefaultWriteWait    = 10 * time.Second
	DefaultSendBuffer   = 256
	DefaultReadLimit    = 64 << 10
)

type options struct {
	logger       *slog.Logger
	pingInterval time.Duration
	pongTimeout  time.Duration
	writeWait    time.Duration
	sendBuffer   int
	readLimit    int64
	registerer   prometheus.Registerer
	clock        func() time.Time
}

type Option func(*options)

// WithLogger 設置日誌記錄器
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithPingInterval 設置存活檢查的間隔
func WithPingInterval(d time.Duration) Option {
	return func(o *options) {
		o.pingInterval = d
	}
}

// WithPongTimeout 設置多久沒有存活回應就移除連線，必須大於檢查間隔
func WithPongTimeout(d time.Duration) Option {
	return func(o *options) {
		o.pongTimeout = d
	}
}

// WithWriteWait 設置單次寫入的逾時
func WithWriteWait(d time.Duration) Option {
	return func(o *options) {
		o.writeWait = d
	}
}

// WithSendBuffer 設置每條連線的發送佇列大小
func WithSendBuffer(size int) Option {
	return func(o *options) {
		o.sendBuffer = size
	}
}

// WithReadLimit 設置單則訊息的大小上限
func WithReadLimit(limit int64) Option {
	return func(o *options) {
		o.readLimit = limit
	}
}

// WithRegisterer 設置 prometheus 指標的註冊器，未設置時不註冊
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.registerer = reg
	}
}

// WithClock 設置時間來源
func WithClock(clock func() time.Time) Option {
	return func(o *options) {
		o.clock = clock
	}
}
