package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"intelhub/adapters/cache"
	"intelhub/protocol"
)

var (
	// ErrHubClosed 表示 Hub 已關閉
	ErrHubClosed = errors.New("hub is closed")
	// ErrConnectionNotFound 表示連線不在註冊表中
	ErrConnectionNotFound = errors.New("connection not found")
	// ErrLivenessTimeout 表示連線超過時限沒有回應存活探測
	ErrLivenessTimeout = errors.New("liveness timeout")
)

// Hub 擁有所有存活的連線，負責處理客戶端請求、
// 將外部觸發的事件廣播給訂閱者，並定期移除沒有回應的連線。
type Hub struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex   // 保護 closed，並讓 wg.Add 不會與 Close 中的 wg.Wait 交錯
	wg     sync.WaitGroup // 用於等待所有 goroutine 完成
	closed bool

	registry  *registry
	cache     cache.ICache
	sanitizer *bluemonday.Policy
	metrics   *metrics
	options   options
}

// NewHub 建立 Hub 並啟動存活檢查
func NewHub(snapshots cache.ICache, opts ...Option) (*Hub, error) {
	if snapshots == nil {
		return nil, errors.New("cache cannot be nil")
	}

	// 默認選項
	options := options{
		logger:       slog.Default(),
		pingInterval: DefaultPingInterval,
		pongTimeout:  DefaultPongTimeout,
		writeWait:    DefaultWriteWait,
		sendBuffer:   DefaultSendBuffer,
		readLimit:    DefaultReadLimit,
		clock:        time.Now,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	if options.pingInterval <= 0 {
		return nil, errors.New("ping interval must be positive")
	}
	if options.pingInterval >= options.pongTimeout {
		return nil, fmt.Errorf("ping interval (%s) must be shorter than pong timeout (%s)", options.pingInterval, options.pongTimeout)
	}
	if options.sendBuffer <= 0 {
		return nil, errors.New("send buffer must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		ctx:       ctx,
		cancel:    cancel,
		logger:    options.logger.With(slog.String("caller", "Hub")),
		registry:  newRegistry(),
		cache:     snapshots,
		sanitizer: bluemonday.StrictPolicy(),
		metrics:   newMetrics(options.registerer),
		options:   options,
	}

	h.wg.Add(1)
	go h.sweepLoop()

	return h, nil
}

// Accept 註冊一條新連線，並送出帶有識別碼的連線確認訊息
func (h *Hub) Accept(transport Transport) (string, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		_ = transport.Close()
		return "", ErrHubClosed
	}

	now := h.options.clock()
	conn := h.registry.add(func(id string) *Connection {
		conn := newConnection(id, transport, h.options.sendBuffer, now)
		// 在加入註冊表之前排入，確保確認訊息早於任何廣播
		if data, err := protocol.NewConnection(id).Encode(); err == nil {
			conn.enqueue(data)
		}
		return conn
	})
	h.metrics.connections.Inc()

	h.wg.Add(1)
	go h.writeLoop(conn)

	h.logger.Debug("connection accepted", slog.String("connectionId", conn.id), slog.Int("connections", h.registry.len()))
	return conn.id, nil
}

// writeLoop 依序將佇列中的訊息寫入傳輸通道，寫入失敗時移除該連線
func (h *Hub) writeLoop(conn *Connection) {
	defer h.wg.Done()
	for data := range conn.send {
		if err := conn.transport.Write(data); err != nil {
			h.Remove(conn.id, fmt.Errorf("write failed: %w", err))
			return
		}
	}
}

// HandleInbound 解析並處理客戶端送來的訊息。
// 格式錯誤只會回覆錯誤訊息給該連線，不會關閉連線。
func (h *Hub) HandleInbound(connectionID string, raw []byte) error {
	conn, ok := h.registry.get(connectionID)
	if !ok {
		return ErrConnectionNotFound
	}

	req, err := protocol.ParseRequest(raw)
	if err != nil {
		var unknown *protocol.UnknownTypeError
		if errors.As(err, &unknown) {
			h.metrics.inbound.WithLabelValues("unknown").Inc()
			h.reply(conn, protocol.NewError("", unknown.Error()))
			return nil
		}
		h.metrics.inbound.WithLabelValues("malformed").Inc()
		h.logger.Debug("malformed message", slog.String("connectionId", connectionID), slog.Any("error", err))
		h.reply(conn, protocol.NewError("", "invalid message format"))
		return nil
	}

	switch r := req.(type) {
	case protocol.Subscribe:
		h.metrics.inbound.WithLabelValues(string(protocol.TypeSubscribe)).Inc()
		conn.subscribe(r.Channel)
		h.reply(conn, protocol.NewSubscribed(r.Channel))
	case protocol.Unsubscribe:
		h.metrics.inbound.WithLabelValues(string(protocol.TypeUnsubscribe)).Inc()
		conn.unsubscribe(r.Channel)
		h.reply(conn, protocol.NewUnsubscribed(r.Channel))
	case protocol.Ping:
		// 應用層的 ping 不會更新存活時間
		h.metrics.inbound.WithLabelValues(string(protocol.TypePing)).Inc()
		h.reply(conn, protocol.NewPong(r.ID()))
	case protocol.GetProcesses:
		h.metrics.inbound.WithLabelValues(string(protocol.TypeGetProcesses)).Inc()
		h.snapshot(conn, protocol.KeyProcesses, func(data []byte) protocol.Message {
			return protocol.NewProcesses(r.ID(), data)
		})
	case protocol.GetMetrics:
		h.metrics.inbound.WithLabelValues(string(protocol.TypeGetMetrics)).Inc()
		h.snapshot(conn, protocol.MetricsKey(r.Platform), func(data []byte) protocol.Message {
			return protocol.NewMetrics(r.ID(), r.Platform, data)
		})
	case protocol.GetRevenue:
		h.metrics.inbound.WithLabelValues(string(protocol.TypeGetRevenue)).Inc()
		h.snapshot(conn, protocol.RevenueKey(r.Timeframe), func(data []byte) protocol.Message {
			return protocol.NewRevenue(r.ID(), r.Timeframe, data)
		})
	default:
		h.reply(conn, protocol.NewError(req.ID(), fmt.Sprintf("unsupported request %T", req)))
	}
	return nil
}

// snapshot 在獨立的 goroutine 中讀取快取並回覆，
// 讀取失敗時記錄錯誤並回覆空結果。
func (h *Hub) snapshot(conn *Connection, key string, build func([]byte) protocol.Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		data, err := h.cache.Get(h.ctx, key)
		if err != nil {
			h.metrics.cacheErrors.Inc()
			h.logger.Error("snapshot lookup failed", slog.String("key", key), slog.String("connectionId", conn.id), slog.Any("error", err))
			data = nil
		} else if len(data) > 0 && !json.Valid(data) {
			h.metrics.cacheErrors.Inc()
			h.logger.Error("snapshot is not valid json", slog.String("key", key))
			data = nil
		}
		h.reply(conn, build(data))
	}()
}

// reply 將訊息送給單一連線
func (h *Hub) reply(conn *Connection, message protocol.Message) {
	data, err := message.Encode()
	if err != nil {
		h.logger.Error("failed to encode reply", slog.String("type", string(message.Type)), slog.Any("error", err))
		return
	}
	if !conn.enqueue(data) {
		h.metrics.skipped.Inc()
	}
}

// Broadcast 將訊息送給所有訂閱 channel 或萬用頻道的連線。
// 無法寫入的連線會被略過，不會重試。
func (h *Hub) Broadcast(channel string, message protocol.Message) (int, error) {
	const op = "hub.Broadcast"

	data, err := message.Encode()
	if err != nil {
		return 0, fmt.Errorf("%s: failed to encode message: %w", op, err)
	}

	h.metrics.broadcasts.WithLabelValues(channel).Inc()
	delivered := 0
	for _, conn := range h.registry.subscribers(channel) {
		if conn.enqueue(data) {
			delivered++
			continue
		}
		h.metrics.skipped.Inc()
	}
	h.logger.Debug("broadcast", slog.String("channel", channel), slog.String("type", string(message.Type)), slog.Int("delivered", delivered))
	return delivered, nil
}

// Touch 記錄連線的存活回應
func (h *Hub) Touch(connectionID string) {
	if conn, ok := h.registry.get(connectionID); ok {
		conn.touch(h.options.clock())
	}
}

// Remove 將連線自註冊表移除並關閉其傳輸通道，對其他連線沒有影響
func (h *Hub) Remove(connectionID string, reason error) {
	conn, ok := h.registry.remove(connectionID)
	if !ok {
		return
	}
	conn.terminate()
	h.metrics.connections.Dec()
	h.logger.Debug("connection removed", slog.String("connectionId", connectionID), slog.Any("reason", reason))
}

// Len 回傳目前的連線數
func (h *Hub) Len() int {
	return h.registry.len()
}

func (h *Hub) sweepLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.options.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

// sweep 移除超過時限未回應的連線，其餘連線送出存活探測
func (h *Hub) sweep() {
	now := h.options.clock()
	for _, conn := range h.registry.snapshot() {
		if now.Sub(conn.LastSeen()) > h.options.pongTimeout {
			h.metrics.evictions.Inc()
			h.logger.Info("evicting unresponsive connection", slog.String("connectionId", conn.id), slog.Time("lastSeen", conn.LastSeen()))
			h.Remove(conn.id, ErrLivenessTimeout)
			continue
		}
		if err := conn.transport.Ping(); err != nil {
			h.Remove(conn.id, fmt.Errorf("ping failed: %w", err))
		}
	}
}

// Close 關閉所有連線並停止背景工作，可重複呼叫
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.cancel()
	for _, conn := range h.registry.drain() {
		conn.terminate()
		h.metrics.connections.Dec()
	}
	h.wg.Wait()
	h.logger.Info("hub closed")
}
