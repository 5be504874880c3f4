package wsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"gopkg.in/tomb.v2"

	"intelhub/protocol"
)

var (
	ErrNotConnected     = errors.New("client is not connected")
	ErrAlreadyConnected = errors.New("client is already connected or connecting")
	ErrConnectionLost   = errors.New("connection lost before reply")

	errStopped = errors.New("client disconnected")
)

// dispatchBuffer 為讀取迴圈與處理函式之間的緩衝筆數
const dispatchBuffer = 64

// State 為客戶端的連線狀態
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Handler 處理某一種伺服器訊息
type Handler func(protocol.Message)

// HandlerID 用於 Off 取消註冊
type HandlerID uint64

// Client 是會自動重連的 WebSocket 客戶端。
// 訂閱的頻道在本地保存，每次連線成功後會先重新送出訂閱請求。
type Client struct {
	url     string
	logger  *slog.Logger
	options options

	mu           sync.Mutex
	conn         *websocket.Conn
	tmb          *tomb.Tomb
	state        State
	attempts     int
	stop         chan struct{}
	channels     map[string]struct{}
	handlers     map[protocol.Type][]registeredHandler
	handlerTypes map[HandlerID]protocol.Type
	nextID       HandlerID
	pending      map[string]chan protocol.Message

	writeMu sync.Mutex
}

type registeredHandler struct {
	id HandlerID
	fn Handler
}

func NewClient(url string, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New("url cannot be empty")
	}

	// 默認選項
	options := options{
		logger:      slog.Default(),
		dialer:      websocket.DefaultDialer,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		writeWait:   DefaultWriteWait,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	if options.maxAttempts < 0 {
		return nil, errors.New("max attempts cannot be negative")
	}
	if options.baseDelay <= 0 {
		return nil, errors.New("base delay must be positive")
	}

	return &Client{
		url:          url,
		logger:       options.logger.With(slog.String("caller", "WSClient"), slog.String("url", url)),
		options:      options,
		state:        StateDisconnected,
		channels:     make(map[string]struct{}),
		handlers:     make(map[protocol.Type][]registeredHandler),
		handlerTypes: make(map[HandlerID]protocol.Type),
		pending:      make(map[string]chan protocol.Message),
	}, nil
}

// State 回傳目前的連線狀態
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Channels 回傳本地保存的訂閱頻道，依字母排序
func (c *Client) Channels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedChannels()
}

func (c *Client) sortedChannels() []string {
	channels := lo.Keys(c.channels)
	slices.Sort(channels)
	return channels
}

// setState 必須持有 c.mu；回傳值為 true 時呼叫者需在解鎖後呼叫 emit
func (c *Client) setState(s State) bool {
	if c.state == s {
		return false
	}
	c.state = s
	return true
}

func (c *Client) emit(s State) {
	c.logger.Debug("state changed", slog.String("state", s.String()))
	if c.options.onStateChange != nil {
		c.options.onStateChange(s)
	}
}

// Connect 建立連線。第一次連線失敗會直接回傳錯誤，不會自動重試；
// 連線建立後若中斷才會進入重連流程。
func (c *Client) Connect(ctx context.Context) error {
	const op = "wsclient.Client.Connect"

	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateFailed {
		c.mu.Unlock()
		return fmt.Errorf("%s: %w", op, ErrAlreadyConnected)
	}
	c.stop = make(chan struct{})
	stop := c.stop
	changed := c.setState(StateConnecting)
	c.mu.Unlock()
	if changed {
		c.emit(StateConnecting)
	}

	if err := c.open(ctx, stop); err != nil {
		c.mu.Lock()
		changed := false
		if c.stop == stop && c.state == StateConnecting {
			changed = c.setState(StateDisconnected)
		}
		c.mu.Unlock()
		if changed {
			c.emit(StateDisconnected)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// open 撥號並在發布連線前重送所有訂閱，確保訂閱請求是新連線上最先送出的訊息。
// 重送時只持有 writeMu；重送期間本地訂閱若有變動，會在發布連線前補送差異。
func (c *Client) open(ctx context.Context, stop chan struct{}) error {
	conn, _, err := c.options.dialer.DialContext(ctx, c.url, c.options.header)
	if err != nil {
		return err
	}

	var sent []string
	for {
		c.mu.Lock()
		if isClosed(stop) {
			c.mu.Unlock()
			conn.Close()
			return errStopped
		}
		subscribe, unsubscribe := lo.Difference(c.sortedChannels(), sent)
		if len(subscribe) == 0 && len(unsubscribe) == 0 {
			break
		}
		c.mu.Unlock()

		for _, channel := range subscribe {
			if err := c.write(conn, protocol.NewSubscribe("", channel).Message()); err != nil {
				conn.Close()
				return fmt.Errorf("replay subscription %q: %w", channel, err)
			}
		}
		for _, channel := range unsubscribe {
			if err := c.write(conn, protocol.NewUnsubscribe("", channel).Message()); err != nil {
				conn.Close()
				return fmt.Errorf("replay unsubscription %q: %w", channel, err)
			}
		}
		sent = append(lo.Without(sent, unsubscribe...), subscribe...)
	}

	// 仍持有 c.mu
	t := &tomb.Tomb{}
	inbox := make(chan protocol.Message, dispatchBuffer)
	c.conn = conn
	c.tmb = t
	c.attempts = 0
	changed := c.setState(StateConnected)
	t.Go(c.readLoop(t, conn, inbox))
	go c.dispatchLoop(inbox)
	c.mu.Unlock()

	c.logger.Info("connected")
	if changed {
		c.emit(StateConnected)
	}
	return nil
}

func (c *Client) readLoop(t *tomb.Tomb, conn *websocket.Conn, inbox chan<- protocol.Message) func() error {
	return func() error {
		defer close(inbox)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				if !t.Alive() {
					return nil
				}
				c.handleDrop(conn, err)
				return err
			}

			msg, err := protocol.Decode(raw)
			if err != nil {
				c.logger.Warn("failed to decode server message", slog.Any("error", err))
				continue
			}
			select {
			case inbox <- msg:
			case <-t.Dying():
				return nil
			}
		}
	}
}

// dispatchLoop 不受 tomb 管理，處理函式中呼叫 Disconnect 不會等待自己結束
func (c *Client) dispatchLoop(inbox <-chan protocol.Message) {
	for msg := range inbox {
		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg protocol.Message) {
	c.mu.Lock()
	handlers := slices.Clone(c.handlers[msg.Type])
	var waiter chan protocol.Message
	if msg.RequestID != "" {
		if ch, ok := c.pending[msg.RequestID]; ok {
			waiter = ch
			delete(c.pending, msg.RequestID)
		}
	}
	c.mu.Unlock()

	for _, h := range handlers {
		h.fn(msg)
	}
	if waiter != nil {
		waiter <- msg
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.tmb = nil
	c.failPending()
	changed := c.setState(StateReconnecting)
	stop := c.stop
	c.mu.Unlock()

	conn.Close()
	c.logger.Warn("connection lost", slog.Any("error", cause))
	if changed {
		c.emit(StateReconnecting)
	}
	go c.reconnect(stop)
}

// failPending 必須持有 c.mu
func (c *Client) failPending() {
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *Client) reconnect(stop chan struct{}) {
	for {
		c.mu.Lock()
		if isClosed(stop) {
			c.mu.Unlock()
			return
		}
		if c.attempts >= c.options.maxAttempts {
			attempts := c.attempts
			changed := c.setState(StateFailed)
			c.mu.Unlock()
			c.logger.Error("giving up reconnecting", slog.Int("attempts", attempts))
			if changed {
				c.emit(StateFailed)
			}
			return
		}
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		delay := Delay(c.options.baseDelay, c.options.maxDelay, attempt)
		c.logger.Info("reconnecting",
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", c.options.maxAttempts),
			slog.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}

		c.mu.Lock()
		if isClosed(stop) {
			c.mu.Unlock()
			return
		}
		changed := c.setState(StateConnecting)
		c.mu.Unlock()
		if changed {
			c.emit(StateConnecting)
		}

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			select {
			case <-stop:
				cancel()
			case <-ctx.Done():
			}
		}()
		err := c.open(ctx, stop)
		cancel()
		if err == nil {
			return
		}
		if errors.Is(err, errStopped) {
			return
		}
		c.logger.Warn("reconnect attempt failed", slog.Int("attempt", attempt), slog.Any("error", err))

		c.mu.Lock()
		changed = false
		if !isClosed(stop) {
			changed = c.setState(StateReconnecting)
		}
		c.mu.Unlock()
		if changed {
			c.emit(StateReconnecting)
		}
	}
}

// Disconnect 主動關閉連線並停止任何重連，可在 On 註冊的處理函式中呼叫
func (c *Client) Disconnect() {
	c.mu.Lock()
	if c.stop != nil && !isClosed(c.stop) {
		close(c.stop)
	}
	conn, t := c.conn, c.tmb
	c.conn = nil
	c.tmb = nil
	c.failPending()
	changed := c.setState(StateDisconnected)
	c.mu.Unlock()

	if t != nil {
		t.Kill(nil)
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.options.writeWait))
		c.writeMu.Unlock()
		conn.Close()
	}
	if t != nil {
		_ = t.Wait()
	}

	if changed {
		c.logger.Info("disconnected")
		c.emit(StateDisconnected)
	}
}

// Subscribe 將頻道加入本地訂閱集合，已連線時立即送出訂閱請求
func (c *Client) Subscribe(channel string) error {
	c.mu.Lock()
	c.channels[channel] = struct{}{}
	c.mu.Unlock()

	err := c.send(protocol.NewSubscribe("", channel).Message())
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// Unsubscribe 將頻道移出本地訂閱集合，已連線時立即送出取消訂閱請求
func (c *Client) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.channels, channel)
	c.mu.Unlock()

	err := c.send(protocol.NewUnsubscribe("", channel).Message())
	if errors.Is(err, ErrNotConnected) {
		return nil
	}
	return err
}

// On 為某種訊息類型註冊處理函式，同一類型可註冊多個
func (c *Client) On(t protocol.Type, fn Handler) HandlerID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.handlers[t] = append(c.handlers[t], registeredHandler{id: id, fn: fn})
	c.handlerTypes[id] = t
	return id
}

// Off 取消註冊，只移除該次 On 註冊的處理函式
func (c *Client) Off(id HandlerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.handlerTypes[id]
	if !ok {
		return
	}
	delete(c.handlerTypes, id)
	c.handlers[t] = slices.DeleteFunc(c.handlers[t], func(h registeredHandler) bool {
		return h.id == id
	})
	if len(c.handlers[t]) == 0 {
		delete(c.handlers, t)
	}
}

// Ping 送出應用層 ping，回傳 requestId
func (c *Client) Ping() (string, error) {
	id := uuid.NewString()
	return id, c.send(protocol.NewPing(id).Message())
}

// RequestProcesses 請求流程快照，回應透過 On(protocol.TypeProcesses) 送達
func (c *Client) RequestProcesses() (string, error) {
	id := uuid.NewString()
	return id, c.send(protocol.NewGetProcesses(id).Message())
}

// RequestMetrics 請求指標快照，platform 為空時取得全部平台
func (c *Client) RequestMetrics(platform string) (string, error) {
	id := uuid.NewString()
	return id, c.send(protocol.NewGetMetrics(id, platform).Message())
}

// RequestRevenue 請求營收快照，timeframe 為空時取得最新資料
func (c *Client) RequestRevenue(timeframe string) (string, error) {
	id := uuid.NewString()
	return id, c.send(protocol.NewGetRevenue(id, timeframe).Message())
}

// FetchProcesses 請求流程快照並等待對應 requestId 的回應
func (c *Client) FetchProcesses(ctx context.Context) (protocol.Message, error) {
	return c.query(ctx, protocol.NewGetProcesses(uuid.NewString()))
}

// FetchMetrics 請求指標快照並等待回應
func (c *Client) FetchMetrics(ctx context.Context, platform string) (protocol.Message, error) {
	return c.query(ctx, protocol.NewGetMetrics(uuid.NewString(), platform))
}

// FetchRevenue 請求營收快照並等待回應
func (c *Client) FetchRevenue(ctx context.Context, timeframe string) (protocol.Message, error) {
	return c.query(ctx, protocol.NewGetRevenue(uuid.NewString(), timeframe))
}

func (c *Client) query(ctx context.Context, req protocol.Request) (protocol.Message, error) {
	const op = "wsclient.Client.query"

	id := req.ID()
	reply := make(chan protocol.Message, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}

	if err := c.send(req.Message()); err != nil {
		cleanup()
		return protocol.Message{}, fmt.Errorf("%s: %w", op, err)
	}

	select {
	case msg, ok := <-reply:
		if !ok {
			return protocol.Message{}, fmt.Errorf("%s: %w", op, ErrConnectionLost)
		}
		return msg, nil
	case <-ctx.Done():
		cleanup()
		return protocol.Message{}, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

func (c *Client) send(msg protocol.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, msg)
}

func (c *Client) write(conn *websocket.Conn, msg protocol.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.SetWriteDeadline(time.Now().Add(c.options.writeWait)); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
