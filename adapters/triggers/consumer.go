package triggers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

type consumerOptions struct {
	logger       *slog.Logger
	blockTimeout time.Duration
	retryDelay   time.Duration
	startID      string
}

type ConsumerOption func(*consumerOptions)

// WithConsumerLogger 設置日誌記錄器
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(o *consumerOptions) {
		o.logger = logger
	}
}

// WithConsumerBlockTimeout 設置阻塞讀取超時時間，同時也是 Close 最長的等待時間
func WithConsumerBlockTimeout(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.blockTimeout = d
	}
}

// WithConsumerRetryDelay 設置讀取失敗後的等待時間
func WithConsumerRetryDelay(d time.Duration) ConsumerOption {
	return func(o *consumerOptions) {
		o.retryDelay = d
	}
}

// WithConsumerStartID 設置開始讀取的 entry ID，預設為 "$" 只讀取新事件
func WithConsumerStartID(id string) ConsumerOption {
	return func(o *consumerOptions) {
		o.startID = id
	}
}

// Consumer 從 Redis Stream 讀取觸發事件並交給 Broadcaster 廣播
type Consumer struct {
	client      *redis.Client
	stream      string
	lastID      string
	broadcaster Broadcaster
	cancelFunc  context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.Mutex
	closed      bool
	logger      *slog.Logger
	options     consumerOptions
}

func NewConsumer(client *redis.Client, stream string, broadcaster Broadcaster, opts ...ConsumerOption) (*Consumer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}
	if broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}

	// 默認選項
	options := consumerOptions{
		logger:       slog.Default(),
		blockTimeout: time.Second,
		retryDelay:   100 * time.Millisecond,
		startID:      "$",
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Consumer{
		client:      client,
		stream:      stream,
		lastID:      options.startID,
		broadcaster: broadcaster,
		closed:      true,
		logger:      options.logger.With(slog.String("caller", "Consumer"), slog.String("stream", stream)),
		options:     options,
	}, nil
}

func (s *Consumer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.closed = false
	s.cancelFunc = cancel
	s.logger.Info("starting trigger consumer")
	s.resolveStartID()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("consumer goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			messages, err := s.fetch(ctx)
			if err != nil {
				if errors.Is(err, redis.Nil) {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				s.logger.Error("fetch event error", slog.Any("error", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.options.retryDelay):
				}
				continue
			}

			for _, message := range messages {
				event, err := decodeEntry(message.Values)
				if err != nil {
					s.logger.Error("failed to decode event",
						slog.String("messageId", message.ID),
						slog.Any("error", err))
					continue
				}
				if err := Dispatch(s.broadcaster, event); err != nil {
					s.logger.Error("failed to broadcast event",
						slog.String("messageId", message.ID),
						slog.String("kind", string(event.Kind)),
						slog.Any("error", err))
					continue
				}
				s.logger.Debug("event broadcast", slog.String("messageId", message.ID), slog.String("kind", string(event.Kind)))
			}
		}
	}()
}

// resolveStartID 將 "$" 換成目前最後一筆 entry 的 ID，
// 避免兩次 XREAD 之間寫入的事件被略過
func (s *Consumer) resolveStartID() {
	if s.lastID != "$" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.options.blockTimeout)
	defer cancel()

	messages, err := s.client.XRevRangeN(ctx, s.stream, "+", "-", 1).Result()
	if err != nil {
		s.logger.Warn("failed to resolve start id, reading new entries only", slog.Any("error", err))
		return
	}
	if len(messages) == 0 {
		s.lastID = "0-0"
		return
	}
	s.lastID = messages[0].ID
}

func (s *Consumer) fetch(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{s.stream, s.lastID},
		Count:   10,
		Block:   s.options.blockTimeout,
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return nil, redis.Nil
	}
	messages := streams[0].Messages
	s.lastID = messages[len(messages)-1].ID
	return messages, nil
}

// Close 關閉消費者，最多等待一次阻塞讀取的時間
func (s *Consumer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.logger.Info("closing trigger consumer")
	s.closed = true
	s.cancelFunc()
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("trigger consumer closed")
}

// Dispatch 依事件種類呼叫對應的廣播入口
func Dispatch(b Broadcaster, event Event) error {
	switch event.Kind {
	case KindProcessUpdate:
		return b.BroadcastProcessUpdate(json.RawMessage(event.Data))
	case KindMetricUpdate:
		return b.BroadcastMetricUpdate(json.RawMessage(event.Data))
	case KindRevenueUpdate:
		return b.BroadcastRevenueUpdate(json.RawMessage(event.Data))
	case KindAlert:
		return b.BroadcastAlert(event.Level, event.Title, event.Message)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, event.Kind)
	}
}
