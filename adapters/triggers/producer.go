package triggers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

// ErrClosed 表示 Producer 或 Consumer 已關閉
var ErrClosed = errors.New("trigger stream is closed")

type producerOptions struct {
	logger       *slog.Logger
	bufferSize   int
	maxLen       int64
	flushTimeout time.Duration
}

type ProducerOption func(*producerOptions)

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger(logger *slog.Logger) ProducerOption {
	return func(o *producerOptions) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置緩衝大小
func WithProducerBufferSize(size int) ProducerOption {
	return func(o *producerOptions) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 設置 stream 保留的大約筆數，0 表示不限制
func WithProducerMaxLen(maxLen int64) ProducerOption {
	return func(o *producerOptions) {
		o.maxLen = maxLen
	}
}

// WithProducerFlushTimeout 設置 Close 等待緩衝事件寫出的上限
func WithProducerFlushTimeout(d time.Duration) ProducerOption {
	return func(o *producerOptions) {
		o.flushTimeout = d
	}
}

// Producer 將觸發事件寫入 Redis Stream，供 hub 所在的程序讀取。
// Publish 不會阻塞，事件先進入無界緩衝再由背景 goroutine 寫出。
type Producer struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	mu         sync.RWMutex
	closed     bool
	failed     atomic.Int64
	logger     *slog.Logger
	options    producerOptions
}

func NewProducer(client *redis.Client, stream string, opts ...ProducerOption) (*Producer, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := producerOptions{
		logger:       slog.Default(),
		bufferSize:   100,
		maxLen:       10000,
		flushTimeout: 5 * time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Producer) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("starting trigger producer")

	out := p.upstream.Out
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("producer goroutine stopped")

		// Close 關閉 In 之後，Out 會先送完緩衝中的事件再關閉
		for values := range out {
			id, err := p.add(ctx, values)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				p.failed.Add(1)
				p.logger.Error("publish event error", slog.Any("error", err))
				continue
			}
			p.logger.Debug("event published", slog.String("messageId", id))
		}
	}()
}

func (p *Producer) add(ctx context.Context, values map[string]any) (string, error) {
	args := &redis.XAddArgs{
		Stream: p.stream,
		Values: values,
	}
	if p.options.maxLen > 0 {
		args.MaxLen = p.options.maxLen
		args.Approx = true
	}
	return p.client.XAdd(ctx, args).Result()
}

// Publish 將事件排入緩衝，由背景 goroutine 寫入 stream
func (p *Producer) Publish(event Event) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	values, err := encodeEntry(event)
	if err != nil {
		return fmt.Errorf("encode event error: %w", err)
	}

	p.upstream.In <- values
	return nil
}

// PublishSync 直接寫入 stream 並回傳 entry ID，不需要先呼叫 Start
func (p *Producer) PublishSync(ctx context.Context, event Event) (string, error) {
	const op = "triggers.Producer.PublishSync"

	values, err := encodeEntry(event)
	if err != nil {
		return "", fmt.Errorf("%s: encode event error: %w", op, err)
	}
	id, err := p.add(ctx, values)
	if err != nil {
		return "", fmt.Errorf("%s: xadd error: %w", op, err)
	}
	return id, nil
}

// Close 停止接受新事件，並在 flushTimeout 內寫出已接受的事件。
// 逾時仍未寫出或寫入失敗的事件會反映在回傳的錯誤中。
func (p *Producer) Close() error {
	const op = "triggers.Producer.Close"

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.logger.Info("closing trigger producer")
	p.closed = true
	upstream, cancel := p.upstream, p.cancelFunc
	close(upstream.In)
	p.mu.Unlock()

	flushed := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(flushed)
	}()

	var err error
	timer := time.NewTimer(p.options.flushTimeout)
	defer timer.Stop()
	select {
	case <-flushed:
	case <-timer.C:
		err = fmt.Errorf("%s: flush timed out, %d events dropped", op, upstream.Len())
		p.logger.Warn("flush timed out", slog.Int("pending", upstream.Len()))
	}
	cancel()
	<-flushed

	if n := p.failed.Swap(0); n > 0 {
		err = errors.Join(err, fmt.Errorf("%s: %d events failed to publish", op, n))
	}
	p.logger.Info("trigger producer closed")
	return err
}
