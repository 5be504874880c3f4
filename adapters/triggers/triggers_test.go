package triggers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestEntryRoundTrip(t *testing.T) {
	event, err := NewUpdateEvent(KindRevenueUpdate, map[string]any{"amount": 500, "period": "2025-07"})
	require.NoError(t, err)

	values, err := encodeEntry(event)
	require.NoError(t, err)
	assert.Contains(t, values, "data")

	decoded, err := decodeEntry(values)
	require.NoError(t, err)
	assert.Equal(t, event, decoded)
}

func TestDecodeEntry_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
	}{
		{name: "missing data", values: map[string]any{}},
		{name: "wrong type", values: map[string]any{"data": 42}},
		{name: "bad base64", values: map[string]any{"data": "!!!"}},
		{name: "bad msgpack", values: map[string]any{"data": "wQ=="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeEntry(tt.values)
			assert.Error(t, err)
		})
	}
}

func TestNewUpdateEvent_RejectsAlertKind(t *testing.T) {
	_, err := NewUpdateEvent(KindAlert, nil)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDispatch(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  broadcastCall
	}{
		{
			name:  "process update",
			event: Event{Kind: KindProcessUpdate, Data: []byte(`{"id":"p1","status":"running"}`)},
			want:  broadcastCall{method: "process", data: `{"id":"p1","status":"running"}`},
		},
		{
			name:  "metric update",
			event: Event{Kind: KindMetricUpdate, Data: []byte(`[{"platform":"google"}]`)},
			want:  broadcastCall{method: "metric", data: `[{"platform":"google"}]`},
		},
		{
			name:  "revenue update without data",
			event: Event{Kind: KindRevenueUpdate},
			want:  broadcastCall{method: "revenue", data: `null`},
		},
		{
			name:  "alert",
			event: NewAlertEvent("critical", "Payments", "Digistore webhook failing"),
			want:  broadcastCall{method: "alert", level: "critical", title: "Payments", msg: "Digistore webhook failing"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newRecordingBroadcaster()
			require.NoError(t, Dispatch(b, tt.event))
			assert.Equal(t, tt.want, b.next(t))
		})
	}

	assert.ErrorIs(t, Dispatch(newRecordingBroadcaster(), Event{Kind: "lead_update"}), ErrUnknownKind)
}

func TestNewProducer(t *testing.T) {
	tests := []struct {
		name    string
		client  *redis.Client
		stream  string
		opts    []ProducerOption
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid configuration",
			client: redis.NewClient(&redis.Options{}),
			stream: "test-stream",
		},
		{
			name:    "nil client",
			client:  nil,
			stream:  "test-stream",
			wantErr: true,
			errMsg:  "redis client cannot be nil",
		},
		{
			name:    "empty stream",
			client:  redis.NewClient(&redis.Options{}),
			stream:  "",
			wantErr: true,
			errMsg:  "stream cannot be empty",
		},
		{
			name:   "with custom options",
			client: redis.NewClient(&redis.Options{}),
			stream: "test-stream",
			opts: []ProducerOption{
				WithProducerLogger(slog.Default()),
				WithProducerBufferSize(200),
				WithProducerMaxLen(0),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)

			producer, err := NewProducer(tt.client, tt.stream, tt.opts...)

			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				assert.Nil(t, producer)
			} else {
				assert.NoError(t, err)
				assert.NotNil(t, producer)
				producer.Close()
			}

			if tt.client != nil {
				tt.client.Close()
			}
		})
	}
}

func TestNewConsumer(t *testing.T) {
	client := redis.NewClient(&redis.Options{})
	defer client.Close()

	_, err := NewConsumer(nil, "s", newRecordingBroadcaster())
	assert.ErrorContains(t, err, "redis client cannot be nil")

	_, err = NewConsumer(client, "", newRecordingBroadcaster())
	assert.ErrorContains(t, err, "stream cannot be empty")

	_, err = NewConsumer(client, "s", nil)
	assert.ErrorContains(t, err, "broadcaster cannot be nil")
}

func TestProducer_PublishAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	client := redis.NewClient(&redis.Options{})
	defer client.Close()

	producer, err := NewProducer(client, "test-stream")
	require.NoError(t, err)

	assert.ErrorIs(t, producer.Publish(NewAlertEvent("info", "t", "m")), ErrClosed)
}

func TestProducer_CloseFlushesAcceptedEvents(t *testing.T) {
	_, client := setupMiniredis(t)

	producer, err := NewProducer(client, "intelhub-triggers", WithProducerBufferSize(8))
	require.NoError(t, err)
	producer.Start()

	const n = 200
	for i := 0; i < n; i++ {
		require.NoError(t, producer.Publish(NewAlertEvent("info", "Batch", fmt.Sprintf("event %d", i))))
	}
	require.NoError(t, producer.Close())

	length, err := client.XLen(context.Background(), "intelhub-triggers").Result()
	require.NoError(t, err)
	assert.EqualValues(t, n, length)

	// 依發布順序寫入
	entries, err := client.XRange(context.Background(), "intelhub-triggers", "-", "+").Result()
	require.NoError(t, err)
	first, err := decodeEntry(entries[0].Values)
	require.NoError(t, err)
	last, err := decodeEntry(entries[n-1].Values)
	require.NoError(t, err)
	assert.Equal(t, "event 0", first.Message)
	assert.Equal(t, fmt.Sprintf("event %d", n-1), last.Message)

	assert.ErrorIs(t, producer.Publish(NewAlertEvent("info", "late", "after close")), ErrClosed)
	assert.NoError(t, producer.Close())
}

func TestProducer_CloseReportsFailedEvents(t *testing.T) {
	mr, client := setupMiniredis(t)
	mr.SetError("ERR injected failure")

	producer, err := NewProducer(client, "intelhub-triggers",
		WithProducerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	producer.Start()

	for i := 0; i < 3; i++ {
		require.NoError(t, producer.Publish(NewAlertEvent("info", "t", "m")))
	}
	assert.ErrorContains(t, producer.Close(), "3 events failed to publish")
}

func TestProducer_CloseFlushTimeout(t *testing.T) {
	// 只接受連線、從不回應的伺服器，讓 XADD 卡在讀取
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var conns []net.Conn
	var mu sync.Mutex
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, conn)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})

	client := redis.NewClient(&redis.Options{
		Addr:        ln.Addr().String(),
		ReadTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	producer, err := NewProducer(client, "intelhub-triggers",
		WithProducerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithProducerFlushTimeout(50*time.Millisecond))
	require.NoError(t, err)
	producer.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, producer.Publish(NewAlertEvent("info", "t", "m")))
	}
	assert.ErrorContains(t, producer.Close(), "flush timed out")
}

func TestProducerConsumer_EndToEnd(t *testing.T) {
	mr, client := setupMiniredis(t)

	producer, err := NewProducer(client, "intelhub-triggers")
	require.NoError(t, err)
	producer.Start()
	defer producer.Close()

	event, err := NewUpdateEvent(KindProcessUpdate, map[string]string{"id": "p1", "status": "failed"})
	require.NoError(t, err)
	require.NoError(t, producer.Publish(event))

	id, err := producer.PublishSync(context.Background(), NewAlertEvent("warning", "Funnel", "conversion dropped"))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	assert.Eventually(t, func() bool {
		entries, err := mr.Stream("intelhub-triggers")
		return err == nil && len(entries) == 2
	}, 2*time.Second, 10*time.Millisecond)

	b := newRecordingBroadcaster()
	consumer, err := NewConsumer(client, "intelhub-triggers", b,
		WithConsumerStartID("0"),
		WithConsumerBlockTimeout(50*time.Millisecond),
		WithConsumerRetryDelay(10*time.Millisecond),
	)
	require.NoError(t, err)
	consumer.Start()
	defer consumer.Close()

	calls := []broadcastCall{b.next(t), b.next(t)}
	assert.ElementsMatch(t, []broadcastCall{
		{method: "process", data: `{"id":"p1","status":"failed"}`},
		{method: "alert", level: "warning", title: "Funnel", msg: "conversion dropped"},
	}, calls)
}

func TestConsumer_SkipsEntriesBeforeStart(t *testing.T) {
	_, client := setupMiniredis(t)
	ctx := context.Background()

	producer, err := NewProducer(client, "intelhub-triggers")
	require.NoError(t, err)
	producer.Start()
	defer producer.Close()

	_, err = producer.PublishSync(ctx, NewAlertEvent("info", "old", "published before start"))
	require.NoError(t, err)

	b := newRecordingBroadcaster()
	consumer, err := NewConsumer(client, "intelhub-triggers", b,
		WithConsumerBlockTimeout(50*time.Millisecond),
		WithConsumerRetryDelay(10*time.Millisecond),
	)
	require.NoError(t, err)
	consumer.Start()
	defer consumer.Close()

	// 在 Start 之後立即寫入，不能因為 XREAD 的間隙遺失
	_, err = producer.PublishSync(ctx, NewAlertEvent("info", "new", "published after start"))
	require.NoError(t, err)

	assert.Equal(t, broadcastCall{method: "alert", level: "info", title: "new", msg: "published after start"}, b.next(t))
	select {
	case call := <-b.calls:
		t.Fatalf("unexpected broadcast: %+v", call)
	case <-time.After(100 * time.Millisecond):
	}
}
