package triggers

import (
	"encoding/json"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

type broadcastCall struct {
	method string
	data   string
	level  string
	title  string
	msg    string
}

// recordingBroadcaster 記錄每一次廣播呼叫
type recordingBroadcaster struct {
	calls chan broadcastCall
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{calls: make(chan broadcastCall, 10)}
}

func (r *recordingBroadcaster) record(method string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.calls <- broadcastCall{method: method, data: string(data)}
	return nil
}

func (r *recordingBroadcaster) BroadcastProcessUpdate(process any) error {
	return r.record("process", process)
}

func (r *recordingBroadcaster) BroadcastMetricUpdate(metrics any) error {
	return r.record("metric", metrics)
}

func (r *recordingBroadcaster) BroadcastRevenueUpdate(revenue any) error {
	return r.record("revenue", revenue)
}

func (r *recordingBroadcaster) BroadcastAlert(level, title, message string) error {
	r.calls <- broadcastCall{method: "alert", level: level, title: title, msg: message}
	return nil
}

func (r *recordingBroadcaster) next(t *testing.T) broadcastCall {
	t.Helper()
	select {
	case call := <-r.calls:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("did not receive broadcast in time")
		return broadcastCall{}
	}
}

func setupMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}
