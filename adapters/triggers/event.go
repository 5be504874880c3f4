package triggers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Kind 是觸發事件的種類
type Kind string

const (
	KindProcessUpdate Kind = "process_update"
	KindMetricUpdate  Kind = "metric_update"
	KindRevenueUpdate Kind = "revenue_update"
	KindAlert         Kind = "alert"
)

var (
	ErrUnknownKind = errors.New("unknown event kind")
	ErrEmptyEntry  = errors.New("stream entry has no data field")
)

// Event 是外部業務邏輯要求廣播的事件。
// Data 為 JSON 編碼的領域物件；告警使用 Level、Title 與 Message。
type Event struct {
	Kind    Kind   `msgpack:"kind"`
	Data    []byte `msgpack:"data,omitempty"`
	Level   string `msgpack:"level,omitempty"`
	Title   string `msgpack:"title,omitempty"`
	Message string `msgpack:"message,omitempty"`
}

// NewUpdateEvent 將領域物件序列化為更新事件
func NewUpdateEvent(kind Kind, payload any) (Event, error) {
	switch kind {
	case KindProcessUpdate, KindMetricUpdate, KindRevenueUpdate:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("json marshal error: %w", err)
	}
	return Event{Kind: kind, Data: data}, nil
}

// NewAlertEvent 建立告警事件
func NewAlertEvent(level, title, message string) Event {
	return Event{Kind: KindAlert, Level: level, Title: title, Message: message}
}

// encodeEntry 將事件轉換為 stream entry 的欄位
func encodeEntry(event Event) (map[string]any, error) {
	// 使用 msgpack 序列化
	bytes, err := msgpack.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("msgpack marshal error: %w", err)
	}

	// base64編碼後封裝成map
	return map[string]any{
		"data": base64.StdEncoding.EncodeToString(bytes),
	}, nil
}

// decodeEntry 將 stream entry 的欄位轉換為事件
func decodeEntry(values map[string]any) (Event, error) {
	var event Event

	// 獲取data字段
	raw, ok := values["data"]
	if !ok {
		return event, ErrEmptyEntry
	}
	dataStr, ok := raw.(string)
	if !ok {
		return event, fmt.Errorf("data field has invalid type %T", raw)
	}

	// base64解碼
	bytes, err := base64.StdEncoding.DecodeString(dataStr)
	if err != nil {
		return event, fmt.Errorf("base64 decode error: %w", err)
	}

	// msgpack反序列化
	if err := msgpack.Unmarshal(bytes, &event); err != nil {
		return event, fmt.Errorf("msgpack unmarshal error: %w", err)
	}
	return event, nil
}
