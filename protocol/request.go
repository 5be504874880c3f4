package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed 表示收到的資料不是合法的訊息
var ErrMalformed = errors.New("malformed message")

// UnknownTypeError 表示訊息類型無法辨識
type UnknownTypeError struct {
	Type Type
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type: %q", string(e.Type))
}

// Request 是客戶端可送出的請求，集合是封閉的，
// 只有本套件中的型別能實作它。
type Request interface {
	// ID 回傳請求識別碼，客戶端未提供時為空字串
	ID() string
	// Message 將請求轉換為可送出的信封
	Message() Message
	isRequest()
}

type base struct {
	RequestID string
}

func (b base) ID() string { return b.RequestID }
func (base) isRequest()   {}

type Subscribe struct {
	base
	Channel string
}

type Unsubscribe struct {
	base
	Channel string
}

type Ping struct {
	base
}

type GetProcesses struct {
	base
}

// GetMetrics 取得指定平台的指標，Platform 為空時取得全部
type GetMetrics struct {
	base
	Platform string
}

// GetRevenue 取得指定區間的營收，Timeframe 為空時取得最新資料
type GetRevenue struct {
	base
	Timeframe string
}

func (r Subscribe) Message() Message {
	m := newMessage(TypeSubscribe)
	m.RequestID = r.RequestID
	m.Channel = r.Channel
	return m
}

func (r Unsubscribe) Message() Message {
	m := newMessage(TypeUnsubscribe)
	m.RequestID = r.RequestID
	m.Channel = r.Channel
	return m
}

func (r Ping) Message() Message {
	m := newMessage(TypePing)
	m.RequestID = r.RequestID
	return m
}

func (r GetProcesses) Message() Message {
	m := newMessage(TypeGetProcesses)
	m.RequestID = r.RequestID
	return m
}

func (r GetMetrics) Message() Message {
	m := newMessage(TypeGetMetrics)
	m.RequestID = r.RequestID
	m.Platform = r.Platform
	return m
}

func (r GetRevenue) Message() Message {
	m := newMessage(TypeGetRevenue)
	m.RequestID = r.RequestID
	m.Timeframe = r.Timeframe
	return m
}

// NewSubscribe 建立訂閱請求
func NewSubscribe(requestID, channel string) Subscribe {
	return Subscribe{base: base{RequestID: requestID}, Channel: channel}
}

// NewUnsubscribe 建立取消訂閱請求
func NewUnsubscribe(requestID, channel string) Unsubscribe {
	return Unsubscribe{base: base{RequestID: requestID}, Channel: channel}
}

// NewPing 建立 ping 請求
func NewPing(requestID string) Ping {
	return Ping{base: base{RequestID: requestID}}
}

// NewGetProcesses 建立流程快照請求
func NewGetProcesses(requestID string) GetProcesses {
	return GetProcesses{base: base{RequestID: requestID}}
}

// NewGetMetrics 建立指標快照請求
func NewGetMetrics(requestID, platform string) GetMetrics {
	return GetMetrics{base: base{RequestID: requestID}, Platform: platform}
}

// NewGetRevenue 建立營收快照請求
func NewGetRevenue(requestID, timeframe string) GetRevenue {
	return GetRevenue{base: base{RequestID: requestID}, Timeframe: timeframe}
}

// wireRequest 只取請求需要的欄位，客戶端帶的 timestamp 不解析
type wireRequest struct {
	Type      Type   `json:"type"`
	Channel   string `json:"channel"`
	Platform  string `json:"platform"`
	Timeframe string `json:"timeframe"`
	RequestID string `json:"requestId"`
}

// ParseRequest 將原始資料解析為請求。
// 非 JSON 或缺少 type 時回傳 ErrMalformed，類型未知時回傳 *UnknownTypeError。
func ParseRequest(raw []byte) (Request, error) {
	var m wireRequest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if m.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	b := base{RequestID: m.RequestID}
	switch m.Type {
	case TypeSubscribe:
		if m.Channel == "" {
			return nil, fmt.Errorf("%w: subscribe requires a channel", ErrMalformed)
		}
		return Subscribe{base: b, Channel: m.Channel}, nil
	case TypeUnsubscribe:
		if m.Channel == "" {
			return nil, fmt.Errorf("%w: unsubscribe requires a channel", ErrMalformed)
		}
		return Unsubscribe{base: b, Channel: m.Channel}, nil
	case TypePing:
		return Ping{base: b}, nil
	case TypeGetProcesses:
		return GetProcesses{base: b}, nil
	case TypeGetMetrics:
		return GetMetrics{base: b, Platform: m.Platform}, nil
	case TypeGetRevenue:
		return GetRevenue{base: b, Timeframe: m.Timeframe}, nil
	default:
		return nil, &UnknownTypeError{Type: m.Type}
	}
}
