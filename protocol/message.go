package protocol

import (
	"encoding/json"
	"time"
)

// Type 是訊息的類型鑑別字串
type Type string

// 客戶端送往伺服器的訊息類型
const (
	TypeSubscribe    Type = "subscribe"
	TypeUnsubscribe  Type = "unsubscribe"
	TypePing         Type = "ping"
	TypeGetProcesses Type = "get_processes"
	TypeGetMetrics   Type = "get_metrics"
	TypeGetRevenue   Type = "get_revenue"
)

// 伺服器送往客戶端的訊息類型
const (
	TypeConnection    Type = "connection"
	TypeSubscribed    Type = "subscribed"
	TypeUnsubscribed  Type = "unsubscribed"
	TypePong          Type = "pong"
	TypeProcesses     Type = "processes"
	TypeMetrics       Type = "metrics"
	TypeRevenue       Type = "revenue"
	TypeProcessUpdate Type = "process_update"
	TypeMetricUpdate  Type = "metric_update"
	TypeRevenueUpdate Type = "revenue_update"
	TypeAlert         Type = "alert"
	TypeError         Type = "error"
)

// 廣播使用的頻道名稱
const (
	ChannelProcesses = "processes"
	ChannelMetrics   = "metrics"
	ChannelRevenue   = "revenue"
	// ChannelAll 是萬用頻道，訂閱者會收到所有廣播
	ChannelAll = "*"
)

// Message 是雙向通用的 JSON 信封。
// 依 Type 的不同，只有部分欄位會被填入。
type Message struct {
	Type      Type            `json:"type"`
	Channel   string          `json:"channel,omitempty"`
	Platform  string          `json:"platform,omitempty"`
	Timeframe string          `json:"timeframe,omitempty"`
	ClientID  string          `json:"clientId,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Level     string          `json:"level,omitempty"`
	Title     string          `json:"title,omitempty"`
	Message   string          `json:"message,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode 將訊息序列化為 JSON
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// Decode 將 JSON 解析為訊息，不檢查類型是否已知
func Decode(raw []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return Message{}, err
	}
	return m, nil
}

var (
	emptyList = json.RawMessage("[]")
	null      = json.RawMessage("null")
)

// now 可在測試中替換
var now = time.Now

func newMessage(t Type) Message {
	return Message{Type: t, Timestamp: now().UTC()}
}

// NewConnection 建立連線確認訊息
func NewConnection(clientID string) Message {
	m := newMessage(TypeConnection)
	m.ClientID = clientID
	return m
}

// NewSubscribed 建立訂閱確認訊息
func NewSubscribed(channel string) Message {
	m := newMessage(TypeSubscribed)
	m.Channel = channel
	return m
}

// NewUnsubscribed 建立取消訂閱確認訊息
func NewUnsubscribed(channel string) Message {
	m := newMessage(TypeUnsubscribed)
	m.Channel = channel
	return m
}

// NewPong 建立 pong 回覆
func NewPong(requestID string) Message {
	m := newMessage(TypePong)
	m.RequestID = requestID
	return m
}

// NewProcesses 建立流程快照回覆，data 為 nil 時回傳空陣列
func NewProcesses(requestID string, data []byte) Message {
	return newSnapshot(TypeProcesses, requestID, data, emptyList)
}

// NewMetrics 建立指標快照回覆，data 為 nil 時回傳空陣列
func NewMetrics(requestID, platform string, data []byte) Message {
	m := newSnapshot(TypeMetrics, requestID, data, emptyList)
	m.Platform = platform
	return m
}

// NewRevenue 建立營收快照回覆，data 為 nil 時回傳 null
func NewRevenue(requestID, timeframe string, data []byte) Message {
	m := newSnapshot(TypeRevenue, requestID, data, null)
	m.Timeframe = timeframe
	return m
}

func newSnapshot(t Type, requestID string, data []byte, fallback json.RawMessage) Message {
	m := newMessage(t)
	m.RequestID = requestID
	if len(data) == 0 {
		m.Data = fallback
	} else {
		m.Data = json.RawMessage(data)
	}
	return m
}

// NewProcessUpdate 建立流程更新廣播
func NewProcessUpdate(data []byte) Message {
	return newUpdate(TypeProcessUpdate, data)
}

// NewMetricUpdate 建立指標更新廣播
func NewMetricUpdate(data []byte) Message {
	return newUpdate(TypeMetricUpdate, data)
}

// NewRevenueUpdate 建立營收更新廣播
func NewRevenueUpdate(data []byte) Message {
	return newUpdate(TypeRevenueUpdate, data)
}

func newUpdate(t Type, data []byte) Message {
	m := newMessage(t)
	if len(data) == 0 {
		m.Data = null
	} else {
		m.Data = json.RawMessage(data)
	}
	return m
}

// NewAlert 建立告警廣播
func NewAlert(level, title, message string) Message {
	m := newMessage(TypeAlert)
	m.Level = level
	m.Title = title
	m.Message = message
	return m
}

// NewError 建立錯誤回覆
func NewError(requestID, message string) Message {
	m := newMessage(TypeError)
	m.RequestID = requestID
	m.Message = message
	return m
}
