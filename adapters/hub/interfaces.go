package hub

import (
	"github.com/gorilla/websocket"

	"intelhub/protocol"
)

// Transport 是單一連線底層的傳輸通道。
// Write 只會由該連線的寫入 goroutine 呼叫；Ping 與 Close 可能與 Write 同時呼叫。
type Transport interface {
	// Write 送出一則文字訊息
	Write(data []byte) error
	// Ping 送出傳輸層的存活探測
	Ping() error
	// Close 關閉傳輸通道，可重複呼叫
	Close() error
}

// IHub 定義了連線註冊表與廣播伺服器的介面
type IHub interface {
	// Accept 註冊一條新連線並回傳其識別碼，連線確認訊息一定是第一則送出的訊息
	Accept(transport Transport) (string, error)
	// HandleInbound 處理某條連線送來的原始訊息
	HandleInbound(connectionID string, raw []byte) error
	// Touch 記錄傳輸層的存活回應
	Touch(connectionID string)
	// Remove 將連線自註冊表移除並關閉傳輸通道
	Remove(connectionID string, reason error)
	// Broadcast 將訊息送給所有訂閱該頻道的連線，回傳成功排入佇列的數量
	Broadcast(channel string, message protocol.Message) (int, error)
	// ServeWebsocket 接管一條 WebSocket 連線直到其結束
	ServeWebsocket(conn *websocket.Conn) error
	// Len 回傳目前的連線數
	Len() int
	// Close 關閉所有連線並停止背景工作
	Close()

	BroadcastProcessUpdate(process any) error
	BroadcastMetricUpdate(metrics any) error
	BroadcastRevenueUpdate(revenue any) error
	BroadcastAlert(level, title, message string) error
}
