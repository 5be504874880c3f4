package hub

import (
	"encoding/json"
	"fmt"

	"intelhub/protocol"
)

// 以下為外部業務邏輯呼叫的廣播入口，每個入口對應固定的頻道與訊息類型。
// 傳入的資料必須可以序列化為 JSON；json.RawMessage 會原樣送出。

// BroadcastProcessUpdate 將流程狀態更新廣播到 processes 頻道
func (h *Hub) BroadcastProcessUpdate(process any) error {
	const op = "hub.BroadcastProcessUpdate"
	data, err := json.Marshal(process)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal process: %w", op, err)
	}
	_, err = h.Broadcast(protocol.ChannelProcesses, protocol.NewProcessUpdate(data))
	return err
}

// BroadcastMetricUpdate 將指標更新廣播到 metrics 頻道
func (h *Hub) BroadcastMetricUpdate(metrics any) error {
	const op = "hub.BroadcastMetricUpdate"
	data, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal metrics: %w", op, err)
	}
	_, err = h.Broadcast(protocol.ChannelMetrics, protocol.NewMetricUpdate(data))
	return err
}

// BroadcastRevenueUpdate 將營收更新廣播到 revenue 頻道
func (h *Hub) BroadcastRevenueUpdate(revenue any) error {
	const op = "hub.BroadcastRevenueUpdate"
	data, err := json.Marshal(revenue)
	if err != nil {
		return fmt.Errorf("%s: failed to marshal revenue: %w", op, err)
	}
	_, err = h.Broadcast(protocol.ChannelRevenue, protocol.NewRevenueUpdate(data))
	return err
}

// BroadcastAlert 將告警廣播給所有連線。
// 標題與內容會在瀏覽器中顯示，因此先移除所有 HTML。
func (h *Hub) BroadcastAlert(level, title, message string) error {
	alert := protocol.NewAlert(level, h.sanitizer.Sanitize(title), h.sanitizer.Sanitize(message))
	_, err := h.Broadcast(protocol.ChannelAll, alert)
	return err
}
