package hub

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// websocketTransport 將 gorilla 的連線包裝為 Transport
type websocketTransport struct {
	conn      *websocket.Conn
	writeWait time.Duration
	closeOnce sync.Once
	closeErr  error
}

func newWebsocketTransport(conn *websocket.Conn, writeWait time.Duration) *websocketTransport {
	return &websocketTransport{
		conn:      conn,
		writeWait: writeWait,
	}
}

func (t *websocketTransport) Write(data []byte) error {
	if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeWait)); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *websocketTransport) Ping() error {
	return t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.writeWait))
}

func (t *websocketTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
			time.Now().Add(t.writeWait),
		)
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// ServeWebsocket 接管一條已升級的 WebSocket 連線：
// 註冊連線、以 pong 更新存活時間，並持續讀取訊息直到連線結束。
func (h *Hub) ServeWebsocket(conn *websocket.Conn) error {
	id, err := h.Accept(newWebsocketTransport(conn, h.options.writeWait))
	if err != nil {
		return err
	}

	conn.SetReadLimit(h.options.readLimit)
	conn.SetPongHandler(func(string) error {
		h.Touch(id)
		return nil
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Info("connection closed unexpectedly", slog.String("connectionId", id), slog.Any("error", err))
			}
			h.Remove(id, err)
			return nil
		}
		if err := h.HandleInbound(id, raw); err != nil {
			if errors.Is(err, ErrConnectionNotFound) {
				// 已被存活檢查或寫入錯誤移除
				return nil
			}
			h.logger.Error("failed to handle message", slog.String("connectionId", id), slog.Any("error", err))
		}
	}
}
