package wsclient

import (
	"encoding/json"
	"io"
	"log"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"intelhub/protocol"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// testServer 是最小的 WebSocket 伺服器：送出 connection 回應、記錄收到的訊息，
// 並對快照請求回傳帶有相同 requestId 的回應
type testServer struct {
	*httptest.Server
	received chan protocol.Message
	conns    chan *websocket.Conn
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newGatedTestServer(t, nil)
}

// newGatedTestServer 在送出 connection 回應後等待 gate 關閉才開始讀取，
// 讓客戶端的寫入塞滿 TCP 緩衝
func newGatedTestServer(t *testing.T, gate <-chan struct{}) *testServer {
	t.Helper()
	s := &testServer{
		received: make(chan protocol.Message, 200),
		conns:    make(chan *websocket.Conn, 10),
	}
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
		defer conn.Close()

		if data, err := protocol.NewConnection("test-client").Encode(); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		if gate != nil {
			<-gate
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			req, err := protocol.ParseRequest(raw)
			if err != nil {
				continue
			}
			s.received <- req.Message()

			if _, ok := req.(protocol.GetProcesses); ok {
				reply := protocol.NewProcesses(req.ID(), json.RawMessage(`[{"id":"p1"}]`))
				if data, err := reply.Encode(); err == nil {
					_ = conn.WriteMessage(websocket.TextMessage, data)
				}
			}
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

// nextConn 取得伺服器端最新接受的連線
func (s *testServer) nextConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("server did not accept a connection in time")
		return nil
	}
}

func (s *testServer) next(t *testing.T) protocol.Message {
	t.Helper()
	select {
	case msg := <-s.received:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive a message in time")
		return protocol.Message{}
	}
}

func (s *testServer) expectNoConn(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case <-s.conns:
		t.Fatal("unexpected connection")
	case <-time.After(d):
	}
}

func newTestClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithBaseDelay(10 * time.Millisecond),
		WithMaxDelay(40 * time.Millisecond),
	}, opts...)
	c, err := NewClient(url, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return c
}
