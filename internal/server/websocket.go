package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"drowsewatch/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsReadLimit  = 512
)

// wsMessage はWebSocketで送るメッセージ
type wsMessage struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
	Payload   any    `json:"payload,omitempty"`
}

type wsClient struct {
	id     string
	conn   *websocket.Conn
	states <-chan session.State
}

// wsHub は接続中のWebSocketクライアントへセッション状態を配信する
type wsHub struct {
	controller *session.Controller
	upgrader   websocket.Upgrader

	mu      sync.Mutex
	clients map[string]*wsClient
}

func newWSHub(controller *session.Controller) *wsHub {
	return &wsHub{
		controller: controller,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// ローカル操作用のため接続元は制限しない
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients: make(map[string]*wsClient),
	}
}

// ClientCount は接続中のクライアント数を返す
func (h *wsHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handle はWebSocket接続を確立し、切断まで状態を配信する
func (h *wsHub) handle(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocketのアップグレードに失敗しました")
		return
	}

	id, states := h.controller.Subscribe()
	client := &wsClient{id: id, conn: conn, states: states}

	h.mu.Lock()
	h.clients[id] = client
	h.mu.Unlock()

	log.Info().Str("client", id).Msg("WebSocketクライアントが接続しました")

	go h.writePump(client)
	h.readPump(client)
}

// readPump はクライアントからの切断を検知する
// 受信したメッセージは使わない
func (h *wsHub) readPump(client *wsClient) {
	defer func() {
		h.controller.Unsubscribe(client.id)

		h.mu.Lock()
		delete(h.clients, client.id)
		h.mu.Unlock()

		_ = client.conn.Close()
		log.Info().Str("client", client.id).Msg("WebSocketクライアントが切断しました")
	}()

	client.conn.SetReadLimit(wsReadLimit)
	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		return client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", client.id).Msg("WebSocketの読み込みエラー")
			}
			return
		}
	}
}

// writePump は状態スナップショットとpingを送る
// 購読チャンネルがクローズされたらクローズフレームを送って終了する
func (h *wsHub) writePump(client *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()

	for {
		select {
		case state, ok := <-client.states:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				_ = client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
				return
			}

			msg := wsMessage{
				Type:      "state",
				Timestamp: time.Now().Unix(),
				Payload:   toSessionState(state),
			}
			if err := client.conn.WriteJSON(msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
