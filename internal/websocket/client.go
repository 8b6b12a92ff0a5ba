package websocket

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"chatsync/internal/apperrors"
	"chatsync/internal/config"
	"chatsync/internal/imtypes"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// EventHandler 处理一个已解析的上行事件。连接身份通过 ConnContext
// 显式传入，处理函数不读任何全局状态。
type EventHandler func(ctx context.Context, cc imtypes.ConnContext, event imtypes.ClientEvent) error

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// 连接级身份：认证过的 UserID 加本进程生成的 ConnID。
	Ctx imtypes.ConnContext

	handleEvent EventHandler
}

// readPump pumps events from the websocket connection to the event handler.
func (c *Client) readPump(wsCfg config.WebSocketConfig) {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(time.Duration(wsCfg.PongWaitSeconds) * time.Second))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket 错误 (用户 %d, 连接 %s): %v", c.Ctx.UserID, c.Ctx.ConnID, err)
			}
			break
		}

		if messageType != websocket.TextMessage {
			log.Printf("警告: 用户 %d 发送了非文本消息类型: %d", c.Ctx.UserID, messageType)
			continue
		}

		var event imtypes.ClientEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			log.Printf("错误: 无法反序列化来自用户 %d 的事件: %v, 原始消息: %s", c.Ctx.UserID, err, string(raw))
			continue
		}

		if c.handleEvent == nil {
			log.Printf("警告: 连接 %s 的事件处理器未初始化，事件 %s 未处理。", c.Ctx.ConnID, event.Type)
			continue
		}
		if err := c.handleEvent(context.Background(), c.Ctx, event); err != nil {
			// 校验类错误只关乎这一个事件，连接继续存活；
			// 但拒绝必须让发起方知道，不能只留在服务端日志里
			log.Printf("处理用户 %d 的 %s 事件失败: %v", c.Ctx.UserID, event.Type, err)
			if raw, ok := rejectionMessage(event.Type, err); ok {
				select {
				case c.send <- raw:
				default:
					// 发送缓冲已满，连接的死活交由 Hub 判定
				}
			}
		}
	}
}

// rejectionMessage 构造发回发起连接的 operation_rejected 消息。
// 分类内的错误（Forbidden、NotFound 等）原样透出；
// 内部错误只给笼统原因，细节留在服务端日志。
func rejectionMessage(t imtypes.ClientEventType, handleErr error) ([]byte, bool) {
	reason := "服务器内部错误"
	if apperrors.IsClientFault(handleErr) {
		reason = handleErr.Error()
	}
	event, err := imtypes.NewServerEvent(imtypes.RejectedEvent, imtypes.OperationRejected{
		RequestType: t,
		Reason:      reason,
	})
	if err != nil {
		return nil, false
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return nil, false
	}
	return raw, true
}

// writePump pumps messages from the hub to the websocket connection.
func (c *Client) writePump(wsCfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(wsCfg.PingPeriodSeconds) * time.Second)
	newlineBytes := []byte("\n")
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 尝试聚合发送队列中的其他消息
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write(newlineBytes)
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(time.Duration(wsCfg.WriteWaitSeconds) * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWsPerConnection 处理来自对等方的 websocket 请求。
// userID 必须是已经通过会话层认证的身份；连接ID在这里生成。
func ServeWsPerConnection(hub *Hub, handler EventHandler, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("ServeWsPerConnection - Upgrade失败:", err)
		return
	}
	client := &Client{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
		Ctx: imtypes.ConnContext{
			UserID: userID,
			ConnID: uuid.NewString(),
		},
		handleEvent: handler,
	}
	client.hub.register <- client

	go client.writePump(wsCfg)
	go client.readPump(wsCfg)

	log.Printf("客户端已连接: UserID %d, ConnID %s", userID, client.Ctx.ConnID)
}
