package websocket

import (
	"context"
	"encoding/json"
	"log"

	"chatsync/internal/imtypes"
	"chatsync/internal/presence"
)

// Hub maintains the set of active clients and routes outbound event
// envelopes to them. 一个用户可以同时持有多个连接（多端/多标签页），
// 因此按 userID → connID 两级索引。
type Hub struct {
	// Registered clients: userID → connID → Client.
	clients map[uint]map[string]*Client

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Outbound envelopes addressed to a user (or a single connection).
	outbound chan *imtypes.Envelope

	// registry 与 clients 同步维护，回答调度器的在线查询。
	registry *presence.Registry

	// onRegister 在每个新连接注册后被调用（独立 goroutine）。
	// 重连同步引擎挂在这里：每个新连接都会收到自己的未投递批次。
	onRegister func(cc imtypes.ConnContext)
}

// NewHub creates a new Hub.
func NewHub(registry *presence.Registry) *Hub {
	return &Hub{
		clients:    make(map[uint]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		outbound:   make(chan *imtypes.Envelope, 256),
		registry:   registry,
	}
}

// SetOnRegister 设置新连接注册后的回调。必须在 Run 之前调用。
func (h *Hub) SetOnRegister(fn func(cc imtypes.ConnContext)) {
	h.onRegister = fn
}

// Deliver hands an envelope to the hub for delivery. Non-blocking:
// 队列满时丢弃——被丢的事件会经由下一次重连同步自愈，
// 回执记录才是投递成功与否的唯一耐久凭据。
func (h *Hub) Deliver(env *imtypes.Envelope) {
	select {
	case h.outbound <- env:
	default:
		log.Printf("警告: Hub outbound 队列已满，丢弃发往用户 %d 的 %s 事件", env.UserID, env.Event.Type)
	}
}

// Run starts the hub and listens for messages on its channels.
func (h *Hub) Run() {
	log.Println("WebSocket Hub Run loop started.")
	for {
		select {
		case client := <-h.register:
			conns, ok := h.clients[client.Ctx.UserID]
			if !ok {
				conns = make(map[string]*Client)
				h.clients[client.Ctx.UserID] = conns
			}
			conns[client.Ctx.ConnID] = client
			h.registry.Register(context.Background(), client.Ctx.UserID, client.Ctx.ConnID)
			log.Printf("客户端已注册: UserID %d, ConnID %s", client.Ctx.UserID, client.Ctx.ConnID)
			if h.onRegister != nil {
				// 同步查询和推送可能阻塞，不能占用 Run 循环
				go h.onRegister(client.Ctx)
			}

		case client := <-h.unregister:
			if conns, ok := h.clients[client.Ctx.UserID]; ok {
				if stored, ok := conns[client.Ctx.ConnID]; ok && stored == client {
					h.dropClient(client)
				}
			}

		case env := <-h.outbound:
			h.dispatch(env)
		}
	}
}

// dispatch 将一个信封投递到目标连接。ConnID 为空时发给该用户的全部连接。
func (h *Hub) dispatch(env *imtypes.Envelope) {
	conns, ok := h.clients[env.UserID]
	if !ok {
		// 用户未连接到本 Hub 实例；消息的回执仍是 null，
		// 会在其下一次重连同步时补投。
		return
	}

	msgBytes, err := json.Marshal(env.Event)
	if err != nil {
		log.Printf("错误: 无法序列化发往用户 %d 的 %s 事件: %v", env.UserID, env.Event.Type, err)
		return
	}

	// 注册表与 clients 同步维护（都只在 Run 循环里变更），
	// 从它拿连接ID快照，循环内的 dropClient 不影响遍历。
	for _, connID := range h.registry.ConnectionsFor(env.UserID) {
		if env.ConnID != "" && env.ConnID != connID {
			continue
		}
		client, ok := conns[connID]
		if !ok {
			continue
		}
		select {
		case client.send <- msgBytes:
		default:
			// 发送缓冲已满，视为连接已死。对"用户"而言不算投递失败：
			// 其他连接仍可能收到，收不到也有重连同步兜底。
			log.Printf("警告: 用户 %d 连接 %s 的发送通道已满，移除该连接。", env.UserID, connID)
			h.dropClient(client)
		}
	}
}

// dropClient 关闭并移除一个连接，同步更新在线注册表。
func (h *Hub) dropClient(client *Client) {
	conns, ok := h.clients[client.Ctx.UserID]
	if !ok {
		return
	}
	if _, ok := conns[client.Ctx.ConnID]; !ok {
		return
	}
	delete(conns, client.Ctx.ConnID)
	if len(conns) == 0 {
		delete(h.clients, client.Ctx.UserID)
	}
	close(client.send)
	h.registry.Unregister(context.Background(), client.Ctx.UserID, client.Ctx.ConnID)
	log.Printf("客户端已注销: UserID %d, ConnID %s", client.Ctx.UserID, client.Ctx.ConnID)
}
