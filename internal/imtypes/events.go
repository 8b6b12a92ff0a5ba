package imtypes

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClientEventType 标识客户端经 WebSocket 上行的事件类型。
type ClientEventType string

const (
	SendMessageEvent   ClientEventType = "send_message"
	AckDeliveryEvent   ClientEventType = "acknowledge_delivery"
	AckSeenEvent       ClientEventType = "acknowledge_seen"
	EditMessageEvent   ClientEventType = "edit_message"
	DeleteMessageEvent ClientEventType = "delete_message"
)

// ServerEventType 标识服务端下行推送的事件类型。
type ServerEventType string

const (
	NewMessageEvent          ServerEventType = "new_message"
	SendAckEvent             ServerEventType = "send_ack"
	StatusChangedEvent       ServerEventType = "status_changed"
	UndeliveredMessagesEvent ServerEventType = "undelivered_messages"
	UpdateMessageEvent       ServerEventType = "update_message"
	RemoveMessageEvent       ServerEventType = "remove_message"
	RejectedEvent            ServerEventType = "operation_rejected"
)

// ClientEvent is the tagged-variant envelope for everything a client sends
// over the socket. Handlers switch on Type and unmarshal Payload into the
// matching input struct.
type ClientEvent struct {
	Type    ClientEventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// ServerEvent is the tagged-variant envelope for everything pushed to a
// client. Payload is marshaled eagerly so the hub only moves bytes.
type ServerEvent struct {
	Type    ServerEventType `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewServerEvent 构造一个下行事件，立即序列化 payload。
func NewServerEvent(t ServerEventType, payload any) (ServerEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return ServerEvent{}, fmt.Errorf("序列化 %s 事件负载失败: %w", t, err)
	}
	return ServerEvent{Type: t, Payload: raw}, nil
}

// SendMessageInput 是 send_message 的负载。MessageID 由客户端在发送时生成
// （UUID），既支撑乐观 UI，也让丢 ack 后的重发具备幂等性。
type SendMessageInput struct {
	ConversationID uint      `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	Content        *string   `json:"content,omitempty"`
	FileURL        *string   `json:"fileUrl,omitempty"`
	SentAt         time.Time `json:"sentAt"`
}

// AckInput 是 acknowledge_delivery / acknowledge_seen 的负载。
// 客户端可以把同一会话里的多条消息批量确认。
type AckInput struct {
	ConversationID uint      `json:"conversationId"`
	MessageIDs     []string  `json:"messageIds"`
	At             time.Time `json:"at"`
}

// EditMessageInput 是 edit_message 的负载。
type EditMessageInput struct {
	MessageID string    `json:"messageId"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DeleteMessageInput 是 delete_message 的负载。
type DeleteMessageInput struct {
	MessageID string    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}

// MessageView 是消息的下行投影，附带按回执行推导的聚合计数。
type MessageView struct {
	MessageID      string     `json:"messageId"`
	ConversationID uint       `json:"conversationId"`
	SenderID       uint       `json:"senderId"`
	Content        *string    `json:"content"`
	FileURL        *string    `json:"fileUrl"`
	SentAt         time.Time  `json:"sentAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	DeletedAt      *time.Time `json:"deletedAt,omitempty"`
	DeliverCount   int        `json:"deliverCount"`
	SeenCount      int        `json:"seenCount"`
}

// StatusChange 是 status_changed 的负载，推送给发送者：某个接收者的
// 投递或已读时间点被首次记录。状态永远以持久的 messageId 关联，
// 绝不按客户端缓存里的数组下标对位。
type StatusChange struct {
	MessageID string     `json:"messageId"`
	UserID    uint       `json:"userId"`
	DeliverAt *time.Time `json:"deliverAt,omitempty"`
	SeenAt    *time.Time `json:"seenAt,omitempty"`
}

// SendAck 是 send_ack 的负载：消息已持久化，发送方可以停止展示
// 待发送指示。它与投递确认是两个独立信号。
type SendAck struct {
	MessageID string `json:"messageId"`
}

// ConversationBatch 按会话分组一段消息，组内按 sentAt 升序。
type ConversationBatch struct {
	ConversationID uint          `json:"conversationId"`
	Messages       []MessageView `json:"messages"`
}

// UndeliveredBatch 是 undelivered_messages 的负载，在重连时
// 一次性推给新建立的连接。
type UndeliveredBatch struct {
	Conversations []ConversationBatch `json:"conversations"`
}

// OperationRejected 是 operation_rejected 的负载：某个上行事件被拒绝，
// 服务端状态无任何变化。只回给发起操作的那个连接。
type OperationRejected struct {
	RequestType ClientEventType `json:"requestType"`
	Reason      string          `json:"reason"`
}

// MessageUpdate 是 update_message 的负载。
type MessageUpdate struct {
	MessageID string    `json:"messageId"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// MessageRemove 是 remove_message 的负载。
type MessageRemove struct {
	MessageID string    `json:"messageId"`
	DeletedAt time.Time `json:"deletedAt"`
}
