package models

import "time"

// Message 代表存储在数据库中的聊天消息。
// 主键是客户端在发送时生成的 UUID：这样重发同一条消息（客户端没收到
// send_ack 时的重试）在存储层表现为主键冲突，可以安全地当作"已完成"处理。
// 消息一经创建不可变，除软编辑/软删除字段外；删除只替换展示内容，
// 行本身必须保留，否则回执历史会失去引用。
type Message struct {
	ID             string `gorm:"type:uuid;primaryKey" json:"messageId"`
	ConversationID uint   `gorm:"index;not null" json:"conversationId"`
	SenderID       uint   `gorm:"index;not null" json:"senderId"`

	// Content 与 FileURL 二者取其一：文本消息填 Content，
	// 文件消息填外部 blob 存储返回的 URL。
	Content *string `gorm:"type:text" json:"content"`
	FileURL *string `gorm:"type:varchar(512)" json:"fileUrl"`

	// SentAt 由发送方时钟在创建时赋值，用于会话内排序。
	SentAt    time.Time  `gorm:"not null;index" json:"sentAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"` // 软删除时间；行不做物理删除

	// 关联关系
	Sender       User             `gorm:"foreignKey:SenderID" json:"sender,omitempty"`
	Conversation Conversation     `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
	Receipts     []MessageReceipt `gorm:"foreignKey:MessageID" json:"receipts,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// IsDeleted reports whether the message has been soft-deleted.
func (m *Message) IsDeleted() bool {
	return m.DeletedAt != nil
}

// MessageReceipt 是每条消息对每个接收者的投递/已读状态记录，
// 在消息写入时按"当时的成员集合减去发送者"逐一创建。
// DeliveredAt 和 SeenAt 单调：从未设置到设置，绝不回退或改写；
// 重复的回执对已设置的字段是 no-op。SeenAt 非空时 DeliveredAt 必然非空。
type MessageReceipt struct {
	MessageID   string     `gorm:"type:uuid;primaryKey" json:"messageId"`
	UserID      uint       `gorm:"primaryKey;index:idx_receipts_undelivered" json:"userId"`
	DeliveredAt *time.Time `gorm:"index:idx_receipts_undelivered" json:"deliverAt,omitempty"`
	SeenAt      *time.Time `json:"seenAt,omitempty"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// TableName 指定 MessageReceipt 模型的表名。
func (MessageReceipt) TableName() string {
	return "message_receipts"
}

// ReceiptCounts 是按回执行实时推导的聚合计数，用于客户端渲染
// 单勾/双勾。它从不单独持久化，因此不可能与逐用户记录漂移。
type ReceiptCounts struct {
	DeliverCount int `json:"deliverCount"`
	SeenCount    int `json:"seenCount"`
}
