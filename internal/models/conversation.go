package models

import "time"

// ConversationType 定义了会话的类型。
type ConversationType string

const (
	PrivateConversation ConversationType = "private" // 一对一聊天
	GroupConversation   ConversationType = "group"   // 群组聊天
)

// Conversation 代表一个聊天会话（一对一或群组）。
type Conversation struct {
	BaseModel
	Type ConversationType `gorm:"type:varchar(20);not null;index" json:"type"`

	// LastMessageID 可用于快速获取最后一条消息以供显示。
	// 新会话可能还没有消息，因此可为空。
	LastMessageID *string `gorm:"type:uuid;index" json:"lastMessageId,omitempty"`

	// 关联关系（实际成员关系由 ConversationParticipant 管理）
	Users        []*User                   `gorm:"many2many:conversation_participants;" json:"users,omitempty"`
	Messages     []Message                 `gorm:"foreignKey:ConversationID" json:"messages,omitempty"`
	Participants []ConversationParticipant `gorm:"foreignKey:ConversationID" json:"participants,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// IsGroup reports whether the conversation is a group chat.
func (c *Conversation) IsGroup() bool {
	return c.Type == GroupConversation
}

// ConversationParticipant 将用户链接到会话。
// 此表对于私聊（2个参与者）和群聊（多个参与者）都至关重要。
// JoinedAt 决定该成员对哪些历史消息负有回执义务：只有加入之后发送的消息
// 才会为其创建回执记录，之前的历史对其不可见。
type ConversationParticipant struct {
	BaseModel
	ConversationID uint      `gorm:"uniqueIndex:idx_convo_user;not null" json:"conversationId"`
	UserID         uint      `gorm:"uniqueIndex:idx_convo_user;not null" json:"userId"`
	JoinedAt       time.Time `json:"joinedAt"`
	IsAdmin        bool      `gorm:"default:false" json:"isAdmin,omitempty"` // 仅群聊相关

	// 关联关系
	User         User         `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Conversation Conversation `gorm:"foreignKey:ConversationID" json:"conversation,omitempty"`
}

// TableName 指定 ConversationParticipant 模型的表名。
func (ConversationParticipant) TableName() string {
	return "conversation_participants"
}
