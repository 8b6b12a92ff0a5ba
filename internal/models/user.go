package models

// User 代表系统中的用户。账户管理（注册、密码、资料编辑）由外部子系统负责，
// 这里只保留消息引擎做外键关联和展示所需的最小字段。
type User struct {
	BaseModel
	Username  string `gorm:"type:varchar(100);uniqueIndex;not null" json:"username"`
	Nickname  string `gorm:"type:varchar(100)" json:"nickname,omitempty"`
	AvatarURL string `gorm:"type:varchar(255)" json:"avatarUrl,omitempty"`

	// 关联关系
	Messages      []Message       `gorm:"foreignKey:SenderID" json:"messages,omitempty"`
	Conversations []*Conversation `gorm:"many2many:conversation_participants;" json:"conversations,omitempty"`
}

// TableName 指定 User 模型的表名。
func (User) TableName() string {
	return "users"
}
