package storage

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"chatsync/internal/apperrors"
	"chatsync/internal/models"
)

// ConversationRepository 定义了会话与成员数据操作的接口。
// 成员管理界面属于外部子系统；引擎只需要读取成员集合做权限校验和回执初始化，
// 外加私聊会话的惰性创建。
type ConversationRepository interface {
	CreateConversation(ctx context.Context, conversation *models.Conversation) error
	GetConversationByID(ctx context.Context, id uint) (*models.Conversation, error)
	GetUserConversations(ctx context.Context, userID uint, limit int, offset int) ([]*models.Conversation, error)
	// SetLastMessage 更新会话的最后一条消息引用，用于列表预览。
	SetLastMessage(ctx context.Context, conversationID uint, messageID string) error
	// FindPrivateConversationByUsers 尝试查找两个用户之间的私聊会话。
	FindPrivateConversationByUsers(ctx context.Context, userID1 uint, userID2 uint) (*models.Conversation, error)

	AddParticipant(ctx context.Context, participant *models.ConversationParticipant) error
	// GetParticipant 返回会话中的特定成员；不是成员时返回包装过的
	// apperrors.ErrForbidden，调度器直接以此拒绝非成员操作。
	GetParticipant(ctx context.Context, conversationID uint, userID uint) (*models.ConversationParticipant, error)
	GetConversationParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error)
}

// gormConversationRepository 使用 GORM 实现 ConversationRepository。
type gormConversationRepository struct {
	db *gorm.DB
}

// NewGormConversationRepository 创建一个新的基于 GORM 的 ConversationRepository。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

// CreateConversation 创建一个新的会话。
func (r *gormConversationRepository) CreateConversation(ctx context.Context, conversation *models.Conversation) error {
	return r.db.WithContext(ctx).Create(conversation).Error
}

// GetConversationByID 通过ID检索会话。
func (r *gormConversationRepository) GetConversationByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).First(&conversation, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("会话 %d: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &conversation, nil
}

// GetUserConversations 获取用户参与的所有会话列表，按会话更新时间倒序。
func (r *gormConversationRepository) GetUserConversations(ctx context.Context, userID uint, limit int, offset int) ([]*models.Conversation, error) {
	var conversations []*models.Conversation
	query := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.updated_at DESC")

	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}

	err := query.Find(&conversations).Error
	return conversations, err
}

// SetLastMessage 更新会话的 LastMessageID 并顺带刷新 updated_at 排序键。
func (r *gormConversationRepository) SetLastMessage(ctx context.Context, conversationID uint, messageID string) error {
	return r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_id", messageID).Error
}

// FindPrivateConversationByUsers 查找两个用户之间的私聊会话。
// 找不到时返回 (nil, nil)，由调用方决定是否创建。
func (r *gormConversationRepository) FindPrivateConversationByUsers(ctx context.Context, userID1 uint, userID2 uint) (*models.Conversation, error) {
	var conversation models.Conversation
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_participants p1 ON p1.conversation_id = conversations.id AND p1.user_id = ?", userID1).
		Joins("JOIN conversation_participants p2 ON p2.conversation_id = conversations.id AND p2.user_id = ?", userID2).
		Where("conversations.type = ?", models.PrivateConversation).
		First(&conversation).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &conversation, nil
}

// AddParticipant 向会话中添加参与者。重复添加视为成功。
func (r *gormConversationRepository) AddParticipant(ctx context.Context, participant *models.ConversationParticipant) error {
	var participantExists int64
	if err := r.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", participant.ConversationID, participant.UserID).
		Count(&participantExists).Error; err != nil {
		return fmt.Errorf("检查参与者是否已存在时出错: %w", err)
	}
	if participantExists > 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(participant).Error
}

// GetParticipant 获取会话中的特定参与者信息。
func (r *gormConversationRepository) GetParticipant(ctx context.Context, conversationID uint, userID uint) (*models.ConversationParticipant, error) {
	var participant models.ConversationParticipant
	err := r.db.WithContext(ctx).
		First(&participant, "conversation_id = ? AND user_id = ?", conversationID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("用户 %d 不是会话 %d 的成员: %w", userID, conversationID, apperrors.ErrForbidden)
		}
		return nil, err
	}
	return &participant, nil
}

// GetConversationParticipants 获取会话的所有参与者记录。
func (r *gormConversationRepository) GetConversationParticipants(ctx context.Context, conversationID uint) ([]*models.ConversationParticipant, error) {
	var participants []*models.ConversationParticipant
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Find(&participants).Error
	return participants, err
}
