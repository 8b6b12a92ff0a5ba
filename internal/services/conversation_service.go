package services

import (
	"context"
	"fmt"
	"time"

	"chatsync/internal/apperrors"
	"chatsync/internal/imtypes"
	"chatsync/internal/models"
	"chatsync/internal/storage"
)

// ConversationService 定义了会话相关服务的接口。
// 群组成员管理界面属于外部子系统；这里只提供引擎自身需要的能力：
// 私聊会话的惰性创建、会话列表、以及带成员校验的分页历史。
type ConversationService interface {
	// GetOrCreatePrivateConversation 获取或创建两个用户之间的私聊会话。
	// 返回会话对象以及一个布尔值，指示会话是否是新创建的。
	GetOrCreatePrivateConversation(ctx context.Context, userID1, userID2 uint) (*models.Conversation, bool, error)
	GetUserConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error)
	// GetConversationMessages 按页读取会话历史。请求者必须是成员，
	// 且只能看到自己 joinedAt 之后的消息。返回条目和 nextPage 游标
	// （0 表示没有下一页）——客户端的无限滚动缓存以这个分页契约为键。
	GetConversationMessages(ctx context.Context, requesterID uint, conversationID uint, page int, pageSize int) ([]imtypes.MessageView, int, error)
}

// conversationService 是 ConversationService 的实现。
type conversationService struct {
	convoRepo storage.ConversationRepository
	msgRepo   storage.MessageRepository
	userRepo  storage.UserRepository
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(convoRepo storage.ConversationRepository, msgRepo storage.MessageRepository, userRepo storage.UserRepository) ConversationService {
	return &conversationService{convoRepo: convoRepo, msgRepo: msgRepo, userRepo: userRepo}
}

// GetOrCreatePrivateConversation 获取或创建两个用户之间的私聊会话。
func (s *conversationService) GetOrCreatePrivateConversation(ctx context.Context, userID1, userID2 uint) (*models.Conversation, bool, error) {
	if userID1 == userID2 {
		return nil, false, fmt.Errorf("不能与自己创建私聊会话: %w", apperrors.ErrBadRequest)
	}

	// 确保 userID1 < userID2，以使查找具有确定性，避免重复会话
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}

	conversation, err := s.convoRepo.FindPrivateConversationByUsers(ctx, userID1, userID2)
	if err != nil {
		return nil, false, fmt.Errorf("查找私聊会话失败: %w", err)
	}
	if conversation != nil {
		return conversation, false, nil // 会话已存在
	}

	// 双方必须是已知用户
	if _, err := s.userRepo.GetByID(ctx, userID1); err != nil {
		return nil, false, err
	}
	if _, err := s.userRepo.GetByID(ctx, userID2); err != nil {
		return nil, false, err
	}

	newConversation := &models.Conversation{Type: models.PrivateConversation}
	if err := s.convoRepo.CreateConversation(ctx, newConversation); err != nil {
		return nil, true, fmt.Errorf("创建新会话失败: %w", err)
	}

	now := time.Now()
	p1 := &models.ConversationParticipant{ConversationID: newConversation.ID, UserID: userID1, JoinedAt: now}
	p2 := &models.ConversationParticipant{ConversationID: newConversation.ID, UserID: userID2, JoinedAt: now}

	if err := s.convoRepo.AddParticipant(ctx, p1); err != nil {
		return newConversation, true, fmt.Errorf("为会话 %d 添加参与者 %d 失败: %w", newConversation.ID, userID1, err)
	}
	if err := s.convoRepo.AddParticipant(ctx, p2); err != nil {
		return newConversation, true, fmt.Errorf("为会话 %d 添加参与者 %d 失败: %w", newConversation.ID, userID2, err)
	}

	return newConversation, true, nil
}

// GetUserConversations 获取用户参与的所有会话列表。
func (s *conversationService) GetUserConversations(ctx context.Context, userID uint, limit, offset int) ([]*models.Conversation, error) {
	return s.convoRepo.GetUserConversations(ctx, userID, limit, offset)
}

// GetConversationMessages 按页读取会话历史。
func (s *conversationService) GetConversationMessages(ctx context.Context, requesterID uint, conversationID uint, page int, pageSize int) ([]imtypes.MessageView, int, error) {
	participant, err := s.convoRepo.GetParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}

	messages, err := s.msgRepo.GetConversationPage(ctx, conversationID, participant.JoinedAt, page, pageSize)
	if err != nil {
		return nil, 0, err
	}

	views := make([]imtypes.MessageView, 0, len(messages))
	for _, m := range messages {
		counts, err := s.msgRepo.ReceiptCounts(ctx, m.ID)
		if err != nil {
			return nil, 0, err
		}
		views = append(views, toMessageView(m, counts))
	}

	// 满页意味着可能还有更早的消息
	nextPage := 0
	if len(messages) == pageSize {
		nextPage = page + 1
	}
	return views, nextPage, nil
}
