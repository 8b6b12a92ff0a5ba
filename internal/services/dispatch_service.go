package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"chatsync/internal/apperrors"
	"chatsync/internal/imtypes"
	"chatsync/internal/models"
	"chatsync/internal/presence"
	"chatsync/internal/storage"
)

// DispatchService 是发送/编辑/删除路径的入口。
// 它校验成员资格、交给 Message Store 持久化、按在线状态决定推送，
// 但绝不直接写回执状态——那是 StatusService 的专属路径。
type DispatchService interface {
	// HandleSend 处理一条新消息。持久化成功（或幂等冲突）后才向发送
	// 连接回 send_ack；持久化失败时绝不假报成功，客户端的乐观 UI
	// 据此正确地显示重试状态。
	HandleSend(ctx context.Context, cc imtypes.ConnContext, input imtypes.SendMessageInput) error
	HandleEdit(ctx context.Context, cc imtypes.ConnContext, input imtypes.EditMessageInput) error
	HandleDelete(ctx context.Context, cc imtypes.ConnContext, input imtypes.DeleteMessageInput) error
}

// dispatchService 是 DispatchService 的实现。
type dispatchService struct {
	msgRepo   storage.MessageRepository
	convoRepo storage.ConversationRepository
	registry  *presence.Registry
	pusher    EventPusher
}

// NewDispatchService 创建一个新的 DispatchService 实例。
func NewDispatchService(msgRepo storage.MessageRepository, convoRepo storage.ConversationRepository, registry *presence.Registry, pusher EventPusher) DispatchService {
	return &dispatchService{
		msgRepo:   msgRepo,
		convoRepo: convoRepo,
		registry:  registry,
		pusher:    pusher,
	}
}

// HandleSend 处理 send_message。
func (s *dispatchService) HandleSend(ctx context.Context, cc imtypes.ConnContext, input imtypes.SendMessageInput) error {
	if input.MessageID == "" {
		return fmt.Errorf("消息ID不能为空: %w", apperrors.ErrBadRequest)
	}
	if input.Content == nil && input.FileURL == nil {
		return fmt.Errorf("消息内容与文件URL至少要有一个: %w", apperrors.ErrBadRequest)
	}

	// 成员校验：非成员的发送被拒绝，状态无任何变化。
	if _, err := s.convoRepo.GetParticipant(ctx, input.ConversationID, cc.UserID); err != nil {
		return err
	}

	participants, err := s.convoRepo.GetConversationParticipants(ctx, input.ConversationID)
	if err != nil {
		return fmt.Errorf("获取会话 %d 成员失败: %w", input.ConversationID, err)
	}

	// 回执集合是"发送时刻的成员减去发送者"；之后的成员变动不回溯。
	recipientIDs := make([]uint, 0, len(participants)-1)
	for _, p := range participants {
		if p.UserID != cc.UserID {
			recipientIDs = append(recipientIDs, p.UserID)
		}
	}

	sentAt := input.SentAt
	if sentAt.IsZero() {
		sentAt = time.Now()
	}
	message := &models.Message{
		ID:             input.MessageID,
		ConversationID: input.ConversationID,
		SenderID:       cc.UserID,
		Content:        input.Content,
		FileURL:        input.FileURL,
		SentAt:         sentAt,
		UpdatedAt:      sentAt,
	}

	duplicate := false
	if err := s.msgRepo.Append(ctx, message, recipientIDs); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			// 客户端丢了 send_ack 后的重发：已经做过的事不再做，
			// 但 ack 要重新回，让客户端停掉待发送指示。
			duplicate = true
		} else {
			return err
		}
	}

	if !duplicate {
		if err := s.convoRepo.SetLastMessage(ctx, input.ConversationID, message.ID); err != nil {
			log.Printf("更新会话 %d 的 LastMessageID 失败: %v", input.ConversationID, err)
		}

		view := toMessageView(message, models.ReceiptCounts{})
		event, err := imtypes.NewServerEvent(imtypes.NewMessageEvent, view)
		if err != nil {
			return err
		}
		// 在线接收者立即推送；离线者不推，回执保持 delivered_at 为空，
		// 等他们下次重连同步补投。在线判定包含镜像：接收者可能连在
		// 别的实例上，信封经 Kafka 到达持有其连接的那个 Hub。
		// 推送不等确认——投递确认稍后经由回执路径异步到达。
		for _, uid := range recipientIDs {
			if !s.registry.IsOnlineAnywhere(ctx, uid) {
				continue
			}
			if err := s.pusher.Push(ctx, &imtypes.Envelope{UserID: uid, Event: event}); err != nil {
				// 对单个接收者的推送失败不算发送失败：重连同步会兜底。
				log.Printf("推送 new_message %s 给用户 %d 失败: %v", message.ID, uid, err)
			}
		}
	}

	ackEvent, err := imtypes.NewServerEvent(imtypes.SendAckEvent, imtypes.SendAck{MessageID: message.ID})
	if err != nil {
		return err
	}
	// 只回给发起这次发送的那个连接
	if err := s.pusher.Push(ctx, &imtypes.Envelope{UserID: cc.UserID, ConnID: cc.ConnID, Event: ackEvent}); err != nil {
		log.Printf("推送 send_ack %s 给用户 %d 失败: %v", message.ID, cc.UserID, err)
	}
	return nil
}

// HandleEdit 处理 edit_message：软编辑后向当前在线的成员推送 update_message。
// 离线成员无需补发编辑事件——存储里只有最终内容，他们重连拉取时
// 自然看到编辑后的版本。
func (s *dispatchService) HandleEdit(ctx context.Context, cc imtypes.ConnContext, input imtypes.EditMessageInput) error {
	at := input.UpdatedAt
	if at.IsZero() {
		at = time.Now()
	}
	message, err := s.msgRepo.ApplyEdit(ctx, input.MessageID, cc.UserID, input.Content, at)
	if err != nil {
		return err
	}

	event, err := imtypes.NewServerEvent(imtypes.UpdateMessageEvent, imtypes.MessageUpdate{
		MessageID: message.ID,
		Content:   input.Content,
		UpdatedAt: at,
	})
	if err != nil {
		return err
	}
	s.pushToOnlineMembers(ctx, message.ConversationID, event)
	return nil
}

// HandleDelete 处理 delete_message：软删除后向当前在线的成员推送 remove_message。
func (s *dispatchService) HandleDelete(ctx context.Context, cc imtypes.ConnContext, input imtypes.DeleteMessageInput) error {
	at := input.DeletedAt
	if at.IsZero() {
		at = time.Now()
	}
	message, err := s.msgRepo.ApplyDelete(ctx, input.MessageID, cc.UserID, at)
	if err != nil {
		return err
	}

	event, err := imtypes.NewServerEvent(imtypes.RemoveMessageEvent, imtypes.MessageRemove{
		MessageID: message.ID,
		DeletedAt: at,
	})
	if err != nil {
		return err
	}
	s.pushToOnlineMembers(ctx, message.ConversationID, event)
	return nil
}

// pushToOnlineMembers 把一个事件推给会话里所有在线成员（含发送者的其他设备）。
func (s *dispatchService) pushToOnlineMembers(ctx context.Context, conversationID uint, event imtypes.ServerEvent) {
	participants, err := s.convoRepo.GetConversationParticipants(ctx, conversationID)
	if err != nil {
		log.Printf("获取会话 %d 成员失败，%s 事件未推送: %v", conversationID, event.Type, err)
		return
	}
	for _, p := range participants {
		if !s.registry.IsOnlineAnywhere(ctx, p.UserID) {
			continue
		}
		if err := s.pusher.Push(ctx, &imtypes.Envelope{UserID: p.UserID, Event: event}); err != nil {
			log.Printf("推送 %s 给用户 %d 失败: %v", event.Type, p.UserID, err)
		}
	}
}
