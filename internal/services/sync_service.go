package services

import (
	"context"
	"fmt"
	"log"

	"chatsync/internal/imtypes"
	"chatsync/internal/models"
	"chatsync/internal/storage"
)

// SyncService 是重连同步引擎：连接注册时查出该用户的全部未投递消息，
// 按会话分组推成一个 undelivered_messages 批次。
// 它只推送、不标记——客户端收到批次后经由正常回执路径确认，
// 推送在确认前丢失的话，消息仍是未投递状态，下次重连重试。
type SyncService interface {
	SyncConnection(ctx context.Context, cc imtypes.ConnContext) error
}

// syncService 是 SyncService 的实现。
type syncService struct {
	msgRepo storage.MessageRepository
	pusher  EventPusher
}

// NewSyncService 创建一个新的 SyncService 实例。
func NewSyncService(msgRepo storage.MessageRepository, pusher EventPusher) SyncService {
	return &syncService{msgRepo: msgRepo, pusher: pusher}
}

// SyncConnection 对一个新注册的连接执行同步。
// 每个新连接都同步一次（而不是只在离线转在线时）：投递标记是幂等的，
// 多设备同时重连最多造成少量冗余推送，换来的是实现上毫无状态判断。
// 批次只发给新连接本身——用户已有的其他连接早就是最新状态。
func (s *syncService) SyncConnection(ctx context.Context, cc imtypes.ConnContext) error {
	messages, err := s.msgRepo.UndeliveredFor(ctx, cc.UserID)
	if err != nil {
		return fmt.Errorf("查询用户 %d 的未投递消息失败: %w", cc.UserID, err)
	}
	if len(messages) == 0 {
		return nil
	}

	// UndeliveredFor 返回的顺序已经是会话分段、段内 sentAt 升序；
	// 这里只做顺序保持的分组。
	var batch imtypes.UndeliveredBatch
	for _, m := range messages {
		counts, err := s.msgRepo.ReceiptCounts(ctx, m.ID)
		if err != nil {
			log.Printf("统计消息 %s 回执失败，计数按零下发: %v", m.ID, err)
			counts = models.ReceiptCounts{}
		}
		view := toMessageView(m, counts)

		n := len(batch.Conversations)
		if n == 0 || batch.Conversations[n-1].ConversationID != m.ConversationID {
			batch.Conversations = append(batch.Conversations, imtypes.ConversationBatch{
				ConversationID: m.ConversationID,
			})
			n++
		}
		batch.Conversations[n-1].Messages = append(batch.Conversations[n-1].Messages, view)
	}

	event, err := imtypes.NewServerEvent(imtypes.UndeliveredMessagesEvent, batch)
	if err != nil {
		return err
	}
	if err := s.pusher.Push(ctx, &imtypes.Envelope{UserID: cc.UserID, ConnID: cc.ConnID, Event: event}); err != nil {
		return fmt.Errorf("推送未投递批次给用户 %d 连接 %s 失败: %w", cc.UserID, cc.ConnID, err)
	}
	log.Printf("已向用户 %d 连接 %s 推送 %d 条未投递消息", cc.UserID, cc.ConnID, len(messages))
	return nil
}
