package services

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"chatsync/internal/imtypes"
	"chatsync/internal/storage"
)

// AckKind 区分投递回执和已读回执。
type AckKind string

const (
	AckDeliver AckKind = "deliver"
	AckSeen    AckKind = "seen"
)

// StatusService 把客户端回执（可能乱序、重复、批量到达）翻译成单调的
// 回执状态变更，并向发送者产生 status_changed 通知。
// 它是 Message Store 状态标记函数的唯一授权调用方。
type StatusService interface {
	// HandleAckBatch 处理一批回执。逐条幂等：已设置的字段跳过，
	// 真正写入的才会触发发送者侧的 status_changed。
	// 单条的 NotFound 不中断整批，最终以合并错误返回。
	HandleAckBatch(ctx context.Context, cc imtypes.ConnContext, kind AckKind, input imtypes.AckInput) error
}

// lockShards 是逐消息互斥锁的分片数。
const lockShards = 64

// statusService 是 StatusService 的实现。
type statusService struct {
	msgRepo storage.MessageRepository
	pusher  EventPusher

	// 同一条消息的回执变更必须串行化，防止两个并发的重复回执
	// 各自读到"未设置"然后都去推 status_changed。按消息ID分片加锁。
	locks [lockShards]sync.Mutex
}

// NewStatusService 创建一个新的 StatusService 实例。
func NewStatusService(msgRepo storage.MessageRepository, pusher EventPusher) StatusService {
	return &statusService{msgRepo: msgRepo, pusher: pusher}
}

// HandleAckBatch 处理来自 cc.UserID 的一批回执。
func (s *statusService) HandleAckBatch(ctx context.Context, cc imtypes.ConnContext, kind AckKind, input imtypes.AckInput) error {
	at := input.At
	if at.IsZero() {
		at = time.Now()
	}

	var errs []error
	for _, messageID := range input.MessageIDs {
		if err := s.handleAck(ctx, cc.UserID, kind, messageID, at); err != nil {
			// 不静默丢弃：丢了会让回执永远停在未投递状态
			errs = append(errs, fmt.Errorf("回执 %s/%s: %w", kind, messageID, err))
		}
	}
	return errors.Join(errs...)
}

// handleAck 处理单条回执。
func (s *statusService) handleAck(ctx context.Context, userID uint, kind AckKind, messageID string, at time.Time) error {
	lock := s.lockFor(messageID)
	lock.Lock()
	defer lock.Unlock()

	var changed bool
	var err error
	switch kind {
	case AckDeliver:
		changed, err = s.msgRepo.MarkDelivered(ctx, messageID, userID, at)
	case AckSeen:
		// seen 蕴含 delivered：存储层在 delivered_at 仍为空时
		// 先以同一时间点补上它
		changed, err = s.msgRepo.MarkSeen(ctx, messageID, userID, at)
	default:
		return fmt.Errorf("未知的回执类型: %s", kind)
	}
	if err != nil {
		return err
	}
	if !changed {
		return nil // 重复回执，幂等跳过
	}

	message, err := s.msgRepo.GetByID(ctx, messageID)
	if err != nil {
		return err
	}
	receipt, err := s.msgRepo.GetReceipt(ctx, messageID, userID)
	if err != nil {
		return err
	}

	// deliver 与 seen 同时落地时合并成一个 status_changed
	event, err := imtypes.NewServerEvent(imtypes.StatusChangedEvent, imtypes.StatusChange{
		MessageID: messageID,
		UserID:    userID,
		DeliverAt: receipt.DeliveredAt,
		SeenAt:    receipt.SeenAt,
	})
	if err != nil {
		return err
	}
	if err := s.pusher.Push(ctx, &imtypes.Envelope{UserID: message.SenderID, Event: event}); err != nil {
		// 通知推送失败不回滚状态：回执已经耐久记录，
		// 发送者重新拉取历史时会看到推导出的计数
		log.Printf("推送 status_changed (%s, 用户 %d) 给发送者 %d 失败: %v", messageID, userID, message.SenderID, err)
	}
	return nil
}

// lockFor 返回该消息ID所属分片的互斥锁。
func (s *statusService) lockFor(messageID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(messageID))
	return &s.locks[h.Sum32()%lockShards]
}
