package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"chatsync/internal/apperrors"
	"chatsync/internal/models"
)

// MessageRepository 定义了消息及其回执数据操作的接口。它是投递/已读状态的
// 唯一持久化事实来源：在线与否是推导事实，"消息是否送达过某个用户"不是。
type MessageRepository interface {
	// Append 持久化一条新消息，并为 recipientIDs（发送时刻的成员集合减去
	// 发送者）逐一创建空回执。客户端生成的消息ID重复时返回包装过的
	// apperrors.ErrConflict，调用方应视为"已完成"。
	Append(ctx context.Context, message *models.Message, recipientIDs []uint) error

	GetByID(ctx context.Context, id string) (*models.Message, error)
	GetReceipt(ctx context.Context, messageID string, userID uint) (*models.MessageReceipt, error)

	// UndeliveredFor 返回该用户回执中 delivered_at 仍为空的全部消息，
	// 按会话分段、段内按 sent_at 升序。每次重连都会执行，靠
	// (user_id, delivered_at) 索引保持高效。
	UndeliveredFor(ctx context.Context, userID uint) ([]*models.Message, error)

	// MarkDelivered / MarkSeen 单调地记录投递/已读时间点。
	// 返回值表示本次调用是否真的写入了（false = 已设置过，no-op）。
	// 回执行不存在时返回包装过的 apperrors.ErrNotFound。
	MarkDelivered(ctx context.Context, messageID string, userID uint, at time.Time) (bool, error)
	MarkSeen(ctx context.Context, messageID string, userID uint, at time.Time) (bool, error)

	// ApplyEdit / ApplyDelete 软编辑/软删除。编辑者必须是原发送者，
	// 否则返回包装过的 apperrors.ErrForbidden。
	ApplyEdit(ctx context.Context, messageID string, editorID uint, content string, at time.Time) (*models.Message, error)
	ApplyDelete(ctx context.Context, messageID string, editorID uint, at time.Time) (*models.Message, error)

	// ReceiptCounts 从回执行实时推导聚合计数，绝不单独存储。
	ReceiptCounts(ctx context.Context, messageID string) (models.ReceiptCounts, error)

	// GetConversationPage 按页读取会话历史（sent_at 倒序，最新在前），
	// 只包含 joinedAt 之后发送的消息。
	GetConversationPage(ctx context.Context, conversationID uint, joinedAt time.Time, page int, pageSize int) ([]*models.Message, error)
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

// Append 在一个事务里写入消息和它的全部回执行：要么全部成功，要么毫无痕迹。
func (r *gormMessageRepository) Append(ctx context.Context, message *models.Message, recipientIDs []uint) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(message).Error; err != nil {
			return err
		}
		for _, uid := range recipientIDs {
			receipt := &models.MessageReceipt{
				MessageID: message.ID,
				UserID:    uid,
			}
			if err := tx.Create(receipt).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("消息 %s 已存在: %w", message.ID, apperrors.ErrConflict)
		}
		return fmt.Errorf("存储消息 %s 失败: %w", message.ID, err)
	}
	return nil
}

// GetByID 通过客户端生成的消息ID检索消息。
func (r *gormMessageRepository) GetByID(ctx context.Context, id string) (*models.Message, error) {
	var message models.Message
	err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("消息 %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &message, nil
}

// GetReceipt 检索某条消息对某个接收者的回执行。
func (r *gormMessageRepository) GetReceipt(ctx context.Context, messageID string, userID uint) (*models.MessageReceipt, error) {
	var receipt models.MessageReceipt
	err := r.db.WithContext(ctx).
		First(&receipt, "message_id = ? AND user_id = ?", messageID, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("消息 %s 对用户 %d 的回执: %w", messageID, userID, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return &receipt, nil
}

// UndeliveredFor 查询该用户的全部未投递消息。
func (r *gormMessageRepository) UndeliveredFor(ctx context.Context, userID uint) ([]*models.Message, error) {
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Joins("JOIN message_receipts ON message_receipts.message_id = messages.id").
		Where("message_receipts.user_id = ? AND message_receipts.delivered_at IS NULL", userID).
		Order("messages.conversation_id ASC, messages.sent_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("查询用户 %d 的未投递消息失败: %w", userID, err)
	}
	return messages, nil
}

// MarkDelivered 记录投递时间点。条件更新保证了单调性：
// delivered_at 一旦设置，后续任何重复回执都落在 WHERE 之外。
func (r *gormMessageRepository) MarkDelivered(ctx context.Context, messageID string, userID uint, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.MessageReceipt{}).
		Where("message_id = ? AND user_id = ? AND delivered_at IS NULL", messageID, userID).
		Update("delivered_at", at)
	if res.Error != nil {
		return false, fmt.Errorf("标记消息 %s 对用户 %d 已投递失败: %w", messageID, userID, res.Error)
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// 没有行被更新：要么回执不存在（错误），要么已设置过（幂等 no-op）。
	if _, err := r.GetReceipt(ctx, messageID, userID); err != nil {
		return false, err
	}
	return false, nil
}

// MarkSeen 记录已读时间点。回执尚未标记投递时，先以同一时间点补上
// delivered_at，保持 "seen 蕴含 delivered" 的不变量，客户端无需发两次回执。
func (r *gormMessageRepository) MarkSeen(ctx context.Context, messageID string, userID uint, at time.Time) (bool, error) {
	var changed bool
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var receipt models.MessageReceipt
		err := tx.First(&receipt, "message_id = ? AND user_id = ?", messageID, userID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("消息 %s 对用户 %d 的回执: %w", messageID, userID, apperrors.ErrNotFound)
			}
			return err
		}
		if receipt.SeenAt != nil {
			return nil // 已读过，幂等跳过
		}
		// 时钟偏移或延迟批次可能带来早于已记录投递点的已读时间戳；
		// 向后钳制，维持 deliverAt <= seenAt。
		seenAt := at
		if receipt.DeliveredAt != nil && seenAt.Before(*receipt.DeliveredAt) {
			seenAt = *receipt.DeliveredAt
		}
		updates := map[string]interface{}{"seen_at": seenAt}
		if receipt.DeliveredAt == nil {
			updates["delivered_at"] = seenAt
		}
		res := tx.Model(&models.MessageReceipt{}).
			Where("message_id = ? AND user_id = ? AND seen_at IS NULL", messageID, userID).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		changed = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return changed, nil
}

// ApplyEdit 软编辑：替换文本内容并记录编辑时间。
func (r *gormMessageRepository) ApplyEdit(ctx context.Context, messageID string, editorID uint, content string, at time.Time) (*models.Message, error) {
	message, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != editorID {
		return nil, fmt.Errorf("用户 %d 不是消息 %s 的发送者: %w", editorID, messageID, apperrors.ErrForbidden)
	}
	if message.DeletedAt != nil {
		// 已删除的消息不可复活展示内容
		return nil, fmt.Errorf("消息 %s 已删除: %w", messageID, apperrors.ErrNotFound)
	}
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{"content": content, "updated_at": at}).Error
	if err != nil {
		return nil, fmt.Errorf("编辑消息 %s 失败: %w", messageID, err)
	}
	message.Content = &content
	message.UpdatedAt = at
	return message, nil
}

// ApplyDelete 软删除：记录删除时间并清空展示内容，行保留以维持回执完整性。
func (r *gormMessageRepository) ApplyDelete(ctx context.Context, messageID string, editorID uint, at time.Time) (*models.Message, error) {
	message, err := r.GetByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if message.SenderID != editorID {
		return nil, fmt.Errorf("用户 %d 不是消息 %s 的发送者: %w", editorID, messageID, apperrors.ErrForbidden)
	}
	if message.DeletedAt != nil {
		return message, nil // 已删除，幂等
	}
	err = r.db.WithContext(ctx).Model(&models.Message{}).
		Where("id = ?", messageID).
		Updates(map[string]interface{}{"deleted_at": at, "content": nil, "file_url": nil, "updated_at": at}).Error
	if err != nil {
		return nil, fmt.Errorf("删除消息 %s 失败: %w", messageID, err)
	}
	message.DeletedAt = &at
	message.Content = nil
	message.FileURL = nil
	message.UpdatedAt = at
	return message, nil
}

// ReceiptCounts 推导聚合计数。COUNT(column) 只数非空值，正好是
// "已投递/已读的回执行数"。
func (r *gormMessageRepository) ReceiptCounts(ctx context.Context, messageID string) (models.ReceiptCounts, error) {
	var counts models.ReceiptCounts
	err := r.db.WithContext(ctx).Model(&models.MessageReceipt{}).
		Select("COUNT(delivered_at) AS deliver_count, COUNT(seen_at) AS seen_count").
		Where("message_id = ?", messageID).
		Scan(&counts).Error
	if err != nil {
		return models.ReceiptCounts{}, fmt.Errorf("统计消息 %s 的回执失败: %w", messageID, err)
	}
	return counts, nil
}

// GetConversationPage 按页读取会话历史，排除请求者加入之前的消息。
func (r *gormMessageRepository) GetConversationPage(ctx context.Context, conversationID uint, joinedAt time.Time, page int, pageSize int) ([]*models.Message, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	var messages []*models.Message
	err := r.db.WithContext(ctx).
		Where("conversation_id = ? AND sent_at >= ?", conversationID, joinedAt).
		Order("sent_at DESC").
		Limit(pageSize).
		Offset((page - 1) * pageSize).
		Find(&messages).Error
	if err != nil {
		return nil, fmt.Errorf("读取会话 %d 第 %d 页失败: %w", conversationID, page, err)
	}
	return messages, nil
}
