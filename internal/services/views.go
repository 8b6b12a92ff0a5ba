package services

import (
	"chatsync/internal/imtypes"
	"chatsync/internal/models"
)

// toMessageView 把存储模型投影成下行消息视图。
func toMessageView(m *models.Message, counts models.ReceiptCounts) imtypes.MessageView {
	return imtypes.MessageView{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		FileURL:        m.FileURL,
		SentAt:         m.SentAt,
		UpdatedAt:      m.UpdatedAt,
		DeletedAt:      m.DeletedAt,
		DeliverCount:   counts.DeliverCount,
		SeenCount:      counts.SeenCount,
	}
}
