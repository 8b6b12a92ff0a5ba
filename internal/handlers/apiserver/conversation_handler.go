package apiserver

import (
	"encoding/json"
	"net/http"

	"chatsync/internal/middleware"
	"chatsync/internal/models"
	"chatsync/internal/services"
)

// ConversationHandler 封装了会话相关的 HTTP 处理器方法。
type ConversationHandler struct {
	convoService services.ConversationService
}

// NewConversationHandler 创建一个新的 ConversationHandler 实例。
func NewConversationHandler(convoService services.ConversationService) *ConversationHandler {
	return &ConversationHandler{convoService: convoService}
}

// ConversationItem 是会话列表里的一条。
type ConversationItem struct {
	ID            uint                    `json:"id"`
	Type          models.ConversationType `json:"type"`
	LastMessageID *string                 `json:"lastMessageId,omitempty"`
	UpdatedAt     string                  `json:"updatedAt"`
}

// GetUserConversationsHandler 获取当前用户的所有会话列表。
// GET /api/conversations
func (h *ConversationHandler) GetUserConversationsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}

	conversations, err := h.convoService.GetUserConversations(r.Context(), userID, 50, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	items := make([]ConversationItem, 0, len(conversations))
	for _, convo := range conversations {
		items = append(items, ConversationItem{
			ID:            convo.ID,
			Type:          convo.Type,
			LastMessageID: convo.LastMessageID,
			UpdatedAt:     convo.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSONResponse(w, http.StatusOK, items)
}

// CreatePrivateConversationRequest 是创建私聊会话的请求体。
type CreatePrivateConversationRequest struct {
	TargetUserID uint `json:"targetUserId"`
}

// CreatePrivateConversationHandler 获取或创建与目标用户的私聊会话。
// POST /api/conversations/private
func (h *ConversationHandler) CreatePrivateConversationHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}

	var req CreatePrivateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, "请求体无效", http.StatusBadRequest)
		return
	}
	if req.TargetUserID == 0 {
		writeJSONError(w, "目标用户ID不能为空", http.StatusBadRequest)
		return
	}

	conversation, created, err := h.convoService.GetOrCreatePrivateConversation(r.Context(), userID, req.TargetUserID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSONResponse(w, status, ConversationItem{
		ID:            conversation.ID,
		Type:          conversation.Type,
		LastMessageID: conversation.LastMessageID,
		UpdatedAt:     conversation.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}
