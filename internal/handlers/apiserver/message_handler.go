package apiserver

import (
	"net/http"
	"strconv"

	"chatsync/internal/imtypes"
	"chatsync/internal/middleware"
	"chatsync/internal/services"

	"github.com/gorilla/mux"
)

// MessageHandler 封装了消息历史读取的 HTTP 处理器方法。
type MessageHandler struct {
	convoService services.ConversationService
}

// NewMessageHandler 创建一个新的 MessageHandler 实例。
func NewMessageHandler(convoService services.ConversationService) *MessageHandler {
	return &MessageHandler{convoService: convoService}
}

// MessagePageResponse 是分页历史的响应体。客户端的无限滚动缓存
// 以 nextPage 为游标；0 表示没有更早的消息了。
type MessagePageResponse struct {
	Items    []imtypes.MessageView `json:"items"`
	NextPage int                   `json:"nextPage"`
}

// GetConversationMessagesHandler 获取会话的分页消息历史。
// GET /api/conversations/{conversationId}/messages?page=1&pageSize=20
func (h *MessageHandler) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		writeJSONError(w, "用户未认证", http.StatusUnauthorized)
		return
	}

	vars := mux.Vars(r)
	conversationID, err := strconv.ParseUint(vars["conversationId"], 10, 32)
	if err != nil {
		writeJSONError(w, "无效的会话ID格式", http.StatusBadRequest)
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		if page, err = strconv.Atoi(raw); err != nil || page < 1 {
			writeJSONError(w, "无效的 page 参数", http.StatusBadRequest)
			return
		}
	}
	pageSize := 20
	if raw := r.URL.Query().Get("pageSize"); raw != "" {
		if pageSize, err = strconv.Atoi(raw); err != nil || pageSize < 1 || pageSize > 100 {
			writeJSONError(w, "无效的 pageSize 参数", http.StatusBadRequest)
			return
		}
	}

	items, nextPage, err := h.convoService.GetConversationMessages(r.Context(), userID, uint(conversationID), page, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, MessagePageResponse{Items: items, NextPage: nextPage})
}
