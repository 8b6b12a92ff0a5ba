package apiserver

import (
	"encoding/json"
	"net/http"

	"chatsync/internal/apperrors"
)

// ErrorResponse 是 API 错误响应的通用结构体。
type ErrorResponse struct {
	Error string `json:"error"`
}

// writeJSONResponse 是一个辅助函数，用于发送 JSON 格式的响应。
func writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// 头部可能已经发出，这里无法再改写状态码
			return
		}
	}
}

// writeJSONError 是一个辅助函数，用于发送 JSON 格式的错误响应。
func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	writeJSONResponse(w, statusCode, ErrorResponse{Error: message})
}

// writeError 按错误类别映射 HTTP 状态码。
func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, err.Error(), apperrors.HTTPStatusFromError(err))
}
