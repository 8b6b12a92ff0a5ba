package chatserver

import (
	"log"
	"net/http"

	"chatsync/internal/auth"
	"chatsync/internal/config"
	ws "chatsync/internal/websocket"
)

// WebSocketHandler 负责处理 WebSocket 连接请求。
// 连接必须携带有效的身份断言（JWT）——没有匿名 socket。
type WebSocketHandler struct {
	hub       *ws.Hub
	router    ws.EventHandler
	blacklist auth.TokenBlacklist
	cfg       config.Config
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(hub *ws.Hub, router ws.EventHandler, blacklist auth.TokenBlacklist, cfg config.Config) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		router:    router,
		blacklist: blacklist,
		cfg:       cfg,
	}
}

// ServeWS 验证身份并把 HTTP 连接升级到 WebSocket。
// 浏览器的 WebSocket API 不能自定义头部，令牌经由查询参数传递。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(r.Context(), tokenString, h.cfg.Auth.JWTSecretKey, h.blacklist)
	if err != nil {
		log.Printf("WebSocket 连接令牌验证失败: %v", err)
		http.Error(w, "令牌无效", http.StatusUnauthorized)
		return
	}

	log.Printf("用户 %s (ID: %d) 尝试连接 WebSocket", claims.Username, claims.UserID)
	ws.ServeWsPerConnection(h.hub, h.router, claims.UserID, w, r, h.cfg.WebSocket)
}
