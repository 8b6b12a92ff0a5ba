package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"

	"chatsync/internal/config"
	"chatsync/internal/handlers/apiserver"
	"chatsync/internal/middleware"
	appRedis "chatsync/internal/redis"
	"chatsync/internal/services"
	"chatsync/internal/storage"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("API 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("API 服务器数据库连接成功。")

	// 3. 初始化 Redis（令牌黑名单）
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	blacklist := appRedis.NewRedisTokenBlacklist(redisClient)

	// 4. 初始化 Repositories
	msgRepo := storage.NewGormMessageRepository(db)
	convoRepo := storage.NewGormConversationRepository(db)
	userRepo := storage.NewGormUserRepository(db)

	// 5. 初始化 Services
	convoService := services.NewConversationService(convoRepo, msgRepo, userRepo)

	// 6. 初始化 Handlers
	convoHandler := apiserver.NewConversationHandler(convoService)
	messageHandler := apiserver.NewMessageHandler(convoService)

	// 7. 配置路由
	r := mux.NewRouter()
	apiRouter := r.PathPrefix("/api").Subrouter()

	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.AuthMiddleware(h, cfg.Auth, blacklist)
	}

	apiRouter.Handle("/conversations", authed(convoHandler.GetUserConversationsHandler)).Methods(http.MethodGet)
	apiRouter.Handle("/conversations/private", authed(convoHandler.CreatePrivateConversationHandler)).Methods(http.MethodPost)
	apiRouter.Handle("/conversations/{conversationId}/messages", authed(messageHandler.GetConversationMessagesHandler)).Methods(http.MethodGet)

	// 8. 配置 CORS
	corsCfg := cfg.APIServer.CORS
	corsOptions := []handlers.CORSOption{
		handlers.AllowedOrigins(corsCfg.AllowedOrigins),
		handlers.AllowedMethods(corsCfg.AllowedMethods),
		handlers.AllowedHeaders(corsCfg.AllowedHeaders),
		handlers.ExposedHeaders(corsCfg.ExposedHeaders),
		handlers.MaxAge(corsCfg.MaxAge),
	}
	if corsCfg.AllowCredentials {
		corsOptions = append(corsOptions, handlers.AllowCredentials())
	}
	corsWrappedRouter := handlers.CORS(corsOptions...)(r)

	// 9. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.APIServer.Host, cfg.APIServer.Port)
	httpServer := &http.Server{
		Addr:         serverAddr,
		Handler:      corsWrappedRouter,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("API 服务器启动于 %s", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("API 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("API 服务器准备关闭...")

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("API 服务器关闭失败: %v", err)
	}
	log.Println("API 服务器已优雅关闭。")
}
