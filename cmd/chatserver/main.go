package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	confluentKafka "github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"chatsync/internal/config"
	"chatsync/internal/handlers/chatserver"
	"chatsync/internal/imtypes"
	appKafka "chatsync/internal/kafka"
	"chatsync/internal/presence"
	appRedis "chatsync/internal/redis"
	"chatsync/internal/services"
	"chatsync/internal/storage"
	"chatsync/internal/websocket"
)

func main() {
	// 1. 加载配置
	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}
	log.Println("Chat 服务器配置加载成功。")

	// 2. 初始化数据库连接
	db, err := storage.InitDB(cfg.Database)
	if err != nil {
		log.Fatalf("无法初始化数据库: %v", err)
	}
	log.Println("Chat 服务器数据库连接成功。")

	// 3. 自动迁移数据库表结构 (通常一个服务实例负责即可)
	if err := storage.AutoMigrateTables(db); err != nil {
		log.Fatalf("无法迁移数据库表: %v", err)
	}

	// 4. 初始化 Redis（令牌黑名单 + 在线状态镜像）
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	blacklist := appRedis.NewRedisTokenBlacklist(redisClient)
	mirror := appRedis.NewRedisPresenceMirror(redisClient)

	// 5. 初始化 Kafka 生产者（出站事件发布）
	kfkProducer, err := appKafka.NewConfluentKafkaProducer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建 Kafka 生产者: %v", err)
	}
	defer kfkProducer.Close()
	log.Println("Kafka 生产者初始化成功 (ChatServer)。")

	// 6. 初始化 Repositories
	msgRepo := storage.NewGormMessageRepository(db)
	convoRepo := storage.NewGormConversationRepository(db)

	// 7. 在线注册表与 Hub
	registry := presence.NewRegistry(mirror)
	hub := websocket.NewHub(registry)

	// 8. 初始化 Services
	pusher := services.NewKafkaEventPusher(kfkProducer, cfg.Kafka.OutgoingTopic)
	dispatchService := services.NewDispatchService(msgRepo, convoRepo, registry, pusher)
	statusService := services.NewStatusService(msgRepo, pusher)
	syncService := services.NewSyncService(msgRepo, pusher)

	// 每个新连接注册后执行一次重连同步；投递标记幂等，重复同步无害
	hub.SetOnRegister(func(cc imtypes.ConnContext) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := syncService.SyncConnection(ctx, cc); err != nil {
			log.Printf("连接 %s 的重连同步失败: %v", cc.ConnID, err)
		}
	})

	go hub.Run()
	log.Println("WebSocket Hub 已启动。")

	// 9. 初始化 WebSocket Handler 与事件路由
	eventRouter := chatserver.NewEventRouter(dispatchService, statusService)
	wsHandler := chatserver.NewWebSocketHandler(hub, eventRouter, blacklist, cfg)

	// 10. 出站事件消费者：把 Kafka 上的信封交给本地 Hub。
	// 每个实例用独立的消费者组，保证所有实例都看到全部出站事件
	// （目标用户连在哪个实例是未知的）。
	outboundConsumer, err := appKafka.NewConfluentKafkaConsumer(cfg.Kafka)
	if err != nil {
		log.Fatalf("无法创建出站 Kafka 消费者: %v", err)
	}
	defer outboundConsumer.Close()

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	defer cancelConsumers()

	instanceGroup := fmt.Sprintf("%s-%s", cfg.Kafka.ConsumerGroup, uuid.NewString()[:8])
	go func() {
		log.Printf("Kafka 出站消费者 goroutine 启动，监听 topic: %s", cfg.Kafka.OutgoingTopic)
		err := outboundConsumer.Consume(consumerCtx, []string{cfg.Kafka.OutgoingTopic}, instanceGroup,
			func(ctx context.Context, kafkaMsg *confluentKafka.Message) error {
				var env imtypes.Envelope
				if err := json.Unmarshal(kafkaMsg.Value, &env); err != nil {
					log.Printf("错误: 无法反序列化出站信封: %v, 原始值: %s", err, string(kafkaMsg.Value))
					return nil // 坏消息不阻塞消费
				}
				hub.Deliver(&env)
				return nil
			})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Kafka 出站消费者错误: %v", err)
		}
		log.Println("Kafka 出站消费者 goroutine 已停止。")
	}()

	// 11. 配置 HTTP 服务器路由
	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Server.WebSocketPath, wsHandler.ServeWS)

	// 12. 启动 HTTP 服务器
	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: serverAddr, Handler: mux}

	go func() {
		log.Printf("Chat HTTP 服务器启动于 %s, WebSocket 路径: %s", serverAddr, cfg.Server.WebSocketPath)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Chat 服务器启动失败: %v", err)
		}
	}()

	// 优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Chat 服务器准备关闭...")

	cancelConsumers() // 通知 Kafka 消费者停止

	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := httpServer.Shutdown(ctxShutdown); err != nil {
		log.Fatalf("Chat 服务器关闭失败: %v", err)
	}
	log.Println("Chat 服务器已优雅关闭。")
}
