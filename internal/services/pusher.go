package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"chatsync/internal/imtypes"
	appKafka "chatsync/internal/kafka"
)

// EventPusher 把出站事件信封交给传输层。调度器和状态跟踪器只认识这个
// 接口；生产部署里它发布到 Kafka 出站 topic，由各 ChatServer 实例消费后
// 交给本地 Hub 投递。
type EventPusher interface {
	Push(ctx context.Context, env *imtypes.Envelope) error
}

// kafkaEventPusher 通过 Kafka 出站 topic 发布信封。
// Key 用 UserID，同一用户的事件落在同一分区，保序。
type kafkaEventPusher struct {
	producer appKafka.MessageProducer
	topic    string
}

// NewKafkaEventPusher 创建一个基于 Kafka 的 EventPusher。
func NewKafkaEventPusher(producer appKafka.MessageProducer, topic string) EventPusher {
	return &kafkaEventPusher{producer: producer, topic: topic}
}

// Push 序列化并发布信封。
func (p *kafkaEventPusher) Push(ctx context.Context, env *imtypes.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("序列化出站信封失败: %w", err)
	}
	key := []byte(strconv.FormatUint(uint64(env.UserID), 10))
	if err := p.producer.SendMessage(ctx, p.topic, key, payload); err != nil {
		return fmt.Errorf("发布出站信封到 %s 失败: %w", p.topic, err)
	}
	return nil
}
