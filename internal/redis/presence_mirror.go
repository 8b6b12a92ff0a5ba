package redis

import (
	"context"
	"fmt"
	"strconv"

	"chatsync/internal/presence"

	"github.com/redis/go-redis/v9"
)

const onlineSetKey = "presence:online"

// redisPresenceMirror 把用户的上线/下线写进一个 Redis 集合。
// 调度器经由注册表读它来判定"用户是否连在别的实例上"。
type redisPresenceMirror struct {
	client *redis.Client
}

// NewRedisPresenceMirror 创建一个新的 presence.Mirror 的 Redis 实现。
func NewRedisPresenceMirror(client *redis.Client) presence.Mirror {
	return &redisPresenceMirror{client: client}
}

// SetOnline 将用户加入在线集合。
func (r *redisPresenceMirror) SetOnline(ctx context.Context, userID uint) error {
	if err := r.client.SAdd(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err(); err != nil {
		return fmt.Errorf("写入 Redis 在线集合失败 (用户 %d): %w", userID, err)
	}
	return nil
}

// SetOffline 将用户移出在线集合。
func (r *redisPresenceMirror) SetOffline(ctx context.Context, userID uint) error {
	if err := r.client.SRem(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Err(); err != nil {
		return fmt.Errorf("移除 Redis 在线集合失败 (用户 %d): %w", userID, err)
	}
	return nil
}

// IsOnline 查询用户是否在在线集合中（任一实例）。
func (r *redisPresenceMirror) IsOnline(ctx context.Context, userID uint) (bool, error) {
	online, err := r.client.SIsMember(ctx, onlineSetKey, strconv.FormatUint(uint64(userID), 10)).Result()
	if err != nil {
		return false, fmt.Errorf("查询 Redis 在线集合失败 (用户 %d): %w", userID, err)
	}
	return online, nil
}
