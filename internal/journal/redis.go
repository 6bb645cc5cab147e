package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisJournalConfig 描述 Redis 日志的连接参数。
type RedisJournalConfig struct {
	Address  string
	Password string
	DB       int
	Key      string
	MaxLen   int64
}

// RedisJournal 把事件以 JSON 形式写入 Redis list，按 MaxLen 截断。
type RedisJournal struct {
	client *redis.Client
	key    string
	maxLen int64
}

// NewRedisJournal 创建 Redis 日志实例。
func NewRedisJournal(cfg RedisJournalConfig) (*RedisJournal, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	key := cfg.Key
	if key == "" {
		key = "treasury:journal"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 10_000
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisJournal{client: client, key: key, maxLen: maxLen}, nil
}

// Publish 将事件写入 Redis。
func (j *RedisJournal) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化审计事件失败: %w", err)
	}
	pipe := j.client.TxPipeline()
	pipe.LPush(ctx, j.key, payload)
	pipe.LTrim(ctx, j.key, 0, j.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("Redis 写入审计事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (j *RedisJournal) Close() error {
	if j == nil || j.client == nil {
		return nil
	}
	return j.client.Close()
}
