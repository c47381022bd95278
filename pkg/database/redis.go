// Package database 负责构建远程 KV 后端的客户端。
package database

import (
	"context"
	"time"

	"factcheck-relay/internal/config"
	"factcheck-relay/pkg/log"

	"github.com/go-redis/redis/v8"
)

// NewRedis 根据 URL 与访问令牌创建 Redis 客户端。
// 任一配置缺失或 URL 无法解析时返回 nil，调用方据此退化为进程内存储。
func NewRedis(cfg config.RedisConfig) *redis.Client {
	if cfg.URL == "" || cfg.Token == "" {
		log.Warnf("Redis 凭据未配置，使用进程内存储")
		return nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		log.Error("解析 Redis URL 失败，使用进程内存储", err)
		return nil
	}
	opts.Password = cfg.Token

	rdb := redis.NewClient(opts)

	// 测试连接；失败只记录日志，后续请求仍会优先尝试远程后端
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Warnw("Redis 暂时不可达，单次请求将回退到进程内存储", "addr", opts.Addr, "error", err)
		return rdb
	}

	log.Infow("Redis client connected successfully", "addr", opts.Addr)
	return rdb
}
