package lock

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"quantlab/config"
)

// New 根据配置创建分布式锁实例
// 未启用时返回 NopLock（单实例模式）
func New(cfg *config.LockConfig) (DistributedLock, error) {
	if !cfg.Enabled {
		return NewNopLock(), nil
	}

	switch cfg.Type {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		return NewRedisLock(client, cfg.Prefix), nil

	default:
		return nil, fmt.Errorf("不支持的锁类型: %s", cfg.Type)
	}
}
