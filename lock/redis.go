package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// 只有持有对应 token 的实例才能释放或续期
const (
	unlockScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`
	extendScript = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`
)

// RedisLock Redis 分布式锁实现
// 协调器会从多个 goroutine 并发加解锁，token 表需要互斥保护
type RedisLock struct {
	client *redis.Client
	prefix string

	mu     sync.Mutex
	tokens map[string]string // key → token
}

// NewRedisLock 创建 Redis 分布式锁
func NewRedisLock(client *redis.Client, prefix string) *RedisLock {
	return &RedisLock{
		client: client,
		prefix: prefix,
		tokens: make(map[string]string),
	}
}

func newToken() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// TryLock 尝试获取锁，立即返回
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	token := newToken()

	ok, err := r.client.SetNX(ctx, r.prefix+key, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	if ok {
		r.mu.Lock()
		r.tokens[key] = token
		r.mu.Unlock()
	}
	return ok, nil
}

// evalOwned 以持有的 token 执行脚本，返回脚本是否命中
func (r *RedisLock) evalOwned(ctx context.Context, script, key string, extra ...interface{}) (bool, error) {
	r.mu.Lock()
	token, held := r.tokens[key]
	r.mu.Unlock()
	if !held {
		return false, fmt.Errorf("lock not held: %s", key)
	}

	args := append([]interface{}{token}, extra...)
	result, err := r.client.Eval(ctx, script, []string{r.prefix + key}, args...).Result()
	if err != nil {
		return false, fmt.Errorf("redis eval failed: %w", err)
	}
	n, _ := result.(int64)
	return n != 0, nil
}

// Unlock 释放锁
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	ok, err := r.evalOwned(ctx, unlockScript, key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock not held or expired: %s", key)
	}

	r.mu.Lock()
	delete(r.tokens, key)
	r.mu.Unlock()
	return nil
}

// Extend 延长锁的过期时间
func (r *RedisLock) Extend(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := r.evalOwned(ctx, extendScript, key, int(ttl.Seconds()))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("lock not held or expired: %s", key)
	}
	return nil
}

// Ping 检查连接
func (r *RedisLock) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close 关闭连接
func (r *RedisLock) Close() error {
	return r.client.Close()
}
