package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock 定义账户级动作锁接口
type DistributedLock interface {
	// Acquire 尝试获取锁，不阻塞
	// 返回: (是否成功, error)
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release 释放锁
	Release(ctx context.Context, key string) error
}

// RedisLock 基于 Redis SET NX 的实现，多实例部署时使用
type RedisLock struct {
	client *redis.Client
	owner  string
}

// NewRedisLock owner 用于释放时校验归属，传空则不校验
func NewRedisLock(client *redis.Client, owner ...string) *RedisLock {
	l := &RedisLock{client: client, owner: "1"}
	if len(owner) > 0 && owner[0] != "" {
		l.owner = owner[0]
	}
	return l
}

// 只删除属于自己的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (l *RedisLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, "lock:"+key, l.owner, ttl).Result()
}

func (l *RedisLock) Release(ctx context.Context, key string) error {
	return releaseScript.Run(ctx, l.client, []string{"lock:" + key}, l.owner).Err()
}
