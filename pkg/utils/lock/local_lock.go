package lock

import (
	"context"
	"sync"
	"time"
)

// LocalLock 进程内实现，单实例部署和测试使用
// 过期的锁在下一次 Acquire 时被覆盖
type LocalLock struct {
	mu    sync.Mutex
	held  map[string]time.Time
	clock func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{
		held:  make(map[string]time.Time),
		clock: time.Now,
	}
}

func (l *LocalLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock()
	if exp, ok := l.held[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return false, nil
	}
	if ttl <= 0 {
		// 不过期
		l.held[key] = time.Time{}
	} else {
		l.held[key] = now.Add(ttl)
	}
	return true, nil
}

func (l *LocalLock) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	delete(l.held, key)
	l.mu.Unlock()
	return nil
}
