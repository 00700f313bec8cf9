// Package lock 提供按键互斥的短期租约，用于批量派发时认领单封邮件。
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked 键已被其他持有者占用
var ErrLocked = errors.New("lock is held by another owner")

// UnlockFunc 释放租约；租约已过期或被他人接管时不报错
type UnlockFunc func(ctx context.Context) error

// Locker 短期租约接口
type Locker interface {
	// TryLock 立即尝试获取 key，不等待；被占用时返回 ErrLocked
	TryLock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Local 进程内租约实现，适用于单实例部署
type Local struct {
	mu      sync.Mutex
	entries map[string]*lease
	now     func() time.Time
}

type lease struct {
	expiresAt time.Time
}

var _ Locker = (*Local)(nil)

// NewLocal 创建进程内租约
func NewLocal() *Local {
	return &Local{
		entries: make(map[string]*lease),
		now:     time.Now,
	}
}

// TryLock 获取 key；ttl<=0 表示不过期
func (l *Local) TryLock(_ context.Context, key string, ttl time.Duration) (UnlockFunc, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, ok := l.entries[key]; ok {
		if held.expiresAt.IsZero() || now.Before(held.expiresAt) {
			return nil, ErrLocked
		}
	}

	own := &lease{}
	if ttl > 0 {
		own.expiresAt = now.Add(ttl)
	}
	l.entries[key] = own

	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		// 只删除自己的租约
		if l.entries[key] == own {
			delete(l.entries, key)
		}
		return nil
	}, nil
}

// Len 返回当前持有的租约数（含已过期未清理的）
func (l *Local) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
