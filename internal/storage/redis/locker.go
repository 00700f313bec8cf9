package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"mailrelay/backend/internal/lock"
)

// 只有令牌匹配时才删除，避免释放已被他人接管的租约
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 SET NX PX 的跨实例租约
type Locker struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ lock.Locker = (*Locker)(nil)

// NewLocker 创建 Redis 租约，prefix 用于隔离键空间
func NewLocker(rdb goredis.UniversalClient, prefix string) *Locker {
	if prefix == "" {
		prefix = "mailrelay:lock:"
	}
	return &Locker{rdb: rdb, prefix: prefix}
}

// TryLock 获取 key；ttl<=0 时使用 30 秒，防止进程崩溃后键永久残留
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (lock.UnlockFunc, error) {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	fullKey := l.prefix + key
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, lock.ErrLocked
	}

	return func(ctx context.Context) error {
		err := releaseScript.Run(ctx, l.rdb, []string{fullKey}, token).Err()
		if err != nil && !errors.Is(err, goredis.Nil) {
			return fmt.Errorf("failed to release lock %s: %w", key, err)
		}
		return nil
	}, nil
}
