// Package health 基于 heptiolabs/healthcheck 的存活与就绪检查。
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"go.uber.org/zap"
)

const (
	checkTimeout       = 2 * time.Second
	maxGoroutines      = 10000
	readinessCacheTime = 5 * time.Second
)

// Pinger 可以通过 Ping 检查连通性的依赖
type Pinger interface {
	Ping(ctx context.Context) error
}

// Dependencies 需要纳入就绪检查的依赖，nil 或空值表示不检查
type Dependencies struct {
	Database      func() error // 关系库或内存存储的 Health
	Blobs         func() error // 附件目录可写
	Redis         Pinger
	TransportAddr string        // SMTP 外发地址，非 SMTP 通道留空
	TransportPoll time.Duration // SMTP 异步拨号间隔，默认 5 秒
}

// HealthChecker 健康检查器
type HealthChecker struct {
	health healthcheck.Handler
	logger *zap.Logger
}

// NewHealthChecker 创建健康检查器；ctx 结束后后台的异步检查随之停止
func NewHealthChecker(ctx context.Context, deps Dependencies, logger *zap.Logger) *HealthChecker {
	if logger == nil {
		logger = zap.NewNop()
	}
	hc := &HealthChecker{
		health: healthcheck.NewHandler(),
		logger: logger,
	}
	hc.addChecks(ctx, deps)
	return hc
}

func (hc *HealthChecker) addChecks(ctx context.Context, deps Dependencies) {
	hc.health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(maxGoroutines))

	if deps.Database != nil {
		hc.health.AddReadinessCheck("database", hc.logged("database", healthcheck.Timeout(deps.Database, checkTimeout)))
	}
	if deps.Blobs != nil {
		hc.health.AddReadinessCheck("attachments", hc.logged("attachments", deps.Blobs))
	}
	if deps.Redis != nil {
		hc.health.AddReadinessCheck("redis", hc.logged("redis", RedisCheck(deps.Redis)))
	}
	if deps.TransportAddr != "" {
		// 外发通道可能间歇不可达，异步检查避免每次就绪探测都拨号
		poll := deps.TransportPoll
		if poll <= 0 {
			poll = readinessCacheTime
		}
		hc.health.AddReadinessCheck("smtp", healthcheck.AsyncWithContext(
			ctx,
			hc.logged("smtp", healthcheck.TCPDialCheck(deps.TransportAddr, checkTimeout)),
			poll,
		))
	}
}

// logged 检查失败时记录日志
func (hc *HealthChecker) logged(name string, check healthcheck.Check) healthcheck.Check {
	return func() error {
		err := check()
		if err != nil {
			hc.logger.Warn("health check failed", zap.String("check", name), zap.Error(err))
		}
		return err
	}
}

// LiveHandler 存活检查
func (hc *HealthChecker) LiveHandler() http.HandlerFunc {
	return hc.health.LiveEndpoint
}

// ReadyHandler 就绪检查
func (hc *HealthChecker) ReadyHandler() http.HandlerFunc {
	return hc.health.ReadyEndpoint
}

// RedisCheck Redis 健康检查
func RedisCheck(p Pinger) healthcheck.Check {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), checkTimeout)
		defer cancel()
		return p.Ping(ctx)
	}
}
