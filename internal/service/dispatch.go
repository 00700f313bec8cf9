package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/lock"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/storage"
)

// DispatchSummary 一次批量派发的统计
type DispatchSummary struct {
	Pending    int `json:"pending"`    // 开始时的待发邮件数
	Dispatched int `json:"dispatched"` // 实际尝试投递的邮件数
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Skipped    int `json:"skipped"` // 被其他派发者认领或已不再待发
	Errored    int `json:"errored"` // 存储错误，状态未变
}

// Dispatcher 批量派发所有待发邮件。
type Dispatcher struct {
	store   storage.Store
	sender  *Sender
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewDispatcher 创建批量派发器；邮件认领使用 sender 的租约。
func NewDispatcher(store storage.Store, sender *Sender, log *zap.Logger, metrics *monitoring.Metrics) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		log:     log,
		metrics: metrics,
	}
}

// SendAllPending 按ID升序逐封处理待发邮件，单封失败不影响其余邮件。
//
// 只有读取待发列表失败时返回 error。
func (d *Dispatcher) SendAllPending(ctx context.Context) (DispatchSummary, error) {
	var summary DispatchSummary

	pending, err := d.store.ListEmailsByStatus(ctx, domain.StatusPending)
	if err != nil {
		return summary, fmt.Errorf("list pending emails: %w", err)
	}
	summary.Pending = len(pending)
	if len(pending) == 0 {
		return summary, nil
	}

	for _, email := range pending {
		if err := ctx.Err(); err != nil {
			d.log.Warn("dispatch interrupted", zap.Error(err), zap.Int("remaining", len(pending)-summary.done()))
			break
		}

		status, err := d.dispatchOne(ctx, email.ID)
		switch {
		case err != nil:
			summary.Errored++
			d.metrics.RecordError("dispatch", "dispatcher")
			d.log.Error("dispatch failed", zap.Uint("email_id", email.ID), zap.Error(err))
		case status == domain.StatusSent:
			summary.Dispatched++
			summary.Sent++
		case status == domain.StatusFailed:
			summary.Dispatched++
			summary.Failed++
		default:
			summary.Skipped++
		}
	}

	d.metrics.RecordDispatch(summary.Sent, summary.Failed, summary.Skipped, summary.Errored)
	d.log.Info("dispatch finished",
		zap.Int("pending", summary.Pending),
		zap.Int("sent", summary.Sent),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("errored", summary.Errored),
	)
	return summary, nil
}

func (s DispatchSummary) done() int {
	return s.Dispatched + s.Skipped + s.Errored
}

// dispatchOne 认领并投递一封邮件；返回 pending 表示被跳过
func (d *Dispatcher) dispatchOne(ctx context.Context, emailID uint) (domain.EmailStatus, error) {
	release, err := d.sender.Claim(ctx, emailID)
	if err != nil {
		if errors.Is(err, lock.ErrLocked) {
			d.log.Debug("email claimed elsewhere", zap.Uint("email_id", emailID))
			return domain.StatusPending, nil
		}
		return "", err
	}
	defer release()

	// 认领之前可能已被其他投递方处理完
	email, err := d.store.GetEmail(ctx, emailID)
	if err != nil {
		return "", err
	}
	if email.Status != domain.StatusPending {
		return domain.StatusPending, nil
	}

	status, _, err := d.sender.Deliver(ctx, d.store, email, monitoring.TriggerDispatch)
	if err != nil {
		return "", err
	}
	return status, nil
}
