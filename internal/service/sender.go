package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/lock"
	"mailrelay/backend/internal/mailer"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/storage"
)

// SenderOptions 外发节流与认领配置
type SenderOptions struct {
	MaxConcurrent int64   // 同时进行的外发调用上限，<=0 表示 4
	RateLimit     float64 // 每秒外发次数，<=0 表示不限
	Burst         int
	Locker        lock.Locker   // 为 nil 时使用进程内租约
	ClaimTTL      time.Duration // <=0 表示 2 分钟
}

// Sender 发送管道：把邮件记录变成一次投递尝试并写回状态。
//
// 即时发送与批量派发走同一条路径。投递不在存储事务内进行，
// 同一封邮件的并发投递由 Claim 排除。
type Sender struct {
	users       *UserService
	attachments *AttachmentService
	transport   mailer.Transport
	slots       *semaphore.Weighted
	limiter     *rate.Limiter
	locker      lock.Locker
	claimTTL    time.Duration
	log         *zap.Logger
	metrics     *monitoring.Metrics
}

// NewSender 创建发送管道。
func NewSender(users *UserService, attachments *AttachmentService, transport mailer.Transport, opts SenderOptions, log *zap.Logger, metrics *monitoring.Metrics) *Sender {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}
	if opts.Locker == nil {
		opts.Locker = lock.NewLocal()
	}
	if opts.ClaimTTL <= 0 {
		opts.ClaimTTL = 2 * time.Minute
	}

	return &Sender{
		users:       users,
		attachments: attachments,
		transport:   transport,
		slots:       semaphore.NewWeighted(opts.MaxConcurrent),
		limiter:     limiter,
		locker:      opts.Locker,
		claimTTL:    opts.ClaimTTL,
		log:         log,
		metrics:     metrics,
	}
}

// Claim 认领一封邮件，返回的函数释放认领；已被其他投递方认领时返回 lock.ErrLocked
func (s *Sender) Claim(ctx context.Context, emailID uint) (func(), error) {
	unlock, err := s.locker.TryLock(ctx, fmt.Sprintf("email:%d", emailID), s.claimTTL)
	if err != nil {
		return nil, fmt.Errorf("claim email %d: %w", emailID, err)
	}
	return func() {
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.log.Warn("failed to release claim", zap.Uint("email_id", emailID), zap.Error(err))
		}
	}, nil
}

// Deliver 尝试投递 email 并通过 repo 写回 sent 或 failed。
//
// 调用方须已持有该邮件的 Claim，且 repo 不应是事务：外发调用可能长时间阻塞。
// 投递失败体现在返回的状态和结果里，不作为 error 返回；error 只表示读写存储失败，
// 或 ctx 在调用外发通道之前已取消（此时状态不变）。
func (s *Sender) Deliver(ctx context.Context, repo storage.Repository, email *domain.Email, trigger string) (domain.EmailStatus, mailer.Result, error) {
	logger := s.log.With(zap.Uint("email_id", email.ID), zap.String("trigger", trigger))

	msg, result, err := s.compose(ctx, repo, email)
	if err != nil {
		return email.Status, mailer.Result{}, err
	}

	var elapsed time.Duration
	if msg != nil {
		if err := s.slots.Acquire(ctx, 1); err != nil {
			return email.Status, mailer.Result{}, fmt.Errorf("wait for transport slot: %w", err)
		}
		if err := s.limiter.Wait(ctx); err != nil {
			s.slots.Release(1)
			return email.Status, mailer.Result{}, fmt.Errorf("wait for transport rate: %w", err)
		}

		start := time.Now()
		sendErr := s.transport.Send(ctx, msg)
		elapsed = time.Since(start)
		s.slots.Release(1)

		result = mailer.Classify(sendErr)
	}

	status := domain.StatusFailed
	outcome := "failed"
	if result.Delivered {
		status = domain.StatusSent
		outcome = "sent"
	}
	s.metrics.RecordSend(outcome, trigger, elapsed)

	if err := repo.UpdateEmailStatus(ctx, email.ID, status); err != nil {
		return email.Status, result, fmt.Errorf("persist status of email %d: %w", email.ID, err)
	}
	email.Status = status

	if result.Delivered {
		logger.Info("email sent", zap.String("transport", s.transport.Name()), zap.Duration("duration", elapsed))
	} else {
		logger.Warn("email delivery failed",
			zap.String("transport", s.transport.Name()),
			zap.String("reason", result.Reason),
			zap.Error(result.Err),
		)
	}
	return status, result, nil
}

// compose 组装外发报文；返回 nil 报文表示尝试已失败，无需调用外发通道
func (s *Sender) compose(ctx context.Context, repo storage.Repository, email *domain.Email) (*mailer.Message, mailer.Result, error) {
	from, err := s.users.addresses(ctx, repo, []uint{email.SenderID})
	if err != nil {
		return unresolved(err)
	}
	to, err := s.users.addresses(ctx, repo, email.RecipientIDs)
	if err != nil {
		return unresolved(err)
	}
	if len(to) == 0 {
		return nil, mailer.Failed("email has no recipients", nil), nil
	}

	msg := &mailer.Message{
		From:    from[0],
		To:      to,
		Subject: email.Subject,
		Body:    email.Body,
	}
	if email.HasPriority() {
		msg.SetPriority(*email.Priority)
	}

	files, err := s.attachments.ResolveMany(ctx, repo, email.AttachmentIDs)
	if err != nil {
		return nil, mailer.Result{}, fmt.Errorf("resolve attachments of email %d: %w", email.ID, err)
	}
	for _, file := range files {
		content, err := s.readBlob(file.FilePath)
		if err != nil {
			return nil, mailer.Failed("attachment "+file.Name+" is unreadable", err), nil
		}
		msg.Attachments = append(msg.Attachments, mailer.Attachment{
			Filename:    file.Name,
			ContentType: file.ContentType,
			Content:     content,
		})
	}
	return msg, mailer.Result{}, nil
}

func (s *Sender) readBlob(path string) ([]byte, error) {
	rc, err := s.attachments.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// unresolved 用户缺失记为投递失败，其余存储错误向上返回
func unresolved(err error) (*mailer.Message, mailer.Result, error) {
	if errors.Is(err, storage.ErrUserNotFound) {
		return nil, mailer.Failed("unknown sender or recipient", err), nil
	}
	return nil, mailer.Result{}, fmt.Errorf("resolve addresses: %w", err)
}
