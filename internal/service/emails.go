package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/storage"
)

// 请求字段名，与 HTTP 接口保持一致
const (
	FieldSender          = "sender"
	FieldSenderEmail     = "sender_email"
	FieldRecipients      = "receipents"
	FieldRecipientEmails = "receipents_emails"
	FieldSubject         = "subject"
	FieldMessage         = "message"
	FieldAttachments     = "attachments"
	FieldPriority        = "priority"
)

const maxSubjectLength = 998

// CreateEmailInput 创建邮件的输入；发件人与收件人各自二选一：地址或用户ID。
type CreateEmailInput struct {
	SenderAddress      *string
	SenderID           *uint
	RecipientAddresses []string
	RecipientIDs       []uint
	Subject            string
	Body               string
	AttachmentIDs      []uint
	SendNow            bool
	Priority           *int
}

// EmailService 邮件创建与查询。
type EmailService struct {
	store       storage.Store
	users       *UserService
	attachments *AttachmentService
	sender      *Sender
	validator   *domain.EmailValidator
	log         *zap.Logger
	metrics     *monitoring.Metrics
}

// NewEmailService 创建邮件服务。
func NewEmailService(store storage.Store, users *UserService, attachments *AttachmentService, sender *Sender, log *zap.Logger, metrics *monitoring.Metrics) *EmailService {
	if log == nil {
		log = zap.NewNop()
	}
	return &EmailService{
		store:       store,
		users:       users,
		attachments: attachments,
		sender:      sender,
		validator:   domain.NewEmailValidator(),
		log:         log,
		metrics:     metrics,
	}
}

// Create 校验输入后在一个事务内解析或创建用户、写入邮件与收件人、绑定附件。
// SendNow 时邮件在提交前被认领，提交后在事务外投递并写回状态。
func (s *EmailService) Create(ctx context.Context, in CreateEmailInput) (*domain.Email, error) {
	if err := s.validate(ctx, in); err != nil {
		return nil, err
	}

	var created *domain.Email
	var release func()
	err := s.store.Transaction(ctx, func(tx storage.Repository) error {
		senderID, recipientIDs, err := s.participants(ctx, tx, in)
		if err != nil {
			return err
		}

		email := &domain.Email{
			Subject:      in.Subject,
			Body:         in.Body,
			Status:       domain.StatusPending,
			Priority:     in.Priority,
			SenderID:     senderID,
			RecipientIDs: recipientIDs,
		}
		if err := tx.CreateEmail(ctx, email); err != nil {
			return fmt.Errorf("create email: %w", err)
		}

		for _, attachmentID := range domain.UniqueIDs(in.AttachmentIDs) {
			if err := s.attachments.Bind(ctx, tx, attachmentID, email.ID); err != nil {
				s.log.Warn("attachment left unbound",
					zap.Uint("email_id", email.ID),
					zap.Uint("attachment_id", attachmentID),
					zap.Error(err),
				)
				continue
			}
			email.AttachmentIDs = append(email.AttachmentIDs, attachmentID)
		}

		// 提交前认领，批量派发看到这封待发邮件时会跳过
		if in.SendNow {
			if release, err = s.sender.Claim(ctx, email.ID); err != nil {
				return err
			}
		}

		created = email
		return nil
	})
	if err != nil {
		if release != nil {
			release()
		}
		return nil, err
	}

	s.metrics.RecordEmailCreated(in.SendNow)

	if in.SendNow {
		defer release()
		if _, _, err := s.sender.Deliver(ctx, s.store, created, monitoring.TriggerSendNow); err != nil {
			// 邮件已保存为 pending，由下一次批量派发处理
			s.log.Error("send now failed, email left pending", zap.Uint("email_id", created.ID), zap.Error(err))
			return nil, err
		}
	}

	s.log.Info("email created",
		zap.Uint("email_id", created.ID),
		zap.String("status", string(created.Status)),
		zap.Int("recipients", len(created.RecipientIDs)),
		zap.Int("attachments", len(created.AttachmentIDs)),
	)
	return created, nil
}

// Get 根据ID获取邮件。
func (s *EmailService) Get(ctx context.Context, id uint) (*domain.Email, error) {
	return s.store.GetEmail(ctx, id)
}

// List 按ID升序返回全部邮件。
func (s *EmailService) List(ctx context.Context) ([]domain.Email, error) {
	return s.store.ListEmails(ctx)
}

// ListByStatus 按ID升序返回指定状态的邮件。
func (s *EmailService) ListByStatus(ctx context.Context, status domain.EmailStatus) ([]domain.Email, error) {
	return s.store.ListEmailsByStatus(ctx, status)
}

// validate 在任何写入之前完成全部校验
func (s *EmailService) validate(ctx context.Context, in CreateEmailInput) error {
	v := &ValidationError{}

	switch {
	case in.SenderAddress != nil && in.SenderID != nil:
		v.Add(FieldSender, "provide either sender or sender_email, not both")
	case in.SenderAddress != nil:
		if err := s.validator.ValidateEmail(*in.SenderAddress); err != nil {
			v.Add(FieldSenderEmail, err.Error())
		}
	case in.SenderID != nil:
		exists, err := s.userExists(ctx, *in.SenderID)
		if err != nil {
			return err
		}
		if !exists {
			v.Add(FieldSender, fmt.Sprintf("user %d does not exist", *in.SenderID))
		}
	default:
		v.Add(FieldSender, "a sender is required")
	}

	switch {
	case len(in.RecipientAddresses) > 0 && len(in.RecipientIDs) > 0:
		v.Add(FieldRecipients, "provide either receipents or receipents_emails, not both")
	case len(in.RecipientAddresses) > 0:
		for _, addr := range in.RecipientAddresses {
			if err := s.validator.ValidateEmail(addr); err != nil {
				v.Add(FieldRecipientEmails, fmt.Sprintf("%q: %s", addr, err))
			}
		}
	case len(in.RecipientIDs) > 0:
		for _, id := range domain.UniqueIDs(in.RecipientIDs) {
			exists, err := s.userExists(ctx, id)
			if err != nil {
				return err
			}
			if !exists {
				v.Add(FieldRecipients, fmt.Sprintf("user %d does not exist", id))
			}
		}
	default:
		v.Add(FieldRecipients, "at least one recipient is required")
	}

	if in.Subject == "" {
		v.Add(FieldSubject, "subject is required")
	} else if len(in.Subject) > maxSubjectLength {
		v.Add(FieldSubject, fmt.Sprintf("subject must be at most %d characters", maxSubjectLength))
	}
	if in.Body == "" {
		v.Add(FieldMessage, "message is required")
	}

	if in.Priority != nil && !domain.ValidPriority(*in.Priority) {
		v.Add(FieldPriority, fmt.Sprintf("priority must be between %d and %d", domain.MinPriority, domain.MaxPriority))
	}

	for _, id := range domain.UniqueIDs(in.AttachmentIDs) {
		att, err := s.store.GetAttachment(ctx, id)
		switch {
		case errors.Is(err, storage.ErrAttachmentNotFound):
			v.Add(FieldAttachments, fmt.Sprintf("attachment %d does not exist", id))
		case err != nil:
			return err
		case att.EmailID != nil:
			v.Add(FieldAttachments, fmt.Sprintf("attachment %d is already attached to an email", id))
		}
	}

	return v.Err()
}

func (s *EmailService) userExists(ctx context.Context, id uint) (bool, error) {
	_, err := s.store.GetUser(ctx, id)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, storage.ErrUserNotFound):
		return false, nil
	default:
		return false, err
	}
}

// participants 在事务内把输入解析为发件人与收件人ID
func (s *EmailService) participants(ctx context.Context, tx storage.Repository, in CreateEmailInput) (uint, []uint, error) {
	var senderID uint
	if in.SenderAddress != nil {
		sender, err := s.users.GetOrCreate(ctx, tx, *in.SenderAddress)
		if err != nil {
			return 0, nil, err
		}
		senderID = sender.ID
	} else {
		senderID = *in.SenderID
	}

	if len(in.RecipientIDs) > 0 {
		return senderID, domain.UniqueIDs(in.RecipientIDs), nil
	}

	recipientIDs := make([]uint, 0, len(in.RecipientAddresses))
	for _, addr := range in.RecipientAddresses {
		user, err := s.users.GetOrCreate(ctx, tx, addr)
		if err != nil {
			return 0, nil, err
		}
		recipientIDs = append(recipientIDs, user.ID)
	}
	return senderID, domain.UniqueIDs(recipientIDs), nil
}
