package storage

import (
	"context"
	"errors"

	"mailrelay/backend/internal/domain"
)

var (
	// ErrUserNotFound 用户未找到错误
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists 邮件地址已被占用
	ErrUserExists = errors.New("user already exists")
	// ErrAttachmentNotFound 附件未找到错误
	ErrAttachmentNotFound = errors.New("attachment not found")
	// ErrAttachmentAlreadyBound 附件已绑定到其他邮件
	ErrAttachmentAlreadyBound = errors.New("attachment already bound to another email")
	// ErrEmailNotFound 邮件未找到错误
	ErrEmailNotFound = errors.New("email not found")
)

// UserRepository 定义用户数据存取操作。
type UserRepository interface {
	// CreateUser 写入新用户并回填 ID；地址已存在时返回 ErrUserExists
	CreateUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id uint) (*domain.User, error)
	GetUserByAddress(ctx context.Context, address string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// AttachmentRepository 定义附件元数据存取操作。
type AttachmentRepository interface {
	CreateAttachment(ctx context.Context, attachment *domain.Attachment) error
	GetAttachment(ctx context.Context, id uint) (*domain.Attachment, error)
	// BindAttachment 将附件绑定到邮件；已绑定到同一邮件时幂等，绑定到其他邮件时返回 ErrAttachmentAlreadyBound
	BindAttachment(ctx context.Context, attachmentID, emailID uint) error
}

// EmailRepository 定义邮件数据存取操作。
type EmailRepository interface {
	// CreateEmail 写入邮件及其收件人关联行并回填 ID
	CreateEmail(ctx context.Context, email *domain.Email) error
	GetEmail(ctx context.Context, id uint) (*domain.Email, error)
	// ListEmails 按 ID 升序返回全部邮件
	ListEmails(ctx context.Context) ([]domain.Email, error)
	// ListEmailsByStatus 按 ID 升序返回指定状态的邮件
	ListEmailsByStatus(ctx context.Context, status domain.EmailStatus) ([]domain.Email, error)
	UpdateEmailStatus(ctx context.Context, id uint, status domain.EmailStatus) error
}

// Repository 聚合所有仓储接口，事务内外使用同一组方法。
type Repository interface {
	UserRepository
	AttachmentRepository
	EmailRepository
}

// Store 定义完整的存储接口。
type Store interface {
	Repository

	// Transaction 在一个原子单元中执行 fn：fn 返回 nil 时提交，否则回滚经 tx 做出的全部写入
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	// 工具方法
	Close() error
	Health() error
}
