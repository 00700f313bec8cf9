package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage"
)

// Store 基于 GORM 的关系型存储实现，支持 PostgreSQL、MySQL 与 SQLite
type Store struct {
	db *gorm.DB
}

var _ storage.Store = (*Store)(nil)

// Open 根据驱动名称打开数据库并完成表结构迁移
func Open(opts Options) (*Store, error) {
	dialector, err := Dialector(opts.Driver, opts.DSN)
	if err != nil {
		return nil, err
	}
	if opts.Driver == DriverSQLite {
		// SQLite 单写者，且内存库只存在于单个连接上
		opts.MaxOpenConns = 1
		opts.MaxIdleConns = 1
		opts.ConnMaxLifetime = 0
	}
	return NewStoreWithDialector(dialector, opts)
}

// NewStoreWithDialector 使用指定的GORM dialector创建存储实例
func NewStoreWithDialector(dialector gorm.Dialector, opts Options) (*Store, error) {
	config := &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(dialector, config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	opts.applyDefaults()
	sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(opts.ConnMaxLifetime)

	store := &Store{db: db}
	if err := store.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Migrate 自动迁移数据库表结构
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(
		&domain.User{},
		&domain.Attachment{},
		&domain.Email{},
		&domain.EmailRecipient{},
	)
}

// Transaction 在数据库事务中执行 fn
func (s *Store) Transaction(ctx context.Context, fn func(tx storage.Repository) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Health 检查数据库连接
func (s *Store) Health() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// ========== User Repository ==========

// CreateUser 创建新用户
//
// 插入放在子事务中执行：外层已有事务时 GORM 使用 SAVEPOINT，
// 唯一约束冲突只回滚到保存点，PostgreSQL 的外层事务仍可继续使用。
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(user).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrUserExists
		}
		return err
	}
	return nil
}

// GetUser 根据ID获取用户
func (s *Store) GetUser(ctx context.Context, id uint) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// GetUserByAddress 根据邮件地址获取用户
func (s *Store) GetUserByAddress(ctx context.Context, address string) (*domain.User, error) {
	var user domain.User
	err := s.db.WithContext(ctx).Where("email_address = ?", address).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// ListUsers 按ID升序列出用户
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	users := make([]domain.User, 0)
	err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error
	return users, err
}

// ========== Attachment Repository ==========

// CreateAttachment 记录附件元数据
func (s *Store) CreateAttachment(ctx context.Context, attachment *domain.Attachment) error {
	return s.db.WithContext(ctx).Create(attachment).Error
}

// GetAttachment 根据ID获取附件
func (s *Store) GetAttachment(ctx context.Context, id uint) (*domain.Attachment, error) {
	var attachment domain.Attachment
	if err := s.db.WithContext(ctx).First(&attachment, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrAttachmentNotFound
		}
		return nil, err
	}
	return &attachment, nil
}

// BindAttachment 以条件更新完成绑定，只有 email_id 为空的行会被写入
func (s *Store) BindAttachment(ctx context.Context, attachmentID, emailID uint) error {
	db := s.db.WithContext(ctx)
	result := db.Model(&domain.Attachment{}).
		Where("id = ? AND email_id IS NULL", attachmentID).
		Update("email_id", emailID)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	attachment, err := s.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if attachment.BoundTo(emailID) {
		return nil
	}
	return storage.ErrAttachmentAlreadyBound
}

// ========== Email Repository ==========

// CreateEmail 写入邮件及收件人关联
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email) error {
	email.RecipientIDs = domain.UniqueIDs(email.RecipientIDs)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(email).Error; err != nil {
			return err
		}
		if len(email.RecipientIDs) == 0 {
			return nil
		}
		rows := make([]domain.EmailRecipient, 0, len(email.RecipientIDs))
		for _, userID := range email.RecipientIDs {
			rows = append(rows, domain.EmailRecipient{EmailID: email.ID, UserID: userID})
		}
		return tx.Create(&rows).Error
	})
}

// GetEmail 根据ID获取邮件
func (s *Store) GetEmail(ctx context.Context, id uint) (*domain.Email, error) {
	var email domain.Email
	if err := s.db.WithContext(ctx).First(&email, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrEmailNotFound
		}
		return nil, err
	}

	emails := []domain.Email{email}
	if err := s.hydrate(ctx, emails); err != nil {
		return nil, err
	}
	return &emails[0], nil
}

// ListEmails 按ID升序列出全部邮件
func (s *Store) ListEmails(ctx context.Context) ([]domain.Email, error) {
	emails := make([]domain.Email, 0)
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&emails).Error; err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// ListEmailsByStatus 按ID升序列出指定状态的邮件
func (s *Store) ListEmailsByStatus(ctx context.Context, status domain.EmailStatus) ([]domain.Email, error) {
	emails := make([]domain.Email, 0)
	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&emails).Error
	if err != nil {
		return nil, err
	}
	if err := s.hydrate(ctx, emails); err != nil {
		return nil, err
	}
	return emails, nil
}

// UpdateEmailStatus 更新邮件状态
func (s *Store) UpdateEmailStatus(ctx context.Context, id uint, status domain.EmailStatus) error {
	db := s.db.WithContext(ctx)
	result := db.Model(&domain.Email{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	// MySQL 在值未变化时同样报告 0 行
	var count int64
	if err := db.Model(&domain.Email{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return storage.ErrEmailNotFound
	}
	return nil
}

// hydrate 批量填充收件人与附件ID
func (s *Store) hydrate(ctx context.Context, emails []domain.Email) error {
	if len(emails) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(emails))
	index := make(map[uint]int, len(emails))
	for i := range emails {
		ids = append(ids, emails[i].ID)
		index[emails[i].ID] = i
	}

	db := s.db.WithContext(ctx)

	var links []domain.EmailRecipient
	err := db.Where("email_id IN ?", ids).Order("email_id ASC, user_id ASC").Find(&links).Error
	if err != nil {
		return err
	}
	for _, link := range links {
		e := &emails[index[link.EmailID]]
		e.RecipientIDs = append(e.RecipientIDs, link.UserID)
	}

	var attachments []domain.Attachment
	err = db.Select("id", "email_id").
		Where("email_id IN ?", ids).
		Order("id ASC").
		Find(&attachments).Error
	if err != nil {
		return err
	}
	for _, att := range attachments {
		if att.EmailID == nil {
			continue
		}
		e := &emails[index[*att.EmailID]]
		e.AttachmentIDs = append(e.AttachmentIDs, att.ID)
	}
	return nil
}
