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

// UserService 用户目录：邮件地址与稳定用户ID之间的映射。
type UserService struct {
	store     storage.Store
	validator *domain.EmailValidator
	log       *zap.Logger
	metrics   *monitoring.Metrics
}

// NewUserService 创建用户服务。
func NewUserService(store storage.Store, log *zap.Logger, metrics *monitoring.Metrics) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{
		store:     store,
		validator: domain.NewEmailValidator(),
		log:       log,
		metrics:   metrics,
	}
}

// Register 显式注册用户；地址已存在时返回 storage.ErrUserExists。
func (s *UserService) Register(ctx context.Context, address string) (*domain.User, error) {
	if err := s.validator.ValidateEmail(address); err != nil {
		return nil, NewValidationError("email", err.Error())
	}

	user := &domain.User{EmailAddress: address}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.metrics.RecordUserCreated("register")
	s.log.Info("user registered", zap.Uint("user_id", user.ID), zap.String("email", address))
	return user, nil
}

// GetOrCreate 按地址查找用户，不存在时创建。
//
// 并发创建同一地址时唯一索引只允许一个写入成功，失败方重新读取胜出者。
func (s *UserService) GetOrCreate(ctx context.Context, repo storage.Repository, address string) (*domain.User, error) {
	user, err := repo.GetUserByAddress(ctx, address)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, fmt.Errorf("lookup user %s: %w", address, err)
	}

	user = &domain.User{EmailAddress: address}
	err = repo.CreateUser(ctx, user)
	switch {
	case err == nil:
		s.metrics.RecordUserCreated("implicit")
		s.log.Debug("user created on first reference", zap.Uint("user_id", user.ID), zap.String("email", address))
		return user, nil
	case errors.Is(err, storage.ErrUserExists):
		existing, err := repo.GetUserByAddress(ctx, address)
		if err != nil {
			return nil, fmt.Errorf("reload user %s: %w", address, err)
		}
		return existing, nil
	default:
		return nil, fmt.Errorf("create user %s: %w", address, err)
	}
}

// Resolve 根据ID获取用户。
func (s *UserService) Resolve(ctx context.Context, id uint) (*domain.User, error) {
	return s.store.GetUser(ctx, id)
}

// List 按ID升序返回全部用户。
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.store.ListUsers(ctx)
}

// addresses 按ID解析邮件地址，顺序与 ids 一致
func (s *UserService) addresses(ctx context.Context, repo storage.Repository, ids []uint) ([]string, error) {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		user, err := repo.GetUser(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, user.EmailAddress)
	}
	return out, nil
}
