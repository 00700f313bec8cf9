package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage"
)

// Store 使用内存保存用户、附件与邮件数据，主要用于开发验证和测试。
//
// 事务持有写锁并在开始时复制一份快照，fn 出错时整体换回快照。
type Store struct {
	mu   sync.RWMutex
	data *state
}

// state 是一份完整的数据集；所有仓储方法都实现在它上面，调用方负责加锁
type state struct {
	users       map[uint]*domain.User
	byAddress   map[string]uint           // email -> userID
	attachments map[uint]*domain.Attachment
	emails      map[uint]*domain.Email
	recipients  map[uint][]uint // emailID -> userIDs

	nextUserID       uint
	nextAttachmentID uint
	nextEmailID      uint
}

var _ storage.Store = (*Store)(nil)

// NewStore 创建一个内存存储实例。
func NewStore() *Store {
	return &Store{data: newState()}
}

func newState() *state {
	return &state{
		users:            make(map[uint]*domain.User),
		byAddress:        make(map[string]uint),
		attachments:      make(map[uint]*domain.Attachment),
		emails:           make(map[uint]*domain.Email),
		recipients:       make(map[uint][]uint),
		nextUserID:       1,
		nextAttachmentID: 1,
		nextEmailID:      1,
	}
}

// Transaction 在写锁内执行 fn，失败时回滚到快照。
func (s *Store) Transaction(ctx context.Context, fn func(tx storage.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()
	if err := fn(s.data); err != nil {
		s.data = snapshot
		return err
	}
	return nil
}

// Close 内存存储无需释放资源
func (s *Store) Close() error { return nil }

// Health 内存存储始终可用
func (s *Store) Health() error { return nil }

// ========== User Repository ==========

// CreateUser 创建新用户
func (s *Store) CreateUser(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CreateUser(ctx, user)
}

// GetUser 根据ID获取用户
func (s *Store) GetUser(ctx context.Context, id uint) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.GetUser(ctx, id)
}

// GetUserByAddress 根据邮件地址获取用户
func (s *Store) GetUserByAddress(ctx context.Context, address string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.GetUserByAddress(ctx, address)
}

// ListUsers 按ID升序列出用户
func (s *Store) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ListUsers(ctx)
}

// ========== Attachment Repository ==========

// CreateAttachment 记录附件元数据
func (s *Store) CreateAttachment(ctx context.Context, attachment *domain.Attachment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CreateAttachment(ctx, attachment)
}

// GetAttachment 根据ID获取附件
func (s *Store) GetAttachment(ctx context.Context, id uint) (*domain.Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.GetAttachment(ctx, id)
}

// BindAttachment 将附件绑定到邮件
func (s *Store) BindAttachment(ctx context.Context, attachmentID, emailID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.BindAttachment(ctx, attachmentID, emailID)
}

// ========== Email Repository ==========

// CreateEmail 写入邮件及收件人关联
func (s *Store) CreateEmail(ctx context.Context, email *domain.Email) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.CreateEmail(ctx, email)
}

// GetEmail 根据ID获取邮件
func (s *Store) GetEmail(ctx context.Context, id uint) (*domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.GetEmail(ctx, id)
}

// ListEmails 按ID升序列出全部邮件
func (s *Store) ListEmails(ctx context.Context) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ListEmails(ctx)
}

// ListEmailsByStatus 按ID升序列出指定状态的邮件
func (s *Store) ListEmailsByStatus(ctx context.Context, status domain.EmailStatus) ([]domain.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data.ListEmailsByStatus(ctx, status)
}

// UpdateEmailStatus 更新邮件状态
func (s *Store) UpdateEmailStatus(ctx context.Context, id uint, status domain.EmailStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.UpdateEmailStatus(ctx, id, status)
}

// ========== state（调用方已加锁） ==========

func (d *state) CreateUser(_ context.Context, user *domain.User) error {
	if _, exists := d.byAddress[user.EmailAddress]; exists {
		return storage.ErrUserExists
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.ID = d.nextUserID
	d.nextUserID++

	stored := *user
	d.users[user.ID] = &stored
	d.byAddress[user.EmailAddress] = user.ID
	return nil
}

func (d *state) GetUser(_ context.Context, id uint) (*domain.User, error) {
	user, ok := d.users[id]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	out := *user
	return &out, nil
}

func (d *state) GetUserByAddress(ctx context.Context, address string) (*domain.User, error) {
	id, ok := d.byAddress[address]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	return d.GetUser(ctx, id)
}

func (d *state) ListUsers(_ context.Context) ([]domain.User, error) {
	result := make([]domain.User, 0, len(d.users))
	for _, id := range sortedKeys(d.users) {
		result = append(result, *d.users[id])
	}
	return result, nil
}

func (d *state) CreateAttachment(_ context.Context, attachment *domain.Attachment) error {
	if attachment.CreatedAt.IsZero() {
		attachment.CreatedAt = time.Now().UTC()
	}
	attachment.ID = d.nextAttachmentID
	d.nextAttachmentID++

	d.attachments[attachment.ID] = copyAttachment(attachment)
	return nil
}

func (d *state) GetAttachment(_ context.Context, id uint) (*domain.Attachment, error) {
	att, ok := d.attachments[id]
	if !ok {
		return nil, storage.ErrAttachmentNotFound
	}
	return copyAttachment(att), nil
}

func (d *state) BindAttachment(_ context.Context, attachmentID, emailID uint) error {
	att, ok := d.attachments[attachmentID]
	if !ok {
		return storage.ErrAttachmentNotFound
	}
	if att.EmailID != nil {
		if *att.EmailID == emailID {
			return nil
		}
		return storage.ErrAttachmentAlreadyBound
	}
	id := emailID
	att.EmailID = &id
	return nil
}

func (d *state) CreateEmail(_ context.Context, email *domain.Email) error {
	if email.CreatedAt.IsZero() {
		email.CreatedAt = time.Now().UTC()
	}
	email.ID = d.nextEmailID
	d.nextEmailID++

	email.RecipientIDs = domain.UniqueIDs(email.RecipientIDs)
	d.recipients[email.ID] = slices.Clone(email.RecipientIDs)

	stored := *email
	stored.RecipientIDs = nil
	stored.AttachmentIDs = nil
	if email.Priority != nil {
		p := *email.Priority
		stored.Priority = &p
	}
	d.emails[email.ID] = &stored
	return nil
}

func (d *state) GetEmail(_ context.Context, id uint) (*domain.Email, error) {
	email, ok := d.emails[id]
	if !ok {
		return nil, storage.ErrEmailNotFound
	}
	return d.hydrate(email), nil
}

func (d *state) ListEmails(_ context.Context) ([]domain.Email, error) {
	result := make([]domain.Email, 0, len(d.emails))
	for _, id := range sortedKeys(d.emails) {
		result = append(result, *d.hydrate(d.emails[id]))
	}
	return result, nil
}

func (d *state) ListEmailsByStatus(_ context.Context, status domain.EmailStatus) ([]domain.Email, error) {
	result := make([]domain.Email, 0)
	for _, id := range sortedKeys(d.emails) {
		if email := d.emails[id]; email.Status == status {
			result = append(result, *d.hydrate(email))
		}
	}
	return result, nil
}

func (d *state) UpdateEmailStatus(_ context.Context, id uint, status domain.EmailStatus) error {
	email, ok := d.emails[id]
	if !ok {
		return storage.ErrEmailNotFound
	}
	email.Status = status
	return nil
}

// hydrate 返回带关系字段的邮件副本
func (d *state) hydrate(email *domain.Email) *domain.Email {
	out := *email
	if email.Priority != nil {
		p := *email.Priority
		out.Priority = &p
	}
	out.RecipientIDs = slices.Clone(d.recipients[email.ID])
	out.AttachmentIDs = nil
	for _, id := range sortedKeys(d.attachments) {
		if d.attachments[id].BoundTo(email.ID) {
			out.AttachmentIDs = append(out.AttachmentIDs, id)
		}
	}
	return &out
}

// clone 深拷贝整份数据，用于事务回滚
func (d *state) clone() *state {
	c := &state{
		users:            make(map[uint]*domain.User, len(d.users)),
		byAddress:        make(map[string]uint, len(d.byAddress)),
		attachments:      make(map[uint]*domain.Attachment, len(d.attachments)),
		emails:           make(map[uint]*domain.Email, len(d.emails)),
		recipients:       make(map[uint][]uint, len(d.recipients)),
		nextUserID:       d.nextUserID,
		nextAttachmentID: d.nextAttachmentID,
		nextEmailID:      d.nextEmailID,
	}
	for id, u := range d.users {
		user := *u
		c.users[id] = &user
	}
	for addr, id := range d.byAddress {
		c.byAddress[addr] = id
	}
	for id, a := range d.attachments {
		c.attachments[id] = copyAttachment(a)
	}
	for id, e := range d.emails {
		email := *e
		c.emails[id] = &email
	}
	for id, r := range d.recipients {
		c.recipients[id] = slices.Clone(r)
	}
	return c
}

func copyAttachment(a *domain.Attachment) *domain.Attachment {
	out := *a
	if a.EmailID != nil {
		id := *a.EmailID
		out.EmailID = &id
	}
	return &out
}

func sortedKeys[V any](m map[uint]V) []uint {
	keys := make([]uint, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
