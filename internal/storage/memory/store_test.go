package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/storage"
)

func TestMemoryStore_UserOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	user := &domain.User{EmailAddress: "a@a.pl"}
	require.NoError(t, store.CreateUser(ctx, user))
	assert.Equal(t, uint(1), user.ID)

	// 同一地址不能重复创建
	err := store.CreateUser(ctx, &domain.User{EmailAddress: "a@a.pl"})
	assert.ErrorIs(t, err, storage.ErrUserExists)

	found, err := store.GetUserByAddress(ctx, "a@a.pl")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	// 地址精确匹配，不做大小写归一化
	_, err = store.GetUserByAddress(ctx, "A@A.PL")
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	_, err = store.GetUser(ctx, 42)
	assert.ErrorIs(t, err, storage.ErrUserNotFound)

	require.NoError(t, store.CreateUser(ctx, &domain.User{EmailAddress: "b@b.pl"}))
	users, err := store.ListUsers(ctx)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, "a@a.pl", users[0].EmailAddress)
	assert.Equal(t, "b@b.pl", users[1].EmailAddress)
}

func TestMemoryStore_AttachmentBinding(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	att := &domain.Attachment{FilePath: "ab/abc", Name: "report.pdf", ContentType: "application/pdf"}
	require.NoError(t, store.CreateAttachment(ctx, att))
	assert.Nil(t, att.EmailID)

	t.Run("首次绑定成功", func(t *testing.T) {
		require.NoError(t, store.BindAttachment(ctx, att.ID, 1))
	})

	t.Run("重复绑定同一邮件幂等", func(t *testing.T) {
		assert.NoError(t, store.BindAttachment(ctx, att.ID, 1))
	})

	t.Run("改绑其他邮件被拒绝", func(t *testing.T) {
		err := store.BindAttachment(ctx, att.ID, 2)
		assert.ErrorIs(t, err, storage.ErrAttachmentAlreadyBound)

		got, err := store.GetAttachment(ctx, att.ID)
		require.NoError(t, err)
		assert.True(t, got.BoundTo(1))
	})

	t.Run("附件不存在", func(t *testing.T) {
		err := store.BindAttachment(ctx, 99, 1)
		assert.ErrorIs(t, err, storage.ErrAttachmentNotFound)
	})
}

func TestMemoryStore_EmailOperations(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	priority := 2
	first := &domain.Email{
		Subject:      "hello",
		Body:         "body",
		Status:       domain.StatusPending,
		Priority:     &priority,
		SenderID:     1,
		RecipientIDs: []uint{2, 3, 2},
	}
	require.NoError(t, store.CreateEmail(ctx, first))
	assert.Equal(t, []uint{2, 3}, first.RecipientIDs)

	second := &domain.Email{Subject: "second", Status: domain.StatusSent, SenderID: 1, RecipientIDs: []uint{2}}
	require.NoError(t, store.CreateEmail(ctx, second))

	got, err := store.GetEmail(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello", got.Subject)
	assert.Equal(t, []uint{2, 3}, got.RecipientIDs)
	require.NotNil(t, got.Priority)
	assert.Equal(t, 2, *got.Priority)
	assert.False(t, got.CreatedAt.IsZero())

	all, err := store.ListEmails(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)

	pending, err := store.ListEmailsByStatus(ctx, domain.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, first.ID, pending[0].ID)

	require.NoError(t, store.UpdateEmailStatus(ctx, first.ID, domain.StatusFailed))
	got, err = store.GetEmail(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, got.Status)

	err = store.UpdateEmailStatus(ctx, 99, domain.StatusSent)
	assert.ErrorIs(t, err, storage.ErrEmailNotFound)

	// 附件绑定后反映到邮件的附件列表
	att := &domain.Attachment{FilePath: "x", Name: "x.txt"}
	require.NoError(t, store.CreateAttachment(ctx, att))
	require.NoError(t, store.BindAttachment(ctx, att.ID, first.ID))
	got, err = store.GetEmail(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{att.ID}, got.AttachmentIDs)
}

func TestMemoryStore_Transaction(t *testing.T) {
	ctx := context.Background()
	store := NewStore()

	t.Run("出错时回滚全部写入", func(t *testing.T) {
		boom := errors.New("boom")
		err := store.Transaction(ctx, func(tx storage.Repository) error {
			user := &domain.User{EmailAddress: "a@a.pl"}
			if err := tx.CreateUser(ctx, user); err != nil {
				return err
			}
			if err := tx.CreateEmail(ctx, &domain.Email{Status: domain.StatusPending, SenderID: user.ID, RecipientIDs: []uint{user.ID}}); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		users, err := store.ListUsers(ctx)
		require.NoError(t, err)
		assert.Empty(t, users)
		emails, err := store.ListEmails(ctx)
		require.NoError(t, err)
		assert.Empty(t, emails)
	})

	t.Run("成功时提交", func(t *testing.T) {
		err := store.Transaction(ctx, func(tx storage.Repository) error {
			return tx.CreateUser(ctx, &domain.User{EmailAddress: "b@b.pl"})
		})
		require.NoError(t, err)

		user, err := store.GetUserByAddress(ctx, "b@b.pl")
		require.NoError(t, err)
		// 回滚后的 ID 序列同样被恢复
		assert.Equal(t, uint(1), user.ID)
	})
}
