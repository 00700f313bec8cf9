package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"mailrelay/backend/internal/domain"
	"mailrelay/backend/internal/monitoring"
	"mailrelay/backend/internal/security"
	"mailrelay/backend/internal/storage"
	"mailrelay/backend/internal/storage/filesystem"
)

// BlobStore 附件内容存储
type BlobStore interface {
	Save(originalName string, r io.Reader) (*filesystem.Blob, error)
	Open(path string) (io.ReadCloser, error)
	Delete(path string) error
}

// AttachmentService 附件索引：记录上传文件、绑定到邮件、为发送解析文件。
type AttachmentService struct {
	store   storage.Store
	blobs   BlobStore
	screen  *security.AttachmentScreen
	log     *zap.Logger
	metrics *monitoring.Metrics
}

// NewAttachmentService 创建附件服务。
func NewAttachmentService(store storage.Store, blobs BlobStore, screen *security.AttachmentScreen, log *zap.Logger, metrics *monitoring.Metrics) *AttachmentService {
	if log == nil {
		log = zap.NewNop()
	}
	if screen == nil {
		screen = security.NewAttachmentScreen(0)
	}
	return &AttachmentService{
		store:   store,
		blobs:   blobs,
		screen:  screen,
		log:     log,
		metrics: metrics,
	}
}

// Upload 检查并保存上传内容，然后记录一个未绑定的附件。
func (s *AttachmentService) Upload(ctx context.Context, filename, contentType string, content io.Reader) (*domain.Attachment, error) {
	screened, err := s.screen.Screen(filename, contentType, content)
	if err != nil {
		var rejected *security.RejectedError
		if errors.As(err, &rejected) {
			s.metrics.RecordAttachmentRejected()
			s.log.Warn("upload rejected", zap.String("filename", filename), zap.String("reason", rejected.Reason))
			return nil, NewValidationError("attachment", rejected.Reason)
		}
		return nil, err
	}

	blob, err := s.blobs.Save(filename, screened.Reader)
	if err != nil {
		if errors.Is(err, security.ErrFileTooLarge) {
			s.metrics.RecordAttachmentRejected()
			return nil, NewValidationError("attachment", "file is too large")
		}
		return nil, fmt.Errorf("store upload: %w", err)
	}

	attachment := &domain.Attachment{
		FilePath:    blob.Path,
		Name:        filesystem.SanitizeFilename(filename),
		ContentType: screened.ContentType,
		Size:        blob.Size,
		Checksum:    blob.Checksum,
	}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		if delErr := s.blobs.Delete(blob.Path); delErr != nil {
			s.log.Error("failed to remove orphan blob", zap.String("path", blob.Path), zap.Error(delErr))
		}
		return nil, fmt.Errorf("record attachment: %w", err)
	}

	s.metrics.RecordAttachment(attachment.Size)
	s.log.Info("attachment stored",
		zap.Uint("attachment_id", attachment.ID),
		zap.String("name", attachment.Name),
		zap.Int64("size", attachment.Size),
	)
	return attachment, nil
}

// Record 为已写入存储的文件创建未绑定的附件记录。
func (s *AttachmentService) Record(ctx context.Context, filePath, name, contentType string) (*domain.Attachment, error) {
	attachment := &domain.Attachment{FilePath: filePath, Name: name, ContentType: contentType}
	if err := s.store.CreateAttachment(ctx, attachment); err != nil {
		return nil, err
	}
	return attachment, nil
}

// Bind 将附件绑定到邮件；只能绑定一次，重复绑定同一邮件无副作用。
func (s *AttachmentService) Bind(ctx context.Context, repo storage.Repository, attachmentID, emailID uint) error {
	return repo.BindAttachment(ctx, attachmentID, emailID)
}

// ResolveMany 解析附件文件信息，找不到的ID直接跳过。
func (s *AttachmentService) ResolveMany(ctx context.Context, repo storage.Repository, ids []uint) ([]domain.AttachmentFile, error) {
	files := make([]domain.AttachmentFile, 0, len(ids))
	for _, id := range ids {
		att, err := repo.GetAttachment(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrAttachmentNotFound) {
				continue
			}
			return nil, err
		}
		files = append(files, domain.AttachmentFile{
			FilePath:    att.FilePath,
			Name:        att.Name,
			ContentType: att.ContentType,
		})
	}
	return files, nil
}

// Open 打开附件内容。
func (s *AttachmentService) Open(filePath string) (io.ReadCloser, error) {
	return s.blobs.Open(filePath)
}

// Get 根据ID获取附件元数据。
func (s *AttachmentService) Get(ctx context.Context, id uint) (*domain.Attachment, error) {
	return s.store.GetAttachment(ctx, id)
}
