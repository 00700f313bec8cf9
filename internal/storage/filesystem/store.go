package filesystem

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ErrBlobNotFound 附件文件不存在
var ErrBlobNotFound = errors.New("blob not found")

// Blob 描述一次写入的结果
type Blob struct {
	Path     string // 相对 basePath 的路径
	Size     int64
	Checksum string // blake2b-256 十六进制摘要
}

// Store 文件系统附件存储实现
//
// 文件按 {YYYY-MM-DD}/{uuid}{ext} 布局，原始文件名只保留扩展名。
type Store struct {
	basePath string
	now      func() time.Time
}

// NewStore 创建文件系统存储实例
func NewStore(basePath string) (*Store, error) {
	if err := ValidatePath(basePath); err != nil {
		return nil, fmt.Errorf("invalid base path: %w", err)
	}

	normalized, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	if err := os.MkdirAll(normalized, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Store{
		basePath: filepath.Clean(normalized),
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// BasePath 返回存储根目录
func (s *Store) BasePath() string {
	return s.basePath
}

// Save 将 r 的内容写入新文件，同时计算大小与摘要
func (s *Store) Save(originalName string, r io.Reader) (*Blob, error) {
	dir := s.now().Format("2006-01-02")
	if err := os.MkdirAll(filepath.Join(s.basePath, dir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create attachment directory: %w", err)
	}

	rel := filepath.Join(dir, uuid.NewString()+safeExt(originalName))
	full := filepath.Join(s.basePath, rel)

	file, err := os.OpenFile(full, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create attachment file: %w", err)
	}

	hasher, _ := blake2b.New256(nil)
	size, err := io.Copy(io.MultiWriter(file, hasher), r)
	if closeErr := file.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(full)
		return nil, fmt.Errorf("failed to write attachment: %w", err)
	}

	return &Blob{
		Path:     filepath.ToSlash(rel),
		Size:     size,
		Checksum: hex.EncodeToString(hasher.Sum(nil)),
	}, nil
}

// Open 打开已保存的文件
func (s *Store) Open(path string) (io.ReadCloser, error) {
	full, err := s.resolve(path)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	return file, nil
}

// Read 读取文件全部内容
func (s *Store) Read(path string) ([]byte, error) {
	rc, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	return data, nil
}

// Delete 删除文件，文件不存在时不报错
func (s *Store) Delete(path string) error {
	full, err := s.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete attachment: %w", err)
	}
	return nil
}

// Health 检查根目录可写
func (s *Store) Health() error {
	probe, err := os.CreateTemp(s.basePath, ".health-*")
	if err != nil {
		return fmt.Errorf("attachment directory not writable: %w", err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

// Stats 统计已保存的文件数量与总大小
func (s *Store) Stats() (files int, bytes int64, err error) {
	err = filepath.WalkDir(s.basePath, func(_ string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || d.Name()[0] == '.' {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		bytes += info.Size()
		return nil
	})
	return files, bytes, err
}

// resolve 把相对路径转换为 basePath 下的绝对路径，拒绝越界访问
func (s *Store) resolve(path string) (string, error) {
	if path == "" || filepath.IsAbs(path) {
		return "", fmt.Errorf("invalid attachment path: %q", path)
	}
	if err := ValidatePath(path); err != nil {
		return "", err
	}
	full := filepath.Join(s.basePath, filepath.FromSlash(path))
	rel, err := filepath.Rel(s.basePath, full)
	if err != nil || rel == "." || rel == ".." || filepath.IsAbs(rel) {
		return "", fmt.Errorf("invalid attachment path: %q", path)
	}
	return full, nil
}
