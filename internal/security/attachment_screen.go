package security

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// ErrFileTooLarge 上传内容超过大小上限
var ErrFileTooLarge = errors.New("file too large")

// RejectedError 附件未通过检查
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string {
	return "attachment rejected: " + e.Reason
}

// 可执行文件魔数
var executableSignatures = [][]byte{
	{0x4D, 0x5A},             // PE
	{0x7F, 0x45, 0x4C, 0x46}, // ELF
	{0xFE, 0xED, 0xFA, 0xCE}, // Mach-O
	{0xCE, 0xFA, 0xED, 0xFE}, // Mach-O (reverse)
	{0xCF, 0xFA, 0xED, 0xFE}, // Mach-O 64
}

// AttachmentScreen 上传附件检查器
type AttachmentScreen struct {
	maxFileSize         int64
	dangerousExtensions map[string]bool
}

// NewAttachmentScreen 创建附件检查器；maxFileSize<=0 表示不限制
func NewAttachmentScreen(maxFileSize int64) *AttachmentScreen {
	return &AttachmentScreen{
		maxFileSize: maxFileSize,
		dangerousExtensions: map[string]bool{
			".exe": true,
			".bat": true,
			".cmd": true,
			".scr": true,
			".pif": true,
			".com": true,
			".vbs": true,
			".js":  true,
			".jar": true,
			".msi": true,
			".ps1": true,
		},
	}
}

// Screened 通过检查的上传内容
type Screened struct {
	ContentType string
	Reader      io.Reader // 从头重放完整内容，读取超过上限时返回 ErrFileTooLarge
}

// Screen 检查扩展名与文件头，并在内容类型缺失时根据文件头推断
func (s *AttachmentScreen) Screen(filename, contentType string, content io.Reader) (*Screened, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if s.dangerousExtensions[ext] {
		return nil, &RejectedError{Reason: "dangerous file extension " + ext}
	}

	// Peek 不消费数据，后续读取仍从第一个字节开始
	br := bufio.NewReaderSize(content, 512)
	header, err := br.Peek(512)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, fmt.Errorf("failed to read file header: %w", err)
	}

	for _, sig := range executableSignatures {
		if bytes.HasPrefix(header, sig) {
			return nil, &RejectedError{Reason: "executable content detected"}
		}
	}

	return &Screened{
		ContentType: normalizeContentType(contentType, header),
		Reader:      &limitedReader{r: br, remaining: s.maxFileSize, unlimited: s.maxFileSize <= 0},
	}, nil
}

func normalizeContentType(declared string, header []byte) string {
	if declared != "" {
		if mediaType, params, err := mime.ParseMediaType(declared); err == nil {
			if mediaType != "application/octet-stream" || len(header) == 0 {
				return mime.FormatMediaType(mediaType, params)
			}
		}
	}
	return http.DetectContentType(header)
}

// limitedReader 与 io.LimitReader 不同，超限时返回错误而不是静默截断
type limitedReader struct {
	r         io.Reader
	remaining int64
	unlimited bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.unlimited {
		return l.r.Read(p)
	}
	if l.remaining < 0 {
		return 0, ErrFileTooLarge
	}
	if int64(len(p)) > l.remaining+1 {
		p = p[:l.remaining+1]
	}
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, ErrFileTooLarge
	}
	return n, err
}
