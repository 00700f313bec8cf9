// Package smtp 提供开发环境使用的本地 SMTP 收件箱：接收外发邮件、解析后只保存在内存中，
// 不做任何转发。
package smtp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	_ "github.com/emersion/go-message/charset" // 注册非 UTF-8 字符集解码
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

// ErrAuthFailed 用户名或密码错误
var ErrAuthFailed = errors.New("invalid credentials")

// CapturedAttachment 收到的附件
type CapturedAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// CapturedMessage 收到的一封邮件
type CapturedMessage struct {
	From        string
	To          []string
	Subject     string
	Text        string
	Headers     map[string]string
	Attachments []CapturedAttachment
	Raw         []byte
	ReceivedAt  time.Time
}

// SinkConfig 收件箱配置
type SinkConfig struct {
	Domain          string
	Username        string // 为空时不要求认证
	Password        string
	MaxMessages     int
	MaxMessageBytes int64
	MaxRecipients   int
}

// Sink 捕获邮件的 SMTP 服务器
type Sink struct {
	cfg    SinkConfig
	log    *zap.Logger
	server *gosmtp.Server

	mu       sync.RWMutex
	messages []CapturedMessage
}

// NewSink 创建收件箱
func NewSink(cfg SinkConfig, log *zap.Logger) *Sink {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 100
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 10 << 20
	}
	if cfg.MaxRecipients <= 0 {
		cfg.MaxRecipients = 50
	}
	if cfg.Domain == "" {
		cfg.Domain = "localhost"
	}

	s := &Sink{cfg: cfg, log: log}

	server := gosmtp.NewServer(&backend{sink: s})
	server.Domain = cfg.Domain
	server.AllowInsecureAuth = true
	server.ReadTimeout = 10 * time.Second
	server.WriteTimeout = 10 * time.Second
	server.MaxMessageBytes = cfg.MaxMessageBytes
	server.MaxRecipients = cfg.MaxRecipients
	s.server = server

	return s
}

// Serve 在给定监听器上提供服务，直到 Close
func (s *Sink) Serve(l net.Listener) error {
	s.log.Info("SMTP sink listening", zap.String("address", l.Addr().String()))
	err := s.server.Serve(l)
	if errors.Is(err, gosmtp.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe 监听 addr 并提供服务
func (s *Sink) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("sink listen %s: %w", addr, err)
	}
	return s.Serve(l)
}

// Shutdown 停止服务
func (s *Sink) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Messages 返回已捕获邮件的副本，按接收顺序
func (s *Sink) Messages() []CapturedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CapturedMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Reset 清空已捕获的邮件
func (s *Sink) Reset() {
	s.mu.Lock()
	s.messages = nil
	s.mu.Unlock()
}

func (s *Sink) store(msg CapturedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, msg)
	if over := len(s.messages) - s.cfg.MaxMessages; over > 0 {
		s.messages = s.messages[over:]
	}
}

// backend 实现 go-smtp 的 Backend 接口
type backend struct {
	sink *Sink
}

// NewSession 创建新的 SMTP 会话。
func (b *backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{sink: b.sink, authed: b.sink.cfg.Username == ""}, nil
}

type session struct {
	sink   *Sink
	authed bool
	from   string
	to     []string
}

var _ gosmtp.AuthSession = (*session)(nil)

// AuthMechanisms 仅支持 PLAIN
func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

// Auth 校验 PLAIN 凭据
func (s *session) Auth(_ string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.sink.cfg.Username || password != s.sink.cfg.Password {
			return ErrAuthFailed
		}
		s.authed = true
		return nil
	}), nil
}

// Mail 处理 MAIL 命令。
func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authed {
		return gosmtp.ErrAuthRequired
	}
	s.from = from
	return nil
}

// Rcpt 处理 RCPT 命令。
func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	if !s.authed {
		return gosmtp.ErrAuthRequired
	}
	s.to = append(s.to, to)
	return nil
}

// Data 读取并解析报文。
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	msg, err := Parse(raw)
	if err != nil {
		s.sink.log.Warn("SMTP sink received unparsable message", zap.Error(err))
		return &gosmtp.SMTPError{
			Code:         554,
			EnhancedCode: gosmtp.EnhancedCode{5, 6, 0},
			Message:      "message could not be parsed",
		}
	}
	msg.From = s.from
	msg.To = append([]string(nil), s.to...)
	msg.ReceivedAt = time.Now().UTC()

	s.sink.store(*msg)
	s.sink.log.Info("SMTP sink captured message",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
	)
	return nil
}

// Reset 重置状态。
func (s *session) Reset() {
	s.from = ""
	s.to = nil
}

// Logout 会话结束。
func (s *session) Logout() error {
	return nil
}

// Parse 解析报文的主题、正文、附件以及 X- 扩展头
func Parse(raw []byte) (*CapturedMessage, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse mail: %w", err)
	}
	defer mr.Close()

	msg := &CapturedMessage{Raw: raw, Headers: make(map[string]string)}
	if msg.Subject, err = mr.Header.Subject(); err != nil {
		return nil, fmt.Errorf("decode subject: %w", err)
	}

	fields := mr.Header.Fields()
	for fields.Next() {
		if key := fields.Key(); strings.HasPrefix(strings.ToUpper(key), "X-") {
			msg.Headers[key] = fields.Value()
		}
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read part: %w", err)
		}

		body, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}

		switch h := part.Header.(type) {
		case *mail.InlineHeader:
			if msg.Text == "" {
				msg.Text = string(body)
			}
		case *mail.AttachmentHeader:
			filename, _ := h.Filename()
			contentType, _, _ := h.ContentType()
			msg.Attachments = append(msg.Attachments, CapturedAttachment{
				Filename:    filename,
				ContentType: contentType,
				Content:     body,
			})
		}
	}
	return msg, nil
}
