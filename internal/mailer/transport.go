package mailer

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// 支持的外发通道
const (
	DriverSMTP = "smtp"
	DriverSES  = "ses"
	DriverLog  = "log"
)

// TLS 模式
const (
	TLSNone     = "none"
	TLSStartTLS = "starttls"
	TLSImplicit = "tls"
)

// Transport 外发通道接口
type Transport interface {
	// Send 投递一封邮件；返回错误表示本次投递失败
	Send(ctx context.Context, msg *Message) error

	// Name 返回通道名称
	Name() string
}

// Config 外发通道配置
type Config struct {
	Driver string

	// SMTP
	Host               string
	Port               int
	Username           string
	Password           string
	TLS                string
	InsecureSkipVerify bool
	LocalName          string
	Timeout            time.Duration

	// SES
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// New 根据配置创建外发通道
func New(ctx context.Context, cfg Config, log *zap.Logger) (Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}

	switch cfg.Driver {
	case DriverSMTP:
		return NewSMTPTransport(cfg), nil
	case DriverSES:
		return NewSESTransport(ctx, cfg, log)
	case DriverLog, "":
		return NewLogTransport(log), nil
	default:
		return nil, fmt.Errorf("unsupported transport driver: %s", cfg.Driver)
	}
}
