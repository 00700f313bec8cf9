package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

// SMTPTransport 通过 SMTP 服务器投递邮件，每次发送新建一个连接
type SMTPTransport struct {
	addr      string
	username  string
	password  string
	tlsMode   string
	tlsConfig *tls.Config
	localName string
	timeout   time.Duration
}

var _ Transport = (*SMTPTransport)(nil)

// NewSMTPTransport 创建 SMTP 通道
func NewSMTPTransport(cfg Config) *SMTPTransport {
	port := cfg.Port
	if port == 0 {
		port = 25
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	mode := cfg.TLS
	if mode == "" {
		mode = TLSNone
	}

	return &SMTPTransport{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		username: cfg.Username,
		password: cfg.Password,
		tlsMode:  mode,
		tlsConfig: &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // 仅用于自签名的内网中继
			MinVersion:         tls.VersionTLS12,
		},
		localName: cfg.LocalName,
		timeout:   timeout,
	}
}

// Name 返回通道名称
func (t *SMTPTransport) Name() string {
	return DriverSMTP
}

// Addr 返回 SMTP 服务器地址
func (t *SMTPTransport) Addr() string {
	return t.addr
}

// Send 连接服务器、按需认证并提交报文
func (t *SMTPTransport) Send(ctx context.Context, msg *Message) error {
	raw, err := msg.Build()
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	client, err := t.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if t.username != "" {
		auth := sasl.NewPlainClient("", t.username, t.password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.SendMail(msg.From, msg.To, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return client.Quit()
}

// dial 建立连接；拨号错误原样包装，调用方可以识别 ECONNREFUSED
func (t *SMTPTransport) dial(ctx context.Context) (*gosmtp.Client, error) {
	dialer := &net.Dialer{Timeout: t.timeout}

	var conn net.Conn
	var err error
	if t.tlsMode == TLSImplicit {
		tlsDialer := &tls.Dialer{NetDialer: dialer, Config: t.tlsConfig}
		conn, err = tlsDialer.DialContext(ctx, "tcp", t.addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", t.addr)
	}
	if err != nil {
		return nil, fmt.Errorf("smtp dial %s: %w", t.addr, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var client *gosmtp.Client
	if t.tlsMode == TLSStartTLS {
		// STARTTLS 握手前已发送 EHLO
		client, err = gosmtp.NewClientStartTLS(conn, t.tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("smtp starttls: %w", err)
		}
	} else {
		client = gosmtp.NewClient(conn)
		if t.localName != "" {
			if err := client.Hello(t.localName); err != nil {
				_ = client.Close()
				return nil, fmt.Errorf("smtp hello: %w", err)
			}
		}
	}
	client.CommandTimeout = t.timeout
	client.SubmissionTimeout = t.timeout
	return client, nil
}
