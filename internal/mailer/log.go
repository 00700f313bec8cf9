package mailer

import (
	"context"

	"go.uber.org/zap"
)

// LogTransport 只记录日志不真正发送，用于关闭外发的环境
type LogTransport struct {
	log *zap.Logger
}

var _ Transport = (*LogTransport)(nil)

// NewLogTransport 创建日志通道
func NewLogTransport(log *zap.Logger) *LogTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogTransport{log: log}
}

// Name 返回通道名称
func (t *LogTransport) Name() string {
	return DriverLog
}

// Send 校验报文可以生成后记录摘要
func (t *LogTransport) Send(_ context.Context, msg *Message) error {
	raw, err := msg.Build()
	if err != nil {
		return err
	}

	t.log.Info("outbound mail suppressed",
		zap.String("from", msg.From),
		zap.Strings("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.Int("attachments", len(msg.Attachments)),
		zap.Int("bytes", len(raw)),
	)
	return nil
}
