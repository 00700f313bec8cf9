package mailer

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"go.uber.org/zap"
)

// SendEmailAPI SES v2 SendEmail 操作，测试时可替换
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESTransport 通过 AWS SES v2 投递原始 MIME 报文
//
// 每封邮件只调用一次 SendEmail；限流等瞬时错误由 SDK 自带的重试器处理。
type SESTransport struct {
	client SendEmailAPI
	log    *zap.Logger
}

var _ Transport = (*SESTransport)(nil)

// NewSESTransport 加载 AWS 配置并创建 SES 通道
func NewSESTransport(ctx context.Context, cfg Config, log *zap.Logger) (*SESTransport, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return NewSESTransportWithClient(sesv2.NewFromConfig(awsCfg), log), nil
}

// NewSESTransportWithClient 使用自定义客户端创建 SES 通道
func NewSESTransportWithClient(client SendEmailAPI, log *zap.Logger) *SESTransport {
	if log == nil {
		log = zap.NewNop()
	}
	return &SESTransport{client: client, log: log}
}

// Name 返回通道名称
func (s *SESTransport) Name() string {
	return DriverSES
}

// Send 以 Raw 内容调用 SendEmail
func (s *SESTransport) Send(ctx context.Context, msg *Message) error {
	raw, err := msg.Build()
	if err != nil {
		return fmt.Errorf("failed to build message: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: &msg.From,
		Destination:      &types.Destination{ToAddresses: msg.To},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: raw},
		},
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("SES API request failed: %w", err)
	}
	if out != nil && out.MessageId != nil {
		s.log.Debug("SES accepted message", zap.String("message_id", *out.MessageId))
	}
	return nil
}
