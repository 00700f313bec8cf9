package mailer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/smtp"
)

type mockSESClient struct {
	mock.Mock
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*sesv2.SendEmailOutput)
	return out, args.Error(1)
}

func TestSESTransport_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("发送原始报文", func(t *testing.T) {
		client := new(mockSESClient)
		client.On("SendEmail", ctx, mock.Anything).
			Return(&sesv2.SendEmailOutput{MessageId: aws.String("id-1")}, nil).Once()

		transport := NewSESTransportWithClient(client, nil)
		msg := &Message{From: "a@a.pl", To: []string{"b@b.pl"}, Subject: "Hi", Body: "body"}
		require.NoError(t, transport.Send(ctx, msg))

		input := client.Calls[0].Arguments.Get(1).(*sesv2.SendEmailInput)
		assert.Equal(t, "a@a.pl", aws.ToString(input.FromEmailAddress))
		assert.Equal(t, []string{"b@b.pl"}, input.Destination.ToAddresses)
		require.NotNil(t, input.Content.Raw)

		parsed, err := smtp.Parse(input.Content.Raw.Data)
		require.NoError(t, err)
		assert.Equal(t, "Hi", parsed.Subject)
		client.AssertExpectations(t)
	})

	t.Run("API 错误只调用一次即返回失败", func(t *testing.T) {
		client := new(mockSESClient)
		client.On("SendEmail", ctx, mock.Anything).Return(nil, errors.New("throttled"))

		transport := NewSESTransportWithClient(client, nil)
		start := time.Now()
		err := transport.Send(ctx, &Message{From: "a@a.pl", To: []string{"b@b.pl"}})
		assert.ErrorContains(t, err, "throttled")
		assert.Less(t, time.Since(start), time.Second)
		client.AssertNumberOfCalls(t, "SendEmail", 1)
	})

	assert.Equal(t, DriverSES, NewSESTransportWithClient(new(mockSESClient), nil).Name())
}
