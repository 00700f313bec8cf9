package mailer

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/smtp"
)

func TestMessage_Build(t *testing.T) {
	t.Run("无附件生成单段报文", func(t *testing.T) {
		msg := &Message{From: "a@a.pl", To: []string{"b@b.pl"}, Subject: "Hi", Body: "hello there"}
		raw, err := msg.Build()
		require.NoError(t, err)

		parsed, err := smtp.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "Hi", parsed.Subject)
		assert.Equal(t, "hello there", parsed.Text)
		assert.Empty(t, parsed.Attachments)
		assert.NotContains(t, parsed.Headers, HeaderPriority)
	})

	t.Run("设置优先级时带 X-Priority", func(t *testing.T) {
		msg := &Message{From: "a@a.pl", To: []string{"b@b.pl"}, Subject: "Hi", Body: "x"}
		msg.SetPriority(1)
		raw, err := msg.Build()
		require.NoError(t, err)

		parsed, err := smtp.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "1", parsed.Headers[HeaderPriority])
	})

	t.Run("附件带文件名和类型", func(t *testing.T) {
		msg := &Message{
			From:    "a@a.pl",
			To:      []string{"b@b.pl", "c@c.pl"},
			Subject: "Report",
			Body:    "see attached",
			Attachments: []Attachment{
				{Filename: "report.pdf", ContentType: "application/pdf", Content: []byte("%PDF-1.4")},
				{Filename: "notes.txt", Content: []byte("plain")},
			},
		}
		raw, err := msg.Build()
		require.NoError(t, err)

		parsed, err := smtp.Parse(raw)
		require.NoError(t, err)
		assert.Equal(t, "see attached", parsed.Text)
		require.Len(t, parsed.Attachments, 2)
		assert.Equal(t, "report.pdf", parsed.Attachments[0].Filename)
		assert.Equal(t, "application/pdf", parsed.Attachments[0].ContentType)
		assert.Equal(t, []byte("%PDF-1.4"), parsed.Attachments[0].Content)
		assert.Equal(t, "application/octet-stream", parsed.Attachments[1].ContentType)
	})

	t.Run("缺少收件人", func(t *testing.T) {
		_, err := (&Message{From: "a@a.pl"}).Build()
		assert.Error(t, err)
	})
}

func TestClassify(t *testing.T) {
	assert.True(t, Classify(nil).Delivered)

	refused := &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}
	res := Classify(fmt.Errorf("smtp dial: %w", refused))
	assert.False(t, res.Delivered)
	assert.Equal(t, ReasonUnreachable, res.Reason)

	res = Classify(errors.New("550 mailbox unavailable"))
	assert.False(t, res.Delivered)
	assert.Equal(t, "550 mailbox unavailable", res.Reason)
	assert.Error(t, res.Err)
}
