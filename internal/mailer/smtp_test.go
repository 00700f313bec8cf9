package mailer

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/smtp"
)

func startSink(t *testing.T, cfg smtp.SinkConfig) (*smtp.Sink, string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	sink := smtp.NewSink(cfg, nil)
	go func() { _ = sink.Serve(l) }()
	t.Cleanup(func() { _ = sink.Shutdown(context.Background()) })

	host, port, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return sink, host, p
}

func TestSMTPTransport_Send(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	t.Run("投递到本地收件箱", func(t *testing.T) {
		sink, host, port := startSink(t, smtp.SinkConfig{})
		transport := NewSMTPTransport(Config{Host: host, Port: port, LocalName: "relay.test"})

		msg := &Message{
			From:        "a@a.pl",
			To:          []string{"b@b.pl"},
			Subject:     "Hello",
			Body:        "body",
			Attachments: []Attachment{{Filename: "a.txt", ContentType: "text/plain", Content: []byte("x")}},
		}
		msg.SetPriority(3)
		require.NoError(t, transport.Send(ctx, msg))

		got := sink.Messages()
		require.Len(t, got, 1)
		assert.Equal(t, "a@a.pl", got[0].From)
		assert.Equal(t, []string{"b@b.pl"}, got[0].To)
		assert.Equal(t, "Hello", got[0].Subject)
		assert.Equal(t, "3", got[0].Headers[HeaderPriority])
		require.Len(t, got[0].Attachments, 1)
		assert.Equal(t, "a.txt", got[0].Attachments[0].Filename)
	})

	t.Run("PLAIN 认证", func(t *testing.T) {
		sink, host, port := startSink(t, smtp.SinkConfig{Username: "relay", Password: "secret"})

		bad := NewSMTPTransport(Config{Host: host, Port: port, Username: "relay", Password: "wrong"})
		assert.Error(t, bad.Send(ctx, &Message{From: "a@a.pl", To: []string{"b@b.pl"}}))

		good := NewSMTPTransport(Config{Host: host, Port: port, Username: "relay", Password: "secret"})
		require.NoError(t, good.Send(ctx, &Message{From: "a@a.pl", To: []string{"b@b.pl"}}))
		assert.Len(t, sink.Messages(), 1)
	})

	t.Run("服务器不可达时识别为连接拒绝", func(t *testing.T) {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		addr := l.Addr().(*net.TCPAddr)
		require.NoError(t, l.Close())

		transport := NewSMTPTransport(Config{Host: "127.0.0.1", Port: addr.Port, Timeout: time.Second})
		err = transport.Send(ctx, &Message{From: "a@a.pl", To: []string{"b@b.pl"}})
		require.Error(t, err)
		assert.Equal(t, ReasonUnreachable, Classify(err).Reason)
	})
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	tr, err := New(ctx, Config{Driver: DriverSMTP, Host: "localhost", Port: 2525}, nil)
	require.NoError(t, err)
	assert.Equal(t, DriverSMTP, tr.Name())
	assert.Equal(t, "localhost:2525", tr.(*SMTPTransport).Addr())

	tr, err = New(ctx, Config{Driver: DriverLog}, nil)
	require.NoError(t, err)
	assert.Equal(t, DriverLog, tr.Name())
	assert.NoError(t, tr.Send(ctx, &Message{From: "a@a.pl", To: []string{"b@b.pl"}}))

	_, err = New(ctx, Config{Driver: "pigeon"}, nil)
	assert.Error(t, err)
}
