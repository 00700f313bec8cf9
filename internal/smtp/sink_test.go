package smtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const multipartRaw = "From: <a@a.pl>\r\n" +
	"To: <b@b.pl>\r\n" +
	"Subject: =?utf-8?q?Caf=C3=A9?=\r\n" +
	"X-Priority: 2\r\n" +
	"MIME-Version: 1.0\r\n" +
	"Content-Type: multipart/mixed; boundary=XYZ\r\n" +
	"\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello\r\n" +
	"--XYZ\r\n" +
	"Content-Type: text/csv\r\n" +
	"Content-Disposition: attachment; filename=\"data.csv\"\r\n" +
	"Content-Transfer-Encoding: base64\r\n" +
	"\r\n" +
	"YSxiLGM=\r\n" +
	"--XYZ--\r\n"

func TestParse(t *testing.T) {
	msg, err := Parse([]byte(multipartRaw))
	require.NoError(t, err)

	assert.Equal(t, "Café", msg.Subject)
	assert.Equal(t, "2", msg.Headers["X-Priority"])
	assert.Contains(t, msg.Text, "hello")
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "data.csv", msg.Attachments[0].Filename)
	assert.Equal(t, "text/csv", msg.Attachments[0].ContentType)
	assert.Equal(t, []byte("a,b,c"), msg.Attachments[0].Content)
}

func TestSink_StoreKeepsNewest(t *testing.T) {
	sink := NewSink(SinkConfig{MaxMessages: 2}, nil)
	for _, subject := range []string{"one", "two", "three"} {
		sink.store(CapturedMessage{Subject: subject})
	}

	got := sink.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "two", got[0].Subject)
	assert.Equal(t, "three", got[1].Subject)

	sink.Reset()
	assert.Empty(t, sink.Messages())
}
