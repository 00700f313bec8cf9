package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger(t *testing.T) {
	t.Run("生产模式输出 JSON", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := newLogger(Config{Level: "info"}, &buf)
		require.NoError(t, err)

		log.Debug("hidden")
		log.Info("email sent", zap.Uint("email_id", 7))
		require.NoError(t, log.Sync())

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "email sent", entry["message"])
		assert.Equal(t, "info", entry["level"])
		assert.EqualValues(t, 7, entry["email_id"])
		assert.NotContains(t, buf.String(), "hidden")
	})

	t.Run("非法级别回退到 info", func(t *testing.T) {
		var buf bytes.Buffer
		log, err := newLogger(Config{Level: "verbose"}, &buf)
		require.NoError(t, err)
		assert.False(t, log.Core().Enabled(zap.DebugLevel))
		assert.True(t, log.Core().Enabled(zap.InfoLevel))
	})

	t.Run("写入轮转文件", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "logs", "mailrelay.log")
		var buf bytes.Buffer
		log, err := newLogger(Config{Level: "info", LogFile: file, MaxSize: 1}, &buf)
		require.NoError(t, err)

		log.Info("to file")
		require.NoError(t, log.Sync())

		content, err := os.ReadFile(file)
		require.NoError(t, err)
		assert.Contains(t, string(content), "to file")
		assert.Contains(t, buf.String(), "to file")
	})
}
