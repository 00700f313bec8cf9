package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFinish(t *testing.T) {
	t.Run("正常退出", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		assert.Equal(t, 0, finish(zap.New(core), nil))
		assert.Equal(t, 1, logs.FilterMessage("mailrelay stopped").Len())
	})

	t.Run("出错时记录错误并返回非零退出码", func(t *testing.T) {
		core, logs := observer.New(zapcore.InfoLevel)
		assert.Equal(t, 1, finish(zap.New(core), errors.New("http server: bind: address already in use")))

		entries := logs.FilterMessage("mailrelay stopped with error").All()
		if assert.Len(t, entries, 1) {
			assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
		}
	})
}
