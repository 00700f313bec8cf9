package mailer

import (
	"errors"
	"syscall"
)

// ReasonUnreachable 外发通道拒绝连接时的失败原因
const ReasonUnreachable = "transport unreachable"

// Result 一次发送尝试的结果；发送失败不是错误，只是一种结果
type Result struct {
	Delivered bool
	Reason    string
	Err       error
}

// Sent 成功结果
func Sent() Result {
	return Result{Delivered: true}
}

// Failed 失败结果
func Failed(reason string, err error) Result {
	return Result{Reason: reason, Err: err}
}

// Classify 把 Transport.Send 的返回值归类为结果
func Classify(err error) Result {
	if err == nil {
		return Sent()
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return Failed(ReasonUnreachable, err)
	}
	return Failed(err.Error(), err)
}
