// Package errs 定义了会话协议与持久化层共享的错误分类。
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 表示请求的记录不存在（或不属于当前用户）。
	ErrNotFound = errors.New("record not found")
	// ErrUnauthorized 表示认证失败，连接升级或请求被拒绝。
	ErrUnauthorized = errors.New("unauthorized")
	// ErrUpstream 表示外部依赖（补全服务、文本提取）不可用。
	// 调用方应将其吸收为降级文案，而不是继续向上传播。
	ErrUpstream = errors.New("upstream unavailable")
)

// ValidationError 表示持久化前的字段校验失败，例如消息内容为空。
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

// Validation 构造一个 ValidationError。
func Validation(reason string) error {
	return &ValidationError{Reason: reason}
}

// IsValidation 判断 err 是否为字段校验错误。
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ProtocolError 表示客户端发来的帧格式错误，或与当前会话状态不匹配。
// 它是用户可纠正的：连接保持打开，以 error 帧回告。
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return e.Reason
}

// Protocol 构造一个 ProtocolError。
func Protocol(reason string) error {
	return &ProtocolError{Reason: reason}
}
