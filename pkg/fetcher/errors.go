// pkg/fetcher/errors.go
package fetcher

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound 数据源中查不到该证券代码的行情
	ErrNotFound = errors.New("未找到行情数据")

	// ErrSourceUnavailable 数据源暂时不可用(网络故障、限流、响应格式异常)
	// 重试耗尽后仍返回该错误
	ErrSourceUnavailable = errors.New("数据源暂时不可用")

	// ErrAuth 认证失败，不参与重试
	ErrAuth = errors.New("数据源认证失败")
)

// TransientError 包装可重试的暂时性故障
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("暂时性故障: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient 标记错误为可重试
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// ValidationError 行情数据校验失败
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("行情数据校验失败: %s %s", e.Field, e.Reason)
}
