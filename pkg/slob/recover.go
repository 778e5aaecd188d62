package slob

import (
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"
)

// PanicError 是 hook 发生 panic 时转换得到的错误
type PanicError struct {
	Hook  string
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("%s panicked: %v", e.Hook, e.Value)
}

// recoverHook 捕获 hook 的 panic，打印堆栈，并转换为错误
// 用法: defer recoverHook(log, "post-mutate hook", &err)
func recoverHook(log *zap.Logger, hook string, err *error) {
	p := recover()
	if p == nil {
		return
	}
	stack := string(debug.Stack())
	log.Error("hook panic recovered",
		zap.String("hook", hook),
		zap.Any("panic", p),
		zap.String("stack", stack),
	)
	*err = &PanicError{Hook: hook, Value: p, Stack: stack}
}
