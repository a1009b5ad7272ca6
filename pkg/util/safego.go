// safego.go: 安全 goroutine 启动器，捕获 panic 防止进程崩溃。
package util

import (
	"runtime/debug"

	"github.com/multi-agent/agent-shell/pkg/logger"
)

// SafeGo 在新 goroutine 中安全执行 fn，捕获 panic 并记录日志 + 堆栈。
func SafeGo(fn func()) {
	go func() {
		defer Recover("goroutine")
		fn()
	}()
}

// Recover 捕获当前 goroutine 的 panic 并记录, 必须以 defer 方式调用。
func Recover(where string) {
	if r := recover(); r != nil {
		logger.Error("panic recovered",
			logger.FieldComponent, where,
			logger.FieldError, r,
			"stack", string(debug.Stack()),
		)
	}
}
