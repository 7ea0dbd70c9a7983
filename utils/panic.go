package utils

import (
	"fmt"
	"runtime/debug"
)

// PanicErr 被 SafeCall 捕获的 panic
type PanicErr struct {
	Recovered any
	Stack     []byte
}

func (pe *PanicErr) Error() string {
	return fmt.Sprintf("panic recovered: %v", pe.Recovered)
}

// SafeCall 执行fn，fn中的panic会被转换为 *PanicErr 返回，
// 避免单个连接的处理逻辑拖垮整个事件循环
func SafeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicErr{Recovered: r, Stack: debug.Stack()}
		}
	}()

	return fn()
}
