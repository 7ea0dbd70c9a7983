package server

import "bytes"

// HandleFunc 消费 in 中的数据，把响应写入 out。
// 返回错误时连接会被关闭。
type HandleFunc func(in, out *bytes.Buffer) error

type MiddlewareFunc func(handleFn HandleFunc) HandleFunc

// EchoHandle 把收到的字节原样写回
func EchoHandle(in, out *bytes.Buffer) error {
	_, err := in.WriteTo(out)
	return err
}

// Chain 第一个中间件在最外层
func Chain(handleFn HandleFunc, mws ...MiddlewareFunc) HandleFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		handleFn = mws[i](handleFn)
	}
	return handleFn
}
