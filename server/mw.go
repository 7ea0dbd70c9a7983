package server

import (
	"bytes"
	"fmt"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/logs"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
)

type handleStat struct {
	In      int
	Out     int
	Handled int
}

func LogMw(handleFn HandleFunc) HandleFunc {
	return func(in, out *bytes.Buffer) error {
		before := handleStat{In: in.Len(), Out: out.Len()}
		err := handleFn(in, out)
		after := handleStat{In: in.Len(), Out: out.Len(), Handled: before.In - in.Len()}
		logs.Debug(fmt.Sprintf("before: %s, after: %s", render.Render(before), render.Render(after)),
			zap.Int(consts.LogFieldBytes, after.Handled), zap.Error(err))
		return err
	}
}

// MetricsMw 统计写入输出缓冲区的字节数
func MetricsMw(helper *MetricsHelper) MiddlewareFunc {
	return func(handleFn HandleFunc) HandleFunc {
		return func(in, out *bytes.Buffer) error {
			before := out.Len()
			err := handleFn(in, out)
			if n := out.Len() - before; n > 0 {
				helper.BytesEchoedCounter.Add(float64(n))
			}
			return err
		}
	}
}
