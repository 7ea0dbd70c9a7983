package logs

import (
	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/utils"
	"go.uber.org/zap"
)

var Logger *zap.Logger

var commonFields = []zap.Field{
	zap.String(consts.LogFieldComponent, "reactor"),
}

var reactorLogger *zap.Logger

func init() {
	var err error
	option := zap.AddCaller()
	if utils.IsTest() {
		Logger, err = zap.NewDevelopment(option)
	} else {
		Logger, err = zap.NewProduction(option)
	}

	if err != nil {
		panic(err)
	}

	reactorLogger = Logger.With(commonFields...).WithOptions(zap.AddCallerSkip(1))
}

// Named 以 component 字段区分日志来源
func Named(component string) *zap.Logger {
	return Logger.With(zap.String(consts.LogFieldComponent, component))
}

func Sync() {
	_ = Logger.Sync()
}
