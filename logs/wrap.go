package logs

import "go.uber.org/zap"

func Debug(msg string, fields ...zap.Field) {
	reactorLogger.Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	reactorLogger.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	reactorLogger.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	reactorLogger.Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	reactorLogger.Fatal(msg, fields...)
}
