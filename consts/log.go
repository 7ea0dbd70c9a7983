package consts

const (
	LogFieldComponent = "component"
	LogFieldFd        = "fd"
	LogFieldRemote    = "remote"
	LogFieldLocal     = "local"
	LogFieldState     = "state"
	LogFieldInterest  = "interest"
	LogFieldBytes     = "bytes"
	LogFieldBackend   = "backend"
	LogFieldTrigger   = "trigger"
	LogFieldParams    = "params"
	LogFieldValue     = "value"
	LogFieldStep      = "step"
	LogFieldInterval  = "interval"
)
