package errs

import (
	"errors"
	"fmt"
)

type EchoErr struct {
	msg  string
	code int64
	err  error
}

// Error 输出格式：
// [错误码] 错误类型描述 ( => 包含错误详细描述 )
// 解释：(xxx) 表示可选内容
func (ee *EchoErr) Error() string {
	details := fmt.Sprintf("[%d] %s", ee.code, ee.msg)
	if ee.err != nil {
		details += fmt.Sprintf(" => %s", ee.err)
	}

	return details
}

func (ee *EchoErr) Code() int64 {
	return ee.code
}

func (ee *EchoErr) WithErr(err error) *EchoErr {
	ee.err = err
	return ee
}

func (ee *EchoErr) Unwrap() error {
	return ee.err
}

func GetCode(err error) int64 {
	var ee *EchoErr
	if errors.As(err, &ee) {
		return ee.code
	}
	return UnknownErrCode
}

const (
	UnknownErrCode             = 0
	InvalidParamErrCode        = 100001
	WouldBlockErrCode          = 100002
	SocketErrCode              = 100003
	BindErrCode                = 100004
	ListenErrCode              = 100005
	AcceptErrCode              = 100006
	ReadSocketErrCode          = 100007
	WriteSocketErrCode         = 100008
	CloseSocketErrCode         = 100009
	SetNonblockErrCode         = 100010
	AlreadyRegisteredErrCode   = 100011
	NotRegisteredErrCode       = 100012
	CapacityExceededErrCode    = 100013
	DuplicateDescriptorErrCode = 100014
	NotFoundErrCode            = 100015
	PollerCreateErrCode        = 100016
	PollerCtlErrCode           = 100017
	PollerWaitErrCode          = 100018
	WakerErrCode               = 100019
	ServerClosedErrCode        = 100020
	ServerRunningErrCode       = 100021
	ReadConfigErrCode          = 100022
)

func NewInvalidParamErr() *EchoErr {
	return &EchoErr{msg: "invalid params", code: InvalidParamErrCode}
}

func NewWouldBlockErr() *EchoErr {
	return &EchoErr{msg: "operation would block", code: WouldBlockErrCode}
}

func NewSocketErr() *EchoErr {
	return &EchoErr{msg: "create socket failed", code: SocketErrCode}
}

func NewBindErr() *EchoErr {
	return &EchoErr{msg: "bind listen address failed", code: BindErrCode}
}

func NewListenErr() *EchoErr {
	return &EchoErr{msg: "listen on socket failed", code: ListenErrCode}
}

func NewAcceptErr() *EchoErr {
	return &EchoErr{msg: "accept connection failed", code: AcceptErrCode}
}

func NewReadSocketErr() *EchoErr {
	return &EchoErr{msg: "read socket failed", code: ReadSocketErrCode}
}

func NewWriteSocketErr() *EchoErr {
	return &EchoErr{msg: "write socket failed", code: WriteSocketErrCode}
}

func NewCloseSocketErr() *EchoErr {
	return &EchoErr{msg: "close socket failed", code: CloseSocketErrCode}
}

func NewSetNonblockErr() *EchoErr {
	return &EchoErr{msg: "set socket non-blocking failed", code: SetNonblockErrCode}
}

func NewAlreadyRegisteredErr() *EchoErr {
	return &EchoErr{msg: "descriptor already registered", code: AlreadyRegisteredErrCode}
}

func NewNotRegisteredErr() *EchoErr {
	return &EchoErr{msg: "descriptor not registered", code: NotRegisteredErrCode}
}

func NewCapacityExceededErr() *EchoErr {
	return &EchoErr{msg: "poller capacity exceeded", code: CapacityExceededErrCode}
}

func NewDuplicateDescriptorErr() *EchoErr {
	return &EchoErr{msg: "duplicate descriptor", code: DuplicateDescriptorErrCode}
}

func NewNotFoundErr() *EchoErr {
	return &EchoErr{msg: "not found", code: NotFoundErrCode}
}

func NewPollerCreateErr() *EchoErr {
	return &EchoErr{msg: "create poller failed", code: PollerCreateErrCode}
}

func NewPollerCtlErr() *EchoErr {
	return &EchoErr{msg: "change poller registration failed", code: PollerCtlErrCode}
}

func NewPollerWaitErr() *EchoErr {
	return &EchoErr{msg: "wait for readiness failed", code: PollerWaitErrCode}
}

func NewWakerErr() *EchoErr {
	return &EchoErr{msg: "waker failed", code: WakerErrCode}
}

func NewServerClosedErr() *EchoErr {
	return &EchoErr{msg: "server already closed", code: ServerClosedErrCode}
}

func NewServerRunningErr() *EchoErr {
	return &EchoErr{msg: "server already running", code: ServerRunningErrCode}
}

func NewReadConfigErr() *EchoErr {
	return &EchoErr{msg: "read config failed", code: ReadConfigErrCode}
}

func IsWouldBlock(err error) bool {
	return GetCode(err) == WouldBlockErrCode
}

func IsCapacityExceeded(err error) bool {
	return GetCode(err) == CapacityExceededErrCode
}
