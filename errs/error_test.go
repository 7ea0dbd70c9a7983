package errs

import (
	"fmt"
	"io"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

// TestEchoErrFormat 错误输出包含错误码、描述以及被包装的错误
func TestEchoErrFormat(t *testing.T) {
	e := NewBindErr()
	assert.Equal(t, "[100004] bind listen address failed", e.Error())

	e = NewBindErr().WithErr(io.EOF)
	assert.Equal(t, "[100004] bind listen address failed => EOF", e.Error())
	assert.ErrorIs(t, e, io.EOF)
}

// TestGetCode 能从被包装的错误链中取出错误码
//   - 直接传入
//   - 被 pkg/errors 包装
//   - 被 fmt 包装
//   - 非 EchoErr
func TestGetCode(t *testing.T) {
	assert.Equal(t, int64(CapacityExceededErrCode), GetCode(NewCapacityExceededErr()))
	assert.Equal(t, int64(ListenErrCode), GetCode(errors.Wrap(NewListenErr(), "create listener")))
	assert.Equal(t, int64(NotFoundErrCode), GetCode(fmt.Errorf("lookup: %w", NewNotFoundErr())))
	assert.Equal(t, int64(UnknownErrCode), GetCode(io.EOF))
	assert.Equal(t, int64(UnknownErrCode), GetCode(nil))
}

func TestIsHelpers(t *testing.T) {
	assert.True(t, IsWouldBlock(NewWouldBlockErr()))
	assert.False(t, IsWouldBlock(NewReadSocketErr()))
	assert.True(t, IsCapacityExceeded(errors.WithStack(NewCapacityExceededErr())))
	assert.False(t, IsCapacityExceeded(nil))
}
