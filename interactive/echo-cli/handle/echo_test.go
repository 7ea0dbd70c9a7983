package handle

import (
	"os"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/Trinoooo/eggie_echo/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	_ = os.Setenv(consts.Env, "test")
	os.Exit(m.Run())
}

func TestEcho(t *testing.T) {
	cfg := server.DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	el, err := server.NewEventLoop(cfg)
	require.NoError(t, err)
	go func() {
		_ = el.Serve()
	}()

	cw, err := Dial(el.Addr().String(), 2*time.Second)
	require.NoError(t, err)
	defer cw.Close()

	reply, err := cw.Echo([]byte("hello eggie"))
	require.NoError(t, err)
	assert.Equal(t, "hello eggie", string(reply))

	_, err = cw.Echo(nil)
	assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err))

	// 服务关闭后读到EOF
	require.NoError(t, el.Close())
	_, err = cw.Echo([]byte("gone"))
	assert.Error(t, err)
}
