package server

import (
	"context"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/server/poller"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	_ = os.Setenv(consts.Env, "test")
	os.Exit(m.Run())
}

type backendCase struct {
	name    string
	kind    poller.Kind
	trigger poller.TriggerMode
}

var allBackends = []backendCase{
	{name: "select", kind: poller.KindSelect, trigger: poller.LevelTriggered},
	{name: "poll", kind: poller.KindPoll, trigger: poller.LevelTriggered},
	{name: "epoll-level", kind: poller.KindEpoll, trigger: poller.LevelTriggered},
	{name: "epoll-edge", kind: poller.KindEpoll, trigger: poller.EdgeTriggered},
}

func testConfig(kind poller.Kind, trigger poller.TriggerMode) *Config {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 0
	cfg.Backend = string(kind)
	cfg.Trigger = string(trigger)
	cfg.WaitTimeout = 100 * time.Millisecond
	return cfg
}

// startLoop 在后台运行事件循环，测试结束时关闭
func startLoop(t *testing.T, cfg *Config, opts ...Option) *EventLoop {
	el, err := NewEventLoop(cfg, opts...)
	require.NoError(t, err)

	served := make(chan error, 1)
	go func() {
		served <- el.Serve()
	}()
	t.Cleanup(func() {
		assert.NoError(t, el.Close())
		select {
		case err := <-served:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("serve not return after close")
		}
	})
	return el
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	c, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

// dialSmallWindow 接收缓冲区很小的客户端，用来制造慢读者
func dialSmallWindow(t *testing.T, addr net.Addr) net.Conn {
	d := net.Dialer{
		Timeout: 2 * time.Second,
		Control: func(network, address string, rc syscall.RawConn) error {
			var serr error
			if err := rc.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, 4096)
			}); err != nil {
				return err
			}
			return serr
		},
	}
	c, err := d.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = c.Close()
	})
	return c
}

func echoOnce(t *testing.T, c net.Conn, msg string) {
	require.NoError(t, c.SetDeadline(time.Now().Add(3*time.Second)))
	_, err := c.Write([]byte(msg))
	require.NoError(t, err)
	got := make([]byte, len(msg))
	_, err = io.ReadFull(c, got)
	require.NoError(t, err)
	assert.Equal(t, msg, string(got))
}

func snapshot(t *testing.T, el *EventLoop) []ConnInfo {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	infos, err := el.Snapshot(ctx)
	require.NoError(t, err)
	return infos
}
