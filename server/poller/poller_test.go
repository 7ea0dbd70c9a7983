//go:build linux

package poller

import (
	"os"
	"testing"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestMain(m *testing.M) {
	_ = os.Setenv(consts.Env, "test")
	os.Exit(m.Run())
}

type pollerCase struct {
	name string
	opts Options
}

var allPollers = []pollerCase{
	{name: "select", opts: Options{Kind: KindSelect, Capacity: 64}},
	{name: "poll", opts: Options{Kind: KindPoll}},
	{name: "epoll-level", opts: Options{Kind: KindEpoll, Trigger: LevelTriggered}},
	{name: "epoll-edge", opts: Options{Kind: KindEpoll, Trigger: EdgeTriggered}},
}

// socketPair 返回一对非阻塞的 unix socket，测试结束时关闭
func socketPair(t *testing.T) (int, int) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func newPoller(t *testing.T, opts Options) Poller {
	p, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = p.Close()
	})
	return p
}

// TestNewInvalidOptions 创建失败的情况
//   - 未知的实现
//   - select/poll 不支持边缘触发
//   - 非法的 select 容量
//   - 未知触发模式
func TestNewInvalidOptions(t *testing.T) {
	cases := []Options{
		{Kind: "kqueue"},
		{Kind: KindSelect, Trigger: EdgeTriggered, Capacity: 10},
		{Kind: KindPoll, Trigger: EdgeTriggered},
		{Kind: KindSelect, Capacity: 0},
		{Kind: KindSelect, Capacity: FdSetSize + 1},
		{Kind: KindEpoll, Trigger: "both"},
	}
	for _, opts := range cases {
		_, err := New(opts)
		assert.Equal(t, int64(errs.InvalidParamErrCode), errs.GetCode(err), "%+v", opts)
	}
}

// TestRegisterTwice 同一个描述符重复注册返回 AlreadyRegistered
func TestRegisterTwice(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			a, _ := socketPair(t)

			require.NoError(t, p.Register(a, Readable))
			err := p.Register(a, Readable|Writable)
			assert.Equal(t, int64(errs.AlreadyRegisteredErrCode), errs.GetCode(err))

			// 注销之后可以重新注册
			require.NoError(t, p.Unregister(a))
			assert.NoError(t, p.Register(a, Readable))
		})
	}
}

// TestModifyAndUnregister
//   - 修改未注册的描述符返回 NotRegistered
//   - 注销是幂等的
func TestModifyAndUnregister(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			a, _ := socketPair(t)

			err := p.Modify(a, Writable)
			assert.Equal(t, int64(errs.NotRegisteredErrCode), errs.GetCode(err))

			assert.NoError(t, p.Unregister(a))
			require.NoError(t, p.Register(a, Readable))
			assert.NoError(t, p.Modify(a, Readable|Writable))
			assert.NoError(t, p.Unregister(a))
			assert.NoError(t, p.Unregister(a))
		})
	}
}

// TestWaitTimeout 没有就绪事件时 Wait 会阻塞到超时，而不是忙轮询
func TestWaitTimeout(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			a, _ := socketPair(t)
			require.NoError(t, p.Register(a, Readable))

			events := make([]Event, 8)
			start := time.Now()
			n, err := p.Wait(events, 100*time.Millisecond)
			elapsed := time.Since(start)
			require.NoError(t, err)
			assert.Equal(t, 0, n)
			assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
		})
	}
}

// TestWaitReadWrite 可读/可写事件的上报
func TestWaitReadWrite(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			a, b := socketPair(t)
			require.NoError(t, p.Register(a, Readable))

			_, err := unix.Write(b, []byte("ping"))
			require.NoError(t, err)

			events := make([]Event, 8)
			n, err := p.Wait(events, time.Second)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			assert.Equal(t, a, events[0].Fd)
			assert.True(t, events[0].Events.IsReadable())
			assert.False(t, events[0].Events.IsWritable())

			// 加上可写关注，空的发送缓冲区立刻可写
			require.NoError(t, p.Modify(a, Readable|Writable))
			n, err = p.Wait(events, time.Second)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			assert.True(t, events[0].Events.IsWritable())
		})
	}
}

// TestWaitPeerClosed 对端关闭会作为可读事件上报，读到EOF
func TestWaitPeerClosed(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
			require.NoError(t, err)
			defer unix.Close(fds[0])
			require.NoError(t, p.Register(fds[0], Readable))
			require.NoError(t, unix.Close(fds[1]))

			events := make([]Event, 8)
			n, err := p.Wait(events, time.Second)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			assert.True(t, events[0].Events.IsReadable())

			buf := make([]byte, 16)
			rn, err := unix.Read(fds[0], buf)
			assert.NoError(t, err)
			assert.Equal(t, 0, rn)
		})
	}
}

// TestLevelVersusEdge 水平触发在条件解除前每次都上报，边缘触发只上报一次
func TestLevelVersusEdge(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			a, b := socketPair(t)
			require.NoError(t, p.Register(a, Readable))
			_, err := unix.Write(b, []byte("not drained"))
			require.NoError(t, err)

			events := make([]Event, 8)
			n, err := p.Wait(events, time.Second)
			require.NoError(t, err)
			require.Equal(t, 1, n)

			n, err = p.Wait(events, 50*time.Millisecond)
			require.NoError(t, err)
			if p.Trigger() == EdgeTriggered {
				assert.Equal(t, 0, n)
			} else {
				assert.Equal(t, 1, n)
			}

			// 新数据到达是一次新的边缘
			_, err = unix.Write(b, []byte("more"))
			require.NoError(t, err)
			n, err = p.Wait(events, time.Second)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
		})
	}
}

// TestSelectCapacityExceeded 超出 select 容量的注册失败，且不影响已注册的描述符
func TestSelectCapacityExceeded(t *testing.T) {
	sp, err := NewSelectPoller(2)
	require.NoError(t, err)
	defer sp.Close()

	a1, b1 := socketPair(t)
	a2, _ := socketPair(t)
	a3, _ := socketPair(t)

	require.NoError(t, sp.Register(a1, Readable))
	require.NoError(t, sp.Register(a2, Readable))
	err = sp.Register(a3, Readable)
	assert.Equal(t, int64(errs.CapacityExceededErrCode), errs.GetCode(err))
	assert.True(t, errs.IsCapacityExceeded(err))
	assert.Equal(t, 2, sp.Len())

	_, err = unix.Write(b1, []byte("still served"))
	require.NoError(t, err)
	events := make([]Event, 8)
	n, err := sp.Wait(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, a1, events[0].Fd)

	// 释放一个槽位之后可以继续注册
	require.NoError(t, sp.Unregister(a2))
	assert.NoError(t, sp.Register(a3, Readable))
}

// TestSelectFdAboveSetSize 描述符的值超出位图范围时拒绝注册
func TestSelectFdAboveSetSize(t *testing.T) {
	sp, err := NewSelectPoller(FdSetSize)
	require.NoError(t, err)
	err = sp.Register(FdSetSize, Readable)
	assert.True(t, errs.IsCapacityExceeded(err))
	assert.Equal(t, 0, sp.Len())
}

// TestWaitBatchSmallerThanReady 事件缓冲区小于就绪数量时只返回缓冲区大小的事件
func TestWaitBatchSmallerThanReady(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			for i := 0; i < 3; i++ {
				a, _ := socketPair(t)
				require.NoError(t, p.Register(a, Writable))
			}
			events := make([]Event, 2)
			n, err := p.Wait(events, time.Second)
			require.NoError(t, err)
			assert.Equal(t, 2, n)
		})
	}
}

func TestWaker(t *testing.T) {
	for _, pc := range allPollers {
		t.Run(pc.name, func(t *testing.T) {
			p := newPoller(t, pc.opts)
			w, err := NewWaker()
			require.NoError(t, err)
			defer w.Close()
			require.NoError(t, p.Register(w.Fd(), Readable))

			go func() {
				time.Sleep(20 * time.Millisecond)
				_ = w.Wake()
			}()

			events := make([]Event, 4)
			n, err := p.Wait(events, 5*time.Second)
			require.NoError(t, err)
			require.Equal(t, 1, n)
			assert.Equal(t, w.Fd(), events[0].Fd)
			require.NoError(t, w.Drain())

			// 多次唤醒合并成一次
			require.NoError(t, w.Wake())
			require.NoError(t, w.Wake())
			n, err = p.Wait(events, time.Second)
			require.NoError(t, err)
			assert.Equal(t, 1, n)
			require.NoError(t, w.Drain())
		})
	}
}

func TestWakerClosed(t *testing.T) {
	w, err := NewWaker()
	require.NoError(t, err)
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
	assert.Equal(t, int64(errs.WakerErrCode), errs.GetCode(w.Wake()))
}

func TestInterestString(t *testing.T) {
	assert.Equal(t, "none", None.String())
	assert.Equal(t, "r", Readable.String())
	assert.Equal(t, "r|w", (Readable | Writable).String())
	assert.Equal(t, "r|e", (Readable | Error).String())
}

func TestTimeoutMillis(t *testing.T) {
	assert.Equal(t, -1, timeoutMillis(-time.Second))
	assert.Equal(t, 0, timeoutMillis(0))
	assert.Equal(t, 1, timeoutMillis(500*time.Microsecond))
	assert.Equal(t, 1500, timeoutMillis(1500*time.Millisecond))
}
