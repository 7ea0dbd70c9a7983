package server

import (
	"context"
	"io"
	"net"
	"runtime"
	"sync"
	"time"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/Trinoooo/eggie_echo/logs"
	"github.com/Trinoooo/eggie_echo/server/connections"
	"github.com/Trinoooo/eggie_echo/server/poller"
	"github.com/Trinoooo/eggie_echo/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	mailboxSize = 64
	// accept 出错（例如描述符耗尽）后暂停接入的时间
	acceptBackoff = 50 * time.Millisecond
)

type Option func(el *EventLoop)

// WithPoller 使用外部创建的 poller，所有权转移给事件循环
func WithPoller(p poller.Poller) Option {
	return func(el *EventLoop) {
		el.p = p
	}
}

func WithHandler(handleFn HandleFunc) Option {
	return func(el *EventLoop) {
		el.handler = handleFn
	}
}

func WithMiddlewares(mws ...MiddlewareFunc) Option {
	return func(el *EventLoop) {
		el.mws = append(el.mws, mws...)
	}
}

func WithMetrics(helper *MetricsHelper) Option {
	return func(el *EventLoop) {
		el.metrics = helper
	}
}

// EventLoop 单线程、非阻塞、就绪驱动的 echo 服务。
// 连接表和 poller 的注册状态只由 Serve 所在的线程访问，
// 其他协程只能通过 Submit 把闭包交给事件循环执行。
type EventLoop struct {
	cfg      *Config
	tunables Tunables

	p       poller.Poller
	ln      *connections.Listener
	waker   *poller.Waker
	table   *connTable
	handler HandleFunc
	mws     []MiddlewareFunc
	metrics *MetricsHelper

	events  []poller.Event
	readBuf []byte
	closing []*conn
	// 边缘触发下还有未完成工作的连接，下一轮 wait 不阻塞
	pending []*conn

	acceptPaused   bool
	acceptResumeAt time.Time

	mailbox chan func()
	stop    chan struct{}
	done    chan struct{}

	mu           sync.Mutex
	running      bool
	closed       bool
	shutdownOnce sync.Once
}

// NewEventLoop 依次创建 poller、监听套接字、唤醒描述符并完成注册。
// 任何一步失败都会释放已经创建的资源，返回的错误带有失败的步骤名。
func NewEventLoop(cfg *Config, opts ...Option) (*EventLoop, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	el := &EventLoop{
		cfg:      cfg,
		tunables: cfg.Tunables(),
		table:    newConnTable(),
		handler:  EchoHandle,
		events:   make([]poller.Event, cfg.MaxEvents),
		readBuf:  make([]byte, cfg.ReadBufferSize),
		mailbox:  make(chan func(), mailboxSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(el)
	}

	fail := func(step string, err error) (*EventLoop, error) {
		logs.Error("event loop startup failed", zap.String(consts.LogFieldStep, step), zap.Error(err))
		el.release()
		return nil, errors.Wrap(err, step)
	}

	var err error
	if el.p == nil {
		el.p, err = poller.New(poller.Options{
			Kind:     poller.Kind(cfg.Backend),
			Trigger:  poller.TriggerMode(cfg.Trigger),
			Capacity: cfg.SelectCapacity,
		})
		if err != nil {
			return fail("create poller", err)
		}
	}

	el.ln, err = connections.Listen(connections.ListenOptions{
		Addr:    cfg.Host,
		Port:    cfg.Port,
		Backlog: cfg.Backlog,
	})
	if err != nil {
		return fail("create listener", err)
	}

	el.waker, err = poller.NewWaker()
	if err != nil {
		return fail("create waker", err)
	}
	if err = el.p.Register(el.waker.Fd(), poller.Readable); err != nil {
		return fail("register waker", err)
	}
	if err = el.p.Register(el.ln.RawFd(), poller.Readable); err != nil {
		return fail("register listener", err)
	}

	if el.metrics == nil {
		el.metrics = NewMetricsHelper()
	}
	if cfg.MetricsPushURL != "" {
		el.metrics.StartPush(cfg.MetricsPushURL, cfg.MetricsPushInterval)
	}
	el.handler = Chain(el.handler, el.mws...)

	logs.Info("event loop created",
		zap.String(consts.LogFieldBackend, string(el.p.Kind())),
		zap.String(consts.LogFieldTrigger, string(el.p.Trigger())),
		zap.Stringer(consts.LogFieldLocal, el.ln.Addr()))
	return el, nil
}

func (el *EventLoop) Addr() net.Addr {
	return el.ln.Addr()
}

func (el *EventLoop) Metrics() *MetricsHelper {
	return el.metrics
}

// Serve 阻塞运行事件循环直到 Close。
// 正常停止返回 nil，wait 出错时释放全部资源并返回错误。
// 启动前已经被 Close 的事件循环直接返回 nil，Serve 结束后再次调用返回 ServerClosed。
func (el *EventLoop) Serve() error {
	el.mu.Lock()
	if el.closed {
		running := el.running
		el.mu.Unlock()
		if running {
			return errs.NewServerClosedErr()
		}
		logs.Info("event loop closed before serve")
		return nil
	}
	if el.running {
		el.mu.Unlock()
		return errs.NewServerRunningErr()
	}
	el.running = true
	el.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(el.done)

	logs.Info("event loop start", zap.Stringer(consts.LogFieldLocal, el.ln.Addr()))
	for {
		select {
		case <-el.stop:
			el.shutdown()
			logs.Info("event loop stop")
			return nil
		default:
		}

		n, err := el.p.Wait(el.events, el.waitTimeout())
		if err != nil {
			logs.Error("wait failed, event loop exit", zap.Error(err))
			el.shutdown()
			return errors.Wrap(err, "wait")
		}
		el.metrics.WaitBatchHistogram.Observe(float64(n))

		el.resumeAccept()
		el.runPending()
		for i := 0; i < n; i++ {
			el.dispatch(el.events[i])
		}
		el.reapClosing()
	}
}

func (el *EventLoop) waitTimeout() time.Duration {
	if len(el.pending) > 0 {
		return 0
	}
	timeout := el.tunables.WaitTimeout
	if el.acceptPaused {
		left := time.Until(el.acceptResumeAt)
		if left < 0 {
			left = 0
		}
		if left < timeout {
			timeout = left
		}
	}
	return timeout
}

// Close 停止事件循环并等待资源释放，可重复调用。
// 不能在事件循环线程上调用（例如 Submit 的闭包里）。
func (el *EventLoop) Close() error {
	el.mu.Lock()
	if el.closed {
		running := el.running
		el.mu.Unlock()
		if running {
			<-el.done
		}
		return nil
	}
	el.closed = true
	running := el.running
	el.mu.Unlock()

	close(el.stop)
	if !running {
		el.shutdown()
		return nil
	}
	if err := el.waker.Wake(); err != nil {
		logs.Warn("wake event loop failed", zap.Error(err))
	}
	<-el.done
	return nil
}

// Submit 把 fn 交给事件循环线程执行，并发安全。
// 邮箱满时会阻塞到事件循环取走任务为止。
func (el *EventLoop) Submit(fn func()) error {
	if fn == nil {
		return errs.NewInvalidParamErr()
	}
	select {
	case <-el.stop:
		return errs.NewServerClosedErr()
	default:
	}

	select {
	case el.mailbox <- fn:
	case <-el.stop:
		return errs.NewServerClosedErr()
	}
	return el.waker.Wake()
}

// Snapshot 在事件循环线程上收集所有连接的状态
func (el *EventLoop) Snapshot(ctx context.Context) ([]ConnInfo, error) {
	result := make(chan []ConnInfo, 1)
	err := el.Submit(func() {
		infos := make([]ConnInfo, 0, el.table.len())
		el.table.each(func(c *conn) {
			infos = append(infos, c.info())
		})
		result <- infos
	})
	if err != nil {
		return nil, err
	}

	select {
	case infos := <-result:
		return infos, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-el.done:
		return nil, errs.NewServerClosedErr()
	}
}

// Reconfigure 热更新配额、水位和 wait 超时
func (el *EventLoop) Reconfigure(t Tunables) error {
	if err := t.Validate(); err != nil {
		return err
	}
	return el.Submit(func() {
		el.tunables = t
		el.cfg.Apply(t)
		if len(el.readBuf) != t.ReadBufferSize {
			el.readBuf = make([]byte, t.ReadBufferSize)
		}
		// 水位变化后重新评估每个连接的关注事件
		el.table.each(func(c *conn) {
			if !c.closing() {
				el.updateInterest(c)
			}
		})
		logs.Info("tunables applied", zap.Any(consts.LogFieldValue, t))
	})
}

func (el *EventLoop) dispatch(ev poller.Event) {
	switch ev.Fd {
	case el.waker.Fd():
		el.runCommands()
		return
	case el.ln.RawFd():
		if ev.Events.IsReadable() && !el.acceptPaused {
			el.handleAccept()
		}
		return
	}

	c, err := el.table.lookup(ev.Fd)
	if err != nil || c.closing() {
		return
	}

	if ev.Events.IsReadable() && (c.interest.IsReadable() || ev.Events.IsError()) {
		el.handleRead(c)
	}
	if c.closing() {
		return
	}
	// 错误事件不一定带可写标记，有待发送数据时尝试写出以发现对端已关闭
	if ev.Events.IsWritable() || (ev.Events.IsError() && c.interest.IsWritable()) {
		el.handleWrite(c)
	}
}

func (el *EventLoop) runCommands() {
	if err := el.waker.Drain(); err != nil {
		logs.Warn("drain waker failed", zap.Error(err))
	}
	for {
		select {
		case fn := <-el.mailbox:
			err := utils.SafeCall(func() error {
				fn()
				return nil
			})
			if err != nil {
				logs.Error("submitted task panic", zap.Error(err))
			}
		default:
			return
		}
	}
}

// handleAccept 水平触发下每次就绪只 accept 一次，
// 边缘触发下一直 accept 到 WouldBlock，否则排队的连接不会再有通知
func (el *EventLoop) handleAccept() {
	for {
		sock, err := el.ln.Accept()
		if err != nil {
			if !errs.IsWouldBlock(err) {
				el.pauseAccept(err)
			}
			return
		}
		el.admit(sock)
		if el.p.Trigger() != poller.EdgeTriggered {
			return
		}
	}
}

// pauseAccept 暂停监听一段时间再重试。
// 水平触发下监听套接字会一直就绪，边缘触发下这次通知已经消费掉，
// 恢复时重新 Modify 会让内核重新评估积压的连接。
func (el *EventLoop) pauseAccept(reason error) {
	el.metrics.ConnectionRejectCounter.Inc()
	logs.Warn("accept failed, pause accepting", zap.Duration(consts.LogFieldInterval, acceptBackoff), zap.Error(reason))
	if err := el.p.Modify(el.ln.RawFd(), poller.None); err != nil {
		logs.Warn("pause listener failed", zap.Error(err))
	}
	el.acceptPaused = true
	el.acceptResumeAt = time.Now().Add(acceptBackoff)
}

func (el *EventLoop) resumeAccept() {
	if !el.acceptPaused || time.Now().Before(el.acceptResumeAt) {
		return
	}
	el.acceptPaused = false
	if err := el.p.Modify(el.ln.RawFd(), poller.Readable); err != nil {
		logs.Warn("resume listener failed", zap.Error(err))
	}
	logs.Info("accept resumed")
}

// admit 注册失败只关闭这一个连接，事件循环继续服务已有连接
func (el *EventLoop) admit(sock connections.IConnection) {
	fd := sock.RawFd()
	reject := func(step string, err error) {
		el.metrics.ConnectionRejectCounter.Inc()
		logs.Warn("reject connection", zap.String(consts.LogFieldStep, step), zap.Int(consts.LogFieldFd, fd),
			zap.Stringer(consts.LogFieldRemote, sock.RemoteAddr()), zap.Error(err))
		if e := sock.Close(); e != nil {
			logs.Warn("close rejected connection failed", zap.Int(consts.LogFieldFd, fd), zap.Error(e))
		}
	}

	if err := sock.SetNonblock(true); err != nil {
		reject("set nonblock", err)
		return
	}

	c := newConn(sock)
	if err := el.table.insert(fd, c); err != nil {
		reject("insert", err)
		return
	}
	c.state = stateEstablished
	if err := el.p.Register(fd, poller.Readable); err != nil {
		_, _ = el.table.remove(fd)
		reject("register", err)
		return
	}
	c.setInterest(poller.Readable)

	el.metrics.ConnectionAcceptCounter.Inc()
	el.metrics.ConnectionActiveGauge.Inc()
	logs.Debug("connection established", zap.Int(consts.LogFieldFd, fd),
		zap.Stringer(consts.LogFieldRemote, sock.RemoteAddr()))
}

// handleRead 读到 WouldBlock、EOF、出错、用完配额或输出缓冲到达高水位为止。
// 单次读取的长度不超过高水位剩余的空间，输出缓冲不会超过高水位。
func (el *EventLoop) handleRead(c *conn) {
	c.retryRead = false
	if c.readClosed {
		return
	}
	total := 0
	defer func() {
		if total > 0 {
			el.metrics.BytesReadCounter.Add(float64(total))
		}
	}()

	for {
		room := el.tunables.HighWaterMark - c.outbound.Len() - c.inbound.Len()
		if room <= 0 {
			break
		}
		if total >= el.tunables.ReadQuota {
			el.markPending(c, true, false)
			break
		}

		size := len(el.readBuf)
		if size > room {
			size = room
		}
		if left := el.tunables.ReadQuota - total; size > left {
			size = left
		}

		n, err := c.sock.Read(el.readBuf[:size])
		if err != nil {
			if errs.IsWouldBlock(err) {
				break
			}
			// 对端半关闭，剩余的回显写完再关闭
			if errors.Is(err, io.EOF) && c.outbound.Len() > 0 {
				c.readClosed = true
				logs.Debug("peer closed write side", zap.Int(consts.LogFieldFd, c.fd),
					zap.Int(consts.LogFieldBytes, c.outbound.Len()))
				break
			}
			el.markClosing(c, err)
			return
		}
		total += n
		c.inbound.Write(el.readBuf[:n])

		err = utils.SafeCall(func() error {
			return el.handler(c.inbound, c.outbound)
		})
		if err != nil {
			el.markClosing(c, err)
			return
		}
	}
	el.updateInterest(c)
}

// handleWrite 写到输出缓冲为空、WouldBlock 或用完配额为止
func (el *EventLoop) handleWrite(c *conn) {
	c.retryWrite = false
	total := 0
	defer func() {
		if total > 0 {
			el.metrics.BytesWrittenCounter.Add(float64(total))
		}
	}()

	for c.outbound.Len() > 0 {
		left := el.tunables.WriteQuota - total
		if left <= 0 {
			el.markPending(c, false, true)
			break
		}

		chunk := c.outbound.Bytes()
		if len(chunk) > left {
			chunk = chunk[:left]
		}
		n, err := c.sock.Write(chunk)
		if err != nil {
			if errs.IsWouldBlock(err) {
				break
			}
			el.markClosing(c, err)
			return
		}
		c.outbound.Next(n)
		total += n
	}
	el.updateInterest(c)
}

// updateInterest 根据缓冲区状态计算关注事件：
//   - 输出缓冲非空时关注可写
//   - 到达高水位时暂停读，降到低水位以下后恢复
//   - 读端已关闭时不再关注可读，输出缓冲写完后关闭连接
func (el *EventLoop) updateInterest(c *conn) {
	if c.closing() {
		return
	}

	pending := c.outbound.Len()
	if c.readClosed && pending == 0 {
		el.markClosing(c, io.EOF)
		return
	}

	switch {
	case !c.paused && pending >= el.tunables.HighWaterMark:
		c.paused = true
		el.metrics.BackpressurePauseCounter.Inc()
		logs.Debug("pause reading", zap.Int(consts.LogFieldFd, c.fd), zap.Int(consts.LogFieldBytes, pending))
	case c.paused && (pending < el.tunables.LowWaterMark || pending == 0):
		c.paused = false
		logs.Debug("resume reading", zap.Int(consts.LogFieldFd, c.fd), zap.Int(consts.LogFieldBytes, pending))
	}

	want := poller.None
	if !c.paused && !c.readClosed {
		want |= poller.Readable
	}
	if pending > 0 {
		want |= poller.Writable
	}
	if want == c.interest {
		return
	}

	if err := el.p.Modify(c.fd, want); err != nil {
		el.markClosing(c, err)
		return
	}
	c.setInterest(want)
	logs.Debug("interest changed", zap.Int(consts.LogFieldFd, c.fd),
		zap.Stringer(consts.LogFieldInterest, want), zap.Stringer(consts.LogFieldState, c.state))
}

// markPending 边缘触发下因为配额中断时内核不会再通知，记下来下一轮继续
func (el *EventLoop) markPending(c *conn, read, write bool) {
	if el.p.Trigger() != poller.EdgeTriggered {
		return
	}
	queued := c.retryRead || c.retryWrite
	c.retryRead = c.retryRead || read
	c.retryWrite = c.retryWrite || write
	if !queued {
		el.pending = append(el.pending, c)
	}
}

func (el *EventLoop) runPending() {
	if len(el.pending) == 0 {
		return
	}
	pending := el.pending
	el.pending = nil
	for _, c := range pending {
		if c.closing() {
			continue
		}
		read, write := c.retryRead, c.retryWrite
		c.retryRead, c.retryWrite = false, false
		// 暂停读期间不继续读，恢复时 Modify 会重新评估就绪状态
		if read && c.interest.IsReadable() {
			el.handleRead(c)
		}
		if write && !c.closing() {
			el.handleWrite(c)
		}
	}
}

func (el *EventLoop) markClosing(c *conn, reason error) {
	if c.closing() {
		return
	}
	c.state = stateClosing
	el.closing = append(el.closing, c)

	fields := []zap.Field{zap.Int(consts.LogFieldFd, c.fd), zap.Error(reason)}
	if reason == nil || connections.IsPeerClosed(reason) {
		logs.Debug("connection closing", fields...)
	} else {
		logs.Warn("connection closing", fields...)
	}
}

// reapClosing 一批事件处理完之后统一销毁，保证同一批次内描述符不会被复用
func (el *EventLoop) reapClosing() {
	for _, c := range el.closing {
		el.teardown(c)
	}
	el.closing = el.closing[:0]
}

// teardown 注销、关闭、移出连接表，只执行一次
func (el *EventLoop) teardown(c *conn) {
	if c.state == stateClosed {
		return
	}
	if err := el.p.Unregister(c.fd); err != nil {
		logs.Warn("unregister connection failed", zap.Int(consts.LogFieldFd, c.fd), zap.Error(err))
	}
	if err := c.sock.Close(); err != nil {
		logs.Warn("close connection failed", zap.Int(consts.LogFieldFd, c.fd), zap.Error(err))
	}
	if _, err := el.table.remove(c.fd); err != nil {
		logs.Warn("remove connection failed", zap.Int(consts.LogFieldFd, c.fd), zap.Error(err))
	}
	c.state = stateClosed
	c.interest = poller.None
	el.metrics.ConnectionCloseCounter.Inc()
	el.metrics.ConnectionActiveGauge.Dec()
}

// shutdown 停止接入新连接，每个连接尽力写一次剩余数据后销毁，最后释放 poller 和唤醒描述符
func (el *EventLoop) shutdown() {
	el.shutdownOnce.Do(func() {
		if el.ln != nil && el.p != nil {
			if err := el.p.Unregister(el.ln.RawFd()); err != nil {
				logs.Warn("unregister listener failed", zap.Error(err))
			}
		}

		el.table.each(func(c *conn) {
			if c.closing() {
				return
			}
			if chunk := c.outbound.Bytes(); len(chunk) > 0 {
				if n, err := c.sock.Write(chunk); err == nil {
					c.outbound.Next(n)
					el.metrics.BytesWrittenCounter.Add(float64(n))
				}
			}
			el.markClosing(c, nil)
		})
		el.reapClosing()
		el.release()
	})
}

// release 释放事件循环持有的描述符，未创建的部分跳过
func (el *EventLoop) release() {
	if el.ln != nil {
		if err := el.ln.Close(); err != nil {
			logs.Warn("close listener failed", zap.Error(err))
		}
	}
	if el.waker != nil {
		if el.p != nil {
			_ = el.p.Unregister(el.waker.Fd())
		}
		if err := el.waker.Close(); err != nil {
			logs.Warn("close waker failed", zap.Error(err))
		}
	}
	if el.p != nil {
		if err := el.p.Close(); err != nil {
			logs.Warn("close poller failed", zap.Error(err))
		}
	}
	if el.metrics != nil {
		el.metrics.Close()
	}
}
