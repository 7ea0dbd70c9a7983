//go:build linux

package connections

import (
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"github.com/Trinoooo/eggie_echo/errs"
	"golang.org/x/sys/unix"
)

const maxSoMaxConn = 4096

var (
	_ IListener   = &Listener{}
	_ IConnection = &Connection{}
)

type Connection struct {
	mu         sync.Mutex
	fd         int
	blocking   bool
	localAddr  net.Addr
	remoteAddr net.Addr
}

// NewConnection 接管一个已连接的描述符
func NewConnection(fd int, blocking bool) *Connection {
	c := &Connection{fd: fd, blocking: blocking}
	if sa, err := unix.Getsockname(fd); err == nil {
		c.localAddr = toNetAddr(sa)
	}
	if sa, err := unix.Getpeername(fd); err == nil {
		c.remoteAddr = toNetAddr(sa)
	}
	return c
}

func (c *Connection) Read(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(c.fd, buf)
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return 0, errs.NewWouldBlockErr()
			}
			return 0, errs.NewReadSocketErr().WithErr(err)
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

func (c *Connection) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(c.fd, buf)
		if err != nil {
			switch err {
			case unix.EINTR:
				continue
			case unix.EAGAIN:
				return 0, errs.NewWouldBlockErr()
			}
			return 0, errs.NewWriteSocketErr().WithErr(err)
		}
		return n, nil
	}
}

// Close 释放描述符，只会真正关闭一次
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return nil
	}
	fd := c.fd
	c.fd = -1
	if err := unix.Close(fd); err != nil {
		return errs.NewCloseSocketErr().WithErr(err)
	}
	return nil
}

// Shutdown 关闭读写两个方向，阻塞在读写上的调用会立刻返回
func (c *Connection) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fd < 0 {
		return nil
	}
	if err := unix.Shutdown(c.fd, unix.SHUT_RDWR); err != nil && err != unix.ENOTCONN {
		return errs.NewCloseSocketErr().WithErr(err)
	}
	return nil
}

func (c *Connection) SetNonblock(nonblocking bool) error {
	if err := unix.SetNonblock(c.fd, nonblocking); err != nil {
		return errs.NewSetNonblockErr().WithErr(err)
	}
	c.blocking = !nonblocking
	return nil
}

func (c *Connection) Blocking() bool {
	return c.blocking
}

func (c *Connection) RemoteAddr() net.Addr {
	return c.remoteAddr
}

func (c *Connection) LocalAddr() net.Addr {
	return c.localAddr
}

func (c *Connection) RawFd() int {
	return c.fd
}

type Listener struct {
	conn *Connection
}

func (l *Listener) Accept() (IConnection, error) {
	for {
		socket, sa, err := unix.Accept4(l.conn.fd, unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EINTR, unix.ECONNABORTED:
				// 连接在被取出前就已经被对端重置，忽略
				continue
			case unix.EAGAIN:
				return nil, errs.NewWouldBlockErr()
			}
			return nil, errs.NewAcceptErr().WithErr(err)
		}

		conn := &Connection{
			fd:         socket,
			blocking:   true,
			localAddr:  l.conn.localAddr,
			remoteAddr: toNetAddr(sa),
		}
		if local, err := unix.Getsockname(socket); err == nil {
			conn.localAddr = toNetAddr(local)
		}
		return conn, nil
	}
}

func (l *Listener) Addr() net.Addr {
	return l.conn.localAddr
}

func (l *Listener) RawFd() int {
	return l.conn.fd
}

func (l *Listener) Blocking() bool {
	return l.conn.blocking
}

// Shutdown 阻塞在 accept 上的调用会返回 EINVAL
func (l *Listener) Shutdown() error {
	return l.conn.Shutdown()
}

func (l *Listener) Close() error {
	return l.conn.Close()
}

// Listen 创建监听套接字。
// 地址被占用返回 BindErr，无法建立全连接队列返回 ListenErr。
func Listen(opts ListenOptions) (*Listener, error) {
	if opts.Port < 0 || opts.Port > 65535 || opts.Backlog <= 0 {
		return nil, errs.NewInvalidParamErr()
	}
	backlog := opts.Backlog
	if backlog > maxSoMaxConn {
		backlog = maxSoMaxConn
	}

	sa, domain, err := resolveSockaddr(opts.Addr, opts.Port)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(domain, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, errs.NewSocketErr().WithErr(err)
	}

	if err = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewSocketErr().WithErr(err)
	}

	if err = unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewBindErr().WithErr(err)
	}

	if err = unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewListenErr().WithErr(err)
	}

	if err = unix.SetNonblock(fd, !opts.Blocking); err != nil {
		_ = unix.Close(fd)
		return nil, errs.NewSetNonblockErr().WithErr(err)
	}

	conn := &Connection{fd: fd, blocking: opts.Blocking}
	if local, err := unix.Getsockname(fd); err == nil {
		conn.localAddr = toNetAddr(local)
	}
	return &Listener{conn: conn}, nil
}

// IsPeerClosed 对端重置/关闭导致的错误，属于正常的连接生命周期事件
func IsPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, unix.ECONNRESET) ||
		errors.Is(err, unix.EPIPE)
}

func resolveSockaddr(addr string, port int) (unix.Sockaddr, int, error) {
	if addr == "" {
		return &unix.SockaddrInet4{Port: port}, unix.AF_INET, nil
	}

	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, 0, errs.NewInvalidParamErr()
	}

	if ip4 := ip.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}

	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa, unix.AF_INET6, nil
}

func toNetAddr(sa unix.Sockaddr) net.Addr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{
			IP:   net.IPv4(a.Addr[0], a.Addr[1], a.Addr[2], a.Addr[3]),
			Port: a.Port,
		}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{
			IP:   append(net.IP(nil), a.Addr[:]...),
			Port: a.Port,
		}
		if a.ZoneId != 0 {
			addr.Zone = strconv.Itoa(int(a.ZoneId))
		}
		return addr
	}
	return nil
}
