package connections

import (
	"io"
	"net"
)

type IListener interface {
	// Accept 非阻塞模式下没有待处理连接时返回 WouldBlock
	Accept() (IConnection, error)
	Addr() net.Addr
	RawFd() int
	// Shutdown 打断阻塞在 Accept 上的调用
	Shutdown() error
	io.Closer
}

// IConnection 一个已建立连接的套接字，唯一持有底层描述符。
// Read 返回 (0, io.EOF) 表示对端关闭，非阻塞模式下暂无数据/缓冲区已满时返回 WouldBlock。
type IConnection interface {
	io.ReadWriteCloser
	RemoteAddr() net.Addr
	LocalAddr() net.Addr
	RawFd() int
	SetNonblock(nonblocking bool) error
	Shutdown() error
}

// ListenOptions 监听参数
type ListenOptions struct {
	// Addr ipv4/ipv6 字面量，空串表示 0.0.0.0
	Addr     string
	Port     int
	Backlog  int
	Blocking bool
}
