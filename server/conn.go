package server

import (
	"bytes"

	"github.com/Trinoooo/eggie_echo/server/connections"
	"github.com/Trinoooo/eggie_echo/server/poller"
)

type connState int8

const (
	stateNew connState = iota
	stateEstablished
	stateReading
	stateWriting
	stateClosing
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateNew:
		return "NEW"
	case stateEstablished:
		return "ESTABLISHED"
	case stateReading:
		return "READING"
	case stateWriting:
		return "WRITING"
	case stateClosing:
		return "CLOSING"
	case stateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// conn 事件循环持有的连接。
// 只有事件循环所在的线程会访问，不需要加锁。
type conn struct {
	sock connections.IConnection
	// fd 在 sock 关闭后仍然保留，用于注销和从连接表中移除
	fd       int
	state    connState
	inbound  *bytes.Buffer
	outbound *bytes.Buffer
	interest poller.Interest
	paused   bool
	// 对端已经关闭写端，不再读，输出缓冲写完后关闭
	readClosed bool

	// 边缘触发下因为配额中断、需要在下一轮继续处理的方向
	retryRead  bool
	retryWrite bool
}

func newConn(sock connections.IConnection) *conn {
	return &conn{
		sock:     sock,
		fd:       sock.RawFd(),
		state:    stateNew,
		inbound:  &bytes.Buffer{},
		outbound: &bytes.Buffer{},
	}
}

// setInterest 记录已经注册到 poller 上的关注事件，
// READING/WRITING 反映关注的方向，不是互斥的模式
func (c *conn) setInterest(interest poller.Interest) {
	c.interest = interest
	if c.state == stateClosing || c.state == stateClosed {
		return
	}
	switch {
	case interest.IsWritable():
		c.state = stateWriting
	case interest.IsReadable():
		c.state = stateReading
	default:
		c.state = stateEstablished
	}
}

func (c *conn) closing() bool {
	return c.state == stateClosing || c.state == stateClosed
}

// ConnInfo 连接的只读快照
type ConnInfo struct {
	Fd       int
	Remote   string
	State    string
	Interest string
	Inbound  int
	Outbound int
	Paused   bool
	// ReadClosed 对端半关闭后等待剩余回显写完
	ReadClosed bool
}

func (c *conn) info() ConnInfo {
	info := ConnInfo{
		Fd:         c.fd,
		State:      c.state.String(),
		Interest:   c.interest.String(),
		Inbound:    c.inbound.Len(),
		Outbound:   c.outbound.Len(),
		Paused:     c.paused,
		ReadClosed: c.readClosed,
	}
	if addr := c.sock.RemoteAddr(); addr != nil {
		info.Remote = addr.String()
	}
	return info
}
