package handle

import (
	"io"
	"net"
	"time"

	"github.com/Trinoooo/eggie_echo/errs"
)

// ClientWrapper 一条到 echo 服务的长连接
type ClientWrapper struct {
	conn    net.Conn
	timeout time.Duration
}

func Dial(addr string, timeout time.Duration) (*ClientWrapper, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	return &ClientWrapper{conn: conn, timeout: timeout}, nil
}

// Echo 发送 data 并读回同样长度的回显
func (cw *ClientWrapper) Echo(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errs.NewInvalidParamErr()
	}
	if err := cw.conn.SetDeadline(time.Now().Add(cw.timeout)); err != nil {
		return nil, err
	}
	if _, err := cw.conn.Write(data); err != nil {
		return nil, err
	}
	reply := make([]byte, len(data))
	if _, err := io.ReadFull(cw.conn, reply); err != nil {
		return nil, err
	}
	return reply, nil
}

func (cw *ClientWrapper) RemoteAddr() net.Addr {
	return cw.conn.RemoteAddr()
}

func (cw *ClientWrapper) Close() error {
	return cw.conn.Close()
}
