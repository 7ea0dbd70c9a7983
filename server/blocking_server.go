package server

import (
	"bytes"
	"net"
	"sync"

	"github.com/Trinoooo/eggie_echo/consts"
	"github.com/Trinoooo/eggie_echo/errs"
	"github.com/Trinoooo/eggie_echo/logs"
	"github.com/Trinoooo/eggie_echo/server/connections"
	"github.com/Trinoooo/eggie_echo/utils"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// BlockingServer 阻塞 accept + 阻塞读写，同一时间只服务一个客户端
type BlockingServer struct {
	cfg     *Config
	ln      *connections.Listener
	handler HandleFunc

	mu      sync.Mutex
	active  connections.IConnection
	serving bool
	closed  bool
}

func NewBlockingServer(cfg *Config, mws ...MiddlewareFunc) (*BlockingServer, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}

	ln, err := connections.Listen(connections.ListenOptions{
		Addr:     cfg.Host,
		Port:     cfg.Port,
		Backlog:  cfg.Backlog,
		Blocking: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create listener")
	}

	return &BlockingServer{
		cfg:     cfg,
		ln:      ln,
		handler: Chain(EchoHandle, mws...),
	}, nil
}

func (bs *BlockingServer) Addr() net.Addr {
	return bs.ln.Addr()
}

func (bs *BlockingServer) Serve() error {
	var startErr error
	utils.WrapLock(&bs.mu, func() {
		switch {
		case bs.closed:
			startErr = errs.NewServerClosedErr()
		case bs.serving:
			startErr = errs.NewServerRunningErr()
		default:
			bs.serving = true
		}
	})
	if startErr != nil {
		return startErr
	}
	defer func() {
		if err := bs.ln.Close(); err != nil {
			logs.Warn("close listener failed", zap.Error(err))
		}
	}()

	logs.Info("blocking server start", zap.Stringer(consts.LogFieldLocal, bs.ln.Addr()))
	buf := make([]byte, bs.cfg.ReadBufferSize)
	for {
		sock, err := bs.ln.Accept()
		if err != nil {
			if bs.isClosed() {
				logs.Info("blocking server stop")
				return nil
			}
			logs.Error("accept failed", zap.Error(err))
			return errors.Wrap(err, "accept")
		}

		if !bs.setActive(sock) {
			_ = sock.Close()
			return nil
		}
		bs.serveConn(sock, buf)
		bs.setActive(nil)
		if err := sock.Close(); err != nil {
			logs.Warn("close connection failed", zap.Error(err))
		}
	}
}

// serveConn 读一次、写全部，直到对端关闭或出错
func (bs *BlockingServer) serveConn(sock connections.IConnection, buf []byte) {
	remote := sock.RemoteAddr()
	logs.Debug("connection established", zap.Stringer(consts.LogFieldRemote, remote))
	in, out := &bytes.Buffer{}, &bytes.Buffer{}
	for {
		n, err := sock.Read(buf)
		if err != nil {
			if connections.IsPeerClosed(err) {
				logs.Debug("connection closed by peer", zap.Stringer(consts.LogFieldRemote, remote))
			} else {
				logs.Warn("read failed", zap.Stringer(consts.LogFieldRemote, remote), zap.Error(err))
			}
			return
		}
		in.Write(buf[:n])

		if err = utils.SafeCall(func() error { return bs.handler(in, out) }); err != nil {
			logs.Warn("handle failed", zap.Stringer(consts.LogFieldRemote, remote), zap.Error(err))
			return
		}

		for out.Len() > 0 {
			wn, err := sock.Write(out.Bytes())
			if err != nil {
				logs.Warn("write failed", zap.Stringer(consts.LogFieldRemote, remote), zap.Error(err))
				return
			}
			out.Next(wn)
		}
	}
}

// setActive 已经关闭时返回 false
func (bs *BlockingServer) setActive(sock connections.IConnection) bool {
	ok := true
	utils.WrapLock(&bs.mu, func() {
		if sock != nil && bs.closed {
			ok = false
			return
		}
		bs.active = sock
	})
	return ok
}

func (bs *BlockingServer) isClosed() bool {
	closed := false
	utils.WrapLock(&bs.mu, func() {
		closed = bs.closed
	})
	return closed
}

// Close 打断阻塞中的 accept 和读写，可重复调用
func (bs *BlockingServer) Close() error {
	var err error
	utils.WrapLock(&bs.mu, func() {
		if bs.closed {
			return
		}
		bs.closed = true
		if !bs.serving {
			err = bs.ln.Close()
			return
		}
		if bs.active != nil {
			if e := bs.active.Shutdown(); e != nil {
				logs.Warn("shutdown connection failed", zap.Error(e))
			}
		}
		err = bs.ln.Shutdown()
	})
	return err
}
