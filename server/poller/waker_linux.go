//go:build linux

package poller

import (
	"encoding/binary"
	"sync"

	"github.com/Trinoooo/eggie_echo/errs"
	"golang.org/x/sys/unix"
)

// Waker 基于 eventfd 的唤醒描述符。
// 注册到 Poller 关注可读事件后，其他协程调用 Wake 就能把
// 阻塞在 Wait 上的事件循环唤醒。
type Waker struct {
	mu     sync.RWMutex
	fd     int
	closed bool
}

func NewWaker() (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errs.NewWakerErr().WithErr(err)
	}
	return &Waker{fd: fd}, nil
}

func (w *Waker) Fd() int {
	return w.fd
}

// Wake 并发安全，计数器溢出（EAGAIN）说明已经有未处理的唤醒，直接忽略
func (w *Waker) Wake() error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errs.NewWakerErr()
	}

	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(w.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return errs.NewWakerErr().WithErr(err)
		}
	}
}

// Drain 清空计数器，只应由事件循环调用
func (w *Waker) Drain() error {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return errs.NewWakerErr().WithErr(err)
		}
	}
}

func (w *Waker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return unix.Close(w.fd)
}
