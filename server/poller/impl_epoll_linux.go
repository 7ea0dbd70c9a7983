//go:build linux

package poller

import (
	"time"

	"github.com/Trinoooo/eggie_echo/errs"
	"golang.org/x/sys/unix"
)

const epollErrMask = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP

// EpollPoller 基于 epoll(7) 的实现。
// 内核维护红黑树索引和就绪链表，Register/Modify/Unregister 为O(1)，
// Wait 只返回就绪的描述符。支持水平触发和边缘触发。
// 边缘触发时每次状态变化只通知一次，调用方必须把 accept/read/write
// 一直做到 WouldBlock，否则会丢失后续事件。
type EpollPoller struct {
	epfd    int
	trigger TriggerMode
	// registered 用户态索引，用于检测重复注册以及让 Unregister 幂等
	registered map[int]Interest
	buf        []unix.EpollEvent
}

func NewEpollPoller(trigger TriggerMode) (*EpollPoller, error) {
	if trigger != LevelTriggered && trigger != EdgeTriggered {
		return nil, errs.NewInvalidParamErr()
	}

	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errs.NewPollerCreateErr().WithErr(err)
	}

	return &EpollPoller{
		epfd:       epfd,
		trigger:    trigger,
		registered: make(map[int]Interest),
	}, nil
}

func (ep *EpollPoller) Register(fd int, interest Interest) error {
	if fd < 0 {
		return errs.NewInvalidParamErr()
	}
	if _, exist := ep.registered[fd]; exist {
		return errs.NewAlreadyRegisteredErr()
	}

	ev := &unix.EpollEvent{Events: ep.toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(ep.epfd, unix.EPOLL_CTL_ADD, fd, ev); err != nil {
		if err == unix.ENOSPC || err == unix.ENOMEM {
			return errs.NewCapacityExceededErr().WithErr(err)
		}
		return errs.NewPollerCtlErr().WithErr(err)
	}
	ep.registered[fd] = interest
	return nil
}

func (ep *EpollPoller) Modify(fd int, interest Interest) error {
	if _, exist := ep.registered[fd]; !exist {
		return errs.NewNotRegisteredErr()
	}

	ev := &unix.EpollEvent{Events: ep.toEpollEvents(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(ep.epfd, unix.EPOLL_CTL_MOD, fd, ev); err != nil {
		return errs.NewPollerCtlErr().WithErr(err)
	}
	ep.registered[fd] = interest
	return nil
}

func (ep *EpollPoller) Unregister(fd int) error {
	if _, exist := ep.registered[fd]; !exist {
		return nil
	}

	delete(ep.registered, fd)
	// 描述符关闭后内核会自动移除，这种情况下的 EBADF/ENOENT 可以忽略
	err := unix.EpollCtl(ep.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && err != unix.EBADF && err != unix.ENOENT {
		return errs.NewPollerCtlErr().WithErr(err)
	}
	return nil
}

func (ep *EpollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, errs.NewInvalidParamErr()
	}
	if cap(ep.buf) < len(events) {
		ep.buf = make([]unix.EpollEvent, len(events))
	}
	buf := ep.buf[:len(events)]

	n, err := unix.EpollWait(ep.epfd, buf, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errs.NewPollerWaitErr().WithErr(err)
	}

	for i := 0; i < n; i++ {
		events[i] = Event{Fd: int(buf[i].Fd), Events: fromEpollEvents(buf[i].Events)}
	}
	return n, nil
}

// Len 已注册的描述符数量
func (ep *EpollPoller) Len() int {
	return len(ep.registered)
}

func (ep *EpollPoller) Kind() Kind {
	return KindEpoll
}

func (ep *EpollPoller) Trigger() TriggerMode {
	return ep.trigger
}

func (ep *EpollPoller) Close() error {
	var err error
	if ep.epfd >= 0 {
		err = unix.Close(ep.epfd)
		ep.epfd = -1
	}
	ep.registered = make(map[int]Interest)
	return err
}

func (ep *EpollPoller) toEpollEvents(interest Interest) uint32 {
	var ev uint32
	if interest.IsReadable() {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest.IsWritable() {
		ev |= unix.EPOLLOUT
	}
	if ep.trigger == EdgeTriggered {
		ev |= unix.EPOLLET
	}
	return ev
}

func fromEpollEvents(ev uint32) Interest {
	var ready Interest
	if ev&unix.EPOLLIN != 0 {
		ready |= Readable
	}
	if ev&unix.EPOLLOUT != 0 {
		ready |= Writable
	}
	if ev&epollErrMask != 0 {
		ready |= Readable | Error
	}
	return ready
}
