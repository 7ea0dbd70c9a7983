//go:build linux

package poller

import (
	"time"

	"github.com/Trinoooo/eggie_echo/errs"
	"golang.org/x/sys/unix"
)

const pollErrMask = unix.POLLERR | unix.POLLHUP | unix.POLLNVAL | unix.POLLRDHUP

// PollPoller 基于 poll(2) 的实现。
// pollfd 数组按需增长，没有固定上限，Wait 的开销和已注册数量成正比。
type PollPoller struct {
	fds []unix.PollFd
}

func NewPollPoller() (*PollPoller, error) {
	return &PollPoller{
		fds: make([]unix.PollFd, 0, 64),
	}, nil
}

func (pp *PollPoller) find(fd int) int {
	for i := range pp.fds {
		if int(pp.fds[i].Fd) == fd {
			return i
		}
	}
	return -1
}

func (pp *PollPoller) Register(fd int, interest Interest) error {
	if fd < 0 {
		return errs.NewInvalidParamErr()
	}
	if pp.find(fd) >= 0 {
		return errs.NewAlreadyRegisteredErr()
	}

	pp.fds = append(pp.fds, unix.PollFd{
		Fd:     int32(fd),
		Events: toPollEvents(interest),
	})
	return nil
}

func (pp *PollPoller) Modify(fd int, interest Interest) error {
	idx := pp.find(fd)
	if fd < 0 || idx < 0 {
		return errs.NewNotRegisteredErr()
	}
	pp.fds[idx].Events = toPollEvents(interest)
	return nil
}

func (pp *PollPoller) Unregister(fd int) error {
	idx := pp.find(fd)
	if fd < 0 || idx < 0 {
		return nil
	}

	// 交换删除，顺序不影响语义
	last := len(pp.fds) - 1
	pp.fds[idx] = pp.fds[last]
	pp.fds[last] = unix.PollFd{}
	pp.fds = pp.fds[:last]
	return nil
}

func (pp *PollPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	for i := range pp.fds {
		pp.fds[i].Revents = 0
	}

	n, err := unix.Poll(pp.fds, timeoutMillis(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, errs.NewPollerWaitErr().WithErr(err)
	}
	if n == 0 {
		return 0, nil
	}

	cnt := 0
	for i := range pp.fds {
		if cnt >= len(events) {
			break
		}
		revents := pp.fds[i].Revents
		if revents == 0 {
			continue
		}
		events[cnt] = Event{Fd: int(pp.fds[i].Fd), Events: fromPollEvents(revents)}
		cnt++
	}
	return cnt, nil
}

// Len 已注册的描述符数量
func (pp *PollPoller) Len() int {
	return len(pp.fds)
}

func (pp *PollPoller) Kind() Kind {
	return KindPoll
}

func (pp *PollPoller) Trigger() TriggerMode {
	return LevelTriggered
}

func (pp *PollPoller) Close() error {
	pp.fds = pp.fds[:0]
	return nil
}

func toPollEvents(interest Interest) int16 {
	var ev int16
	if interest.IsReadable() {
		ev |= unix.POLLIN | unix.POLLRDHUP
	}
	if interest.IsWritable() {
		ev |= unix.POLLOUT
	}
	return ev
}

func fromPollEvents(revents int16) Interest {
	var ready Interest
	if revents&unix.POLLIN != 0 {
		ready |= Readable
	}
	if revents&unix.POLLOUT != 0 {
		ready |= Writable
	}
	if revents&pollErrMask != 0 {
		ready |= Readable | Error
	}
	return ready
}
