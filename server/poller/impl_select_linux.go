//go:build linux

package poller

import (
	"time"

	"github.com/Trinoooo/eggie_echo/errs"
	"golang.org/x/sys/unix"
)

// FdSetSize select 位图的硬上限，描述符的值必须小于它
const FdSetSize = 1024

type selectSlot struct {
	fd       int
	interest Interest
}

// SelectPoller 基于 select(2) 的实现。
// 注册信息保存在固定长度的槽位表中，Wait 每次都要拷贝位图并扫描全部槽位，
// 开销和容量成正比而不是和活跃描述符数量成正比。
type SelectPoller struct {
	capacity int
	slots    []selectSlot
	used     int
	maxFd    int

	// readSet/writeSet 是注册信息的主副本，select 会修改传入的位图，
	// 所以每次 Wait 都需要拷贝一份
	readSet  unix.FdSet
	writeSet unix.FdSet
}

func NewSelectPoller(capacity int) (*SelectPoller, error) {
	if capacity <= 0 || capacity > FdSetSize {
		return nil, errs.NewInvalidParamErr()
	}

	sp := &SelectPoller{
		capacity: capacity,
		slots:    make([]selectSlot, capacity),
		maxFd:    -1,
	}
	for i := range sp.slots {
		sp.slots[i].fd = -1
	}
	return sp, nil
}

func (sp *SelectPoller) find(fd int) int {
	for i := range sp.slots {
		if sp.slots[i].fd == fd {
			return i
		}
	}
	return -1
}

func (sp *SelectPoller) Register(fd int, interest Interest) error {
	if fd < 0 {
		return errs.NewInvalidParamErr()
	}
	if sp.find(fd) >= 0 {
		return errs.NewAlreadyRegisteredErr()
	}
	// 超过位图上限的fd写进 FdSet 会越界，必须在这里拒绝
	if fd >= FdSetSize || sp.used >= sp.capacity {
		return errs.NewCapacityExceededErr()
	}

	free := sp.find(-1)
	sp.slots[free] = selectSlot{fd: fd, interest: interest}
	sp.used++
	if fd > sp.maxFd {
		sp.maxFd = fd
	}
	sp.apply(fd, interest)
	return nil
}

func (sp *SelectPoller) Modify(fd int, interest Interest) error {
	idx := sp.find(fd)
	if fd < 0 || idx < 0 {
		return errs.NewNotRegisteredErr()
	}
	sp.slots[idx].interest = interest
	sp.apply(fd, interest)
	return nil
}

func (sp *SelectPoller) Unregister(fd int) error {
	idx := sp.find(fd)
	if fd < 0 || idx < 0 {
		return nil
	}

	sp.slots[idx] = selectSlot{fd: -1}
	sp.used--
	sp.readSet.Clear(fd)
	sp.writeSet.Clear(fd)

	if fd == sp.maxFd {
		sp.maxFd = -1
		for i := range sp.slots {
			if sp.slots[i].fd > sp.maxFd {
				sp.maxFd = sp.slots[i].fd
			}
		}
	}
	return nil
}

func (sp *SelectPoller) apply(fd int, interest Interest) {
	if interest.IsReadable() {
		sp.readSet.Set(fd)
	} else {
		sp.readSet.Clear(fd)
	}
	if interest.IsWritable() {
		sp.writeSet.Set(fd)
	} else {
		sp.writeSet.Clear(fd)
	}
}

func (sp *SelectPoller) Wait(events []Event, timeout time.Duration) (int, error) {
	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	rset, wset := sp.readSet, sp.writeSet
	n, err := unix.Select(sp.maxFd+1, &rset, &wset, nil, tv)
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
	for i := range sp.slots {
		if cnt >= len(events) {
			break
		}
		fd := sp.slots[i].fd
		if fd < 0 {
			continue
		}

		var ready Interest
		if rset.IsSet(fd) {
			ready |= Readable
		}
		if wset.IsSet(fd) {
			ready |= Writable
		}
		if ready != None {
			events[cnt] = Event{Fd: fd, Events: ready}
			cnt++
		}
	}
	return cnt, nil
}

// Len 已注册的描述符数量
func (sp *SelectPoller) Len() int {
	return sp.used
}

func (sp *SelectPoller) Capacity() int {
	return sp.capacity
}

func (sp *SelectPoller) Kind() Kind {
	return KindSelect
}

func (sp *SelectPoller) Trigger() TriggerMode {
	return LevelTriggered
}

func (sp *SelectPoller) Close() error {
	for i := range sp.slots {
		sp.slots[i] = selectSlot{fd: -1}
	}
	sp.used = 0
	sp.maxFd = -1
	sp.readSet.Zero()
	sp.writeSet.Zero()
	return nil
}
