package poller

import (
	"strings"
	"time"

	"github.com/Trinoooo/eggie_echo/errs"
)

// Interest 关注/就绪的事件集合
type Interest uint8

const (
	Readable Interest = 1 << iota
	Writable
	// Error 只会出现在就绪事件中，表示描述符挂断或出错，
	// 调用方应当通过一次读操作拿到具体错误（或EOF）
	Error

	None Interest = 0
)

func (i Interest) IsReadable() bool {
	return i&Readable != 0
}

func (i Interest) IsWritable() bool {
	return i&Writable != 0
}

func (i Interest) IsError() bool {
	return i&Error != 0
}

func (i Interest) String() string {
	if i == None {
		return "none"
	}
	parts := make([]string, 0, 3)
	if i.IsReadable() {
		parts = append(parts, "r")
	}
	if i.IsWritable() {
		parts = append(parts, "w")
	}
	if i.IsError() {
		parts = append(parts, "e")
	}
	return strings.Join(parts, "|")
}

// Event 一次 Wait 返回的就绪事件
type Event struct {
	Fd     int
	Events Interest
}

// Kind 多路复用实现
type Kind string

const (
	KindSelect Kind = "select" // 位图扫描
	KindPoll   Kind = "poll"   // 数组扫描
	KindEpoll  Kind = "epoll"  // 红黑树索引 + 就绪链表
)

// TriggerMode 触发模式
type TriggerMode string

const (
	LevelTriggered TriggerMode = "level"
	EdgeTriggered  TriggerMode = "edge"
)

// Poller 事件多路复用器。
// 同一个描述符在任意时刻最多注册一次；实现不是并发安全的，
// 只应由事件循环所在的协程调用。
type Poller interface {
	// Register 开始监听fd，重复注册返回 AlreadyRegistered
	Register(fd int, interest Interest) error
	// Modify 修改fd关注的事件，fd未注册返回 NotRegistered
	Modify(fd int, interest Interest) error
	// Unregister 停止监听fd，未注册时什么也不做
	Unregister(fd int) error
	// Wait 阻塞直到至少一个fd就绪或超时，timeout < 0 表示一直等待。
	// 就绪事件写入events，返回写入的数量，超时或被信号打断时返回0。
	Wait(events []Event, timeout time.Duration) (int, error)
	Kind() Kind
	Trigger() TriggerMode
	Close() error
}

// Options 创建 Poller 的参数
type Options struct {
	Kind    Kind
	Trigger TriggerMode
	// Capacity 只对 select 生效，表示位图最多容纳的描述符数量
	Capacity int
}

// New 根据 opts.Kind 创建对应的 Poller
func New(opts Options) (Poller, error) {
	trigger := opts.Trigger
	if trigger == "" {
		trigger = LevelTriggered
	}
	if trigger != LevelTriggered && trigger != EdgeTriggered {
		return nil, errs.NewInvalidParamErr()
	}

	switch opts.Kind {
	case KindSelect:
		if trigger == EdgeTriggered {
			return nil, errs.NewInvalidParamErr()
		}
		return NewSelectPoller(opts.Capacity)
	case KindPoll:
		if trigger == EdgeTriggered {
			return nil, errs.NewInvalidParamErr()
		}
		return NewPollPoller()
	case KindEpoll:
		return NewEpollPoller(trigger)
	default:
		return nil, errs.NewInvalidParamErr()
	}
}

// timeoutMillis 把 time.Duration 转换为 poll/epoll_wait 使用的毫秒数，
// 不足1ms的正数向上取整，避免退化成不阻塞的忙轮询
func timeoutMillis(timeout time.Duration) int {
	if timeout < 0 {
		return -1
	}
	ms := timeout / time.Millisecond
	if timeout%time.Millisecond != 0 {
		ms++
	}
	return int(ms)
}
