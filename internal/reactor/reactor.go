package reactor

import (
	"container/heap"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Task is a deferred piece of work executed on the loop thread.
type Task func()

// EventMask describes I/O readiness. Error conditions are always delivered
// regardless of the requested interest.
type EventMask uint32

const (
	EventRead  EventMask = unix.EPOLLIN
	EventWrite EventMask = unix.EPOLLOUT
	EventError EventMask = unix.EPOLLERR | unix.EPOLLHUP
)

// Callback is invoked on the loop thread whenever the registered descriptor
// becomes ready.
type Callback func(fd int, events EventMask)

// maxEvents is how many readiness events a single epoll_wait call may batch.
const maxEvents = 64

// Statistics is a point-in-time snapshot of the loop state.
type Statistics struct {
	ActiveFDs    int
	PendingTasks int
	ActiveTimers int
	Iterations   uint64
}

// Reactor is a single-threaded event loop multiplexing I/O readiness, timers
// and cross-thread tasks. All registered callbacks run on the goroutine that
// called Run; that goroutine is locked to its OS thread for the duration, so
// the loop can tell whether a caller is already inside it.
type Reactor struct {
	epfd   int
	wakefd int
	log    *zap.Logger

	fdMu      sync.Mutex
	callbacks map[int]Callback

	timerMu     sync.Mutex
	timers      timerHeap
	timersByID  map[TimerID]*timer
	nextTimerID TimerID

	taskMu sync.Mutex
	tasks  []Task

	running    atomic.Bool
	ownerTID   atomic.Int64
	iterations atomic.Uint64
}

// New creates the epoll instance and the eventfd wake-up descriptor. The
// wake-up descriptor is registered level-triggered so pending notifications
// are never lost between iterations.
func New(log *zap.Logger) (*Reactor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("reactor: create epoll: %w", err)
	}

	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("reactor: create eventfd: %w", err)
	}

	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &unix.EpollEvent{
		Events: unix.EPOLLIN,
		Fd:     int32(wakefd),
	})
	if err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakefd)
		return nil, fmt.Errorf("reactor: register eventfd: %w", err)
	}

	return &Reactor{
		epfd:        epfd,
		wakefd:      wakefd,
		log:         log,
		callbacks:   make(map[int]Callback),
		timersByID:  make(map[TimerID]*timer),
		nextTimerID: 1,
	}, nil
}

// Run blocks and processes events until Stop is observed. Within one
// iteration, I/O callbacks run before expired timers, which run before
// queued tasks. Returns nil on a clean stop.
func (r *Reactor) Run() error {
	if !r.running.CompareAndSwap(false, true) {
		return nil
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	r.ownerTID.Store(int64(unix.Gettid()))
	defer r.ownerTID.Store(0)

	events := make([]unix.EpollEvent, maxEvents)

	for r.running.Load() {
		n, err := unix.EpollWait(r.epfd, events, r.nextTimeout())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}

			r.log.Error("reactor: epoll wait", zap.Error(err))
			continue
		}

		r.iterations.Add(1)

		for i := 0; i < n; i++ {
			fd := int(events[i].Fd)
			if fd == r.wakefd {
				r.drainWakeup()
				continue
			}

			r.fdMu.Lock()
			cb := r.callbacks[fd]
			r.fdMu.Unlock()

			if cb != nil {
				mask := EventMask(events[i].Events)
				r.safeCall("io callback", func() { cb(fd, mask) })
			}
		}

		r.fireExpiredTimers()
		r.drainTasks()
	}

	return nil
}

// Stop makes the loop return at the next iteration boundary. In-flight
// callbacks complete; tasks enqueued after the stop is observed don't run.
// Idempotent and safe to call from any thread.
func (r *Reactor) Stop() {
	r.running.Store(false)
	r.wakeup()
}

// Close releases the epoll and wake-up descriptors. The loop must not be
// running anymore.
func (r *Reactor) Close() error {
	err := unix.Close(r.epfd)
	if werr := unix.Close(r.wakefd); err == nil {
		err = werr
	}

	return err
}

// InLoop reports whether the caller runs on the loop thread.
func (r *Reactor) InLoop() bool {
	return int64(unix.Gettid()) == r.ownerTID.Load()
}

// AddFd registers the descriptor with the given interest and callback.
// Edge-triggered mode is always applied on top of the requested bits.
func (r *Reactor) AddFd(fd int, events EventMask, cb Callback) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{
		Events: uint32(events) | unix.EPOLLET,
		Fd:     int32(fd),
	})
	if err != nil {
		return fmt.Errorf("reactor: add fd %d: %w", fd, err)
	}

	r.fdMu.Lock()
	r.callbacks[fd] = cb
	r.fdMu.Unlock()

	return nil
}

// UpdateFd replaces the interest set of an already registered descriptor,
// keeping edge-triggered mode.
func (r *Reactor) UpdateFd(fd int, events EventMask) error {
	err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{
		Events: uint32(events) | unix.EPOLLET,
		Fd:     int32(fd),
	})
	if err != nil {
		return fmt.Errorf("reactor: update fd %d: %w", fd, err)
	}

	return nil
}

// RemoveFd deregisters the descriptor. Tolerant of descriptors that were
// already closed: the failure is logged, the callback is dropped either way.
func (r *Reactor) RemoveFd(fd int) {
	if err := unix.EpollCtl(r.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		r.log.Warn("reactor: remove fd", zap.Int("fd", fd), zap.Error(err))
	}

	r.fdMu.Lock()
	delete(r.callbacks, fd)
	r.fdMu.Unlock()
}

// RunAfter schedules a one-shot timer firing no earlier than delay from now.
func (r *Reactor) RunAfter(delay time.Duration, task Task) TimerID {
	return r.schedule(delay, 0, false, task)
}

// RunEvery schedules a repeating timer with the given period. The first
// firing happens one period from now; the k-th firing never happens before
// k periods have elapsed.
func (r *Reactor) RunEvery(period time.Duration, task Task) TimerID {
	return r.schedule(period, period, true, task)
}

func (r *Reactor) schedule(delay, period time.Duration, repeating bool, task Task) TimerID {
	t := &timer{
		when:      time.Now().Add(delay),
		period:    period,
		repeating: repeating,
		task:      task,
		index:     -1,
	}

	r.timerMu.Lock()
	t.id = r.nextTimerID
	r.nextTimerID++
	heap.Push(&r.timers, t)
	r.timersByID[t.id] = t
	r.timerMu.Unlock()

	// the wait deadline may have moved closer
	r.wakeup()

	return t.id
}

// CancelTimer removes the timer. If it has already expired in the current
// iteration but its task hasn't run yet, the task still won't run.
func (r *Reactor) CancelTimer(id TimerID) {
	r.timerMu.Lock()
	t, ok := r.timersByID[id]
	if ok {
		delete(r.timersByID, id)
		if t.index >= 0 {
			heap.Remove(&r.timers, t.index)
		}
	}
	r.timerMu.Unlock()

	if ok {
		t.canceled.Store(true)
	}
}

// RunInLoop runs the task inline when called from the loop thread, otherwise
// enqueues it.
func (r *Reactor) RunInLoop(task Task) {
	if r.InLoop() {
		task()
		return
	}

	r.QueueInLoop(task)
}

// QueueInLoop enqueues the task for the next iteration and wakes the loop.
// Tasks run in enqueue order within a single drain.
func (r *Reactor) QueueInLoop(task Task) {
	r.taskMu.Lock()
	r.tasks = append(r.tasks, task)
	r.taskMu.Unlock()

	r.wakeup()
}

// Statistics returns a snapshot of the loop state.
func (r *Reactor) Statistics() Statistics {
	var stats Statistics

	r.fdMu.Lock()
	stats.ActiveFDs = len(r.callbacks)
	r.fdMu.Unlock()

	r.taskMu.Lock()
	stats.PendingTasks = len(r.tasks)
	r.taskMu.Unlock()

	r.timerMu.Lock()
	stats.ActiveTimers = len(r.timers)
	r.timerMu.Unlock()

	stats.Iterations = r.iterations.Load()

	return stats
}

// nextTimeout computes the epoll_wait deadline in milliseconds: time until
// the earliest timer expiry, or -1 (infinite) with no timers pending.
func (r *Reactor) nextTimeout() int {
	r.timerMu.Lock()
	defer r.timerMu.Unlock()

	if len(r.timers) == 0 {
		return -1
	}

	until := time.Until(r.timers[0].when)
	if until <= 0 {
		return 0
	}

	// round up, otherwise a timer 0.5ms away spins the loop with zero waits
	ms := (until + time.Millisecond - 1) / time.Millisecond

	return int(ms)
}

func (r *Reactor) fireExpiredTimers() {
	now := time.Now()

	r.timerMu.Lock()
	var expired []*timer
	for len(r.timers) > 0 && !r.timers[0].when.After(now) {
		expired = append(expired, heap.Pop(&r.timers).(*timer))
	}
	r.timerMu.Unlock()

	for _, t := range expired {
		if t.canceled.Load() {
			continue
		}

		r.safeCall("timer callback", t.task)

		if t.repeating && !t.canceled.Load() {
			t.when = now.Add(t.period)
			r.timerMu.Lock()
			heap.Push(&r.timers, t)
			r.timerMu.Unlock()
		} else {
			r.timerMu.Lock()
			delete(r.timersByID, t.id)
			r.timerMu.Unlock()
		}
	}
}

func (r *Reactor) drainTasks() {
	r.taskMu.Lock()
	tasks := r.tasks
	r.tasks = nil
	r.taskMu.Unlock()

	for _, task := range tasks {
		r.safeCall("queued task", task)
	}
}

// safeCall keeps a panicking callback from tearing the loop down.
func (r *Reactor) safeCall(what string, f func()) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("reactor: recovered panic",
				zap.String("in", what), zap.Any("panic", p))
		}
	}()

	f()
}

func (r *Reactor) wakeup() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)

	if _, err := unix.Write(r.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		r.log.Warn("reactor: wakeup write", zap.Error(err))
	}
}

func (r *Reactor) drainWakeup() {
	var buf [8]byte
	if _, err := unix.Read(r.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		r.log.Warn("reactor: wakeup drain", zap.Error(err))
	}
}
