// Package scheduler promotes due timer entries to the dispatcher.
//
// The scheduler never runs callbacks itself. Entries fire in (due time, creation order)
// and a repeating entry is re-armed at its previous due time plus the interval.
package scheduler

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/petar/GoLLRB/llrb"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/opmon"
)

// EventID is the cancellation handle of a scheduled entry, never 0
type EventID uint64

type entry struct {
	id        EventID
	due       time.Time
	seq       uint64
	interval  time.Duration
	callback  func()
	cancelled int32
}

func (e *entry) Less(than llrb.Item) bool {
	o := than.(*entry)
	if !e.due.Equal(o.due) {
		return e.due.Before(o.due)
	}
	return e.seq < o.seq
}

func (e *entry) fire() {
	if atomic.LoadInt32(&e.cancelled) != 0 {
		// cancelled after being handed to the dispatcher
		return
	}
	e.callback()
}

// Scheduler holds time-armed work items
type Scheduler struct {
	dispatcher *dispatcher.Dispatcher
	clock      Clock

	lock    sync.Mutex
	tree    *llrb.LLRB
	entries map[EventID]*entry
	nextID  EventID
	nextSeq uint64
	closed  bool

	wake       chan struct{}
	stop       chan struct{}
	started    int32
	terminated chan struct{}
}

// New creates a scheduler submitting to d
func New(d *dispatcher.Dispatcher) *Scheduler {
	return NewWithClock(d, RealClock)
}

// NewWithClock creates a scheduler using the specified clock
func NewWithClock(d *dispatcher.Dispatcher, clock Clock) *Scheduler {
	return &Scheduler{
		dispatcher: d,
		clock:      clock,
		tree:       llrb.New(),
		entries:    map[EventID]*entry{},
		wake:       make(chan struct{}, 1),
		stop:       make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

func (s *Scheduler) String() string {
	return "Scheduler"
}

// Now returns the current time of the scheduler clock
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule fires callback on the dispatcher after delay
func (s *Scheduler) Schedule(delay time.Duration, callback func()) EventID {
	return s.add(delay, 0, callback)
}

// ScheduleRepeat fires callback after delay and then every interval
func (s *Scheduler) ScheduleRepeat(delay time.Duration, interval time.Duration, callback func()) EventID {
	if interval <= 0 {
		gwlog.Panicf("%s: repeat interval must be positive: %s", s, interval)
	}
	return s.add(delay, interval, callback)
}

func (s *Scheduler) add(delay time.Duration, interval time.Duration, callback func()) EventID {
	if delay < 0 {
		delay = 0
	}

	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		gwlog.Warnf("%s: schedule after shutdown is ignored", s)
		return 0
	}
	s.nextID += 1
	s.nextSeq += 1
	e := &entry{
		id:       s.nextID,
		due:      s.clock.Now().Add(delay),
		seq:      s.nextSeq,
		interval: interval,
		callback: callback,
	}
	s.entries[e.id] = e
	s.tree.ReplaceOrInsert(e)
	isFirst := s.tree.Min() == e
	opmon.SetGauge("scheduler.pending", float64(len(s.entries)))
	s.lock.Unlock()

	if consts.DEBUG_TIMERS {
		gwlog.Debugf("%s: scheduled %d due %s interval %s", s, e.id, e.due, interval)
	}
	if isFirst {
		s.signal()
	}
	return e.id
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Cancel cancels the entry, returns true if it had not fired yet
//
// For repeating entries it returns true if the entry was still armed, and a fire
// already handed to the dispatcher is skipped.
func (s *Scheduler) Cancel(id EventID) bool {
	s.lock.Lock()
	e := s.entries[id]
	if e == nil {
		s.lock.Unlock()
		return false
	}
	delete(s.entries, id)
	s.tree.Delete(e)
	atomic.StoreInt32(&e.cancelled, 1)
	opmon.SetGauge("scheduler.pending", float64(len(s.entries)))
	s.lock.Unlock()

	if consts.DEBUG_TIMERS {
		gwlog.Debugf("%s: cancelled %d", s, id)
	}
	return true
}

// Pending returns the number of armed entries
func (s *Scheduler) Pending() int {
	s.lock.Lock()
	n := len(s.entries)
	s.lock.Unlock()
	return n
}

// Start starts the scheduler goroutine
func (s *Scheduler) Start() {
	if !atomic.CompareAndSwapInt32(&s.started, 0, 1) {
		gwlog.Panicf("%s: already started", s)
	}
	go s.loop()
}

func (s *Scheduler) loop() {
	defer close(s.terminated)
	for {
		s.lock.Lock()
		if s.closed {
			s.lock.Unlock()
			return
		}
		now := s.clock.Now()
		s.fireDue(now)
		wait := time.Duration(-1)
		if min := s.tree.Min(); min != nil {
			wait = min.(*entry).due.Sub(now)
		}
		s.lock.Unlock()

		if wait < 0 {
			select {
			case <-s.wake:
			case <-s.stop:
				return
			}
			continue
		}

		timer := s.clock.NewTimer(wait)
		select {
		case <-timer.C():
		case <-s.wake: // an earlier entry may have been scheduled
		case <-s.stop:
			timer.Stop()
			return
		}
		timer.Stop()
	}
}

// fireDue hands all entries due at now to the dispatcher, called with lock held
func (s *Scheduler) fireDue(now time.Time) {
	for {
		min := s.tree.Min()
		if min == nil {
			return
		}
		e := min.(*entry)
		if e.due.After(now) {
			return
		}
		s.tree.DeleteMin()
		if e.interval > 0 {
			e.due = e.due.Add(e.interval)
			s.tree.ReplaceOrInsert(e)
		} else {
			delete(s.entries, e.id)
		}

		if consts.DEBUG_TIMERS {
			gwlog.Debugf("%s: firing %d", s, e.id)
		}
		s.dispatcher.Submit(dispatcher.NewTimerFire(uint64(e.id), e.fire))
		opmon.Count("scheduler.fired")
	}
}

// Shutdown discards all pending entries, nothing fires afterwards
func (s *Scheduler) Shutdown() {
	s.lock.Lock()
	if s.closed {
		s.lock.Unlock()
		return
	}
	s.closed = true
	discarded := len(s.entries)
	for _, e := range s.entries {
		atomic.StoreInt32(&e.cancelled, 1)
	}
	s.entries = map[EventID]*entry{}
	s.tree = llrb.New()
	opmon.SetGauge("scheduler.pending", 0)
	s.lock.Unlock()

	close(s.stop)
	gwlog.Infof("%s: shutdown, %d pending entries discarded", s, discarded)
}

// Join waits for the scheduler goroutine to quit
func (s *Scheduler) Join() {
	if atomic.LoadInt32(&s.started) == 0 {
		return
	}
	<-s.terminated
}

func (e *entry) String() string {
	return fmt.Sprintf("entry<%d due %s>", e.id, e.due.Format("15:04:05.000"))
}
