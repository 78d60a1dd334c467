// Package dispatcher implements the single goroutine executor which owns all world state.
//
// Any goroutine may submit work items. Items run one at a time, in submission order,
// except that priority items run before normal items which are still queued.
package dispatcher

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/gwutils"
	"github.com/xiaonanln/otworld/engine/opmon"
)

// ErrDispatcherShutdown is returned when submitting to a dispatcher which is shut down
var ErrDispatcherShutdown = errors.New("dispatcher is shut down")

// RequestHandler handles decoded client requests on the dispatcher goroutine
type RequestHandler func(req *Request)

// Dispatcher is the task dispatcher
type Dispatcher struct {
	lock     sync.Mutex
	cond     *sync.Cond
	normal   []Item
	priority []Item
	nextSeq  uint64
	closed   bool

	started        int32
	goid           uint64
	requestHandler atomic.Value
	terminated     chan struct{}

	recentWarnedQueueLen int
}

// New creates a dispatcher, call Run or Start to execute submitted items
func New() *Dispatcher {
	d := &Dispatcher{
		terminated: make(chan struct{}),
	}
	d.cond = sync.NewCond(&d.lock)
	return d
}

// SetRequestHandler sets the handler of KindRequest items
func (d *Dispatcher) SetRequestHandler(handler RequestHandler) {
	d.requestHandler.Store(handler)
}

// Submit enqueues the item, dropping it with an error log if the dispatcher is shut down
func (d *Dispatcher) Submit(item Item) {
	if err := d.TrySubmit(item); err != nil {
		gwlog.Errorf("%s: drop %s: %s", d, item, err)
		opmon.Count("dispatcher.dropped")
	}
}

// SubmitPriority enqueues the item in the priority lane
func (d *Dispatcher) SubmitPriority(item Item) {
	item.Priority = true
	d.Submit(item)
}

// Post submits a named function
func (d *Dispatcher) Post(name string, fn func()) {
	d.Submit(NewFunc(name, fn))
}

// PostPriority submits a named function in the priority lane
func (d *Dispatcher) PostPriority(name string, fn func()) {
	d.SubmitPriority(NewFunc(name, fn))
}

// TrySubmit enqueues the item, never blocks
func (d *Dispatcher) TrySubmit(item Item) error {
	if !item.valid() {
		return errors.Errorf("invalid work item: kind=%s", item.Kind)
	}

	d.lock.Lock()
	if d.closed {
		d.lock.Unlock()
		return ErrDispatcherShutdown
	}
	d.nextSeq += 1
	item.Seq = d.nextSeq
	if item.Priority {
		d.priority = append(d.priority, item)
	} else {
		d.normal = append(d.normal, item)
	}
	qlen := len(d.normal) + len(d.priority)
	d.checkQueueLen(qlen)
	d.lock.Unlock()
	d.cond.Signal()
	return nil
}

// called with lock held
func (d *Dispatcher) checkQueueLen(qlen int) {
	if qlen > consts.DISPATCHER_QUEUE_WARN_LEN && qlen%consts.DISPATCHER_QUEUE_WARN_LEN == 0 && d.recentWarnedQueueLen != qlen {
		gwlog.Warnf("%s: queue length = %d", d, qlen)
		d.recentWarnedQueueLen = qlen
	}
}

// Len returns the number of queued items
func (d *Dispatcher) Len() int {
	d.lock.Lock()
	n := len(d.normal) + len(d.priority)
	d.lock.Unlock()
	return n
}

// Start runs the dispatcher in a new goroutine
func (d *Dispatcher) Start() {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		gwlog.Panicf("%s: already running", d)
	}
	go d.run()
}

// Run executes items on the calling goroutine until Shutdown is called and the queue is drained
func (d *Dispatcher) Run() {
	if !atomic.CompareAndSwapInt32(&d.started, 0, 1) {
		gwlog.Panicf("%s: already running", d)
	}
	d.run()
}

func (d *Dispatcher) run() {
	atomic.StoreUint64(&d.goid, gwutils.GoroutineID())
	defer close(d.terminated)

	gwlog.Infof("%s: started", d)
	for {
		item, ok := d.pop()
		if !ok {
			break
		}
		d.execute(item)
	}
	gwlog.Infof("%s: terminated", d)
}

// pop blocks until an item is available, returns false when shut down and drained
func (d *Dispatcher) pop() (item Item, ok bool) {
	d.lock.Lock()
	for len(d.priority) == 0 && len(d.normal) == 0 && !d.closed {
		d.cond.Wait()
	}

	if len(d.priority) > 0 {
		item = d.priority[0]
		d.priority[0] = Item{}
		d.priority = d.priority[1:]
		ok = true
	} else if len(d.normal) > 0 {
		item = d.normal[0]
		d.normal[0] = Item{}
		d.normal = d.normal[1:]
		ok = true
	}
	opmon.SetGauge("dispatcher.queue_len", float64(len(d.priority)+len(d.normal)))
	d.lock.Unlock()
	return
}

func (d *Dispatcher) execute(item Item) {
	if consts.DEBUG_DISPATCHER {
		gwlog.Debugf("%s: executing %s", d, item)
	}
	monop := opmon.StartOperation("dispatcher." + item.Kind.String())
	paniced := gwutils.RunPanicless(func() {
		switch item.Kind {
		case KindFunc:
			item.Func.Fn()
		case KindRequest:
			handler, _ := d.requestHandler.Load().(RequestHandler)
			if handler == nil {
				gwlog.Warnf("%s: no request handler, drop %s", d, item)
				return
			}
			handler(item.Request)
		case KindTimerFire:
			item.TimerFire.Callback()
		case KindDBCompletion:
			c := item.DBCompletion
			if c.Callback != nil {
				c.Callback(c.Result, c.Err)
			}
		}
	})
	monop.Finish(consts.DISPATCHER_SLOW_ITEM_THRESHOLD)
	if paniced {
		gwlog.Errorf("%s: %s failed and was discarded", d, item)
		opmon.Count("dispatcher.item_failed")
	}
	opmon.Count("dispatcher.executed")
}

// IsDispatcherGoroutine returns true if called from the goroutine running this dispatcher
func (d *Dispatcher) IsDispatcherGoroutine() bool {
	goid := atomic.LoadUint64(&d.goid)
	return goid != 0 && goid == gwutils.GoroutineID()
}

// IsRunning returns true if Run is executing items
func (d *Dispatcher) IsRunning() bool {
	if atomic.LoadInt32(&d.started) == 0 {
		return false
	}
	select {
	case <-d.terminated:
		return false
	default:
		return true
	}
}

// Shutdown stops accepting new items, Run returns after all queued items are executed
func (d *Dispatcher) Shutdown() {
	d.lock.Lock()
	d.closed = true
	d.lock.Unlock()
	d.cond.Broadcast()
}

// Join waits for Run to return
func (d *Dispatcher) Join() {
	if atomic.LoadInt32(&d.started) == 0 {
		return
	}
	<-d.terminated
}

func (d *Dispatcher) String() string {
	return "Dispatcher"
}
