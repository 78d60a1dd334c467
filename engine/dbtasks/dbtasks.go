// Package dbtasks runs blocking storage jobs on a pool of workers.
//
// Continuations are always submitted to the dispatcher as DB completion items,
// workers never run them.
package dbtasks

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/opmon"
	"github.com/xiaonanln/otworld/engine/storage"
)

// ErrQueueClosed is returned when submitting to a queue which is shut down
var ErrQueueClosed = errors.New("db task queue is shut down")

// Options of the queue
type Options struct {
	// MaxAttempts is the max number of attempts of a job failing with transient errors
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultOptions returns the default options
func DefaultOptions() Options {
	return Options{
		MaxAttempts:     consts.DBTASKS_DEFAULT_MAX_ATTEMPTS,
		InitialInterval: consts.DBTASKS_RETRY_INITIAL_INTERVAL,
		MaxInterval:     consts.DBTASKS_RETRY_MAX_INTERVAL,
	}
}

// Queue is the database task queue
type Queue struct {
	dispatcher *dispatcher.Dispatcher
	engine     storage.Engine
	opts       Options
	ctx        context.Context

	jobQueue *xnsyncutil.SyncQueue
	lock     sync.Mutex
	closed   bool
	// jobs waiting for the running job of the same key
	keyWaiting  map[string][]*Job
	pending     sync.WaitGroup
	workers     sync.WaitGroup
	workerCount int
	started     bool

	recentWarnedQueueLen int
}

// New creates the queue, jobs run against engine and continuations are submitted to d
func New(d *dispatcher.Dispatcher, engine storage.Engine, opts Options) *Queue {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = consts.DBTASKS_DEFAULT_MAX_ATTEMPTS
	}
	if opts.InitialInterval <= 0 {
		opts.InitialInterval = consts.DBTASKS_RETRY_INITIAL_INTERVAL
	}
	if opts.MaxInterval <= 0 {
		opts.MaxInterval = consts.DBTASKS_RETRY_MAX_INTERVAL
	}
	return &Queue{
		dispatcher: d,
		engine:     engine,
		opts:       opts,
		ctx:        context.Background(),
		jobQueue:   xnsyncutil.NewSyncQueue(),
		keyWaiting: map[string][]*Job{},
	}
}

func (q *Queue) String() string {
	return "DBTaskQueue"
}

// Start starts workerCount workers
func (q *Queue) Start(workerCount int) {
	if workerCount <= 0 {
		workerCount = consts.DBTASKS_DEFAULT_WORKERS
	}
	q.lock.Lock()
	if q.started {
		q.lock.Unlock()
		gwlog.Panicf("%s: already started", q)
	}
	q.started = true
	q.workerCount = workerCount
	q.lock.Unlock()

	q.workers.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go q.workerRoutine(i + 1)
	}
	gwlog.Infof("%s: %d workers started", q, workerCount)
}

// Submit queues the job, never blocks
func (q *Queue) Submit(job Job) error {
	if job.Routine == nil {
		return errors.Errorf("%s: job %s has no routine", q, job.Name)
	}
	j := &job

	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return ErrQueueClosed
	}
	q.pending.Add(1)
	if j.Key != "" {
		waiting, busy := q.keyWaiting[j.Key]
		if busy {
			q.keyWaiting[j.Key] = append(waiting, j)
			q.lock.Unlock()
			return nil
		}
		q.keyWaiting[j.Key] = nil // mark key busy
	}
	q.lock.Unlock()

	q.jobQueue.Push(j)
	q.checkQueueLen()
	return nil
}

func (q *Queue) checkQueueLen() {
	qlen := q.jobQueue.Len()
	opmon.SetGauge("dbtasks.queue_len", float64(qlen))
	if qlen <= consts.DBTASKS_QUEUE_WARN_LEN || qlen%consts.DBTASKS_QUEUE_WARN_LEN != 0 {
		return
	}
	q.lock.Lock()
	warn := q.recentWarnedQueueLen != qlen
	q.recentWarnedQueueLen = qlen
	q.lock.Unlock()
	if warn {
		gwlog.Warnf("%s: queue length = %d", q, qlen)
	}
}

func (q *Queue) workerRoutine(workerID int) {
	defer q.workers.Done()
	for {
		v := q.jobQueue.Pop()
		if v == nil { // queue closed
			break
		}
		q.runJob(v.(*Job))
	}
	gwlog.Debugf("%s: worker %d quit", q, workerID)
}

func (q *Queue) runJob(job *Job) {
	if consts.DEBUG_SAVE_LOAD {
		gwlog.Debugf("%s: running %s ...", q, job)
	}
	monop := opmon.StartOperation("dbtasks." + job.Name)
	res, err := q.runRoutine(job)
	monop.Finish(consts.DBTASKS_SLOW_JOB_THRESHOLD)
	if err != nil {
		opmon.Count("dbtasks.failed")
		gwlog.Errorf("%s: %s", q, err)
	}

	q.releaseKey(job)
	q.dispatcher.Submit(dispatcher.NewDBCompletion(job.Name, res, err, job.Callback))
	q.pending.Done()
}

// runRoutine runs the job, retrying transient errors with exponential backoff
func (q *Queue) runRoutine(job *Job) (interface{}, error) {
	attempts := 0
	transient := false
	operation := func() (res interface{}, err error) {
		attempts += 1
		res, err = q.callRoutine(job)
		if err == nil {
			return res, nil
		}
		transient = q.engine.IsConnectionError(err)
		if !transient {
			return nil, backoff.Permanent(err)
		}
		if attempts < q.opts.MaxAttempts {
			opmon.Count("dbtasks.retry")
			gwlog.Warnf("%s: %s attempt %d failed: %s, retrying ...", q, job, attempts, err)
		}
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = q.opts.InitialInterval
	b.MaxInterval = q.opts.MaxInterval
	res, err := backoff.Retry(q.ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(q.opts.MaxAttempts)),
	)
	if err != nil {
		return nil, &Error{
			Job:       job.Name,
			Key:       job.Key,
			Attempts:  attempts,
			Transient: transient,
			Err:       err,
		}
	}
	return res, nil
}

func (q *Queue) callRoutine(job *Job) (res interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			gwlog.TraceError("%s: %s paniced: %v", q, job, r)
			err = errors.Errorf("%s paniced: %v", job, r)
		}
	}()
	return job.Routine(q.ctx, q.engine)
}

// releaseKey releases the next job waiting on the same key
func (q *Queue) releaseKey(job *Job) {
	if job.Key == "" {
		return
	}

	q.lock.Lock()
	waiting := q.keyWaiting[job.Key]
	if len(waiting) == 0 {
		delete(q.keyWaiting, job.Key)
		q.lock.Unlock()
		return
	}
	next := waiting[0]
	q.keyWaiting[job.Key] = waiting[1:]
	q.lock.Unlock()
	q.jobQueue.Push(next)
}

// Shutdown stops accepting jobs, queued and running jobs still finish and deliver their continuations
func (q *Queue) Shutdown() {
	q.lock.Lock()
	if q.closed {
		q.lock.Unlock()
		return
	}
	q.closed = true
	workerCount := q.workerCount
	q.lock.Unlock()

	gwlog.Infof("%s: shutting down ...", q)
	go func() {
		q.pending.Wait()
		// SyncQueue.Close wakes a single waiter, every idle worker needs its own nil
		for i := 0; i < workerCount; i++ {
			q.jobQueue.Push(nil)
		}
		q.jobQueue.Close()
	}()
}

// Join waits for all workers to quit
func (q *Queue) Join() {
	q.lock.Lock()
	started := q.started
	q.lock.Unlock()
	if !started {
		return
	}
	q.workers.Wait()
	gwlog.Infof("%s: terminated", q)
}
