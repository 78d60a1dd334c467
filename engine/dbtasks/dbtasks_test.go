package dbtasks

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/config"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/scheduler"
	"github.com/xiaonanln/otworld/engine/storage"
)

var errTransient = errors.New("connection reset")

type fakeEngine struct{}

func (fakeEngine) Get(key string) (string, error)                         { return "", nil }
func (fakeEngine) Put(key string, val string) error                       { return nil }
func (fakeEngine) Find(beginKey, endKey string) (storage.Iterator, error) { return nil, nil }
func (fakeEngine) Ping() error                                            { return nil }
func (fakeEngine) Close()                                                 {}
func (fakeEngine) IsConnectionError(err error) bool {
	return errors.Cause(err) == errTransient
}

func testOptions() Options {
	return Options{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     5 * time.Millisecond,
	}
}

func startTestQueue(t *testing.T, engine storage.Engine, workers int) (*dispatcher.Dispatcher, *Queue) {
	d := dispatcher.New()
	d.Start()
	q := New(d, engine, testOptions())
	q.Start(workers)
	return d, q
}

func stop(d *dispatcher.Dispatcher, q *Queue) {
	q.Shutdown()
	q.Join()
	d.Shutdown()
	d.Join()
}

func waitDone(t *testing.T, done chan struct{}) {
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timeout")
	}
}

func TestContinuationOnDispatcher(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 4)
	defer stop(d, q)

	const N = 50
	var wg sync.WaitGroup
	wg.Add(N)
	for i := 0; i < N; i++ {
		i := i
		err := q.Submit(Job{
			Name: "echo",
			Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
				if d.IsDispatcherGoroutine() {
					t.Errorf("routine runs on the dispatcher goroutine")
				}
				return i, nil
			},
			Callback: func(res interface{}, err error) {
				defer wg.Done()
				if !d.IsDispatcherGoroutine() {
					t.Errorf("continuation runs outside the dispatcher goroutine")
				}
				if res.(int) != i || err != nil {
					t.Errorf("wrong result: %v %v", res, err)
				}
			},
		})
		assert.Equal(t, nil, err)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	waitDone(t, done)
}

func TestKeyedOrdering(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 8)
	defer stop(d, q)

	const N = 30
	var lock sync.Mutex
	var order []int
	running := 0
	overlap := false
	done := make(chan struct{})

	for i := 0; i < N; i++ {
		i := i
		q.Submit(Job{
			Name: "ordered",
			Key:  "account$alice",
			Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
				lock.Lock()
				running++
				if running > 1 {
					overlap = true
				}
				order = append(order, i)
				lock.Unlock()
				time.Sleep(time.Millisecond)
				lock.Lock()
				running--
				lock.Unlock()
				return nil, nil
			},
			Callback: func(res interface{}, err error) {
				if i == N-1 {
					close(done)
				}
			},
		})
	}
	waitDone(t, done)

	lock.Lock()
	defer lock.Unlock()
	assert.T(t, !overlap)
	assert.Equal(t, N, len(order))
	for i, v := range order {
		if v != i {
			t.Fatalf("job %d ran at position %d", v, i)
		}
	}
}

func TestRetryTransient(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 1)
	defer stop(d, q)

	calls := 0
	done := make(chan struct{})
	q.Submit(Job{
		Name: "flaky",
		Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, errors.Wrap(errTransient, "get")
			}
			return "ok", nil
		},
		Callback: func(res interface{}, err error) {
			defer close(done)
			assert.Equal(t, nil, err)
			assert.Equal(t, "ok", res)
		},
	})
	waitDone(t, done)
	assert.Equal(t, 3, calls)
}

func TestRetryExhausted(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 1)
	defer stop(d, q)

	calls := 0
	done := make(chan struct{})
	var jobErr error
	q.Submit(Job{
		Name: "down",
		Key:  "k",
		Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
			calls++
			return nil, errTransient
		},
		Callback: func(res interface{}, err error) {
			jobErr = err
			close(done)
		},
	})
	waitDone(t, done)

	assert.Equal(t, 3, calls)
	e, ok := jobErr.(*Error)
	assert.T(t, ok)
	assert.Equal(t, "down", e.Job)
	assert.Equal(t, "k", e.Key)
	assert.Equal(t, 3, e.Attempts)
	assert.T(t, e.Transient)
	assert.Equal(t, errTransient, errors.Cause(jobErr))
}

func TestNoRetryPermanent(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 1)
	defer stop(d, q)

	permanent := errors.New("bad data")
	calls := 0
	done := make(chan struct{})
	var jobErr error
	q.Submit(Job{
		Name: "bad",
		Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
			calls++
			return nil, permanent
		},
		Callback: func(res interface{}, err error) {
			jobErr = err
			close(done)
		},
	})
	waitDone(t, done)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, jobErr.(*Error).Attempts)
	assert.T(t, !jobErr.(*Error).Transient)
	assert.Equal(t, permanent, errors.Cause(jobErr))
}

func TestRoutinePanic(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 1)
	defer stop(d, q)

	done := make(chan error, 1)
	q.Submit(Job{
		Name: "panic",
		Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
			panic("broken routine")
		},
		Callback: func(res interface{}, err error) {
			done <- err
		},
	})
	select {
	case err := <-done:
		assert.NotEqual(t, nil, err)
	case <-time.After(10 * time.Second):
		t.Fatal("timeout")
	}
}

// 5 jobs in flight and 3 pending timers at shutdown: 5 continuations land, no timer fires
func TestShutdownWithInFlightJobs(t *testing.T) {
	d := dispatcher.New()
	d.Start()
	s := scheduler.New(d)
	s.Start()
	q := New(d, fakeEngine{}, testOptions())
	q.Start(5)

	timersFired := 0
	for i := 0; i < 3; i++ {
		s.Schedule(time.Hour, func() { timersFired++ })
	}

	started := make(chan struct{}, 5)
	release := make(chan struct{})
	continuations := 0
	for i := 0; i < 5; i++ {
		q.Submit(Job{
			Name: "slow",
			Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
				started <- struct{}{}
				<-release
				return nil, nil
			},
			Callback: func(res interface{}, err error) {
				continuations++
			},
		})
	}
	for i := 0; i < 5; i++ {
		select {
		case <-started:
		case <-time.After(10 * time.Second):
			t.Fatal("jobs not started")
		}
	}

	s.Shutdown()
	s.Join()
	q.Shutdown()
	assert.Equal(t, ErrQueueClosed, q.Submit(Job{Name: "late", Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
		return nil, nil
	}}))
	close(release)
	joinWithin(t, q, 10*time.Second)
	d.Shutdown()
	d.Join()

	assert.Equal(t, 5, continuations)
	assert.Equal(t, 0, timersFired)
}

func joinWithin(t *testing.T, q *Queue, timeout time.Duration) {
	joined := make(chan struct{})
	go func() {
		q.Join()
		close(joined)
	}()
	select {
	case <-joined:
	case <-time.After(timeout):
		t.Fatalf("Join did not return %s after Shutdown", timeout)
	}
}

func TestJoinIdleWorkers(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 4)
	done := make(chan struct{})
	q.Submit(Job{
		Name: "one",
		Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
			return nil, nil
		},
		Callback: func(res interface{}, err error) {
			close(done)
		},
	})
	waitDone(t, done)

	q.Shutdown()
	joinWithin(t, q, 5*time.Second)
	d.Shutdown()
	d.Join()
}

func TestConcurrentSubmit(t *testing.T) {
	d, q := startTestQueue(t, fakeEngine{}, 4)
	defer stop(d, q)

	const producers = 8
	const perProducer = 2000
	var lock sync.Mutex
	completed := 0
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(producers)
	for p := 0; p < producers; p++ {
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Submit(Job{
					Name: "count",
					Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
						return nil, nil
					},
					Callback: func(res interface{}, err error) {
						lock.Lock()
						completed++
						if completed == producers*perProducer {
							close(done)
						}
						lock.Unlock()
					},
				})
			}
		}()
	}
	wg.Wait()
	waitDone(t, done)
}

func TestSQLiteJobs(t *testing.T) {
	engine, err := storage.Open(&config.StorageConfig{Type: "sqlite", Url: filepath.Join(t.TempDir(), "jobs.db")}, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()
	d, q := startTestQueue(t, engine, 2)
	defer stop(d, q)

	done := make(chan struct{})
	q.Submit(Job{
		Name: "put",
		Key:  "player$bob",
		Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
			return nil, engine.Put("player$bob", "level=8")
		},
	})
	q.Submit(Job{
		Name: "get",
		Key:  "player$bob",
		Routine: func(ctx context.Context, engine storage.Engine) (interface{}, error) {
			return engine.Get("player$bob")
		},
		Callback: func(res interface{}, err error) {
			defer close(done)
			assert.Equal(t, nil, err)
			assert.Equal(t, "level=8", res)
		},
	})
	waitDone(t, done)
}
