package dispatcher

import (
	"sync"
	"testing"
	"time"

	"github.com/bmizerany/assert"
)

type testConn uint64

func (c testConn) ID() uint64     { return uint64(c) }
func (c testConn) String() string { return "testConn" }

func TestFIFO(t *testing.T) {
	d := New()
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		d.Post("append", func() {
			order = append(order, i)
		})
	}
	d.Shutdown()
	d.Run()

	assert.Equal(t, 100, len(order))
	for i, v := range order {
		if v != i {
			t.Fatalf("item %d executed at position %d", v, i)
		}
	}
}

func TestPriorityFirst(t *testing.T) {
	d := New()
	var order []string
	d.Post("n1", func() { order = append(order, "n1") })
	d.Post("n2", func() { order = append(order, "n2") })
	d.PostPriority("p1", func() { order = append(order, "p1") })
	d.Post("n3", func() { order = append(order, "n3") })
	d.PostPriority("p2", func() { order = append(order, "p2") })
	d.Shutdown()
	d.Run()

	assert.Equal(t, []string{"p1", "p2", "n1", "n2", "n3"}, order)
}

func TestPrioritySubmittedWhileRunning(t *testing.T) {
	d := New()
	d.Start()

	var order []string
	gate := make(chan struct{})
	done := make(chan struct{})
	// hold the dispatcher until n1 and n2 are both queued
	d.Post("gate", func() { <-gate })
	d.Post("n1", func() {
		order = append(order, "n1")
		// submitted from inside an item, must still run before queued normal items
		d.PostPriority("p", func() { order = append(order, "p") })
	})
	d.Post("n2", func() { order = append(order, "n2") })
	d.Post("done", func() { close(done) })
	close(gate)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timeout")
	}
	d.Shutdown()
	d.Join()
	assert.Equal(t, []string{"n1", "p", "n2"}, order)
}

func TestConcurrentProducers(t *testing.T) {
	const producers = 8
	const perProducer = 10000 / producers

	d := New()
	d.Start()

	var counter int
	var executing int32
	var overlap bool
	var lastSeen [producers]int
	var outOfOrder bool
	for i := range lastSeen {
		lastSeen[i] = -1
	}

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				i := i
				d.Post("count", func() {
					executing++
					if executing != 1 {
						overlap = true
					}
					counter++
					if lastSeen[p] != i-1 {
						outOfOrder = true
					}
					lastSeen[p] = i
					executing--
				})
			}
		}(p)
	}
	wg.Wait()
	d.Shutdown()
	d.Join()

	assert.Equal(t, producers*perProducer, counter)
	assert.T(t, !overlap)
	assert.T(t, !outOfOrder)
}

func TestPanicIsolated(t *testing.T) {
	d := New()
	ran := false
	d.Post("panic", func() {
		panic("item failure")
	})
	d.Post("after", func() {
		ran = true
	})
	d.Shutdown()
	d.Run()
	assert.T(t, ran)
}

func TestShutdownDrainsAndRejects(t *testing.T) {
	d := New()
	block := make(chan struct{})
	executed := 0
	d.Post("block", func() {
		<-block
		executed++
	})
	for i := 0; i < 10; i++ {
		d.Post("inc", func() { executed++ })
	}
	d.Start()
	d.Shutdown()
	assert.Equal(t, ErrDispatcherShutdown, d.TrySubmit(NewFunc("late", func() { executed += 100 })))
	close(block)
	d.Join()

	assert.Equal(t, 11, executed)
	assert.Equal(t, 0, d.Len())
	assert.T(t, !d.IsRunning())
}

func TestIsDispatcherGoroutine(t *testing.T) {
	d := New()
	assert.T(t, !d.IsDispatcherGoroutine())
	d.Start()

	result := make(chan bool, 1)
	d.Post("check", func() {
		result <- d.IsDispatcherGoroutine()
	})
	select {
	case ok := <-result:
		assert.T(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("item not executed")
	}
	assert.T(t, !d.IsDispatcherGoroutine())
	d.Shutdown()
	d.Join()
}

func TestItemKinds(t *testing.T) {
	d := New()
	var got []string
	d.SetRequestHandler(func(req *Request) {
		got = append(got, "request:"+req.Msg.(string))
		assert.Equal(t, uint64(7), req.Conn.ID())
	})
	d.Submit(NewRequest(testConn(7), "hello"))
	d.Submit(NewTimerFire(1, func() { got = append(got, "timer") }))
	d.Submit(NewDBCompletion("load", 42, nil, func(res interface{}, err error) {
		got = append(got, "db")
		assert.Equal(t, 42, res)
		assert.Equal(t, nil, err)
	}))
	assert.NotEqual(t, nil, d.TrySubmit(Item{Kind: KindTimerFire}))
	d.Shutdown()
	d.Run()

	assert.Equal(t, []string{"request:hello", "timer", "db"}, got)
}

func TestSeqAssigned(t *testing.T) {
	d := New()
	var seqs []uint64
	d.SetRequestHandler(func(req *Request) {})
	for i := 0; i < 3; i++ {
		d.Post("seq", func() {})
	}
	d.lock.Lock()
	for _, item := range d.normal {
		seqs = append(seqs, item.Seq)
	}
	d.lock.Unlock()
	assert.Equal(t, []uint64{1, 2, 3}, seqs)
	d.Shutdown()
	d.Run()
}
