package opmon

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xiaonanln/otworld/engine/gwlog"
)

var (
	operationAllocPool = sync.Pool{
		New: func() interface{} {
			return &Operation{}
		},
	}

	monitor = newMonitor()

	// Registry holds all otworld metrics, served by binutil on /metrics
	Registry = prometheus.NewRegistry()

	operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "otworld",
		Name:      "operation_duration_seconds",
		Help:      "Duration of monitored operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"op"})

	eventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "otworld",
		Name:      "events_total",
		Help:      "Number of runtime events by name.",
	}, []string{"event"})

	gauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "otworld",
		Name:      "state",
		Help:      "Current runtime state values (queue lengths, connections).",
	}, []string{"name"})
)

func init() {
	Registry.MustRegister(operationDuration, eventsTotal, gauges)
	Registry.MustRegister(collectors.NewGoCollector())
}

type _OpInfo struct {
	count         uint64
	totalDuration time.Duration
	maxDuration   time.Duration
}

type _Monitor struct {
	sync.Mutex
	opInfos map[string]*_OpInfo
}

func newMonitor() *_Monitor {
	m := &_Monitor{
		opInfos: map[string]*_OpInfo{},
	}
	return m
}

func (monitor *_Monitor) record(opname string, duration time.Duration) {
	monitor.Lock()
	info := monitor.opInfos[opname]
	if info == nil {
		info = &_OpInfo{}
		monitor.opInfos[opname] = info
	}
	info.count += 1
	info.totalDuration += duration
	if duration > info.maxDuration {
		info.maxDuration = duration
	}
	monitor.Unlock()
}

// Dump writes and resets the operation statistics collected since the last dump
func Dump(w io.Writer) {
	type _T struct {
		name string
		info *_OpInfo
	}
	var opInfos map[string]*_OpInfo
	monitor.Lock()
	opInfos = monitor.opInfos
	monitor.opInfos = map[string]*_OpInfo{} // clear to be empty
	monitor.Unlock()

	var copyOpInfos []_T
	for name, opinfo := range opInfos {
		copyOpInfos = append(copyOpInfos, _T{name, opinfo})
	}
	sort.Slice(copyOpInfos, func(i, j int) bool {
		return copyOpInfos[i].name < copyOpInfos[j].name
	})
	fmt.Fprint(w, "=====================================================================================\n")
	for _, _t := range copyOpInfos {
		opname, opinfo := _t.name, _t.info
		fmt.Fprintf(w, "%-30sx%-10d AVG %-10s MAX %-10s\n", opname, opinfo.count, opinfo.totalDuration/time.Duration(opinfo.count), opinfo.maxDuration)
	}
}

// Operation is the type of operation to be monitored
type Operation struct {
	name      string
	startTime time.Time
}

// StartOperation creates a new operation
func StartOperation(operationName string) *Operation {
	op := operationAllocPool.Get().(*Operation)
	op.name = operationName
	op.startTime = time.Now()
	return op
}

// Finish finishes the operation and records the duration of operation
func (op *Operation) Finish(warnThreshold time.Duration) time.Duration {
	takeTime := time.Since(op.startTime)
	monitor.record(op.name, takeTime)
	operationDuration.WithLabelValues(op.name).Observe(takeTime.Seconds())
	if takeTime >= warnThreshold {
		gwlog.Warnf("opmon: operation %s takes %s > %s", op.name, takeTime, warnThreshold)
	}
	operationAllocPool.Put(op)
	return takeTime
}

// Count increases the counter of the named event
func Count(event string) {
	eventsTotal.WithLabelValues(event).Inc()
}

// SetGauge sets the named state value
func SetGauge(name string, v float64) {
	gauges.WithLabelValues(name).Set(v)
}

// AddGauge adds delta to the named state value
func AddGauge(name string, delta float64) {
	gauges.WithLabelValues(name).Add(delta)
}
