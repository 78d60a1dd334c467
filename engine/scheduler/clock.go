package scheduler

import "time"

// Timer is the timer returned by Clock.NewTimer
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Clock is the time source of the scheduler
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

// RealClock uses the time package
var RealClock Clock = realClock{}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) NewTimer(d time.Duration) Timer {
	return realTimer{time.NewTimer(d)}
}

type realTimer struct {
	*time.Timer
}

func (t realTimer) C() <-chan time.Time {
	return t.Timer.C
}
