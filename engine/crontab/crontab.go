// Package crontab fires callbacks on wall clock minutes, driven by the scheduler.
package crontab

import (
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/gwutils"
	"github.com/xiaonanln/otworld/engine/scheduler"
)

const (
	_CRONTAB_TIME_OFFSET = time.Second * 2
)

// Handle is returned by Register, can be used to cancel the register
type Handle int

type entry struct {
	minute, hour, day, month, dayofweek int
	cb                                  func()
}

func matchField(want int, v int) bool {
	if want >= 0 {
		return want == v
	}
	return v%-want == 0
}

func (entry *entry) match(t time.Time) bool {
	if !matchField(entry.minute, t.Minute()) || !matchField(entry.hour, t.Hour()) ||
		!matchField(entry.day, t.Day()) || !matchField(entry.month, int(t.Month())) {
		return false
	}

	switch {
	case entry.dayofweek < 0:
		return true
	case entry.dayofweek == 0 || entry.dayofweek == 7:
		return t.Weekday() == time.Sunday
	default:
		return entry.dayofweek == int(t.Weekday())
	}
}

// Crontab checks registered entries once a minute on the dispatcher goroutine
//
// Register and Unregister must be called on the dispatcher goroutine as well.
type Crontab struct {
	scheduler  *scheduler.Scheduler
	entries    map[Handle]*entry
	nextHandle Handle
	eventID    scheduler.EventID
}

// New creates the crontab, entries are checked after Start
func New(s *scheduler.Scheduler) *Crontab {
	return &Crontab{
		scheduler:  s,
		entries:    map[Handle]*entry{},
		nextHandle: 1,
	}
}

// Register a callback which will be executed when the time condition is satisfied
//
// Each field matches the specified value, or every -value if negative.
// dayofweek is 0 or 7 for Sunday, -1 for every day.
func (ct *Crontab) Register(minute, hour, day, month, dayofweek int, cb func()) (Handle, error) {
	if err := validateTime(minute, hour, day, month, dayofweek); err != nil {
		return 0, err
	}

	h := ct.nextHandle
	ct.nextHandle += 1
	ct.entries[h] = &entry{
		minute:    minute,
		hour:      hour,
		day:       day,
		month:     month,
		dayofweek: dayofweek,
		cb:        cb,
	}
	return h, nil
}

func validateTime(minute, hour, day, month, dayofweek int) error {
	if minute > 59 || minute < -60 {
		return errors.Errorf("invalid minute = %d", minute)
	}
	if hour > 23 || hour < -24 {
		return errors.Errorf("invalid hour = %d", hour)
	}
	if day > 31 || day < -31 || day == 0 {
		return errors.Errorf("invalid day = %d", day)
	}
	if month > 12 || month < -12 || month == 0 {
		return errors.Errorf("invalid month = %d", month)
	}
	if dayofweek > 7 || dayofweek < -1 {
		return errors.Errorf("invalid dayofweek = %d", dayofweek)
	}
	return nil
}

// Unregister a registered crontab handle
func (ct *Crontab) Unregister(h Handle) {
	delete(ct.entries, h)
}

// Len returns the number of registered entries
func (ct *Crontab) Len() int {
	return len(ct.entries)
}

// Start arms the minute timer, the first check is a little after the next minute begins
func (ct *Crontab) Start() {
	now := ct.scheduler.Now()
	d := now.Truncate(time.Minute).Add(time.Minute + _CRONTAB_TIME_OFFSET).Sub(now)
	if d > time.Minute {
		d -= time.Minute
	}
	gwlog.Debugf("crontab: current time is %s, first check after %s", now, d)
	ct.eventID = ct.scheduler.ScheduleRepeat(d, time.Minute, ct.check)
}

// Stop cancels the minute timer
func (ct *Crontab) Stop() {
	ct.scheduler.Cancel(ct.eventID)
}

func (ct *Crontab) check() {
	ct.checkAt(ct.scheduler.Now())
}

func (ct *Crontab) checkAt(now time.Time) {
	// entries unregistered by a previous callback are not visited
	for _, entry := range ct.entries {
		if entry.match(now) {
			gwutils.RunPanicless(entry.cb)
		}
	}
}
