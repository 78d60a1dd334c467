package dispatcher

import "fmt"

// Kind is the type tag of a work item
type Kind uint8

const (
	// KindFunc is a named control function, used for startup and shutdown steps
	KindFunc Kind = iota
	// KindRequest is a decoded client request
	KindRequest
	// KindTimerFire is a due scheduler entry
	KindTimerFire
	// KindDBCompletion is the continuation of a finished database job
	KindDBCompletion
)

var kindNames = [...]string{
	KindFunc:         "func",
	KindRequest:      "request",
	KindTimerFire:    "timer",
	KindDBCompletion: "dbcompletion",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Conn is the client connection a request was decoded from
type Conn interface {
	ID() uint64
	String() string
}

// Func is the payload of KindFunc items
type Func struct {
	Name string
	Fn   func()
}

// Request is the payload of KindRequest items
type Request struct {
	Conn Conn
	Msg  interface{}
}

// TimerFire is the payload of KindTimerFire items
type TimerFire struct {
	EventID  uint64
	Callback func()
}

// DBCompletion is the payload of KindDBCompletion items
type DBCompletion struct {
	Job      string
	Result   interface{}
	Err      error
	Callback func(res interface{}, err error)
}

// Item is a unit of work executed by the dispatcher goroutine
//
// Exactly one payload matching Kind is set. Seq is assigned on enqueue.
type Item struct {
	Kind     Kind
	Seq      uint64
	Priority bool

	Func         *Func
	Request      *Request
	TimerFire    *TimerFire
	DBCompletion *DBCompletion
}

// NewFunc creates a KindFunc item
func NewFunc(name string, fn func()) Item {
	return Item{Kind: KindFunc, Func: &Func{Name: name, Fn: fn}}
}

// NewRequest creates a KindRequest item
func NewRequest(conn Conn, msg interface{}) Item {
	return Item{Kind: KindRequest, Request: &Request{Conn: conn, Msg: msg}}
}

// NewTimerFire creates a KindTimerFire item
func NewTimerFire(eventID uint64, callback func()) Item {
	return Item{Kind: KindTimerFire, TimerFire: &TimerFire{EventID: eventID, Callback: callback}}
}

// NewDBCompletion creates a KindDBCompletion item
func NewDBCompletion(job string, res interface{}, err error, callback func(res interface{}, err error)) Item {
	return Item{Kind: KindDBCompletion, DBCompletion: &DBCompletion{Job: job, Result: res, Err: err, Callback: callback}}
}

func (item Item) String() string {
	switch item.Kind {
	case KindFunc:
		return fmt.Sprintf("Item<%d func %s>", item.Seq, item.Func.Name)
	case KindRequest:
		return fmt.Sprintf("Item<%d request %s %T>", item.Seq, item.Request.Conn, item.Request.Msg)
	case KindTimerFire:
		return fmt.Sprintf("Item<%d timer %d>", item.Seq, item.TimerFire.EventID)
	case KindDBCompletion:
		return fmt.Sprintf("Item<%d dbcompletion %s>", item.Seq, item.DBCompletion.Job)
	}
	return fmt.Sprintf("Item<%d %s>", item.Seq, item.Kind)
}

func (item Item) valid() bool {
	switch item.Kind {
	case KindFunc:
		return item.Func != nil
	case KindRequest:
		return item.Request != nil
	case KindTimerFire:
		return item.TimerFire != nil
	case KindDBCompletion:
		return item.DBCompletion != nil
	}
	return false
}
