package gwutils

import (
	"runtime"

	"github.com/xiaonanln/otworld/engine/gwlog"
)

// RunPanicless calls a function panic-freely
func RunPanicless(f func()) (paniced bool) {
	defer func() {
		err := recover()
		if err != nil {
			gwlog.TraceError("%p panic: %v", f, err)
			paniced = true
		}
	}()

	f()
	return
}

// GoroutineID returns the id of the calling goroutine
//
// It parses runtime.Stack output, so it is slow and only meant for
// ownership assertions, never for program logic.
func GoroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	// stack trace starts with "goroutine NNN ["
	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] >= '0' && buf[i] <= '9' {
			id = id*10 + uint64(buf[i]-'0')
		} else {
			break
		}
	}
	return id
}

// NextLargerKey returns the smallest string that is larger than key
func NextLargerKey(key string) string {
	return key + "\x00"
}
