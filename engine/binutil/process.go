package binutil

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/xiaonanln/otworld/engine/gwlog"
)

// ProcessEnv reports facts about the running process to the server loader
type ProcessEnv interface {
	// IsRoot returns true if the process runs with super user privileges
	IsRoot() bool
	// Pid returns the process id
	Pid() int
}

type osProcessEnv struct{}

// OSProcessEnv returns the ProcessEnv of the current process
func OSProcessEnv() ProcessEnv {
	return osProcessEnv{}
}

func (osProcessEnv) IsRoot() bool {
	return isRoot()
}

func (osProcessEnv) Pid() int {
	return os.Getpid()
}

// SignalContext returns a context which is cancelled on SIGINT or SIGTERM
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ignoreSignals()
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			gwlog.Infof("received signal %s, terminating ...", sig)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
