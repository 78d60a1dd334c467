//go:build !windows

package binutil

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sevlyar/go-daemon"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"golang.org/x/sys/unix"
)

// Daemonize runs the process in background, the parent process exits
func Daemonize(pidFile string, logFile string) *daemon.Context {
	context := &daemon.Context{
		PidFileName: pidFile,
		PidFilePerm: 0644,
		LogFileName: logFile,
		LogFilePerm: 0640,
	}
	child, err := context.Reborn()

	if err != nil {
		// daemonize failed
		gwlog.Panicf("daemonize failed: %v", err)
	}

	if child != nil {
		gwlog.Infof("run in daemon mode")
		os.Exit(0)
		return nil
	}
	return context
}

func isRoot() bool {
	return unix.Geteuid() == 0
}

func ignoreSignals() {
	signal.Ignore(syscall.SIGPIPE, syscall.SIGHUP)
}
