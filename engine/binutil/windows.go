//go:build windows

package binutil

import "github.com/xiaonanln/otworld/engine/gwlog"

type nopRelease int

func (nopRelease) Release() error {
	return nil
}

// Daemonize is not supported on windows
func Daemonize(pidFile string, logFile string) nopRelease {
	gwlog.Warnf("can not run in daemon mode in windows, -d ignored")
	return nopRelease(0)
}

func isRoot() bool {
	return false
}

func ignoreSignals() {
}
