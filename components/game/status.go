package game

import (
	"os"

	"github.com/shirou/gopsutil/process"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/gwutils"
	"github.com/xiaonanln/otworld/engine/opmon"
)

// RSS returns the resident memory size sampled by the last status refresh
func (w *World) RSS() uint64 {
	return w.rss
}

// RefreshStatus samples the process memory in background and stores it on the dispatcher
func (w *World) RefreshStatus() {
	go gwutils.RunPanicless(func() {
		rss, err := sampleRSS()
		if err != nil {
			gwlog.Warnf("%s: sample process memory failed: %s", w, err)
			return
		}
		w.dispatcher.Post("world.status", func() {
			w.rss = rss
			opmon.SetGauge("game.rss_bytes", float64(rss))
		})
	})
}

func sampleRSS() (uint64, error) {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}
