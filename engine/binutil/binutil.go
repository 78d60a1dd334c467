// Package binutil sets up the process around the server: logging, the debug HTTP server, daemon mode and signals.
package binutil

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/pprof"
	"os"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/opmon"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewHTTPHandler returns the handler of the debug HTTP server
//
// /debug/pprof/ serves go tool pprof, /metrics serves prometheus and /debug/opmon dumps operation statistics.
func NewHTTPHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.HandlerFor(opmon.Registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/debug/opmon", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		opmon.Dump(w)
	})
	return mux
}

// SetupHTTPServer starts the debug HTTP server, returns nil if port is 0
func SetupHTTPServer(ip string, port int) (*http.Server, error) {
	if port == 0 {
		// http server not enabled
		gwlog.Infof("http server not enabled")
		return nil, nil
	}

	httpHost := fmt.Sprintf("%s:%d", ip, port)
	ln, err := net.Listen("tcp", httpHost)
	if err != nil {
		return nil, errors.Wrap(err, "http server")
	}
	gwlog.Infof("http server listening on %s", ln.Addr())
	gwlog.Infof("pprof http://%s/debug/pprof/ ... available commands: ", httpHost)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/heap", httpHost)
	gwlog.Infof("    go tool pprof http://%s/debug/pprof/profile", httpHost)
	gwlog.Infof("metrics http://%s/metrics", httpHost)

	server := &http.Server{Handler: NewHTTPHandler()}
	go func() {
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			gwlog.Errorf("http server stopped: %s", err)
		}
	}()
	return server, nil
}

// SetupGWLog sets up the log level and outputs, log files are rotated by lumberjack
func SetupGWLog(component string, logLevel string, logFile string, logStderr bool) {
	gwlog.SetSource(component)
	gwlog.Infof("Set log level to %s", logLevel)
	gwlog.SetLevel(gwlog.ParseLevel(logLevel))

	outputWriters := make([]io.Writer, 0, 2)
	if logFile != "" {
		logFileWriter := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100, // megabytes
			MaxBackups: 100,
			MaxAge:     30, //days
			Compress:   true,
		}
		outputWriters = append(outputWriters, logFileWriter)
	}

	if logStderr {
		outputWriters = append(outputWriters, os.Stderr)
	}

	switch len(outputWriters) {
	case 0:
		gwlog.SetOutput(io.Discard)
	case 1:
		gwlog.SetOutput(outputWriters[0])
	default:
		gwlog.SetOutput(io.MultiWriter(outputWriters...))
	}
}
