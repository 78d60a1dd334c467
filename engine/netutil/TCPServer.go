package netutil

import (
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/gwioutil"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xtaci/kcp-go"
	"golang.org/x/net/netutil"
)

const (
	_ACCEPT_RETRY_DELAY = 50 * time.Millisecond
)

// TCPServerDelegate is the implementations that a TCP server should provide
type TCPServerDelegate interface {
	ServeTCPConnection(net.Conn)
}

// ListenTCP listens on listenAddr, accepting at most maxConns connections at the same time if maxConns > 0
func ListenTCP(listenAddr string, maxConns int) (net.Listener, error) {
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return nil, errors.Wrapf(err, "listen %s", listenAddr)
	}
	gwlog.Infof("Listening on TCP: %s ...", ln.Addr())
	if maxConns > 0 {
		ln = netutil.LimitListener(ln, maxConns)
	}
	return ln, nil
}

// ServeTCP accepts connections from ln until ln is closed
//
// It returns nil when the listener is closed, and the accept error otherwise.
func ServeTCP(ln net.Listener, delegate TCPServerDelegate) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			if gwioutil.IsTimeoutError(err) {
				time.Sleep(_ACCEPT_RETRY_DELAY)
				continue
			}
			return err
		}

		if consts.DEBUG_CLIENTS {
			gwlog.Debugf("Connection from: %s", conn.RemoteAddr())
		}
		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetNoDelay(consts.CLIENT_SET_TCP_NO_DELAY)
		}
		go delegate.ServeTCPConnection(conn)
	}
}

// ListenKCP listens on listenAddr with KCP over UDP
func ListenKCP(listenAddr string) (*kcp.Listener, error) {
	ln, err := kcp.ListenWithOptions(listenAddr, nil, 10, 3)
	if err != nil {
		return nil, errors.Wrapf(err, "listen kcp %s", listenAddr)
	}
	gwlog.Infof("Listening on KCP: %s ...", ln.Addr())
	return ln, nil
}

// ServeKCP accepts KCP sessions from ln until ln is closed
func ServeKCP(ln *kcp.Listener, delegate TCPServerDelegate) error {
	for {
		conn, err := ln.AcceptKCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}

		// turn on turbo mode according to https://github.com/skywind3000/kcp/blob/master/README.en.md#protocol-configuration
		conn.SetStreamMode(true)
		conn.SetWriteDelay(false)
		conn.SetNoDelay(1, 10, 2, 1)
		go delegate.ServeTCPConnection(conn)
	}
}
