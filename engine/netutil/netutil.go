// Package netutil implements frame encoding and decoding, the session cipher and the listeners of client connections.
package netutil

import (
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/consts"
)

// ConnectTCP connects to addr in TCP
func ConnectTCP(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(consts.CLIENT_SET_TCP_NO_DELAY)
	}
	return conn, nil
}
