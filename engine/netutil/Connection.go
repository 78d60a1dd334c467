package netutil

import (
	"net"
)

// Connection is a network connection which may buffer writes until Flush
type Connection interface {
	net.Conn
	Flush() error
}

// NetConnection converts net.Conn to Connection
type NetConnection struct {
	net.Conn
}

// Flush does nothing since net.Conn writes are unbuffered
func (n NetConnection) Flush() error {
	return nil
}

func (n NetConnection) String() string {
	return n.Conn.RemoteAddr().String()
}
