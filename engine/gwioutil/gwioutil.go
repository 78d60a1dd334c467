package gwioutil

import (
	"io"
	"net"

	"github.com/pkg/errors"
)

type timeoutError interface {
	Timeout() bool // Is it a timeout error
}

// IsTimeoutError checks if the error is a timeout error
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}

	err = errors.Cause(err)
	ne, ok := err.(timeoutError)
	return ok && ne.Timeout()
}

// IsConnectionError check if the error is a connection error (close)
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	err = errors.Cause(err)
	if err == io.EOF || err == io.ErrUnexpectedEOF || errors.Is(err, net.ErrClosed) {
		return true
	}

	neterr, ok := err.(net.Error)
	if !ok {
		return false
	}
	return !neterr.Timeout()
}
