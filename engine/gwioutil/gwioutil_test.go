package gwioutil

import (
	"io"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
)

type fakeTimeout struct{}

func (fakeTimeout) Error() string   { return "fake timeout" }
func (fakeTimeout) Timeout() bool   { return true }
func (fakeTimeout) Temporary() bool { return true }

func TestIsTimeoutError(t *testing.T) {
	assert.T(t, IsTimeoutError(fakeTimeout{}))
	assert.T(t, IsTimeoutError(errors.Wrap(fakeTimeout{}, "wrapped")))
	assert.T(t, !IsTimeoutError(io.EOF))
	assert.T(t, !IsTimeoutError(nil))
}

func TestIsConnectionError(t *testing.T) {
	assert.T(t, IsConnectionError(io.EOF))
	assert.T(t, IsConnectionError(errors.Wrap(io.ErrUnexpectedEOF, "read")))
	assert.T(t, !IsConnectionError(fakeTimeout{}))
	assert.T(t, !IsConnectionError(errors.New("other")))
	assert.T(t, !IsConnectionError(nil))
}
