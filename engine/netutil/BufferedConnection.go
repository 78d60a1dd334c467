package netutil

import (
	"bufio"

	"github.com/xiaonanln/otworld/engine/consts"
)

// BufferedConnection provides buffered read and write to connections
//
// Read and Write may be used by different goroutines, but each by one goroutine only.
type BufferedConnection struct {
	Connection
	bufReader *bufio.Reader
	bufWriter *bufio.Writer
}

// NewBufferedConnection creates a new connection with buffered read and write based on underlying connection
func NewBufferedConnection(conn Connection) *BufferedConnection {
	brc := &BufferedConnection{
		Connection: conn,
	}
	brc.bufReader = bufio.NewReaderSize(conn, consts.BUFFERED_READ_BUFFSIZE)
	brc.bufWriter = bufio.NewWriterSize(conn, consts.BUFFERED_WRITE_BUFFSIZE)
	return brc
}

func (brc *BufferedConnection) Read(p []byte) (int, error) {
	return brc.bufReader.Read(p)
}

func (brc *BufferedConnection) Write(p []byte) (int, error) {
	return brc.bufWriter.Write(p)
}

// Flush writes all buffered data to the underlying connection
func (brc *BufferedConnection) Flush() error {
	err := brc.bufWriter.Flush()
	if err != nil {
		return err
	}
	return brc.Connection.Flush()
}

// Buffered returns the number of bytes waiting to be flushed
func (brc *BufferedConnection) Buffered() int {
	return brc.bufWriter.Buffered()
}
