package netutil

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/otworld/engine/gwioutil"
	"github.com/xiaonanln/otworld/engine/gwlog"
)

type testEchoTcpServer struct {
}

func (ts *testEchoTcpServer) ServeTCPConnection(conn net.Conn) {
	defer conn.Close()
	buf := make([]byte, 1024*64)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				break
			}
		}

		if err != nil {
			if gwioutil.IsTimeoutError(err) {
				continue
			} else {
				gwlog.Debugf("read error: %s", err.Error())
				break
			}
		}
	}
}

func startEchoServer(t *testing.T, maxConns int) net.Listener {
	ln, err := ListenTCP("127.0.0.1:0", maxConns)
	if err != nil {
		t.Fatal(err)
	}
	served := make(chan error, 1)
	go func() {
		served <- ServeTCP(ln, &testEchoTcpServer{})
	}()
	t.Cleanup(func() {
		ln.Close()
		select {
		case err := <-served:
			if err != nil {
				t.Errorf("ServeTCP returns %v after close", err)
			}
		case <-time.After(5 * time.Second):
			t.Errorf("ServeTCP does not return after close")
		}
	})
	return ln
}

func TestFramesOverTCP(t *testing.T) {
	ln := startEchoServer(t, 10)
	conn, err := ConnectTCP(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	bc := NewBufferedConnection(NetConnection{conn})
	codec := NewCodec(true)
	decoder := NewDecoder(true)
	var payloads [][]byte
	for i := 1; i <= 100; i++ {
		payloads = append(payloads, bytes.Repeat([]byte{byte(i)}, i*37))
	}
	for _, p := range payloads {
		frame, err := codec.Encode(p)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := bc.Write(frame); err != nil {
			t.Fatal(err)
		}
	}
	assert.T(t, bc.Buffered() > 0)
	if err := bc.Flush(); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for _, p := range payloads {
		got, err := decoder.ReadPayload(bc)
		if err != nil {
			t.Fatal(err)
		}
		assert.T(t, bytes.Equal(p, got))
	}
}

func TestMsgPacker(t *testing.T) {
	type msg struct {
		Account string
		Level   int
	}
	data, err := MSG_PACKER.PackMsg(msg{"alice", 8}, nil)
	if err != nil {
		t.Fatal(err)
	}
	var out msg
	assert.Equal(t, nil, MSG_PACKER.UnpackMsg(data, &out))
	assert.Equal(t, msg{"alice", 8}, out)
}
