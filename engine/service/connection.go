package service

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/gwioutil"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/handshake"
	"github.com/xiaonanln/otworld/engine/netutil"
	"github.com/xiaonanln/otworld/engine/opmon"
	"github.com/xiaonanln/otworld/engine/proto"
)

var (
	// ErrConnectionClosed is returned when sending to a closed connection
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSendQueueFull is returned when the client does not read fast enough
	ErrSendQueueFull = errors.New("send queue full")
)

type outgoing struct {
	payload []byte
	cipher  *netutil.SessionCipher
}

// Connection is one client connection
//
// The reader goroutine decodes frames and submits requests to the dispatcher.
// The writer goroutine encodes and sends queued messages.
type Connection struct {
	id      uint64
	variant proto.Variant
	manager *Manager
	raw     net.Conn
	conn    *netutil.BufferedConnection
	codec   *netutil.Codec
	decoder *netutil.Decoder

	handshaked bool
	sendQueue  chan outgoing
	closed     xnsyncutil.AtomicBool
	closeOnce  sync.Once
	done       chan struct{}

	// Owner is set by game logic and only accessed on the dispatcher goroutine
	Owner interface{}
}

func newConnection(m *Manager, id uint64, variant proto.Variant, raw net.Conn) *Connection {
	c := &Connection{
		id:        id,
		variant:   variant,
		manager:   m,
		raw:       raw,
		conn:      netutil.NewBufferedConnection(netutil.NetConnection{Conn: raw}),
		codec:     netutil.NewCodec(variant.Checksum()),
		decoder:   netutil.NewDecoder(variant.Checksum()),
		sendQueue: make(chan outgoing, m.opts.SendQueueSize),
		done:      make(chan struct{}),
	}
	c.decoder.SetMaxFrameLength(variant.MaxFrameLength())
	return c
}

// ID returns the unique connection ID
func (c *Connection) ID() uint64 {
	return c.id
}

// Variant returns the protocol variant of the connection
func (c *Connection) Variant() proto.Variant {
	return c.variant
}

// RemoteAddr returns the client address
func (c *Connection) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

func (c *Connection) String() string {
	return fmt.Sprintf("Connection<%d:%s@%s>", c.id, c.variant, c.raw.RemoteAddr())
}

// IsClosed returns true if the connection is closed
func (c *Connection) IsClosed() bool {
	return c.closed.Load()
}

// Send queues the message to the client, never blocks
//
// A client which does not read fast enough is disconnected.
func (c *Connection) Send(msg proto.Message) error {
	if c.closed.Load() {
		return ErrConnectionClosed
	}
	payload, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	select {
	case c.sendQueue <- outgoing{payload: payload}:
		return nil
	default:
		gwlog.Warnf("%s: send queue is full, closing", c)
		c.Close()
		return ErrSendQueueFull
	}
}

// Close closes the connection, queued messages are dropped
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.raw.Close()
	})
}

func (c *Connection) serve() {
	go c.sendRoutine()
	c.recvRoutine()
}

func (c *Connection) recvRoutine() {
	defer func() {
		c.Close()
		c.manager.onConnectionClosed(c)
	}()

	for {
		timeout := c.manager.opts.ReadTimeout
		if c.variant.NeedsHandshake() && !c.handshaked {
			timeout = c.manager.opts.HandshakeTimeout
		}
		c.raw.SetReadDeadline(time.Now().Add(timeout))

		payload, err := c.decoder.ReadPayload(c.conn)
		if err != nil {
			c.logRecvError(err)
			return
		}
		if consts.DEBUG_PACKETS {
			gwlog.Debugf("%s: recv payload (%d) %s", c, len(payload), proto.PeekMsgType(payload))
		}

		if c.variant.NeedsHandshake() && !c.handshaked {
			if err := c.handleHandshake(payload); err != nil {
				gwlog.Warnf("%s: handshake failed: %s", c, err)
				opmon.Count("service.bad_handshake")
				return
			}
			continue
		}

		msg, err := proto.DecodeRequest(c.variant, payload)
		if err == nil && msg.MsgType() == proto.MT_HANDSHAKE {
			err = errors.Wrap(proto.ErrUnexpectedMsgType, "second handshake")
		}
		if err != nil {
			gwlog.Warnf("%s: protocol error: %s", c, err)
			opmon.Count("service.protocol_error")
			return
		}
		c.manager.dispatcher.Submit(dispatcher.NewRequest(c, msg))
	}
}

func (c *Connection) logRecvError(err error) {
	if c.closed.Load() || gwioutil.IsConnectionError(err) {
		if consts.DEBUG_CLIENTS {
			gwlog.Debugf("%s: disconnected: %s", c, err)
		}
	} else if gwioutil.IsTimeoutError(err) {
		gwlog.Infof("%s: read timeout", c)
		opmon.Count("service.timeout")
	} else {
		gwlog.Warnf("%s: framing error: %s", c, err)
		opmon.Count("service.protocol_error")
	}
}

// handleHandshake decrypts the session key and switches both directions to the session cipher
func (c *Connection) handleHandshake(payload []byte) error {
	msg, err := proto.DecodeRequest(c.variant, payload)
	if err != nil {
		return err
	}
	hs, ok := msg.(*proto.Handshake)
	if !ok {
		return errors.Wrapf(handshake.ErrBadHandshake, "expect handshake, but got %s", msg.MsgType())
	}
	key, err := c.manager.opts.KeyPair.DecryptBlock(hs.Block)
	if err != nil {
		return err
	}
	recvCipher, err := netutil.NewSessionCipher(key, true)
	if err != nil {
		return err
	}
	sendCipher, err := netutil.NewSessionCipher(key, true)
	if err != nil {
		return err
	}

	c.decoder.SetCipher(recvCipher)
	// nothing is queued before the handshake, so the writer switches before any reply
	c.sendQueue <- outgoing{cipher: sendCipher}
	c.handshaked = true
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: handshake ok", c)
	}
	return nil
}

func (c *Connection) sendRoutine() {
	var frame []byte
	for {
		select {
		case out := <-c.sendQueue:
			if out.cipher != nil {
				c.codec.SetCipher(out.cipher)
				continue
			}

			var err error
			frame, err = c.codec.AppendFrame(frame[:0], out.payload)
			if err == nil {
				_, err = c.conn.Write(frame)
			}
			if err == nil && len(c.sendQueue) == 0 {
				err = c.conn.Flush()
			}
			if err != nil {
				if !c.closed.Load() && !gwioutil.IsConnectionError(err) {
					gwlog.Errorf("%s: send failed: %s", c, err)
				}
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
