package service

import (
	"crypto/rsa"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/handshake"
	"github.com/xiaonanln/otworld/engine/netutil"
	"github.com/xiaonanln/otworld/engine/proto"
)

// Client is a blocking client of one protocol variant, used by tools and tests
type Client struct {
	variant proto.Variant
	conn    net.Conn
	codec   *netutil.Codec
	decoder *netutil.Decoder
	Timeout time.Duration
}

// Dial connects to addr and performs the handshake if the variant requires one
func Dial(addr string, variant proto.Variant, pub *rsa.PublicKey) (*Client, error) {
	conn, err := netutil.ConnectTCP(addr)
	if err != nil {
		return nil, err
	}
	client := &Client{
		variant: variant,
		conn:    conn,
		codec:   netutil.NewCodec(variant.Checksum()),
		decoder: netutil.NewDecoder(variant.Checksum()),
		Timeout: 10 * time.Second,
	}
	if variant.NeedsHandshake() {
		if err := client.handshake(pub); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return client, nil
}

func (client *Client) handshake(pub *rsa.PublicKey) error {
	if pub == nil {
		return errors.Errorf("%s protocol requires the server public key", client.variant)
	}
	key, err := handshake.NewSessionKey()
	if err != nil {
		return err
	}
	block, err := handshake.EncryptBlock(pub, key)
	if err != nil {
		return err
	}
	if err := client.Send(&proto.Handshake{Block: block}); err != nil {
		return err
	}
	sendCipher, err := netutil.NewSessionCipher(key, false)
	if err != nil {
		return err
	}
	recvCipher, err := netutil.NewSessionCipher(key, false)
	if err != nil {
		return err
	}
	client.codec.SetCipher(sendCipher)
	client.decoder.SetCipher(recvCipher)
	return nil
}

// SendRaw sends one frame carrying payload
func (client *Client) SendRaw(payload []byte) error {
	frame, err := client.codec.Encode(payload)
	if err != nil {
		return err
	}
	client.conn.SetWriteDeadline(time.Now().Add(client.Timeout))
	_, err = client.conn.Write(frame)
	return errors.Wrap(err, "send")
}

// Send sends the message
func (client *Client) Send(msg proto.Message) error {
	payload, err := proto.Encode(msg)
	if err != nil {
		return err
	}
	return client.SendRaw(payload)
}

// Recv waits for the next message from the server
func (client *Client) Recv() (proto.Message, error) {
	client.conn.SetReadDeadline(time.Now().Add(client.Timeout))
	payload, err := client.decoder.ReadPayload(client.conn)
	if err != nil {
		return nil, err
	}
	return proto.Decode(payload)
}

// Call sends the request and waits for the reply
func (client *Client) Call(msg proto.Message) (proto.Message, error) {
	if err := client.Send(msg); err != nil {
		return nil, err
	}
	return client.Recv()
}

// Conn returns the underlying connection
func (client *Client) Conn() net.Conn {
	return client.conn
}

// Close closes the client
func (client *Client) Close() error {
	return client.conn.Close()
}
