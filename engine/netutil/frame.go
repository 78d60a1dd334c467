package netutil

import (
	"encoding/binary"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/consts"
)

// Frame wire format:
//
//	[uint16 LE length][uint32 LE checksum, optional][body]
//
// length counts the checksum and the body. The checksum is the low 32 bits of the
// xxhash64 of the body. The body is the payload, sealed by the session cipher once set.

var (
	// ErrNeedMore is returned by Decoder.Next when the buffered data is not a complete frame
	ErrNeedMore = errors.New("need more data")
	// ErrFrameTooLarge is returned for frames longer than the max frame length
	ErrFrameTooLarge = errors.New("frame too large")
	// ErrBadFrameLength is returned for frames shorter than the minimum
	ErrBadFrameLength = errors.New("bad frame length")
	// ErrChecksumMismatch is returned when the frame checksum does not match the body
	ErrChecksumMismatch = errors.New("frame checksum mismatch")
	// ErrEmptyPayload is returned for empty payloads
	ErrEmptyPayload = errors.New("empty payload")
)

func checksum(body []byte) uint32 {
	return uint32(xxhash.Sum64(body))
}

// Codec encodes payloads to frames
//
// A Codec is used by the writer of a connection only.
type Codec struct {
	checksum bool
	cipher   *SessionCipher
}

// NewCodec creates a frame encoder
func NewCodec(checksum bool) *Codec {
	return &Codec{checksum: checksum}
}

// SetCipher seals all subsequent payloads with the session cipher
func (c *Codec) SetCipher(sc *SessionCipher) {
	c.cipher = sc
}

// Encrypted returns true if the session cipher is set
func (c *Codec) Encrypted() bool {
	return c.cipher != nil
}

// Encode encodes payload into a new frame
func (c *Codec) Encode(payload []byte) ([]byte, error) {
	return c.AppendFrame(nil, payload)
}

// AppendFrame appends the frame of payload to dst
func (c *Codec) AppendFrame(dst []byte, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return dst, ErrEmptyPayload
	}
	if len(payload) > consts.MAX_PAYLOAD_LENGTH {
		return dst, errors.Wrapf(ErrFrameTooLarge, "payload size %d", len(payload))
	}

	headerSize := consts.FRAME_LENGTH_SIZE
	if c.checksum {
		headerSize += consts.FRAME_CHECKSUM_SIZE
	}
	start := len(dst)
	dst = append(dst, make([]byte, headerSize)...)
	bodyStart := len(dst)
	if c.cipher != nil {
		var err error
		if dst, err = c.cipher.Seal(dst, payload); err != nil {
			return dst[:start], err
		}
	} else {
		dst = append(dst, payload...)
	}

	body := dst[bodyStart:]
	length := len(dst) - start - consts.FRAME_LENGTH_SIZE
	binary.LittleEndian.PutUint16(dst[start:], uint16(length))
	if c.checksum {
		binary.LittleEndian.PutUint32(dst[start+consts.FRAME_LENGTH_SIZE:], checksum(body))
	}
	return dst, nil
}

// Decoder decodes frames from a byte stream incrementally
//
// Any framing violation is sticky: the decoder refuses further input and the
// connection must be closed. A Decoder is used by the reader of a connection only.
type Decoder struct {
	checksum    bool
	cipher      *SessionCipher
	maxFrameLen int
	buf         []byte
	off         int
	err         error
	scratch     []byte
}

// NewDecoder creates a frame decoder
func NewDecoder(checksum bool) *Decoder {
	return &Decoder{
		checksum:    checksum,
		maxFrameLen: consts.MAX_FRAME_BODY_LENGTH,
	}
}

// SetCipher opens all subsequent frames with the session cipher
func (d *Decoder) SetCipher(sc *SessionCipher) {
	d.cipher = sc
}

// SetMaxFrameLength limits the length field of incoming frames
func (d *Decoder) SetMaxFrameLength(n int) {
	if n <= 0 || n > consts.MAX_FRAME_BODY_LENGTH {
		n = consts.MAX_FRAME_BODY_LENGTH
	}
	d.maxFrameLen = n
}

// Err returns the framing error, if any
func (d *Decoder) Err() error {
	return d.err
}

// Buffered returns the number of bytes fed but not decoded yet
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

func (d *Decoder) fail(err error) error {
	d.err = err
	d.buf = nil
	d.off = 0
	return err
}

// Feed appends stream data to the decoder
func (d *Decoder) Feed(p []byte) error {
	if d.err != nil {
		return d.err
	}
	if d.off > 0 && d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	} else if d.off > 0 && d.off >= cap(d.buf)/2 {
		n := copy(d.buf, d.buf[d.off:])
		d.buf = d.buf[:n]
		d.off = 0
	}
	d.buf = append(d.buf, p...)
	return nil
}

// Next returns the next complete payload, or ErrNeedMore
func (d *Decoder) Next() ([]byte, error) {
	if d.err != nil {
		return nil, d.err
	}

	data := d.buf[d.off:]
	if len(data) < consts.FRAME_LENGTH_SIZE {
		return nil, ErrNeedMore
	}
	length := int(binary.LittleEndian.Uint16(data))
	minLength := 1
	if d.checksum {
		minLength += consts.FRAME_CHECKSUM_SIZE
	}
	if d.cipher != nil {
		minLength += d.cipher.Overhead()
	}
	if length < minLength {
		return nil, d.fail(errors.Wrapf(ErrBadFrameLength, "length %d", length))
	}
	if length > d.maxFrameLen {
		return nil, d.fail(errors.Wrapf(ErrFrameTooLarge, "length %d", length))
	}
	if len(data) < consts.FRAME_LENGTH_SIZE+length {
		return nil, ErrNeedMore
	}

	body := data[consts.FRAME_LENGTH_SIZE : consts.FRAME_LENGTH_SIZE+length]
	if d.checksum {
		expected := binary.LittleEndian.Uint32(body)
		body = body[consts.FRAME_CHECKSUM_SIZE:]
		if checksum(body) != expected {
			return nil, d.fail(ErrChecksumMismatch)
		}
	}

	var payload []byte
	if d.cipher != nil {
		var err error
		if payload, err = d.cipher.Open(nil, body); err != nil {
			return nil, d.fail(err)
		}
		if len(payload) == 0 {
			return nil, d.fail(ErrEmptyPayload)
		}
	} else {
		payload = append([]byte(nil), body...)
	}
	d.off += consts.FRAME_LENGTH_SIZE + length
	return payload, nil
}

// ReadPayload returns the next payload, reading from r as needed
func (d *Decoder) ReadPayload(r io.Reader) ([]byte, error) {
	if d.scratch == nil {
		d.scratch = make([]byte, consts.BUFFERED_READ_BUFFSIZE)
	}
	for {
		payload, err := d.Next()
		if err != ErrNeedMore {
			return payload, err
		}
		n, err := r.Read(d.scratch)
		if n > 0 {
			d.Feed(d.scratch[:n])
		}
		if err != nil {
			if n > 0 {
				continue // decode what was read before reporting err
			}
			return nil, err
		}
	}
}
