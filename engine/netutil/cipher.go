package netutil

import (
	"crypto/cipher"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	directionClientToServer = 0x01
	directionServerToClient = 0x02
)

var (
	// ErrDecrypt is returned when a frame fails authentication
	ErrDecrypt = errors.New("frame decryption failed")
	// ErrNonceExhausted is returned when the session counter wraps
	ErrNonceExhausted = errors.New("session nonce exhausted")
)

// SessionCipher is the symmetric cipher of one connection
//
// Nonces are a direction byte followed by a per-direction counter, so a replayed,
// dropped or reordered frame fails authentication. Seal is used by the writer and
// Open by the reader, each side may run on its own goroutine.
type SessionCipher struct {
	aead    cipher.AEAD
	sendDir byte
	recvDir byte
	sendSeq uint64
	recvSeq uint64
}

// NewSessionCipher creates the cipher for the session key
func NewSessionCipher(key []byte, isServer bool) (*SessionCipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "create session cipher")
	}
	sc := &SessionCipher{aead: aead}
	if isServer {
		sc.sendDir, sc.recvDir = directionServerToClient, directionClientToServer
	} else {
		sc.sendDir, sc.recvDir = directionClientToServer, directionServerToClient
	}
	return sc, nil
}

// Overhead returns the size added to each sealed payload
func (sc *SessionCipher) Overhead() int {
	return sc.aead.Overhead()
}

func (sc *SessionCipher) nonce(dir byte, seq uint64) []byte {
	var nonce [chacha20poly1305.NonceSize]byte
	nonce[0] = dir
	binary.LittleEndian.PutUint64(nonce[4:], seq)
	return nonce[:]
}

// Seal appends the encrypted payload to dst
func (sc *SessionCipher) Seal(dst []byte, payload []byte) ([]byte, error) {
	if sc.sendSeq == math.MaxUint64 {
		return dst, ErrNonceExhausted
	}
	dst = sc.aead.Seal(dst, sc.nonce(sc.sendDir, sc.sendSeq), payload, nil)
	sc.sendSeq += 1
	return dst, nil
}

// Open decrypts the sealed payload, appending it to dst
func (sc *SessionCipher) Open(dst []byte, sealed []byte) ([]byte, error) {
	if sc.recvSeq == math.MaxUint64 {
		return dst, ErrNonceExhausted
	}
	out, err := sc.aead.Open(dst, sc.nonce(sc.recvDir, sc.recvSeq), sealed, nil)
	if err != nil {
		return dst, ErrDecrypt
	}
	sc.recvSeq += 1
	return out, nil
}

// SendSeq returns the number of sealed payloads
func (sc *SessionCipher) SendSeq() uint64 {
	return sc.sendSeq
}

// RecvSeq returns the number of opened payloads
func (sc *SessionCipher) RecvSeq() uint64 {
	return sc.recvSeq
}
