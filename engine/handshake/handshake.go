// Package handshake implements the RSA key exchange which bootstraps the session cipher of a connection.
//
// The client encrypts a random 32-byte session key with the server public key using RSA-OAEP(SHA-1).
// The server decrypts it and both sides switch the connection to the symmetric cipher.
package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/subtle"
	"crypto/x509"
	"encoding/pem"
	"os"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/consts"
)

var (
	// ErrBadHandshake is returned for malformed or undecryptable handshake blocks
	ErrBadHandshake = errors.New("bad handshake block")

	zeroKey = make([]byte, consts.SYMMETRIC_KEY_SIZE)
)

// KeyPair is the long-lived server key pair
type KeyPair struct {
	priv *rsa.PrivateKey
}

// LoadPEM loads the RSA private key from a PEM file
func LoadPEM(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read key file")
	}
	kp, err := ParsePEM(data)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return kp, nil
}

// ParsePEM parses a PKCS#1 or PKCS#8 RSA private key in PEM format
func ParsePEM(data []byte) (*KeyPair, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}

	if priv, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return newKeyPair(priv)
	}

	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.Errorf("%T is not a RSA private key", key)
	}
	return newKeyPair(priv)
}

func newKeyPair(priv *rsa.PrivateKey) (*KeyPair, error) {
	if err := priv.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid private key")
	}
	kp := &KeyPair{priv: priv}
	if MaxPlainSize(kp.Public()) < consts.SYMMETRIC_KEY_SIZE {
		return nil, errors.Errorf("RSA key of %d bits is too small", priv.N.BitLen())
	}
	return kp, nil
}

// GenerateKeyPair generates a new RSA key pair
func GenerateKeyPair(bits int) (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, errors.Wrap(err, "generate key")
	}
	return newKeyPair(priv)
}

// WritePEM writes the private key to path as PKCS#1 PEM, and the public key to path + ".pub"
func (kp *KeyPair) WritePEM(path string) error {
	privPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(kp.priv),
	})
	if err := os.WriteFile(path, privPEM, 0600); err != nil {
		return errors.Wrap(err, "write private key")
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(kp.Public())
	if err != nil {
		return errors.Wrap(err, "marshal public key")
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	})
	return errors.Wrap(os.WriteFile(path+".pub", pubPEM, 0644), "write public key")
}

// Public returns the public key
func (kp *KeyPair) Public() *rsa.PublicKey {
	return &kp.priv.PublicKey
}

// BlockSize returns the size of handshake blocks
func (kp *KeyPair) BlockSize() int {
	return kp.priv.Size()
}

// Bits returns the key size in bits
func (kp *KeyPair) Bits() int {
	return kp.priv.N.BitLen()
}

// DecryptBlock decrypts the handshake block and returns the session key
func (kp *KeyPair) DecryptBlock(block []byte) ([]byte, error) {
	if len(block) != kp.BlockSize() {
		return nil, errors.Wrapf(ErrBadHandshake, "block size %d, expect %d", len(block), kp.BlockSize())
	}
	key, err := rsa.DecryptOAEP(sha1.New(), nil, kp.priv, block, nil)
	if err != nil {
		return nil, errors.Wrap(ErrBadHandshake, err.Error())
	}
	if len(key) != consts.SYMMETRIC_KEY_SIZE {
		return nil, errors.Wrapf(ErrBadHandshake, "session key size %d", len(key))
	}
	if subtle.ConstantTimeCompare(key, zeroKey) == 1 {
		return nil, errors.Wrap(ErrBadHandshake, "all-zero session key")
	}
	return key, nil
}

// MaxPlainSize returns the max plain text size of RSA-OAEP(SHA-1) under pub
func MaxPlainSize(pub *rsa.PublicKey) int {
	k := (pub.N.BitLen() + 7) / 8
	return k - 2*sha1.Size - 2
}

// NewSessionKey generates a random session key
func NewSessionKey() ([]byte, error) {
	key := make([]byte, consts.SYMMETRIC_KEY_SIZE)
	if _, err := rand.Read(key); err != nil {
		return nil, errors.Wrap(err, "generate session key")
	}
	return key, nil
}

// EncryptBlock creates the handshake block for the session key, used by clients
func EncryptBlock(pub *rsa.PublicKey, key []byte) ([]byte, error) {
	if len(key) != consts.SYMMETRIC_KEY_SIZE {
		return nil, errors.Errorf("session key must be %d bytes, but is %d", consts.SYMMETRIC_KEY_SIZE, len(key))
	}
	block, err := rsa.EncryptOAEP(sha1.New(), rand.Reader, pub, key, nil)
	return block, errors.Wrap(err, "encrypt handshake block")
}

// ParsePublicPEM parses a PKIX public key in PEM format, used by clients
func ParsePublicPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block found")
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse public key")
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Errorf("%T is not a RSA public key", key)
	}
	return pub, nil
}
