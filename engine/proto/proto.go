// Package proto defines the protocol variants and their message vocabulary.
//
// A payload is a uint16 LE message type followed by the message in MessagePack format.
package proto

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/netutil"
)

// MsgType is the type of message types
type MsgType uint16

const (
	// MT_INVALID is the invalid message type
	MT_INVALID MsgType = iota
	// MT_HANDSHAKE carries the RSA encrypted session key, the first message of login and game connections
	MT_HANDSHAKE
	// MT_ERROR_RESPONSE reports a failed request to the client
	MT_ERROR_RESPONSE

	// MT_LOGIN_REQUEST is sent by clients to log in with account and password
	MT_LOGIN_REQUEST
	// MT_LOGIN_RESPONSE returns the character list of the account
	MT_LOGIN_RESPONSE

	// MT_ENTER_GAME is sent by clients to enter the world with a character
	MT_ENTER_GAME
	// MT_ENTER_GAME_ACK is sent when the character is in the world
	MT_ENTER_GAME_ACK
	// MT_PING is sent by clients to check the connection
	MT_PING
	// MT_PONG answers MT_PING
	MT_PONG
	// MT_SAY is sent by clients to talk to all online players
	MT_SAY
	// MT_CHAT is a message said by a player
	MT_CHAT
	// MT_LOGOUT is sent by clients to leave the world
	MT_LOGOUT
	// MT_LOGOUT_ACK is sent after the character is saved
	MT_LOGOUT_ACK

	// MT_STATUS_REQUEST queries the server status
	MT_STATUS_REQUEST
	// MT_STATUS_RESPONSE returns the server status
	MT_STATUS_RESPONSE

	_MT_END
)

var msgTypeNames = map[MsgType]string{
	MT_INVALID:         "MT_INVALID",
	MT_HANDSHAKE:       "MT_HANDSHAKE",
	MT_ERROR_RESPONSE:  "MT_ERROR_RESPONSE",
	MT_LOGIN_REQUEST:   "MT_LOGIN_REQUEST",
	MT_LOGIN_RESPONSE:  "MT_LOGIN_RESPONSE",
	MT_ENTER_GAME:      "MT_ENTER_GAME",
	MT_ENTER_GAME_ACK:  "MT_ENTER_GAME_ACK",
	MT_PING:            "MT_PING",
	MT_PONG:            "MT_PONG",
	MT_SAY:             "MT_SAY",
	MT_CHAT:            "MT_CHAT",
	MT_LOGOUT:          "MT_LOGOUT",
	MT_LOGOUT_ACK:      "MT_LOGOUT_ACK",
	MT_STATUS_REQUEST:  "MT_STATUS_REQUEST",
	MT_STATUS_RESPONSE: "MT_STATUS_RESPONSE",
}

func (mt MsgType) String() string {
	if name, ok := msgTypeNames[mt]; ok {
		return name
	}
	return fmt.Sprintf("MsgType(%d)", uint16(mt))
}

const msgTypeSize = 2

var (
	// ErrUnknownMsgType is returned when decoding payloads of unknown message types
	ErrUnknownMsgType = errors.New("unknown message type")
	// ErrUnexpectedMsgType is returned when a client sends a message not accepted by the protocol variant
	ErrUnexpectedMsgType = errors.New("unexpected message type")
	// ErrMalformedMsg is returned when the message body can not be decoded
	ErrMalformedMsg = errors.New("malformed message")
)

// Message is implemented by all protocol messages
type Message interface {
	MsgType() MsgType
}

var newMessage = map[MsgType]func() Message{
	MT_HANDSHAKE:       func() Message { return &Handshake{} },
	MT_ERROR_RESPONSE:  func() Message { return &ErrorResponse{} },
	MT_LOGIN_REQUEST:   func() Message { return &LoginRequest{} },
	MT_LOGIN_RESPONSE:  func() Message { return &LoginResponse{} },
	MT_ENTER_GAME:      func() Message { return &EnterGame{} },
	MT_ENTER_GAME_ACK:  func() Message { return &EnterGameAck{} },
	MT_PING:            func() Message { return &Ping{} },
	MT_PONG:            func() Message { return &Pong{} },
	MT_SAY:             func() Message { return &Say{} },
	MT_CHAT:            func() Message { return &Chat{} },
	MT_LOGOUT:          func() Message { return &Logout{} },
	MT_LOGOUT_ACK:      func() Message { return &LogoutAck{} },
	MT_STATUS_REQUEST:  func() Message { return &StatusRequest{} },
	MT_STATUS_RESPONSE: func() Message { return &StatusResponse{} },
}

// Encode encodes the message to a payload
func Encode(msg Message) ([]byte, error) {
	buf := make([]byte, msgTypeSize, 64)
	binary.LittleEndian.PutUint16(buf, uint16(msg.MsgType()))
	buf, err := netutil.MSG_PACKER.PackMsg(msg, buf)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", msg.MsgType())
	}
	return buf, nil
}

// PeekMsgType returns the message type of the payload
func PeekMsgType(payload []byte) MsgType {
	if len(payload) < msgTypeSize {
		return MT_INVALID
	}
	return MsgType(binary.LittleEndian.Uint16(payload))
}

// Decode decodes the payload to a message of any type
func Decode(payload []byte) (Message, error) {
	mt := PeekMsgType(payload)
	ctor := newMessage[mt]
	if ctor == nil {
		return nil, errors.Wrapf(ErrUnknownMsgType, "%s", mt)
	}
	msg := ctor()
	if err := netutil.MSG_PACKER.UnpackMsg(payload[msgTypeSize:], msg); err != nil {
		return nil, errors.Wrapf(ErrMalformedMsg, "%s: %s", mt, err)
	}
	return msg, nil
}

// DecodeRequest decodes a payload sent by a client of the variant
func DecodeRequest(v Variant, payload []byte) (Message, error) {
	mt := PeekMsgType(payload)
	if !v.Accepts(mt) {
		if newMessage[mt] == nil {
			return nil, errors.Wrapf(ErrUnknownMsgType, "%s", mt)
		}
		return nil, errors.Wrapf(ErrUnexpectedMsgType, "%s on %s", mt, v)
	}
	return Decode(payload)
}
