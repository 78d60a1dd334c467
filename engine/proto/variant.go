package proto

import "fmt"

// Variant is the protocol variant bound to a listening port
type Variant uint8

const (
	// VariantLogin authenticates accounts and lists characters
	VariantLogin Variant = iota + 1
	// VariantGame carries the game session of a character
	VariantGame
	// VariantStatus answers server status queries, without handshake
	VariantStatus
)

const (
	_STATUS_MAX_FRAME_LENGTH = 1024
)

var variantRequests = map[Variant]map[MsgType]bool{
	VariantLogin: {
		MT_HANDSHAKE:     true,
		MT_LOGIN_REQUEST: true,
	},
	VariantGame: {
		MT_HANDSHAKE:  true,
		MT_ENTER_GAME: true,
		MT_PING:       true,
		MT_SAY:        true,
		MT_LOGOUT:     true,
	},
	VariantStatus: {
		MT_STATUS_REQUEST: true,
	},
}

func (v Variant) String() string {
	switch v {
	case VariantLogin:
		return "login"
	case VariantGame:
		return "game"
	case VariantStatus:
		return "status"
	}
	return fmt.Sprintf("Variant(%d)", uint8(v))
}

// Valid returns true for known variants
func (v Variant) Valid() bool {
	return v >= VariantLogin && v <= VariantStatus
}

// NeedsHandshake returns true if the first message must be the handshake, all later frames are encrypted
func (v Variant) NeedsHandshake() bool {
	return v == VariantLogin || v == VariantGame
}

// Checksum returns true if frames of the variant carry checksums
func (v Variant) Checksum() bool {
	return v != VariantStatus
}

// MaxFrameLength returns the max frame length accepted from clients, 0 for no extra limit
func (v Variant) MaxFrameLength() int {
	if v == VariantStatus {
		return _STATUS_MAX_FRAME_LENGTH
	}
	return 0
}

// Accepts returns true if clients of the variant may send messages of type mt
func (v Variant) Accepts(mt MsgType) bool {
	return variantRequests[v][mt]
}
