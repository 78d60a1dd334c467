package proto

import "time"

// Handshake carries the session key encrypted with the server public key
type Handshake struct {
	Block []byte `msgpack:"block"`
}

// ErrorResponse reports a failed request
type ErrorResponse struct {
	Request MsgType `msgpack:"req"`
	Code    int     `msgpack:"code"`
	Message string  `msgpack:"msg"`
}

// Error codes of ErrorResponse
const (
	ERR_INTERNAL = iota + 1
	ERR_WRONG_PASSWORD
	ERR_NO_SUCH_ACCOUNT
	ERR_NO_SUCH_CHARACTER
	ERR_ALREADY_ONLINE
	ERR_NOT_IN_GAME
	ERR_SERVER_NOT_READY
	ERR_STORAGE_UNAVAILABLE
)

// LoginRequest logs in with account and password
type LoginRequest struct {
	Account  string `msgpack:"account"`
	Password string `msgpack:"password"`
}

// LoginResponse returns the characters of the account
type LoginResponse struct {
	Characters []string `msgpack:"chars"`
	MOTD       string   `msgpack:"motd"`
}

// EnterGame enters the world with a character of the account
type EnterGame struct {
	Account   string `msgpack:"account"`
	Password  string `msgpack:"password"`
	Character string `msgpack:"char"`
}

// EnterGameAck is sent when the character is in the world
type EnterGameAck struct {
	Character string `msgpack:"char"`
	Level     int    `msgpack:"level"`
	Online    int    `msgpack:"online"`
}

// Ping checks the connection
type Ping struct {
	Seq uint32 `msgpack:"seq"`
}

// Pong answers Ping
type Pong struct {
	Seq uint32 `msgpack:"seq"`
}

// Say talks to all online players
type Say struct {
	Text string `msgpack:"text"`
}

// Chat is a message said by a player
type Chat struct {
	From string `msgpack:"from"`
	Text string `msgpack:"text"`
}

// Logout leaves the world
type Logout struct{}

// LogoutAck is sent after the character is saved
type LogoutAck struct{}

// StatusRequest queries the server status
type StatusRequest struct{}

// StatusResponse returns the server status
type StatusResponse struct {
	Name     string        `msgpack:"name"`
	Online   int           `msgpack:"online"`
	Uptime   time.Duration `msgpack:"uptime"`
	RSSBytes uint64        `msgpack:"rss"`
	MOTD     string        `msgpack:"motd"`
}

func (*Handshake) MsgType() MsgType      { return MT_HANDSHAKE }
func (*ErrorResponse) MsgType() MsgType  { return MT_ERROR_RESPONSE }
func (*LoginRequest) MsgType() MsgType   { return MT_LOGIN_REQUEST }
func (*LoginResponse) MsgType() MsgType  { return MT_LOGIN_RESPONSE }
func (*EnterGame) MsgType() MsgType      { return MT_ENTER_GAME }
func (*EnterGameAck) MsgType() MsgType   { return MT_ENTER_GAME_ACK }
func (*Ping) MsgType() MsgType           { return MT_PING }
func (*Pong) MsgType() MsgType           { return MT_PONG }
func (*Say) MsgType() MsgType            { return MT_SAY }
func (*Chat) MsgType() MsgType           { return MT_CHAT }
func (*Logout) MsgType() MsgType         { return MT_LOGOUT }
func (*LogoutAck) MsgType() MsgType      { return MT_LOGOUT_ACK }
func (*StatusRequest) MsgType() MsgType  { return MT_STATUS_REQUEST }
func (*StatusResponse) MsgType() MsgType { return MT_STATUS_RESPONSE }
