package game

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/dbtasks"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/opmon"
	"github.com/xiaonanln/otworld/engine/proto"
	"github.com/xiaonanln/otworld/engine/storage"
)

// HandleRequest handles a decoded client request, it is the request handler of the dispatcher
func (w *World) HandleRequest(req *dispatcher.Request) {
	conn, ok := req.Conn.(Conn)
	if !ok {
		gwlog.Errorf("%s: connection %s can not reply", w, req.Conn)
		return
	}
	msg, ok := req.Msg.(proto.Message)
	if !ok {
		gwlog.Errorf("%s: %s sent unknown request %T", w, conn, req.Msg)
		return
	}

	opmon.Count("game.request." + msg.MsgType().String())
	switch msg := msg.(type) {
	case *proto.LoginRequest:
		w.handleLogin(conn, msg)
	case *proto.EnterGame:
		w.handleEnterGame(conn, msg)
	case *proto.Ping:
		conn.Send(&proto.Pong{Seq: msg.Seq})
	case *proto.Say:
		w.handleSay(conn, msg)
	case *proto.Logout:
		w.handleLogout(conn)
	case *proto.StatusRequest:
		w.handleStatus(conn)
	default:
		gwlog.Warnf("%s: %s sent unexpected request %s", w, conn, msg.MsgType())
		conn.Close()
	}
}

func replyError(conn Conn, req proto.MsgType, code int, message string) {
	conn.Send(&proto.ErrorResponse{Request: req, Code: code, Message: message})
}

// errorCode maps a failed database job to the error code sent to the client
func errorCode(err error) (int, string) {
	switch errors.Cause(err) {
	case ErrNoSuchAccount:
		return proto.ERR_NO_SUCH_ACCOUNT, "no such account"
	case ErrWrongPassword:
		return proto.ERR_WRONG_PASSWORD, "wrong password"
	case ErrNoSuchCharacter:
		return proto.ERR_NO_SUCH_CHARACTER, "no such character"
	case ErrInvalidName:
		return proto.ERR_NO_SUCH_ACCOUNT, "invalid name"
	}
	var jobErr *dbtasks.Error
	if errors.As(err, &jobErr) && jobErr.Transient {
		return proto.ERR_STORAGE_UNAVAILABLE, "storage unavailable, try again later"
	}
	return proto.ERR_INTERNAL, "internal error"
}

func (w *World) checkReady(conn Conn, req proto.MsgType) bool {
	if w.State() != StateNormal {
		replyError(conn, req, proto.ERR_SERVER_NOT_READY, "server is "+w.State().String())
		return false
	}
	return true
}

func (w *World) submitJob(conn Conn, req proto.MsgType, job dbtasks.Job) bool {
	if err := w.dbtasks.Submit(job); err != nil {
		gwlog.Errorf("%s: submit %s for %s failed: %s", w, job.Name, conn, err)
		replyError(conn, req, proto.ERR_SERVER_NOT_READY, "server is shutting down")
		return false
	}
	return true
}

func (w *World) handleLogin(conn Conn, req *proto.LoginRequest) {
	if !w.checkReady(conn, proto.MT_LOGIN_REQUEST) {
		return
	}
	name, password := req.Account, req.Password
	w.submitJob(conn, proto.MT_LOGIN_REQUEST, dbtasks.Job{
		Name: "login",
		Key:  accountKey(name),
		Routine: func(_ context.Context, engine storage.Engine) (interface{}, error) {
			if err := validateName(name); err != nil {
				return nil, err
			}
			return w.accounts.Authenticate(engine, name, password)
		},
		Callback: func(res interface{}, err error) {
			if err != nil {
				code, message := errorCode(err)
				replyError(conn, proto.MT_LOGIN_REQUEST, code, message)
				return
			}
			account := res.(*Account)
			gwlog.Infof("%s: account %s logged in from %s", w, account.Name, conn)
			conn.Send(&proto.LoginResponse{Characters: account.Characters, MOTD: w.opts.MOTD})
		},
	})
}

func (w *World) handleEnterGame(conn Conn, req *proto.EnterGame) {
	if !w.checkReady(conn, proto.MT_ENTER_GAME) {
		return
	}
	char := req.Character
	if w.playersByConn[conn.ID()] != nil || w.entering[conn.ID()] != "" {
		replyError(conn, proto.MT_ENTER_GAME, proto.ERR_ALREADY_ONLINE, "already in game")
		return
	}
	if w.players[char] != nil || w.isEntering(char) {
		replyError(conn, proto.MT_ENTER_GAME, proto.ERR_ALREADY_ONLINE, char+" is already online")
		return
	}

	w.entering[conn.ID()] = char
	name, password := req.Account, req.Password
	submitted := w.submitJob(conn, proto.MT_ENTER_GAME, dbtasks.Job{
		Name: "enter_game",
		Key:  playerKey(char),
		Routine: func(_ context.Context, engine storage.Engine) (interface{}, error) {
			if err := validateName(name); err != nil {
				return nil, err
			}
			account, err := w.accounts.Authenticate(engine, name, password)
			if err != nil {
				return nil, err
			}
			if !account.HasCharacter(char) {
				return nil, errors.Wrapf(ErrNoSuchCharacter, "%s has no character %s", name, char)
			}
			return w.accounts.LoadPlayer(engine, char)
		},
		Callback: func(res interface{}, err error) {
			if w.entering[conn.ID()] != char {
				// disconnected while loading
				return
			}
			delete(w.entering, conn.ID())
			if err != nil {
				code, message := errorCode(err)
				replyError(conn, proto.MT_ENTER_GAME, code, message)
				return
			}
			if w.State() != StateNormal {
				replyError(conn, proto.MT_ENTER_GAME, proto.ERR_SERVER_NOT_READY, "server is "+w.State().String())
				return
			}
			p := w.addPlayer(res.(*Player), conn)
			conn.Send(&proto.EnterGameAck{Character: p.Name, Level: p.Level, Online: len(w.players)})
		},
	})
	if !submitted {
		delete(w.entering, conn.ID())
	}
}

func (w *World) isEntering(char string) bool {
	for _, c := range w.entering {
		if c == char {
			return true
		}
	}
	return false
}

func (w *World) handleSay(conn Conn, req *proto.Say) {
	p := w.playersByConn[conn.ID()]
	if p == nil {
		replyError(conn, proto.MT_SAY, proto.ERR_NOT_IN_GAME, "not in game")
		return
	}
	chat := &proto.Chat{From: p.Name, Text: req.Text}
	for _, other := range w.players {
		other.conn.Send(chat)
	}
}

func (w *World) handleLogout(conn Conn) {
	p := w.playersByConn[conn.ID()]
	if p == nil {
		replyError(conn, proto.MT_LOGOUT, proto.ERR_NOT_IN_GAME, "not in game")
		return
	}
	w.removePlayer(p)
	w.savePlayer(p, func(err error) {
		if err != nil {
			replyError(conn, proto.MT_LOGOUT, proto.ERR_STORAGE_UNAVAILABLE, "save failed")
			return
		}
		conn.Send(&proto.LogoutAck{})
	})
}

func (w *World) handleStatus(conn Conn) {
	conn.Send(&proto.StatusResponse{
		Name:     w.opts.Name,
		Online:   len(w.players),
		Uptime:   time.Since(w.startTime),
		RSSBytes: w.rss,
		MOTD:     w.opts.MOTD,
	})
}
