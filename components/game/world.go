// Package game holds the world state and the handlers of client requests.
//
// Everything in this package except the AccountStore runs on the dispatcher goroutine.
package game

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/dbtasks"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/opmon"
	"github.com/xiaonanln/otworld/engine/proto"
	"github.com/xiaonanln/otworld/engine/scheduler"
	"github.com/xiaonanln/otworld/engine/storage"
)

// Conn is the client connection seen by game logic
type Conn interface {
	ID() uint64
	String() string
	Send(msg proto.Message) error
	Close()
}

// Options of the world
type Options struct {
	Name                  string
	MOTD                  string
	SaveInterval          time.Duration
	StatusRefreshInterval time.Duration
}

type onlinePlayer struct {
	*Player
	conn Conn
	// start of the play time not saved yet
	since time.Time
}

// World is the game world
type World struct {
	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	dbtasks    *dbtasks.Queue
	accounts   *AccountStore
	opts       Options

	state     int32
	startTime time.Time
	rss       uint64

	players       map[string]*onlinePlayer
	playersByConn map[uint64]*onlinePlayer
	// connections waiting for the enter game job, by character
	entering map[uint64]string

	saveTimer   scheduler.EventID
	statusTimer scheduler.EventID
}

// NewWorld creates the world
func NewWorld(d *dispatcher.Dispatcher, s *scheduler.Scheduler, q *dbtasks.Queue, accounts *AccountStore, opts Options) *World {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = consts.WORLD_SAVE_INTERVAL
	}
	if opts.StatusRefreshInterval <= 0 {
		opts.StatusRefreshInterval = consts.STATUS_REFRESH_INTERVAL
	}
	return &World{
		dispatcher:    d,
		scheduler:     s,
		dbtasks:       q,
		accounts:      accounts,
		opts:          opts,
		startTime:     time.Now(),
		players:       map[string]*onlinePlayer{},
		playersByConn: map[uint64]*onlinePlayer{},
		entering:      map[uint64]string{},
	}
}

// SetDBTasks sets the database task queue once storage is open
func (w *World) SetDBTasks(q *dbtasks.Queue) {
	w.dbtasks = q
}

func (w *World) String() string {
	return fmt.Sprintf("World<%s>", w.opts.Name)
}

// State returns the world state, safe to call from any goroutine
func (w *World) State() State {
	return State(atomic.LoadInt32(&w.state))
}

// SetState changes the world state
func (w *World) SetState(state State) {
	old := State(atomic.SwapInt32(&w.state, int32(state)))
	if old != state {
		gwlog.Infof("%s: state %s -> %s", w, old, state)
	}
}

// Start arms the periodic save and status refresh
func (w *World) Start() {
	w.saveTimer = w.scheduler.ScheduleRepeat(w.opts.SaveInterval, w.opts.SaveInterval, w.SaveAll)
	w.statusTimer = w.scheduler.ScheduleRepeat(0, w.opts.StatusRefreshInterval, w.RefreshStatus)
}

// OnlineCount returns the number of players in the world
func (w *World) OnlineCount() int {
	return len(w.players)
}

// OnlinePlayers returns the sorted names of players in the world
func (w *World) OnlinePlayers() []string {
	names := make([]string, 0, len(w.players))
	for name := range w.players {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SaveAll saves all online players
func (w *World) SaveAll() {
	if len(w.players) == 0 {
		return
	}
	gwlog.Infof("%s: saving %d players ...", w, len(w.players))
	for _, p := range w.players {
		w.savePlayer(p, nil)
	}
}

// savePlayer submits the save job of the player, callback runs after the record is written
func (w *World) savePlayer(p *onlinePlayer, callback func(err error)) {
	now := time.Now()
	p.PlayTime += now.Sub(p.since)
	p.since = now
	p.LastSave = now
	record := *p.Player

	err := w.dbtasks.Submit(dbtasks.Job{
		Name: "save_player",
		Key:  playerKey(record.Name),
		Routine: func(_ context.Context, engine storage.Engine) (interface{}, error) {
			return nil, w.accounts.SavePlayer(engine, &record)
		},
		Callback: func(_ interface{}, err error) {
			if err != nil {
				gwlog.Errorf("%s: save player %s failed: %s", w, record.Name, err)
				opmon.Count("game.save_failed")
			} else if consts.DEBUG_SAVE_LOAD {
				gwlog.Debugf("%s: player %s saved", w, record.Name)
			}
			if callback != nil {
				callback(err)
			}
		},
	})
	if err != nil {
		gwlog.Errorf("%s: save player %s failed: %s", w, record.Name, err)
		if callback != nil {
			callback(err)
		}
	}
}

func (w *World) addPlayer(player *Player, conn Conn) *onlinePlayer {
	p := &onlinePlayer{Player: player, conn: conn, since: time.Now()}
	p.LastLogin = p.since
	w.players[player.Name] = p
	w.playersByConn[conn.ID()] = p
	opmon.SetGauge("game.online", float64(len(w.players)))
	gwlog.Infof("%s: %s entered the world from %s, %d online", w, player.Name, conn, len(w.players))
	return p
}

func (w *World) removePlayer(p *onlinePlayer) {
	delete(w.players, p.Name)
	delete(w.playersByConn, p.conn.ID())
	opmon.SetGauge("game.online", float64(len(w.players)))
	gwlog.Infof("%s: %s left the world, %d online", w, p.Name, len(w.players))
}

// OnDisconnect removes and saves the player of the connection
func (w *World) OnDisconnect(conn Conn) {
	delete(w.entering, conn.ID())
	p := w.playersByConn[conn.ID()]
	if p == nil {
		return
	}
	w.removePlayer(p)
	w.savePlayer(p, nil)
}

// Shutdown saves and removes all players, their connections are closed
func (w *World) Shutdown() {
	w.SetState(StateShutdown)
	w.scheduler.Cancel(w.saveTimer)
	w.scheduler.Cancel(w.statusTimer)
	for _, p := range w.players {
		w.removePlayer(p)
		w.savePlayer(p, nil)
		p.conn.Close()
	}
	w.entering = map[uint64]string{}
}
