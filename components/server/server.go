// Package server assembles the runtime: it loads the world on the dispatcher and shuts down in order.
package server

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/components/game"
	"github.com/xiaonanln/otworld/engine/binutil"
	"github.com/xiaonanln/otworld/engine/config"
	"github.com/xiaonanln/otworld/engine/crontab"
	"github.com/xiaonanln/otworld/engine/dbtasks"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/handshake"
	"github.com/xiaonanln/otworld/engine/opmon"
	"github.com/xiaonanln/otworld/engine/proto"
	"github.com/xiaonanln/otworld/engine/scheduler"
	"github.com/xiaonanln/otworld/engine/service"
	"github.com/xiaonanln/otworld/engine/storage"
)

// Server is one otworld process
type Server struct {
	cfg *config.OTWorldConfig
	env binutil.ProcessEnv

	dispatcher *dispatcher.Dispatcher
	scheduler  *scheduler.Scheduler
	crontab    *crontab.Crontab
	dbtasks    *dbtasks.Queue
	manager    *service.Manager
	world      *game.World
	engine     storage.Engine
	keyPair    *handshake.KeyPair
	httpServer *http.Server

	started      bool
	shutdownOnce sync.Once
	managerDone  chan error
}

// New creates the server, nothing is started until Start
func New(cfg *config.OTWorldConfig, env binutil.ProcessEnv) *Server {
	d := dispatcher.New()
	sched := scheduler.New(d)
	return &Server{
		cfg:        cfg,
		env:        env,
		dispatcher: d,
		scheduler:  sched,
		crontab:    crontab.New(sched),
		world: game.NewWorld(d, sched, nil, game.NewAccountStore(), game.Options{
			Name:         cfg.Server.Name,
			MOTD:         cfg.Server.MOTD,
			SaveInterval: cfg.Server.SaveInterval,
		}),
		managerDone: make(chan error, 1),
	}
}

func (s *Server) String() string {
	return fmt.Sprintf("Server<%s>", s.cfg.Server.Name)
}

// Dispatcher returns the dispatcher of the server
func (s *Server) Dispatcher() *dispatcher.Dispatcher {
	return s.dispatcher
}

// Manager returns the service manager, nil before Start succeeds
func (s *Server) Manager() *service.Manager {
	return s.manager
}

// World returns the game world
func (s *Server) World() *game.World {
	return s.world
}

// Start runs the loader as the first dispatcher item and waits for it
//
// On success all services accept connections. On failure everything started
// is stopped and the loader error is returned.
func (s *Server) Start(ctx context.Context) error {
	if s.started {
		return errors.Errorf("%s: already started", s)
	}
	s.started = true

	s.dispatcher.Start()
	s.scheduler.Start()

	loaded := make(chan error, 1)
	s.dispatcher.Post("server.load", func() {
		loaded <- s.load()
	})

	var err error
	select {
	case err = <-loaded:
	case <-ctx.Done():
		// the loader still finishes on the dispatcher before shutdown completes
		err = ctx.Err()
	}
	if err != nil {
		gwlog.Errorf("%s: start failed: %s", s, err)
		s.Shutdown()
		return err
	}

	go func() {
		s.managerDone <- s.manager.Run(context.Background())
	}()
	gwlog.Infof("%s: started, login=%d game=%d status=%d", s, s.cfg.Server.LoginPort, s.cfg.Server.GamePort, s.cfg.Server.StatusPort)
	return nil
}

// load runs on the dispatcher goroutine
func (s *Server) load() error {
	cfg := s.cfg
	s.world.SetState(game.StateInit)

	if s.env != nil && s.env.IsRoot() {
		gwlog.Warnf("%s: running as root is not recommended", s)
	}

	gwlog.Infof("%s: loading RSA key ...", s)
	kp, err := handshake.LoadPEM(cfg.ResolvePath(cfg.Server.RSAKey))
	if err != nil {
		return errors.Wrap(err, "load RSA key")
	}
	s.keyPair = kp

	gwlog.Infof("%s: opening %s storage ...", s, cfg.Storage.Type)
	engine, err := storage.Open(&cfg.Storage, cfg.ResolvePath)
	if err != nil {
		return err
	}
	s.engine = engine
	if err := engine.Ping(); err != nil {
		return errors.Wrap(err, "storage is not available")
	}

	s.dbtasks = dbtasks.New(s.dispatcher, engine, dbtasks.Options{MaxAttempts: cfg.DBTasks.MaxAttempts})
	s.dbtasks.Start(cfg.DBTasks.Workers)
	s.world.SetDBTasks(s.dbtasks)
	s.dispatcher.SetRequestHandler(s.world.HandleRequest)

	s.manager = service.NewManager(s.dispatcher, service.Options{
		Ip:             cfg.Server.Ip,
		MaxConnections: cfg.Server.MaxConnections,
		KeyPair:        kp,
		OnDisconnect: func(conn *service.Connection) {
			s.world.OnDisconnect(conn)
		},
	})
	if err := s.addServices(); err != nil {
		return err
	}
	if err := s.manager.Listen(); err != nil {
		return err
	}

	if s.httpServer, err = binutil.SetupHTTPServer(cfg.Server.HTTPIp, cfg.Server.HTTPPort); err != nil {
		return err
	}

	s.world.Start()
	if err := s.setupCrontab(); err != nil {
		return err
	}
	s.world.SetState(game.StateNormal)
	return nil
}

func (s *Server) setupCrontab() error {
	if hour := s.cfg.Server.ServerSaveHour; hour >= 0 {
		if _, err := s.crontab.Register(0, hour, -1, -1, -1, func() {
			gwlog.Infof("%s: server save at %02d:00", s, hour)
			s.world.SaveAll()
		}); err != nil {
			return errors.Wrap(err, "server save")
		}
	}
	// operation statistics every hour
	if _, err := s.crontab.Register(0, -1, -1, -1, -1, dumpOperations); err != nil {
		return err
	}
	s.crontab.Start()
	return nil
}

func dumpOperations() {
	var buf bytes.Buffer
	opmon.Dump(&buf)
	gwlog.Infof("operations:\n%s", buf.String())
}

func (s *Server) addServices() error {
	sc := &s.cfg.Server
	if err := s.manager.Add(proto.VariantLogin, sc.LoginPort); err != nil {
		return err
	}
	if err := s.manager.Add(proto.VariantGame, sc.GamePort); err != nil {
		return err
	}
	if err := s.manager.Add(proto.VariantStatus, sc.StatusPort); err != nil {
		return err
	}
	if sc.KCPPort != 0 {
		if err := s.manager.AddKCP(proto.VariantGame, sc.KCPPort); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown stops the server: players are saved, then services, scheduler, database tasks and dispatcher stop in order
func (s *Server) Shutdown() {
	s.shutdownOnce.Do(s.shutdown)
}

func (s *Server) shutdown() {
	gwlog.Infof("%s: shutting down ...", s)
	if s.started {
		done := make(chan struct{})
		s.dispatcher.PostPriority("server.shutdown", func() {
			s.crontab.Stop()
			s.world.Shutdown()
			close(done)
		})
		<-done
	}

	if s.manager != nil {
		s.manager.Shutdown()
		s.manager.Join()
	}
	if s.httpServer != nil {
		s.httpServer.Close()
	}
	s.scheduler.Shutdown()
	s.scheduler.Join()
	if s.dbtasks != nil {
		s.dbtasks.Shutdown()
		s.dbtasks.Join()
	}
	s.dispatcher.Shutdown()
	s.dispatcher.Join()
	if s.engine != nil {
		s.engine.Close()
	}
	gwlog.Infof("%s: terminated", s)
}

// Run starts the server and serves until ctx is done, then shuts down
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	var err error
	select {
	case <-ctx.Done():
	case err = <-s.managerDone:
		if err != nil {
			gwlog.Errorf("%s: service manager stopped: %s", s, err)
		}
	}
	s.Shutdown()
	return err
}
