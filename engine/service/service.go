// Package service listens on the configured ports and serves client connections.
//
// Each port is bound to a protocol variant. Decoded requests are submitted to the
// dispatcher, the service manager never runs game logic.
package service

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/xiaonanln/go-xnsyncutil/xnsyncutil"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/gwlog"
	"github.com/xiaonanln/otworld/engine/handshake"
	"github.com/xiaonanln/otworld/engine/netutil"
	"github.com/xiaonanln/otworld/engine/opmon"
	"github.com/xiaonanln/otworld/engine/proto"
)

// Options of the service manager
type Options struct {
	Ip             string
	MaxConnections int
	// KeyPair decrypts handshakes, required by login and game variants
	KeyPair          *handshake.KeyPair
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration
	SendQueueSize    int
	// OnDisconnect runs on the dispatcher goroutine when a connection is closed
	OnDisconnect func(conn *Connection)
}

type serviceEntry struct {
	variant proto.Variant
	port    int
	kcp     bool

	listener io.Closer
	addr     net.Addr
	serve    func() error
}

// Manager is the service manager
type Manager struct {
	dispatcher *dispatcher.Dispatcher
	opts       Options
	services   []*serviceEntry

	lock       sync.Mutex
	listening  bool
	conns      map[uint64]*Connection
	nextConnID uint64

	running     xnsyncutil.AtomicBool
	terminating xnsyncutil.AtomicBool
	stopOnce    sync.Once
	stopping    chan struct{}
	terminated  chan struct{}
	started     int32
	serveWg     sync.WaitGroup
	connWg      sync.WaitGroup
}

// NewManager creates the service manager, decoded requests are submitted to d
func NewManager(d *dispatcher.Dispatcher, opts Options) *Manager {
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = consts.CONNECTION_READ_TIMEOUT
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = consts.HANDSHAKE_TIMEOUT
	}
	if opts.SendQueueSize <= 0 {
		opts.SendQueueSize = consts.CONNECTION_SEND_QUEUE_SIZE
	}
	return &Manager{
		dispatcher: d,
		opts:       opts,
		conns:      map[uint64]*Connection{},
		stopping:   make(chan struct{}),
		terminated: make(chan struct{}),
	}
}

func (m *Manager) String() string {
	return "ServiceManager"
}

// Add binds the TCP port to the protocol variant, must be called before Listen or Run
func (m *Manager) Add(variant proto.Variant, port int) error {
	return m.add(variant, port, false)
}

// AddKCP binds the UDP port to the protocol variant using KCP
func (m *Manager) AddKCP(variant proto.Variant, port int) error {
	return m.add(variant, port, true)
}

func (m *Manager) add(variant proto.Variant, port int, kcp bool) error {
	if !variant.Valid() {
		return errors.Errorf("invalid protocol variant: %s", variant)
	}
	if variant.NeedsHandshake() && m.opts.KeyPair == nil {
		return errors.Errorf("%s protocol requires a key pair", variant)
	}
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.listening {
		return errors.Errorf("%s: can not add services after listening", m)
	}
	for _, s := range m.services {
		if port != 0 && s.port == port && s.kcp == kcp {
			return errors.Errorf("port %d is already used by %s protocol", port, s.variant)
		}
	}
	m.services = append(m.services, &serviceEntry{variant: variant, port: port, kcp: kcp})
	return nil
}

// Listen binds all ports, the first failure closes the bound ports and is returned
func (m *Manager) Listen() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	if m.listening {
		return nil
	}
	if len(m.services) == 0 {
		return errors.Errorf("%s: no service added", m)
	}

	for i, s := range m.services {
		addr := fmt.Sprintf("%s:%d", m.opts.Ip, s.port)
		delegate := &variantDelegate{manager: m, variant: s.variant}
		if s.kcp {
			ln, err := netutil.ListenKCP(addr)
			if err != nil {
				m.closeListeners(m.services[:i])
				return err
			}
			s.listener, s.addr = ln, ln.Addr()
			s.serve = func() error { return netutil.ServeKCP(ln, delegate) }
		} else {
			ln, err := netutil.ListenTCP(addr, m.opts.MaxConnections)
			if err != nil {
				m.closeListeners(m.services[:i])
				return err
			}
			s.listener, s.addr = ln, ln.Addr()
			s.serve = func() error { return netutil.ServeTCP(ln, delegate) }
		}
		gwlog.Infof("%s: %s protocol on %s", m, s.variant, s.addr)
	}
	m.listening = true
	return nil
}

func (m *Manager) closeListeners(services []*serviceEntry) {
	for _, s := range services {
		if s.listener != nil {
			s.listener.Close()
		}
	}
}

// Addr returns the listening address of the variant, nil if not listening
func (m *Manager) Addr(variant proto.Variant) net.Addr {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, s := range m.services {
		if s.variant == variant && s.addr != nil {
			return s.addr
		}
	}
	return nil
}

// Run serves all ports until Shutdown is called or ctx is done
func (m *Manager) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&m.started, 0, 1) {
		return errors.Errorf("%s: already running", m)
	}
	defer close(m.terminated)
	if err := m.Listen(); err != nil {
		return err
	}

	m.running.Store(true)
	for _, s := range m.services {
		s := s
		m.serveWg.Add(1)
		go func() {
			defer m.serveWg.Done()
			if err := s.serve(); err != nil && !m.terminating.Load() {
				gwlog.Errorf("%s: %s protocol on %s stopped: %s", m, s.variant, s.addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case <-m.stopping:
	}

	m.terminating.Store(true)
	m.lock.Lock()
	m.closeListeners(m.services)
	conns := make([]*Connection, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.lock.Unlock()
	m.serveWg.Wait()

	for _, c := range conns {
		c.Close()
	}
	m.connWg.Wait()
	m.running.Store(false)
	gwlog.Infof("%s: stopped, %d connections closed", m, len(conns))
	return nil
}

// IsRunning returns true while Run is serving
func (m *Manager) IsRunning() bool {
	return m.running.Load()
}

// Shutdown stops accepting and closes all connections
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		close(m.stopping)
		if atomic.LoadInt32(&m.started) == 0 {
			// listening but never served
			m.lock.Lock()
			m.terminating.Store(true)
			m.closeListeners(m.services)
			m.lock.Unlock()
		}
	})
}

// Join waits for Run to return
func (m *Manager) Join() {
	if atomic.LoadInt32(&m.started) == 0 {
		return
	}
	<-m.terminated
}

// ConnectionCount returns the number of open connections
func (m *Manager) ConnectionCount() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return len(m.conns)
}

type variantDelegate struct {
	manager *Manager
	variant proto.Variant
}

func (vd *variantDelegate) ServeTCPConnection(conn net.Conn) {
	vd.manager.serveConnection(vd.variant, conn)
}

func (m *Manager) serveConnection(variant proto.Variant, raw net.Conn) {
	m.lock.Lock()
	if m.terminating.Load() {
		// server terminating, not accepting more connections
		m.lock.Unlock()
		raw.Close()
		return
	}
	m.nextConnID += 1
	c := newConnection(m, m.nextConnID, variant, raw)
	m.conns[c.id] = c
	m.connWg.Add(1)
	m.lock.Unlock()

	opmon.AddGauge("service.connections", 1)
	opmon.Count("service.accepted." + variant.String())
	if consts.DEBUG_CLIENTS {
		gwlog.Debugf("%s: %s connected", m, c)
	}
	c.serve()
}

func (m *Manager) onConnectionClosed(c *Connection) {
	m.lock.Lock()
	delete(m.conns, c.id)
	m.lock.Unlock()
	opmon.AddGauge("service.connections", -1)

	if m.opts.OnDisconnect != nil {
		m.dispatcher.Post("service.disconnect", func() {
			m.opts.OnDisconnect(c)
		})
	}
	m.connWg.Done()
}
