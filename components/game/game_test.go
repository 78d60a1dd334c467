package game

import (
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/otworld/engine/dbtasks"
	"github.com/xiaonanln/otworld/engine/dispatcher"
	"github.com/xiaonanln/otworld/engine/proto"
	"github.com/xiaonanln/otworld/engine/scheduler"
	"github.com/xiaonanln/otworld/engine/storage"
	storagesqlite "github.com/xiaonanln/otworld/engine/storage/backend/sqlite"
	"golang.org/x/crypto/bcrypt"
)

type fakeConn struct {
	id     uint64
	msgs   chan proto.Message
	closed int32
}

var nextFakeConnID uint64

func newFakeConn() *fakeConn {
	return &fakeConn{
		id:   atomic.AddUint64(&nextFakeConnID, 1),
		msgs: make(chan proto.Message, 100),
	}
}

func (c *fakeConn) ID() uint64 { return c.id }

func (c *fakeConn) String() string { return fmt.Sprintf("fakeConn<%d>", c.id) }

func (c *fakeConn) Send(msg proto.Message) error {
	c.msgs <- msg
	return nil
}

func (c *fakeConn) Close() { atomic.StoreInt32(&c.closed, 1) }

func (c *fakeConn) isClosed() bool { return atomic.LoadInt32(&c.closed) != 0 }

type testWorld struct {
	t        *testing.T
	d        *dispatcher.Dispatcher
	s        *scheduler.Scheduler
	q        *dbtasks.Queue
	engine   storage.Engine
	accounts *AccountStore
	world    *World
}

func newTestWorld(t *testing.T) *testWorld {
	engine, err := storagesqlite.OpenSQLite(filepath.Join(t.TempDir(), "game.db"))
	if err != nil {
		t.Fatal(err)
	}

	tw := &testWorld{
		t:        t,
		d:        dispatcher.New(),
		engine:   engine,
		accounts: &AccountStore{BcryptCost: bcrypt.MinCost},
	}
	tw.s = scheduler.New(tw.d)
	tw.q = dbtasks.New(tw.d, engine, dbtasks.Options{MaxAttempts: 2, InitialInterval: time.Millisecond})
	tw.world = NewWorld(tw.d, tw.s, tw.q, tw.accounts, Options{Name: "test", MOTD: "welcome"})
	tw.d.SetRequestHandler(tw.world.HandleRequest)
	tw.d.Start()
	tw.s.Start()
	tw.q.Start(2)

	if err := tw.accounts.CreateAccount(engine, "alice", "pw-alice", []string{"Alice", "Alicia"}); err != nil {
		t.Fatal(err)
	}
	if err := tw.accounts.CreateAccount(engine, "bob", "pw-bob", []string{"Bob"}); err != nil {
		t.Fatal(err)
	}
	tw.call(func() { tw.world.SetState(StateNormal) })

	t.Cleanup(func() {
		tw.s.Shutdown()
		tw.s.Join()
		tw.q.Shutdown()
		tw.q.Join()
		tw.d.Shutdown()
		tw.d.Join()
		engine.Close()
	})
	return tw
}

// call runs f on the dispatcher goroutine and waits for it
func (tw *testWorld) call(f func()) {
	done := make(chan struct{})
	tw.d.Post("test.call", func() {
		f()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		tw.t.Fatal("dispatcher does not run the call")
	}
}

// waitUntil polls cond until it holds or 5 seconds pass
func waitUntil(t *testing.T, cond func() bool) {
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timeout")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (tw *testWorld) request(conn *fakeConn, msg proto.Message) {
	tw.d.Submit(dispatcher.NewRequest(conn, msg))
}

func (tw *testWorld) expect(conn *fakeConn) proto.Message {
	select {
	case msg := <-conn.msgs:
		return msg
	case <-time.After(5 * time.Second):
		tw.t.Fatalf("%s receives nothing", conn)
		return nil
	}
}

func (tw *testWorld) expectError(conn *fakeConn, code int) {
	msg := tw.expect(conn)
	errResp, ok := msg.(*proto.ErrorResponse)
	if !ok {
		tw.t.Fatalf("expect ErrorResponse, but got %T %v", msg, msg)
	}
	assert.Equal(tw.t, code, errResp.Code, errResp.Message)
}

func (tw *testWorld) enterGame(account, password, char string) *fakeConn {
	conn := newFakeConn()
	tw.request(conn, &proto.EnterGame{Account: account, Password: password, Character: char})
	msg := tw.expect(conn)
	ack, ok := msg.(*proto.EnterGameAck)
	if !ok {
		tw.t.Fatalf("expect EnterGameAck, but got %T %v", msg, msg)
	}
	assert.Equal(tw.t, char, ack.Character)
	return conn
}

func TestLogin(t *testing.T) {
	tw := newTestWorld(t)
	conn := newFakeConn()

	tw.request(conn, &proto.LoginRequest{Account: "alice", Password: "pw-alice"})
	msg := tw.expect(conn)
	resp, ok := msg.(*proto.LoginResponse)
	if !ok {
		t.Fatalf("expect LoginResponse, but got %T", msg)
	}
	assert.Equal(t, []string{"Alice", "Alicia"}, resp.Characters)
	assert.Equal(t, "welcome", resp.MOTD)

	tw.request(conn, &proto.LoginRequest{Account: "alice", Password: "wrong"})
	tw.expectError(conn, proto.ERR_WRONG_PASSWORD)

	tw.request(conn, &proto.LoginRequest{Account: "nobody", Password: "x"})
	tw.expectError(conn, proto.ERR_NO_SUCH_ACCOUNT)

	tw.request(conn, &proto.LoginRequest{Account: "bad$name", Password: "x"})
	tw.expectError(conn, proto.ERR_NO_SUCH_ACCOUNT)
}

func TestServerNotReady(t *testing.T) {
	tw := newTestWorld(t)
	tw.call(func() { tw.world.SetState(StateInit) })

	conn := newFakeConn()
	tw.request(conn, &proto.LoginRequest{Account: "alice", Password: "pw-alice"})
	tw.expectError(conn, proto.ERR_SERVER_NOT_READY)
	tw.request(conn, &proto.EnterGame{Account: "alice", Password: "pw-alice", Character: "Alice"})
	tw.expectError(conn, proto.ERR_SERVER_NOT_READY)
}

func TestEnterGameAndSay(t *testing.T) {
	tw := newTestWorld(t)
	alice := tw.enterGame("alice", "pw-alice", "Alice")
	bob := tw.enterGame("bob", "pw-bob", "Bob")

	tw.request(alice, &proto.Say{Text: "hi"})
	for _, conn := range []*fakeConn{alice, bob} {
		chat, ok := tw.expect(conn).(*proto.Chat)
		if !ok {
			t.Fatal("unexpected message type")
		}
		assert.Equal(t, "Alice", chat.From)
		assert.Equal(t, "hi", chat.Text)
	}

	var online []string
	tw.call(func() { online = tw.world.OnlinePlayers() })
	assert.Equal(t, []string{"Alice", "Bob"}, online)

	tw.request(alice, &proto.Ping{Seq: 3})
	assert.Equal(t, &proto.Pong{Seq: 3}, tw.expect(alice))
}

func TestEnterGameErrors(t *testing.T) {
	tw := newTestWorld(t)
	conn := newFakeConn()

	tw.request(conn, &proto.EnterGame{Account: "alice", Password: "pw-alice", Character: "Bob"})
	tw.expectError(conn, proto.ERR_NO_SUCH_CHARACTER)

	tw.request(conn, &proto.EnterGame{Account: "alice", Password: "wrong", Character: "Alice"})
	tw.expectError(conn, proto.ERR_WRONG_PASSWORD)

	tw.enterGame("alice", "pw-alice", "Alice")
	other := newFakeConn()
	tw.request(other, &proto.EnterGame{Account: "alice", Password: "pw-alice", Character: "Alice"})
	tw.expectError(other, proto.ERR_ALREADY_ONLINE)

	tw.request(other, &proto.Say{Text: "not in game"})
	tw.expectError(other, proto.ERR_NOT_IN_GAME)
	tw.request(other, &proto.Logout{})
	tw.expectError(other, proto.ERR_NOT_IN_GAME)
}

func TestLogoutSavesPlayer(t *testing.T) {
	tw := newTestWorld(t)
	conn := tw.enterGame("alice", "pw-alice", "Alice")

	tw.request(conn, &proto.Logout{})
	_, ok := tw.expect(conn).(*proto.LogoutAck)
	if !ok {
		t.Fatal("unexpected message type")
	}

	player, err := tw.accounts.LoadPlayer(tw.engine, "Alice")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "alice", player.Account)
	assert.T(t, !player.LastLogin.IsZero())
	assert.T(t, !player.LastSave.IsZero())

	var count int
	tw.call(func() { count = tw.world.OnlineCount() })
	assert.Equal(t, 0, count)

	// the character can enter again after logging out
	tw.enterGame("alice", "pw-alice", "Alice")
}

func TestDisconnectRemovesPlayer(t *testing.T) {
	tw := newTestWorld(t)
	conn := tw.enterGame("bob", "pw-bob", "Bob")
	tw.call(func() { tw.world.OnDisconnect(conn) })

	var count int
	tw.call(func() { count = tw.world.OnlineCount() })
	assert.Equal(t, 0, count)

	// the save is keyed by the character, so entering again reads the saved record
	again := tw.enterGame("bob", "pw-bob", "Bob")
	assert.NotEqual(t, conn.ID(), again.ID())
	player, err := tw.accounts.LoadPlayer(tw.engine, "Bob")
	if err != nil {
		t.Fatal(err)
	}
	assert.T(t, !player.LastSave.IsZero())
}

func TestDisconnectWhileEntering(t *testing.T) {
	tw := newTestWorld(t)
	conn := newFakeConn()
	tw.call(func() {
		tw.world.HandleRequest(&dispatcher.Request{Conn: conn, Msg: &proto.EnterGame{Account: "bob", Password: "pw-bob", Character: "Bob"}})
		tw.world.OnDisconnect(conn)
	})

	// the enter game continuation finds the connection gone
	tw.enterGame("bob", "pw-bob", "Bob")
	select {
	case msg := <-conn.msgs:
		t.Fatalf("disconnected connection receives %v", msg)
	default:
	}
}

func TestStatus(t *testing.T) {
	tw := newTestWorld(t)
	tw.enterGame("alice", "pw-alice", "Alice")

	tw.call(tw.world.RefreshStatus)
	waitUntil(t, func() bool {
		var rss uint64
		tw.call(func() { rss = tw.world.RSS() })
		return rss > 0
	})

	conn := newFakeConn()
	tw.request(conn, &proto.StatusRequest{})
	status, ok := tw.expect(conn).(*proto.StatusResponse)
	if !ok {
		t.Fatal("unexpected message type")
	}
	assert.Equal(t, "test", status.Name)
	assert.Equal(t, 1, status.Online)
	assert.Equal(t, "welcome", status.MOTD)
	assert.NotEqual(t, uint64(0), status.RSSBytes)
}

func TestShutdownSavesAndDisconnects(t *testing.T) {
	tw := newTestWorld(t)
	alice := tw.enterGame("alice", "pw-alice", "Alice")
	bob := tw.enterGame("bob", "pw-bob", "Bob")

	tw.call(tw.world.Shutdown)
	assert.Equal(t, StateShutdown, tw.world.State())
	assert.T(t, alice.isClosed())
	assert.T(t, bob.isClosed())

	tw.q.Shutdown()
	tw.q.Join()
	for _, name := range []string{"Alice", "Bob"} {
		player, err := tw.accounts.LoadPlayer(tw.engine, name)
		if err != nil {
			t.Fatal(err)
		}
		assert.T(t, !player.LastSave.IsZero(), name)
	}

	conn := newFakeConn()
	tw.request(conn, &proto.LoginRequest{Account: "alice", Password: "pw-alice"})
	tw.expectError(conn, proto.ERR_SERVER_NOT_READY)
}

func TestPeriodicSave(t *testing.T) {
	tw := newTestWorld(t)
	tw.world.opts.SaveInterval = 20 * time.Millisecond
	tw.call(tw.world.Start)
	tw.enterGame("alice", "pw-alice", "Alice")

	waitUntil(t, func() bool {
		player, err := tw.accounts.LoadPlayer(tw.engine, "Alice")
		return err == nil && !player.LastSave.IsZero()
	})
}
