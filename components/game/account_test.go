package game

import (
	"path/filepath"
	"testing"

	"github.com/bmizerany/assert"
	"github.com/pkg/errors"
	storagesqlite "github.com/xiaonanln/otworld/engine/storage/backend/sqlite"
	"golang.org/x/crypto/bcrypt"
)

func TestAccountStore(t *testing.T) {
	engine, err := storagesqlite.OpenSQLite(filepath.Join(t.TempDir(), "accounts.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer engine.Close()
	as := &AccountStore{BcryptCost: bcrypt.MinCost}

	if err := as.CreateAccount(engine, "carol", "secret", []string{"Carol"}); err != nil {
		t.Fatal(err)
	}
	if err := as.CreateAccount(engine, "alice", "secret", nil); err != nil {
		t.Fatal(err)
	}

	err = as.CreateAccount(engine, "carol", "other", nil)
	assert.Equal(t, ErrAccountExists, errors.Cause(err))
	assert.NotEqual(t, nil, as.CreateAccount(engine, "dave", "secret", []string{"Carol"}), "character names are unique")
	assert.Equal(t, ErrInvalidName, errors.Cause(as.CreateAccount(engine, "", "secret", nil)))
	assert.Equal(t, ErrInvalidName, errors.Cause(as.CreateAccount(engine, "a$b", "secret", nil)))
	assert.NotEqual(t, nil, as.CreateAccount(engine, "erin", "", nil))

	account, err := as.Authenticate(engine, "carol", "secret")
	if err != nil {
		t.Fatal(err)
	}
	assert.T(t, account.HasCharacter("Carol"))
	assert.T(t, !account.HasCharacter("Alice"))
	assert.NotEqual(t, []byte("secret"), account.PasswordHash)

	_, err = as.Authenticate(engine, "carol", "wrong")
	assert.Equal(t, ErrWrongPassword, errors.Cause(err))
	_, err = as.Authenticate(engine, "nobody", "secret")
	assert.Equal(t, ErrNoSuchAccount, errors.Cause(err))

	player, err := as.LoadPlayer(engine, "Carol")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 1, player.Level)
	player.Level = 5
	player.Experience = 1000
	if err := as.SavePlayer(engine, player); err != nil {
		t.Fatal(err)
	}
	player, err = as.LoadPlayer(engine, "Carol")
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 5, player.Level)
	assert.Equal(t, uint64(1000), player.Experience)

	_, err = as.LoadPlayer(engine, "Nobody")
	assert.Equal(t, ErrNoSuchCharacter, errors.Cause(err))

	names, err := as.ListAccounts(engine)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []string{"alice", "carol"}, names)
}
