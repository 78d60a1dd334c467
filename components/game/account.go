package game

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack"
	"github.com/xiaonanln/otworld/engine/storage"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrNoSuchAccount is returned when the account does not exist
	ErrNoSuchAccount = errors.New("no such account")
	// ErrAccountExists is returned when creating an existing account
	ErrAccountExists = errors.New("account already exists")
	// ErrWrongPassword is returned when the password does not match
	ErrWrongPassword = errors.New("wrong password")
	// ErrNoSuchCharacter is returned when the character does not exist or belongs to another account
	ErrNoSuchCharacter = errors.New("no such character")
	// ErrInvalidName is returned for empty names or names containing the key separator
	ErrInvalidName = errors.New("invalid name")
)

const (
	accountKeyPrefix = "account$"
	playerKeyPrefix  = "player$"
	maxNameLength    = 64
)

// Account is the account record
type Account struct {
	Name         string    `msgpack:"name"`
	PasswordHash []byte    `msgpack:"pwhash"`
	Characters   []string  `msgpack:"chars"`
	Created      time.Time `msgpack:"created"`
}

// HasCharacter returns true if the character belongs to the account
func (account *Account) HasCharacter(char string) bool {
	for _, c := range account.Characters {
		if c == char {
			return true
		}
	}
	return false
}

// Player is the saved state of a character
type Player struct {
	Name       string        `msgpack:"name"`
	Account    string        `msgpack:"account"`
	Level      int           `msgpack:"level"`
	Experience uint64        `msgpack:"exp"`
	PlayTime   time.Duration `msgpack:"playtime"`
	LastLogin  time.Time     `msgpack:"lastlogin"`
	LastSave   time.Time     `msgpack:"lastsave"`
}

func accountKey(name string) string {
	return accountKeyPrefix + name
}

func playerKey(name string) string {
	return playerKeyPrefix + name
}

func validateName(name string) error {
	if name == "" || len(name) > maxNameLength || strings.ContainsAny(name, "$\x00") {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// AccountStore reads and writes accounts and players
//
// All methods block on storage: they are called by database jobs and tools,
// never on the dispatcher goroutine.
type AccountStore struct {
	// BcryptCost is the cost of new password hashes
	BcryptCost int
}

// NewAccountStore creates the account store using the default bcrypt cost
func NewAccountStore() *AccountStore {
	return &AccountStore{BcryptCost: bcrypt.DefaultCost}
}

// CreateAccount creates an account owning characters, with a level 1 player record for each character
func (as *AccountStore) CreateAccount(engine storage.Engine, name string, password string, characters []string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if password == "" {
		return errors.New("empty password")
	}
	if _, err := as.LoadAccount(engine, name); err == nil {
		return errors.Wrapf(ErrAccountExists, "%s", name)
	} else if errors.Cause(err) != ErrNoSuchAccount {
		return err
	}
	for _, char := range characters {
		if err := validateName(char); err != nil {
			return err
		}
		if _, err := as.LoadPlayer(engine, char); err == nil {
			return errors.Errorf("character %s already exists", char)
		} else if errors.Cause(err) != ErrNoSuchCharacter {
			return err
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), as.BcryptCost)
	if err != nil {
		return errors.Wrap(err, "hash password")
	}
	for _, char := range characters {
		if err := as.SavePlayer(engine, &Player{Name: char, Account: name, Level: 1}); err != nil {
			return err
		}
	}
	return as.put(engine, accountKey(name), &Account{
		Name:         name,
		PasswordHash: hash,
		Characters:   characters,
		Created:      time.Now(),
	})
}

// LoadAccount loads the account
func (as *AccountStore) LoadAccount(engine storage.Engine, name string) (*Account, error) {
	account := &Account{}
	if err := as.get(engine, accountKey(name), account); err != nil {
		if err == errNotFound {
			return nil, errors.Wrapf(ErrNoSuchAccount, "%s", name)
		}
		return nil, err
	}
	return account, nil
}

// Authenticate loads the account and checks the password
func (as *AccountStore) Authenticate(engine storage.Engine, name string, password string) (*Account, error) {
	account, err := as.LoadAccount(engine, name)
	if err != nil {
		return nil, err
	}
	if bcrypt.CompareHashAndPassword(account.PasswordHash, []byte(password)) != nil {
		return nil, errors.Wrapf(ErrWrongPassword, "%s", name)
	}
	return account, nil
}

// LoadPlayer loads the player record
func (as *AccountStore) LoadPlayer(engine storage.Engine, name string) (*Player, error) {
	player := &Player{}
	if err := as.get(engine, playerKey(name), player); err != nil {
		if err == errNotFound {
			return nil, errors.Wrapf(ErrNoSuchCharacter, "%s", name)
		}
		return nil, err
	}
	return player, nil
}

// SavePlayer writes the player record
func (as *AccountStore) SavePlayer(engine storage.Engine, player *Player) error {
	if err := validateName(player.Name); err != nil {
		return err
	}
	return as.put(engine, playerKey(player.Name), player)
}

// ListAccounts returns the names of all accounts in key order
func (as *AccountStore) ListAccounts(engine storage.Engine) ([]string, error) {
	items, err := storage.GetPrefix(engine, accountKeyPrefix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(items))
	for _, item := range items {
		names = append(names, strings.TrimPrefix(item.Key, accountKeyPrefix))
	}
	return names, nil
}

var errNotFound = errors.New("not found")

func (as *AccountStore) get(engine storage.Engine, key string, v interface{}) error {
	data, err := engine.Get(key)
	if err != nil {
		return err
	}
	if data == "" {
		return errNotFound
	}
	if err := msgpack.Unmarshal([]byte(data), v); err != nil {
		return errors.Wrapf(err, "decode %s", key)
	}
	return nil
}

func (as *AccountStore) put(engine storage.Engine, key string, v interface{}) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	return engine.Put(key, string(data))
}
