package config

import (
	"encoding/json"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-ini/ini"
	"github.com/pkg/errors"
	"github.com/xiaonanln/otworld/engine/consts"
	"github.com/xiaonanln/otworld/engine/gwlog"
)

const (
	// DefaultConfigFile is the config file used when none is specified
	DefaultConfigFile = "otworld.ini"

	_DEFAULT_IP              = "0.0.0.0"
	_DEFAULT_HTTP_IP         = "127.0.0.1"
	_DEFAULT_LOG_LEVEL       = "debug"
	_DEFAULT_LOGIN_PORT      = 7171
	_DEFAULT_GAME_PORT       = 7172
	_DEFAULT_STATUS_PORT     = 7173
	_DEFAULT_STORAGE_DB      = "otworld"
	_DEFAULT_RSA_KEY         = "key.pem"
	_DEFAULT_SQLITE_URL      = "otworld.db"
	_DEFAULT_MAX_CONNECTIONS = 1000
)

// ServerConfig defines fields of the [server] section
type ServerConfig struct {
	Name           string        `env:"NAME"`
	Ip             string        `env:"IP"`
	LoginPort      int           `env:"LOGIN_PORT"`
	GamePort       int           `env:"GAME_PORT"`
	StatusPort     int           `env:"STATUS_PORT"`
	KCPPort        int           `env:"KCP_PORT"`
	RSAKey         string        `env:"RSA_KEY"`
	MaxConnections int           `env:"MAX_CONNECTIONS"`
	SaveInterval   time.Duration `env:"SAVE_INTERVAL"`
	ServerSaveHour int           `env:"SERVER_SAVE_HOUR"`
	MOTD           string        `env:"MOTD"`
	LogFile        string        `env:"LOG_FILE"`
	LogStderr      bool          `env:"LOG_STDERR"`
	LogLevel       string        `env:"LOG_LEVEL"`
	HTTPIp         string        `env:"HTTP_IP"`
	HTTPPort       int           `env:"HTTP_PORT"`
}

// DBTasksConfig defines fields of the [dbtasks] section
type DBTasksConfig struct {
	Workers     int `env:"WORKERS"`
	MaxAttempts int `env:"MAX_ATTEMPTS"`
}

// StorageConfig defines fields of the [storage] section
type StorageConfig struct {
	Type       string   `env:"TYPE"`       // Type of storage (sqlite, redis, redis_cluster, mongodb)
	Url        string   `env:"URL"`        // Connection URL or sqlite file path
	DB         string   `env:"DB"`         // Database name (mongodb), db index (redis)
	Collection string   `env:"COLLECTION"` // Collection name (mongodb)
	StartNodes []string `env:"START_NODES"`
}

// OTWorldConfig defines the total config file structure
type OTWorldConfig struct {
	Server  ServerConfig
	DBTasks DBTasksConfig
	Storage StorageConfig

	dir string
}

// Dir returns the directory of the config file, relative paths in config are resolved against it
func (cfg *OTWorldConfig) Dir() string {
	return cfg.dir
}

// ResolvePath returns p if it is absolute, or p relative to the config file directory
func (cfg *OTWorldConfig) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(cfg.dir, p)
}

// DumpPretty format config to string in pretty format
func DumpPretty(cfg interface{}) string {
	s, err := json.MarshalIndent(cfg, "", "    ")
	if err != nil {
		return err.Error()
	}
	return string(s)
}

// Load reads the config file and applies OTWORLD_* environment overrides
func Load(configFilePath string) (*OTWorldConfig, error) {
	gwlog.Infof("Using config file: %s", configFilePath)
	iniFile, err := ini.Load(configFilePath)
	if err != nil {
		return nil, errors.Wrap(err, "read config error")
	}
	return parse(iniFile, filepath.Dir(configFilePath))
}

// LoadBytes reads config from in-memory ini data
func LoadBytes(data []byte) (*OTWorldConfig, error) {
	iniFile, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "read config error")
	}
	return parse(iniFile, ".")
}

func parse(iniFile *ini.File, dir string) (*OTWorldConfig, error) {
	config := &OTWorldConfig{dir: dir}
	setDefaults(config)

	for _, sec := range iniFile.Sections() {
		secName := strings.ToLower(sec.Name())
		var err error
		if secName == "default" {
			if len(sec.Keys()) > 0 {
				err = errors.Errorf("keys outside of sections are not allowed")
			}
		} else if secName == "server" {
			err = readServerConfig(sec, &config.Server)
		} else if secName == "dbtasks" {
			err = readDBTasksConfig(sec, &config.DBTasks)
		} else if secName == "storage" {
			err = readStorageConfig(sec, &config.Storage)
		} else {
			err = errors.Errorf("unknown section: %s", sec.Name())
		}
		if err != nil {
			return nil, err
		}
	}

	if err := applyEnv(config); err != nil {
		return nil, err
	}
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	return config, nil
}

func setDefaults(config *OTWorldConfig) {
	sc := &config.Server
	sc.Name = "otworld"
	sc.Ip = _DEFAULT_IP
	sc.LoginPort = _DEFAULT_LOGIN_PORT
	sc.GamePort = _DEFAULT_GAME_PORT
	sc.StatusPort = _DEFAULT_STATUS_PORT
	sc.RSAKey = _DEFAULT_RSA_KEY
	sc.MaxConnections = _DEFAULT_MAX_CONNECTIONS
	sc.SaveInterval = consts.WORLD_SAVE_INTERVAL
	sc.ServerSaveHour = -1 // no daily server save
	sc.LogFile = "otworld.log"
	sc.LogStderr = true
	sc.LogLevel = _DEFAULT_LOG_LEVEL
	sc.HTTPIp = _DEFAULT_HTTP_IP
	sc.HTTPPort = 0 // pprof & metrics not enabled by default

	config.DBTasks.Workers = consts.DBTASKS_DEFAULT_WORKERS
	config.DBTasks.MaxAttempts = consts.DBTASKS_DEFAULT_MAX_ATTEMPTS

	config.Storage.Type = "sqlite"
	config.Storage.Url = _DEFAULT_SQLITE_URL
	config.Storage.DB = _DEFAULT_STORAGE_DB
}

func readServerConfig(sec *ini.Section, sc *ServerConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "name" {
			sc.Name = key.MustString(sc.Name)
		} else if name == "ip" {
			sc.Ip = key.MustString(sc.Ip)
		} else if name == "login_port" {
			sc.LoginPort = key.MustInt(sc.LoginPort)
		} else if name == "game_port" {
			sc.GamePort = key.MustInt(sc.GamePort)
		} else if name == "status_port" {
			sc.StatusPort = key.MustInt(sc.StatusPort)
		} else if name == "kcp_port" {
			sc.KCPPort = key.MustInt(sc.KCPPort)
		} else if name == "rsa_key" {
			sc.RSAKey = key.MustString(sc.RSAKey)
		} else if name == "max_connections" {
			sc.MaxConnections = key.MustInt(sc.MaxConnections)
		} else if name == "save_interval" {
			d, err := time.ParseDuration(key.String())
			if err != nil {
				return errors.Wrapf(err, "section %s: invalid save_interval", sec.Name())
			}
			sc.SaveInterval = d
		} else if name == "server_save_hour" {
			sc.ServerSaveHour = key.MustInt(sc.ServerSaveHour)
		} else if name == "motd" {
			sc.MOTD = key.MustString(sc.MOTD)
		} else if name == "log_file" {
			sc.LogFile = key.MustString(sc.LogFile)
		} else if name == "log_stderr" {
			sc.LogStderr = key.MustBool(sc.LogStderr)
		} else if name == "log_level" {
			sc.LogLevel = key.MustString(sc.LogLevel)
		} else if name == "http_ip" {
			sc.HTTPIp = key.MustString(sc.HTTPIp)
		} else if name == "http_port" {
			sc.HTTPPort = key.MustInt(sc.HTTPPort)
		} else {
			return errors.Errorf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}
	return nil
}

func readDBTasksConfig(sec *ini.Section, dc *DBTasksConfig) error {
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "workers" {
			dc.Workers = key.MustInt(dc.Workers)
		} else if name == "max_attempts" {
			dc.MaxAttempts = key.MustInt(dc.MaxAttempts)
		} else {
			return errors.Errorf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}
	return nil
}

func readStorageConfig(sec *ini.Section, config *StorageConfig) error {
	startNodes := map[string]string{}
	for _, key := range sec.Keys() {
		name := strings.ToLower(key.Name())
		if name == "type" {
			config.Type = key.MustString(config.Type)
		} else if name == "url" {
			config.Url = key.MustString(config.Url)
		} else if name == "db" {
			config.DB = key.MustString(config.DB)
		} else if name == "collection" {
			config.Collection = key.MustString(config.Collection)
		} else if strings.HasPrefix(name, "start_nodes_") {
			startNodes[name] = key.MustString("")
		} else {
			return errors.Errorf("section %s has unknown key: %s", sec.Name(), key.Name())
		}
	}

	if len(startNodes) > 0 {
		names := make([]string, 0, len(startNodes))
		for name := range startNodes {
			names = append(names, name)
		}
		sort.Strings(names)
		config.StartNodes = config.StartNodes[:0]
		for _, name := range names {
			config.StartNodes = append(config.StartNodes, startNodes[name])
		}
	}

	if config.Type == "redis" && config.DB == _DEFAULT_STORAGE_DB {
		config.DB = "0"
	}
	return nil
}

func applyEnv(config *OTWorldConfig) error {
	if err := env.ParseWithOptions(&config.Server, env.Options{Prefix: "OTWORLD_SERVER_"}); err != nil {
		return errors.Wrap(err, "parse server env")
	}
	if err := env.ParseWithOptions(&config.DBTasks, env.Options{Prefix: "OTWORLD_DBTASKS_"}); err != nil {
		return errors.Wrap(err, "parse dbtasks env")
	}
	if err := env.ParseWithOptions(&config.Storage, env.Options{Prefix: "OTWORLD_STORAGE_"}); err != nil {
		return errors.Wrap(err, "parse storage env")
	}
	return nil
}

func validateConfig(config *OTWorldConfig) error {
	sc := &config.Server
	ports := map[int]string{}
	for _, p := range []struct {
		name string
		port int
	}{{"login_port", sc.LoginPort}, {"game_port", sc.GamePort}, {"status_port", sc.StatusPort}} {
		if p.port <= 0 || p.port > 65535 {
			return errors.Errorf("invalid %s: %d", p.name, p.port)
		}
		if other, ok := ports[p.port]; ok {
			return errors.Errorf("%s and %s use the same port %d", other, p.name, p.port)
		}
		ports[p.port] = p.name
	}
	if sc.RSAKey == "" {
		return errors.Errorf("rsa_key is not set in server config")
	}
	if sc.ServerSaveHour < -1 || sc.ServerSaveHour > 23 {
		return errors.Errorf("invalid server_save_hour: %d", sc.ServerSaveHour)
	}
	if sc.SaveInterval <= 0 {
		return errors.Errorf("save_interval must be positive, but is %s", sc.SaveInterval)
	}
	if sc.MaxConnections < 0 {
		return errors.Errorf("invalid max_connections: %d", sc.MaxConnections)
	}
	if config.DBTasks.Workers <= 0 {
		return errors.Errorf("dbtasks workers must be positive, but is %d", config.DBTasks.Workers)
	}
	if config.DBTasks.MaxAttempts <= 0 {
		return errors.Errorf("dbtasks max_attempts must be positive, but is %d", config.DBTasks.MaxAttempts)
	}
	return validateStorageConfig(&config.Storage)
}

func validateStorageConfig(config *StorageConfig) error {
	if config.Type == "sqlite" {
		if config.Url == "" {
			return errors.Errorf("url is not set in %s storage config", config.Type)
		}
	} else if config.Type == "mongodb" {
		if config.Url == "" || config.DB == "" || config.Collection == "" {
			return errors.Errorf("invalid %s storage config:\n%s", config.Type, DumpPretty(config))
		}
	} else if config.Type == "redis" {
		if config.Url == "" {
			return errors.Errorf("redis host is not set")
		}
		if _, err := strconv.Atoi(config.DB); err != nil {
			return errors.Wrap(err, "redis db must be integer")
		}
	} else if config.Type == "redis_cluster" {
		if len(config.StartNodes) == 0 {
			return errors.Errorf("must have at least 1 start_nodes for [storage].redis_cluster")
		}
		for _, s := range config.StartNodes {
			if s == "" {
				return errors.Errorf("start_nodes must not be empty")
			}
		}
	} else {
		return errors.Errorf("unknown storage type: %s", config.Type)
	}
	return nil
}
