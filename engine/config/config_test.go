package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bmizerany/assert"
	"github.com/xiaonanln/otworld/engine/gwlog"
)

func writeConfig(t *testing.T, content string) string {
	dir := t.TempDir()
	p := filepath.Join(dir, "otworld.ini")
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadSample(t *testing.T) {
	config, err := Load("../../otworld.ini.sample")
	if err != nil {
		t.Fatal(err)
	}
	gwlog.Debugf("otworld config: \n%s", DumpPretty(config))
	assert.Equal(t, "otworld", config.Server.Name)
	assert.Equal(t, 7171, config.Server.LoginPort)
	assert.Equal(t, 7172, config.Server.GamePort)
	assert.Equal(t, 7173, config.Server.StatusPort)
	assert.Equal(t, 5*time.Minute, config.Server.SaveInterval)
	assert.Equal(t, 6, config.Server.ServerSaveHour)
	assert.Equal(t, 4, config.DBTasks.Workers)
	assert.Equal(t, 3, config.DBTasks.MaxAttempts)
	assert.Equal(t, "sqlite", config.Storage.Type)
}

func TestDefaults(t *testing.T) {
	config, err := LoadBytes([]byte("[server]\nname = test\n"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, "test", config.Server.Name)
	assert.Equal(t, _DEFAULT_LOGIN_PORT, config.Server.LoginPort)
	assert.Equal(t, "key.pem", config.Server.RSAKey)
	assert.Equal(t, "sqlite", config.Storage.Type)
	assert.Equal(t, -1, config.Server.ServerSaveHour)
	assert.Equal(t, "0.0.0.0", config.Server.Ip)
	assert.Equal(t, 5*time.Minute, config.Server.SaveInterval)
}

func TestSaveIntervalDuration(t *testing.T) {
	config, err := LoadBytes([]byte("[server]\nsave_interval = 2m30s\n"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 150*time.Second, config.Server.SaveInterval)
}

func TestUnknownKey(t *testing.T) {
	_, err := LoadBytes([]byte("[server]\nno_such_key = 1\n"))
	assert.NotEqual(t, nil, err)

	_, err = LoadBytes([]byte("[nosection]\na = 1\n"))
	assert.NotEqual(t, nil, err)
}

func TestInvalidConfig(t *testing.T) {
	for _, content := range []string{
		"[server]\nlogin_port = 7172\ngame_port = 7172\n",
		"[server]\nstatus_port = 70000\n",
		"[server]\nserver_save_hour = 24\n",
		"[server]\nsave_interval = 0s\n",
		"[server]\nsave_interval = 300\n",
		"[dbtasks]\nworkers = 0\n",
		"[dbtasks]\nmax_attempts = 0\n",
		"[storage]\ntype = postgres\n",
		"[storage]\ntype = mongodb\nurl = mongodb://127.0.0.1/\n",
		"[storage]\ntype = redis_cluster\n",
		"[storage]\ntype = redis\nurl = 127.0.0.1:6379\ndb = abc\n",
	} {
		if _, err := LoadBytes([]byte(content)); err == nil {
			t.Errorf("config should be invalid:\n%s", content)
		}
	}
}

func TestRedisClusterStartNodes(t *testing.T) {
	config, err := LoadBytes([]byte("[storage]\ntype = redis_cluster\nstart_nodes_2 = b:7001\nstart_nodes_1 = a:7000\n"))
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, []string{"a:7000", "b:7001"}, config.Storage.StartNodes)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("OTWORLD_SERVER_GAME_PORT", "9172")
	t.Setenv("OTWORLD_DBTASKS_WORKERS", "8")
	t.Setenv("OTWORLD_STORAGE_URL", "other.db")
	t.Setenv("OTWORLD_SERVER_SAVE_INTERVAL", "90s")
	p := writeConfig(t, "[server]\ngame_port = 8172\nsave_interval = 10m\n")
	config, err := Load(p)
	if err != nil {
		t.Fatal(err)
	}
	assert.Equal(t, 9172, config.Server.GamePort)
	assert.Equal(t, 8, config.DBTasks.Workers)
	assert.Equal(t, 90*time.Second, config.Server.SaveInterval)
	assert.Equal(t, "other.db", config.Storage.Url)
	assert.Equal(t, filepath.Join(config.Dir(), "other.db"), config.ResolvePath(config.Storage.Url))
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.NotEqual(t, nil, err)
}
