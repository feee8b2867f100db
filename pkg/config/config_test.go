package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/rdist/pkg/config/filestore"
)

const sampleConfig = `
hosts: [localhost, "alice@build1:2222", build2]
keyword: "network -slow"
exitfirst: true
boxing: true
nocapture: true
reporter: Remote
remote_dir: /srv/rdist
suite: suite.yaml
kafka:
  brokers: [kafka:9092]
  topic: rdist-events
ssh:
  key_path: /home/ci/.ssh/id_ed25519
  timeout: 5s
log:
  debug: true
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rdist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	store, err := NewStore(FileStore, &FileConfig{Path: writeConfig(t, sampleConfig)})
	require.NoError(t, err)

	cfg, err := Load(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost", "alice@build1:2222", "build2"}, cfg.Hosts)
	assert.Equal(t, "network -slow", cfg.Keyword)
	assert.True(t, cfg.ExitFirst)
	assert.False(t, cfg.Boxing, "nocapture turns boxing off")
	assert.Equal(t, "remote", cfg.Reporter)
	assert.Equal(t, 5*time.Second, cfg.SSH.Timeout)
	assert.True(t, cfg.Log.Debug)
	// defaults survive keys the file does not set
	assert.Equal(t, DefaultServerPort, cfg.ServerPort)
	assert.Equal(t, DefaultWorkerCommand, cfg.WorkerCommand)
	require.NoError(t, cfg.Validate())

	specs, err := cfg.HostSpecs()
	require.NoError(t, err)
	assert.Equal(t, "", specs[0].Dir)
	assert.Equal(t, "/srv/rdist", specs[1].Dir)
	assert.Equal(t, 2222, specs[1].Port)
}

func TestNewStoreRejectsWrongConfig(t *testing.T) {
	_, err := NewStore(FileStore, &MongoConfig{})
	assert.Error(t, err)
	_, err = NewStore(MongoStore, &FileConfig{})
	assert.Error(t, err)
	_, err = NewStore(StoreType(9), nil)
	assert.ErrorIs(t, err, ErrInvalidStoreType)
}

func TestFix(t *testing.T) {
	tests := []struct {
		name string
		in   Config
		want func(t *testing.T, c Config)
	}{
		{"startserver implies web", Config{StartServer: true, Reporter: "local"}, func(t *testing.T, c Config) {
			assert.Equal(t, "web", c.Reporter)
		}},
		{"nocapture disables boxing", Config{Boxing: true, NoCapture: true}, func(t *testing.T, c Config) {
			assert.False(t, c.Boxing)
		}},
		{"boxing kept with capture", Config{Boxing: true}, func(t *testing.T, c Config) {
			assert.True(t, c.Boxing)
		}},
		{"hosts trimmed", Config{Hosts: []string{" a ", "b"}}, func(t *testing.T, c Config) {
			assert.Equal(t, []string{"a", "b"}, c.Hosts)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.in
			c.Fix()
			tt.want(t, c)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Default()
		c.Suite = "suite.yaml"
		c.Hosts = []string{"localhost"}
		return c
	}
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"bad host", func(c *Config) { c.Hosts = []string{"@nowhere"} }, true},
		{"unknown reporter", func(c *Config) { c.Reporter = "html" }, true},
		{"missing suite", func(c *Config) { c.Suite = "" }, true},
		{"apigen without output", func(c *Config) { c.Apigen = "docgen" }, true},
		{"kafka without topic", func(c *Config) { c.Kafka.Brokers = []string{"k:9092"} }, true},
		{"redis without channel", func(c *Config) { c.Redis.Addr = "localhost:6379" }, true},
		{"bad port", func(c *Config) { c.ServerPort = 70000 }, true},
		{"sync source must exist", func(c *Config) { c.SyncSource = "/definitely/not/here" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileStoreSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved.yaml")
	store := filestore.New(path)
	in := Default()
	in.Hosts = []string{"h1", "h2"}
	in.Suite = "s.yaml"
	require.NoError(t, store.Save(&in))

	var out Config
	require.NoError(t, store.Load(&out))
	assert.Equal(t, in.Hosts, out.Hosts)
	assert.Equal(t, in.Suite, out.Suite)

	assert.Error(t, store.Load(nil))
	assert.Error(t, filestore.New(filepath.Join(t.TempDir(), "missing.yaml")).Load(&out))
}

func TestFileStoreWatch(t *testing.T) {
	path := writeConfig(t, sampleConfig)
	store := filestore.New(path)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	require.NoError(t, store.Watch(ctx, func() { changed <- struct{}{} }))
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig+"\nverbose: true\n"), 0o600))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	assert.Error(t, store.Watch(ctx, nil))
}
