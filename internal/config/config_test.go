package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", conf.Logger.Level)
	assert.Equal(t, "unmail.db", conf.Database.Path)
	assert.Equal(t, "credentials", conf.Credentials.Dir)
	assert.Equal(t, 300, conf.Scan.MaxMessages)
	assert.Equal(t, 2, conf.Queue.ScanConcurrency)
	assert.Equal(t, 5, conf.Queue.UnsubscribeConcurrency)
	assert.Equal(t, 3, conf.Queue.UnsubscribeMaxAttempts)
	assert.Equal(t, 2*time.Second, conf.Queue.BackoffBase)
	assert.Equal(t, 5*time.Minute, conf.Queue.ScanTimeout)
	assert.Equal(t, 60*time.Second, conf.Queue.UnsubscribeTimeout)
	assert.Equal(t, "127.0.0.1", conf.Server.Host)
	assert.Equal(t, 8090, conf.Server.Port)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	conf, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "unmail.db", conf.Database.Path)
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logger:
  level: debug
database:
  path: /tmp/other.db
queue:
  unsubscribeConcurrency: 8
  backoffBase: 5s
`), 0o600))

	conf, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", conf.Logger.Level)
	assert.Equal(t, "/tmp/other.db", conf.Database.Path)
	assert.Equal(t, 8, conf.Queue.UnsubscribeConcurrency)
	assert.Equal(t, 5*time.Second, conf.Queue.BackoffBase)
	// Untouched keys keep their defaults.
	assert.Equal(t, 300, conf.Scan.MaxMessages)
}
