package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolateServerEnv(t *testing.T) {
	t.Helper()
	t.Setenv("SHARESYNC_LISTEN", "")
	t.Setenv("SHARESYNC_DATA_DIR", "")
	t.Setenv("WEB_DOMAIN", "")
	t.Setenv("SHARESYNC_BLOB_BACKEND", "")
	t.Setenv("SHARESYNC_S3_BUCKET", "")
	t.Setenv("SHARESYNC_LOG_LEVEL", "")
}

func TestLoadServer_Defaults(t *testing.T) {
	isolateServerEnv(t)

	cfg, err := LoadServer("")
	require.NoError(t, err)
	assert.Equal(t, ":4096", cfg.Listen)
	assert.Equal(t, "local", cfg.Blob.Backend)
	assert.Equal(t, "dev.opencode.ai", cfg.WebDomain)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadServer_MissingFileUsesDefaults(t *testing.T) {
	isolateServerEnv(t)

	cfg, err := LoadServer(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultServerConfig().Listen, cfg.Listen)
}

func TestLoadServer_YAMLFile(t *testing.T) {
	isolateServerEnv(t)
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
data_dir: /srv/sharesync
web_domain: share.example.com
read_timeout: 15s
blob:
  backend: s3
  s3:
    bucket: shares
    region: us-east-1
    endpoint: http://minio:9000
    usePathStyle: true
log:
  level: debug
  pretty: true
`), 0644))

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "/srv/sharesync", cfg.DataDir)
	assert.Equal(t, "share.example.com", cfg.WebDomain)
	assert.Equal(t, 15*time.Second, cfg.ReadTimeout)
	assert.Equal(t, "s3", cfg.Blob.Backend)
	assert.Equal(t, "shares", cfg.Blob.S3.Bucket)
	assert.True(t, cfg.Blob.S3.UsePathStyle)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultServerConfig().WriteTimeout, cfg.WriteTimeout)
}

func TestLoadServer_EnvOverrides(t *testing.T) {
	isolateServerEnv(t)
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: \":9090\"\n"), 0644))

	t.Setenv("SHARESYNC_LISTEN", ":7070")
	t.Setenv("WEB_DOMAIN", "env.example.com")
	t.Setenv("SHARESYNC_BLOB_BACKEND", "s3")
	t.Setenv("SHARESYNC_S3_BUCKET", "env-bucket")

	cfg, err := LoadServer(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "env.example.com", cfg.WebDomain)
	assert.Equal(t, "s3", cfg.Blob.Backend)
	assert.Equal(t, "env-bucket", cfg.Blob.S3.Bucket)
}

func TestLoadServer_RejectsUnknownBackend(t *testing.T) {
	isolateServerEnv(t)
	t.Setenv("SHARESYNC_BLOB_BACKEND", "ftp")

	_, err := LoadServer("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blob backend")
}

func TestLoadServer_InvalidYAML(t *testing.T) {
	isolateServerEnv(t)
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [:::"), 0644))

	_, err := LoadServer(path)
	assert.Error(t, err)
}
