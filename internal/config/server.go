package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/opencode-ai/sharesync/internal/blob"
)

// ServerConfig configures the share server binary. It is read from an
// optional YAML file, then overridden by environment variables.
type ServerConfig struct {
	// Listen is the address the HTTP server binds to.
	Listen string `yaml:"listen"`

	// DataDir holds the kv database (and the local blob mirror unless
	// S3 is configured).
	DataDir string `yaml:"data_dir"`

	// WebDomain is the domain viewers browse; used only to format the
	// share URL returned by share_create.
	WebDomain string `yaml:"web_domain"`

	Blob BlobConfig `yaml:"blob"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Log ServerLogConfig `yaml:"log"`
}

// BlobConfig selects and configures the blob mirror backend.
type BlobConfig struct {
	// Backend is "local" or "s3".
	Backend string `yaml:"backend"`
	// LocalDir overrides where the local backend stores objects.
	// Defaults to <data_dir>/blobs.
	LocalDir string `yaml:"local_dir"`
	// S3 configures the s3 backend.
	S3 blob.S3Config `yaml:"s3"`
}

// ServerLogConfig controls server logging.
type ServerLogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// DefaultServerConfig returns the configuration used when no file and
// no environment overrides are present.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Listen:          ":4096",
		DataDir:         "/var/lib/sharesync",
		WebDomain:       "dev.opencode.ai",
		Blob:            BlobConfig{Backend: "local"},
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		Log:             ServerLogConfig{Level: "info"},
	}
}

// LoadServer reads the server configuration. A missing path is fine;
// an unreadable or invalid file is not.
func LoadServer(path string) (*ServerConfig, error) {
	cfg := DefaultServerConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	applyServerEnvOverrides(&cfg)

	if cfg.Blob.Backend != "local" && cfg.Blob.Backend != "s3" {
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Blob.Backend)
	}
	return &cfg, nil
}

func applyServerEnvOverrides(cfg *ServerConfig) {
	if listen := os.Getenv("SHARESYNC_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if dir := os.Getenv("SHARESYNC_DATA_DIR"); dir != "" {
		cfg.DataDir = dir
	}
	if domain := os.Getenv("WEB_DOMAIN"); domain != "" {
		cfg.WebDomain = domain
	}
	if backend := os.Getenv("SHARESYNC_BLOB_BACKEND"); backend != "" {
		cfg.Blob.Backend = backend
	}
	if bucket := os.Getenv("SHARESYNC_S3_BUCKET"); bucket != "" {
		cfg.Blob.S3.Bucket = bucket
	}
	if level := os.Getenv("SHARESYNC_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
}
