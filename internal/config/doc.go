// Package config provides configuration loading and path management for
// both sharesync binaries.
//
// # Author configuration
//
// The Load function merges the CLI configuration from multiple sources
// in priority order:
//
//  1. Global config (~/.config/sharesync/)
//  2. Project config (sharesync.json / .sharesync/ in the directory)
//  3. SHARESYNC_CONFIG file
//  4. SHARESYNC_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// Files may be JSON or JSONC (comments are stripped with
// tidwall/jsonc), and string values support two interpolations:
//
//   - {env:VAR_NAME} expands to an environment variable
//   - {file:path} expands to file contents, escaped for JSON; relative
//     paths resolve against the config file's directory and ~/ against
//     HOME
//
// # Server configuration
//
// LoadServer reads the share server's YAML file and applies environment
// overrides (SHARESYNC_LISTEN, SHARESYNC_DATA_DIR, WEB_DOMAIN,
// SHARESYNC_BLOB_BACKEND, SHARESYNC_S3_BUCKET, SHARESYNC_LOG_LEVEL).
// The file is optional; defaults serve a single-node local deployment.
//
// # Path management
//
// Paths follows the XDG Base Directory Specification:
//
//   - Data: ~/.local/share/sharesync (XDG_DATA_HOME)
//   - Config: ~/.config/sharesync (XDG_CONFIG_HOME)
//   - Cache: ~/.cache/sharesync (XDG_CACHE_HOME)
//   - State: ~/.local/state/sharesync (XDG_STATE_HOME)
//
// On Windows these fall back to APPDATA.
package config
