package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/tidwall/jsonc"

	"github.com/opencode-ai/sharesync/pkg/types"
)

// Load loads the author configuration from multiple sources
// (priority order):
//  1. Global config (~/.config/sharesync/)
//  2. Project config (sharesync.json / .sharesync/ in directory)
//  3. SHARESYNC_CONFIG file
//  4. SHARESYNC_CONFIG_CONTENT inline JSON
//  5. Environment variables
func Load(directory string) (*types.Config, error) {
	config := &types.Config{}

	// Track loaded files to avoid duplicates
	loaded := make(map[string]bool)

	loadOnce := func(path string, baseDir string) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return
		}
		if loaded[absPath] {
			return
		}
		if loadConfigFile(path, config, baseDir) == nil {
			loaded[absPath] = true
		}
	}

	// 1. Global XDG config
	globalPath := GetPaths().Config
	loadOnce(filepath.Join(globalPath, "sharesync.json"), globalPath)
	loadOnce(filepath.Join(globalPath, "sharesync.jsonc"), globalPath)

	// 2. Project config
	if directory != "" {
		projectConfigDir := filepath.Join(directory, ".sharesync")
		loadOnce(filepath.Join(directory, "sharesync.json"), directory)
		loadOnce(filepath.Join(directory, "sharesync.jsonc"), directory)
		loadOnce(filepath.Join(projectConfigDir, "sharesync.json"), projectConfigDir)
		loadOnce(filepath.Join(projectConfigDir, "sharesync.jsonc"), projectConfigDir)
	}

	// 3. SHARESYNC_CONFIG file override
	if configPath := os.Getenv("SHARESYNC_CONFIG"); configPath != "" {
		configDir := filepath.Dir(configPath)
		loadOnce(configPath, configDir)
	}

	// 4. SHARESYNC_CONFIG_CONTENT inline JSON
	if configContent := os.Getenv("SHARESYNC_CONFIG_CONTENT"); configContent != "" {
		var inlineConfig types.Config
		if err := json.Unmarshal([]byte(configContent), &inlineConfig); err == nil {
			mergeConfig(config, &inlineConfig)
		}
	}

	// 5. Environment variables (highest priority)
	applyEnvOverrides(config)

	return config, nil
}

// loadConfigFile loads a single config file with interpolation support.
func loadConfigFile(path string, config *types.Config, baseDir string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err // File doesn't exist, skip
	}

	// Strip JSONC comments using tidwall/jsonc
	data = jsonc.ToJSON(data)

	// Apply interpolation
	data = interpolate(data, baseDir)

	var fileConfig types.Config
	if err := json.Unmarshal(data, &fileConfig); err != nil {
		return err
	}

	mergeConfig(config, &fileConfig)
	return nil
}

// interpolate processes {env:VAR} and {file:path} placeholders.
func interpolate(data []byte, baseDir string) []byte {
	str := string(data)

	// Handle {env:VAR_NAME} placeholders
	envPattern := regexp.MustCompile(`\{env:([^}]+)\}`)
	str = envPattern.ReplaceAllStringFunc(str, func(match string) string {
		varName := envPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})

	// Handle {file:path} placeholders
	filePattern := regexp.MustCompile(`\{file:([^}]+)\}`)
	str = filePattern.ReplaceAllStringFunc(str, func(match string) string {
		filePath := filePattern.FindStringSubmatch(match)[1]

		// Resolve path
		if strings.HasPrefix(filePath, "~/") {
			home := os.Getenv("HOME")
			filePath = filepath.Join(home, filePath[2:])
		} else if !filepath.IsAbs(filePath) {
			filePath = filepath.Join(baseDir, filePath)
		}

		content, err := os.ReadFile(filePath)
		if err != nil {
			return match // Keep original if file not found
		}

		// Escape for JSON string
		escaped := strings.ReplaceAll(string(content), "\\", "\\\\")
		escaped = strings.ReplaceAll(escaped, "\"", "\\\"")
		escaped = strings.ReplaceAll(escaped, "\n", "\\n")
		escaped = strings.ReplaceAll(escaped, "\r", "\\r")
		escaped = strings.ReplaceAll(escaped, "\t", "\\t")

		return escaped
	})

	return []byte(str)
}

// mergeConfig merges source config into target.
func mergeConfig(target, source *types.Config) {
	if source.Schema != "" {
		target.Schema = source.Schema
	}
	if source.Username != "" {
		target.Username = source.Username
	}
	if source.Share != "" {
		target.Share = source.Share
	}
	if source.API != "" {
		target.API = source.API
	}
	if source.WebDomain != "" {
		target.WebDomain = source.WebDomain
	}
	if source.Log != nil {
		target.Log = source.Log
	}
}

// applyEnvOverrides applies environment variable overrides.
func applyEnvOverrides(config *types.Config) {
	if api := os.Getenv("SHARESYNC_API"); api != "" {
		config.API = api
	}
	if domain := os.Getenv("WEB_DOMAIN"); domain != "" {
		config.WebDomain = domain
	}
	if share := os.Getenv("SHARESYNC_SHARE"); share != "" {
		config.Share = share
	}
	if level := os.Getenv("SHARESYNC_LOG_LEVEL"); level != "" {
		if config.Log == nil {
			config.Log = &types.LogConfig{}
		}
		config.Log.Level = level
	}
}

// Save saves the configuration to a file.
func Save(config *types.Config, path string) error {
	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// GetConfigDir returns the config directory to use.
// Prefers SHARESYNC_CONFIG_DIR, then ~/.config/sharesync.
func GetConfigDir() string {
	if dir := os.Getenv("SHARESYNC_CONFIG_DIR"); dir != "" {
		return dir
	}
	return GetPaths().Config
}
