// internal/config/loader.go
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// envPrefix namespaces the daemon's environment variables.
	envPrefix = "GATED_"
)

// Load reads configuration with the following precedence, highest first:
//
//  1. GATED_* environment variables (GATED_SERVER_HTTP_PORT,
//     GATED_GITHUB_WEBHOOK_SECRET, ...)
//  2. The YAML config file
//  3. Defaults applied in code
//
// configPath selects the YAML file; empty falls back to DefaultPath(). A
// missing file is not an error (environment plus defaults may be a complete
// configuration), but an existing file must be owner-only (0600 or 0400)
// because it carries the webhook secret and the GitHub token, and must stay
// under 1MB.
//
// Environment variables map to config keys by splitting on the first
// underscore after the prefix:
//
//	GATED_SERVER_HTTP_PORT      -> server.http_port
//	GATED_GITHUB_WEBHOOK_SECRET -> github.webhook_secret
//	GATED_ARCHIVE_RETENTION     -> archive.retention
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		configPath = DefaultPath()
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			// Open once and validate through the descriptor to avoid a
			// stat/read race.
			f, err := os.Open(configPath)
			if err != nil {
				return nil, fmt.Errorf("open config file: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return nil, fmt.Errorf("stat config file: %w", err)
			}
			if err := validateConfigFileProperties(info); err != nil {
				return nil, fmt.Errorf("config file %s: %w", configPath, err)
			}

			content, err := io.ReadAll(f)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parse config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", transformEnvKey), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// DefaultPath returns the first existing config file of
// ~/.config/gated/config.yaml and /etc/gated/config.yaml, or the user path
// even when absent so error messages point somewhere actionable.
func DefaultPath() string {
	var userPath string
	if home, err := os.UserHomeDir(); err == nil {
		userPath = filepath.Join(home, ".config", "gated", "config.yaml")
		if _, err := os.Stat(userPath); err == nil {
			return userPath
		}
	}
	const systemPath = "/etc/gated/config.yaml"
	if _, err := os.Stat(systemPath); err == nil {
		return systemPath
	}
	return userPath
}

// DefaultArchivePath returns the default location of the run archive.
func DefaultArchivePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".local", "share", "gated", "archive.db"), nil
}

// transformEnvKey maps GATED_SECTION_FIELD_NAME to section.field_name. The
// first underscore after the prefix separates section from field; later
// underscores stay in the field name.
func transformEnvKey(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	lower := strings.ToLower(s)
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model; skip the mode check there.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure permissions %v (expected 0600 or 0400): the file holds the webhook secret", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}

	return nil
}
