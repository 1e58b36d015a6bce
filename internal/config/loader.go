package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// Load loads configuration with the following precedence (highest first):
//
//  1. Environment variables (CHIMERAD_SERVER_PORT, CHIMERAD_GATE_REVIEW_EXPIRY, ...)
//  2. YAML config file (configPath, optional)
//  3. Built-in defaults (Default())
//
// Environment variables use the CHIMERAD_ prefix with underscores mapped to
// config path separators for the known top-level sections:
//
//	CHIMERAD_SERVER_PORT          -> server.port
//	CHIMERAD_SCHEDULER_POOL_SIZE  -> scheduler.pool_size
//	CHIMERAD_NATS_URL             -> nats.url
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	cfg := Default()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			content, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if len(content) > maxConfigFileSize {
				return nil, fmt.Errorf("config file %s exceeds %d bytes", configPath, maxConfigFileSize)
			}
			if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
			}
		}
	}

	if err := k.Load(env.Provider("CHIMERAD_", ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// sections are the top-level config keys an environment variable may target.
var sections = []string{"server", "nats", "logging", "scheduler", "rate_limit", "cache", "gate"}

// envTransform maps CHIMERAD_SECTION_FIELD_NAME to section.field_name.
//
// Only the first underscore after a known section name becomes a separator;
// the rest of the variable keeps its underscores, matching the koanf field
// tags (pool_size, review_expiry, ...).
func envTransform(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "CHIMERAD_"))
	for _, section := range sections {
		if strings.HasPrefix(s, section+"_") {
			return section + "." + strings.TrimPrefix(s, section+"_")
		}
	}
	return s
}
