// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mailgate service.
type Config struct {
	// Pipeline tuning.
	FetchLimit     int           // result sets below this size are cached wholesale
	MoveChunkSize  int           // cross-account copy/move batch size
	MinSearchChars int           // minimum search pattern length; 0 disables the check
	ArchiveFolder  string        // default archive folder name
	RetryBackoff   time.Duration // base backoff before the single transient retry
	WarmGuardTTL   time.Duration // cross-process cache warm lock lifetime

	// Backends.
	DatabaseURL string
	RedisURL    string
	EventsQueue string

	// Server (health check only).
	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mail struct {
		FetchLimit     int    `yaml:"fetch_limit"`
		MoveChunkSize  int    `yaml:"move_chunk_size"`
		MinSearchChars int    `yaml:"min_search_chars"`
		ArchiveFolder  string `yaml:"archive_folder"`
	} `yaml:"mail"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Events string `yaml:"events"`
		} `yaml:"queues"`
	} `yaml:"redis"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := Default()
	if raw.Mail.FetchLimit > 0 {
		cfg.FetchLimit = raw.Mail.FetchLimit
	}
	if raw.Mail.MoveChunkSize > 0 {
		cfg.MoveChunkSize = raw.Mail.MoveChunkSize
	}
	if raw.Mail.MinSearchChars > 0 {
		cfg.MinSearchChars = raw.Mail.MinSearchChars
	}
	if raw.Mail.ArchiveFolder != "" {
		cfg.ArchiveFolder = raw.Mail.ArchiveFolder
	}

	cfg.FetchLimit = envOrDefaultInt("FETCH_LIMIT", cfg.FetchLimit)
	cfg.MoveChunkSize = envOrDefaultInt("MOVE_CHUNK_SIZE", cfg.MoveChunkSize)
	cfg.MinSearchChars = envOrDefaultInt("MIN_SEARCH_CHARS", cfg.MinSearchChars)
	cfg.RetryBackoff = envOrDefaultDuration("RETRY_BACKOFF", cfg.RetryBackoff)
	cfg.WarmGuardTTL = envOrDefaultDuration("WARM_GUARD_TTL", cfg.WarmGuardTTL)
	cfg.DatabaseURL = firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", ""))
	cfg.RedisURL = firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0"))
	cfg.EventsQueue = firstNonEmpty(raw.Redis.Queues.Events, envOrDefault("EVENTS_QUEUE", "mail-events"))
	cfg.Port = envOrDefaultInt("PORT", cfg.Port)

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("no database configured: set database.url in config.yaml or DATABASE_URL")
	}

	return cfg, nil
}

// Default returns the built-in defaults, also used directly by tests.
func Default() *Config {
	return &Config{
		FetchLimit:     1000,
		MoveChunkSize:  50,
		MinSearchChars: 0,
		ArchiveFolder:  "Archive",
		RetryBackoff:   time.Second,
		WarmGuardTTL:   60 * time.Second,
		EventsQueue:    "mail-events",
		Port:           8080,
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
