// Package config provides configuration for staketrack. Settings come
// from environment variables with the STAKETRACK_ prefix, with sensible
// defaults; an optional YAML file can override any of them.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/staketrack/staketrack/internal/backup"
)

// Config holds all configuration for the staketrack process.
type Config struct {
	History   HistoryConfig       `yaml:"history"`
	Backup    BackupConfig        `yaml:"backup"`
	Artifacts ArtifactsConfig     `yaml:"artifacts"`
	Remote    backup.RemoteConfig `yaml:"remote"`
}

// HistoryConfig configures the operation history store.
type HistoryConfig struct {
	// DBPath is the history database location (default: ./data/history.db).
	DBPath string `yaml:"db_path"`
}

// BackupConfig configures the backup manager and its scheduler.
type BackupConfig struct {
	Dir           string `yaml:"dir"`            // backup directory (default: ./backups)
	Interval      string `yaml:"interval"`       // schedule period (default: 24h)
	MaxSuccessful int    `yaml:"max_successful"` // retention ceiling (default: 30)
	LockFile      string `yaml:"lock_file"`      // scheduler instance lock (default: <dir>/staketrack.lock)
	RemoteEnabled bool   `yaml:"remote_enabled"` // replicate archives to object storage
}

// ArtifactsConfig names the tracked artifact set.
type ArtifactsConfig struct {
	MainDatabase    string `yaml:"main_database"`    // primary relational store file
	HistoryDatabase string `yaml:"history_database"` // operation history store file
	ConfigFile      string `yaml:"config_file"`      // configuration file
	LogDir          string `yaml:"log_dir"`          // log directory tree
}

// TrackedArtifacts returns the tracked artifact set in backup order.
func (c *Config) TrackedArtifacts() []backup.Artifact {
	return []backup.Artifact{
		{Role: "main_database", Path: c.Artifacts.MainDatabase},
		{Role: "history_database", Path: c.Artifacts.HistoryDatabase},
		{Role: "config", Path: c.Artifacts.ConfigFile},
		{Role: "logs", Path: c.Artifacts.LogDir},
	}
}

// LoadConfig builds a Config from environment variables and defaults.
func LoadConfig() *Config {
	return &Config{
		History: HistoryConfig{
			DBPath: getEnv("STAKETRACK_HISTORY_DB", "./data/history.db"),
		},
		Backup: BackupConfig{
			Dir:           getEnv("STAKETRACK_BACKUP_DIR", "./backups"),
			Interval:      getEnv("STAKETRACK_BACKUP_INTERVAL", "24h"),
			MaxSuccessful: getEnvInt("STAKETRACK_BACKUP_MAX_SUCCESSFUL", 30),
			LockFile:      getEnv("STAKETRACK_BACKUP_LOCK_FILE", ""),
			RemoteEnabled: getEnvBool("STAKETRACK_BACKUP_REMOTE_ENABLED", false),
		},
		Artifacts: ArtifactsConfig{
			MainDatabase:    getEnv("STAKETRACK_MAIN_DB", "./data/staking.db"),
			HistoryDatabase: getEnv("STAKETRACK_HISTORY_DB", "./data/history.db"),
			ConfigFile:      getEnv("STAKETRACK_CONFIG_FILE", "./staketrack.yaml"),
			LogDir:          getEnv("STAKETRACK_LOG_DIR", "./logs"),
		},
		Remote: backup.RemoteConfig{
			Endpoint:   getEnv("STAKETRACK_REMOTE_ENDPOINT", ""),
			AccessKey:  getEnv("STAKETRACK_REMOTE_ACCESS_KEY", ""),
			SecretKey:  getEnv("STAKETRACK_REMOTE_SECRET_KEY", ""),
			Bucket:     getEnv("STAKETRACK_REMOTE_BUCKET", ""),
			PathPrefix: getEnv("STAKETRACK_REMOTE_PATH_PREFIX", ""),
		},
	}
}

// LoadConfigFile builds a Config from the environment, then overlays the
// YAML file at path on top of it.
func LoadConfigFile(path string) (*Config, error) {
	cfg := LoadConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a
// default value; unparsable values fall back to the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a
// default value; unparsable values fall back to the default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
