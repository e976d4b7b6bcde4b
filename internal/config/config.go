package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all application configuration
type Config struct {
	Port       int
	DBPath     string
	MountPoint string // remote-backed FUSE mount, health-checked before runs
	RsyncPath  string

	DefaultParallelism int
	DefaultRsyncArgs   string
	DefaultExcludes    []string // applied when a job has no exclude patterns
}

// Load reads configuration from environment variables
func Load() *Config {
	cfg := &Config{
		Port:               getEnvInt("FANSYNC_PORT", 8080),
		DBPath:             ExpandPath(getEnv("FANSYNC_DB_PATH", "./data/fansync.db")),
		MountPoint:         ExpandPath(getEnv("FANSYNC_MOUNT_POINT", "/mnt/remote")),
		RsyncPath:          getEnv("FANSYNC_RSYNC_PATH", "rsync"),
		DefaultParallelism: getEnvInt("FANSYNC_PARALLELISM", 4),
		DefaultRsyncArgs:   getEnv("FANSYNC_RSYNC_ARGS", "-a --partial"),
	}

	// Parse comma-separated exclude patterns
	if patterns := getEnv("FANSYNC_EXCLUDES", ""); patterns != "" {
		for _, p := range strings.Split(patterns, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.DefaultExcludes = append(cfg.DefaultExcludes, p)
			}
		}
	}

	return cfg
}

// ExpandPath expands a leading ~ to the user's home directory and cleans
// the result. Relative paths stay relative.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[1:])
		}
	}
	return filepath.Clean(path)
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
