package config

import (
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

// Config holds all daemon configuration
type Config struct {
	// Server settings
	Port int
	Host string
	Env  string // "development" or "production"

	// Claude data directory (transcripts, todos, hook state)
	ClaudeDir string

	// Shared files between the hook scripts and this daemon
	StateFilePath   string
	CommandFilePath string

	// Database
	DatabasePath string

	// Process probe
	ProcessName   string
	ProbeInterval time.Duration

	// Transcript scanner
	ScanInterval time.Duration
	ScanWindow   time.Duration

	// Debug settings
	DebugModules string
}

var (
	cfg  *Config
	once sync.Once
)

// Get returns the global configuration (singleton)
func Get() *Config {
	once.Do(func() {
		cfg = load()
	})
	return cfg
}

// load reads configuration from environment variables
func load() *Config {
	claudeDir := getEnv("CLAUDE_MONITOR_CLAUDE_DIR", defaultClaudeDir())
	monitorDir := filepath.Join(claudeDir, "monitor")

	return &Config{
		// Server - bound to loopback, the companion UI runs on the same machine
		Port: getEnvInt("CLAUDE_MONITOR_PORT", 12808),
		Host: getEnv("CLAUDE_MONITOR_HOST", "127.0.0.1"),
		Env:  getEnv("ENV", "development"),

		// Claude data
		ClaudeDir:       claudeDir,
		StateFilePath:   getEnv("CLAUDE_MONITOR_STATE_FILE", filepath.Join(monitorDir, "state.json")),
		CommandFilePath: getEnv("CLAUDE_MONITOR_COMMAND_FILE", filepath.Join(monitorDir, "command.json")),

		// Database
		DatabasePath: getEnv("CLAUDE_MONITOR_DB", filepath.Join(monitorDir, "monitor.sqlite")),

		// Process probe
		ProcessName:   getEnv("CLAUDE_MONITOR_PROCESS", "claude"),
		ProbeInterval: getEnvDuration("CLAUDE_MONITOR_PROBE_INTERVAL", 2*time.Second),

		// Transcript scanner
		ScanInterval: getEnvDuration("CLAUDE_MONITOR_SCAN_INTERVAL", 3*time.Second),
		ScanWindow:   getEnvDuration("CLAUDE_MONITOR_SCAN_WINDOW", 2*time.Hour),

		// Debug
		DebugModules: getEnv("DEBUG", ""),
	}
}

// defaultClaudeDir returns ~/.claude, falling back to a relative path when the
// home directory cannot be resolved
func defaultClaudeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".claude"
	}
	return filepath.Join(homeDir, ".claude")
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env != "production"
}

// ProjectsDir returns the directory containing session transcript JSONL files
func (c *Config) ProjectsDir() string {
	return filepath.Join(c.ClaudeDir, "projects")
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
