package types

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/adrg/xdg"
	"github.com/rs/zerolog"
)

const (
	DefaultListenAddr = ":9000"
	DefaultDataFile   = "/var/tmp/aesdsocketdata"
	DefaultChunkSize  = 1000
	DefaultBacklog    = 1
	DefaultSyslogTag  = "aesdsocket"

	daemonName = "aesdsocket"
)

// LogConfig holds logging settings
type LogConfig struct {
	Level     string `toml:"level"`
	Syslog    bool   `toml:"syslog"`
	SyslogTag string `toml:"syslog_tag"`
	File      string `toml:"file"`        // Optional rotated diagnostic log, empty disables
	MaxSizeMB int    `toml:"max_size_mb"` // Rotation threshold for File
}

// Config holds the server configuration
type Config struct {
	ListenAddr      string    `toml:"listen_addr"`
	DataFile        string    `toml:"data_file"`
	ChunkSize       int       `toml:"chunk_size"` // Receive growth increment and replay chunk
	Backlog         int       `toml:"backlog"`
	PIDFile         string    `toml:"pid_file"`
	PeerErrorsFatal bool      `toml:"peer_errors_fatal"` // Receive/send failures stop the serve loop
	ShutdownSignals []string  `toml:"shutdown_signals"`
	Log             LogConfig `toml:"log"`
}

// DefaultConfig returns a Config populated with the daemon's defaults
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:      DefaultListenAddr,
		DataFile:        DefaultDataFile,
		ChunkSize:       DefaultChunkSize,
		Backlog:         DefaultBacklog,
		PIDFile:         DefaultPIDFile(),
		ShutdownSignals: []string{"SIGINT", "SIGTERM"},
		Log: LogConfig{
			Level:     "info",
			Syslog:    true,
			SyslogTag: DefaultSyslogTag,
			MaxSizeMB: 10,
		},
	}
}

// Load reads a TOML config file on top of the defaults.
// An empty path yields the defaults; a named file must exist.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.ListenAddr, err)
	}

	if c.DataFile == "" {
		return fmt.Errorf("data file path is required")
	}
	if !filepath.IsAbs(c.DataFile) {
		// The daemon changes its working directory to /
		return fmt.Errorf("data file path must be absolute: %s", c.DataFile)
	}

	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be > 0, got %d", c.ChunkSize)
	}

	if c.Backlog <= 0 {
		return fmt.Errorf("backlog must be > 0, got %d", c.Backlog)
	}

	if c.PIDFile != "" && !filepath.IsAbs(c.PIDFile) {
		return fmt.Errorf("pid file path must be absolute: %s", c.PIDFile)
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(c.Log.Level)); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}

	if c.Log.File != "" && c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be > 0 when a log file is set, got %d", c.Log.MaxSizeMB)
	}

	return nil
}

// DefaultPIDFile returns the PID file path under the XDG runtime directory
func DefaultPIDFile() string {
	if xdg.RuntimeDir == "" {
		return filepath.Join(os.TempDir(), daemonName, daemonName+".pid")
	}
	return filepath.Join(xdg.RuntimeDir, daemonName, daemonName+".pid")
}
