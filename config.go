package sessiond

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/everydev1618/sessiond/container"
)

// Config holds everything the daemon needs, resolved once at startup.
// It is passed by reference to every component; nothing reads the
// environment or a config file after construction.
type Config struct {
	// SocketPath is the Unix domain socket the daemon listens on.
	SocketPath string `yaml:"socket_path"`

	// DataDir holds daemon state such as the request journal.
	DataDir string `yaml:"data_dir"`

	// LogRoot is the host directory that receives one log directory
	// per session, bind mounted into the session container.
	LogRoot string `yaml:"log_root"`

	// DefaultImage names the image built for sessions that do not ask
	// for a specific one. It must have an entry in Images.
	DefaultImage string `yaml:"default_image"`

	// HelperImage is the throwaway image used for volume helper
	// containers (ownership fixes, snapshot extraction).
	HelperImage string `yaml:"helper_image"`

	// MemoryLimitMB caps each session container's memory.
	MemoryLimitMB int64 `yaml:"memory_limit_mb"`

	// CPUCount caps each session container's CPU allotment.
	CPUCount float64 `yaml:"cpu_count"`

	// SandboxUID and SandboxGID identify the unprivileged user inside
	// session containers. Execs, helpers and log directories use them.
	SandboxUID int `yaml:"sandbox_uid"`
	SandboxGID int `yaml:"sandbox_gid"`

	// SnapshotRoots are the only directories snapshot archives may be
	// read from. Empty means snapshots are disabled.
	SnapshotRoots []string `yaml:"snapshot_roots"`

	// Images maps image name to its build definition.
	Images map[string]container.ImageBuild `yaml:"images"`
}

// DefaultConfig returns the stock root-owned layout.
func DefaultConfig() *Config {
	return &Config{
		SocketPath:    "/run/sessiond.sock",
		DataDir:       "/var/lib/sessiond",
		LogRoot:       "/var/log/sessiond",
		DefaultImage:  "claude-env",
		HelperImage:   "busybox:stable",
		MemoryLimitMB: 4096,
		CPUCount:      2,
		SandboxUID:    1000,
		SandboxGID:    1000,
		SnapshotRoots: []string{"/var/lib/sessiond/snapshots"},
		Images: map[string]container.ImageBuild{
			"claude-env": {Context: "/etc/sessiond/images/claude-env"},
		},
	}
}

// LoadConfig reads a YAML config file over the defaults. An empty path
// returns the defaults unchanged. The result is always validated.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first problem that would make the daemon
// misbehave at runtime.
func (c *Config) Validate() error {
	if c.SocketPath == "" {
		return fmt.Errorf("socket_path must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.LogRoot == "" {
		return fmt.Errorf("log_root must not be empty")
	}
	if c.HelperImage == "" {
		return fmt.Errorf("helper_image must not be empty")
	}
	if c.MemoryLimitMB <= 0 {
		return fmt.Errorf("memory_limit_mb must be positive, got %d", c.MemoryLimitMB)
	}
	if c.CPUCount <= 0 {
		return fmt.Errorf("cpu_count must be positive, got %g", c.CPUCount)
	}
	if c.DefaultImage == "" {
		return fmt.Errorf("default_image must not be empty")
	}
	if _, ok := c.Images[c.DefaultImage]; !ok {
		return fmt.Errorf("default image %q has no build definition", c.DefaultImage)
	}
	return nil
}

// JournalPath is where the request journal database lives.
func (c *Config) JournalPath() string {
	return filepath.Join(c.DataDir, "journal.db")
}

// SessionLogDir is the host directory bind mounted into one session for
// its log output.
func (c *Config) SessionLogDir(sessionID string) string {
	return filepath.Join(c.LogRoot, sessionID)
}

// SandboxUser formats the uid:gid pair that execs and helper containers
// run as.
func (c *Config) SandboxUser() string {
	return fmt.Sprintf("%d:%d", c.SandboxUID, c.SandboxGID)
}

// EnsureDirs creates the directories the daemon writes to.
func (c *Config) EnsureDirs() error {
	dirs := []string{c.DataDir, c.LogRoot}
	dirs = append(dirs, c.SnapshotRoots...)
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return nil
}
