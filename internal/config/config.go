// Package config loads focusd's TOML configuration and applies defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
)

// FileName is the TOML config file under the state dir.
const FileName = "config.toml"

// Config is the user-facing configuration. All fields have working defaults;
// an absent config file is not an error.
type Config struct {
	// Socket is the unix socket path the daemon binds.
	Socket string `toml:"socket"`

	// StateDir holds the database, logs and the config file itself.
	StateDir string `toml:"state_dir"`

	// DBFile is the sqlite database filename inside StateDir.
	DBFile string `toml:"db_file"`

	Log        LogSettings        `toml:"log"`
	Liveness   LivenessSettings   `toml:"liveness"`
	Activity   ActivitySettings   `toml:"activity"`
	Transition TransitionSettings `toml:"transitions"`
}

// LogSettings mirrors the logging package knobs.
type LogSettings struct {
	Level        string `toml:"level"`
	Format       string `toml:"format"`
	MaxSizeMB    int    `toml:"max_size_mb"`
	MaxBackups   int    `toml:"max_backups"`
	MaxAgeDays   int    `toml:"max_age_days"`
	Compress     bool   `toml:"compress"`
	PprofEnabled bool   `toml:"pprof_enabled"`
}

// LivenessSettings tunes process-liveness probing and staleness handling.
type LivenessSettings struct {
	// TrustWindowSecs: records updated within this window skip the OS probe.
	TrustWindowSecs int `toml:"trust_window_secs"`

	// GraceSecs: a dead record older than this becomes a tombstone.
	GraceSecs int `toml:"grace_secs"`

	// IdleAfterMins: a ready record idle this long reports as idle.
	IdleAfterMins int `toml:"idle_after_mins"`

	// SweepIntervalSecs between liveness/retention sweeps.
	SweepIntervalSecs int `toml:"sweep_interval_secs"`
}

// ActivitySettings tunes the fallback activity store.
type ActivitySettings struct {
	// Tools is the allow-list of tool names worth recording. Pure discovery
	// tools are excluded by default.
	Tools []string `toml:"tools"`

	// MaxPerSession bounds the per-session ring.
	MaxPerSession int `toml:"max_per_session"`

	// StalenessMins is the default window for "recent activity" queries.
	StalenessMins int `toml:"staleness_mins"`

	// RetentionHours for the global sweep.
	RetentionHours int `toml:"retention_hours"`

	// RootMarkers recognized by project boundary detection.
	RootMarkers []string `toml:"root_markers"`
}

// TransitionSettings lets the waiting-state mapping be tuned without a
// rebuild. The exact events that should park a session in Waiting differ
// between host tool versions, so they are data, not code.
type TransitionSettings struct {
	// WaitingEvents: event types that move a session to Waiting.
	WaitingEvents []string `toml:"waiting_events"`

	// WaitingNotifications: notification_type values that move a session
	// to Waiting.
	WaitingNotifications []string `toml:"waiting_notifications"`

	// ReadyNotifications: notification_type values that move a session
	// back to Ready.
	ReadyNotifications []string `toml:"ready_notifications"`
}

// DefaultStateDir returns ~/.focusd, or a temp fallback when the home
// directory cannot be resolved.
func DefaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".focusd")
	}
	return filepath.Join(home, ".focusd")
}

// Default returns the built-in configuration.
func Default() *Config {
	stateDir := DefaultStateDir()
	return &Config{
		Socket:   filepath.Join(stateDir, "focusd.sock"),
		StateDir: stateDir,
		DBFile:   "state.db",
		Log: LogSettings{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 10,
			Compress:   true,
		},
		Liveness: LivenessSettings{
			TrustWindowSecs:   15,
			GraceSecs:         60,
			IdleAfterMins:     30,
			SweepIntervalSecs: 30,
		},
		Activity: ActivitySettings{
			Tools:          []string{"Edit", "Write", "MultiEdit", "NotebookEdit", "Bash", "Read"},
			MaxPerSession:  50,
			StalenessMins:  5,
			RetentionHours: 24,
			RootMarkers:    []string{".git", "go.mod", "package.json", "Cargo.toml", "pyproject.toml", ".hg"},
		},
		Transition: TransitionSettings{
			WaitingEvents:        []string{"permission-request"},
			WaitingNotifications: []string{"permission_prompt", "elicitation_dialog"},
			ReadyNotifications:   []string{"idle-prompt", "idle_prompt"},
		},
	}
}

// Path returns the config file location: $FOCUSD_CONFIG if set, otherwise
// <state dir>/config.toml.
func Path() string {
	if p := os.Getenv("FOCUSD_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(DefaultStateDir(), FileName)
}

// Load reads the config file at path, layering it over the defaults. A
// missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyFloors()
	return cfg, nil
}

// applyFloors clamps nonsense values back to defaults.
func (c *Config) applyFloors() {
	def := Default()
	if c.Socket == "" {
		c.Socket = def.Socket
	}
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	if c.DBFile == "" {
		c.DBFile = def.DBFile
	}
	if c.Liveness.TrustWindowSecs <= 0 {
		c.Liveness.TrustWindowSecs = def.Liveness.TrustWindowSecs
	}
	if c.Liveness.GraceSecs <= 0 {
		c.Liveness.GraceSecs = def.Liveness.GraceSecs
	}
	if c.Liveness.IdleAfterMins <= 0 {
		c.Liveness.IdleAfterMins = def.Liveness.IdleAfterMins
	}
	if c.Liveness.SweepIntervalSecs <= 0 {
		c.Liveness.SweepIntervalSecs = def.Liveness.SweepIntervalSecs
	}
	if c.Activity.MaxPerSession <= 0 {
		c.Activity.MaxPerSession = def.Activity.MaxPerSession
	}
	if c.Activity.StalenessMins <= 0 {
		c.Activity.StalenessMins = def.Activity.StalenessMins
	}
	if c.Activity.RetentionHours <= 0 {
		c.Activity.RetentionHours = def.Activity.RetentionHours
	}
	if len(c.Activity.Tools) == 0 {
		c.Activity.Tools = def.Activity.Tools
	}
	if len(c.Activity.RootMarkers) == 0 {
		c.Activity.RootMarkers = def.Activity.RootMarkers
	}
}

// DBPath returns the absolute database path.
func (c *Config) DBPath() string {
	return filepath.Join(c.StateDir, c.DBFile)
}

// TrustWindow returns the liveness trust window as a duration.
func (c *Config) TrustWindow() time.Duration {
	return time.Duration(c.Liveness.TrustWindowSecs) * time.Second
}

// Grace returns the dead-record grace period as a duration.
func (c *Config) Grace() time.Duration {
	return time.Duration(c.Liveness.GraceSecs) * time.Second
}

// IdleAfter returns the idle derivation window as a duration.
func (c *Config) IdleAfter() time.Duration {
	return time.Duration(c.Liveness.IdleAfterMins) * time.Minute
}

// SweepInterval returns the background sweep cadence.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Liveness.SweepIntervalSecs) * time.Second
}

// Staleness returns the activity staleness window as a duration.
func (c *Config) Staleness() time.Duration {
	return time.Duration(c.Activity.StalenessMins) * time.Minute
}

// Retention returns the activity retention threshold as a duration.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Activity.RetentionHours) * time.Hour
}

// Store holds the live config behind a lock so the reload watcher can swap
// it while the daemon runs.
type Store struct {
	mu  sync.RWMutex
	cfg *Config
}

// NewStore wraps an initial config.
func NewStore(cfg *Config) *Store {
	return &Store{cfg: cfg}
}

// Get returns the current config snapshot.
func (s *Store) Get() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Set swaps in a new config.
func (s *Store) Set(cfg *Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}
