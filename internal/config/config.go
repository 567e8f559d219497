// Package config loads termbot settings from ~/.termbot/config.toml, a .env
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/asheshgoplani/termbot/internal/logging"
)

var configLog = logging.ForComponent(logging.CompConfig)

const (
	// DirName is the per-user state directory under $HOME.
	DirName = ".termbot"

	// FileName is the config file inside DirName.
	FileName = "config.toml"

	// StateDBName is the default connection store inside DirName.
	StateDBName = "state.db"
)

var (
	// ErrNoToken means no bot token was configured.
	ErrNoToken = errors.New("TELEGRAM_BOT_TOKEN not set")

	// ErrNoUsers means the authorized user list is empty. termbot refuses
	// to start rather than accept commands from anyone.
	ErrNoUsers = errors.New("AUTHORIZED_USERS not set - refusing to start")
)

// Config is the full termbot configuration.
type Config struct {
	Telegram TelegramSettings `toml:"telegram"`
	Bridge   BridgeSettings   `toml:"bridge"`
	Log      LogSettings      `toml:"log"`
	Web      WebSettings      `toml:"web"`
	State    StateSettings    `toml:"state"`
	Health   HealthSettings   `toml:"health"`
	UI       UISettings       `toml:"ui"`

	// Path is the config file that was read, empty if none.
	Path string `toml:"-"`
}

// TelegramSettings configures the bot account and who may use it.
type TelegramSettings struct {
	Token           string  `toml:"token"`
	AuthorizedUsers []int64 `toml:"authorized_users"`

	// PollTimeout is the getUpdates long-poll timeout in seconds.
	PollTimeout int `toml:"poll_timeout"`
}

// BridgeSettings tunes pane polling and message formatting.
type BridgeSettings struct {
	// Mode is "window" (edit one message) or "stream" (send new lines).
	Mode string `toml:"mode"`

	// PollInterval in seconds.
	PollInterval float64 `toml:"poll_interval"`

	// TerminalLines is how many trailing pane lines a window shows.
	TerminalLines int `toml:"terminal_lines"`

	// MaxLineWidth clips long lines by display width; 0 disables.
	MaxLineWidth int `toml:"max_line_width"`

	// MinBurstInterval and FlushDelay (seconds) control stream coalescing.
	MinBurstInterval float64 `toml:"min_burst_interval"`
	FlushDelay       float64 `toml:"flush_delay"`

	// DefaultWorkDir is where /new starts sessions.
	DefaultWorkDir string `toml:"default_work_dir"`
}

// LogSettings mirrors logging.Config.
type LogSettings struct {
	Dir        string `toml:"dir"`
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	ToStderr   bool   `toml:"to_stderr"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days"`
	Compress   bool   `toml:"compress"`
	PprofAddr  string `toml:"pprof_addr"`

	// RingBufferKB sizes the in-memory buffer dumped on SIGUSR1.
	RingBufferKB int `toml:"ring_buffer_kb"`

	// SummaryInterval in seconds between repeated-event summaries.
	SummaryInterval float64 `toml:"summary_interval"`
}

// WebSettings enables the status server. Empty Listen disables it.
type WebSettings struct {
	Listen string `toml:"listen"`
	Token  string `toml:"token"`
}

// StateSettings locates the connection store. Disabled turns persistence off.
type StateSettings struct {
	DBPath   string `toml:"db_path"`
	Disabled bool   `toml:"disabled"`
}

// HealthSettings tunes the transport health monitor.
type HealthSettings struct {
	// CheckInterval in seconds.
	CheckInterval float64 `toml:"check_interval"`
}

// UISettings styles the local preview. Theme is dark, light or system.
type UISettings struct {
	Theme string `toml:"theme"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Telegram: TelegramSettings{PollTimeout: 30},
		Bridge: BridgeSettings{
			Mode:             "window",
			PollInterval:     1,
			TerminalLines:    30,
			MinBurstInterval: 2,
			FlushDelay:       0.5,
			DefaultWorkDir:   "~",
		},
		Log: LogSettings{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 10,

			RingBufferKB:    2048,
			SummaryInterval: 60,
		},
		Health: HealthSettings{CheckInterval: 300},
		UI:     UISettings{Theme: "dark"},
	}
}

// Dir returns ~/.termbot.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}

// DefaultPath returns ~/.termbot/config.toml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Load reads the config file at path (the default path when empty), then
// .env files, then the environment. A missing default file is fine; a
// missing explicit file is an error. The result is not validated.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	if err := cfg.decodeFile(path); err != nil {
		if !errors.Is(err, os.ErrNotExist) || explicit {
			return nil, err
		}
	} else {
		cfg.Path = path
	}

	loadDotEnv(filepath.Dir(path))
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	cfg.expandPaths()
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return fmt.Errorf("config.toml parse error: %w", err)
	}
	return nil
}

// loadDotEnv loads ./.env and <dir>/.env. Variables already set win.
func loadDotEnv(dir string) {
	for _, f := range []string{".env", filepath.Join(dir, ".env")} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			configLog.Warn("dotenv_load_failed", "file", f, "error", err)
			continue
		}
		configLog.Debug("dotenv_loaded", "file", f)
	}
}

// applyEnv overrides settings from environment variables.
func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := getenv("AUTHORIZED_USERS"); v != "" {
		ids, err := ParseUserIDs(v)
		if err != nil {
			return fmt.Errorf("AUTHORIZED_USERS: %w", err)
		}
		c.Telegram.AuthorizedUsers = ids
	}
	if v := getenv("POLL_INTERVAL"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("POLL_INTERVAL: %w", err)
		}
		c.Bridge.PollInterval = f
	}
	if v := getenv("TERMINAL_LINES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("TERMINAL_LINES: %w", err)
		}
		c.Bridge.TerminalLines = n
	}
	if v := getenv("DEFAULT_WORK_DIR"); v != "" {
		c.Bridge.DefaultWorkDir = v
	}
	if v := getenv("TERMBOT_MODE"); v != "" {
		c.Bridge.Mode = v
	}
	if v := getenv("TERMBOT_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("TERMBOT_WEB_LISTEN"); v != "" {
		c.Web.Listen = v
	}
	if v := getenv("TERMBOT_WEB_TOKEN"); v != "" {
		c.Web.Token = v
	}
	if v := getenv("TERMBOT_THEME"); v != "" {
		c.UI.Theme = v
	}
	return nil
}

func (c *Config) expandPaths() {
	c.Bridge.DefaultWorkDir = ExpandHome(c.Bridge.DefaultWorkDir)
	c.Log.Dir = ExpandHome(c.Log.Dir)
	c.State.DBPath = ExpandHome(c.State.DBPath)
}

// ParseUserIDs parses a comma separated list of Telegram user ids.
// Blank entries and surrounding spaces are ignored.
func ParseUserIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	if c.Telegram.Token == "" {
		return ErrNoToken
	}
	if len(c.Telegram.AuthorizedUsers) == 0 {
		return ErrNoUsers
	}
	switch c.Bridge.Mode {
	case "window", "stream":
	default:
		return fmt.Errorf("bridge.mode: unknown mode %q", c.Bridge.Mode)
	}
	if c.Bridge.PollInterval <= 0 {
		return fmt.Errorf("bridge.poll_interval must be positive, got %v", c.Bridge.PollInterval)
	}
	if c.Bridge.TerminalLines <= 0 {
		return fmt.Errorf("bridge.terminal_lines must be positive, got %d", c.Bridge.TerminalLines)
	}
	if c.Bridge.MaxLineWidth < 0 {
		return fmt.Errorf("bridge.max_line_width must not be negative, got %d", c.Bridge.MaxLineWidth)
	}
	return nil
}

// PollInterval returns Bridge.PollInterval as a duration.
func (c *Config) PollInterval() time.Duration {
	return seconds(c.Bridge.PollInterval)
}

// MinBurstInterval returns Bridge.MinBurstInterval as a duration.
func (c *Config) MinBurstInterval() time.Duration {
	return seconds(c.Bridge.MinBurstInterval)
}

// FlushDelay returns Bridge.FlushDelay as a duration.
func (c *Config) FlushDelay() time.Duration {
	return seconds(c.Bridge.FlushDelay)
}

// HealthInterval returns Health.CheckInterval as a duration.
func (c *Config) HealthInterval() time.Duration {
	return seconds(c.Health.CheckInterval)
}

// LogDir returns the log directory, defaulting to ~/.termbot.
func (c *Config) LogDir() (string, error) {
	if c.Log.Dir != "" {
		return c.Log.Dir, nil
	}
	return Dir()
}

// StateDBPath returns the connection store path, defaulting to
// ~/.termbot/state.db.
func (c *Config) StateDBPath() (string, error) {
	if c.State.DBPath != "" {
		return c.State.DBPath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, StateDBName), nil
}

// Logging converts the log settings for logging.Init.
func (c *Config) Logging(dir string) logging.Config {
	return logging.Config{
		LogDir:     dir,
		Level:      c.Log.Level,
		Format:     c.Log.Format,
		ToStderr:   c.Log.ToStderr,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
		PprofAddr:  c.Log.PprofAddr,

		RingBufferSize:  c.Log.RingBufferKB << 10,
		SummaryInterval: seconds(c.Log.SummaryInterval),
	}
}

func seconds(f float64) time.Duration {
	return time.Duration(f * float64(time.Second))
}
