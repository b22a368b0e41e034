// Package config holds BLEEP's process-wide configuration: the per-user
// file layout (§6), environment overrides, and logger construction. It is
// the one place ambient, process-global state is allowed to live — every
// other package receives a *Config (or the loggers/paths derived from it)
// explicitly, per the Context-object pattern in §9.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// LogCategory names one of the newline-delimited log streams under logs/.
type LogCategory string

const (
	LogGeneral  LogCategory = "general"
	LogDebug    LogCategory = "debug"
	LogEnum     LogCategory = "enum"
	LogUser     LogCategory = "user"
	LogAgent    LogCategory = "agent"
	LogDatabase LogCategory = "database"
)

// Config holds application configuration. Fields tagged `env:"..."` are bound
// from the process environment by Load; DefaultConfig supplies the values
// used when no environment override is present.
type Config struct {
	LogLevel logrus.Level `json:"log_level" yaml:"-"`

	// ConfigRoot is $HOME/.bleep by default; all other paths are relative to it.
	ConfigRoot string `json:"config_root" yaml:"-" env:"BLEEP_CONFIG_ROOT"`
	DBPath     string `json:"db_path" yaml:"db_path" env:"BLEEP_DB_PATH"`
	CTFTarget  string `json:"ctf_target" yaml:"ctf_target" env:"BLE_CTF_MAC"`

	ScanTimeout   time.Duration `json:"scan_timeout" yaml:"scan_timeout"`
	DeviceTimeout time.Duration `json:"device_timeout" yaml:"device_timeout"`
	OutputFormat  string        `json:"output_format" yaml:"output_format"`

	// Per-operation reliability timeouts, §4.2. Zero means "use the default".
	ConnectTimeout     time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
	DisconnectTimeout  time.Duration `json:"disconnect_timeout" yaml:"disconnect_timeout"`
	PairTimeout        time.Duration `json:"pair_timeout" yaml:"pair_timeout"`
	GetPropertyTimeout time.Duration `json:"get_property_timeout" yaml:"get_property_timeout"`
	SetPropertyTimeout time.Duration `json:"set_property_timeout" yaml:"set_property_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout" yaml:"write_timeout"`
	NotifyStartTimeout time.Duration `json:"notify_start_timeout" yaml:"notify_start_timeout"`
	NotifyStopTimeout  time.Duration `json:"notify_stop_timeout" yaml:"notify_stop_timeout"`
	DefaultOpTimeout   time.Duration `json:"default_op_timeout" yaml:"default_op_timeout"`
}

// envOverrides binds settings that need custom parsing (logrus.Level has no
// env.TextUnmarshaler) before being folded into Config.
type envOverrides struct {
	LogLevel string `env:"BLEEP_LOG_LEVEL"`
}

// DefaultConfig returns default configuration values, matching §4.2's timeout
// table and §6's default config root.
func DefaultConfig() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return &Config{
		LogLevel:      logrus.InfoLevel,
		ConfigRoot:    filepath.Join(home, ".bleep"),
		ScanTimeout:   10 * time.Second,
		DeviceTimeout: 30 * time.Second,
		OutputFormat:  "table",

		ConnectTimeout:     15 * time.Second,
		DisconnectTimeout:  5 * time.Second,
		PairTimeout:        30 * time.Second,
		GetPropertyTimeout: 5 * time.Second,
		SetPropertyTimeout: 5 * time.Second,
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		NotifyStartTimeout: 5 * time.Second,
		NotifyStopTimeout:  5 * time.Second,
		DefaultOpTimeout:   10 * time.Second,
	}
}

// Load returns DefaultConfig overridden by config.yaml under ConfigRoot (if
// present), then by BLEEP_DB_PATH, BLEEP_LOG_LEVEL, BLEEP_CONFIG_ROOT, and
// BLE_CTF_MAC, per §6 — environment variables win over the file so a
// one-off override never requires editing it.
func Load() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := loadFileConfig(cfg); err != nil {
		return nil, err
	}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	var ov envOverrides
	if err := env.Parse(&ov); err != nil {
		return nil, err
	}
	if ov.LogLevel != "" {
		if lvl, err := logrus.ParseLevel(ov.LogLevel); err == nil {
			cfg.LogLevel = lvl
		}
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.ConfigRoot, "observations.db")
	}
	return cfg, nil
}

// loadFileConfig merges ConfigRoot/config.yaml into cfg when present. A
// missing file is not an error — most installs run on defaults plus env
// overrides alone.
func loadFileConfig(cfg *Config) error {
	data, err := os.ReadFile(filepath.Join(cfg.ConfigRoot, "config.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// AoIDir returns the per-device AoI snapshot directory.
func (c *Config) AoIDir() string { return filepath.Join(c.ConfigRoot, "aoi") }

// ReportsDir returns the dated result-bundle root.
func (c *Config) ReportsDir() string { return filepath.Join(c.ConfigRoot, "reports") }

// BondsDir returns the bond-record directory.
func (c *Config) BondsDir() string { return filepath.Join(c.ConfigRoot, "bonds") }

// LogsDir returns the log-stream directory.
func (c *Config) LogsDir() string { return filepath.Join(c.ConfigRoot, "logs") }

// SignalsDir returns the named signal-capture configuration directory.
func (c *Config) SignalsDir() string { return filepath.Join(c.ConfigRoot, "signals") }

// EnsureDirs creates the per-user directory layout described in §6.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.ConfigRoot, c.AoIDir(), c.ReportsDir(), c.BondsDir(), c.LogsDir(), c.SignalsDir()} {
		if err := os.MkdirAll(d, 0o700); err != nil {
			return err
		}
	}
	return nil
}

// NewLogger creates a configured logger instance writing to stderr.
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})
	return logger
}

// CategoryLogger returns a logger entry writing to logs/<category>.txt,
// tagged with a "component" field, following the category split in §6.
// Opening the category file is best-effort: on failure the base logger's
// destination is kept and the error is returned so callers can decide
// whether it's worth surfacing.
func (c *Config) CategoryLogger(base *logrus.Logger, category LogCategory) (*logrus.Entry, error) {
	entry := base.WithField("component", string(category))
	if err := os.MkdirAll(c.LogsDir(), 0o700); err != nil {
		return entry, err
	}
	f, err := os.OpenFile(filepath.Join(c.LogsDir(), string(category)+".txt"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return entry, err
	}
	dup := logrus.New()
	dup.SetLevel(base.GetLevel())
	dup.SetFormatter(base.Formatter)
	dup.SetOutput(f)
	return dup.WithField("component", string(category)), nil
}

// OperationTimeout returns the configured timeout for a named reliability
// operation, falling back to DefaultOpTimeout for unknown names.
func (c *Config) OperationTimeout(op string) time.Duration {
	switch op {
	case "connect":
		return c.ConnectTimeout
	case "disconnect":
		return c.DisconnectTimeout
	case "pair":
		return c.PairTimeout
	case "get_property":
		return c.GetPropertyTimeout
	case "set_property":
		return c.SetPropertyTimeout
	case "read":
		return c.ReadTimeout
	case "write":
		return c.WriteTimeout
	case "notify_start":
		return c.NotifyStartTimeout
	case "notify_stop":
		return c.NotifyStopTimeout
	default:
		return c.DefaultOpTimeout
	}
}
