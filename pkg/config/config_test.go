package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, logrus.InfoLevel, cfg.LogLevel)
	assert.Equal(t, 10*time.Second, cfg.ScanTimeout)
	assert.Equal(t, 30*time.Second, cfg.DeviceTimeout)
	assert.Equal(t, "table", cfg.OutputFormat)
	assert.Equal(t, 15*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 30*time.Second, cfg.PairTimeout)
	assert.NotEmpty(t, cfg.ConfigRoot)
}

func TestConfig_NewLogger(t *testing.T) {
	tests := []struct {
		name     string
		logLevel logrus.Level
	}{
		{name: "debug", logLevel: logrus.DebugLevel},
		{name: "info", logLevel: logrus.InfoLevel},
		{name: "warn", logLevel: logrus.WarnLevel},
		{name: "error", logLevel: logrus.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{LogLevel: tt.logLevel}
			logger := cfg.NewLogger()

			assert.NotNil(t, logger)
			assert.Equal(t, tt.logLevel, logger.GetLevel())

			formatter, ok := logger.Formatter.(*logrus.TextFormatter)
			require.True(t, ok)
			assert.True(t, formatter.FullTimestamp)
			assert.Equal(t, time.RFC3339, formatter.TimestampFormat)
		})
	}
}

func TestConfig_OperationTimeout(t *testing.T) {
	cfg := DefaultConfig()

	tests := []struct {
		op   string
		want time.Duration
	}{
		{"connect", 15 * time.Second},
		{"disconnect", 5 * time.Second},
		{"pair", 30 * time.Second},
		{"get_property", 5 * time.Second},
		{"read", 10 * time.Second},
		{"write", 10 * time.Second},
		{"notify_start", 5 * time.Second},
		{"unknown-operation", 10 * time.Second}, // falls back to default
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.want, cfg.OperationTimeout(tt.op))
		})
	}
}

func TestConfig_PathHelpers(t *testing.T) {
	cfg := &Config{ConfigRoot: "/tmp/bleep-test-root"}

	assert.Equal(t, filepath.Join(cfg.ConfigRoot, "aoi"), cfg.AoIDir())
	assert.Equal(t, filepath.Join(cfg.ConfigRoot, "reports"), cfg.ReportsDir())
	assert.Equal(t, filepath.Join(cfg.ConfigRoot, "bonds"), cfg.BondsDir())
	assert.Equal(t, filepath.Join(cfg.ConfigRoot, "logs"), cfg.LogsDir())
	assert.Equal(t, filepath.Join(cfg.ConfigRoot, "signals"), cfg.SignalsDir())
}

func TestConfig_EnsureDirs(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{ConfigRoot: filepath.Join(root, ".bleep")}

	require.NoError(t, cfg.EnsureDirs())

	for _, d := range []string{cfg.ConfigRoot, cfg.AoIDir(), cfg.ReportsDir(), cfg.BondsDir(), cfg.LogsDir(), cfg.SignalsDir()} {
		info, err := os.Stat(d)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	root := t.TempDir()
	dbPath := filepath.Join(root, "custom.db")

	t.Setenv("BLEEP_DB_PATH", dbPath)
	t.Setenv("BLEEP_LOG_LEVEL", "debug")
	t.Setenv("BLE_CTF_MAC", "aa:bb:cc:dd:ee:ff")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, dbPath, cfg.DBPath)
	assert.Equal(t, logrus.DebugLevel, cfg.LogLevel)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", cfg.CTFTarget)
}

func TestLoad_DefaultDBPathDerivedFromConfigRoot(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cfg.ConfigRoot, "observations.db"), cfg.DBPath)
}

func TestCategoryLogger_WritesToCategoryFile(t *testing.T) {
	root := t.TempDir()
	cfg := &Config{ConfigRoot: root, LogLevel: logrus.InfoLevel}
	base := cfg.NewLogger()

	entry, err := cfg.CategoryLogger(base, LogEnum)
	require.NoError(t, err)

	entry.Info("enumeration started")

	data, err := os.ReadFile(filepath.Join(cfg.LogsDir(), "enum.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "enumeration started")
}
