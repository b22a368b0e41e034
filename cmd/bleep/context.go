package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/bleep/internal/aoi"
	"github.com/srg/bleep/internal/classify"
	"github.com/srg/bleep/internal/discovery"
	"github.com/srg/bleep/internal/ipc"
	"github.com/srg/bleep/internal/orchestrate"
	"github.com/srg/bleep/internal/reliability"
	"github.com/srg/bleep/internal/reliability/metrics"
	"github.com/srg/bleep/internal/store"
	"github.com/srg/bleep/pkg/config"
)

// adapterID is the BlueZ adapter short name every subcommand scans on.
// BLEEP is single-adapter; a --adapter flag would thread here if that changed.
const adapterID = "hci0"

// buildContext loads config, opens the store, and wires the collaborators
// an orchestrate.Context needs. The returned closer must be called once the
// command is done.
func buildContext(cmd *cobra.Command) (*orchestrate.Context, *config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		if parsed, err := logrus.ParseLevel(lvl); err == nil {
			cfg.LogLevel = parsed
		}
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, nil, err
	}

	base := cfg.NewLogger()
	genLog, err := cfg.CategoryLogger(base, config.LogGeneral)
	if err != nil {
		genLog = base.WithField("component", string(config.LogGeneral))
	}

	st, err := store.Open(cfg.DBPath, genLog)
	if err != nil {
		return nil, nil, nil, err
	}

	pool := ipc.New(genLog.WithField("component", "ipc"))
	adapter := discovery.New(pool, adapterID)

	m := metrics.New()
	m.MustRegister(prometheus.DefaultRegisterer)

	healthCtx, stopHealth := context.WithCancel(context.Background())
	monitor := reliability.NewHealthMonitor(pool, genLog, 30*time.Second).WithMetrics(m, nil)
	monitor.Start(healthCtx)

	oc := &orchestrate.Context{
		Pool:     pool,
		Store:    st,
		Adapter:  adapter,
		Timeouts: cfg,
		Log:      genLog,
		Classify: classify.New(st, genLog.WithField("component", "classify")),
		AoI:      aoi.New(st),
		AoIDir:   cfg.AoIDir(),
		Metrics:  m,
	}
	closer := func() {
		stopHealth()
		_ = st.Close()
	}
	return oc, cfg, closer, nil
}
