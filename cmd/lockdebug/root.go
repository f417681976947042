package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/marmos91/nfs4lockd/internal/config"
	"github.com/marmos91/nfs4lockd/internal/engine"
	"github.com/marmos91/nfs4lockd/internal/fileset"
	"github.com/marmos91/nfs4lockd/internal/logger"
	"github.com/marmos91/nfs4lockd/internal/metrics"
	metricsprom "github.com/marmos91/nfs4lockd/internal/metrics/prometheus"
	"github.com/marmos91/nfs4lockd/internal/sal"
)

var (
	cfgPath  string
	logLevel string
	logFmt   string

	eng *engine.Engine
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "lockdebug",
		Short:         "Exercise the NFSv4 byte-range lock engine from the command line",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return bootstrap()
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "path to a lockdebug config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&logFmt, "log-format", "text", "log format: text, json")

	root.AddCommand(newLockCmd())
	root.AddCommand(newUnlockCmd())
	root.AddCommand(newTestCmd())
	root.AddCommand(newReleaseCmd())
	root.AddCommand(newServeCmd())
	return root
}

func bootstrap() error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFmt != "" {
		cfg.Logging.Format = logFmt
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return err
	}

	var lockMetrics metrics.LockMetrics
	if cfg.Metrics.Enabled {
		metrics.InitRegistry(prometheus.NewRegistry())
		lockMetrics = metricsprom.New(metrics.GetRegistry())
	}

	files := fileset.New()
	adapter := sal.NewMemoryAdapter(files)
	eng = engine.New(cfg, adapter, files, lockMetrics)

	if cfg.Metrics.Enabled {
		go serveMetrics(cfg.Metrics.Addr)
	}
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	logger.Info("metrics listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		logger.Error("metrics server exited", "err", err)
	}
}
