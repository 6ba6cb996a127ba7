// Command logpipe is the pipeline daemon: it loads the configuration
// directory, starts every configured agent, serves health and metrics, and
// shuts the shared resources down on SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/LogPipe-Agents/internal/application/agent"
	"github.com/turtacn/LogPipe-Agents/internal/config"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/database"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/database/postgres"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/monitoring/prometheus"
	"github.com/turtacn/LogPipe-Agents/internal/infrastructure/producer"
	kafkaproducer "github.com/turtacn/LogPipe-Agents/internal/infrastructure/producer/kafka"
	redisproducer "github.com/turtacn/LogPipe-Agents/internal/infrastructure/producer/redis"
)

// Build-time variables injected via ldflags.
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 30 * time.Second

func main() {
	var configDir string

	root := &cobra.Command{
		Use:           "logpipe",
		Short:         "Log-tailing and enrichment pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configDir, "config", "configs", "path to the configuration directory")

	root.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Start every configured agent and block until interrupted",
			RunE: func(_ *cobra.Command, _ []string) error {
				return run(configDir)
			},
		},
		&cobra.Command{
			Use:   "validate",
			Short: "Load and validate the configuration, then exit",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, err := config.LoadDir(configDir)
				if err != nil {
					return err
				}
				cmd.Printf("configuration OK: %d agents, %d databases, %d producers\n",
					len(cfg.Agents), len(cfg.Databases), len(cfg.Producers))
				return nil
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print build information",
			Run: func(cmd *cobra.Command, _ []string) {
				cmd.Printf("logpipe %s (commit %s, built %s)\n", version, commit, buildDate)
			},
		},
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configDir string) error {
	cfg, err := config.LoadDir(configDir)
	if err != nil {
		return err
	}

	logger, err := buildLogger(cfg.App)
	if err != nil {
		return err
	}
	logging.SetDefault(logger)
	logger.Info("starting",
		logging.String("app", cfg.App.Name),
		logging.String("version", cfg.App.Version),
		logging.Int("agents", len(cfg.Agents)),
	)

	collector, err := prometheus.NewMetricsCollector(prometheus.CollectorConfig{
		Namespace:            "logpipe",
		EnableProcessMetrics: true,
		EnableGoMetrics:      true,
	})
	if err != nil {
		return err
	}
	metrics := prometheus.NewPipelineMetrics(collector)

	// Shared resource registries with the concrete driver types.
	databases := database.NewRegistry(cfg, logger, metrics)
	databases.RegisterType("postgres", postgres.NewDriver)

	producers := producer.NewRegistry(cfg, logger, metrics)
	producers.RegisterType("kafka", kafkaproducer.NewDriver)
	producers.RegisterType("redis", redisproducer.NewDriver)

	agents := agent.NewRegistry()
	agent.RegisterBuiltins(agents)

	deps := agent.Dependencies{
		Databases: func(typ, name string) (agent.QueryService, error) {
			inst, err := databases.Get(typ, name)
			if err != nil {
				return nil, err
			}
			return inst, nil
		},
		Producers: func(typ, name, topic string) (agent.MessageService, error) {
			inst, err := producers.Get(typ, name, topic)
			if err != nil {
				return nil, err
			}
			return inst, nil
		},
		Logger:  logger,
		Metrics: metrics,
	}

	// A failing agent block aborts only that agent; the process continues
	// with the rest.
	var running []*agent.Agent
	for _, agentCfg := range cfg.Agents {
		a, err := agents.Create(agentCfg, deps)
		if err != nil {
			logger.Error("agent creation failed",
				logging.String("agent", agentCfg.Type+"-"+agentCfg.Name),
				logging.Err(err),
			)
			continue
		}
		a.Start()
		running = append(running, a)
	}
	if len(running) == 0 {
		logger.Warn("no agents running")
	}

	// Hot-reload the log level on base.yaml edits.
	config.Watch(configDir, func(app config.AppConfig) {
		logging.SetLevel(app.LogLevel)
		logger.Info("log level reloaded", logging.String("level", app.LogLevel))
	})

	ops := startOpsServer(cfg.App.MetricsPort, collector.Handler(), logger)

	// Block until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown requested", logging.String("signal", sig.String()))

	for _, a := range running {
		a.Stop()
	}
	databases.StopAll(shutdownTimeout / 2)
	producers.StopAll(shutdownTimeout / 2)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = ops.Shutdown(shutdownCtx)

	logger.Info("stopped")
	return nil
}

// buildLogger writes to stdout and, when a log directory is configured, to
// <log_dir>/application.log.
func buildLogger(app config.AppConfig) (logging.Logger, error) {
	outputs := []string{"stdout"}
	if app.LogDir != "" {
		if err := os.MkdirAll(app.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("cannot create log directory %q: %w", app.LogDir, err)
		}
		outputs = append(outputs, filepath.Join(app.LogDir, "application.log"))
	}
	return logging.NewLogger(logging.Config{
		Level:       app.LogLevel,
		Format:      app.LogFormat,
		OutputPaths: outputs,
	})
}

// startOpsServer serves /healthz and /metrics.  This is the process's only
// HTTP surface; there is no data or control API.
func startOpsServer(port int, metricsHandler http.Handler, logger logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", metricsHandler)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("ops listener started", logging.Int("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops listener failed", logging.Err(err))
		}
	}()
	return server
}
