package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	spindb "github.com/robertjbass/spindb-sub005"
)

const shutdownTimeout = 10 * time.Second

// createServeCommand creates the serve subcommand.
func createServeCommand(globalFlags *GlobalFlags) *cobra.Command {
	serveFlags := &ServeFlags{}

	cc := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the spindb HTTP API daemon",
		Long: `Run the HTTP API exposing the container operations, /metrics and
/stats. Configuration comes from --config, the positional argument, or
<home>/config.toml.

Examples:
  spindb serve                      # Listen on 127.0.0.1:7433
  spindb serve config.toml
  spindb serve --listen=0.0.0.0:7433
  spindb serve --daemonize --logfile=/var/log/spindb.log`,
		RunE: func(_ *cobra.Command, args []string) error {
			serveFlags.ConfigPath = globalFlags.ConfigPath
			return runServe(serveFlags, args)
		},
	}

	cc.Flags().StringVar(&serveFlags.Listen, "listen", "", "listen address (overrides config)")
	cc.Flags().BoolVar(&serveFlags.Daemonize, "daemonize", false, "run in the background")
	cc.Flags().StringVar(&serveFlags.PidFile, "pidfile", "", "write the daemon PID to this file")
	cc.Flags().StringVar(&serveFlags.LogFile, "logfile", "", "redirect daemon logs to this file")

	return cc
}

func runServe(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}

	cfg, err := spindb.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if flags.Listen != "" {
		cfg.Server.Listen = flags.Listen
	}

	if flags.Daemonize {
		if err := daemonize(flags.PidFile, flags.LogFile); err != nil {
			return err
		}
		// A nil return means this process is already reparented to init;
		// serve in the foreground. The spawn path exits the parent.
	}

	if flags.PidFile != "" {
		if err := writePidFile(flags.PidFile, os.Getpid()); err != nil {
			return fmt.Errorf("write pidfile: %w", err)
		}
		defer func() { _ = removePidFile(flags.PidFile) }()
	}

	if err := spindb.SetupLogging(cfg.Log); err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	m, err := spindb.New(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := spindb.RegisterMetricsDefault(); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}
	if err := m.StartSampler(ctx, prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("start sampler: %w", err)
	}
	if cfg.Server.MetricsListen != "" {
		go func() {
			if err := spindb.ServeMetrics(cfg.Server.MetricsListen); err != nil && err != http.ErrServerClosed {
				slog.Error("Metrics server failed", "addr", cfg.Server.MetricsListen, "err", err)
			}
		}()
	}

	srv, err := spindb.NewHTTPServer(cfg.Server.Listen, cfg.Server.BasePath, m)
	if err != nil {
		return err
	}
	slog.Info("spindb API listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	slog.Info("Shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return srv.Close()
	}
	return nil
}
