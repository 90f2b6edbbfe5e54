// Package spindb manages local, disposable database instances. It
// downloads real engine binaries, runs them as detached OS processes
// with per-container data directories, and tracks everything in a plain
// JSON registry under one home directory, so a database for a throwaway
// branch costs one command to create and one to delete.
package spindb

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertjbass/spindb-sub005/internal/binaries"
	"github.com/robertjbass/spindb-sub005/internal/config"
	"github.com/robertjbass/spindb-sub005/internal/history"
	"github.com/robertjbass/spindb-sub005/internal/logger"
	"github.com/robertjbass/spindb-sub005/internal/manager"
	"github.com/robertjbass/spindb-sub005/internal/metrics"
	"github.com/robertjbass/spindb-sub005/internal/registry"
	iapi "github.com/robertjbass/spindb-sub005/internal/server"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = registry.Record

type Status = registry.Status

const (
	StatusCreated = registry.StatusCreated
	StatusRunning = registry.StatusRunning
	StatusStopped = registry.StatusStopped
)

type Info = manager.Info

type CreateOptions = manager.CreateOptions

type Config = config.Config

type LogConfig = logger.Config

type HistorySink = history.Sink

type HistoryEvent = history.Event

type Installed = binaries.Installed

type Sample = metrics.Sample

type Option = manager.Option

// WithHistorySink routes lifecycle events to a caller-provided sink
// instead of the one built from the config's history DSN.
func WithHistorySink(s HistorySink) Option { return manager.WithHistorySink(s) }

// Manager is a thin facade over internal/manager.Manager.
// It provides a stable public API for embedding.

type Manager struct{ inner *manager.Manager }

func New(cfg Config, opts ...Option) (*Manager, error) {
	inner, err := manager.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: inner}, nil
}

func (m *Manager) Close() error { return m.inner.Close() }

func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*Record, error) {
	return m.inner.Create(ctx, opts)
}
func (m *Manager) Start(ctx context.Context, name string) error { return m.inner.Start(ctx, name) }
func (m *Manager) Stop(ctx context.Context, name string) error  { return m.inner.Stop(ctx, name) }
func (m *Manager) StopAll(ctx context.Context) error            { return m.inner.StopAll(ctx) }
func (m *Manager) Delete(ctx context.Context, name string, force bool) error {
	return m.inner.Delete(ctx, name, force)
}
func (m *Manager) Clone(ctx context.Context, src, dst string, port int) (*Record, error) {
	return m.inner.Clone(ctx, src, dst, port)
}
func (m *Manager) Rename(ctx context.Context, oldName, newName string) (*Record, error) {
	return m.inner.Rename(ctx, oldName, newName)
}
func (m *Manager) List() ([]Info, error)                { return m.inner.List() }
func (m *Manager) Info(name string) (Info, error)       { return m.inner.Info(name) }
func (m *Manager) IsRunning(name string) (bool, error)  { return m.inner.IsRunning(name) }
func (m *Manager) AddDatabase(name, db string) (*Record, error) {
	return m.inner.AddDatabase(name, db)
}
func (m *Manager) RemoveDatabase(name, db string) (*Record, error) {
	return m.inner.RemoveDatabase(name, db)
}
func (m *Manager) SyncDatabases(ctx context.Context, name string) ([]string, error) {
	return m.inner.SyncDatabases(ctx, name)
}
func (m *Manager) Sizes(ctx context.Context, names ...string) (map[string]int64, error) {
	return m.inner.Sizes(ctx, names...)
}
func (m *Manager) EnsureBinary(ctx context.Context, engine, version string) (string, string, error) {
	return m.inner.EnsureBinary(ctx, engine, version)
}
func (m *Manager) InstalledBinaries() ([]Installed, error) { return m.inner.InstalledBinaries() }
func (m *Manager) RemoveBinary(engine, version string) error {
	return m.inner.RemoveBinary(engine, version)
}

// StartSampler begins periodic CPU/memory sampling of running containers
// when the config enables it, registering its gauges on r.
func (m *Manager) StartSampler(ctx context.Context, r prometheus.Registerer) error {
	return m.inner.StartSampler(ctx, r)
}

// Stats returns the latest resource sample per running container, empty
// when sampling is disabled.
func (m *Manager) Stats() map[string]Sample { return m.inner.Sampler().All() }

// DefaultConfig returns the built-in defaults (~/.spindb home, public
// download mirror).
func DefaultConfig() Config { return config.Default() }

// LoadConfig reads a TOML config file. An empty path loads
// <home>/config.toml when present and falls back to defaults.
func LoadConfig(path string) (Config, error) { return config.Load(path) }

// SetupLogging installs the process-wide slog handler described by c.
func SetupLogging(c LogConfig) error { return logger.Setup(c) }

// HTTPHandler returns the manager's API as an embeddable http.Handler,
// mountable in any mux (chi, echo, a plain ServeMux).
func (m *Manager) HTTPHandler(basePath string) http.Handler {
	return iapi.NewRouter(m.inner, basePath).Handler()
}

// NewHTTPServer starts an HTTP server exposing the container API using
// the given manager. The caller owns shutdown.
func NewHTTPServer(addr, basePath string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it
// runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
