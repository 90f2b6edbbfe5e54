// Package manager wires the registry, port allocator, process supervisor
// and binary manager into the container operation set. It owns the
// cross-component ordering (ensure binary before registering, allocate
// ports before starting, reconcile before trusting cached status) and the
// per-container serialization of lifecycle operations.
package manager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/robertjbass/spindb-sub005/internal/binaries"
	"github.com/robertjbass/spindb-sub005/internal/config"
	"github.com/robertjbass/spindb-sub005/internal/engine"
	"github.com/robertjbass/spindb-sub005/internal/errdefs"
	"github.com/robertjbass/spindb-sub005/internal/history"
	"github.com/robertjbass/spindb-sub005/internal/history/factory"
	"github.com/robertjbass/spindb-sub005/internal/metrics"
	"github.com/robertjbass/spindb-sub005/internal/ports"
	"github.com/robertjbass/spindb-sub005/internal/registry"
	"github.com/robertjbass/spindb-sub005/internal/supervisor"
)

// Manager creates, starts, stops and deletes database containers.
type Manager struct {
	cfg config.Config
	reg *registry.Registry
	bin *binaries.Manager
	sup *supervisor.Supervisor

	sink    history.Sink // nil when history is disabled
	sampler *metrics.Sampler

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Manager)

// WithHistorySink overrides the sink built from the configured DSN.
// Useful for embedding callers that already hold one.
func WithHistorySink(s history.Sink) Option {
	return func(m *Manager) { m.sink = s }
}

// New builds a Manager rooted at cfg's home directory.
func New(cfg config.Config, opts ...Option) (*Manager, error) {
	m := &Manager{
		cfg:     cfg,
		sup:     supervisor.New(),
		sampler: metrics.NewSampler(cfg.Sampler),
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}

	reg, err := registry.New(cfg.ContainersDir(), registry.WithLiveness(m.alive))
	if err != nil {
		return nil, err
	}
	m.reg = reg

	bin, err := binaries.New(cfg.BinariesDir(),
		binaries.WithBaseURL(cfg.Download.BaseURL),
		binaries.WithTimeout(cfg.Download.Timeout))
	if err != nil {
		return nil, err
	}
	m.bin = bin

	if m.sink == nil && cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("history sink: %w", err)
		}
		m.sink = sink
	}
	return m, nil
}

// Close stops the resource sampler and releases the history sink.
func (m *Manager) Close() error {
	m.sampler.Stop()
	if m.sink != nil {
		return m.sink.Close()
	}
	return nil
}

// Registry exposes the underlying record store for read-mostly callers
// (HTTP API, CLI listing).
func (m *Manager) Registry() *registry.Registry { return m.reg }

// Binaries exposes the binary cache manager.
func (m *Manager) Binaries() *binaries.Manager { return m.bin }

// Sampler exposes the resource sampler for stats endpoints.
func (m *Manager) Sampler() *metrics.Sampler { return m.sampler }

// lockFor serializes start/stop/delete per container name. Reads do not
// take this lock.
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

// alive is the liveness probe handed to the registry so delete/rename/
// clone guards check the process table instead of the status cache.
func (m *Manager) alive(rec *registry.Record) (bool, error) {
	p, _, err := m.proc(rec)
	if err != nil {
		return false, err
	}
	return m.sup.Reconcile(p).Running, nil
}

// proc projects a registry record into the supervisor's view of it.
func (m *Manager) proc(rec *registry.Record) (supervisor.Proc, engine.Engine, error) {
	eng, err := engine.New(engine.Type(rec.Engine))
	if err != nil {
		return supervisor.Proc{}, nil, err
	}
	binDir := rec.BinDir
	if binDir == "" {
		binDir = m.bin.BinDir(eng, rec.Version)
	}
	inst := engine.Instance{
		Name:     rec.Name,
		Version:  rec.Version,
		Port:     rec.Port,
		Database: rec.Database,
		BinDir:   binDir,
		DataDir:  m.reg.DataDir(rec.Name),
		LogPath:  m.reg.LogPath(rec.Name),
	}
	return supervisor.Proc{Engine: eng, Inst: inst, PIDPath: m.reg.PIDPath(rec.Name)}, eng, nil
}

// CreateOptions are the user-facing knobs for Create.
type CreateOptions struct {
	Name     string
	Engine   string
	Version  string // alias or exact version; empty means "latest"
	Port     int    // 0 picks a free port
	Database string // primary database name; empty picks the engine default
	Start    bool   // start the container once created
}

// Create provisions a new container: resolve the version, ensure the
// binary is cached, allocate a port, register the record and optionally
// start the engine.
func (m *Manager) Create(ctx context.Context, opts CreateOptions) (*registry.Record, error) {
	if !registry.ValidName(opts.Name) {
		return nil, fmt.Errorf("invalid container name %q", opts.Name)
	}
	t, err := engine.ParseType(opts.Engine)
	if err != nil {
		return nil, err
	}
	eng, _ := engine.New(t)

	alias := opts.Version
	if alias == "" {
		alias = "latest"
	}
	version := engine.ResolveVersion(eng, alias)

	if m.reg.Exists(opts.Name) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrAlreadyExists, opts.Name)
	}

	binDir, err := m.bin.EnsureInstalled(ctx, eng, version)
	if err != nil {
		return nil, err
	}

	port := opts.Port
	if !eng.ServerBased() {
		port = 0
	} else if port == 0 {
		if port, err = m.freePort(eng); err != nil {
			return nil, err
		}
	} else if err := ports.Check(port); err != nil {
		return nil, err
	}

	db := opts.Database
	if db == "" {
		db = engine.DefaultDatabase(t, opts.Name)
	}

	rec, err := m.reg.Create(&registry.Record{
		Name:     opts.Name,
		Engine:   string(t),
		Version:  version,
		Port:     port,
		Database: db,
		BinDir:   binDir,
	})
	if err != nil {
		return nil, err
	}
	m.record(ctx, history.EventCreated, rec, "")

	if opts.Start {
		if err := m.Start(ctx, rec.Name); err != nil {
			return rec, err
		}
		return m.reg.Get(rec.Name)
	}
	return rec, nil
}

// freePort scans upward from the engine's base port, skipping ports other
// containers have on record even while stopped.
func (m *Manager) freePort(eng engine.Engine) (int, error) {
	taken, err := m.recordedPorts()
	if err != nil {
		return 0, err
	}
	base := m.cfg.PortBase(string(eng.Type()), eng.DefaultPort())
	return ports.FindFree(base, eng.PortSpan(), func(p int) bool { return taken[p] })
}

func (m *Manager) recordedPorts() (map[int]bool, error) {
	recs, err := m.reg.List()
	if err != nil {
		return nil, err
	}
	taken := make(map[int]bool, len(recs))
	for _, rec := range recs {
		if rec.Port <= 0 {
			continue
		}
		span := 1
		if eng, err := engine.New(engine.Type(rec.Engine)); err == nil && eng.PortSpan() > 1 {
			span = eng.PortSpan()
		}
		for i := 0; i < span; i++ {
			taken[rec.Port+i] = true
		}
	}
	return taken, nil
}

// Start launches a container's engine process and updates the status
// cache. Starting a running container is a no-op.
func (m *Manager) Start(ctx context.Context, name string) error {
	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.reg.Get(name)
	if err != nil {
		return err
	}
	p, eng, err := m.proc(rec)
	if err != nil {
		return err
	}
	if !eng.ServerBased() {
		return fmt.Errorf("%w: %s containers have no server process", errdefs.ErrUnsupported, rec.Engine)
	}

	// the cache can disappear under a record (new machine, manual cleanup);
	// reinstall rather than failing the start
	if !m.bin.IsInstalled(eng, rec.Version) {
		slog.Info("Binary missing for container, reinstalling", "name", name, "engine", rec.Engine, "version", rec.Version)
		binDir, err := m.bin.Install(ctx, eng, rec.Version)
		if err != nil {
			return err
		}
		if rec, err = m.reg.Update(name, func(r *registry.Record) error {
			r.BinDir = binDir
			return nil
		}); err != nil {
			return err
		}
		if p, _, err = m.proc(rec); err != nil {
			return err
		}
	}

	if err := m.sup.Start(ctx, p); err != nil {
		return err
	}
	if _, err := m.reg.SetStatus(name, registry.StatusRunning); err != nil {
		return err
	}
	m.record(ctx, history.EventStarted, rec, "")
	m.updateRunningGauge()
	return nil
}

// Stop terminates a container's engine process. Stopping a stopped
// container is a no-op.
func (m *Manager) Stop(ctx context.Context, name string) error {
	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.reg.Get(name)
	if err != nil {
		return err
	}
	p, eng, err := m.proc(rec)
	if err != nil {
		return err
	}
	if !eng.ServerBased() {
		return nil
	}

	if err := m.sup.Stop(ctx, p); err != nil {
		return err
	}
	if _, err := m.reg.SetStatus(name, registry.StatusStopped); err != nil {
		return err
	}
	m.record(ctx, history.EventStopped, rec, "")
	m.updateRunningGauge()
	return nil
}

// StopAll stops every running container, accumulating failures instead of
// aborting at the first one.
func (m *Manager) StopAll(ctx context.Context) error {
	recs, err := m.reg.List()
	if err != nil {
		return err
	}
	var errs []error
	for _, rec := range recs {
		p, eng, err := m.proc(rec)
		if err != nil || !eng.ServerBased() {
			continue
		}
		if !m.sup.Reconcile(p).Running {
			continue
		}
		if err := m.Stop(ctx, rec.Name); err != nil {
			errs = append(errs, fmt.Errorf("stop %q: %w", rec.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Delete removes a container and its data. A running container is refused
// unless force is set, in which case its process is killed first.
func (m *Manager) Delete(ctx context.Context, name string, force bool) error {
	l := m.lockFor(name)
	l.Lock()
	defer l.Unlock()

	rec, err := m.reg.Get(name)
	if err != nil {
		return err
	}
	if force {
		if p, _, err := m.proc(rec); err == nil {
			_ = m.sup.Kill(p)
		}
	}
	if err := m.reg.Delete(name, force); err != nil {
		return err
	}
	m.record(ctx, history.EventDeleted, rec, "")
	m.updateRunningGauge()
	return nil
}

// Clone copies a stopped container's data under a new name with a fresh
// port. Port 0 allocates one.
func (m *Manager) Clone(ctx context.Context, src, dst string, port int) (*registry.Record, error) {
	l := m.lockFor(src)
	l.Lock()
	defer l.Unlock()

	srcRec, err := m.reg.Get(src)
	if err != nil {
		return nil, err
	}
	eng, err := engine.New(engine.Type(srcRec.Engine))
	if err != nil {
		return nil, err
	}

	if !eng.ServerBased() {
		port = 0
	} else if port == 0 {
		if port, err = m.freePort(eng); err != nil {
			return nil, err
		}
	} else if err := ports.Check(port); err != nil {
		return nil, err
	}

	rec, err := m.reg.CloneInto(src, dst, port)
	if err != nil {
		return nil, err
	}
	m.record(ctx, history.EventCloned, rec, "cloned from "+src)
	return rec, nil
}

// Rename moves a stopped container to a new name.
func (m *Manager) Rename(ctx context.Context, oldName, newName string) (*registry.Record, error) {
	l := m.lockFor(oldName)
	l.Lock()
	defer l.Unlock()

	rec, err := m.reg.Rename(oldName, newName)
	if err != nil {
		return nil, err
	}
	m.record(ctx, history.EventRenamed, rec, "was "+oldName)
	return rec, nil
}

// Info is a container record joined with its reconciled live state.
type Info struct {
	*registry.Record
	Running          bool   `json:"running"`
	PID              int    `json:"pid,omitempty"`
	ConnectionString string `json:"connection_string,omitempty"`
}

// List returns every container with reconciled status, ordered by
// creation time then name.
func (m *Manager) List() ([]Info, error) {
	recs, err := m.reg.List()
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(recs))
	for _, rec := range recs {
		out = append(out, m.describe(rec))
	}
	return out, nil
}

// Info returns one container with reconciled status.
func (m *Manager) Info(name string) (Info, error) {
	rec, err := m.reg.Get(name)
	if err != nil {
		return Info{}, err
	}
	return m.describe(rec), nil
}

// describe reconciles a record against the process table and repairs the
// status cache when it has drifted.
func (m *Manager) describe(rec *registry.Record) Info {
	info := Info{Record: rec}
	p, eng, err := m.proc(rec)
	if err != nil {
		return info
	}
	st := m.sup.Reconcile(p)
	info.Running = st.Running
	info.PID = st.PID
	info.ConnectionString = eng.ConnectionString(p.Inst)

	switch {
	case st.Running && rec.Status != registry.StatusRunning:
		if fixed, err := m.reg.SetStatus(rec.Name, registry.StatusRunning); err == nil {
			info.Record = fixed
		}
	case !st.Running && rec.Status == registry.StatusRunning:
		if fixed, err := m.reg.SetStatus(rec.Name, registry.StatusStopped); err == nil {
			info.Record = fixed
		}
	}
	return info
}

// IsRunning reconciles one container's liveness.
func (m *Manager) IsRunning(name string) (bool, error) {
	rec, err := m.reg.Get(name)
	if err != nil {
		return false, err
	}
	return m.alive(rec)
}

// SyncDatabases re-derives the tracked database set from the engine's
// live listing and returns the canonical set.
func (m *Manager) SyncDatabases(ctx context.Context, name string) ([]string, error) {
	rec, err := m.reg.Get(name)
	if err != nil {
		return nil, err
	}
	p, eng, err := m.proc(rec)
	if err != nil {
		return nil, err
	}
	if eng.ServerBased() && !m.sup.Reconcile(p).Running {
		return nil, fmt.Errorf("container %q is not running; start it before syncing databases", name)
	}
	live, err := eng.ListDatabases(ctx, p.Inst)
	if err != nil {
		return nil, err
	}
	rec, err = m.reg.ReconcileDatabases(name, live)
	if err != nil {
		return nil, err
	}
	return rec.Databases, nil
}

// AddDatabase records a database name on a container.
func (m *Manager) AddDatabase(name, db string) (*registry.Record, error) {
	return m.reg.AddDatabase(name, db)
}

// RemoveDatabase drops a tracked database name. The primary is protected.
func (m *Manager) RemoveDatabase(name, db string) (*registry.Record, error) {
	return m.reg.RemoveDatabase(name, db)
}

// Sizes computes on-disk data sizes. No names means all containers.
// Reads run in parallel; any unknown name fails the call.
func (m *Manager) Sizes(ctx context.Context, names ...string) (map[string]int64, error) {
	if len(names) == 0 {
		recs, err := m.reg.List()
		if err != nil {
			return nil, err
		}
		for _, rec := range recs {
			names = append(names, rec.Name)
		}
	}

	sizes := make([]int64, len(names))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			if !m.reg.Exists(name) {
				return fmt.Errorf("%w: container %q", errdefs.ErrNotFound, name)
			}
			n, err := dirSize(ctx, m.reg.DataDir(name))
			if err != nil {
				return fmt.Errorf("size of %q: %w", name, err)
			}
			sizes[i] = n
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]int64, len(names))
	for i, name := range names {
		out[name] = sizes[i]
	}
	return out, nil
}

func dirSize(ctx context.Context, dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total, err
}

// EnsureBinary resolves a version alias and installs the archive when the
// cache misses. Returns the resolved version and the bin directory.
func (m *Manager) EnsureBinary(ctx context.Context, engineName, version string) (string, string, error) {
	t, err := engine.ParseType(engineName)
	if err != nil {
		return "", "", err
	}
	eng, _ := engine.New(t)
	if version == "" {
		version = "latest"
	}
	resolved := engine.ResolveVersion(eng, version)
	dir, err := m.bin.EnsureInstalled(ctx, eng, resolved)
	return resolved, dir, err
}

// InstalledBinaries lists the binary cache.
func (m *Manager) InstalledBinaries() ([]binaries.Installed, error) {
	return m.bin.ListInstalled()
}

// RemoveBinary deletes a cached install unless a container still
// references that engine/version pair.
func (m *Manager) RemoveBinary(engineName, version string) error {
	recs, err := m.reg.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Engine == engineName && rec.Version == version {
			return fmt.Errorf("binary %s-%s is used by container %q", engineName, version, rec.Name)
		}
	}
	return m.bin.Delete(engineName, version)
}

// StartSampler registers the resource gauges and begins sampling running
// containers. No-op when sampling is disabled.
func (m *Manager) StartSampler(ctx context.Context, reg prometheus.Registerer) error {
	if !m.sampler.Enabled() {
		return nil
	}
	if err := m.sampler.RegisterMetrics(reg); err != nil {
		return err
	}
	m.sampler.Start(ctx, m.samplerTargets)
	return nil
}

func (m *Manager) samplerTargets() []metrics.Target {
	recs, err := m.reg.List()
	if err != nil {
		return nil
	}
	var ts []metrics.Target
	for _, rec := range recs {
		p, _, err := m.proc(rec)
		if err != nil {
			continue
		}
		if st := m.sup.Reconcile(p); st.Running && st.PID > 0 {
			ts = append(ts, metrics.Target{Container: rec.Name, Engine: rec.Engine, PID: st.PID})
		}
	}
	return ts
}

// record emits a history event. Audit failures are logged, never
// propagated: history must not break lifecycle operations.
func (m *Manager) record(ctx context.Context, t history.EventType, rec *registry.Record, detail string) {
	if m.sink == nil {
		return
	}
	e := history.New(t, rec.Name, rec.Engine, rec.Version, rec.Port)
	if detail != "" {
		e = e.WithDetail(detail)
	}
	if err := m.sink.Send(ctx, e); err != nil {
		slog.Warn("History sink send failed", "event", string(t), "container", rec.Name, "err", err)
	}
}

func (m *Manager) updateRunningGauge() {
	recs, err := m.reg.List()
	if err != nil {
		return
	}
	counts := make(map[string]int)
	for _, t := range engine.Types() {
		counts[string(t)] = 0
	}
	for _, rec := range recs {
		if p, _, err := m.proc(rec); err == nil && m.sup.Reconcile(p).Running {
			counts[rec.Engine]++
		}
	}
	for eng, n := range counts {
		metrics.SetRunning(eng, n)
	}
}
