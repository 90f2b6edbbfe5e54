// Package registry persists container configuration. Each container owns a
// directory under the registry root holding an indented JSON document
// (config.json), the engine data directory, captured logs and the PID
// marker. The registry is the book of record for configuration; runtime
// state stored here is a cache that callers reconcile against the process
// supervisor.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	cp "github.com/otiai10/copy"

	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

const configFile = "config.json"

// LivenessProbe reports whether a container's engine process is alive. The
// facade injects one backed by the supervisor so destructive operations
// never trust the cached status field.
type LivenessProbe func(*Record) (bool, error)

type Registry struct {
	root  string
	probe LivenessProbe

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

type Option func(*Registry)

// WithLiveness installs the probe consulted by Delete, Rename and Clone.
func WithLiveness(p LivenessProbe) Option {
	return func(r *Registry) { r.probe = p }
}

// New opens (creating if needed) a registry rooted at dir.
func New(dir string, opts ...Option) (*Registry, error) {
	if dir == "" {
		return nil, errors.New("registry: empty root directory")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("registry: create root: %w", err)
	}
	r := &Registry{root: dir, locks: make(map[string]*sync.Mutex)}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func (r *Registry) lockFor(name string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[name]
	if !ok {
		l = &sync.Mutex{}
		r.locks[name] = l
	}
	return l
}

// lockPair acquires both names in a stable order so concurrent rename and
// clone calls cannot deadlock.
func (r *Registry) lockPair(a, b string) func() {
	first, second := a, b
	if second < first {
		first, second = second, first
	}
	fl, sl := r.lockFor(first), r.lockFor(second)
	fl.Lock()
	sl.Lock()
	return func() {
		sl.Unlock()
		fl.Unlock()
	}
}

func (r *Registry) Root() string { return r.root }

// Dir returns the container's directory. Callers must have validated name.
func (r *Registry) Dir(name string) string     { return filepath.Join(r.root, name) }
func (r *Registry) DataDir(name string) string { return filepath.Join(r.root, name, "data") }
func (r *Registry) LogsDir(name string) string { return filepath.Join(r.root, name, "logs") }
func (r *Registry) LogPath(name string) string { return filepath.Join(r.root, name, "logs", "server.log") }
func (r *Registry) PIDPath(name string) string { return filepath.Join(r.root, name, name+".pid") }
func (r *Registry) configPath(name string) string {
	return filepath.Join(r.root, name, configFile)
}

// Exists reports whether a container document exists for name. Names that
// fail validation do not exist by definition.
func (r *Registry) Exists(name string) bool {
	if !ValidName(name) {
		return false
	}
	_, err := os.Stat(r.configPath(name))
	return err == nil
}

// Get loads a container record. Invalid names map to the not-found
// condition rather than touching the filesystem.
func (r *Registry) Get(name string) (*Record, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, name)
	}
	return r.read(name)
}

func (r *Registry) read(name string) (*Record, error) {
	raw, err := os.ReadFile(r.configPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, name)
		}
		return nil, fmt.Errorf("read container %q: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.configPath(name), err)
	}
	return &rec, nil
}

func (r *Registry) write(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	path := r.configPath(rec.Name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(raw, '\n'), 0o600); err != nil {
		return fmt.Errorf("write container %q: %w", rec.Name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write container %q: %w", rec.Name, err)
	}
	return nil
}

// List returns all readable container records ordered by creation time,
// then name. Unreadable entries are skipped with a warning so one corrupt
// document cannot hide the rest.
func (r *Registry) List() ([]*Record, error) {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("registry: list: %w", err)
	}

	var recs []*Record
	for _, e := range entries {
		if !e.IsDir() || !ValidName(e.Name()) {
			continue
		}
		rec, err := r.read(e.Name())
		if err != nil {
			if errdefs.IsNotFound(err) {
				continue
			}
			slog.Warn("Skipping unreadable container document", "name", e.Name(), "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool {
		if !recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		}
		return recs[i].Name < recs[j].Name
	})
	return recs, nil
}

// Create persists a new container record and lays out its directories.
func (r *Registry) Create(rec *Record) (*Record, error) {
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	l := r.lockFor(rec.Name)
	l.Lock()
	defer l.Unlock()

	if r.Exists(rec.Name) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrAlreadyExists, rec.Name)
	}

	out := rec.Clone()
	if out.Status == "" {
		out.Status = StatusCreated
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = time.Now().UTC()
	}
	if out.Database != "" && !out.HasDatabase(out.Database) {
		out.Databases = append(out.Databases, out.Database)
	}
	sort.Strings(out.Databases)

	for _, dir := range []string{r.Dir(out.Name), r.DataDir(out.Name), r.LogsDir(out.Name)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create container %q: %w", out.Name, err)
		}
	}
	if err := r.write(out); err != nil {
		_ = os.RemoveAll(r.Dir(out.Name))
		return nil, err
	}
	slog.Debug("Container registered", "name", out.Name, "engine", out.Engine, "port", out.Port)
	return out, nil
}

// Update applies mutate to the current record under the container's lock
// and persists the result. The name is immutable here; renames go through
// Rename so the directory moves with the record.
func (r *Registry) Update(name string, mutate func(*Record) error) (*Record, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, name)
	}
	l := r.lockFor(name)
	l.Lock()
	defer l.Unlock()

	rec, err := r.read(name)
	if err != nil {
		return nil, err
	}
	out := rec.Clone()
	if err := mutate(out); err != nil {
		return nil, err
	}
	if out.Name != name {
		return nil, fmt.Errorf("container %q: name cannot be changed by update", name)
	}
	if err := r.write(out); err != nil {
		return nil, err
	}
	return out, nil
}

// MergePatch applies an RFC 7396 JSON merge patch to the stored document.
// Fields absent from the patch keep their current values, which is what
// makes partial updates over the HTTP API safe.
func (r *Registry) MergePatch(name string, patch []byte) (*Record, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, name)
	}
	l := r.lockFor(name)
	l.Lock()
	defer l.Unlock()

	orig, err := os.ReadFile(r.configPath(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, name)
		}
		return nil, err
	}
	merged, err := jsonpatch.MergePatch(orig, patch)
	if err != nil {
		return nil, fmt.Errorf("merge patch for %q: %w", name, err)
	}
	var rec Record
	if err := json.Unmarshal(merged, &rec); err != nil {
		return nil, fmt.Errorf("merge patch for %q: %w", name, err)
	}
	if rec.Name != name {
		return nil, fmt.Errorf("container %q: name cannot be changed by update", name)
	}
	if err := r.write(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Registry) assertStopped(rec *Record, op string) error {
	running := rec.Status == StatusRunning
	if r.probe != nil {
		alive, err := r.probe(rec)
		if err == nil {
			running = alive
		}
	}
	if running {
		return fmt.Errorf("%w: stop %q before %s", errdefs.ErrContainerRunning, rec.Name, op)
	}
	return nil
}

// Delete removes a container and everything under its directory. Unless
// force is set, a running container is refused; stopping it first is the
// caller's job.
func (r *Registry) Delete(name string, force bool) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: container %q", errdefs.ErrNotFound, name)
	}
	l := r.lockFor(name)
	l.Lock()
	defer l.Unlock()

	rec, err := r.read(name)
	if err != nil {
		return err
	}
	if !force {
		if err := r.assertStopped(rec, "delete"); err != nil {
			return err
		}
	}
	if err := os.RemoveAll(r.Dir(name)); err != nil {
		return fmt.Errorf("delete container %q: %w", name, err)
	}
	slog.Info("Container deleted", "name", name, "engine", rec.Engine)
	return nil
}

// Rename moves a container directory to a new name and rewrites its
// record. Same-filesystem renames are atomic; across filesystems the move
// degrades to copy-verify-delete and a failure leaves the source intact.
func (r *Registry) Rename(oldName, newName string) (*Record, error) {
	if !ValidName(oldName) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, oldName)
	}
	if !ValidName(newName) {
		return nil, fmt.Errorf("invalid container name %q", newName)
	}
	if oldName == newName {
		return nil, fmt.Errorf("rename %q: target name is unchanged", oldName)
	}
	unlock := r.lockPair(oldName, newName)
	defer unlock()

	rec, err := r.read(oldName)
	if err != nil {
		return nil, err
	}
	if r.Exists(newName) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrAlreadyExists, newName)
	}
	if err := r.assertStopped(rec, "rename"); err != nil {
		return nil, err
	}

	if err := moveDir(r.Dir(oldName), r.Dir(newName)); err != nil {
		return nil, fmt.Errorf("rename %q to %q: %w", oldName, newName, err)
	}

	// the PID marker carries the old name; a stopped container should not
	// have one, but clean up stale leftovers
	_ = os.Remove(filepath.Join(r.Dir(newName), oldName+".pid"))

	out := rec.Clone()
	out.Name = newName
	if err := r.write(out); err != nil {
		return nil, err
	}
	slog.Info("Container renamed", "from", oldName, "to", newName)
	return out, nil
}

// CloneInto duplicates src's record and data directory under dst with a
// fresh port. The source must be stopped so the copied data is consistent.
func (r *Registry) CloneInto(src, dst string, newPort int) (*Record, error) {
	if !ValidName(src) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrNotFound, src)
	}
	if !ValidName(dst) {
		return nil, fmt.Errorf("invalid container name %q", dst)
	}
	unlock := r.lockPair(src, dst)
	defer unlock()

	srcRec, err := r.read(src)
	if err != nil {
		return nil, err
	}
	if r.Exists(dst) {
		return nil, fmt.Errorf("%w: container %q", errdefs.ErrAlreadyExists, dst)
	}
	if err := r.assertStopped(srcRec, "clone"); err != nil {
		return nil, err
	}

	for _, dir := range []string{r.Dir(dst), r.LogsDir(dst)} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("clone %q: %w", src, err)
		}
	}
	if err := cp.Copy(r.DataDir(src), r.DataDir(dst)); err != nil {
		_ = os.RemoveAll(r.Dir(dst))
		return nil, fmt.Errorf("clone %q data: %w", src, err)
	}

	out := srcRec.Clone()
	out.Name = dst
	out.Port = newPort
	out.ClonedFrom = src
	out.Status = StatusStopped
	out.CreatedAt = time.Now().UTC()
	if err := r.write(out); err != nil {
		_ = os.RemoveAll(r.Dir(dst))
		return nil, err
	}
	slog.Info("Container cloned", "from", src, "to", dst, "port", newPort)
	return out, nil
}

// AddDatabase records a database name on the container.
func (r *Registry) AddDatabase(name, db string) (*Record, error) {
	if !ValidName(db) {
		return nil, fmt.Errorf("invalid database name %q", db)
	}
	return r.Update(name, func(rec *Record) error {
		if rec.HasDatabase(db) {
			return fmt.Errorf("%w: database %q on container %q", errdefs.ErrAlreadyExists, db, name)
		}
		rec.Databases = append(rec.Databases, db)
		sort.Strings(rec.Databases)
		return nil
	})
}

// RemoveDatabase drops a database name from the container's bookkeeping.
// The primary database is protected.
func (r *Registry) RemoveDatabase(name, db string) (*Record, error) {
	return r.Update(name, func(rec *Record) error {
		if db == rec.Database {
			return fmt.Errorf("database %q is the primary database of %q and cannot be removed", db, name)
		}
		if !rec.HasDatabase(db) {
			return fmt.Errorf("%w: database %q on container %q", errdefs.ErrNotFound, db, name)
		}
		kept := rec.Databases[:0]
		for _, d := range rec.Databases {
			if d != db {
				kept = append(kept, d)
			}
		}
		rec.Databases = kept
		return nil
	})
}

// ReconcileDatabases replaces the recorded database list with the engine's
// live list, deduplicated, with the primary database always present.
func (r *Registry) ReconcileDatabases(name string, live []string) (*Record, error) {
	return r.Update(name, func(rec *Record) error {
		seen := map[string]bool{}
		var out []string
		for _, db := range append([]string{rec.Database}, live...) {
			if db == "" || seen[db] {
				continue
			}
			seen[db] = true
			out = append(out, db)
		}
		sort.Strings(out)
		rec.Databases = out
		return nil
	})
}

// SetStatus updates the cached status field.
func (r *Registry) SetStatus(name string, status Status) (*Record, error) {
	return r.Update(name, func(rec *Record) error {
		rec.Status = status
		return nil
	})
}
