// Package binaries provisions engine server binaries. Installs are cached
// under one directory per engine/version/platform/arch combination with a
// canonical bin/ layout, so every other component can locate executables
// without knowing how the upstream archive was shaped.
package binaries

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/robertjbass/spindb-sub005/internal/engine"
	"github.com/robertjbass/spindb-sub005/internal/errdefs"
	"github.com/robertjbass/spindb-sub005/internal/metrics"
)

const (
	// DefaultBaseURL is the archive mirror queried when the configuration
	// does not override it.
	DefaultBaseURL = "https://downloads.spindb.io"
	// DefaultDownloadTimeout caps a single archive download.
	DefaultDownloadTimeout = 10 * time.Minute

	verifyTimeout = 15 * time.Second
	tmpPrefix     = "tmp-"
)

// Manager downloads, unpacks and verifies engine binaries under root.
type Manager struct {
	root    string
	baseURL string
	client  *http.Client
	timeout time.Duration
}

type Option func(*Manager)

func WithBaseURL(u string) Option {
	return func(m *Manager) { m.baseURL = strings.TrimRight(u, "/") }
}

func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

func WithHTTPClient(c *http.Client) Option {
	return func(m *Manager) { m.client = c }
}

func New(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		return nil, errors.New("binaries: empty root directory")
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("binaries: create root: %w", err)
	}
	m := &Manager{
		root:    root,
		baseURL: DefaultBaseURL,
		client:  &http.Client{},
		timeout: DefaultDownloadTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) Root() string { return m.root }

// InstallName is the canonical cache directory name for one install.
func InstallName(engineType, version, goos, arch string) string {
	return fmt.Sprintf("%s-%s-%s-%s", engineType, version, goos, arch)
}

// Dir returns the install directory for eng/version on this platform.
func (m *Manager) Dir(eng engine.Engine, version string) string {
	return filepath.Join(m.root, InstallName(string(eng.Type()), version, runtime.GOOS, runtime.GOARCH))
}

// BinDir returns the executable directory of an install.
func (m *Manager) BinDir(eng engine.Engine, version string) string {
	return filepath.Join(m.Dir(eng, version), "bin")
}

// IsInstalled reports whether the primary executable is present.
func (m *Manager) IsInstalled(eng engine.Engine, version string) bool {
	primary := engine.ExecutableName(eng.Executables()[0])
	_, err := os.Stat(filepath.Join(m.BinDir(eng, version), primary))
	return err == nil
}

// EnsureInstalled returns the bin directory for eng/version, downloading
// and unpacking the archive when the cache misses.
func (m *Manager) EnsureInstalled(ctx context.Context, eng engine.Engine, version string) (string, error) {
	if m.IsInstalled(eng, version) {
		return m.BinDir(eng, version), nil
	}
	return m.Install(ctx, eng, version)
}

func (m *Manager) archiveURL(eng engine.Engine, version string) string {
	name := InstallName(string(eng.Type()), version, runtime.GOOS, runtime.GOARCH) + archiveExt()
	return fmt.Sprintf("%s/%s/%s/%s", m.baseURL, eng.Type(), version, name)
}

func archiveExt() string {
	if runtime.GOOS == "windows" {
		return ".zip"
	}
	return ".tar.gz"
}

// Install fetches the archive for eng/version, normalizes its layout into
// the cache and verifies the result. All intermediate state lives in a
// temporary work directory that is removed on every exit path, so a failed
// install never leaves a half-populated cache entry behind.
func (m *Manager) Install(ctx context.Context, eng engine.Engine, version string) (string, error) {
	work := filepath.Join(m.root, tmpPrefix+uuid.NewString())
	if err := os.MkdirAll(work, 0o750); err != nil {
		return "", fmt.Errorf("binaries: workdir: %w", err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	url := m.archiveURL(eng, version)
	archive := filepath.Join(work, "archive"+archiveExt())
	started := time.Now()
	slog.Info("Downloading engine binaries", "engine", eng.Type(), "version", version, "url", url)

	written, err := m.download(ctx, url, archive)
	if err != nil {
		metrics.IncBinaryDownloadFailed(string(eng.Type()))
		return "", err
	}
	metrics.ObserveBinaryDownload(string(eng.Type()), written, time.Since(started).Seconds())

	extractDir := filepath.Join(work, "extract")
	if err := os.MkdirAll(extractDir, 0o750); err != nil {
		return "", err
	}
	if runtime.GOOS == "windows" {
		err = extractZip(archive, extractDir)
	} else {
		err = extractTarGz(archive, extractDir)
	}
	if err != nil {
		metrics.IncBinaryDownloadFailed(string(eng.Type()))
		return "", fmt.Errorf("%w: unpack %s: %v", errdefs.ErrDownloadFailed, filepath.Base(archive), err)
	}

	staged, err := normalizeLayout(extractDir, eng)
	if err != nil {
		return "", err
	}
	if err := markExecutables(filepath.Join(staged, "bin")); err != nil {
		return "", err
	}

	final := m.Dir(eng, version)
	_ = os.RemoveAll(final) // clear wreckage from an interrupted install
	if err := os.Rename(staged, final); err != nil {
		return "", fmt.Errorf("binaries: place install: %w", err)
	}

	if err := m.Verify(ctx, eng, version); err != nil {
		_ = os.RemoveAll(final)
		return "", err
	}

	slog.Info("Engine binaries installed",
		"engine", eng.Type(), "version", version, "dir", final, "took", time.Since(started).Round(time.Millisecond))
	return m.BinDir(eng, version), nil
}

// download streams url into dest, mapping the failure modes onto the error
// taxonomy: a missing archive is distinct from network trouble, which is
// distinct from running out the download clock.
func (m *Manager) download(ctx context.Context, url, dest string) (int64, error) {
	dctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(dctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errdefs.ErrDownloadFailed, err)
	}
	resp, err := m.client.Do(req)
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %s after %s", errdefs.ErrDownloadTimeout, url, m.timeout)
		}
		return 0, fmt.Errorf("%w: %v", errdefs.ErrDownloadFailed, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return 0, fmt.Errorf("%w: no archive at %s", errdefs.ErrBinaryNotFound, url)
	default:
		return 0, fmt.Errorf("%w: %s returned %s", errdefs.ErrDownloadFailed, url, resp.Status)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", errdefs.ErrDownloadFailed, err)
	}
	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		if errors.Is(dctx.Err(), context.DeadlineExceeded) {
			return 0, fmt.Errorf("%w: %s after %s", errdefs.ErrDownloadTimeout, url, m.timeout)
		}
		return 0, fmt.Errorf("%w: %v", errdefs.ErrDownloadFailed, err)
	}
	return written, nil
}

// normalizeLayout reshapes an extracted archive into the canonical layout:
// executables under bin/, everything else preserved alongside. It handles
// archives nested under a single root directory, archives that already
// ship a bin/ directory, and flat archives.
func normalizeLayout(extractDir string, eng engine.Engine) (string, error) {
	cur := extractDir
	for {
		entries, err := os.ReadDir(cur)
		if err != nil {
			return "", err
		}
		if len(entries) == 1 && entries[0].IsDir() {
			cur = filepath.Join(cur, entries[0].Name())
			continue
		}
		break
	}

	primary := engine.ExecutableName(eng.Executables()[0])
	binDir := filepath.Join(cur, "bin")
	if _, err := os.Stat(filepath.Join(binDir, primary)); err == nil {
		return cur, nil
	}

	known := make(map[string]bool, len(eng.Executables()))
	for _, name := range eng.Executables() {
		known[engine.ExecutableName(name)] = true
	}

	var moves []string
	err := filepath.WalkDir(cur, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() && known[d.Name()] {
			moves = append(moves, path)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(binDir, 0o750); err != nil {
		return "", err
	}
	for _, src := range moves {
		dst := filepath.Join(binDir, filepath.Base(src))
		if src == dst {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			return "", err
		}
	}

	if _, err := os.Stat(filepath.Join(binDir, primary)); err != nil {
		return "", fmt.Errorf("%w: archive for %s has no %s", errdefs.ErrDownloadFailed, eng.Type(), primary)
	}
	return cur, nil
}

// markExecutables makes everything under binDir runnable. Windows decides
// executability by extension, so there is nothing to do there.
func markExecutables(binDir string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	return filepath.WalkDir(binDir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		return os.Chmod(path, 0o755) // #nosec G302 -- binaries must be executable
	})
}

// Verify runs the installed primary executable with the engine's version
// flag and checks the reported version: an exact match passes, a newer
// patch of the same major passes, anything else fails with the mismatch
// condition.
func (m *Manager) Verify(ctx context.Context, eng engine.Engine, version string) error {
	primary := engine.ExecutableName(eng.Executables()[0])
	exe := filepath.Join(m.BinDir(eng, version), primary)

	vctx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()
	out, err := exec.CommandContext(vctx, exe, eng.VersionArg()).CombinedOutput() // #nosec G204
	if err != nil {
		return fmt.Errorf("%w: %s %s failed: %v: %s",
			errdefs.ErrVersionMismatch, primary, eng.VersionArg(), err, strings.TrimSpace(string(out)))
	}

	got := ExtractVersion(string(out))
	if got == "" {
		return fmt.Errorf("%w: cannot find a version in %q", errdefs.ErrVersionMismatch, strings.TrimSpace(string(out)))
	}
	if got == version {
		return nil
	}
	if SameMajor(got, version) && CompareVersions(got, version) >= 0 {
		slog.Debug("Accepting same-major newer binary", "engine", eng.Type(), "want", version, "got", got)
		return nil
	}
	return fmt.Errorf("%w: %s reports %s, cache entry claims %s", errdefs.ErrVersionMismatch, primary, got, version)
}

// Installed describes one cache entry.
type Installed struct {
	Engine   string `json:"engine"`
	Version  string `json:"version"`
	Platform string `json:"platform"`
	Arch     string `json:"arch"`
	Path     string `json:"path"`
}

// ListInstalled enumerates cache entries by parsing their directory names.
// Unparseable directories and leftover work directories are ignored.
func (m *Manager) ListInstalled() ([]Installed, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return nil, fmt.Errorf("binaries: list: %w", err)
	}
	var out []Installed
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), tmpPrefix) {
			continue
		}
		parts := strings.Split(e.Name(), "-")
		if len(parts) < 4 {
			continue
		}
		out = append(out, Installed{
			Engine:   parts[0],
			Version:  strings.Join(parts[1:len(parts)-2], "-"),
			Platform: parts[len(parts)-2],
			Arch:     parts[len(parts)-1],
			Path:     filepath.Join(m.root, e.Name()),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Engine != out[j].Engine {
			return out[i].Engine < out[j].Engine
		}
		return CompareVersions(out[i].Version, out[j].Version) < 0
	})
	return out, nil
}

// Delete removes one cache entry for the current platform.
func (m *Manager) Delete(engineType, version string) error {
	dir := filepath.Join(m.root, InstallName(engineType, version, runtime.GOOS, runtime.GOARCH))
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("%w: %s %s is not installed", errdefs.ErrNotFound, engineType, version)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("binaries: delete %s %s: %w", engineType, version, err)
	}
	slog.Info("Engine binaries removed", "engine", engineType, "version", version)
	return nil
}

// SweepTemp clears work directories left behind by interrupted installs.
func (m *Manager) SweepTemp() int {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), tmpPrefix) {
			if os.RemoveAll(filepath.Join(m.root, e.Name())) == nil {
				n++
			}
		}
	}
	if n > 0 {
		slog.Debug("Removed leftover download directories", "count", n)
	}
	return n
}
