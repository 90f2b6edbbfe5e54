package binaries

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/robertjbass/spindb-sub005/internal/engine"
	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

// fakeEngine satisfies the adapter surface with just enough behavior for
// install and verify tests.
type fakeEngine struct{ execs []string }

func (fakeEngine) Type() engine.Type          { return engine.Type("fakedb") }
func (fakeEngine) ServerBased() bool          { return true }
func (fakeEngine) DefaultPort() int           { return 9999 }
func (fakeEngine) PortSpan() int              { return 1 }
func (f fakeEngine) Executables() []string    { return f.execs }
func (fakeEngine) Aliases() map[string]string { return map[string]string{"latest": "1.2.3"} }
func (fakeEngine) VersionArg() string         { return "--version" }
func (fakeEngine) Health() engine.HealthSpec  { return engine.HealthSpec{Kind: engine.HealthTCP} }

func (fakeEngine) Prepare(context.Context, engine.Instance) error { return nil }
func (fakeEngine) LaunchSpec(engine.Instance) (engine.LaunchSpec, error) {
	return engine.LaunchSpec{}, nil
}
func (fakeEngine) ConnectionString(engine.Instance) string { return "" }
func (fakeEngine) ListDatabases(context.Context, engine.Instance) ([]string, error) {
	return nil, nil
}

func newFakeEngine() fakeEngine { return fakeEngine{execs: []string{"fakedb", "fakectl"}} }

type tarEntry struct {
	name string
	body string
	mode int64
}

func buildTarGz(t *testing.T, entries []tarEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		if strings.HasSuffix(e.name, "/") {
			if err := tw.WriteHeader(&tar.Header{Name: e.name, Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
				t.Fatal(err)
			}
			continue
		}
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		hdr := &tar.Header{Name: e.name, Typeflag: tar.TypeReg, Mode: mode, Size: int64(len(e.body))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(e.body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// versionScript prints a version banner the verifier can parse.
func versionScript(version string) string {
	return fmt.Sprintf("#!/bin/sh\necho \"fakedb (FakeDB) %s\"\n", version)
}

// serveArchive exposes archive at the canonical download path for
// fakedb/version on this platform.
func serveArchive(t *testing.T, version string, archive []byte) (*httptest.Server, *int) {
	t.Helper()
	hits := 0
	want := fmt.Sprintf("/fakedb/%s/%s", version,
		InstallName("fakedb", version, runtime.GOOS, runtime.GOARCH)+archiveExt())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != want {
			http.NotFound(w, r)
			return
		}
		hits++
		_, _ = w.Write(archive)
	}))
	t.Cleanup(srv.Close)
	return srv, &hits
}

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := New(filepath.Join(t.TempDir(), "binaries"), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestInstallFlatArchive(t *testing.T) {
	requireUnix(t)
	archive := buildTarGz(t, []tarEntry{
		{name: "fakedb", body: versionScript("1.2.3"), mode: 0o755},
		{name: "fakectl", body: "#!/bin/sh\n", mode: 0o755},
		{name: "README", body: "docs"},
	})
	srv, hits := serveArchive(t, "1.2.3", archive)
	m := newTestManager(t, WithBaseURL(srv.URL))
	eng := newFakeEngine()

	binDir, err := m.Install(context.Background(), eng, "1.2.3")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	for _, exe := range []string{"fakedb", "fakectl"} {
		fi, err := os.Stat(filepath.Join(binDir, exe))
		if err != nil {
			t.Fatalf("missing %s: %v", exe, err)
		}
		if fi.Mode()&0o111 == 0 {
			t.Fatalf("%s not executable: %v", exe, fi.Mode())
		}
	}
	// payload files survive next to bin/
	if _, err := os.Stat(filepath.Join(m.Dir(eng, "1.2.3"), "README")); err != nil {
		t.Fatalf("README lost: %v", err)
	}
	if !m.IsInstalled(eng, "1.2.3") {
		t.Fatal("IsInstalled = false after install")
	}

	// a second ensure is served from the cache
	if _, err := m.EnsureInstalled(context.Background(), eng, "1.2.3"); err != nil {
		t.Fatalf("EnsureInstalled: %v", err)
	}
	if *hits != 1 {
		t.Fatalf("downloads = %d, want 1", *hits)
	}
	// work directories are cleaned up
	if n := m.SweepTemp(); n != 0 {
		t.Fatalf("leftover temp dirs: %d", n)
	}
}

func TestInstallNestedArchiveWithBinDir(t *testing.T) {
	requireUnix(t)
	archive := buildTarGz(t, []tarEntry{
		{name: "fakedb-1.2.3/bin/fakedb", body: versionScript("1.2.3"), mode: 0o755},
		{name: "fakedb-1.2.3/share/doc.txt", body: "x"},
	})
	srv, _ := serveArchive(t, "1.2.3", archive)
	m := newTestManager(t, WithBaseURL(srv.URL))
	eng := newFakeEngine()

	binDir, err := m.Install(context.Background(), eng, "1.2.3")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if _, err := os.Stat(filepath.Join(binDir, "fakedb")); err != nil {
		t.Fatalf("primary not in bin: %v", err)
	}
	if _, err := os.Stat(filepath.Join(m.Dir(eng, "1.2.3"), "share", "doc.txt")); err != nil {
		t.Fatalf("payload lost: %v", err)
	}
}

func TestInstallMissingArchive(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	t.Cleanup(srv.Close)
	m := newTestManager(t, WithBaseURL(srv.URL))

	_, err := m.Install(context.Background(), newFakeEngine(), "9.9.9")
	if !errors.Is(err, errdefs.ErrBinaryNotFound) {
		t.Fatalf("err = %v, want binary-not-found", err)
	}
}

func TestInstallServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	m := newTestManager(t, WithBaseURL(srv.URL))

	_, err := m.Install(context.Background(), newFakeEngine(), "1.2.3")
	if !errors.Is(err, errdefs.ErrDownloadFailed) {
		t.Fatalf("err = %v, want download-failed", err)
	}
}

func TestInstallTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	m := newTestManager(t, WithBaseURL(srv.URL), WithTimeout(50*time.Millisecond))

	_, err := m.Install(context.Background(), newFakeEngine(), "1.2.3")
	if !errors.Is(err, errdefs.ErrDownloadTimeout) {
		t.Fatalf("err = %v, want download-timeout", err)
	}
}

func TestInstallCorruptArchiveLeavesNoResidue(t *testing.T) {
	srv, _ := serveArchive(t, "1.2.3", []byte("this is not a gzip stream"))
	m := newTestManager(t, WithBaseURL(srv.URL))
	eng := newFakeEngine()

	_, err := m.Install(context.Background(), eng, "1.2.3")
	if !errors.Is(err, errdefs.ErrDownloadFailed) {
		t.Fatalf("err = %v, want download-failed", err)
	}
	if m.IsInstalled(eng, "1.2.3") {
		t.Fatal("failed install reported as installed")
	}
	entries, err := os.ReadDir(m.Root())
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	// neither a half-populated install nor an orphaned work directory
	if len(entries) != 0 {
		t.Fatalf("cache root not empty after failed install: %v", entries)
	}
}

func TestVerifyRejectsWrongVersion(t *testing.T) {
	requireUnix(t)
	archive := buildTarGz(t, []tarEntry{
		{name: "fakedb", body: versionScript("2.0.0"), mode: 0o755},
	})
	srv, _ := serveArchive(t, "1.2.3", archive)
	m := newTestManager(t, WithBaseURL(srv.URL))
	eng := newFakeEngine()

	_, err := m.Install(context.Background(), eng, "1.2.3")
	if !errors.Is(err, errdefs.ErrVersionMismatch) {
		t.Fatalf("err = %v, want version-mismatch", err)
	}
	// the poisoned cache entry must not survive
	if m.IsInstalled(eng, "1.2.3") {
		t.Fatal("mismatched install left in cache")
	}
}

func TestVerifyAcceptsSameMajorNewerPatch(t *testing.T) {
	requireUnix(t)
	archive := buildTarGz(t, []tarEntry{
		{name: "fakedb", body: versionScript("1.3.0"), mode: 0o755},
	})
	srv, _ := serveArchive(t, "1.2.3", archive)
	m := newTestManager(t, WithBaseURL(srv.URL))

	if _, err := m.Install(context.Background(), newFakeEngine(), "1.2.3"); err != nil {
		t.Fatalf("Install: %v", err)
	}
}

func TestCompareVersions(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"1.2.3", "1.2.3", 0},
		{"1.2", "1.2.0", 0},
		{"1.10", "1.9", 1},
		{"9.3.0", "10.0", -1},
		{"16.9", "16", 1},
		{"1.2.0-rc1", "1.2.0-rc2", -1},
		{"8.4.5", "8.4.5", 0},
		{"8.0.41", "8.0.4", 1},
		{"9.0.0", "8.9.9", 1},
		{"24.8.14.39", "24.8.14", 1},
	}
	for _, tc := range cases {
		if got := CompareVersions(tc.a, tc.b); got != tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
		if got := CompareVersions(tc.b, tc.a); got != -tc.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tc.b, tc.a, got, -tc.want)
		}
	}
}

func TestExtractVersion(t *testing.T) {
	cases := []struct{ in, want string }{
		{"postgres (PostgreSQL) 16.9", "16.9"},
		{"mysqld  Ver 8.4.5 for Linux on x86_64", "8.4.5"},
		{"Redis server v=7.4.3 sha=0:0", "7.4.3"},
		{"ClickHouse server version 24.8.14.39 (official build).", "24.8.14.39"},
		{"no version here", ""},
	}
	for _, tc := range cases {
		if got := ExtractVersion(tc.in); got != tc.want {
			t.Errorf("ExtractVersion(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSameMajor(t *testing.T) {
	if !SameMajor("16.9", "16.2") {
		t.Error("16.x should match")
	}
	if SameMajor("16.9", "17.0") {
		t.Error("different majors should not match")
	}
}

func TestListInstalledParsesDirNames(t *testing.T) {
	m := newTestManager(t)
	for _, dir := range []string{
		"postgres-16.9-linux-amd64",
		"postgres-15.13-linux-amd64",
		"redis-7.4.3-darwin-arm64",
		"tmp-deadbeef",
		"junk",
	} {
		if err := os.MkdirAll(filepath.Join(m.Root(), dir), 0o750); err != nil {
			t.Fatal(err)
		}
	}

	got, err := m.ListInstalled()
	if err != nil {
		t.Fatalf("ListInstalled: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %+v, want 3", got)
	}
	// sorted by engine then version
	if got[0].Version != "15.13" || got[1].Version != "16.9" {
		t.Fatalf("postgres order wrong: %+v", got)
	}
	if got[2].Engine != "redis" || got[2].Platform != "darwin" || got[2].Arch != "arm64" {
		t.Fatalf("redis entry wrong: %+v", got[2])
	}
}

func TestDeleteMissingInstall(t *testing.T) {
	m := newTestManager(t)
	if err := m.Delete("postgres", "1.0"); !errors.Is(err, errdefs.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestSweepTemp(t *testing.T) {
	m := newTestManager(t)
	for _, dir := range []string{"tmp-a", "tmp-b", "postgres-16.9-linux-amd64"} {
		if err := os.MkdirAll(filepath.Join(m.Root(), dir), 0o750); err != nil {
			t.Fatal(err)
		}
	}
	if n := m.SweepTemp(); n != 2 {
		t.Fatalf("swept %d, want 2", n)
	}
	if _, err := os.Stat(filepath.Join(m.Root(), "postgres-16.9-linux-amd64")); err != nil {
		t.Fatal("sweep removed a real install")
	}
}

func TestSanitizeExtractPath(t *testing.T) {
	dst := t.TempDir()
	if _, err := sanitizeExtractPath(dst, "../evil"); err == nil {
		t.Fatal("expected traversal rejection")
	}
	if _, err := sanitizeExtractPath(dst, "ok/file"); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
}

func TestExtractZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("nested/fakedb.exe")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("MZ")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	if err := os.WriteFile(archive, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "out")
	if err := extractZip(archive, dst); err != nil {
		t.Fatalf("extractZip: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dst, "nested", "fakedb.exe")); err != nil {
		t.Fatalf("entry missing: %v", err)
	}
}

func FuzzCompareVersions(f *testing.F) {
	f.Add("1.2.3", "1.2.4")
	f.Add("10.11.8", "10.2.0")
	f.Add("24.3.2.23", "24.3")
	f.Add("", "1")
	f.Add("1.2.0-rc1", "1.2.0")
	f.Add("01.002", "1.2")

	f.Fuzz(func(t *testing.T, a, b string) {
		ab := CompareVersions(a, b)
		ba := CompareVersions(b, a)
		if ab != -ba {
			t.Errorf("CompareVersions(%q, %q) = %d but reversed = %d", a, b, ab, ba)
		}
		if CompareVersions(a, a) != 0 {
			t.Errorf("CompareVersions(%q, %q) != 0", a, a)
		}
		if got := ExtractVersion(a); got != "" {
			// Extraction is idempotent: a found version extracts to itself.
			if again := ExtractVersion(got); again != got {
				t.Errorf("ExtractVersion(%q) = %q, re-extracts to %q", a, got, again)
			}
		}
	})
}
