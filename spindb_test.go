package spindb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robertjbass/spindb-sub005/internal/config"
	"github.com/robertjbass/spindb-sub005/internal/engine"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

// fakeDownloads serves version-flag-aware script archives for any engine,
// so facade tests never touch the network or a real database build.
func fakeDownloads(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 {
			http.NotFound(w, r)
			return
		}
		typ, err := engine.ParseType(parts[0])
		if err != nil {
			http.NotFound(w, r)
			return
		}
		eng, _ := engine.New(typ)
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		tw := tar.NewWriter(gz)
		for _, exe := range eng.Executables() {
			script := fmt.Sprintf("#!/bin/sh\n[ \"$1\" = \"%s\" ] && { echo \"%s %s\"; exit 0; }\nexit 1\n",
				eng.VersionArg(), typ, parts[1])
			hdr := &tar.Header{Name: exe, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(script))}
			if err := tw.WriteHeader(hdr); err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			_, _ = tw.Write([]byte(script))
		}
		_ = tw.Close()
		_ = gz.Close()
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newFacade(t *testing.T) *Manager {
	t.Helper()
	requireUnix(t)
	srv := fakeDownloads(t)
	t.Setenv(config.EnvHome, "")
	cfg := DefaultConfig()
	cfg.Home = t.TempDir()
	cfg.Download.BaseURL = srv.URL
	cfg.Download.Timeout = time.Minute
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestFacadeLifecycle(t *testing.T) {
	m := newFacade(t)
	ctx := context.Background()

	rec, err := m.Create(ctx, CreateOptions{Name: "f1", Engine: "duckdb"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if rec.Status != StatusCreated {
		t.Fatalf("status = %s", rec.Status)
	}

	infos, err := m.List()
	if err != nil || len(infos) != 1 {
		t.Fatalf("list = %v err=%v", infos, err)
	}
	info, err := m.Info("f1")
	if err != nil || info.Running {
		t.Fatalf("info = %+v err=%v", info, err)
	}

	if _, err := m.Clone(ctx, "f1", "f2", 0); err != nil {
		t.Fatalf("clone: %v", err)
	}
	if _, err := m.Rename(ctx, "f2", "f3"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	sizes, err := m.Sizes(ctx)
	if err != nil || len(sizes) != 2 {
		t.Fatalf("sizes = %v err=%v", sizes, err)
	}
	if err := m.Delete(ctx, "f3", false); err != nil {
		t.Fatalf("delete: %v", err)
	}
}

func TestFacadeHTTPHandler(t *testing.T) {
	m := newFacade(t)

	h := m.HTTPHandler("/api")
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("healthz via facade handler: %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/containers", nil)
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("containers via facade handler: %d %q", rr.Code, rr.Body.String())
	}
}

func TestConfigHelpers(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvHome, "")
	p := filepath.Join(dir, "cfg.toml")
	raw := `
home = "` + dir + `"

[download]
base_url = "https://mirror.internal"
timeout = "1m"

[port_bases]
postgres = 15000
`
	if err := os.WriteFile(p, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(p)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Download.BaseURL != "https://mirror.internal" {
		t.Fatalf("base url = %q", cfg.Download.BaseURL)
	}
	if cfg.PortBase("postgres", 5432) != 15000 {
		t.Fatalf("port base override ignored")
	}
	if cfg.PortBase("redis", 6379) != 6379 {
		t.Fatalf("port base fallback broken")
	}
}

func TestMetricsHelpers(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("RegisterMetrics: %v", err)
	}
	// Registering twice must stay idempotent.
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("second RegisterMetrics: %v", err)
	}
	if err := RegisterMetricsDefault(); err != nil {
		t.Fatalf("RegisterMetricsDefault: %v", err)
	}
}
