package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/robertjbass/spindb-sub005/internal/config"
	"github.com/robertjbass/spindb-sub005/internal/engine"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a unix shell")
	}
}

func fakeDownloadServer(t *testing.T) *httptest.Server {
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

// newCommand returns a command wired to a throwaway home directory and a
// fake download server, with output captured in the returned buffer.
func newCommand(t *testing.T) (*command, *bytes.Buffer, string) {
	t.Helper()
	requireUnix(t)
	t.Setenv(config.EnvHome, "")
	srv := fakeDownloadServer(t)

	home := t.TempDir()
	path := filepath.Join(home, "test-config.toml")
	content := fmt.Sprintf("home = %q\n\n[download]\nbase_url = %q\ntimeout = \"1m\"\n", home, srv.URL)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	buf := &bytes.Buffer{}
	return &command{configPath: path, out: buf}, buf, home
}

func TestCreateListInfoDeleteFlow(t *testing.T) {
	cmd, buf, _ := newCommand(t)

	if err := cmd.Create(CreateFlags{Name: "c1", Engine: "duckdb"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if !strings.Contains(buf.String(), `Created container "c1" (duckdb 1.2.2)`) {
		t.Fatalf("create output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.List(ListFlags{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "NAME") || !strings.Contains(out, "c1") || !strings.Contains(out, "created") {
		t.Fatalf("list output = %q", out)
	}

	buf.Reset()
	if err := cmd.List(ListFlags{JSON: true}); err != nil {
		t.Fatalf("list json: %v", err)
	}
	if !strings.Contains(buf.String(), `"name": "c1"`) {
		t.Fatalf("json list output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.Info(InfoFlags{Name: "c1"}); err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(buf.String(), "connection_string") {
		t.Fatalf("info output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.Delete(DeleteFlags{Name: "c1"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !strings.Contains(buf.String(), `Deleted container "c1"`) {
		t.Fatalf("delete output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.List(ListFlags{}); err != nil {
		t.Fatalf("list after delete: %v", err)
	}
	if strings.Contains(buf.String(), "c1") {
		t.Fatalf("container still listed: %q", buf.String())
	}
}

func TestListSizesHumanized(t *testing.T) {
	cmd, buf, home := newCommand(t)

	if err := cmd.Create(CreateFlags{Name: "big", Engine: "duckdb"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	data := filepath.Join(home, "containers", "big", "data", "main.duckdb")
	if err := os.WriteFile(data, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("seed data: %v", err)
	}

	buf.Reset()
	if err := cmd.List(ListFlags{Sizes: true}); err != nil {
		t.Fatalf("list sizes: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "SIZE") || !strings.Contains(out, "4.0 KiB") {
		t.Fatalf("sized list output = %q", out)
	}
}

func TestStopRequiresNameOrAll(t *testing.T) {
	cmd := &command{out: &bytes.Buffer{}}
	if err := cmd.Stop(StopFlags{}); err == nil || !strings.Contains(err.Error(), "required") {
		t.Fatalf("err = %v", err)
	}

	all, buf, _ := newCommand(t)
	if err := all.Stop(StopFlags{All: true}); err != nil {
		t.Fatalf("stop all: %v", err)
	}
	if !strings.Contains(buf.String(), "Stopped all running containers") {
		t.Fatalf("stop all output = %q", buf.String())
	}
}

func TestCreateStartFailureStillCreates(t *testing.T) {
	cmd, buf, _ := newCommand(t)

	err := cmd.Create(CreateFlags{Name: "r1", Engine: "redis", Start: true})
	if err == nil {
		t.Fatalf("expected start failure from the fake binary")
	}
	if !strings.Contains(buf.String(), "but it failed to start") {
		t.Fatalf("create output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.List(ListFlags{}); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(buf.String(), "r1") {
		t.Fatalf("container should survive a failed start: %q", buf.String())
	}
}

func TestCloneAndRenameCommands(t *testing.T) {
	cmd, buf, _ := newCommand(t)

	if err := cmd.Create(CreateFlags{Name: "src", Engine: "duckdb"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	buf.Reset()
	if err := cmd.Clone(CloneFlags{From: "src", To: "dup"}); err != nil {
		t.Fatalf("clone: %v", err)
	}
	if !strings.Contains(buf.String(), `Cloned "src" to "dup"`) {
		t.Fatalf("clone output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.Rename(RenameFlags{From: "dup", To: "kept"}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if !strings.Contains(buf.String(), `Renamed "dup" to "kept"`) {
		t.Fatalf("rename output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.Info(InfoFlags{Name: "kept"}); err != nil {
		t.Fatalf("info: %v", err)
	}
	if !strings.Contains(buf.String(), `"cloned_from": "src"`) {
		t.Fatalf("info output = %q", buf.String())
	}
}

func TestDBCommands(t *testing.T) {
	cmd, buf, _ := newCommand(t)

	if err := cmd.Create(CreateFlags{Name: "c1", Engine: "duckdb"}); err != nil {
		t.Fatalf("create: %v", err)
	}

	buf.Reset()
	if err := cmd.DBAdd(DBFlags{Name: "c1", Database: "extra"}); err != nil {
		t.Fatalf("db add: %v", err)
	}
	if !strings.Contains(buf.String(), `Added database "extra" to container "c1"`) {
		t.Fatalf("db add output = %q", buf.String())
	}

	// The primary database is protected.
	if err := cmd.DBRemove(DBFlags{Name: "c1", Database: "main"}); err == nil {
		t.Fatalf("expected primary database removal to fail")
	}

	buf.Reset()
	if err := cmd.DBRemove(DBFlags{Name: "c1", Database: "extra"}); err != nil {
		t.Fatalf("db remove: %v", err)
	}
	if !strings.Contains(buf.String(), `Removed database "extra" from container "c1"`) {
		t.Fatalf("db remove output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.DBSync(DBFlags{Name: "c1"}); err != nil {
		t.Fatalf("db sync: %v", err)
	}
	if !strings.Contains(buf.String(), `Databases in "c1": main`) {
		t.Fatalf("db sync output = %q", buf.String())
	}
}

func TestBinariesCommands(t *testing.T) {
	cmd, buf, _ := newCommand(t)

	if err := cmd.BinariesInstall(BinaryFlags{Engine: "duckdb", Version: "1.1"}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if !strings.Contains(buf.String(), "Installed duckdb 1.1.3") {
		t.Fatalf("install output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.BinariesList(); err != nil {
		t.Fatalf("list: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "duckdb") || !strings.Contains(out, "1.1.3") {
		t.Fatalf("binaries list output = %q", out)
	}

	buf.Reset()
	if err := cmd.BinariesRemove(BinaryFlags{Engine: "duckdb", Version: "1.1.3"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if !strings.Contains(buf.String(), "Removed binary duckdb 1.1.3") {
		t.Fatalf("remove output = %q", buf.String())
	}

	buf.Reset()
	if err := cmd.BinariesList(); err != nil {
		t.Fatalf("list after remove: %v", err)
	}
	if strings.Contains(buf.String(), "1.1.3") {
		t.Fatalf("binary still listed: %q", buf.String())
	}
}

func TestCommandsSurfaceTaxonomyErrors(t *testing.T) {
	cmd, _, _ := newCommand(t)

	if err := cmd.Start(StartFlags{Name: "ghost"}); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("start ghost err = %v", err)
	}
	if err := cmd.Create(CreateFlags{Name: "bad/name", Engine: "duckdb"}); err == nil {
		t.Fatalf("expected invalid name error")
	}
	if err := cmd.Create(CreateFlags{Name: "ok", Engine: "oracle"}); err == nil || !strings.Contains(err.Error(), "unknown engine") {
		t.Fatalf("unknown engine err = %v", err)
	}
}
