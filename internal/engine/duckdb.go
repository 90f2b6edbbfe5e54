package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var duckdbMeta = meta{
	typ:         DuckDB,
	serverBased: false,
	defaultPort: 0,
	portSpan:    0,
	executables: []string{"duckdb"},
	aliases: map[string]string{
		"latest": "1.2.2",
		"1.1":    "1.1.3",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthProcess},
}

// duckdbEngine is file-backed: there is no server process, so launching is
// unsupported and the connection string is the database file itself.
type duckdbEngine struct{ meta }

func (duckdbEngine) LaunchSpec(Instance) (LaunchSpec, error) {
	return LaunchSpec{}, unsupportedf(DuckDB, "server process")
}

func (duckdbEngine) ConnectionString(inst Instance) string {
	return filepath.Join(inst.DataDir, inst.Database+".duckdb")
}

// ListDatabases enumerates the .duckdb files in the data directory; each
// file is its own database.
func (duckdbEngine) ListDatabases(_ context.Context, inst Instance) ([]string, error) {
	entries, err := os.ReadDir(inst.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if name, ok := strings.CutSuffix(e.Name(), ".duckdb"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}
