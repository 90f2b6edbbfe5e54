package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresMeta = meta{
	typ:         Postgres,
	serverBased: true,
	defaultPort: 5432,
	portSpan:    1,
	executables: []string{"postgres", "initdb", "pg_ctl", "pg_isready", "psql", "pg_dump", "pg_restore"},
	aliases: map[string]string{
		"latest": "17.5",
		"17":     "17.5",
		"16":     "16.9",
		"15":     "15.13",
		"14":     "14.18",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthTCP},
}

type postgresEngine struct{ meta }

// Prepare runs initdb against an empty data directory. The cluster is owned
// by the "postgres" superuser with trust auth, which is the expected setup
// for throwaway local instances.
func (postgresEngine) Prepare(ctx context.Context, inst Instance) error {
	initdb := filepath.Join(inst.BinDir, ExecutableName("initdb"))
	cmd := exec.CommandContext(ctx, initdb, "-D", inst.DataDir, "-U", "postgres", "-A", "trust", "--no-sync") // #nosec G204
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("initdb: %w: %s", err, tailOf(out))
	}
	return nil
}

func (postgresEngine) LaunchSpec(inst Instance) (LaunchSpec, error) {
	return LaunchSpec{
		Exec: filepath.Join(inst.BinDir, ExecutableName("postgres")),
		Args: []string{
			"-D", inst.DataDir,
			"-p", strconv.Itoa(inst.Port),
			"-k", inst.DataDir,
			"-c", "listen_addresses=127.0.0.1",
		},
	}, nil
}

func (postgresEngine) ConnectionString(inst Instance) string {
	return fmt.Sprintf("postgresql://postgres@127.0.0.1:%d/%s", inst.Port, inst.Database)
}

func (postgresEngine) ListDatabases(ctx context.Context, inst Instance) ([]string, error) {
	dsn := fmt.Sprintf("postgres://postgres@127.0.0.1:%d/postgres?sslmode=disable", inst.Port)
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`)
	if err != nil {
		return nil, fmt.Errorf("list postgres databases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
