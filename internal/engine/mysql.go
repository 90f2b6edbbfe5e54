package engine

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

var mysqlMeta = meta{
	typ:         MySQL,
	serverBased: true,
	defaultPort: 3306,
	portSpan:    1,
	executables: []string{"mysqld", "mysql", "mysqladmin", "mysqldump"},
	aliases: map[string]string{
		"latest": "9.3.0",
		"lts":    "8.4.5",
		"8.4":    "8.4.5",
		"8.0":    "8.0.42",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthTCP},
}

var mariadbMeta = meta{
	typ:         MariaDB,
	serverBased: true,
	defaultPort: 3306,
	portSpan:    1,
	executables: []string{"mariadbd", "mariadb", "mariadb-install-db", "mariadb-admin", "mariadb-dump"},
	aliases: map[string]string{
		"latest": "11.8.2",
		"lts":    "11.4.7",
		"11.4":   "11.4.7",
		"10.11":  "10.11.13",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthTCP},
}

// mysqlEngine covers both MySQL and MariaDB; the servers take the same
// launch flags and speak the same wire protocol, so beyond metadata only
// the data-directory seeding step differs.
type mysqlEngine struct{ meta }

func (e mysqlEngine) serverExec(inst Instance) string {
	return filepath.Join(inst.BinDir, ExecutableName(e.executables[0]))
}

// Prepare seeds the system tables. The root account is created without a
// password, matching the disposable-instance use case. MariaDB ships a
// separate install tool; mysqld seeds via its own flag.
func (e mysqlEngine) Prepare(ctx context.Context, inst Instance) error {
	var cmd *exec.Cmd
	if e.typ == MariaDB {
		installDB := filepath.Join(inst.BinDir, ExecutableName("mariadb-install-db"))
		cmd = exec.CommandContext(ctx, installDB,
			"--datadir="+inst.DataDir,
			"--auth-root-authentication-method=normal",
		) // #nosec G204
	} else {
		cmd = exec.CommandContext(ctx, e.serverExec(inst),
			"--initialize-insecure",
			"--datadir="+inst.DataDir,
		) // #nosec G204
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s initialize: %w: %s", e.typ, err, tailOf(out))
	}
	return nil
}

func (e mysqlEngine) LaunchSpec(inst Instance) (LaunchSpec, error) {
	return LaunchSpec{
		Exec: e.serverExec(inst),
		Args: []string{
			"--datadir=" + inst.DataDir,
			"--port=" + strconv.Itoa(inst.Port),
			"--bind-address=127.0.0.1",
			"--socket=" + filepath.Join(inst.DataDir, "mysql.sock"),
			"--skip-networking=0",
		},
	}, nil
}

func (e mysqlEngine) ConnectionString(inst Instance) string {
	return fmt.Sprintf("mysql://root@127.0.0.1:%d/%s", inst.Port, inst.Database)
}

func (e mysqlEngine) ListDatabases(ctx context.Context, inst Instance) ([]string, error) {
	cfg := mysql.NewConfig()
	cfg.User = "root"
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("127.0.0.1:%d", inst.Port)

	db, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("list %s databases: %w", e.typ, err)
	}
	defer func() { _ = rows.Close() }()

	system := map[string]bool{
		"information_schema": true,
		"performance_schema": true,
		"mysql":              true,
		"sys":                true,
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		if !system[name] {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}
