package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
)

var clickhouseMeta = meta{
	typ:         ClickHouse,
	serverBased: true,
	defaultPort: 9000,
	portSpan:    1,
	executables: []string{"clickhouse"},
	aliases: map[string]string{
		"latest": "25.4.2.31",
		"lts":    "24.8.14.39",
		"24.8":   "24.8.14.39",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthTCP},
}

type clickhouseEngine struct{ meta }

// LaunchSpec starts a config-less server. The HTTP interface is disabled so
// the instance occupies exactly one port; clients and the live lister use
// the native protocol.
func (clickhouseEngine) LaunchSpec(inst Instance) (LaunchSpec, error) {
	return LaunchSpec{
		Exec: filepath.Join(inst.BinDir, ExecutableName("clickhouse")),
		Args: []string{
			"server",
			"--",
			"--path=" + inst.DataDir,
			"--listen_host=127.0.0.1",
			"--tcp_port=" + strconv.Itoa(inst.Port),
			"--http_port=0",
			"--mysql_port=0",
		},
		Dir: inst.DataDir,
	}, nil
}

func (clickhouseEngine) ConnectionString(inst Instance) string {
	return fmt.Sprintf("clickhouse://default@127.0.0.1:%d/%s", inst.Port, inst.Database)
}

func (clickhouseEngine) ListDatabases(ctx context.Context, inst Instance) ([]string, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("127.0.0.1:%d", inst.Port)},
		Auth: clickhouse.Auth{Database: "default", Username: "default"},
	})
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.Query(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, fmt.Errorf("list clickhouse databases: %w", err)
	}
	defer func() { _ = rows.Close() }()

	system := map[string]bool{"system": true, "INFORMATION_SCHEMA": true, "information_schema": true}
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
