package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

var redisMeta = meta{
	typ:         Redis,
	serverBased: true,
	defaultPort: 6379,
	portSpan:    1,
	executables: []string{"redis-server", "redis-cli"},
	aliases: map[string]string{
		"latest": "7.4.3",
		"7.4":    "7.4.3",
		"7.2":    "7.2.8",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthTCP},
}

type redisEngine struct{ meta }

func (e redisEngine) LaunchSpec(inst Instance) (LaunchSpec, error) {
	return LaunchSpec{
		Exec: filepath.Join(inst.BinDir, ExecutableName("redis-server")),
		Args: []string{
			"--port", strconv.Itoa(inst.Port),
			"--bind", "127.0.0.1",
			"--dir", inst.DataDir,
			"--appendonly", "yes",
		},
	}, nil
}

func (redisEngine) ConnectionString(inst Instance) string {
	return fmt.Sprintf("redis://127.0.0.1:%d", inst.Port)
}

// ListDatabases is unsupported: redis has numbered keyspaces, not named
// databases, so there is nothing to reconcile.
func (redisEngine) ListDatabases(context.Context, Instance) ([]string, error) {
	return nil, unsupportedf(Redis, "database listing")
}
