package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
)

var mongoMeta = meta{
	typ:         MongoDB,
	serverBased: true,
	defaultPort: 27017,
	portSpan:    1,
	executables: []string{"mongod", "mongosh"},
	aliases: map[string]string{
		"latest": "8.0.9",
		"8.0":    "8.0.9",
		"7.0":    "7.0.20",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthTCP},
}

type mongoEngine struct{ meta }

func (mongoEngine) LaunchSpec(inst Instance) (LaunchSpec, error) {
	return LaunchSpec{
		Exec: filepath.Join(inst.BinDir, ExecutableName("mongod")),
		Args: []string{
			"--dbpath", inst.DataDir,
			"--port", strconv.Itoa(inst.Port),
			"--bind_ip", "127.0.0.1",
		},
	}, nil
}

func (mongoEngine) ConnectionString(inst Instance) string {
	return fmt.Sprintf("mongodb://127.0.0.1:%d/%s", inst.Port, inst.Database)
}

// ListDatabases is unsupported until a mongo client joins the dependency
// set; the registry list stays authoritative for this engine.
func (mongoEngine) ListDatabases(context.Context, Instance) ([]string, error) {
	return nil, unsupportedf(MongoDB, "live database listing")
}
