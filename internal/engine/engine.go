// Package engine defines the adapter contract the lifecycle components are
// generic over, plus one variant per supported database engine. Variants
// carry the static metadata (executables, default ports, version aliases)
// and the behavior that genuinely differs per engine: first-start
// initialization, launch arguments, readiness probing and live database
// listing. Everything else (spawning, PID tracking, port allocation,
// binary caching) lives in the engine-agnostic packages.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
)

// Type identifies a supported database engine.
type Type string

const (
	Postgres   Type = "postgres"
	MySQL      Type = "mysql"
	MariaDB    Type = "mariadb"
	Redis      Type = "redis"
	MongoDB    Type = "mongodb"
	ClickHouse Type = "clickhouse"
	Qdrant     Type = "qdrant"
	DuckDB     Type = "duckdb"
)

// HealthKind selects the readiness probe the supervisor runs after spawn.
type HealthKind string

const (
	// HealthProcess considers the engine ready as soon as the process is alive.
	HealthProcess HealthKind = "process"
	// HealthTCP dials the container port until it accepts.
	HealthTCP HealthKind = "tcp"
	// HealthHTTP polls an HTTP path on the container port until it returns 200.
	HealthHTTP HealthKind = "http"
)

// HealthSpec describes how to decide an engine process is ready.
type HealthSpec struct {
	Kind HealthKind
	// Path is the probe path for HealthHTTP, e.g. "/readyz".
	Path string
}

// Instance is the engine-facing view of one provisioned container: where
// its binaries, data and log live and which port and primary database it
// was assigned. The registry owns the full record; callers project it into
// this struct before invoking engine behavior.
type Instance struct {
	Name     string
	Version  string
	Port     int
	Database string
	BinDir   string
	DataDir  string
	LogPath  string
}

// LaunchSpec is everything the supervisor needs to spawn an engine process.
type LaunchSpec struct {
	Exec string   // absolute executable path
	Args []string // argv without the executable
	Env  []string // appended to the inherited environment
	Dir  string   // working directory; empty means inherit
}

// Engine is the per-engine adapter surface. Implementations are stateless
// and safe for concurrent use.
type Engine interface {
	Type() Type
	// ServerBased reports whether the engine runs as a long-lived server
	// process. File-backed engines (duckdb) return false and have no
	// start/stop lifecycle.
	ServerBased() bool
	DefaultPort() int
	// PortSpan is the number of consecutive ports a container occupies
	// starting at its assigned port. Most engines use 1; qdrant reserves
	// port+1 for gRPC.
	PortSpan() int
	// Executables lists the binaries shipped for this engine, primary
	// server executable first. The binary manager uses it both to verify
	// installs and to classify extracted files into bin/.
	Executables() []string
	// Aliases maps version shorthands ("latest", "lts", major numbers) to
	// full version strings.
	Aliases() map[string]string
	// VersionArg is the flag passed to the primary executable to make it
	// print its version.
	VersionArg() string
	// Prepare initializes a fresh data directory before the first start.
	// Engines without an initialization step return nil.
	Prepare(ctx context.Context, inst Instance) error
	// LaunchSpec builds the spawn command for a provisioned instance.
	LaunchSpec(inst Instance) (LaunchSpec, error)
	Health() HealthSpec
	ConnectionString(inst Instance) string
	// ListDatabases returns the engine's live database list, used to
	// reconcile registry bookkeeping. Engines without a database concept
	// return errdefs.ErrUnsupported.
	ListDatabases(ctx context.Context, inst Instance) ([]string, error)
}

// meta carries the static per-engine metadata and provides the data-driven
// half of the Engine interface. Each variant embeds one.
type meta struct {
	typ         Type
	serverBased bool
	defaultPort int
	portSpan    int
	executables []string
	aliases     map[string]string
	versionArg  string
	health      HealthSpec
}

func (m meta) Type() Type                 { return m.typ }
func (m meta) ServerBased() bool          { return m.serverBased }
func (m meta) DefaultPort() int           { return m.defaultPort }
func (m meta) PortSpan() int              { return m.portSpan }
func (m meta) Executables() []string      { return m.executables }
func (m meta) Aliases() map[string]string { return m.aliases }
func (m meta) VersionArg() string         { return m.versionArg }
func (m meta) Health() HealthSpec         { return m.health }

func (m meta) Prepare(context.Context, Instance) error { return nil }

// New returns the adapter for t.
func New(t Type) (Engine, error) {
	switch t {
	case Postgres:
		return postgresEngine{meta: postgresMeta}, nil
	case MySQL:
		return mysqlEngine{meta: mysqlMeta}, nil
	case MariaDB:
		return mysqlEngine{meta: mariadbMeta}, nil
	case Redis:
		return redisEngine{meta: redisMeta}, nil
	case MongoDB:
		return mongoEngine{meta: mongoMeta}, nil
	case ClickHouse:
		return clickhouseEngine{meta: clickhouseMeta}, nil
	case Qdrant:
		return qdrantEngine{meta: qdrantMeta}, nil
	case DuckDB:
		return duckdbEngine{meta: duckdbMeta}, nil
	default:
		return nil, fmt.Errorf("unknown engine %q", t)
	}
}

// ParseType validates a user-supplied engine name.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if _, err := New(t); err != nil {
		return "", err
	}
	return t, nil
}

// Types lists the supported engines in stable order.
func Types() []Type {
	ts := []Type{Postgres, MySQL, MariaDB, Redis, MongoDB, ClickHouse, Qdrant, DuckDB}
	sort.Slice(ts, func(i, j int) bool { return ts[i] < ts[j] })
	return ts
}

// ResolveVersion maps a version alias to a full version through the
// engine's alias table. Unknown values pass through unchanged so callers
// can request exact versions the table does not know about.
func ResolveVersion(e Engine, alias string) string {
	if v, ok := e.Aliases()[alias]; ok {
		return v
	}
	slog.Debug("version alias not in table, using as-is", "engine", e.Type(), "version", alias)
	return alias
}

// DefaultDatabase is the primary database name used when the caller does
// not pick one: the engine's conventional system database where one
// exists, otherwise the container name.
func DefaultDatabase(t Type, container string) string {
	switch t {
	case Postgres:
		return "postgres"
	case ClickHouse:
		return "default"
	case Redis:
		return "0"
	case DuckDB:
		return "main"
	default:
		return container
	}
}
