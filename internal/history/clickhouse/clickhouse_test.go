package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/robertjbass/spindb-sub005/internal/history"
)

func TestClickHouseSinkConnectionError(t *testing.T) {
	if _, err := New("invalid-host:9000", "container_history"); err == nil {
		t.Fatal("expected error for unreachable host")
	}
}

func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("failed to start clickhouse container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := container.MappedPort(ctx, "9000")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	return container, host + ":" + mapped.Port()
}

// setupSinkWithTable creates the sink and the audit table the sink itself
// deliberately does not manage.
func setupSinkWithTable(ctx context.Context, t *testing.T, addr, table string) *Sink {
	t.Helper()

	sink, err := New(addr, table)
	if err != nil {
		t.Fatalf("create sink: %v", err)
	}
	t.Cleanup(func() { _ = sink.Close() })

	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			id String,
			occurred_at DateTime64(6),
			event String,
			container String,
			engine String,
			version String,
			port Int32,
			detail String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, container)
	`)
	if err != nil {
		t.Fatalf("create table: %v", err)
	}

	return sink
}

func TestClickHouseSink_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	_, addr := setupClickHouseContainer(ctx, t)
	sink := setupSinkWithTable(ctx, t, addr, "container_history")

	created := history.New(history.EventCreated, "analytics", "clickhouse", "24.8", 9010)
	stopped := history.New(history.EventStopped, "analytics", "clickhouse", "24.8", 9010).
		WithDetail("stopped by user")

	if err := sink.Send(ctx, created); err != nil {
		t.Fatalf("send created: %v", err)
	}
	if err := sink.Send(ctx, stopped); err != nil {
		t.Fatalf("send stopped: %v", err)
	}

	row := sink.conn.QueryRow(ctx,
		"SELECT COUNT(*) FROM container_history WHERE container = ?", "analytics")
	var count uint64
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events, got %d", count)
	}
}
