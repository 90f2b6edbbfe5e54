package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"time"
)

var qdrantMeta = meta{
	typ:         Qdrant,
	serverBased: true,
	defaultPort: 6333,
	portSpan:    2, // port is HTTP, port+1 is gRPC
	executables: []string{"qdrant"},
	aliases: map[string]string{
		"latest": "1.14.0",
		"1.13":   "1.13.6",
	},
	versionArg: "--version",
	health:     HealthSpec{Kind: HealthHTTP, Path: "/readyz"},
}

type qdrantEngine struct{ meta }

// LaunchSpec configures qdrant entirely through environment overrides, so
// no config file has to be written into the data directory.
func (qdrantEngine) LaunchSpec(inst Instance) (LaunchSpec, error) {
	return LaunchSpec{
		Exec: filepath.Join(inst.BinDir, ExecutableName("qdrant")),
		Env: []string{
			"QDRANT__SERVICE__HOST=127.0.0.1",
			"QDRANT__SERVICE__HTTP_PORT=" + strconv.Itoa(inst.Port),
			"QDRANT__SERVICE__GRPC_PORT=" + strconv.Itoa(inst.Port+1),
			"QDRANT__STORAGE__STORAGE_PATH=" + filepath.Join(inst.DataDir, "storage"),
			"QDRANT__STORAGE__SNAPSHOTS_PATH=" + filepath.Join(inst.DataDir, "snapshots"),
			"QDRANT__TELEMETRY_DISABLED=true",
		},
		Dir: inst.DataDir,
	}, nil
}

func (qdrantEngine) ConnectionString(inst Instance) string {
	return fmt.Sprintf("http://127.0.0.1:%d", inst.Port)
}

// ListDatabases maps qdrant collections onto the database list.
func (qdrantEngine) ListDatabases(ctx context.Context, inst Instance) ([]string, error) {
	url := fmt.Sprintf("http://127.0.0.1:%d/collections", inst.Port)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list qdrant collections: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list qdrant collections: status %d", resp.StatusCode)
	}

	var body struct {
		Result struct {
			Collections []struct {
				Name string `json:"name"`
			} `json:"collections"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(body.Result.Collections))
	for _, c := range body.Result.Collections {
		names = append(names, c.Name)
	}
	return names, nil
}
