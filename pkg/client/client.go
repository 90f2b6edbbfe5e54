// Package client is an HTTP client for the spindb daemon API. It mirrors
// the manager's operation set one method per endpoint and decodes the
// daemon's error envelope into plain Go errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Client talks to a spindb daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	Logger     *slog.Logger // optional logger for client operations
	HTTPClient *http.Client // optional transport override
}

// DefaultConfig returns default client configuration pointing at the
// daemon's default listen address.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:7433",
		Timeout: 30 * time.Second,
	}
}

// New creates a spindb API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:7433"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	hc := config.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: config.Timeout}
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  hc,
	}
}

// IsReachable checks whether the daemon answers its health endpoint.
func (c *Client) IsReachable(ctx context.Context) bool {
	var resp struct {
		OK bool `json:"ok"`
	}
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, &resp); err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return resp.OK
}

// CreateContainer provisions a new container.
func (c *Client) CreateContainer(ctx context.Context, req CreateRequest) (*ContainerInfo, error) {
	var info ContainerInfo
	if err := c.do(ctx, http.MethodPost, "/containers", req, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ListContainers returns every container with reconciled status.
func (c *Client) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	var infos []ContainerInfo
	if err := c.do(ctx, http.MethodGet, "/containers", nil, &infos); err != nil {
		return nil, err
	}
	return infos, nil
}

// GetContainer returns one container.
func (c *Client) GetContainer(ctx context.Context, name string) (*ContainerInfo, error) {
	var info ContainerInfo
	if err := c.do(ctx, http.MethodGet, "/containers/"+url.PathEscape(name), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// UpdateContainer applies an RFC 7396 merge patch to a container record.
// patch is marshaled as-is, so a map with the fields to change is enough.
func (c *Client) UpdateContainer(ctx context.Context, name string, patch any) (*ContainerInfo, error) {
	var info ContainerInfo
	if err := c.do(ctx, http.MethodPatch, "/containers/"+url.PathEscape(name), patch, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// DeleteContainer removes a container. force kills a running engine
// process first.
func (c *Client) DeleteContainer(ctx context.Context, name string, force bool) error {
	path := "/containers/" + url.PathEscape(name) + "?force=" + strconv.FormatBool(force)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// StartContainer launches a container's engine process.
func (c *Client) StartContainer(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/containers/"+url.PathEscape(name)+"/start", nil, nil)
}

// StopContainer terminates a container's engine process.
func (c *Client) StopContainer(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPost, "/containers/"+url.PathEscape(name)+"/stop", nil, nil)
}

// CloneContainer copies a stopped container's data under a new name.
// Port 0 lets the daemon allocate one.
func (c *Client) CloneContainer(ctx context.Context, src, dst string, port int) (*ContainerInfo, error) {
	body := map[string]any{"target": dst, "port": port}
	var info ContainerInfo
	if err := c.do(ctx, http.MethodPost, "/containers/"+url.PathEscape(src)+"/clone", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RenameContainer moves a stopped container to a new name.
func (c *Client) RenameContainer(ctx context.Context, oldName, newName string) (*ContainerInfo, error) {
	body := map[string]any{"target": newName}
	var info ContainerInfo
	if err := c.do(ctx, http.MethodPost, "/containers/"+url.PathEscape(oldName)+"/rename", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// ContainerSize returns a container's on-disk data size in bytes.
func (c *Client) ContainerSize(ctx context.Context, name string) (int64, error) {
	var resp struct {
		SizeBytes int64 `json:"size_bytes"`
	}
	if err := c.do(ctx, http.MethodGet, "/containers/"+url.PathEscape(name)+"/size", nil, &resp); err != nil {
		return 0, err
	}
	return resp.SizeBytes, nil
}

// Sizes returns on-disk data sizes for every container.
func (c *Client) Sizes(ctx context.Context) (map[string]int64, error) {
	var sizes map[string]int64
	if err := c.do(ctx, http.MethodGet, "/sizes", nil, &sizes); err != nil {
		return nil, err
	}
	return sizes, nil
}

// AddDatabase records a database name on a container.
func (c *Client) AddDatabase(ctx context.Context, name, db string) (*ContainerInfo, error) {
	body := map[string]any{"database": db}
	var info ContainerInfo
	if err := c.do(ctx, http.MethodPost, "/containers/"+url.PathEscape(name)+"/databases", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RemoveDatabase drops a tracked database name from a container.
func (c *Client) RemoveDatabase(ctx context.Context, name, db string) (*ContainerInfo, error) {
	path := "/containers/" + url.PathEscape(name) + "/databases/" + url.PathEscape(db)
	var info ContainerInfo
	if err := c.do(ctx, http.MethodDelete, path, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// SyncDatabases reconciles a container's tracked databases against the
// engine's live listing and returns the canonical set.
func (c *Client) SyncDatabases(ctx context.Context, name string) ([]string, error) {
	var resp struct {
		Databases []string `json:"databases"`
	}
	if err := c.do(ctx, http.MethodPost, "/containers/"+url.PathEscape(name)+"/databases/sync", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Databases, nil
}

// ListBinaries lists the daemon's binary cache.
func (c *Client) ListBinaries(ctx context.Context) ([]BinaryInfo, error) {
	var bins []BinaryInfo
	if err := c.do(ctx, http.MethodGet, "/binaries", nil, &bins); err != nil {
		return nil, err
	}
	return bins, nil
}

// InstallBinary resolves a version alias and installs the engine archive
// into the cache when missing.
func (c *Client) InstallBinary(ctx context.Context, engine, version string) (*BinaryInfo, error) {
	body := map[string]any{"engine": engine, "version": version}
	var info BinaryInfo
	if err := c.do(ctx, http.MethodPost, "/binaries", body, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RemoveBinary deletes a cached engine install.
func (c *Client) RemoveBinary(ctx context.Context, engine, version string) error {
	path := "/binaries/" + url.PathEscape(engine) + "/" + url.PathEscape(version)
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// Stats returns the daemon's resource sampling snapshot.
func (c *Client) Stats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// do performs one API round trip: marshal body when present, send,
// decode the error envelope on non-2xx, decode into out when asked.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "method", method, "path", path, "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil || errResp.Error == "" {
			return fmt.Errorf("HTTP %d", resp.StatusCode)
		}
		return fmt.Errorf("API error: %s", errResp.Error)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
