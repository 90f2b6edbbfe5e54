package client

import "time"

// CreateRequest asks the daemon to provision a container.
type CreateRequest struct {
	Name     string `json:"name"`
	Engine   string `json:"engine"`
	Version  string `json:"version,omitempty"`
	Port     int    `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	Start    bool   `json:"start,omitempty"`
}

// ContainerInfo is a container record joined with its reconciled live
// state, as returned by the API.
type ContainerInfo struct {
	Name             string    `json:"name"`
	Engine           string    `json:"engine"`
	Version          string    `json:"version"`
	Port             int       `json:"port,omitempty"`
	Database         string    `json:"database"`
	Databases        []string  `json:"databases,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	ClonedFrom       string    `json:"cloned_from,omitempty"`
	Running          bool      `json:"running"`
	PID              int       `json:"pid,omitempty"`
	ConnectionString string    `json:"connection_string,omitempty"`
}

// BinaryInfo describes one entry in the daemon's binary cache.
type BinaryInfo struct {
	Engine   string `json:"engine"`
	Version  string `json:"version"`
	Platform string `json:"platform,omitempty"`
	Arch     string `json:"arch,omitempty"`
	Path     string `json:"path,omitempty"`
	Dir      string `json:"dir,omitempty"`
}

// Stats is the daemon's resource sampling snapshot.
type Stats struct {
	Enabled bool                      `json:"enabled"`
	Samples map[string]ResourceSample `json:"samples,omitempty"`
}

// ResourceSample is one container's most recent CPU/memory reading.
type ResourceSample struct {
	PID        int       `json:"pid"`
	Engine     string    `json:"engine"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Taken      time.Time `json:"taken"`
}

// ErrorResponse is the API's error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
