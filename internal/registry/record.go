package registry

import (
	"fmt"
	"strings"
	"time"
)

// Status is the registry's cached view of a container's lifecycle state.
// It is bookkeeping only: read paths reconcile against the supervisor
// before trusting it.
type Status string

const (
	StatusCreated Status = "created"
	StatusRunning Status = "running"
	StatusStopped Status = "stopped"
)

// Record is the persisted configuration of one container. It is stored as
// an indented JSON document per container so that changes stay readable in
// diffs.
type Record struct {
	Name       string    `json:"name"`
	Engine     string    `json:"engine"`
	Version    string    `json:"version"`
	Port       int       `json:"port,omitempty"`
	Database   string    `json:"database"`
	Databases  []string  `json:"databases,omitempty"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	ClonedFrom string    `json:"cloned_from,omitempty"`
	BinDir     string    `json:"bin_dir,omitempty"`
}

// Clone returns a deep copy.
func (r *Record) Clone() *Record {
	cp := *r
	cp.Databases = append([]string(nil), r.Databases...)
	return &cp
}

// HasDatabase reports whether name is in the recorded database list or is
// the primary database.
func (r *Record) HasDatabase(name string) bool {
	if name == r.Database {
		return true
	}
	for _, db := range r.Databases {
		if db == name {
			return true
		}
	}
	return false
}

const maxNameLen = 64

// ValidName validates container and database names before they are used in
// filesystem paths. Allowed characters: A-Z a-z 0-9 . _ - with no ".."
// sequence and no path separators.
func ValidName(s string) bool {
	if s == "" || len(s) > maxNameLen {
		return false
	}
	if strings.Contains(s, "..") {
		return false
	}
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '_' || r == '-' {
			continue
		}
		return false
	}
	if strings.ContainsAny(s, "/\\") {
		return false
	}
	return true
}

// Validate checks a record before it is persisted.
func (r *Record) Validate() error {
	if !ValidName(r.Name) {
		return fmt.Errorf("invalid container name %q", r.Name)
	}
	if strings.TrimSpace(r.Engine) == "" {
		return fmt.Errorf("container %s: engine is required", r.Name)
	}
	if strings.TrimSpace(r.Version) == "" {
		return fmt.Errorf("container %s: version is required", r.Name)
	}
	if r.Port != 0 && (r.Port < 1 || r.Port > 65535) {
		return fmt.Errorf("container %s: port %d out of range", r.Name, r.Port)
	}
	if r.Database != "" && !ValidName(r.Database) {
		return fmt.Errorf("container %s: invalid database name %q", r.Name, r.Database)
	}
	switch r.Status {
	case StatusCreated, StatusRunning, StatusStopped:
	default:
		return fmt.Errorf("container %s: unknown status %q", r.Name, r.Status)
	}
	return nil
}
