package supervisor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

// The PID marker is a plain single-line file holding the OS pid of the
// spawned engine process. It lives next to the container document so
// external tooling can read it without parsing JSON.

func writePIDFile(path string, pid int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o600)
}

// readPIDFile returns the recorded pid. A missing marker maps to the
// not-found condition, an unparseable one to the stale-marker condition.
func readPIDFile(path string) (int, error) {
	b, err := os.ReadFile(path) // #nosec G304 -- path is derived from the registry layout
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: no pid marker at %s", errdefs.ErrNotFound, path)
		}
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("%w: unparseable pid marker %s", errdefs.ErrStalePID, path)
	}
	return pid, nil
}

func removePIDFile(path string) { _ = os.Remove(path) }
