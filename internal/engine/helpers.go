package engine

import (
	"bytes"
	"fmt"
	"runtime"

	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

// ExecutableName appends the platform executable suffix where one exists.
func ExecutableName(name string) string {
	if runtime.GOOS == "windows" {
		return name + ".exe"
	}
	return name
}

func unsupportedf(t Type, what string) error {
	return fmt.Errorf("%w: %s has no %s", errdefs.ErrUnsupported, t, what)
}

// tailOf trims tool output for error messages, keeping the end where the
// actual failure reason usually is.
func tailOf(out []byte) string {
	const max = 512
	out = bytes.TrimSpace(out)
	if len(out) > max {
		out = out[len(out)-max:]
	}
	return string(out)
}
