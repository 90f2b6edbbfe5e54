// Package ports probes and allocates local TCP ports. Availability is
// decided by actually binding on the loopback interface, the only check
// that agrees with what an engine process will experience at spawn time.
// The package holds no state: callers pass the set of ports they have
// already promised to other containers.
package ports

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/robertjbass/spindb-sub005/internal/errdefs"
)

// maxScan bounds the upward scan in FindFree.
const maxScan = 1000

// IsFree reports whether port can be bound on 127.0.0.1 right now.
func IsFree(port int) bool {
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// Check returns nil when port is bindable and a port-in-use condition
// otherwise.
func Check(port int) error {
	if !IsFree(port) {
		return fmt.Errorf("%w: %d", errdefs.ErrPortInUse, port)
	}
	return nil
}

// FindFree scans upward from base for span consecutive ports that are
// bindable and not reserved by the caller. The scan gives up after maxScan
// candidates with a range-exhausted condition. span must be at least 1.
func FindFree(base, span int, reserved func(int) bool) (int, error) {
	if span < 1 {
		span = 1
	}
	for port := base; port < base+maxScan; port++ {
		if ok := func() bool {
			for p := port; p < port+span; p++ {
				if reserved != nil && reserved(p) {
					return false
				}
				if !IsFree(p) {
					return false
				}
			}
			return true
		}(); ok {
			return port, nil
		}
	}
	return 0, fmt.Errorf("%w: scanned %d-%d", errdefs.ErrPortRangeExhausted, base, base+maxScan-1)
}

// WaitFree polls until port becomes bindable or ctx expires. The OS can
// hold a port for a while after its owner exits, so stop paths wait here
// before declaring the port reusable.
func WaitFree(ctx context.Context, port int, interval time.Duration) error {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	for {
		if IsFree(port) {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w after wait: %d", errdefs.ErrPortInUse, port)
		case <-time.After(interval):
		}
	}
}
