//go:build !windows

package supervisor

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	gopsproc "github.com/shirou/gopsutil/v4/process"
	"github.com/tklauser/go-sysconf"
)

// detachedSysProcAttr starts the child in its own session so it survives
// the CLI exiting and never holds the controlling terminal. A session
// leader is also a group leader, which keeps group signaling available
// for the stop path.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setsid: true}
}

// pidAlive reports whether a process with pid exists. EPERM means the
// process exists but is owned by someone else. Linux zombies are treated
// as dead so a quickly-exiting engine is not mistaken for a running one.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if runtime.GOOS == "linux" && isZombieLinux(pid) {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}

func isZombieLinux(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}

// signalProcess delivers SIGTERM (graceful) or SIGKILL to pid's process
// group, falling back to the single process when pid leads no group.
func signalProcess(pid int, graceful bool) error {
	if pid <= 0 {
		return nil
	}
	sig := syscall.SIGKILL
	if graceful {
		sig = syscall.SIGTERM
	}
	if err := syscall.Kill(-pid, sig); err == nil {
		return nil
	}
	return syscall.Kill(pid, sig)
}

// pidsOnPort returns the pids of processes bound to the local TCP port.
// Used as the stop fallback when the marker is stale and for the
// post-stop sweep that catches children the marker never covered.
func pidsOnPort(port int) []int {
	out, err := exec.Command("sh", "-c", fmt.Sprintf("lsof -ti:%d", port)).Output() // #nosec G204 -- port is a validated int
	if err != nil {
		return nil
	}
	var pids []int
	for _, f := range strings.Fields(string(out)) {
		if pid, err := strconv.Atoi(f); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

// portLingerTimeout is the ceiling for waiting on the OS to release a
// recently-closed listening socket. Release is near-instant here.
func portLingerTimeout() time.Duration { return 5 * time.Second }

// procStartUnix returns the process start time as Unix seconds, 0 when
// unavailable. Linux reads /proc directly; elsewhere gopsutil asks the OS.
func procStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	if runtime.GOOS == "linux" {
		return procStartUnixLinux(pid)
	}
	p, err := gopsproc.NewProcess(int32(pid)) // #nosec G115 -- pids fit in int32 on supported platforms
	if err != nil {
		return 0
	}
	ms, err := p.CreateTime()
	if err != nil || ms <= 0 {
		return 0
	}
	return ms / 1000
}

// procStartUnixLinux extracts starttime (field 22 of /proc/[pid]/stat, in
// clock ticks since boot) and rebases it onto the btime wall clock.
func procStartUnixLinux(pid int) int64 {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/stat")
	if err != nil {
		return 0
	}
	line := string(b)
	end := strings.LastIndex(line, ") ")
	if end == -1 {
		return 0
	}
	parts := strings.Fields(strings.TrimSpace(line[end+2:]))
	if len(parts) < 20 {
		return 0
	}
	startTicks, err := strconv.ParseInt(parts[19], 10, 64)
	if err != nil || startTicks <= 0 {
		return 0
	}

	f, err := os.Open("/proc/stat")
	if err != nil {
		return 0
	}
	defer func() { _ = f.Close() }()
	var btime int64
	s := bufio.NewScanner(f)
	for s.Scan() {
		text := s.Text()
		if strings.HasPrefix(text, "btime ") {
			v := strings.TrimSpace(strings.TrimPrefix(text, "btime "))
			if bt, err := strconv.ParseInt(v, 10, 64); err == nil {
				btime = bt
				break
			}
		}
	}
	if btime == 0 {
		return 0
	}

	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return btime + (startTicks / clk)
}
