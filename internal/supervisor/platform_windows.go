//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
	"unsafe"
)

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procGetProcessTimes  = kernel32.NewProc("GetProcessTimes")
)

// Windows creation flags
const (
	createNewProcessGroup = 0x00000200
	detachedProcess       = 0x00000008
)

// detachedSysProcAttr detaches the child from the parent console and puts
// it in its own process group so it survives the CLI exiting.
func detachedSysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: createNewProcessGroup | detachedProcess}
}

// pidAlive reports whether a process with pid exists. Being able to open
// the process with query access is the existence check here.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	return true
}

// signalProcess terminates pid. Windows has no TERM/KILL distinction, so
// graceful and forced collapse to TerminateProcess. A process that cannot
// be opened is treated as already gone.
func signalProcess(pid int, graceful bool) error {
	_ = graceful
	if pid < 0 {
		pid = -pid
	}
	if pid == 0 {
		return nil
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_TERMINATE, false, uint32(pid))
	if err != nil {
		return nil
	}
	defer func() { _ = syscall.CloseHandle(h) }()
	ret, _, callErr := procTerminateProcess.Call(uintptr(h), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

// pidsOnPort returns the pids of processes listening on the local TCP
// port, parsed out of netstat.
func pidsOnPort(port int) []int {
	script := fmt.Sprintf(`
		$connections = netstat -ano | Select-String ":%d " | Select-String "LISTENING"
		foreach ($line in $connections) {
			$parts = $line -split '\s+' | Where-Object { $_ }
			$procId = $parts[-1]
			if ($procId -match '^\d+$') {
				Write-Output $procId
			}
		}
	`, port)
	out, err := exec.Command("powershell", "-Command", script).Output() // #nosec G204 -- port is a validated int
	if err != nil {
		return nil
	}
	seen := make(map[int]bool)
	var pids []int
	for _, f := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(f)
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}

// portLingerTimeout is the ceiling for waiting on the OS to release a
// recently-closed listening socket. Windows holds closed sockets far
// longer than other platforms; waits past 30 seconds have been observed.
func portLingerTimeout() time.Duration { return 45 * time.Second }

// procStartUnix returns the process creation time as Unix seconds via
// GetProcessTimes, 0 on error.
func procStartUnix(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	h, err := syscall.OpenProcess(syscall.PROCESS_QUERY_INFORMATION, false, uint32(pid))
	if err != nil {
		return 0
	}
	defer func() { _ = syscall.CloseHandle(h) }()

	var creation, exit, kernel, user syscall.Filetime
	ret, _, _ := procGetProcessTimes.Call(uintptr(h),
		uintptr(unsafe.Pointer(&creation)), uintptr(unsafe.Pointer(&exit)),
		uintptr(unsafe.Pointer(&kernel)), uintptr(unsafe.Pointer(&user)))
	if ret == 0 {
		return 0
	}
	const ticksPerSecond = 10000000
	const epochDiff = 11644473600
	ft := (uint64(creation.HighDateTime) << 32) | uint64(creation.LowDateTime)
	return int64(ft/ticksPerSecond) - epochDiff
}
