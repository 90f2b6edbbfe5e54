// Package supervisor owns the mapping between container records and live
// OS processes. It spawns engine binaries detached from the calling
// process, captures their output to the container log, tracks them
// through plain-text PID markers, and tears them down with graceful
// escalation plus a sweep of anything still bound to the container's
// ports. The supervisor keeps no in-memory state: every decision is
// re-derived from the marker, the process table and the port, so a fresh
// CLI invocation sees the same world the previous one left behind.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/robertjbass/spindb-sub005/internal/engine"
	"github.com/robertjbass/spindb-sub005/internal/errdefs"
	"github.com/robertjbass/spindb-sub005/internal/logger"
	"github.com/robertjbass/spindb-sub005/internal/metrics"
	"github.com/robertjbass/spindb-sub005/internal/ports"
)

const (
	defaultStartTimeout = 30 * time.Second
	defaultStopTimeout  = 10 * time.Second
	defaultPoll         = 100 * time.Millisecond

	// pidReuseSlack tolerates clock granularity between the marker write
	// and the child's recorded start time.
	pidReuseSlack = 2 // seconds

	// processSettle is how long a process-probed engine must stay alive
	// before it counts as ready. Engines with a real network probe skip
	// this window.
	processSettle = 500 * time.Millisecond
)

// Proc describes one supervised engine process: the adapter, the
// provisioned instance paths, and where its PID marker lives.
type Proc struct {
	Engine  engine.Engine
	Inst    engine.Instance
	PIDPath string
}

// ports lists the consecutive TCP ports the container occupies.
func (p Proc) ports() []int {
	span := p.Engine.PortSpan()
	if span < 1 {
		span = 1
	}
	out := make([]int, span)
	for i := range out {
		out[i] = p.Inst.Port + i
	}
	return out
}

// State is the reconciled view of a container's process.
type State struct {
	Running bool
	PID     int
}

type Supervisor struct {
	startTimeout time.Duration
	stopTimeout  time.Duration
	poll         time.Duration
}

type Option func(*Supervisor)

// WithStartTimeout bounds the readiness poll after spawn.
func WithStartTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.startTimeout = d
		}
	}
}

// WithStopTimeout bounds the graceful window before the forced kill.
func WithStopTimeout(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.stopTimeout = d
		}
	}
}

// WithPollInterval sets the liveness/readiness poll step.
func WithPollInterval(d time.Duration) Option {
	return func(s *Supervisor) {
		if d > 0 {
			s.poll = d
		}
	}
}

func New(opts ...Option) *Supervisor {
	s := &Supervisor{
		startTimeout: defaultStartTimeout,
		stopTimeout:  defaultStopTimeout,
		poll:         defaultPoll,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Reconcile is the single authority on whether a container's engine
// process is actually running. It checks the PID marker against the
// process table (guarding against pid reuse via the process start time),
// falls back to a port-owner lookup for engines that serve a port, and
// clears markers it has proven stale. Registry status is only a cache of
// this result.
func (s *Supervisor) Reconcile(p Proc) State {
	if !p.Engine.ServerBased() {
		return State{}
	}
	pid, err := readPIDFile(p.PIDPath)
	if err == nil {
		if pidAlive(pid) && !reusedPID(pid, p.PIDPath) {
			return State{Running: true, PID: pid}
		}
		slog.Debug("clearing stale pid marker", "container", p.Inst.Name, "pid", pid)
		removePIDFile(p.PIDPath)
	}
	// Marker missing or stale. An engine that answers on its port is
	// running regardless, e.g. after the marker was deleted by hand.
	if p.Engine.Health().Kind != engine.HealthProcess && !ports.IsFree(p.Inst.Port) {
		st := State{Running: true}
		if owners := pidsOnPort(p.Inst.Port); len(owners) > 0 {
			st.PID = owners[0]
		}
		return st
	}
	return State{}
}

// IsRunning reports the reconciled liveness of p.
func (s *Supervisor) IsRunning(p Proc) bool { return s.Reconcile(p).Running }

// reusedPID reports whether pid belongs to a process started well after
// the marker was written, meaning the engine died and the OS handed its
// pid to someone else.
func reusedPID(pid int, markerPath string) bool {
	st, err := os.Stat(markerPath)
	if err != nil {
		return false
	}
	started := procStartUnix(pid)
	if started == 0 {
		return false
	}
	return started > st.ModTime().Unix()+pidReuseSlack
}

// Start spawns the engine process for p detached from the calling
// process, captures its output to the container log, writes the PID
// marker and polls the engine's readiness probe. Starting a running
// container is a no-op success. On early exit or readiness timeout the
// orphan is killed and the log tail is folded into the returned error.
func (s *Supervisor) Start(ctx context.Context, p Proc) error {
	if !p.Engine.ServerBased() {
		return fmt.Errorf("%w: %s does not run a server process", errdefs.ErrUnsupported, p.Engine.Type())
	}
	if st := s.Reconcile(p); st.Running {
		slog.Info("container already running", "container", p.Inst.Name, "pid", st.PID)
		return nil
	}
	// A recently stopped container can leave its socket lingering in the
	// OS. Wait out the platform's release window before giving up.
	for _, port := range p.ports() {
		if ports.IsFree(port) {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, portLingerTimeout())
		err := ports.WaitFree(wctx, port, 0)
		cancel()
		if err != nil {
			return fmt.Errorf("container %q: %w", p.Inst.Name, err)
		}
	}
	if err := s.prepare(ctx, p); err != nil {
		return err
	}
	spec, err := p.Engine.LaunchSpec(p.Inst)
	if err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrStartFailed, err)
	}

	logFile, err := logger.OpenProcessLog(p.Inst.LogPath)
	if err != nil {
		return fmt.Errorf("%w: open log %s: %v", errdefs.ErrStartFailed, p.Inst.LogPath, err)
	}
	cmd := exec.Command(spec.Exec, spec.Args...) // #nosec G204 -- executable comes from the verified binary cache
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
	// The child gets the file descriptor itself rather than a pipe, so
	// the CLI can exit right after start without breaking the stream.
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedSysProcAttr()

	started := time.Now()
	err = cmd.Start()
	_ = logFile.Close()
	if err != nil {
		metrics.IncStartFailed(string(p.Engine.Type()))
		return fmt.Errorf("%w: spawn %s: %v", errdefs.ErrStartFailed, spec.Exec, err)
	}
	pid := cmd.Process.Pid
	// Reap the child if it dies while this process is still alive;
	// otherwise it lingers as a zombie until we exit.
	go func() { _ = cmd.Wait() }()

	if err := writePIDFile(p.PIDPath, pid); err != nil {
		_ = signalProcess(pid, false)
		metrics.IncStartFailed(string(p.Engine.Type()))
		return fmt.Errorf("%w: write pid marker: %v", errdefs.ErrStartFailed, err)
	}
	slog.Debug("spawned engine process", "container", p.Inst.Name, "pid", pid, "exec", spec.Exec)

	if err := s.awaitReady(ctx, p, pid); err != nil {
		_ = signalProcess(pid, false)
		removePIDFile(p.PIDPath)
		metrics.IncStartFailed(string(p.Engine.Type()))
		return err
	}
	metrics.IncStart(string(p.Engine.Type()))
	metrics.ObserveStartDuration(string(p.Engine.Type()), time.Since(started).Seconds())
	slog.Info("container started", "container", p.Inst.Name, "engine", p.Engine.Type(), "pid", pid, "port", p.Inst.Port)
	return nil
}

// prepare runs the engine's first-start initialization when the data
// directory has never been populated.
func (s *Supervisor) prepare(ctx context.Context, p Proc) error {
	empty, err := dirEmpty(p.Inst.DataDir)
	if err != nil {
		return fmt.Errorf("%w: inspect data dir: %v", errdefs.ErrStartFailed, err)
	}
	if !empty {
		return nil
	}
	slog.Info("initializing data directory", "container", p.Inst.Name, "engine", p.Engine.Type())
	if err := p.Engine.Prepare(ctx, p.Inst); err != nil {
		return fmt.Errorf("%w: %v", errdefs.ErrStartFailed, err)
	}
	return nil
}

func dirEmpty(dir string) (bool, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, err
	}
	return len(ents) == 0, nil
}

// awaitReady polls the engine's readiness probe until it passes, the
// process dies, or the start timeout expires. Process-probed engines must
// additionally survive the settle window, so a crash on startup is not
// mistaken for readiness.
func (s *Supervisor) awaitReady(ctx context.Context, p Proc, pid int) error {
	health := p.Engine.Health()
	deadline := time.Now().Add(s.startTimeout)
	settled := time.Now().Add(processSettle)
	for {
		if !pidAlive(pid) {
			return s.startFailure(p, "process exited during startup")
		}
		if probeReady(health, p.Inst.Port) {
			if health.Kind != engine.HealthProcess || time.Now().After(settled) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return s.startFailure(p, fmt.Sprintf("not ready after %s", s.startTimeout))
		}
		select {
		case <-ctx.Done():
			return s.startFailure(p, ctx.Err().Error())
		case <-time.After(s.poll):
		}
	}
}

func probeReady(h engine.HealthSpec, port int) bool {
	switch h.Kind {
	case engine.HealthTCP:
		conn, err := net.DialTimeout("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)), time.Second)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	case engine.HealthHTTP:
		client := http.Client{Timeout: time.Second}
		resp, err := client.Get(fmt.Sprintf("http://127.0.0.1:%d%s", port, h.Path))
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	default:
		// HealthProcess: the caller already verified the pid is alive.
		return true
	}
}

// startFailure folds the log tail and instance paths into a start-failed
// error so the caller can diagnose without re-running. A bind failure in
// the tail upgrades the condition to port-in-use.
func (s *Supervisor) startFailure(p Proc, reason string) error {
	tail := logTail(p.Inst.LogPath)
	if strings.Contains(strings.ToLower(tail), "address already in use") {
		return fmt.Errorf("%w: %d (%s)", errdefs.ErrPortInUse, p.Inst.Port, reason)
	}
	if tail != "" {
		return fmt.Errorf("%w: %s (bin %s, log %s): %s", errdefs.ErrStartFailed, reason, p.Inst.BinDir, p.Inst.LogPath, tail)
	}
	return fmt.Errorf("%w: %s (bin %s, log %s)", errdefs.ErrStartFailed, reason, p.Inst.BinDir, p.Inst.LogPath)
}

// logTail returns the last chunk of the captured engine output, trimmed.
func logTail(path string) string {
	const tailBytes = 4096
	f, err := os.Open(path) // #nosec G304 -- path is derived from the registry layout
	if err != nil {
		return ""
	}
	defer func() { _ = f.Close() }()
	st, err := f.Stat()
	if err != nil {
		return ""
	}
	off := st.Size() - tailBytes
	if off < 0 {
		off = 0
	}
	buf := make([]byte, st.Size()-off)
	n, _ := f.ReadAt(buf, off)
	return strings.TrimSpace(string(buf[:n]))
}

// Stop terminates the engine process behind p: graceful first, forced
// after the grace window, then a sweep of anything still bound to the
// container's ports. The marker is removed and the ports are confirmed
// bindable before returning so an immediate restart cannot race the OS.
// Stopping a stopped container is a no-op success.
func (s *Supervisor) Stop(ctx context.Context, p Proc) error {
	if !p.Engine.ServerBased() {
		return nil
	}
	pid, err := readPIDFile(p.PIDPath)
	if err != nil || !pidAlive(pid) {
		pid = 0
		for _, port := range p.ports() {
			if owners := pidsOnPort(port); len(owners) > 0 {
				pid = owners[0]
				break
			}
		}
	}
	if pid != 0 {
		if err := s.terminate(pid); err != nil {
			return fmt.Errorf("container %q: %w", p.Inst.Name, err)
		}
	}
	s.sweepPorts(p)
	removePIDFile(p.PIDPath)
	for _, port := range p.ports() {
		if ports.IsFree(port) {
			continue
		}
		wctx, cancel := context.WithTimeout(ctx, portLingerTimeout())
		err := ports.WaitFree(wctx, port, 0)
		cancel()
		if err != nil {
			return fmt.Errorf("%w: port %d still bound after stopping %q", errdefs.ErrStopTimeout, port, p.Inst.Name)
		}
	}
	metrics.IncStop(string(p.Engine.Type()))
	slog.Info("container stopped", "container", p.Inst.Name, "engine", p.Engine.Type())
	return nil
}

// terminate asks pid to exit, waits the grace window, then forces.
func (s *Supervisor) terminate(pid int) error {
	_ = signalProcess(pid, true)
	if s.waitGone(pid, s.stopTimeout) {
		return nil
	}
	slog.Warn("process survived graceful stop, forcing", "pid", pid)
	_ = signalProcess(pid, false)
	if s.waitGone(pid, 2*time.Second) {
		return nil
	}
	return fmt.Errorf("%w: pid %d survived forced kill", errdefs.ErrStopTimeout, pid)
}

func (s *Supervisor) waitGone(pid int, ceiling time.Duration) bool {
	deadline := time.Now().Add(ceiling)
	for time.Now().Before(deadline) {
		if !pidAlive(pid) {
			return true
		}
		time.Sleep(s.poll)
	}
	return !pidAlive(pid)
}

// sweepPorts force-kills whatever is still bound to the container's
// ports, covering helper children the marker never captured.
func (s *Supervisor) sweepPorts(p Proc) {
	for _, port := range p.ports() {
		for _, pid := range pidsOnPort(port) {
			slog.Warn("killing stray process on container port", "container", p.Inst.Name, "port", port, "pid", pid)
			_ = signalProcess(pid, false)
		}
	}
}

// Kill is the unconditional, non-graceful teardown used when the engine
// binary is gone but an orphaned process still holds the container's
// resources.
func (s *Supervisor) Kill(p Proc) error {
	if pid, err := readPIDFile(p.PIDPath); err == nil {
		_ = signalProcess(pid, false)
	}
	s.sweepPorts(p)
	removePIDFile(p.PIDPath)
	return nil
}
