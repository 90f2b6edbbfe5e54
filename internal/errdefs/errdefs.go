// Package errdefs defines the error conditions shared across the container
// registry, port allocator, process supervisor and binary manager. Callers
// match them with errors.Is; the concrete messages wrap these sentinels with
// container names, ports, versions and paths.
package errdefs

import "errors"

var (
	// ErrNotFound reports that a container, database or installed binary
	// does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists reports a name collision on create, clone or rename.
	ErrAlreadyExists = errors.New("already exists")
	// ErrContainerRunning reports an operation that requires a stopped
	// container (delete without force, data-directory moves).
	ErrContainerRunning = errors.New("container is running")
	// ErrPortInUse reports that a requested port is bound by some process.
	ErrPortInUse = errors.New("port already in use")
	// ErrPortRangeExhausted reports that the bounded free-port scan found
	// nothing above the base port.
	ErrPortRangeExhausted = errors.New("no free port in range")
	// ErrStartFailed reports that an engine process exited or never became
	// ready within the readiness window.
	ErrStartFailed = errors.New("process start failed")
	// ErrStopTimeout reports that an engine process survived the graceful
	// stop window and the forced kill path was taken or also failed.
	ErrStopTimeout = errors.New("process stop timed out")
	// ErrStalePID reports a PID marker whose process is gone or belongs to
	// a different program.
	ErrStalePID = errors.New("stale pid marker")
	// ErrBinaryNotFound reports that no archive exists for the requested
	// engine/version/platform combination.
	ErrBinaryNotFound = errors.New("binary not available")
	// ErrDownloadTimeout reports that a binary download exceeded its time
	// ceiling.
	ErrDownloadTimeout = errors.New("binary download timed out")
	// ErrDownloadFailed reports a network or filesystem failure while
	// fetching or unpacking a binary archive.
	ErrDownloadFailed = errors.New("binary download failed")
	// ErrVersionMismatch reports that an installed binary identifies as a
	// different version than its cache directory claims.
	ErrVersionMismatch = errors.New("binary version mismatch")
	// ErrMoveFailed reports a failed or partially-completed directory move,
	// typically across filesystems during rename.
	ErrMoveFailed = errors.New("filesystem move failed")
	// ErrUnsupported reports an operation an engine does not implement,
	// such as live database listing on key-value engines.
	ErrUnsupported = errors.New("operation not supported by engine")
)

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }
func IsPortInUse(err error) bool     { return errors.Is(err, ErrPortInUse) }
func IsStartFailed(err error) bool   { return errors.Is(err, ErrStartFailed) }
func IsUnsupported(err error) bool   { return errors.Is(err, ErrUnsupported) }
