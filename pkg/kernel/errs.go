package kernel

import "errors"

var (
	// ErrNoSuchProcess indicates /proc/<pid> vanished during a read.
	ErrNoSuchProcess = errors.New("kernel: no such process")

	// ErrMalformedStat indicates /proc/<pid>/stat was empty or unparsable.
	ErrMalformedStat = errors.New("kernel: malformed stat")

	// ErrNoCPULine indicates /proc/stat had no aggregate cpu line.
	ErrNoCPULine = errors.New("kernel: no cpu line")

	// ErrUnreadableSystemMemory indicates /proc/meminfo or /proc/stat could
	// not be read.
	ErrUnreadableSystemMemory = errors.New("kernel: unreadable system memory")

	// ErrPermissionDenied indicates a privileged write failed.
	ErrPermissionDenied = errors.New("kernel: permission denied")

	// ErrUnavailable indicates a /sys surface this host doesn't expose
	// (e.g. no battery, no thermal zone, no turbo knob).
	ErrUnavailable = errors.New("kernel: resource unavailable")
)
