// Package kernel is the narrow boundary between the core and the host:
// it reads process/system state from /proc and /sys and actuates
// scheduling/memory/power decisions through the same surfaces. Every
// other package in this repository only ever talks to the
// Reader/Actuator interfaces defined here, never to the filesystem
// directly — the linux implementation and the in-memory Mock both
// satisfy the same two interfaces.
package kernel

import "time"

// ProcSample is one process's raw, unprocessed reading for a single tick.
// The observer turns a slice of these into snapshot.ProcessRecord values,
// computing derived fields (cpu_percent, growth_rate) itself.
type ProcSample struct {
	PID         int
	ParentPID   int
	Name        string
	CommandLine string

	UTime, STime       uint64 // jiffies, monotonic counters
	MinFlt, MajFlt     uint64
	RSSKB, VSZKB       uint64
	SharedKB           uint64
	PrivateKB          uint64
	Nice               int
	State              byte // R/S/D/Z/T
}

// SystemSample is one system-wide raw reading for a single tick.
type SystemSample struct {
	CPUActiveJiffies uint64
	CPUTotalJiffies  uint64
	Load1, Load5, Load15 float64

	MemTotalKB     uint64
	MemFreeKB      uint64
	MemAvailableKB uint64
	BuffersKB      uint64
	CachedKB       uint64
	SwapTotalKB    uint64
	SwapFreeKB     uint64
}

// Reader enumerates and samples process/system state. Implementations
// must treat every read as best-effort: a pid vanishing mid-read, or a
// file being truncated, is reported as an error for that one read, never
// as a panic or a process-wide failure.
type Reader interface {
	// Pids lists currently visible process ids. Order is not significant.
	Pids() ([]int, error)
	// ReadProcess samples one pid. Returns an error if the pid cannot be
	// read (including "vanished between enumeration and read").
	ReadProcess(pid int) (ProcSample, error)
	// ReadSystem samples system-wide CPU/memory/load state.
	ReadSystem() (SystemSample, error)
	// Signal0 probes pid with the null signal; true means the process
	// still exists. Used to disambiguate snapshot lag.
	Signal0(pid int) bool
	// ClockTicks returns jiffies-per-second (sysconf(_SC_CLK_TCK) analog).
	ClockTicks() int
	// PageSize returns the system memory page size in bytes.
	PageSize() int
}

// CacheKind selects which kernel caches DropCaches targets.
type CacheKind int

const (
	CachePage CacheKind = iota
	CacheAll
)

// BatteryStatus is the result of a successful battery read.
type BatteryStatus struct {
	Percent    float64
	OnBattery  bool
}

// Actuator is the single, narrow surface every policy component uses to
// touch the OS. Every call is fallible; callers map the returned error
// to the event stream rather than treating it as fatal.
type Actuator interface {
	SetNice(pid, nice int) error
	Pause(pid int) error
	Resume(pid int) error
	// Terminate sends a graceful signal, waits up to timeout, then sends
	// a forceful one if the process is still alive.
	Terminate(pid int, timeout time.Duration) error
	// CanModify reports whether pid may be touched by automated policy:
	// the critical-set check plus a permission probe. Manual actuation
	// may bypass this via an explicit override flag at the call site,
	// never inside CanModify itself.
	CanModify(pid int, critical bool) bool

	SetCPUGovernor(name string) error
	GetCPUGovernor() (string, error)
	SetCPUTurbo(enabled bool) error
	SetBrightnessPercent(percent int) error
	RunService(name string, start bool) error

	DropCaches(kind CacheKind) error
	CompactMemory() error

	ReadBattery() (BatteryStatus, bool)
	ReadTemperatureC() (float64, bool)
}
