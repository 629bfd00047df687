// Package snapshot holds the immutable data model produced by the
// observer and shared, read-only, by every other component.
package snapshot

import (
	"time"

	"github.com/google/uuid"
)

// ProcessClass tags a process for scheduling purposes.
type ProcessClass string

const (
	Interactive ProcessClass = "interactive"
	Batch       ProcessClass = "batch"
	RealTime    ProcessClass = "realtime"
	System      ProcessClass = "system"
	Idle        ProcessClass = "idle"
)

// State is the kernel process state letter.
type State byte

const (
	StateRunning  State = 'R'
	StateSleeping State = 'S'
	StateDisk     State = 'D'
	StateZombie   State = 'Z'
	StateStopped  State = 'T'
)

// ProcessRecord is what the observer knows about one live process. It is
// never mutated in place by anyone other than the observer — every
// other component treats a ProcessRecord value as read-only.
type ProcessRecord struct {
	PID            int
	Name           string
	CommandLine    string
	ParentPID      int

	CPUPercent    float64
	RSSKB         uint64
	VSZKB         uint64
	SharedKB      uint64
	PrivateKB     uint64
	MinorFaults   uint64
	MajorFaults   uint64

	NiceValue int
	State     State

	GrowthRateKBPerSec float64
	IsCritical         bool

	Class ProcessClass

	FirstSeen time.Time
	LastSeen  time.Time
}

// MemoryPressure is the coarse label for memory usage.
type MemoryPressure string

const (
	PressureLow      MemoryPressure = "low"
	PressureMedium   MemoryPressure = "medium"
	PressureHigh     MemoryPressure = "high"
	PressureCritical MemoryPressure = "critical"
)

// SystemSnapshot is the immutable, versioned tuple produced by the
// observer at each tick. Once published, none of its fields — including
// the Processes map — are ever mutated; a consumer that needs a
// modified view must copy.
type SystemSnapshot struct {
	TakenAt time.Time
	Seq     uint64
	TraceID uuid.UUID

	CPUTotalPercent float64
	Load1, Load5, Load15 float64

	MemTotalKB     uint64
	MemUsedKB      uint64
	MemAvailableKB uint64
	SwapTotalKB    uint64
	SwapUsedKB     uint64

	Processes map[int]ProcessRecord

	Pressure MemoryPressure
}

// Clone returns a deep-enough copy safe for a caller to mutate without
// affecting the published snapshot (only the Processes map needs copying;
// ProcessRecord itself is a plain value type).
func (s *SystemSnapshot) Clone() *SystemSnapshot {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Processes = make(map[int]ProcessRecord, len(s.Processes))
	for pid, rec := range s.Processes {
		cp.Processes[pid] = rec
	}
	return &cp
}

// MemoryUsedPercent returns used/total as a percentage, 0 if total is 0.
func (s *SystemSnapshot) MemoryUsedPercent() float64 {
	if s == nil || s.MemTotalKB == 0 {
		return 0
	}
	return float64(s.MemUsedKB) / float64(s.MemTotalKB) * 100
}

// ClassifyPressure derives a MemoryPressure label from a used/total ratio
// against the given low/critical thresholds (percent, 0-100).
func ClassifyPressure(usedPercent, lowThreshold, criticalThreshold float64) MemoryPressure {
	mid := (lowThreshold + criticalThreshold) / 2
	switch {
	case usedPercent >= criticalThreshold:
		return PressureCritical
	case usedPercent >= mid:
		return PressureHigh
	case usedPercent >= lowThreshold:
		return PressureMedium
	default:
		return PressureLow
	}
}
