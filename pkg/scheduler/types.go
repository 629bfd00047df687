// Package scheduler implements the scheduler policy engine: four
// selectable algorithms, per-tick classification, dynamic priority and
// anti-starvation aging, translated into nice-value actuation through
// the shared kernel.Actuator.
package scheduler

import (
	"time"

	"github.com/kavalan/resctl/pkg/snapshot"
)

// Algorithm selects which selection rule the engine uses.
type Algorithm string

const (
	Priority            Algorithm = "priority"
	RoundRobin          Algorithm = "round_robin"
	MultilevelFeedback  Algorithm = "mlfq"
	CompletelyFair      Algorithm = "cfs"
)

const (
	// MinSliceMS/MaxSliceMS bound time_slice_ms per spec.md §3.
	MinSliceMS = 10
	MaxSliceMS = 500
	// QueueLevels is Q, the multilevel feedback queue depth.
	QueueLevels = 5
	// DefaultStarvation is spec.md §4.2's default starvation_threshold.
	DefaultStarvation = 5 * time.Second
)

// ScheduledProcess is the scheduler's own view of one process, keyed by
// pid. It is owned exclusively by the scheduler; no other component
// mutates it (spec.md invariant 3).
type ScheduledProcess struct {
	PID             int
	Class           snapshot.ProcessClass
	BaseNice        int
	DynamicPriority int
	VirtualRuntime  float64
	TimeSliceMS     int
	QueueLevel      int
	LastScheduledAt time.Time
	ScheduleCount   int
	PreemptionCount int
	CPUHistory      []float64 // bounded window, last <=10 samples

	registeredAt time.Time
	fifoIndex    int // insertion order; recorded but not read by any selection rule
}

func (p *ScheduledProcess) pushCPUSample(v float64) {
	p.CPUHistory = append(p.CPUHistory, v)
	if len(p.CPUHistory) > 10 {
		p.CPUHistory = p.CPUHistory[len(p.CPUHistory)-10:]
	}
}

// ClassTuning holds per-class algorithm/slice/nice bounds, set via
// SetAlgorithmForClass. Selection always uses the global algorithm, so
// Algorithm here is stored but not used for selection.
type ClassTuning struct {
	Algorithm    Algorithm
	SliceMS      int
	NiceMin      int
	NiceMax      int
}

// SchedulingStats is the read-only snapshot returned by Statistics().
type SchedulingStats struct {
	ContextSwitches   int       `json:"context_switches"`
	Preemptions       int       `json:"preemptions"`
	AvgResponseTimeMS float64   `json:"avg_response_time_ms"`
	CPUUtilPercent    float64   `json:"cpu_util_percent"`
	ActiveProcesses   int       `json:"active_processes"`
	Algorithm         Algorithm `json:"algorithm"`
	StarvationBoosts  int       `json:"starvation_boosts"`
}

// clampSlice bounds ms to [MinSliceMS, MaxSliceMS].
func clampSlice(ms int) int {
	if ms < MinSliceMS {
		return MinSliceMS
	}
	if ms > MaxSliceMS {
		return MaxSliceMS
	}
	return ms
}

// clampNice bounds n to [-20, 19].
func clampNice(n int) int {
	if n < -20 {
		return -20
	}
	if n > 19 {
		return 19
	}
	return n
}

// PriorityToNice is the documented resolution of spec.md §9's open
// question: nice is always derived from dynamic_priority, never set
// directly from a ProcessClass. dynamic_priority runs roughly -20..30;
// this maps it onto the nice range by simple negation-and-clamp so that
// a higher dynamic priority (scheduled sooner) always yields a lower
// (more favorable) nice value.
func PriorityToNice(priority int) int {
	return clampNice(-priority)
}

// cfsWeight is the Completely Fair algorithm's nice-based weight,
// spec.md §4.2: weight(n) = 1 / (1 + n/20).
func cfsWeight(nice int) float64 {
	return 1.0 / (1.0 + float64(nice)/20.0)
}
