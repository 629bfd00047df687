package scheduler_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/kernel"
	"github.com/kavalan/resctl/pkg/scheduler"
	"github.com/kavalan/resctl/pkg/snapshot"
)

func mkSnap(recs ...snapshot.ProcessRecord) *snapshot.SystemSnapshot {
	m := make(map[int]snapshot.ProcessRecord, len(recs))
	for _, r := range recs {
		m[r.PID] = r
	}
	return &snapshot.SystemSnapshot{Processes: m}
}

func TestClassifySystemBeatsEverything(t *testing.T) {
	rec := snapshot.ProcessRecord{Name: "anything", IsCritical: true, CPUPercent: 99}
	assert.Equal(t, snapshot.System, scheduler.Classify(rec, scheduler.DefaultNamePatterns()))
}

func TestClassifyDefaultsInteractive(t *testing.T) {
	rec := snapshot.ProcessRecord{Name: "my-custom-daemon", CPUPercent: 40}
	assert.Equal(t, snapshot.Interactive, scheduler.Classify(rec, scheduler.DefaultNamePatterns()))
}

func TestClassifyHighSustainedCPUBecomesBatch(t *testing.T) {
	rec := snapshot.ProcessRecord{Name: "firefox", CPUPercent: 85}
	assert.Equal(t, snapshot.Batch, scheduler.Classify(rec, scheduler.DefaultNamePatterns()))
}

func TestClassifyLowSustainedCPUBecomesIdle(t *testing.T) {
	rec := snapshot.ProcessRecord{Name: "firefox", CPUPercent: 1}
	assert.Equal(t, snapshot.Idle, scheduler.Classify(rec, scheduler.DefaultNamePatterns()))
}

func TestPriorityToNiceClampsToRange(t *testing.T) {
	assert.Equal(t, -20, scheduler.PriorityToNice(30))
	assert.Equal(t, 19, scheduler.PriorityToNice(-30))
}

func TestTickNoOpOnEmptySnapshot(t *testing.T) {
	mock := kernel.NewMock()
	s := scheduler.New(scheduler.DefaultConfig(), mock, nil)
	s.Tick(mkSnap())
	stats := s.Statistics()
	assert.Equal(t, 0, stats.ActiveProcesses)
}

func TestTickRegistersAndUnregistersByObserverSnapshot(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})
	s := scheduler.New(scheduler.DefaultConfig(), mock, nil)

	snap := mkSnap(snapshot.ProcessRecord{PID: 10, Name: "a"})
	s.Tick(snap)
	require.Equal(t, 1, s.Statistics().ActiveProcesses)

	s.Tick(mkSnap())
	require.Equal(t, 0, s.Statistics().ActiveProcesses)
}

func TestStarvationBoostsAfterThreshold(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})
	mock.SetProcess(kernel.ProcSample{PID: 11, Name: "b"})

	cfg := scheduler.DefaultConfig()
	cfg.Algorithm = scheduler.RoundRobin
	cfg.StarvationThreshold = 10 * time.Millisecond
	s := scheduler.New(cfg, mock, nil)

	snap := mkSnap(
		snapshot.ProcessRecord{PID: 10, Name: "a"},
		snapshot.ProcessRecord{PID: 11, Name: "b"},
	)
	s.Tick(snap)
	time.Sleep(20 * time.Millisecond)
	s.Tick(snap)

	assert.GreaterOrEqual(t, s.Statistics().StarvationBoosts, 1)
}

func TestRoundRobinCyclesThroughProcesses(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})
	mock.SetProcess(kernel.ProcSample{PID: 11, Name: "b"})

	cfg := scheduler.DefaultConfig()
	cfg.Algorithm = scheduler.RoundRobin
	s := scheduler.New(cfg, mock, nil)

	snap := mkSnap(
		snapshot.ProcessRecord{PID: 10, Name: "a"},
		snapshot.ProcessRecord{PID: 11, Name: "b"},
	)
	seen := map[int]bool{}
	for i := 0; i < 4; i++ {
		s.Tick(snap)
	}
	for _, call := range mock.SetNiceCalls {
		seen[call.PID] = true
	}
	assert.True(t, seen[10])
	assert.True(t, seen[11])
}

func TestSetAlgorithmReEnrollsKnownProcesses(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})
	s := scheduler.New(scheduler.DefaultConfig(), mock, nil)
	snap := mkSnap(snapshot.ProcessRecord{PID: 10, Name: "a"})
	s.Tick(snap)

	s.SetAlgorithm(scheduler.RoundRobin)
	s.Tick(snap)
	assert.Equal(t, scheduler.RoundRobin, s.Statistics().Algorithm)
}

func TestSetDefaultSliceClamps(t *testing.T) {
	mock := kernel.NewMock()
	s := scheduler.New(scheduler.DefaultConfig(), mock, nil)
	s.SetDefaultSlice(1)
	assert.Equal(t, scheduler.MinSliceMS, s.DefaultSlice())
	s.SetDefaultSlice(10000)
	assert.Equal(t, scheduler.MaxSliceMS, s.DefaultSlice())
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})
	s.Tick(mkSnap(snapshot.ProcessRecord{PID: 10, Name: "a"}))
	assert.Equal(t, 1, s.Statistics().ActiveProcesses)
}

func TestMLFQDemotesAfterThreshold(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})

	cfg := scheduler.DefaultConfig()
	cfg.Algorithm = scheduler.MultilevelFeedback
	s := scheduler.New(cfg, mock, nil)

	soloSnap := mkSnap(snapshot.ProcessRecord{PID: 10, Name: "a"})
	for i := 0; i < 5; i++ {
		s.Tick(soloSnap)
	}
	require.Len(t, mock.SetNiceCalls, 5)

	// pid 10's ScheduleCount crossed 3*(level+1) on its 5th selection and
	// it was demoted to level 1. A freshly registered pid enters at level
	// 0, and selection always scans level 0 before level 1, so it should
	// now dominate every tick until it too crosses its own threshold.
	mock.SetProcess(kernel.ProcSample{PID: 11, Name: "b"})
	mixedSnap := mkSnap(
		snapshot.ProcessRecord{PID: 10, Name: "a"},
		snapshot.ProcessRecord{PID: 11, Name: "b"},
	)
	for i := 0; i < 5; i++ {
		s.Tick(mixedSnap)
	}

	tail := mock.SetNiceCalls[5:]
	require.Len(t, tail, 5)
	for _, call := range tail {
		assert.Equal(t, 11, call.PID, "pid 10 should stay demoted to level 1 while pid 11 occupies level 0")
	}
}

func TestCFSPicksMinimumVirtualRuntime(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "heavy"})
	mock.SetProcess(kernel.ProcSample{PID: 11, Name: "light"})

	cfg := scheduler.DefaultConfig()
	cfg.Algorithm = scheduler.CompletelyFair
	s := scheduler.New(cfg, mock, nil)

	snap := mkSnap(
		snapshot.ProcessRecord{PID: 10, Name: "heavy", CPUPercent: 90},
		snapshot.ProcessRecord{PID: 11, Name: "light", CPUPercent: 8},
	)
	for i := 0; i < 40; i++ {
		s.Tick(snap)
	}

	counts := map[int]int{}
	for _, call := range mock.SetNiceCalls {
		counts[call.PID]++
	}
	require.NotZero(t, counts[10])
	require.NotZero(t, counts[11])
	assert.Greater(t, counts[11], counts[10],
		"the lighter process should accrue virtual runtime slower and so win minimum-runtime selection more often")
}

func TestTickReportsNotFoundForDeadPIDAndRemovesItNextTick(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})

	bus := events.NewBus()
	var published []events.Event
	bus.Subscribe(func(ev events.Event) { published = append(published, ev) })

	s := scheduler.New(scheduler.DefaultConfig(), mock, bus)
	snap := mkSnap(snapshot.ProcessRecord{PID: 10, Name: "a"})
	s.Tick(snap) // registers pid 10 and actuates it successfully

	// The process exits after the observer's snapshot was taken but
	// before this tick's actuation reaches the kernel: the snapshot
	// still lists it, the kernel no longer does.
	mock.RemoveProcess(10)
	published = nil
	s.Tick(snap)

	require.NotEmpty(t, published)
	last := published[len(published)-1]
	assert.Equal(t, events.ProcessAction, last.Kind)
	assert.Equal(t, 10, last.PID)
	assert.Equal(t, events.ActionSetPriority, last.Action)
	assert.False(t, last.Succeeded)
	assert.ErrorIs(t, last.Cause, kernel.ErrNoSuchProcess)

	require.Equal(t, 1, s.Statistics().ActiveProcesses)
	s.Tick(mkSnap()) // observer no longer reports pid 10 at all
	assert.Equal(t, 0, s.Statistics().ActiveProcesses)
}

func TestTickSelectsNoneOnEmptyMultilevelQueues(t *testing.T) {
	mock := kernel.NewMock()

	bus := events.NewBus()
	var published []events.Event
	bus.Subscribe(func(ev events.Event) { published = append(published, ev) })

	cfg := scheduler.DefaultConfig()
	cfg.Algorithm = scheduler.MultilevelFeedback
	s := scheduler.New(cfg, mock, bus)

	s.Tick(mkSnap())

	assert.Empty(t, mock.SetNiceCalls)
	assert.Empty(t, published)
	assert.Equal(t, 0, s.Statistics().ActiveProcesses)
}

func TestRealtimePreemptsAlgorithmicSelection(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 10, Name: "a"})
	mock.SetProcess(kernel.ProcSample{PID: 99, Name: "rt"})
	s := scheduler.New(scheduler.DefaultConfig(), mock, nil)
	snap := mkSnap(
		snapshot.ProcessRecord{PID: 10, Name: "a"},
		snapshot.ProcessRecord{PID: 99, Name: "rt"},
	)
	s.Tick(snap) // register both
	s.SetRealtimePriority(99, 100)
	s.Tick(snap)

	require.NotEmpty(t, mock.SetNiceCalls)
	last := mock.SetNiceCalls[len(mock.SetNiceCalls)-1]
	assert.Equal(t, 99, last.PID)
}
