package memory_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/kernel"
	"github.com/kavalan/resctl/pkg/memory"
	"github.com/kavalan/resctl/pkg/snapshot"
)

func snapWithUsedPercent(used float64) *snapshot.SystemSnapshot {
	total := uint64(1_000_000)
	usedKB := uint64(used / 100 * float64(total))
	return &snapshot.SystemSnapshot{
		MemTotalKB:     total,
		MemUsedKB:      usedKB,
		MemAvailableKB: total - usedKB,
		Processes:      map[int]snapshot.ProcessRecord{},
	}
}

func TestTickLowPressureIsNoOp(t *testing.T) {
	mock := kernel.NewMock()
	ctrl := memory.New(memory.DefaultConfig(), mock, nil)

	ctrl.Tick(snapWithUsedPercent(10))

	assert.Equal(t, snapshot.PressureLow, ctrl.LastLevel())
	assert.Empty(t, mock.TerminateCalls)
}

func TestTickCriticalPressureDropsCachesCompactsAndTerminates(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 1, Name: "hog", RSSKB: 600_000})
	mock.SetProcess(kernel.ProcSample{PID: 2, Name: "other", RSSKB: 10_000})

	bus := events.NewBus()
	var reclaimKinds []string
	bus.Subscribe(func(ev events.Event) {
		if ev.Kind == events.ReclamationStep {
			reclaimKinds = append(reclaimKinds, ev.ReclaimKind)
		}
	})

	ctrl := memory.New(memory.DefaultConfig(), mock, bus)
	snap := snapWithUsedPercent(95)
	snap.Processes[1] = snapshot.ProcessRecord{PID: 1, Name: "hog", RSSKB: 600_000}
	snap.Processes[2] = snapshot.ProcessRecord{PID: 2, Name: "other", RSSKB: 10_000}

	ctrl.Tick(snap)

	require.Equal(t, snapshot.PressureCritical, ctrl.LastLevel())
	assert.Contains(t, reclaimKinds, "DropAllCaches")
	assert.Contains(t, reclaimKinds, "CompactMemory")
	assert.NotEmpty(t, mock.TerminateCalls)
	assert.LessOrEqual(t, len(mock.TerminateCalls), memory.DefaultConfig().MaxTerminationAttempts)
}

func TestTerminationNeverTargetsCriticalProcesses(t *testing.T) {
	mock := kernel.NewMock()
	mock.SetProcess(kernel.ProcSample{PID: 1, Name: "systemd", RSSKB: 900_000})
	mock.DeniedPIDs[1] = false

	ctrl := memory.New(memory.DefaultConfig(), mock, nil)
	snap := snapWithUsedPercent(95)
	snap.Processes[1] = snapshot.ProcessRecord{PID: 1, Name: "systemd", RSSKB: 900_000, IsCritical: true}

	ctrl.Tick(snap)

	assert.Empty(t, mock.TerminateCalls)
}

func TestAggressiveStrategyEscalatesOneLevel(t *testing.T) {
	mock := kernel.NewMock()
	cfg := memory.DefaultConfig()
	cfg.Strategy = memory.Aggressive
	ctrl := memory.New(cfg, mock, nil)

	ctrl.Tick(snapWithUsedPercent(72))

	assert.Equal(t, snapshot.PressureHigh, ctrl.LastLevel())
}

func TestSetStrategyAndThresholdTakeEffectOnNextTick(t *testing.T) {
	mock := kernel.NewMock()
	ctrl := memory.New(memory.DefaultConfig(), mock, nil)

	ctrl.SetStrategy(memory.Conservative)
	ctrl.SetPressureThreshold(50)
	assert.Equal(t, memory.Conservative, ctrl.Strategy())

	ctrl.Tick(snapWithUsedPercent(55))
	assert.Equal(t, snapshot.PressureLow, ctrl.LastLevel())
}

func TestDropCachesFailureReportedOncePerTransition(t *testing.T) {
	mock := kernel.NewMock()
	mock.FailDropCaches = assert.AnError

	bus := events.NewBus()
	var steps []events.Event
	bus.Subscribe(func(ev events.Event) {
		if ev.Kind == events.ReclamationStep && ev.ReclaimKind == "DropPageCache" {
			steps = append(steps, ev)
		}
	})

	ctrl := memory.New(memory.DefaultConfig(), mock, bus)
	medium := snapWithUsedPercent(75)

	ctrl.Tick(medium)
	ctrl.Tick(medium)
	ctrl.Tick(medium)
	require.Len(t, steps, 1, "a sustained drop_caches denial should only be reported once")
	assert.False(t, steps[0].ReclaimSuccess)

	mock.FailDropCaches = nil
	ctrl.Tick(medium)
	require.Len(t, steps, 2, "recovery should be reported even though the prior state was already denied")
	assert.True(t, steps[1].ReclaimSuccess)

	mock.FailDropCaches = assert.AnError
	ctrl.Tick(medium)
	require.Len(t, steps, 3, "a fresh denial after a recovery is a new transition and is reported again")
	assert.False(t, steps[2].ReclaimSuccess)
}

func TestNilSnapshotTickIsNoOp(t *testing.T) {
	mock := kernel.NewMock()
	ctrl := memory.New(memory.DefaultConfig(), mock, nil)
	assert.NotPanics(t, func() { ctrl.Tick(nil) })
}
