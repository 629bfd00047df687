package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPressure_Boundaries(t *testing.T) {
	const low, crit = 70.0, 90.0
	mid := (low + crit) / 2 // 80

	assert.Equal(t, PressureLow, ClassifyPressure(69.9, low, crit))
	assert.Equal(t, PressureMedium, ClassifyPressure(low, low, crit))
	assert.Equal(t, PressureMedium, ClassifyPressure(mid-0.1, low, crit))
	assert.Equal(t, PressureHigh, ClassifyPressure(mid, low, crit))
	assert.Equal(t, PressureHigh, ClassifyPressure(crit-0.1, low, crit))
	assert.Equal(t, PressureCritical, ClassifyPressure(crit, low, crit))
	assert.Equal(t, PressureCritical, ClassifyPressure(100, low, crit))
}

func TestSystemSnapshot_Clone_Independent(t *testing.T) {
	s := &SystemSnapshot{
		Seq: 1,
		Processes: map[int]ProcessRecord{
			42: {PID: 42, Name: "steam"},
		},
	}
	cp := s.Clone()
	cp.Processes[42] = ProcessRecord{PID: 42, Name: "mutated"}

	assert.Equal(t, "steam", s.Processes[42].Name)
	assert.Equal(t, "mutated", cp.Processes[42].Name)
}

func TestMemoryUsedPercent(t *testing.T) {
	s := &SystemSnapshot{MemTotalKB: 1000, MemUsedKB: 250}
	assert.InDelta(t, 25.0, s.MemoryUsedPercent(), 1e-9)

	var zero *SystemSnapshot
	assert.Equal(t, 0.0, zero.MemoryUsedPercent())

	empty := &SystemSnapshot{}
	assert.Equal(t, 0.0, empty.MemoryUsedPercent())
}
