//go:build linux

package kernel

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatLineSplitsPastParenthesizedComm(t *testing.T) {
	fields, err := parseStatLine("1234 (my cool (nested) proc) S 1 1234 1234 0 -1 4194304 100 0 0 0 5 3 0 0 20 0 1 0 900 0 0\n")
	require.NoError(t, err)
	assert.Equal(t, "my cool (nested) proc", fields.comm)
	assert.Equal(t, "S", fields.field(0))
	assert.Equal(t, "1", fields.field(1))
}

func TestParseStatLineRejectsMalformedInput(t *testing.T) {
	_, err := parseStatLine("not a stat line at all")
	assert.ErrorIs(t, err, ErrMalformedStat)
}

func TestLinuxReaderPidsIncludesSelf(t *testing.T) {
	r := NewLinuxReader()
	pids, err := r.Pids()
	require.NoError(t, err)

	me := os.Getpid()
	found := false
	for _, pid := range pids {
		if pid == me {
			found = true
			break
		}
	}
	assert.True(t, found, "Pids() should include the current process")
}

func TestLinuxReaderReadProcessSelf(t *testing.T) {
	r := NewLinuxReader()
	sample, err := r.ReadProcess(os.Getpid())
	require.NoError(t, err)
	assert.NotEmpty(t, sample.Name)
	assert.NotZero(t, sample.State)
}

func TestLinuxReaderReadProcessNoSuchPid(t *testing.T) {
	r := NewLinuxReader()
	_, err := r.ReadProcess(999999)
	assert.ErrorIs(t, err, ErrNoSuchProcess)
}

func TestLinuxReaderReadSystemReturnsSaneTotals(t *testing.T) {
	r := NewLinuxReader()
	sys, err := r.ReadSystem()
	require.NoError(t, err)
	assert.Greater(t, sys.MemTotalKB, uint64(0))
	assert.GreaterOrEqual(t, sys.CPUTotalJiffies, sys.CPUActiveJiffies)
}

func TestLinuxReaderSignal0(t *testing.T) {
	r := NewLinuxReader()
	assert.True(t, r.Signal0(os.Getpid()))
	assert.False(t, r.Signal0(999999))
}

func TestLinuxReaderClockTicksAndPageSize(t *testing.T) {
	t.Setenv("CLK_TCK", "")
	r := NewLinuxReader()
	assert.Greater(t, r.ClockTicks(), 0)
	assert.Greater(t, r.PageSize(), 0)

	t.Setenv("CLK_TCK", "250")
	assert.Equal(t, 250, r.ClockTicks())
}
