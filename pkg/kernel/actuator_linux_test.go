//go:build linux

package kernel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampNiceBoundsToKernelRange(t *testing.T) {
	assert.Equal(t, -20, clampNice(-30))
	assert.Equal(t, 19, clampNice(30))
	assert.Equal(t, 0, clampNice(0))
}

func TestCanModifyRefusesCriticalRegardlessOfOwnership(t *testing.T) {
	a := NewLinuxActuator()
	assert.False(t, a.CanModify(os.Getpid(), true))
}

func TestCanModifyAllowsOwnProcess(t *testing.T) {
	a := NewLinuxActuator()
	assert.True(t, a.CanModify(os.Getpid(), false))
}

func TestCanModifyRefusesNonexistentPid(t *testing.T) {
	a := NewLinuxActuator()
	assert.False(t, a.CanModify(999999, false))
}

func TestSetAndGetCPUGovernorAgainstFakeSysfs(t *testing.T) {
	dir := t.TempDir()
	cpu0 := filepath.Join(dir, "cpu0", "cpufreq")
	require.NoError(t, os.MkdirAll(cpu0, 0o755))
	path := filepath.Join(cpu0, "scaling_governor")
	require.NoError(t, os.WriteFile(path, []byte("ondemand"), 0o644))

	a := NewLinuxActuator()
	a.SysCPUGlob = filepath.Join(dir, "cpu*", "cpufreq", "scaling_governor")

	got, err := a.GetCPUGovernor()
	require.NoError(t, err)
	assert.Equal(t, "ondemand", got)

	require.NoError(t, a.SetCPUGovernor("performance"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "performance", string(data))
}

func TestGetCPUGovernorUnavailableWhenGlobMatchesNothing(t *testing.T) {
	a := NewLinuxActuator()
	a.SysCPUGlob = filepath.Join(t.TempDir(), "nope*", "scaling_governor")
	_, err := a.GetCPUGovernor()
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestMapErrnoRecognizesKnownMessages(t *testing.T) {
	assert.ErrorIs(t, mapErrno(os.ErrPermission), ErrPermissionDenied)
}
