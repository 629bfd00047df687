package configfile_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavalan/resctl/pkg/configfile"
	"github.com/kavalan/resctl/pkg/mode"
	"github.com/kavalan/resctl/pkg/scheduler"
)

func TestLoadParsesRecognizedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resctl.conf")
	writeConfig(t, path, `# comment
monitoring_interval_ms = 500

default_scheduling_algorithm = cfs
default_time_slice_ms = 50
memory_threshold_percent = 75.5
critical_memory_threshold_percent = 92
cpu_threshold_percent = 88
enable_auto_optimization = false
enable_auto_mode = true
default_mode = "gaming"
log_level = debug
`)

	cfg, warnings, err := configfile.Load(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)
	assert.Equal(t, 500, cfg.MonitoringIntervalMS)
	assert.Equal(t, scheduler.CompletelyFair, cfg.Algorithm())
	assert.Equal(t, 50, cfg.DefaultTimeSliceMS)
	assert.Equal(t, 75.5, cfg.MemoryThresholdPercent)
	assert.False(t, cfg.EnableAutoOptimization)
	assert.True(t, cfg.EnableAutoMode)
	assert.Equal(t, mode.Gaming, cfg.Mode())
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadWarnsOnUnknownKeyAndKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resctl.conf")
	writeConfig(t, path, "made_up_key = 1\ndefault_mode = balanced\n")

	cfg, warnings, err := configfile.Load(path)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "made_up_key")
	assert.Equal(t, mode.Balanced, cfg.Mode())
}

func TestLoadWarnsOnMalformedLineAndKeepsDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resctl.conf")
	writeConfig(t, path, "not a kv line\nmonitoring_interval_ms = 250\n")

	cfg, warnings, err := configfile.Load(path)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	assert.Equal(t, 250, cfg.MonitoringIntervalMS)
}

func TestLoadRejectsOutOfRangeValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resctl.conf")
	writeConfig(t, path, "memory_threshold_percent = 150\n")

	_, _, err := configfile.Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsUnknownAlgorithmToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "resctl.conf")
	writeConfig(t, path, "default_scheduling_algorithm = not-real\n")

	_, _, err := configfile.Load(path)
	assert.Error(t, err)
}

func TestDefaultMatchesDocumentedDefaults(t *testing.T) {
	d := configfile.Default()
	assert.Equal(t, 1000, d.MonitoringIntervalMS)
	assert.Equal(t, scheduler.Priority, d.Algorithm())
	assert.Equal(t, mode.Balanced, d.Mode())
}
