package exporter_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kavalan/resctl/pkg/exporter"
	"github.com/kavalan/resctl/pkg/mode"
	"github.com/kavalan/resctl/pkg/scheduler"
	"github.com/kavalan/resctl/pkg/snapshot"
)

func sampleRow() exporter.Row {
	snap := &snapshot.SystemSnapshot{
		TakenAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Seq:     7,
		CPUTotalPercent: 42,
		MemUsedKB:       1000,
		MemTotalKB:      2000,
	}
	stats := scheduler.SchedulingStats{Algorithm: scheduler.Priority, ActiveProcesses: 3, ContextSwitches: 5}
	return exporter.RowFrom(snap, stats, snapshot.PressureMedium, mode.Gaming)
}

func TestRowFromPopulatesFields(t *testing.T) {
	r := sampleRow()
	assert.Equal(t, uint64(7), r.Seq)
	assert.Equal(t, 50.0, r.MemUsedPercent)
	assert.Equal(t, snapshot.PressureMedium, r.Pressure)
	assert.Equal(t, mode.Gaming, r.Mode)
	assert.Equal(t, 3, r.ActiveProcesses)
}

func TestRowFromNilSnapshotLeavesSummaryZero(t *testing.T) {
	r := exporter.RowFrom(nil, scheduler.SchedulingStats{}, snapshot.PressureLow, mode.Balanced)
	assert.Equal(t, uint64(0), r.Seq)
	assert.Equal(t, 0.0, r.CPUTotalPercent)
}

func TestWriterWritesCSVAndJSON(t *testing.T) {
	dir := t.TempDir()
	cfg := exporter.Config{
		CSVPath:  filepath.Join(dir, "out.csv"),
		JSONPath: filepath.Join(dir, "out.json"),
	}
	w, err := exporter.New(cfg)
	require.NoError(t, err)

	w.Append(sampleRow())
	w.Append(sampleRow())
	require.NoError(t, w.Close())

	csvData, err := os.ReadFile(cfg.CSVPath)
	require.NoError(t, err)
	assert.Contains(t, string(csvData), "active_processes")
	assert.Contains(t, string(csvData), "gaming")

	jsonData, err := os.ReadFile(cfg.JSONPath)
	require.NoError(t, err)
	var rows []exporter.Row
	require.NoError(t, json.Unmarshal(jsonData, &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, mode.Gaming, rows[0].Mode)
}

func TestWriterWritesHTMLOnClose(t *testing.T) {
	dir := t.TempDir()
	cfg := exporter.Config{HTMLPath: filepath.Join(dir, "out.html")}
	w, err := exporter.New(cfg)
	require.NoError(t, err)

	w.Append(sampleRow())
	require.NoError(t, w.Close())

	html, err := os.ReadFile(cfg.HTMLPath)
	require.NoError(t, err)
	assert.Contains(t, string(html), "resctl report")
}
