// Package configfile loads the key=value configuration format of
// spec.md §6 into a typed, validated File. Grounded on
// original_source/src/utils/ConfigManager.cpp for which settings exist
// and their validation ranges, translated from its JSON input into the
// bespoke line-oriented format spec.md actually specifies.
package configfile

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kavalan/resctl/pkg/mode"
	"github.com/kavalan/resctl/pkg/scheduler"
)

// File is the typed, validated form of the config file's recognized keys.
// Field tags are validated by Validate via go-playground/validator/v10.
type File struct {
	MonitoringIntervalMS           int     `validate:"min=1"`
	DefaultSchedulingAlgorithm     string  `validate:"oneof=priority rr mlfq cfs"`
	DefaultTimeSliceMS             int     `validate:"min=1"`
	MemoryThresholdPercent         float64 `validate:"gte=0,lte=100"`
	CriticalMemoryThresholdPercent float64 `validate:"gte=0,lte=100"`
	CPUThresholdPercent            float64 `validate:"gte=0,lte=100"`
	EnableAutoOptimization         bool
	EnableAutoMode                 bool
	DefaultMode                    string `validate:"oneof=gaming productivity power-saving balanced"`
	LogLevel                       string `validate:"oneof=debug info warning error critical"`
}

// Default returns spec.md §6's documented defaults.
func Default() File {
	return File{
		MonitoringIntervalMS:           1000,
		DefaultSchedulingAlgorithm:     "priority",
		DefaultTimeSliceMS:             100,
		MemoryThresholdPercent:         80.0,
		CriticalMemoryThresholdPercent: 90.0,
		CPUThresholdPercent:            90.0,
		EnableAutoOptimization:         true,
		EnableAutoMode:                 false,
		DefaultMode:                    "balanced",
		LogLevel:                       "info",
	}
}

// Algorithm translates DefaultSchedulingAlgorithm's short token into a
// scheduler.Algorithm.
func (f File) Algorithm() scheduler.Algorithm {
	switch f.DefaultSchedulingAlgorithm {
	case "rr":
		return scheduler.RoundRobin
	case "mlfq":
		return scheduler.MultilevelFeedback
	case "cfs":
		return scheduler.CompletelyFair
	default:
		return scheduler.Priority
	}
}

// Mode translates DefaultMode into a mode.Mode.
func (f File) Mode() mode.Mode {
	switch f.DefaultMode {
	case "gaming":
		return mode.Gaming
	case "productivity":
		return mode.Productivity
	case "power-saving":
		return mode.PowerSaving
	default:
		return mode.Balanced
	}
}

// Load parses path's key=value lines into a validated File. Unknown keys
// are returned as warnings, never as an error (spec.md §6: "unknown keys
// ignored with a warning"). Blank lines and "# ..." comments are skipped.
func Load(path string) (*File, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("configfile: open %s: %w", path, err)
	}
	defer f.Close()
	return parse(f, path)
}

func parse(r *os.File, path string) (*File, []string, error) {
	cfg := Default()
	var warnings []string

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := splitKV(line)
		if !ok {
			warnings = append(warnings, fmt.Sprintf("%s:%d: malformed line %q ignored", path, lineNo, line))
			continue
		}

		var perr error
		switch key {
		case "monitoring_interval_ms":
			perr = setInt(&cfg.MonitoringIntervalMS, value)
		case "default_scheduling_algorithm":
			cfg.DefaultSchedulingAlgorithm = value
		case "default_time_slice_ms":
			perr = setInt(&cfg.DefaultTimeSliceMS, value)
		case "memory_threshold_percent":
			perr = setFloat(&cfg.MemoryThresholdPercent, value)
		case "critical_memory_threshold_percent":
			perr = setFloat(&cfg.CriticalMemoryThresholdPercent, value)
		case "cpu_threshold_percent":
			perr = setFloat(&cfg.CPUThresholdPercent, value)
		case "enable_auto_optimization":
			perr = setBool(&cfg.EnableAutoOptimization, value)
		case "enable_auto_mode":
			perr = setBool(&cfg.EnableAutoMode, value)
		case "default_mode":
			cfg.DefaultMode = value
		case "log_level":
			cfg.LogLevel = value
		default:
			warnings = append(warnings, fmt.Sprintf("%s:%d: unknown key %q ignored", path, lineNo, key))
			continue
		}
		if perr != nil {
			warnings = append(warnings, fmt.Sprintf("%s:%d: %v, keeping default for %q", path, lineNo, perr, key))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, warnings, fmt.Errorf("configfile: read %s: %w", path, err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, warnings, err
	}
	return &cfg, warnings, nil
}

// Validate rejects out-of-range percentages, unknown algorithm/mode/level
// tokens before a ModeConfiguration is ever built from the file — boundary
// validation per spec.md §7 ("InvalidArgument ... never reached in normal
// flow (validated at boundary)").
func Validate(f *File) error {
	return validator.New().Struct(f)
}

func splitKV(line string) (key, value string, ok bool) {
	idx := strings.Index(line, "=")
	if idx < 0 {
		return "", "", false
	}
	key = strings.TrimSpace(line[:idx])
	value = strings.TrimSpace(line[idx+1:])
	value = unquote(value)
	if key == "" {
		return "", "", false
	}
	return key, value, true
}

func unquote(v string) string {
	if len(v) >= 2 {
		if (v[0] == '"' && v[len(v)-1] == '"') || (v[0] == '\'' && v[len(v)-1] == '\'') {
			return v[1 : len(v)-1]
		}
	}
	return v
}

func setInt(dst *int, raw string) error {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("invalid integer %q", raw)
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, raw string) error {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("invalid float %q", raw)
	}
	*dst = v
	return nil
}

func setBool(dst *bool, raw string) error {
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fmt.Errorf("invalid boolean %q", raw)
	}
	*dst = v
	return nil
}
