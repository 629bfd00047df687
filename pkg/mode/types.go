// Package mode implements the mode controller: it composes the scheduler,
// memory controller, process actuator and CPU governor into one named
// posture (spec.md §4.4), applying a ModeConfiguration — on a failed step
// the scheduler, governor, per-pid nice and newly suspended pids are
// restored (see Controller.SwitchTo) — and can optionally infer which mode to switch to from
// observed activity and environment probes.
package mode

import (
	"time"

	"github.com/google/uuid"

	"github.com/kavalan/resctl/pkg/memory"
	"github.com/kavalan/resctl/pkg/scheduler"
)

// Mode names one of the four operating postures.
type Mode string

const (
	Gaming       Mode = "gaming"
	Productivity Mode = "productivity"
	PowerSaving  Mode = "power_saving"
	Balanced     Mode = "balanced"
)

// State is the mode controller's own state-machine position.
type State string

const (
	Idle        State = "idle"
	Applying    State = "applying"
	RollingBack State = "rolling_back"
)

// ModeConfiguration is a pure value describing a target system posture.
// Nothing in this struct actuates anything by itself; Controller.SwitchTo
// is the only place a ModeConfiguration is installed.
type ModeConfiguration struct {
	// Scheduler
	Algorithm                scheduler.Algorithm
	DefaultSliceMS           int
	PriorityBoostingEnabled  bool

	// Memory
	Strategy                 memory.Strategy
	PressureThresholdPercent float64
	SwapEnabled              bool

	// Process policy: name-substring patterns, matched case-insensitively
	// the same way scheduler.Classify matches them.
	HighPriority []string
	LowPriority  []string
	Suspend      []string

	// System tuning
	CPUGovernor             string
	CPUTurboEnabled         bool
	// ScreenBrightnessPercent < 0 means "unchanged" (spec.md §3).
	ScreenBrightnessPercent int
	DisabledServices        []string
	EnabledServices         []string

	// MaxCPUPercent is an advisory cap carried with the posture;
	// Controller.SwitchTo does not read it, so no CPU cap is enforced.
	MaxCPUPercent float64
}

// StateBackup is everything the mode controller changed on the last apply,
// sufficient to roll back. It is created before Apply and consumed on
// failure; on success it is discarded.
type StateBackup struct {
	OperationID uuid.UUID

	PriorAlgorithm scheduler.Algorithm
	PriorSliceMS   int
	PriorGovernor  string

	// PriorNice is only populated for pids this switch actually touched
	// (high/low priority pattern matches), never the whole process table.
	PriorNice map[int]int

	// CausedSuspend is the subset of pids this apply attempt newly
	// suspended; only these are resumed on rollback (spec.md §4.4 step 5:
	// "resume pids in suspended set that this switch caused to be
	// suspended").
	CausedSuspend map[int]bool
}

// AutoDetectConfig tunes Controller's auto-mode inference, spec.md §4.4.
type AutoDetectConfig struct {
	BatteryThreshold  float64 // percent, default 20
	ThermalThreshold  float64 // celsius, default 80
	GamingNames       []string
	ProductivityNames []string
}

// DefaultAutoDetectConfig matches spec.md §4.4's defaults and a reasonable
// desktop-oriented name set.
func DefaultAutoDetectConfig() AutoDetectConfig {
	return AutoDetectConfig{
		BatteryThreshold: 20,
		ThermalThreshold: 80,
		GamingNames:      []string{"steam", "lutris", "wine", "proton", "game"},
		ProductivityNames: []string{
			"code", "vim", "emacs", "slack", "terminal", "docker", "libreoffice", "gimp",
		},
	}
}

// Config tunes a Controller at construction.
type Config struct {
	Configs           map[Mode]ModeConfiguration
	TransitionDelay   time.Duration
	SmoothTransitions bool
	AutoPeriod        time.Duration
	Auto              AutoDetectConfig
}

// DefaultConfig wires in DefaultModeConfigurations and spec.md §4.4's
// default transition delay / auto period.
func DefaultConfig() Config {
	return Config{
		Configs:           DefaultModeConfigurations(),
		TransitionDelay:   2 * time.Second,
		SmoothTransitions: false,
		AutoPeriod:        30 * time.Second,
		Auto:              DefaultAutoDetectConfig(),
	}
}
