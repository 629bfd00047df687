package mode

import (
	"github.com/kavalan/resctl/pkg/memory"
	"github.com/kavalan/resctl/pkg/scheduler"
)

// DefaultModeConfigurations returns the four named postures, grounded on
// original_source/src/modes/{GamingMode,ProductivityMode,PowerSavingMode}.cpp
// and spec.md §8 scenario 1's literal expectations for Gaming.
func DefaultModeConfigurations() map[Mode]ModeConfiguration {
	return map[Mode]ModeConfiguration{
		Gaming:       gamingConfig(),
		Productivity: productivityConfig(),
		PowerSaving:  powerSavingConfig(),
		Balanced:     balancedConfig(),
	}
}

// gamingConfig favors the foreground game: Priority scheduling with a
// short slice, background update/indexer daemons suspended, governor
// pinned to performance. Matches spec.md §8 scenario 1 exactly.
func gamingConfig() ModeConfiguration {
	return ModeConfiguration{
		Algorithm:               scheduler.Priority,
		DefaultSliceMS:          50,
		PriorityBoostingEnabled: true,

		Strategy:                 memory.Balanced,
		PressureThresholdPercent: 80,
		SwapEnabled:              true,

		HighPriority: []string{"steam", "lutris", "wine", "proton", "game"},
		LowPriority:  nil,
		Suspend: []string{
			"update-notifier", "update-manager", "apt", "dpkg", "snapd",
			"baloo", "tracker", "indexer",
		},

		CPUGovernor:             "performance",
		CPUTurboEnabled:         true,
		ScreenBrightnessPercent: -1,
		DisabledServices:        []string{"bluetooth"},
		EnabledServices:         nil,
		MaxCPUPercent:           100,
	}
}

// productivityConfig favors interactive responsiveness for editors/
// terminals/communication tools under a fair scheduler.
func productivityConfig() ModeConfiguration {
	return ModeConfiguration{
		Algorithm:               scheduler.CompletelyFair,
		DefaultSliceMS:          100,
		PriorityBoostingEnabled: true,

		Strategy:                 memory.Balanced,
		PressureThresholdPercent: 75,
		SwapEnabled:              true,

		HighPriority: []string{"code", "vim", "emacs", "slack", "terminal", "docker"},
		LowPriority:  []string{"backup", "rsync", "make", "gcc", "clang", "cargo"},
		Suspend:      nil,

		CPUGovernor:             "ondemand",
		CPUTurboEnabled:         true,
		ScreenBrightnessPercent: -1,
		DisabledServices:        nil,
		EnabledServices:         nil,
		MaxCPUPercent:           100,
	}
}

// powerSavingConfig trims everything it can: aggressive memory strategy,
// dimmed screen, turbo disabled, powersave governor.
func powerSavingConfig() ModeConfiguration {
	return ModeConfiguration{
		Algorithm:               scheduler.RoundRobin,
		DefaultSliceMS:          200,
		PriorityBoostingEnabled: false,

		Strategy:                 memory.Aggressive,
		PressureThresholdPercent: 60,
		SwapEnabled:              true,

		HighPriority: nil,
		LowPriority:  []string{"chrome", "chromium", "firefox", "electron"},
		Suspend:      []string{"update-notifier", "update-manager", "tracker", "baloo"},

		CPUGovernor:             "powersave",
		CPUTurboEnabled:         false,
		ScreenBrightnessPercent: 40,
		DisabledServices:        []string{"bluetooth", "cups"},
		EnabledServices:         nil,
		MaxCPUPercent:           50,
	}
}

// balancedConfig is the baseline posture with no name-pattern bias.
func balancedConfig() ModeConfiguration {
	return ModeConfiguration{
		Algorithm:               scheduler.CompletelyFair,
		DefaultSliceMS:          100,
		PriorityBoostingEnabled: true,

		Strategy:                 memory.Balanced,
		PressureThresholdPercent: 70,
		SwapEnabled:              true,

		HighPriority: nil,
		LowPriority:  nil,
		Suspend:      nil,

		CPUGovernor:             "ondemand",
		CPUTurboEnabled:         true,
		ScreenBrightnessPercent: -1,
		DisabledServices:        nil,
		EnabledServices:         nil,
		MaxCPUPercent:           100,
	}
}
