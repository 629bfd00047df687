package scheduler

import (
	"strings"

	"github.com/kavalan/resctl/pkg/snapshot"
)

// NamePatterns groups the name-substring sets the classifier matches
// against, in the order spec.md §4.2 evaluates them.
type NamePatterns struct {
	System      []string
	Interactive []string
	Batch       []string
}

// DefaultNamePatterns matches common desktop/server process names.
func DefaultNamePatterns() NamePatterns {
	return NamePatterns{
		System:      []string{"systemd", "kthreadd", "init", "dbus", "udevd"},
		Interactive: []string{"gnome-shell", "plasmashell", "firefox", "chrome", "chromium", "code", "vim", "emacs", "steam", "lutris"},
		Batch:       []string{"make", "gcc", "clang", "cargo", "go build", "rsync", "tar", "backup", "compile"},
	}
}

func matchesAny(name string, patterns []string) bool {
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

// Classify assigns a ProcessClass following spec.md §4.2's ordered rules:
// critical/system name first, then interactive, then batch name
// patterns, defaulting to Interactive; then adjusted by sustained CPU
// usage (>=80 -> Batch, <=5 -> Idle).
func Classify(rec snapshot.ProcessRecord, patterns NamePatterns) snapshot.ProcessClass {
	switch {
	case rec.IsCritical, matchesAny(rec.Name, patterns.System):
		return snapshot.System
	case matchesAny(rec.Name, patterns.Interactive):
		return adjustByCPU(rec.CPUPercent, snapshot.Interactive)
	case matchesAny(rec.Name, patterns.Batch):
		return adjustByCPU(rec.CPUPercent, snapshot.Batch)
	default:
		return adjustByCPU(rec.CPUPercent, snapshot.Interactive)
	}
}

// adjustByCPU never demotes System; Interactive/Batch are adjusted by
// sustained smoothed CPU usage per spec.md §4.2.
func adjustByCPU(cpuPercent float64, base snapshot.ProcessClass) snapshot.ProcessClass {
	if base == snapshot.System || base == snapshot.RealTime {
		return base
	}
	switch {
	case cpuPercent >= 80:
		return snapshot.Batch
	case cpuPercent <= 5:
		return snapshot.Idle
	default:
		return base
	}
}
