// Package memory implements the memory pressure controller: pressure
// classification and the escalating reclamation ladder of spec.md §4.3.
// It never reclaims from critical processes and bounds emergency
// termination attempts per tick to avoid cascading kills.
package memory

import (
	"sync"
	"time"

	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/kernel"
	"github.com/kavalan/resctl/pkg/observer"
	"github.com/kavalan/resctl/pkg/snapshot"
)

// Strategy tunes how aggressively the ladder escalates.
type Strategy string

const (
	Conservative Strategy = "conservative"
	Balanced     Strategy = "balanced"
	Aggressive   Strategy = "aggressive"
)

// Config tunes a Controller at construction.
type Config struct {
	LowThresholdPercent      float64
	CriticalThresholdPercent float64
	Strategy                 Strategy
	CacheTrimmingEnabled     bool
	MinimumFreeKB            uint64
	MaxTerminationAttempts   int
	TopK                     int
}

// DefaultConfig matches spec.md §4.3's defaults.
func DefaultConfig() Config {
	return Config{
		LowThresholdPercent:      70,
		CriticalThresholdPercent: 90,
		Strategy:                 Balanced,
		CacheTrimmingEnabled:     true,
		MinimumFreeKB:            512 * 1024,
		MaxTerminationAttempts:   10,
		TopK:                     5,
	}
}

// Controller classifies pressure from the latest snapshot and applies
// escalating reclamation. State (strategy, thresholds, counters) is
// guarded by one mutex; no other component mutates it.
type Controller struct {
	actuator kernel.Actuator
	bus      *events.Bus

	mu                 sync.Mutex
	cfg                Config
	dropCachesDenied   bool
	lastLevel          snapshot.MemoryPressure
	terminationsByTick []int
}

// New constructs a Controller.
func New(cfg Config, actuator kernel.Actuator, bus *events.Bus) *Controller {
	if cfg.MaxTerminationAttempts <= 0 {
		cfg.MaxTerminationAttempts = 10
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.Strategy == "" {
		cfg.Strategy = Balanced
	}
	return &Controller{actuator: actuator, bus: bus, cfg: cfg}
}

// SetStrategy atomically swaps the active MemoryOptimizationStrategy.
func (c *Controller) SetStrategy(s Strategy) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.Strategy = s
}

// Strategy returns the currently active strategy.
func (c *Controller) Strategy() Strategy {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Strategy
}

// SetPressureThreshold overrides the low-pressure threshold percent, the
// single knob a ModeConfiguration exposes over this controller's
// classification; the critical threshold stays operator-configured.
func (c *Controller) SetPressureThreshold(percent float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg.LowThresholdPercent = percent
}

// LastLevel returns the pressure level classified on the most recent Tick.
func (c *Controller) LastLevel() snapshot.MemoryPressure {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastLevel
}

// thresholdsLocked returns the effective low/critical thresholds after the
// strategy modifier from spec.md §4.3: Conservative raises by +10,
// Aggressive lowers by -5, Balanced is the baseline.
func (c *Controller) thresholdsLocked() (low, critical float64) {
	low, critical = c.cfg.LowThresholdPercent, c.cfg.CriticalThresholdPercent
	switch c.cfg.Strategy {
	case Conservative:
		low += 10
		critical += 10
	case Aggressive:
		low -= 5
		critical -= 5
	}
	return low, critical
}

// Classify derives the MemoryPressure label for snap under the
// controller's effective (strategy-adjusted) thresholds.
func (c *Controller) Classify(snap *snapshot.SystemSnapshot) snapshot.MemoryPressure {
	c.mu.Lock()
	low, critical := c.thresholdsLocked()
	c.mu.Unlock()
	if snap == nil {
		return snapshot.PressureLow
	}
	return snapshot.ClassifyPressure(snap.MemoryUsedPercent(), low, critical)
}

// escalatedLevel bumps the classified level one step for Aggressive
// strategy, per spec.md §4.3 ("always acts one level up from classified").
func escalatedLevel(level snapshot.MemoryPressure, strategy Strategy) snapshot.MemoryPressure {
	if strategy != Aggressive {
		return level
	}
	switch level {
	case snapshot.PressureLow:
		return snapshot.PressureMedium
	case snapshot.PressureMedium:
		return snapshot.PressureHigh
	case snapshot.PressureHigh, snapshot.PressureCritical:
		return snapshot.PressureCritical
	default:
		return level
	}
}

// Tick runs one escalation pass against the latest snapshot.
func (c *Controller) Tick(snap *snapshot.SystemSnapshot) {
	if snap == nil {
		return
	}

	c.mu.Lock()
	classified := func() snapshot.MemoryPressure {
		low, critical := c.thresholdsLocked()
		return snapshot.ClassifyPressure(snap.MemoryUsedPercent(), low, critical)
	}()
	level := escalatedLevel(classified, c.cfg.Strategy)
	cacheTrimming := c.cfg.CacheTrimmingEnabled
	minimumFree := c.cfg.MinimumFreeKB
	maxAttempts := c.cfg.MaxTerminationAttempts
	topK := c.cfg.TopK
	c.lastLevel = level
	c.mu.Unlock()

	switch level {
	case snapshot.PressureLow:
		return
	case snapshot.PressureMedium:
		if cacheTrimming {
			c.dropCaches(kernel.CachePage)
		}
	case snapshot.PressureHigh:
		c.dropCaches(kernel.CacheAll)
		c.lowerTopConsumers(snap, topK)
	case snapshot.PressureCritical:
		c.dropCaches(kernel.CacheAll)
		c.compactMemory()
		c.terminateUntilFree(snap, minimumFree, maxAttempts)
	}
}

// dropCaches attempts the reclamation step and reports it, but only once
// per failure streak: a denied drop_caches write is usually a permissions
// problem that will not clear until the next successful attempt, so
// repeating the same ReclamationStep failure every tick would just spam
// subscribers without new information.
func (c *Controller) dropCaches(kind kernel.CacheKind) {
	err := c.actuator.DropCaches(kind)

	c.mu.Lock()
	alreadyDenied := c.dropCachesDenied
	c.dropCachesDenied = err != nil
	c.mu.Unlock()

	if err != nil && alreadyDenied {
		return
	}

	name := "DropPageCache"
	if kind == kernel.CacheAll {
		name = "DropAllCaches"
	}
	c.publish(events.Event{
		Kind: events.ReclamationStep, At: time.Now(),
		ReclaimKind: name, ReclaimSuccess: err == nil,
	})
}

func (c *Controller) compactMemory() {
	err := c.actuator.CompactMemory()
	c.publish(events.Event{
		Kind: events.ReclamationStep, At: time.Now(),
		ReclaimKind: "CompactMemory", ReclaimSuccess: err == nil,
	})
}

// lowerTopConsumers lowers the scheduling priority (nice += 5, clamped)
// of the top-k non-critical memory consumers.
func (c *Controller) lowerTopConsumers(snap *snapshot.SystemSnapshot, topK int) {
	for _, rec := range observer.TopKByRSS(snap, topK) {
		if !c.actuator.CanModify(rec.PID, rec.IsCritical) {
			continue
		}
		nice := rec.NiceValue + 5
		if nice > 19 {
			nice = 19
		}
		err := c.actuator.SetNice(rec.PID, nice)
		c.publish(events.Event{
			Kind: events.ProcessAction, At: time.Now(),
			PID: rec.PID, Action: events.ActionSetPriority, Succeeded: err == nil, Cause: err,
		})
	}
}

// terminateUntilFree terminates the highest-memory non-critical
// processes, one at a time, until available memory reaches minimumFree
// or maxAttempts is reached — spec.md invariant 7.
func (c *Controller) terminateUntilFree(snap *snapshot.SystemSnapshot, minimumFree uint64, maxAttempts int) {
	available := snap.MemAvailableKB
	candidates := observer.TopKByRSS(snap, maxAttempts)

	attempts := 0
	for _, rec := range candidates {
		if available >= minimumFree || attempts >= maxAttempts {
			break
		}
		if !c.actuator.CanModify(rec.PID, rec.IsCritical) {
			continue
		}
		attempts++
		err := c.actuator.Terminate(rec.PID, 100*time.Millisecond)
		c.publish(events.Event{
			Kind: events.ProcessAction, At: time.Now(),
			PID: rec.PID, Action: events.ActionTerminate, Succeeded: err == nil, Cause: err,
		})
		if err == nil {
			available += rec.RSSKB
			c.publish(events.Event{
				Kind: events.ReclamationStep, At: time.Now(),
				ReclaimKind: "Terminate", FreedKB: int64(rec.RSSKB), ReclaimSuccess: true,
			})
		}
	}
}

func (c *Controller) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}
