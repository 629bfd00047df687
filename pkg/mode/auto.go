package mode

import (
	"fmt"
	"time"

	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/snapshot"
)

// EnableAutoMode toggles the auto-detect worker's effect; the worker keeps
// ticking either way (cheap), but only suggests/switches while enabled.
func (c *Controller) EnableAutoMode(enabled bool) {
	c.autoEnabled.Store(enabled)
}

// AutoModeEnabled reports whether auto-detect is currently active.
func (c *Controller) AutoModeEnabled() bool {
	return c.autoEnabled.Load()
}

// SetAutoPeriod changes how often the auto-detect worker re-evaluates.
// Takes effect on the next tick.
func (c *Controller) SetAutoPeriod(d time.Duration) {
	if d > 0 {
		c.autoPeriod.Store(int64(d))
	}
}

// StartAutoDetect spawns the auto-detect worker. Idempotent.
func (c *Controller) StartAutoDetect() {
	c.once.Do(func() {
		go c.runAutoDetect()
	})
}

// StopAutoDetect signals the worker to exit and blocks until it has.
// Idempotent; a no-op if StartAutoDetect was never called.
func (c *Controller) StopAutoDetect() {
	select {
	case <-c.stop:
		return
	default:
		close(c.stop)
	}
	// If the worker was never started, close done here so the wait
	// below returns; a later StartAutoDetect then starts nothing.
	c.once.Do(func() { close(c.done) })
	<-c.done
}

func (c *Controller) runAutoDetect() {
	defer close(c.done)
	for {
		period := time.Duration(c.autoPeriod.Load())
		timer := time.NewTimer(period)
		select {
		case <-c.stop:
			timer.Stop()
			return
		case <-timer.C:
			c.autoTick()
		}
	}
}

func (c *Controller) autoTick() {
	if !c.autoEnabled.Load() {
		return
	}
	snap := c.snapshots.Latest()
	inferred, reason := c.inferMode(snap)

	c.mu.Lock()
	current := c.currentMode
	c.mu.Unlock()

	if inferred == current {
		return
	}

	c.publish(events.Event{
		Kind: events.AutoModeSuggested, At: time.Now(),
		OldMode: string(current), NewMode: string(inferred), Reason: reason,
	})
	_ = c.SwitchTo(inferred)
}

// inferMode implements spec.md §4.4's ordered auto-detect rules: battery,
// then thermal, then gaming-process activity, then productivity-process
// count, defaulting to Balanced.
func (c *Controller) inferMode(snap *snapshot.SystemSnapshot) (Mode, string) {
	if battery, ok := c.actuator.ReadBattery(); ok && battery.OnBattery && battery.Percent <= c.autoCfg.BatteryThreshold {
		return PowerSaving, fmt.Sprintf("battery %.0f%% <= %.0f%%", battery.Percent, c.autoCfg.BatteryThreshold)
	}
	if temp, ok := c.actuator.ReadTemperatureC(); ok && temp >= c.autoCfg.ThermalThreshold {
		return PowerSaving, fmt.Sprintf("thermal %.1f >= %.1f", temp, c.autoCfg.ThermalThreshold)
	}

	if snap != nil {
		for _, rec := range snap.Processes {
			if matchesAny(rec.Name, c.autoCfg.GamingNames) && (rec.CPUPercent > 30 || rec.RSSKB > 1<<20) {
				return Gaming, fmt.Sprintf("%s cpu=%.0f%% rss=%dKB", rec.Name, rec.CPUPercent, rec.RSSKB)
			}
		}

		distinct := make(map[string]bool)
		for _, rec := range snap.Processes {
			if matchesAny(rec.Name, c.autoCfg.ProductivityNames) {
				distinct[rec.Name] = true
			}
		}
		if len(distinct) >= 2 {
			return Productivity, fmt.Sprintf("%d productivity processes active", len(distinct))
		}
	}

	return Balanced, "no signal matched"
}
