package mode

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/kernel"
	"github.com/kavalan/resctl/pkg/memory"
	"github.com/kavalan/resctl/pkg/resctlerr"
	"github.com/kavalan/resctl/pkg/scheduler"
	"github.com/kavalan/resctl/pkg/snapshot"
)

// SnapshotSource is the read side of the observer a Controller needs;
// *observer.Observer satisfies it without this package importing observer
// directly, keeping the dependency order of spec.md §2 (Observer has no
// upward dependencies; higher layers hold references down, never back).
type SnapshotSource interface {
	Latest() *snapshot.SystemSnapshot
}

// ChangeCallback is invoked after a successful commit, never during apply
// or rollback (spec.md §4.4's re-entrancy rule).
type ChangeCallback func(old, new Mode)

type callbackEntry struct {
	id int
	fn ChangeCallback
}

// Controller composes the scheduler, memory controller and actuator into
// one named posture and can optionally pick that posture itself. Apply is
// serialized by a single in-flight flag (spec.md §5); current/previous
// mode, state and the suspended-pid set live behind one mutex, released
// across actuator I/O.
type Controller struct {
	scheduler *scheduler.Scheduler
	memCtrl   *memory.Controller
	actuator  kernel.Actuator
	snapshots SnapshotSource
	bus       *events.Bus

	configs           map[Mode]ModeConfiguration
	transitionDelay   time.Duration
	smoothTransitions bool

	switching atomic.Bool

	mu             sync.Mutex
	state          State
	currentMode    Mode
	previousMode   Mode
	modeStartTime  time.Time
	suspendedPids  map[int]bool
	callbacks      []callbackEntry
	nextCallbackID int

	autoEnabled atomic.Bool
	autoPeriod  atomic.Int64 // nanoseconds
	autoCfg     AutoDetectConfig

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// New constructs a Controller. It does not apply any configuration; the
// caller applies the configured default_mode explicitly (e.g. from the
// CLI's --config default_mode) via SwitchTo once collaborators are ready.
func New(cfg Config, sched *scheduler.Scheduler, memCtrl *memory.Controller, actuator kernel.Actuator, snapshots SnapshotSource, bus *events.Bus) *Controller {
	if cfg.Configs == nil {
		cfg.Configs = DefaultModeConfigurations()
	}
	if cfg.AutoPeriod <= 0 {
		cfg.AutoPeriod = 30 * time.Second
	}
	c := &Controller{
		scheduler:         sched,
		memCtrl:           memCtrl,
		actuator:          actuator,
		snapshots:         snapshots,
		bus:               bus,
		configs:           cfg.Configs,
		transitionDelay:   cfg.TransitionDelay,
		smoothTransitions: cfg.SmoothTransitions,
		state:             Idle,
		suspendedPids:     make(map[int]bool),
		autoCfg:           cfg.Auto,
		stop:              make(chan struct{}),
		done:              make(chan struct{}),
	}
	c.autoPeriod.Store(int64(cfg.AutoPeriod))
	return c
}

// CurrentMode returns the active mode ("" before the first successful
// SwitchTo).
func (c *Controller) CurrentMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentMode
}

// PreviousMode returns the mode active before the last successful switch.
func (c *Controller) PreviousMode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.previousMode
}

// ModeStartTime returns when the current mode was committed.
func (c *Controller) ModeStartTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.modeStartTime
}

// State returns the controller's current state-machine position.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RegisterModeChangeCallback registers fn to run after every successful
// commit. Returns an unregister function.
func (c *Controller) RegisterModeChangeCallback(fn ChangeCallback) (unregister func()) {
	c.mu.Lock()
	id := c.nextCallbackID
	c.nextCallbackID++
	c.callbacks = append(c.callbacks, callbackEntry{id: id, fn: fn})
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		next := c.callbacks[:0]
		for _, cb := range c.callbacks {
			if cb.id != id {
				next = append(next, cb)
			}
		}
		c.callbacks = next
	}
}

func (c *Controller) fireCallbacks(old, next Mode) {
	c.mu.Lock()
	cbs := make([]callbackEntry, len(c.callbacks))
	copy(cbs, c.callbacks)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb.fn(old, next)
	}
}

// SwitchTo installs mode's ModeConfiguration. Either every step lands, or
// apply rolls back what rollback covers (scheduler algorithm and slice,
// CPU governor, per-pid nice, newly suspended pids) and returns
// ApplyFailed; the memory-controller strategy/threshold, services and
// power tuning already applied by then are not reverted. Returns SwitchInProgress if another
// switch is in flight, InvalidArgument if mode is unknown, and nil
// (no-op) if mode already equals the current mode.
func (c *Controller) SwitchTo(mode Mode) error {
	if !c.switching.CompareAndSwap(false, true) {
		return resctlerr.New(resctlerr.SwitchInProgress, fmt.Errorf("switch to %q rejected: switch already in progress", mode))
	}
	defer c.switching.Store(false)

	cfg, ok := c.configs[mode]
	if !ok {
		return resctlerr.New(resctlerr.InvalidArgument, fmt.Errorf("unknown mode %q", mode))
	}

	c.mu.Lock()
	if c.currentMode == mode {
		c.mu.Unlock()
		return nil // idempotence law: no-op, no events
	}
	oldMode := c.currentMode
	prevSuspended := cloneSet(c.suspendedPids)
	c.state = Applying
	c.mu.Unlock()

	snap := c.snapshots.Latest()
	if snap == nil {
		snap = &snapshot.SystemSnapshot{}
	}

	backup := StateBackup{
		OperationID:    uuid.New(),
		PriorAlgorithm: c.scheduler.Algorithm(),
		PriorSliceMS:   c.scheduler.DefaultSlice(),
		PriorNice:      make(map[int]int),
	}
	if g, err := c.actuator.GetCPUGovernor(); err == nil {
		backup.PriorGovernor = g
	}

	if c.smoothTransitions && c.transitionDelay > 0 {
		time.Sleep(c.transitionDelay)
	}

	// 1. scheduler
	c.scheduler.SetAlgorithm(cfg.Algorithm)
	c.scheduler.SetDefaultSlice(cfg.DefaultSliceMS)

	// 2. memory controller
	c.memCtrl.SetStrategy(cfg.Strategy)
	c.memCtrl.SetPressureThreshold(cfg.PressureThresholdPercent)

	// 3. process priorities
	newSuspended, priorNice, causedSuspend := c.applyProcessPolicy(snap, cfg, prevSuspended)
	for pid, nice := range priorNice {
		backup.PriorNice[pid] = nice
	}
	backup.CausedSuspend = causedSuspend

	// 4. CPU governor
	if err := c.actuator.SetCPUGovernor(cfg.CPUGovernor); err != nil {
		c.rollback(backup)
		return resctlerr.NewApplyFailed("CPUGovernor", err)
	}

	// 5. system services
	if err := c.applyServices(cfg); err != nil {
		c.rollback(backup)
		return resctlerr.NewApplyFailed("Services", err)
	}

	// 6. power tuning
	if err := c.applyPowerTuning(cfg); err != nil {
		c.rollback(backup)
		return resctlerr.NewApplyFailed("PowerTuning", err)
	}

	c.mu.Lock()
	c.previousMode = oldMode
	c.currentMode = mode
	c.modeStartTime = time.Now()
	c.suspendedPids = newSuspended
	c.state = Idle
	c.mu.Unlock()

	c.publish(events.Event{Kind: events.ModeChanged, At: time.Now(), OldMode: string(oldMode), NewMode: string(mode)})
	c.fireCallbacks(oldMode, mode)
	return nil
}

// applyProcessPolicy resumes any previously-suspended pid the new mode no
// longer wants suspended, then actuates the new mode's high/low priority
// and suspend patterns against the latest snapshot. Per-pid actuation
// failures are reported as events but never fail the switch (spec.md
// §4.2/§4.3 failure semantics); only steps 4-6 can trigger a rollback.
func (c *Controller) applyProcessPolicy(snap *snapshot.SystemSnapshot, cfg ModeConfiguration, prevSuspended map[int]bool) (newSuspended map[int]bool, priorNice map[int]int, causedSuspend map[int]bool) {
	newSuspended = make(map[int]bool)
	priorNice = make(map[int]int)
	causedSuspend = make(map[int]bool)

	for pid := range prevSuspended {
		rec, alive := snap.Processes[pid]
		if !alive {
			continue
		}
		if matchesAny(rec.Name, cfg.Suspend) {
			newSuspended[pid] = true
			continue
		}
		err := c.actuator.Resume(pid)
		c.publishAction(pid, events.ActionResume, err == nil, err)
	}

	for pid, rec := range snap.Processes {
		switch {
		case matchesAny(rec.Name, cfg.HighPriority):
			if !c.actuator.CanModify(pid, rec.IsCritical) {
				continue
			}
			priorNice[pid] = rec.NiceValue
			err := c.actuator.SetNice(pid, clampNice(-10))
			c.publishAction(pid, events.ActionSetPriority, err == nil, err)
		case matchesAny(rec.Name, cfg.LowPriority):
			if !c.actuator.CanModify(pid, rec.IsCritical) {
				continue
			}
			priorNice[pid] = rec.NiceValue
			err := c.actuator.SetNice(pid, clampNice(10))
			c.publishAction(pid, events.ActionSetPriority, err == nil, err)
		case matchesAny(rec.Name, cfg.Suspend):
			if newSuspended[pid] {
				continue // already confirmed suspended above
			}
			if !c.actuator.CanModify(pid, rec.IsCritical) {
				continue
			}
			err := c.actuator.Pause(pid)
			c.publishAction(pid, events.ActionPause, err == nil, err)
			if err == nil {
				newSuspended[pid] = true
				causedSuspend[pid] = true
			}
		}
	}
	return newSuspended, priorNice, causedSuspend
}

func (c *Controller) applyServices(cfg ModeConfiguration) error {
	for _, name := range cfg.DisabledServices {
		if err := c.actuator.RunService(name, false); err != nil {
			return fmt.Errorf("stop %s: %w", name, err)
		}
	}
	for _, name := range cfg.EnabledServices {
		if err := c.actuator.RunService(name, true); err != nil {
			return fmt.Errorf("start %s: %w", name, err)
		}
	}
	return nil
}

func (c *Controller) applyPowerTuning(cfg ModeConfiguration) error {
	if err := c.actuator.SetCPUTurbo(cfg.CPUTurboEnabled); err != nil {
		return fmt.Errorf("turbo: %w", err)
	}
	if cfg.ScreenBrightnessPercent >= 0 {
		if err := c.actuator.SetBrightnessPercent(cfg.ScreenBrightnessPercent); err != nil {
			return fmt.Errorf("brightness: %w", err)
		}
	}
	return nil
}

// rollback restores everything backup describes: scheduler algorithm and
// slice, CPU governor, per-pid nice (best-effort — a dead pid's restore
// error is ignored, matching spec.md §4.4's "best-effort for dead pids"),
// and resumes only the pids this failed attempt newly suspended.
func (c *Controller) rollback(backup StateBackup) {
	c.mu.Lock()
	c.state = RollingBack
	c.mu.Unlock()

	c.scheduler.SetAlgorithm(backup.PriorAlgorithm)
	c.scheduler.SetDefaultSlice(backup.PriorSliceMS)
	if backup.PriorGovernor != "" {
		_ = c.actuator.SetCPUGovernor(backup.PriorGovernor)
	}
	for pid, nice := range backup.PriorNice {
		_ = c.actuator.SetNice(pid, nice)
	}
	for pid := range backup.CausedSuspend {
		_ = c.actuator.Resume(pid)
	}

	c.mu.Lock()
	c.state = Idle
	c.mu.Unlock()
}

func (c *Controller) publishAction(pid int, action events.Action, ok bool, cause error) {
	c.publish(events.Event{Kind: events.ProcessAction, At: time.Now(), PID: pid, Action: action, Succeeded: ok, Cause: cause})
}

func (c *Controller) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func cloneSet(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func matchesAny(name string, patterns []string) bool {
	if len(patterns) == 0 {
		return false
	}
	lower := strings.ToLower(name)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}

func clampNice(n int) int {
	if n < -20 {
		return -20
	}
	if n > 19 {
		return 19
	}
	return n
}
