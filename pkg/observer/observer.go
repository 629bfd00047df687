// Package observer samples the kernel surface into a coherent
// SystemSnapshot once per tick and exposes the latest one atomically to
// any number of readers. It is the only writer of snapshot.ProcessRecord
// values; every other component treats them as read-only (spec invariant:
// "the observer is the sole writer").
package observer

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/kernel"
	"github.com/kavalan/resctl/pkg/snapshot"
)

// Config tunes the observer's sampling behavior.
type Config struct {
	TickPeriod time.Duration

	// LowThreshold/CriticalThreshold classify MemoryPressure from the
	// snapshot's used/total ratio (percent, 0-100).
	LowThreshold      float64
	CriticalThreshold float64

	// CriticalNames tags ProcessRecord.IsCritical by exact process name.
	CriticalNames map[string]bool
}

// DefaultConfig matches spec.md §4.1/§4.3 defaults.
func DefaultConfig() Config {
	return Config{
		TickPeriod:        time.Second,
		LowThreshold:      70,
		CriticalThreshold: 90,
		CriticalNames:     map[string]bool{"systemd": true, "init": true, "kthreadd": true},
	}
}

type prevSample struct {
	utime, stime uint64
	rssKB        uint64
	at           time.Time
}

// Observer runs the sampling worker and publishes immutable snapshots.
type Observer struct {
	cfg    Config
	reader kernel.Reader
	bus    *events.Bus

	latest atomic.Pointer[snapshot.SystemSnapshot]
	seq    atomic.Uint64

	// lowThreshold/criticalThreshold back Config.LowThreshold/CriticalThreshold
	// as atomics so SetThresholds can be called from a config-reload
	// goroutine while run()'s own goroutine reads them every tick.
	lowThreshold      atomic.Uint64
	criticalThreshold atomic.Uint64

	mu       sync.Mutex
	subs     []func(*snapshot.SystemSnapshot)
	prev     map[int]prevSample
	prevProc map[int]kernel.ProcSample
	prevSys  kernel.SystemSample

	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
	warned bool
}

// New constructs an Observer. It does not start sampling until Start.
func New(cfg Config, reader kernel.Reader, bus *events.Bus) *Observer {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = time.Second
	}
	o := &Observer{
		cfg:      cfg,
		reader:   reader,
		bus:      bus,
		prev:     make(map[int]prevSample),
		prevProc: make(map[int]kernel.ProcSample),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	o.lowThreshold.Store(math.Float64bits(cfg.LowThreshold))
	o.criticalThreshold.Store(math.Float64bits(cfg.CriticalThreshold))
	return o
}

// SetThresholds updates the low/critical pressure thresholds used to
// classify every subsequent snapshot, without needing a restart — the
// configfile package's hot-reload watcher drives this.
func (o *Observer) SetThresholds(low, critical float64) {
	o.lowThreshold.Store(math.Float64bits(low))
	o.criticalThreshold.Store(math.Float64bits(critical))
}

// Start spawns the sampling worker. Idempotent: a second call is a no-op.
func (o *Observer) Start() {
	select {
	case <-o.done:
		return // already stopped, refuse to restart a used worker
	default:
	}
	o.once.Do(func() {
		go o.run()
	})
}

// Stop signals the worker to exit and blocks until it has. Idempotent.
func (o *Observer) Stop() {
	select {
	case <-o.stop:
	default:
		close(o.stop)
	}
	<-o.done
}

func (o *Observer) run() {
	defer close(o.done)
	ticker := time.NewTicker(o.cfg.TickPeriod)
	defer ticker.Stop()

	o.tick() // first sample immediately so latest() is never empty
	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			o.tick()
		}
	}
}

// Latest returns the most recently published snapshot, or nil if Start
// has not produced one yet.
func (o *Observer) Latest() *snapshot.SystemSnapshot {
	return o.latest.Load()
}

// Subscribe registers a callback invoked once per new snapshot, serially
// on the observer's own goroutine; it must not block indefinitely.
func (o *Observer) Subscribe(cb func(*snapshot.SystemSnapshot)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, cb)
}

// IsAlive consults the latest snapshot, then falls back to a null-signal
// probe if the pid is absent — guards against snapshot lag.
func (o *Observer) IsAlive(pid int) bool {
	if snap := o.Latest(); snap != nil {
		if _, ok := snap.Processes[pid]; ok {
			return true
		}
	}
	return o.reader.Signal0(pid)
}

func (o *Observer) tick() {
	now := time.Now()
	pids, err := o.reader.Pids()
	if err != nil {
		return // total enumeration failure: keep serving the prior snapshot
	}

	sys, sysErr := o.reader.ReadSystem()
	if sysErr != nil {
		if !o.warned && o.bus != nil {
			o.bus.Publish(events.Event{Kind: events.SystemThresholdExceeded, At: now, Detail: "system memory unreadable: " + sysErr.Error()})
		}
		o.warned = true
		if o.Latest() != nil {
			sys = o.prevSys // total read failure: carry forward the whole prior sample
		}
	} else {
		o.warned = false
		// A successful ReadSystem can still return individual fields at
		// their zero value when one /proc/meminfo key or the /proc/stat
		// cpu line was missing or non-numeric for this tick; spec.md §4.1
		// says to treat that as missing and keep the prior value for that
		// field alone, not zero out everything else that parsed fine.
		sys = mergeZeroSystemFields(sys, o.prevSys)
	}

	clockTicks := o.reader.ClockTicks()
	if clockTicks <= 0 {
		clockTicks = 100
	}

	processes := make(map[int]snapshot.ProcessRecord, len(pids))
	prior := o.Latest()

	for _, pid := range pids {
		sample, err := o.reader.ReadProcess(pid)
		if err != nil {
			continue // vanished between enumeration and read: drop silently
		}
		o.mu.Lock()
		if priorSample, ok := o.prevProc[pid]; ok {
			sample = mergeZeroProcFields(sample, priorSample)
		}
		o.prevProc[pid] = sample
		o.mu.Unlock()

		rec := snapshot.ProcessRecord{
			PID:         pid,
			Name:        sample.Name,
			CommandLine: sample.CommandLine,
			ParentPID:   sample.ParentPID,
			RSSKB:       sample.RSSKB,
			VSZKB:       sample.VSZKB,
			SharedKB:    sample.SharedKB,
			PrivateKB:   sample.PrivateKB,
			MinorFaults: sample.MinFlt,
			MajorFaults: sample.MajFlt,
			NiceValue:   sample.Nice,
			State:       snapshot.State(sample.State),
			FirstSeen:   now,
			LastSeen:    now,
		}
		if prior != nil {
			if old, ok := prior.Processes[pid]; ok {
				rec.FirstSeen = old.FirstSeen
			}
		}

		rec.CPUPercent, rec.GrowthRateKBPerSec = o.deltaMetrics(pid, sample, now, clockTicks)
		rec.IsCritical = o.cfg.CriticalNames[sample.Name]

		processes[pid] = rec
	}

	o.mu.Lock()
	for pid := range o.prev {
		if _, ok := processes[pid]; !ok {
			delete(o.prev, pid)
			delete(o.prevProc, pid)
		}
	}
	o.prevSys = sys
	o.mu.Unlock()

	used := sys.MemTotalKB - sys.MemFreeKB - sys.BuffersKB - sys.CachedKB
	avail := sys.MemFreeKB + sys.BuffersKB + sys.CachedKB
	cpuPct := 0.0
	if sys.CPUTotalJiffies > 0 {
		cpuPct = float64(sys.CPUActiveJiffies) / float64(sys.CPUTotalJiffies) * 100
	}

	next := &snapshot.SystemSnapshot{
		TakenAt:         now,
		Seq:             o.seq.Add(1),
		TraceID:         uuid.New(),
		CPUTotalPercent: cpuPct,
		Load1:           sys.Load1,
		Load5:           sys.Load5,
		Load15:          sys.Load15,
		MemTotalKB:      sys.MemTotalKB,
		MemUsedKB:       used,
		MemAvailableKB:  avail,
		SwapTotalKB:     sys.SwapTotalKB,
		SwapUsedKB:      sys.SwapTotalKB - sys.SwapFreeKB,
		Processes:       processes,
	}
	low := math.Float64frombits(o.lowThreshold.Load())
	critical := math.Float64frombits(o.criticalThreshold.Load())
	next.Pressure = snapshot.ClassifyPressure(next.MemoryUsedPercent(), low, critical)

	o.latest.Store(next)

	if o.bus != nil {
		o.bus.Publish(events.Event{Kind: events.SnapshotTaken, At: now, TraceID: next.TraceID, Seq: next.Seq})
	}

	o.mu.Lock()
	subs := o.subs
	o.mu.Unlock()
	for _, cb := range subs {
		cb(next)
	}
}

// mergeZeroSystemFields fills any memory/CPU field left at its zero value
// by a partially-successful read (a missing /proc/meminfo key, a short
// /proc/stat cpu line) from the prior sample, per spec.md §4.1's "treat
// as missing, keep the prior value for that field" edge case. Load
// averages are left alone: readLoadAvg is already documented
// best-effort and 0 there is as likely to be a real reading as a miss.
func mergeZeroSystemFields(cur, prev kernel.SystemSample) kernel.SystemSample {
	if cur.CPUTotalJiffies == 0 {
		cur.CPUActiveJiffies, cur.CPUTotalJiffies = prev.CPUActiveJiffies, prev.CPUTotalJiffies
	}
	if cur.MemTotalKB == 0 {
		cur.MemTotalKB = prev.MemTotalKB
	}
	if cur.MemFreeKB == 0 {
		cur.MemFreeKB = prev.MemFreeKB
	}
	if cur.MemAvailableKB == 0 {
		cur.MemAvailableKB = prev.MemAvailableKB
	}
	if cur.BuffersKB == 0 {
		cur.BuffersKB = prev.BuffersKB
	}
	if cur.CachedKB == 0 {
		cur.CachedKB = prev.CachedKB
	}
	if cur.SwapTotalKB == 0 {
		cur.SwapTotalKB = prev.SwapTotalKB
	}
	if cur.SwapFreeKB == 0 {
		cur.SwapFreeKB = prev.SwapFreeKB
	}
	return cur
}

// mergeZeroProcFields does the same for a ProcSample: readMemFields
// leaves RSSKB/VSZKB/SharedKB/PrivateKB at zero when /proc/<pid>/statm
// is short or non-numeric, and the /proc/<pid>/stat fault counters do
// the same on a malformed field, all without returning an error.
func mergeZeroProcFields(cur, prev kernel.ProcSample) kernel.ProcSample {
	if cur.UTime == 0 {
		cur.UTime = prev.UTime
	}
	if cur.STime == 0 {
		cur.STime = prev.STime
	}
	if cur.RSSKB == 0 {
		cur.RSSKB = prev.RSSKB
	}
	if cur.VSZKB == 0 {
		cur.VSZKB = prev.VSZKB
	}
	if cur.SharedKB == 0 {
		cur.SharedKB = prev.SharedKB
	}
	if cur.PrivateKB == 0 {
		cur.PrivateKB = prev.PrivateKB
	}
	if cur.MinFlt == 0 {
		cur.MinFlt = prev.MinFlt
	}
	if cur.MajFlt == 0 {
		cur.MajFlt = prev.MajFlt
	}
	return cur
}

// deltaMetrics computes smoothed CPU usage and RSS growth rate from the
// delta against the pid's previous sample, then records the new sample
// for next tick. The first sample for a pid yields 0 for both; a
// non-positive elapsed time (clock skew) is treated as "no delta".
func (o *Observer) deltaMetrics(pid int, sample kernel.ProcSample, now time.Time, clockTicks int) (cpuPercent, growthKBPerSec float64) {
	o.mu.Lock()
	prior, ok := o.prev[pid]
	o.prev[pid] = prevSample{utime: sample.UTime, stime: sample.STime, rssKB: sample.RSSKB, at: now}
	o.mu.Unlock()

	if !ok {
		return 0, 0
	}
	dt := now.Sub(prior.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	deltaJiffies := float64((sample.UTime + sample.STime) - (prior.utime + prior.stime))
	if deltaJiffies >= 0 {
		cpuPercent = deltaJiffies / float64(clockTicks) / dt * 100
		if cpuPercent > 100 {
			cpuPercent = 100
		}
	}

	growthKBPerSec = (float64(sample.RSSKB) - float64(prior.rssKB)) / dt
	return cpuPercent, growthKBPerSec
}

// TopKByRSS returns the k non-critical processes with the highest RSS,
// used by the memory controller's escalation ladder.
func TopKByRSS(snap *snapshot.SystemSnapshot, k int) []snapshot.ProcessRecord {
	if snap == nil || k <= 0 {
		return nil
	}
	candidates := make([]snapshot.ProcessRecord, 0, len(snap.Processes))
	for _, rec := range snap.Processes {
		if rec.IsCritical {
			continue
		}
		candidates = append(candidates, rec)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].RSSKB > candidates[j].RSSKB })
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	return candidates
}
