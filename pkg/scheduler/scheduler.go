package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/kernel"
	"github.com/kavalan/resctl/pkg/snapshot"
)

// Config tunes a Scheduler at construction.
type Config struct {
	Algorithm           Algorithm
	DefaultSliceMS      int
	StarvationThreshold time.Duration
	Patterns            NamePatterns
	PriorityBoosting    bool
}

// DefaultConfig matches spec.md §4.2's defaults.
func DefaultConfig() Config {
	return Config{
		Algorithm:           Priority,
		DefaultSliceMS:      100,
		StarvationThreshold: DefaultStarvation,
		Patterns:            DefaultNamePatterns(),
		PriorityBoosting:    true,
	}
}

// Scheduler is the policy engine: owns its ScheduledProcess map and
// algorithm queues behind a single mutex (spec.md §5); every other
// component only ever reads Statistics() or triggers SetAlgorithm etc.
type Scheduler struct {
	actuator kernel.Actuator
	bus      *events.Bus

	mu                  sync.Mutex
	processes           map[int]*ScheduledProcess
	algorithm           Algorithm
	defaultSliceMS      int
	starvationThreshold time.Duration
	patterns            NamePatterns
	priorityBoosting    bool
	classTuning         map[snapshot.ProcessClass]ClassTuning

	rrQueue     []int
	mlfqQueues  [QueueLevels][]int
	realtime    map[int]int // pid -> realtime priority, highest wins
	insertSeq   int
	currentPID  int
	haveCurrent bool

	stats SchedulingStats
}

// New constructs a Scheduler. actuator/bus may not be nil in production;
// tests may pass a kernel.Mock and nil bus.
func New(cfg Config, actuator kernel.Actuator, bus *events.Bus) *Scheduler {
	if cfg.DefaultSliceMS <= 0 {
		cfg.DefaultSliceMS = 100
	}
	if cfg.StarvationThreshold <= 0 {
		cfg.StarvationThreshold = DefaultStarvation
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = Priority
	}
	return &Scheduler{
		actuator:            actuator,
		bus:                 bus,
		processes:           make(map[int]*ScheduledProcess),
		algorithm:           cfg.Algorithm,
		defaultSliceMS:      clampSlice(cfg.DefaultSliceMS),
		starvationThreshold: cfg.StarvationThreshold,
		patterns:            cfg.Patterns,
		priorityBoosting:    cfg.PriorityBoosting,
		classTuning:         make(map[snapshot.ProcessClass]ClassTuning),
		realtime:            make(map[int]int),
		stats:               SchedulingStats{Algorithm: cfg.Algorithm},
	}
}

// SetAlgorithm atomically switches the active algorithm, clearing
// algorithm-specific queues and re-enrolling every known pid into the
// new algorithm's structures.
func (s *Scheduler) SetAlgorithm(alg Algorithm) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.algorithm = alg
	s.rrQueue = nil
	for i := range s.mlfqQueues {
		s.mlfqQueues[i] = nil
	}
	for _, pid := range s.sortedPIDsLocked() {
		s.enqueueLocked(pid)
	}
	s.stats.Algorithm = alg
}

// SetDefaultSlice clamps ms to [MinSliceMS, MaxSliceMS] and sets it as
// the slice newly registered processes receive.
func (s *Scheduler) SetDefaultSlice(ms int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defaultSliceMS = clampSlice(ms)
}

// DefaultSlice returns the slice (ms) newly registered processes receive,
// used by the mode controller to snapshot prior state before an apply.
func (s *Scheduler) DefaultSlice() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaultSliceMS
}

// Algorithm returns the currently active algorithm.
func (s *Scheduler) Algorithm() Algorithm {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.algorithm
}

// SetAlgorithmForClass overrides algorithm/slice/nice bounds for one
// ProcessClass. Scheduling selection itself always uses the
// engine-global algorithm (spec.md: "exactly one is active at a time");
// per-class tuning governs slice and nice clamping for that class.
func (s *Scheduler) SetAlgorithmForClass(class snapshot.ProcessClass, tuning ClassTuning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.classTuning[class] = tuning
}

// SetRealtimePriority installs/updates pid in the real-time override
// set; a realtime pid always preempts algorithmic selection, highest
// priority wins. A negative priority removes pid from the set.
func (s *Scheduler) SetRealtimePriority(pid, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if priority < 0 {
		delete(s.realtime, pid)
		return
	}
	s.realtime[pid] = priority
}

// Register adds pid to the scheduler, classifying it from rec. Idempotent.
func (s *Scheduler) Register(pid int, rec snapshot.ProcessRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.processes[pid]; ok {
		return
	}
	sp := &ScheduledProcess{
		PID:             pid,
		Class:           Classify(rec, s.patterns),
		BaseNice:        rec.NiceValue,
		DynamicPriority: rec.NiceValue,
		TimeSliceMS:     s.sliceForClassLocked(Classify(rec, s.patterns)),
		QueueLevel:      0,
		LastScheduledAt: time.Now(),
		registeredAt:    time.Now(),
		fifoIndex:       s.insertSeq,
	}
	s.insertSeq++
	s.processes[pid] = sp
	s.enqueueLocked(pid)
}

// Unregister removes pid from scheduler state and every queue.
// Idempotent.
func (s *Scheduler) Unregister(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregisterLocked(pid)
}

func (s *Scheduler) unregisterLocked(pid int) {
	delete(s.processes, pid)
	delete(s.realtime, pid)
	s.rrQueue = removePID(s.rrQueue, pid)
	for i := range s.mlfqQueues {
		s.mlfqQueues[i] = removePID(s.mlfqQueues[i], pid)
	}
}

func removePID(q []int, pid int) []int {
	out := q[:0]
	for _, p := range q {
		if p != pid {
			out = append(out, p)
		}
	}
	return out
}

func (s *Scheduler) sliceForClassLocked(class snapshot.ProcessClass) int {
	if t, ok := s.classTuning[class]; ok && t.SliceMS > 0 {
		return clampSlice(t.SliceMS)
	}
	return s.defaultSliceMS
}

func (s *Scheduler) niceBoundsLocked(class snapshot.ProcessClass) (min, max int) {
	if t, ok := s.classTuning[class]; ok && (t.NiceMin != 0 || t.NiceMax != 0) {
		return t.NiceMin, t.NiceMax
	}
	return -20, 19
}

func (s *Scheduler) enqueueLocked(pid int) {
	switch s.algorithm {
	case RoundRobin:
		s.rrQueue = append(s.rrQueue, pid)
	case MultilevelFeedback:
		sp, ok := s.processes[pid]
		level := 0
		if ok {
			level = sp.QueueLevel
		}
		s.mlfqQueues[level] = append(s.mlfqQueues[level], pid)
	}
	// Priority and CompletelyFair have no explicit queue: selection scans
	// the process map directly.
}

func (s *Scheduler) sortedPIDsLocked() []int {
	pids := make([]int, 0, len(s.processes))
	for pid := range s.processes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids
}

// Statistics returns a read-only snapshot of scheduling counters.
func (s *Scheduler) Statistics() SchedulingStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats
	st.ActiveProcesses = len(s.processes)
	return st
}

// Tick runs one scheduling tick against the observer's latest snapshot:
// reconciles registration, classifies, computes dynamic priority, ages
// starved processes, selects the next favored process, and actuates its
// nice value. snap may be nil (nothing sampled yet), in which case the
// tick is a no-op.
func (s *Scheduler) Tick(snap *snapshot.SystemSnapshot) {
	if snap == nil {
		return
	}

	s.mu.Lock()
	s.reconcileLocked(snap)
	s.classifyAndPrioritizeLocked(snap)
	boosted := s.ageLocked()
	s.adaptSlicesLocked(snap.CPUTotalPercent)
	selected, hadCurrent, preempted := s.selectLocked()
	s.recordSelectionLocked(selected, hadCurrent, preempted)
	s.stats.CPUUtilPercent = snap.CPUTotalPercent
	actuatePID := selected
	var niceTarget int
	if sp, ok := s.processes[actuatePID]; ok {
		niceTarget = PriorityToNice(sp.DynamicPriority)
		min, max := s.niceBoundsLocked(sp.Class)
		if niceTarget < min {
			niceTarget = min
		}
		if niceTarget > max {
			niceTarget = max
		}
	}
	s.mu.Unlock()

	for _, pid := range boosted {
		s.publish(events.Event{Kind: events.StarvationBoosted, At: time.Now(), BoostedPID: pid})
	}

	if actuatePID != 0 {
		s.actuateNice(actuatePID, niceTarget)
	}
}

func (s *Scheduler) reconcileLocked(snap *snapshot.SystemSnapshot) {
	for pid, rec := range snap.Processes {
		if _, ok := s.processes[pid]; !ok {
			sp := &ScheduledProcess{
				PID:             pid,
				Class:           Classify(rec, s.patterns),
				BaseNice:        rec.NiceValue,
				DynamicPriority: rec.NiceValue,
				TimeSliceMS:     s.sliceForClassLocked(Classify(rec, s.patterns)),
				LastScheduledAt: time.Now(),
				registeredAt:    time.Now(),
				fifoIndex:       s.insertSeq,
			}
			s.insertSeq++
			s.processes[pid] = sp
			s.enqueueLocked(pid)
		}
	}
	for pid := range s.processes {
		if _, ok := snap.Processes[pid]; !ok {
			s.unregisterLocked(pid)
		}
	}
}

func (s *Scheduler) classifyAndPrioritizeLocked(snap *snapshot.SystemSnapshot) {
	now := time.Now()
	for pid, sp := range s.processes {
		rec, ok := snap.Processes[pid]
		if !ok {
			continue
		}
		sp.Class = Classify(rec, s.patterns)
		sp.pushCPUSample(rec.CPUPercent)

		wait := now.Sub(sp.LastScheduledAt)
		priority := sp.BaseNice
		if sp.Class == snapshot.Interactive {
			priority += 5
		}
		if rec.CPUPercent > 80 {
			priority -= 3
		}
		if wait > s.starvationThreshold {
			priority += 10
		}
		sp.DynamicPriority = priority
	}
}

// ageLocked applies spec.md §4.2's anti-starvation rule independently of
// the dynamic-priority formula's own starvation term: any process whose
// wait has crossed the threshold gets a +5 boost, clamped to 19, exactly
// once per crossing. The boost applies to this tick's selection; the next
// tick recomputes DynamicPriority from the formula. Returns the pids
// boosted this tick.
func (s *Scheduler) ageLocked() []int {
	now := time.Now()
	var boosted []int
	for pid, sp := range s.processes {
		if now.Sub(sp.LastScheduledAt) > s.starvationThreshold {
			if sp.DynamicPriority < 19 {
				sp.DynamicPriority += 5
				if sp.DynamicPriority > 19 {
					sp.DynamicPriority = 19
				}
				boosted = append(boosted, pid)
				s.stats.StarvationBoosts++
			}
			// Reset the clock so the next boost waits a full threshold
			// again, rather than firing every tick while still unscheduled.
			sp.LastScheduledAt = now
		}
	}
	return boosted
}

// adaptSlicesLocked implements spec.md §4.2's adaptive behavior: under
// system CPU > 80%, every non-real-time process's slice shrinks by 0.8x,
// bounded by MinSliceMS.
func (s *Scheduler) adaptSlicesLocked(cpuTotalPercent float64) {
	if cpuTotalPercent <= 80 {
		return
	}
	for pid, sp := range s.processes {
		if _, rt := s.realtime[pid]; rt {
			continue
		}
		sp.TimeSliceMS = clampSlice(int(float64(sp.TimeSliceMS) * 0.8))
	}
}

// selectLocked picks the next favored process per the active algorithm,
// with the real-time set always preempting. Returns the selected pid (0
// if none), whether a process was previously running, and whether the
// newly selected pid differs from it (a preemption candidate).
func (s *Scheduler) selectLocked() (selected int, hadCurrent bool, changed bool) {
	if pid, ok := s.selectRealtimeLocked(); ok {
		return s.finishSelectLocked(pid)
	}

	switch s.algorithm {
	case RoundRobin:
		return s.finishSelectLocked(s.selectRoundRobinLocked())
	case MultilevelFeedback:
		return s.finishSelectLocked(s.selectMLFQLocked())
	case CompletelyFair:
		return s.finishSelectLocked(s.selectCFSLocked())
	default: // Priority
		return s.finishSelectLocked(s.selectPriorityLocked())
	}
}

func (s *Scheduler) finishSelectLocked(pid int) (int, bool, bool) {
	hadCurrent := s.haveCurrent
	changed := !hadCurrent || pid != s.currentPID
	return pid, hadCurrent, changed
}

func (s *Scheduler) selectRealtimeLocked() (int, bool) {
	if len(s.realtime) == 0 {
		return 0, false
	}
	best, bestPriority := 0, -1<<31
	for pid, pr := range s.realtime {
		if _, alive := s.processes[pid]; !alive {
			continue
		}
		if pr > bestPriority {
			best, bestPriority = pid, pr
		}
	}
	if best == 0 {
		return 0, false
	}
	return best, true
}

// selectPriorityLocked picks the process maximizing DynamicPriority,
// ties broken by least-recently-scheduled.
func (s *Scheduler) selectPriorityLocked() int {
	best := 0
	var bestSP *ScheduledProcess
	for pid, sp := range s.processes {
		if bestSP == nil ||
			sp.DynamicPriority > bestSP.DynamicPriority ||
			(sp.DynamicPriority == bestSP.DynamicPriority && sp.LastScheduledAt.Before(bestSP.LastScheduledAt)) {
			best, bestSP = pid, sp
		}
	}
	return best
}

func (s *Scheduler) selectRoundRobinLocked() int {
	for len(s.rrQueue) > 0 {
		pid := s.rrQueue[0]
		s.rrQueue = s.rrQueue[1:]
		if _, ok := s.processes[pid]; !ok {
			continue // dropped since enqueue
		}
		s.rrQueue = append(s.rrQueue, pid)
		return pid
	}
	return 0
}

// selectMLFQLocked picks the head of the lowest-index nonempty queue; a
// process scheduled more than 3*(level+1) times is demoted one level
// (bounded by Q-1), otherwise requeued at the same level.
func (s *Scheduler) selectMLFQLocked() int {
	for level := 0; level < QueueLevels; level++ {
		q := s.mlfqQueues[level]
		for len(q) > 0 {
			pid := q[0]
			q = q[1:]
			sp, ok := s.processes[pid]
			if !ok {
				continue
			}
			nextLevel := level
			if sp.ScheduleCount > 3*(level+1) {
				nextLevel = level + 1
				if nextLevel > QueueLevels-1 {
					nextLevel = QueueLevels - 1
				}
				sp.QueueLevel = nextLevel
				sp.ScheduleCount = 0
			}
			s.mlfqQueues[level] = q
			s.mlfqQueues[nextLevel] = append(s.mlfqQueues[nextLevel], pid)
			return pid
		}
		s.mlfqQueues[level] = q
	}
	return 0
}

// selectCFSLocked picks the process minimizing VirtualRuntime, then
// charges it per spec.md §4.2's formula using the real elapsed cpu
// sample (not a hypothetical full slice — spec.md §9's resolved open
// question on preempted virtual-runtime credit).
func (s *Scheduler) selectCFSLocked() int {
	best := 0
	var bestSP *ScheduledProcess
	for pid, sp := range s.processes {
		if bestSP == nil || sp.VirtualRuntime < bestSP.VirtualRuntime {
			best, bestSP = pid, sp
		}
	}
	if bestSP == nil {
		return 0
	}
	cpu := 0.0
	if len(bestSP.CPUHistory) > 0 {
		cpu = bestSP.CPUHistory[len(bestSP.CPUHistory)-1]
	}
	bestSP.VirtualRuntime += cpu * 0.1 * cfsWeight(bestSP.BaseNice)
	return best
}

// recordSelectionLocked updates ScheduleCount/PreemptionCount/context
// switch counters and advances LastScheduledAt for the selected pid.
func (s *Scheduler) recordSelectionLocked(selected int, hadCurrent, changed bool) {
	if selected == 0 {
		return
	}
	if changed {
		s.stats.ContextSwitches++
		if hadCurrent {
			if prev, ok := s.processes[s.currentPID]; ok {
				elapsed := time.Since(prev.LastScheduledAt)
				if elapsed.Milliseconds() < int64(prev.TimeSliceMS) {
					prev.PreemptionCount++
					s.stats.Preemptions++
				}
			}
		}
	}
	s.currentPID = selected
	s.haveCurrent = true
	if sp, ok := s.processes[selected]; ok {
		sp.ScheduleCount++
		sp.LastScheduledAt = time.Now()
	}
}

func (s *Scheduler) actuateNice(pid, nice int) {
	err := s.actuator.SetNice(pid, nice)
	s.publish(events.Event{
		Kind: events.ProcessAction, At: time.Now(),
		PID: pid, Action: events.ActionSetPriority, Succeeded: err == nil, Cause: err,
	})
}

func (s *Scheduler) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}
