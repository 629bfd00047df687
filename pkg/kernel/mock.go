package kernel

import (
	"sort"
	"sync"
	"time"
)

// Mock is an in-memory fake of both Reader and Actuator, grounded on the
// "real implementation and a mock satisfy the same port" pattern: tests
// seed it with ProcSample/SystemSample values and then assert on what
// actuation calls it recorded, without touching a real /proc or /sys.
type Mock struct {
	mu sync.Mutex

	processes map[int]ProcSample
	system    SystemSample
	alive     map[int]bool

	clockTicks int
	pageSize   int

	governor    string
	turbo       bool
	brightness  int
	caches      []CacheKind
	compacted   int
	battery     BatteryStatus
	hasBattery  bool
	tempC       float64
	hasTemp     bool
	services    map[string]bool

	// Actuation log, inspected by tests.
	SetNiceCalls     []MockNiceCall
	PauseCalls       []int
	ResumeCalls      []int
	TerminateCalls   []int
	FailSetGovernor  error
	FailDropCaches   error
	FailCompact      error
	DeniedPIDs       map[int]bool
}

type MockNiceCall struct {
	PID  int
	Nice int
}

func NewMock() *Mock {
	return &Mock{
		processes:  make(map[int]ProcSample),
		alive:      make(map[int]bool),
		clockTicks: 100,
		pageSize:   4096,
		governor:   "ondemand",
		services:   make(map[string]bool),
		DeniedPIDs: make(map[int]bool),
	}
}

// --- seeding helpers (test-only API) ---

func (m *Mock) SetProcess(p ProcSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processes[p.PID] = p
	m.alive[p.PID] = true
}

func (m *Mock) RemoveProcess(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.processes, pid)
	m.alive[pid] = false
}

func (m *Mock) SetSystem(s SystemSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.system = s
}

func (m *Mock) SetBattery(status BatteryStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.battery = status
	m.hasBattery = true
}

func (m *Mock) SetTemperatureC(c float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tempC = c
	m.hasTemp = true
}

func (m *Mock) Governor() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.governor
}

// --- Reader ---

func (m *Mock) Pids() ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pids := make([]int, 0, len(m.processes))
	for pid := range m.processes {
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

func (m *Mock) ReadProcess(pid int) (ProcSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.processes[pid]
	if !ok {
		return ProcSample{}, ErrNoSuchProcess
	}
	return p, nil
}

func (m *Mock) ReadSystem() (SystemSample, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.system, nil
}

func (m *Mock) Signal0(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alive[pid]
}

func (m *Mock) ClockTicks() int { return m.clockTicks }
func (m *Mock) PageSize() int   { return m.pageSize }

// --- Actuator ---

func (m *Mock) SetNice(pid, nice int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive[pid] {
		return ErrNoSuchProcess
	}
	nice = clampNiceMock(nice)
	m.SetNiceCalls = append(m.SetNiceCalls, MockNiceCall{PID: pid, Nice: nice})
	p := m.processes[pid]
	p.Nice = nice
	m.processes[pid] = p
	return nil
}

func clampNiceMock(n int) int {
	if n < -20 {
		return -20
	}
	if n > 19 {
		return 19
	}
	return n
}

func (m *Mock) Pause(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive[pid] {
		return ErrNoSuchProcess
	}
	m.PauseCalls = append(m.PauseCalls, pid)
	p := m.processes[pid]
	p.State = 'T'
	m.processes[pid] = p
	return nil
}

func (m *Mock) Resume(pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive[pid] {
		return ErrNoSuchProcess
	}
	m.ResumeCalls = append(m.ResumeCalls, pid)
	p := m.processes[pid]
	p.State = 'S'
	m.processes[pid] = p
	return nil
}

func (m *Mock) Terminate(pid int, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.alive[pid] {
		return ErrNoSuchProcess
	}
	m.TerminateCalls = append(m.TerminateCalls, pid)
	delete(m.processes, pid)
	m.alive[pid] = false
	return nil
}

func (m *Mock) CanModify(pid int, critical bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if critical {
		return false
	}
	return !m.DeniedPIDs[pid]
}

func (m *Mock) SetCPUGovernor(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSetGovernor != nil {
		return m.FailSetGovernor
	}
	m.governor = name
	return nil
}

func (m *Mock) GetCPUGovernor() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.governor, nil
}

func (m *Mock) SetCPUTurbo(enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turbo = enabled
	return nil
}

func (m *Mock) SetBrightnessPercent(percent int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.brightness = percent
	return nil
}

func (m *Mock) RunService(name string, start bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[name] = start
	return nil
}

func (m *Mock) DropCaches(kind CacheKind) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailDropCaches != nil {
		return m.FailDropCaches
	}
	m.caches = append(m.caches, kind)
	return nil
}

func (m *Mock) CompactMemory() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailCompact != nil {
		return m.FailCompact
	}
	m.compacted++
	return nil
}

func (m *Mock) ReadBattery() (BatteryStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.battery, m.hasBattery
}

func (m *Mock) ReadTemperatureC() (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tempC, m.hasTemp
}
