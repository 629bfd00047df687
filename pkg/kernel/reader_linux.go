//go:build linux

package kernel

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LinuxReader implements Reader against the real /proc filesystem.
// Parsing technique (scan past the last ") " to skip a comm field that
// may itself contain parens/spaces) mirrors the teacher's own
// /proc/<pid>/stat reader.
type LinuxReader struct{}

func NewLinuxReader() *LinuxReader { return &LinuxReader{} }

func (r *LinuxReader) Pids() ([]int, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}
	pids := make([]int, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil {
			continue // not a pid directory
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func (r *LinuxReader) ReadProcess(pid int) (ProcSample, error) {
	stat, err := readStatFields(pid)
	if err != nil {
		return ProcSample{}, err
	}

	s := ProcSample{PID: pid}
	s.Name = stat.comm

	if st := stat.field(0); st != "" { // state
		s.State = st[0]
	}
	if v, err := strconv.Atoi(stat.field(1)); err == nil { // ppid
		s.ParentPID = v
	}
	s.MinFlt, _ = strconv.ParseUint(stat.field(7), 10, 64)
	s.MajFlt, _ = strconv.ParseUint(stat.field(9), 10, 64)
	s.UTime, _ = strconv.ParseUint(stat.field(11), 10, 64)
	s.STime, _ = strconv.ParseUint(stat.field(12), 10, 64)
	if niceStr := stat.field(16); niceStr != "" {
		s.Nice, _ = strconv.Atoi(niceStr)
	}

	if cmdline, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid)); err == nil {
		s.CommandLine = strings.ReplaceAll(strings.Trim(string(cmdline), "\x00"), "\x00", " ")
	}

	readMemFields(pid, &s)

	return s, nil
}

// statFields holds /proc/<pid>/stat split past the comm field. Index 0 of
// raw corresponds to "state" (field 3 overall, since pid and comm are
// fields 1-2 and already stripped).
type statFields struct {
	comm string
	raw  []string
}

func (f statFields) field(idxFromState int) string {
	if idxFromState < 0 || idxFromState >= len(f.raw) {
		return ""
	}
	return f.raw[idxFromState]
}

func readStatFields(pid int) (statFields, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return statFields{}, fmt.Errorf("%w: %v", ErrNoSuchProcess, err)
	}
	return parseStatLine(string(data))
}

// parseStatLine parses one /proc/<pid>/stat line. Split out from
// readStatFields so it can be unit tested without a real /proc.
func parseStatLine(line string) (statFields, error) {
	line = strings.TrimSpace(line)

	open := strings.IndexByte(line, '(')
	closeIdx := strings.LastIndex(line, ") ")
	if open < 0 || closeIdx < 0 || closeIdx < open {
		return statFields{}, ErrMalformedStat
	}
	comm := line[open+1 : strings.LastIndex(line, ")")]
	rest := line[closeIdx+2:]

	return statFields{comm: comm, raw: strings.Fields(rest)}, nil
}

// readMemFields fills RSS/VSZ/Shared from /proc/<pid>/statm (pages: size
// resident shared text lib data dt) and derives Private as RSS minus
// Shared ("Private_Dirty"+"Private_Clean" would need smaps; statm gives a
// cheaper approximation that is good enough for the scheduler/memory
// controller's ranking purposes).
func readMemFields(pid int, s *ProcSample) {
	pageSize := uint64(os.Getpagesize())

	if data, err := os.ReadFile(fmt.Sprintf("/proc/%d/statm", pid)); err == nil {
		fields := strings.Fields(string(data))
		if len(fields) >= 3 {
			if v, err := strconv.ParseUint(fields[0], 10, 64); err == nil {
				s.VSZKB = v * pageSize / 1024
			}
			if v, err := strconv.ParseUint(fields[1], 10, 64); err == nil {
				s.RSSKB = v * pageSize / 1024
			}
			if v, err := strconv.ParseUint(fields[2], 10, 64); err == nil {
				s.SharedKB = v * pageSize / 1024
			}
		}
	}
	if s.RSSKB >= s.SharedKB {
		s.PrivateKB = s.RSSKB - s.SharedKB
	}
}

func (r *LinuxReader) ReadSystem() (SystemSample, error) {
	var sample SystemSample

	if err := readCPULine(&sample); err != nil {
		return sample, err
	}
	if err := readLoadAvg(&sample); err != nil {
		return sample, err
	}
	if err := readMemInfo(&sample); err != nil {
		return sample, err
	}
	return sample, nil
}

func readCPULine(s *SystemSample) error {
	f, err := os.Open("/proc/stat")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadableSystemMemory, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != "cpu" {
			continue
		}
		if len(fields) < 8 {
			return ErrNoCPULine
		}
		var vals []uint64
		for _, str := range fields[1:] {
			v, _ := strconv.ParseUint(str, 10, 64)
			vals = append(vals, v)
		}
		active := vals[0] + vals[1] + vals[2] + vals[5] + vals[6] + vals[7]
		total := active + vals[3] + vals[4]
		s.CPUActiveJiffies = active
		s.CPUTotalJiffies = total
		return nil
	}
	return ErrNoCPULine
}

func readLoadAvg(s *SystemSample) error {
	data, err := os.ReadFile("/proc/loadavg")
	if err != nil {
		return nil // loadavg is best-effort, not fatal
	}
	fields := strings.Fields(string(data))
	if len(fields) < 3 {
		return nil
	}
	s.Load1, _ = strconv.ParseFloat(fields[0], 64)
	s.Load5, _ = strconv.ParseFloat(fields[1], 64)
	s.Load15, _ = strconv.ParseFloat(fields[2], 64)
	return nil
}

func readMemInfo(s *SystemSample) error {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnreadableSystemMemory, err)
	}
	defer f.Close()

	vals := map[string]uint64{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		rest := strings.Fields(strings.TrimSpace(line[idx+1:]))
		if len(rest) == 0 {
			continue
		}
		v, err := strconv.ParseUint(rest[0], 10, 64)
		if err != nil {
			continue
		}
		vals[key] = v
	}

	s.MemTotalKB = vals["MemTotal"]
	s.MemFreeKB = vals["MemFree"]
	s.MemAvailableKB = vals["MemAvailable"]
	s.BuffersKB = vals["Buffers"]
	s.CachedKB = vals["Cached"]
	s.SwapTotalKB = vals["SwapTotal"]
	s.SwapFreeKB = vals["SwapFree"]
	return nil
}

func (r *LinuxReader) Signal0(pid int) bool {
	return signal0(pid)
}

func (r *LinuxReader) ClockTicks() int {
	if v, _ := strconv.Atoi(os.Getenv("CLK_TCK")); v > 0 {
		return v
	}
	return 100
}

func (r *LinuxReader) PageSize() int {
	return os.Getpagesize()
}
