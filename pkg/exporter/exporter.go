// Package exporter is the JSON/CSV/HTML performance exporter spec.md §1
// lists as an external collaborator. It appends one Row per observer
// tick to a CSV file, a streaming JSON array, and an in-memory buffer
// used for the optional end-of-run HTML summary and the live terminal
// table — the same three-output shape as the teacher's own
// cmd/consumption/main.go, adapted to export scheduler/memory/mode rows
// instead of power rows.
package exporter

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/kavalan/resctl/pkg/byteunit"
	"github.com/kavalan/resctl/pkg/mode"
	"github.com/kavalan/resctl/pkg/scheduler"
	"github.com/kavalan/resctl/pkg/snapshot"
)

// Row is one tick's worth of exported state: a snapshot summary joined
// with the scheduler's stats and the mode controller's current posture.
type Row struct {
	At               time.Time              `json:"time"`
	Seq              uint64                 `json:"seq"`
	CPUTotalPercent  float64                `json:"cpu_total_percent"`
	MemUsedPercent   float64                `json:"mem_used_percent"`
	MemUsedKB        byteunit.KB            `json:"mem_used_kb"`
	MemAvailableKB   byteunit.KB            `json:"mem_available_kb"`
	Pressure         snapshot.MemoryPressure `json:"pressure"`
	Mode             mode.Mode              `json:"mode"`
	Algorithm        scheduler.Algorithm    `json:"algorithm"`
	ActiveProcesses  int                    `json:"active_processes"`
	ContextSwitches  int                    `json:"context_switches"`
	Preemptions      int                    `json:"preemptions"`
	StarvationBoosts int                    `json:"starvation_boosts"`
}

// RowFrom builds a Row from the live state of the four core components,
// the way a caller wires the exporter up from an observer subscription.
func RowFrom(snap *snapshot.SystemSnapshot, stats scheduler.SchedulingStats, pressure snapshot.MemoryPressure, current mode.Mode) Row {
	r := Row{
		Algorithm:        stats.Algorithm,
		ActiveProcesses:  stats.ActiveProcesses,
		ContextSwitches:  stats.ContextSwitches,
		Preemptions:      stats.Preemptions,
		StarvationBoosts: stats.StarvationBoosts,
		Pressure:         pressure,
		Mode:             current,
	}
	if snap != nil {
		r.At = snap.TakenAt
		r.Seq = snap.Seq
		r.CPUTotalPercent = snap.CPUTotalPercent
		r.MemUsedPercent = snap.MemoryUsedPercent()
		r.MemUsedKB = byteunit.KB(snap.MemUsedKB)
		r.MemAvailableKB = byteunit.KB(snap.MemAvailableKB)
	}
	return r
}

// Config tunes a Writer at construction. Every path is optional; an
// empty path disables that output, matching the teacher's main.go
// (--csv/--json/--html all default to "").
type Config struct {
	CSVPath  string
	JSONPath string
	HTMLPath string
	// LiveTable, when true, prints a tabwriter-aligned row to Stdout on
	// every Append, the teacher's "pretty" mode.
	LiveTable bool
}

// Writer appends Rows to the configured outputs as they arrive, and
// finalizes the JSON array / HTML summary on Close.
type Writer struct {
	cfg Config

	csvF *os.File
	csvW *csv.Writer

	jsonF   *os.File
	wroteJN int

	tw *tabwriter.Writer

	rows []Row
}

// New opens the configured output files and, for LiveTable, prints the
// table header immediately.
func New(cfg Config) (*Writer, error) {
	w := &Writer{cfg: cfg}

	if cfg.CSVPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.CSVPath), 0o755); err != nil {
			return nil, fmt.Errorf("exporter: mkdir for csv: %w", err)
		}
		f, err := os.Create(cfg.CSVPath)
		if err != nil {
			return nil, fmt.Errorf("exporter: create csv: %w", err)
		}
		w.csvF = f
		w.csvW = csv.NewWriter(f)
		_ = w.csvW.Write([]string{
			"time", "seq", "cpu_total_percent", "mem_used_percent", "mem_used_kb",
			"mem_available_kb", "pressure", "mode", "algorithm", "active_processes",
			"context_switches", "preemptions", "starvation_boosts",
		})
		w.csvW.Flush()
	}

	if cfg.JSONPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.JSONPath), 0o755); err != nil {
			return nil, fmt.Errorf("exporter: mkdir for json: %w", err)
		}
		f, err := os.Create(cfg.JSONPath)
		if err != nil {
			return nil, fmt.Errorf("exporter: create json: %w", err)
		}
		w.jsonF = f
		_, _ = w.jsonF.WriteString("[\n")
	}

	if cfg.LiveTable {
		w.tw = tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w.tw, "TIME\tSEQ\tCPU%\tMEM%\tPRESSURE\tMODE\tALG\tPROCS\tCTXSW\tPREEMPT\tBOOSTS")
		w.tw.Flush()
	}

	return w, nil
}

// Append writes r to every configured output. CSV, JSON and the live
// table are written immediately (the JSON array's closing bracket is
// written by Close); HTML is buffered until Close.
func (w *Writer) Append(r Row) {
	w.rows = append(w.rows, r)

	if w.csvW != nil {
		_ = w.csvW.Write([]string{
			r.At.Format(time.RFC3339), strconv.FormatUint(r.Seq, 10),
			strconv.FormatFloat(r.CPUTotalPercent, 'f', 2, 64),
			strconv.FormatFloat(r.MemUsedPercent, 'f', 2, 64),
			strconv.FormatUint(uint64(r.MemUsedKB), 10),
			strconv.FormatUint(uint64(r.MemAvailableKB), 10),
			string(r.Pressure), string(r.Mode), string(r.Algorithm),
			strconv.Itoa(r.ActiveProcesses), strconv.Itoa(r.ContextSwitches),
			strconv.Itoa(r.Preemptions), strconv.Itoa(r.StarvationBoosts),
		})
		w.csvW.Flush()
	}

	if w.jsonF != nil {
		b, _ := json.MarshalIndent(r, "  ", "  ")
		if w.wroteJN > 0 {
			_, _ = w.jsonF.WriteString(",\n")
		}
		_, _ = w.jsonF.Write(b)
		w.wroteJN++
	}

	if w.tw != nil {
		fmt.Fprintf(w.tw, "%s\t%d\t%.1f\t%.1f\t%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			r.At.Format("15:04:05"), r.Seq, r.CPUTotalPercent, r.MemUsedPercent,
			r.Pressure, r.Mode, r.Algorithm, r.ActiveProcesses,
			r.ContextSwitches, r.Preemptions, r.StarvationBoosts)
		w.tw.Flush()
	}
}

// Close finalizes the JSON array and, if an HTML path was configured,
// renders the buffered rows into an end-of-run summary document.
func (w *Writer) Close() error {
	if w.csvW != nil {
		w.csvW.Flush()
	}
	if w.csvF != nil {
		_ = w.csvF.Close()
	}
	if w.jsonF != nil {
		_, _ = w.jsonF.WriteString("\n]\n")
		_ = w.jsonF.Close()
	}
	if w.cfg.HTMLPath != "" {
		if err := w.writeHTML(); err != nil {
			return fmt.Errorf("exporter: write html: %w", err)
		}
	}
	return nil
}

func (w *Writer) writeHTML() error {
	if err := os.MkdirAll(filepath.Dir(w.cfg.HTMLPath), 0o755); err != nil {
		return err
	}
	f, err := os.Create(w.cfg.HTMLPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var buf bytes.Buffer
	if err := htmlTpl.Execute(&buf, struct{ Rows []Row }{Rows: w.rows}); err != nil {
		return err
	}
	_, err = f.Write(buf.Bytes())
	return err
}

var htmlTpl = template.Must(template.New("rep").Parse(`<!doctype html>
<html lang="en"><meta charset="utf-8">
<title>resctl report</title>
<style>
body{font-family:system-ui,Segoe UI,Roboto,Helvetica,Arial,sans-serif;margin:20px}
h1,h2{margin:0 0 8px}
table{border-collapse:collapse;width:100%;font-size:14px}
th,td{border:1px solid #ddd;padding:6px 8px;text-align:right}
th:first-child,td:first-child{text-align:left}
.small{color:#555}
</style>
<h1>resctl report</h1>
<p class="small">Rows: {{len .Rows}}</p>
<table>
<thead><tr>
<th>time</th><th>seq</th><th>cpu%</th><th>mem%</th><th>pressure</th><th>mode</th>
<th>algorithm</th><th>procs</th><th>ctxsw</th><th>preempt</th><th>boosts</th>
</tr></thead>
<tbody>
{{range .Rows}}
<tr>
<td style="text-align:left">{{.At.Format "2006-01-02 15:04:05"}}</td>
<td>{{.Seq}}</td>
<td>{{printf "%.1f" .CPUTotalPercent}}</td>
<td>{{printf "%.1f" .MemUsedPercent}}</td>
<td>{{.Pressure}}</td>
<td>{{.Mode}}</td>
<td>{{.Algorithm}}</td>
<td>{{.ActiveProcesses}}</td>
<td>{{.ContextSwitches}}</td>
<td>{{.Preemptions}}</td>
<td>{{.StarvationBoosts}}</td>
</tr>
{{end}}
</tbody>
</table>
</html>`))
