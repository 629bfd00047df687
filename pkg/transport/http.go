// Package transport provides the optional, core-agnostic consumers of
// the event bus: an HTTP surface (go-chi/chi + prometheus/client_golang)
// and a websocket event stream (gorilla/websocket). Neither is the
// terminal dashboard UI spec.md §1 excludes — no rendering, no input
// loop, just JSON/metrics/event fan-out. The core never imports this
// package; it is wired from cmd/resctl only.
package transport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kavalan/resctl/pkg/mode"
	"github.com/kavalan/resctl/pkg/scheduler"
	"github.com/kavalan/resctl/pkg/snapshot"
)

// SnapshotSource is the read side an HTTP server needs from the observer.
type SnapshotSource interface {
	Latest() *snapshot.SystemSnapshot
}

// StatsSource is the read side an HTTP server needs from the scheduler.
type StatsSource interface {
	Statistics() scheduler.SchedulingStats
}

// PressureSource is the read side an HTTP server needs from the memory
// controller.
type PressureSource interface {
	LastLevel() snapshot.MemoryPressure
}

// ModeSource is the read side an HTTP server needs from the mode
// controller.
type ModeSource interface {
	CurrentMode() mode.Mode
}

// pressureGaugeValue maps a MemoryPressure label onto an ordinal for the
// resctl_memory_pressure gauge (0=low .. 3=critical).
func pressureGaugeValue(p snapshot.MemoryPressure) float64 {
	switch p {
	case snapshot.PressureMedium:
		return 1
	case snapshot.PressureHigh:
		return 2
	case snapshot.PressureCritical:
		return 3
	default:
		return 0
	}
}

// metrics is the fixed set of Prometheus collectors the /metrics
// endpoint exposes, registered against a private registry so multiple
// HTTP servers in the same process (e.g. in tests) never collide on the
// default global one.
type metrics struct {
	registry         *prometheus.Registry
	contextSwitches  prometheus.Gauge
	preemptions      prometheus.Gauge
	activeProcesses  prometheus.Gauge
	starvationBoosts prometheus.Gauge
	memoryPressure   prometheus.Gauge
	modeSwitches     prometheus.Counter
}

func newMetrics() *metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &metrics{
		registry: reg,
		contextSwitches: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resctl_context_switches_total", Help: "Scheduler context switches observed so far.",
		}),
		preemptions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resctl_preemptions_total", Help: "Scheduler preemptions observed so far.",
		}),
		activeProcesses: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resctl_active_processes", Help: "Processes currently tracked by the scheduler.",
		}),
		starvationBoosts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resctl_starvation_boosts_total", Help: "Anti-starvation priority boosts applied so far.",
		}),
		memoryPressure: factory.NewGauge(prometheus.GaugeOpts{
			Name: "resctl_memory_pressure", Help: "Current memory pressure level: 0=low 1=medium 2=high 3=critical.",
		}),
		modeSwitches: factory.NewCounter(prometheus.CounterOpts{
			Name: "resctl_mode_switches_total", Help: "Successful mode switches observed via ModeChanged events.",
		}),
	}
}

// HTTP is the chi-routed read-only status/metrics surface.
type HTTP struct {
	router    chi.Router
	snapshots SnapshotSource
	stats     StatsSource
	pressure  PressureSource
	modes     ModeSource
	metrics   *metrics
}

// NewHTTP builds the router with /healthz, /snapshot, /stats and
// /metrics registered. sources may be nil in tests that only exercise a
// subset of endpoints.
func NewHTTP(snapshots SnapshotSource, stats StatsSource, pressure PressureSource, modes ModeSource) *HTTP {
	h := &HTTP{
		snapshots: snapshots,
		stats:     stats,
		pressure:  pressure,
		modes:     modes,
		metrics:   newMetrics(),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", h.handleHealthz)
	r.Get("/snapshot", h.handleSnapshot)
	r.Get("/stats", h.handleStats)
	r.Handle("/metrics", h.handleMetrics())
	h.router = r
	return h
}

// Handler returns the http.Handler to mount (e.g. on an *http.Server).
func (h *HTTP) Handler() http.Handler { return h.router }

// OnModeChanged increments the mode-switch counter. It is called from an
// events.Bus subscriber on every ModeChanged event, since the bus, not
// polling, is the authoritative source of "did a switch just happen."
// The gauges are refreshed separately on each /metrics and /stats request
// (refreshGauges).
func (h *HTTP) OnModeChanged() { h.metrics.modeSwitches.Inc() }

func (h *HTTP) refreshGauges() {
	if h.stats != nil {
		st := h.stats.Statistics()
		h.metrics.contextSwitches.Set(float64(st.ContextSwitches))
		h.metrics.preemptions.Set(float64(st.Preemptions))
		h.metrics.activeProcesses.Set(float64(st.ActiveProcesses))
		h.metrics.starvationBoosts.Set(float64(st.StarvationBoosts))
	}
	if h.pressure != nil {
		h.metrics.memoryPressure.Set(pressureGaugeValue(h.pressure.LastLevel()))
	}
}

// handleMetrics wraps promhttp's handler so every scrape reflects the
// current scheduler/memory state rather than whatever refreshGauges last
// set from a /stats poll — a scraper that never calls /stats otherwise
// sees every gauge frozen at zero.
func (h *HTTP) handleMetrics() http.Handler {
	inner := promhttp.HandlerFor(h.metrics.registry, promhttp.HandlerOpts{})
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.refreshGauges()
		inner.ServeHTTP(w, r)
	})
}

func (h *HTTP) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *HTTP) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	var snap *snapshot.SystemSnapshot
	if h.snapshots != nil {
		snap = h.snapshots.Latest()
	}
	writeJSON(w, snap)
}

type statsResponse struct {
	Stats    scheduler.SchedulingStats  `json:"stats"`
	Pressure snapshot.MemoryPressure    `json:"pressure"`
	Mode     mode.Mode                  `json:"mode"`
	At       time.Time                  `json:"at"`
}

func (h *HTTP) handleStats(w http.ResponseWriter, _ *http.Request) {
	h.refreshGauges()

	resp := statsResponse{At: time.Now()}
	if h.stats != nil {
		resp.Stats = h.stats.Statistics()
	}
	if h.pressure != nil {
		resp.Pressure = h.pressure.LastLevel()
	}
	if h.modes != nil {
		resp.Mode = h.modes.CurrentMode()
	}
	writeJSON(w, resp)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	_ = enc.Encode(v)
}
