//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kavalan/resctl/pkg/configfile"
	"github.com/kavalan/resctl/pkg/events"
	"github.com/kavalan/resctl/pkg/exporter"
	"github.com/kavalan/resctl/pkg/kernel"
	"github.com/kavalan/resctl/pkg/memory"
	"github.com/kavalan/resctl/pkg/mode"
	"github.com/kavalan/resctl/pkg/observer"
	"github.com/kavalan/resctl/pkg/resctlerr"
	"github.com/kavalan/resctl/pkg/scheduler"
	"github.com/kavalan/resctl/pkg/snapshot"
	"github.com/kavalan/resctl/pkg/transport"
)

// Exit codes, spec.md §6: 0 success, 1 generic failure, 2 invalid
// argument, 3 insufficient privilege for the requested action.
const (
	exitOK                = 0
	exitGenericFailure    = 1
	exitInvalidArgument   = 2
	exitInsufficientPrivs = 3
)

type daemonOpts struct {
	configPath string
	httpAddr   string
	enableWS   bool
	csvPath    string
	jsonPath   string
	htmlPath   string
	liveTable  bool
}

func main() {
	os.Exit(run())
}

func run() int {
	var o daemonOpts

	root := &cobra.Command{
		Use:   "resctl [gaming|productivity|power-saving|balanced]",
		Short: "Adaptive resource scheduler core",
		Long: `resctl observes system and per-process resource state, classifies
running processes, and applies coordinated scheduling, memory-pressure and
power-tuning policy so that one of several named modes (gaming,
productivity, power-saving, balanced) is maintained. With no mode
argument it starts in the configured default mode and, if enabled,
picks the mode itself.

Examples:
  resctl gaming --http-addr :9090
  resctl --config /etc/resctl.conf
  resctl get-cpu
  resctl get-mem`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), o, args)
		},
	}

	root.PersistentFlags().StringVar(&o.configPath, "config", "", "path to a key=value config file")
	root.Flags().StringVar(&o.httpAddr, "http-addr", "", "address for the optional HTTP/metrics/WS surface (e.g. :9090); empty disables it")
	root.Flags().BoolVar(&o.enableWS, "ws", true, "mount the websocket event stream at /events when --http-addr is set")
	root.Flags().StringVar(&o.csvPath, "csv", "", "append per-tick rows to this CSV file")
	root.Flags().StringVar(&o.jsonPath, "json", "", "append per-tick rows to this JSON file")
	root.Flags().StringVar(&o.htmlPath, "html", "", "write an end-of-run HTML summary to this file")
	root.Flags().BoolVar(&o.liveTable, "live", false, "print a live tabwriter-aligned status table to stdout")

	root.AddCommand(newGetCPUCommand())
	root.AddCommand(newGetMemCommand())

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		return exitCodeFor(err)
	}
	return exitOK
}

func newGetCPUCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-cpu",
		Short: "Print the current total CPU percent and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader := kernel.NewLinuxReader()
			sample, err := reader.ReadSystem()
			if err != nil {
				return resctlerr.New(resctlerr.ResourceUnavailable, err)
			}
			pct := 0.0
			if sample.CPUTotalJiffies > 0 {
				pct = float64(sample.CPUActiveJiffies) / float64(sample.CPUTotalJiffies) * 100
			}
			fmt.Printf("%.1f\n", pct)
			return nil
		},
	}
}

func newGetMemCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-mem",
		Short: "Print the current memory_used_percent and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reader := kernel.NewLinuxReader()
			sample, err := reader.ReadSystem()
			if err != nil {
				return resctlerr.New(resctlerr.ResourceUnavailable, err)
			}
			used := sample.MemTotalKB - sample.MemFreeKB - sample.BuffersKB - sample.CachedKB
			pct := 0.0
			if sample.MemTotalKB > 0 {
				pct = float64(used) / float64(sample.MemTotalKB) * 100
			}
			fmt.Printf("%.1f\n", pct)
			return nil
		},
	}
}

// parseStartupMode translates spec.md §6's positional mode token into a
// mode.Mode, or returns ok=false if args is empty.
func parseStartupMode(args []string) (mode.Mode, bool, error) {
	if len(args) == 0 {
		return "", false, nil
	}
	switch args[0] {
	case "gaming":
		return mode.Gaming, true, nil
	case "productivity":
		return mode.Productivity, true, nil
	case "power-saving":
		return mode.PowerSaving, true, nil
	case "balanced":
		return mode.Balanced, true, nil
	default:
		return "", false, resctlerr.New(resctlerr.InvalidArgument, fmt.Errorf("unknown mode %q", args[0]))
	}
}

func runDaemon(ctx context.Context, o daemonOpts, args []string) error {
	startupMode, hasStartupMode, err := parseStartupMode(args)
	if err != nil {
		return err
	}

	cfgFile := configfile.Default()
	if o.configPath != "" {
		loaded, warnings, err := configfile.Load(o.configPath)
		for _, w := range warnings {
			slog.Warn("configfile", "detail", w)
		}
		if err != nil {
			return resctlerr.New(resctlerr.InvalidArgument, err)
		}
		cfgFile = *loaded
	}
	setLogLevel(cfgFile.LogLevel)

	bus := events.NewBus()
	actuator := kernel.NewLinuxActuator()
	reader := kernel.NewLinuxReader()

	obsCfg := observer.DefaultConfig()
	obsCfg.TickPeriod = time.Duration(cfgFile.MonitoringIntervalMS) * time.Millisecond
	obsCfg.LowThreshold = cfgFile.MemoryThresholdPercent
	obsCfg.CriticalThreshold = cfgFile.CriticalMemoryThresholdPercent
	obs := observer.New(obsCfg, reader, bus)

	schedCfg := scheduler.DefaultConfig()
	schedCfg.Algorithm = cfgFile.Algorithm()
	schedCfg.DefaultSliceMS = cfgFile.DefaultTimeSliceMS
	sched := scheduler.New(schedCfg, actuator, bus)

	memCfg := memory.DefaultConfig()
	memCfg.LowThresholdPercent = cfgFile.MemoryThresholdPercent
	memCfg.CriticalThresholdPercent = cfgFile.CriticalMemoryThresholdPercent
	memCtrl := memory.New(memCfg, actuator, bus)

	modeCfg := mode.DefaultConfig()
	modeCtrl := mode.New(modeCfg, sched, memCtrl, actuator, obs, bus)

	var autoOptimization atomic.Bool
	autoOptimization.Store(cfgFile.EnableAutoOptimization)

	// Hot-reload: a running process picks up edited thresholds, the
	// scheduling algorithm and its default slice without a restart.
	// obs/sched/memCtrl each guard their own mutable fields, so the
	// reload callback (running on the watcher's own goroutine) only
	// needs autoOptimization synchronized on this side.
	if o.configPath != "" {
		cfgWatcher, err := configfile.Watch(o.configPath, func(newCfg *configfile.File, warnings []string, err error) {
			for _, w := range warnings {
				slog.Warn("configfile reload", "detail", w)
			}
			if err != nil {
				slog.Warn("configfile reload failed, keeping previous configuration", "error", err)
				return
			}
			setLogLevel(newCfg.LogLevel)
			obs.SetThresholds(newCfg.MemoryThresholdPercent, newCfg.CriticalMemoryThresholdPercent)
			memCtrl.SetPressureThreshold(newCfg.MemoryThresholdPercent)
			sched.SetAlgorithm(newCfg.Algorithm())
			sched.SetDefaultSlice(newCfg.DefaultTimeSliceMS)
			autoOptimization.Store(newCfg.EnableAutoOptimization)
			slog.Info("configfile reloaded", "algorithm", newCfg.DefaultSchedulingAlgorithm, "memory_threshold", newCfg.MemoryThresholdPercent)
		}, slog.Default())
		if err != nil {
			return resctlerr.New(resctlerr.InvalidArgument, err)
		}
		defer cfgWatcher.Stop()
	}

	var exp *exporter.Writer
	if o.csvPath != "" || o.jsonPath != "" || o.htmlPath != "" || o.liveTable {
		exp, err = exporter.New(exporter.Config{
			CSVPath:   o.csvPath,
			JSONPath:  o.jsonPath,
			HTMLPath:  o.htmlPath,
			LiveTable: o.liveTable,
		})
		if err != nil {
			return err
		}
		defer exp.Close()
	}

	var httpSrv *http.Server
	var httpXport *transport.HTTP
	if o.httpAddr != "" {
		httpXport = transport.NewHTTP(obs, sched, memCtrl, modeCtrl)
		mux := http.NewServeMux()
		mux.Handle("/", httpXport.Handler())
		if o.enableWS {
			ws := transport.NewWS(bus, slog.Default())
			mux.Handle("/events", ws.Handler())
		}
		httpSrv = &http.Server{Addr: o.httpAddr, Handler: mux}
		go func() {
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("http transport exited", "error", err)
			}
		}()
		unsub := bus.Subscribe(func(ev events.Event) {
			if ev.Kind == events.ModeChanged {
				httpXport.OnModeChanged()
			}
		})
		defer unsub()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	// The memory controller piggybacks on the observer's own tick rather
	// than running its own ticker, per spec.md §5 ("memory controller
	// tick (piggybacks on observer via subscription)"). The exporter
	// rides the same tick so one exported row always corresponds to one
	// published snapshot.
	obs.Subscribe(func(snap *snapshot.SystemSnapshot) {
		if autoOptimization.Load() {
			memCtrl.Tick(snap)
		}
		if exp != nil {
			exp.Append(exporter.RowFrom(snap, sched.Statistics(), memCtrl.LastLevel(), modeCtrl.CurrentMode()))
		}
	})

	obs.Start()
	defer obs.Stop()

	if hasStartupMode {
		if err := modeCtrl.SwitchTo(startupMode); err != nil {
			return err
		}
	} else {
		if err := modeCtrl.SwitchTo(cfgFile.Mode()); err != nil {
			slog.Warn("initial mode switch failed, continuing in default state", "mode", cfgFile.Mode(), "error", err)
		}
	}
	modeCtrl.EnableAutoMode(cfgFile.EnableAutoMode)
	if cfgFile.EnableAutoMode {
		modeCtrl.StartAutoDetect()
		defer modeCtrl.StopAutoDetect()
	}

	unsubLog := bus.Subscribe(func(ev events.Event) {
		switch ev.Kind {
		case events.ModeChanged:
			slog.Info("mode changed", "old", ev.OldMode, "new", ev.NewMode)
		case events.AutoModeSuggested:
			slog.Info("auto-mode suggested", "old", ev.OldMode, "new", ev.NewMode, "reason", ev.Reason)
		case events.ProcessAction:
			if !ev.Succeeded {
				slog.Warn("process action failed", "pid", ev.PID, "action", ev.Action, "error", ev.Cause)
			}
		case events.StarvationBoosted:
			slog.Debug("starvation boost", "pid", ev.BoostedPID)
		case events.ReclamationStep:
			slog.Info("reclamation step", "kind", ev.ReclaimKind, "freed_kb", ev.FreedKB, "ok", ev.ReclaimSuccess)
		case events.SystemThresholdExceeded, events.ResourceLimitExceeded:
			slog.Warn("threshold exceeded", "detail", ev.Detail)
		}
	})
	defer unsubLog()

	startedAt := time.Now()
	slog.Info("resctl started", "mode", modeCtrl.CurrentMode(), "algorithm", sched.Algorithm())

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	schedTick := time.NewTicker(50 * time.Millisecond)
	defer schedTick.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("shutting down", "uptime", humanize.Time(startedAt))
			return nil
		case <-schedTick.C:
			sched.Tick(obs.Latest())
		}
	}
}

func setLogLevel(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warning":
		lvl = slog.LevelWarn
	case "error", "critical":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// exitCodeFor maps a resctlerr.Kind to spec.md §6/§7's exit codes.
func exitCodeFor(err error) int {
	var e *resctlerr.Error
	if errors.As(err, &e) {
		switch e.Kind {
		case resctlerr.InvalidArgument:
			return exitInvalidArgument
		case resctlerr.PermissionDenied:
			return exitInsufficientPrivs
		}
	}
	return exitGenericFailure
}
