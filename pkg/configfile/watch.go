package configfile

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces the burst of WRITE/CHMOD events most editors
// produce for a single save into one reload.
const debounceWindow = 200 * time.Millisecond

// Watcher reloads path on every save and hands the result to onChange, so
// a running resctl process picks up edited thresholds/strategy without a
// restart (SPEC_FULL.md §4.7). onChange is called with nil if a reload
// fails to parse/validate; the previously loaded File stays in effect —
// the caller decides whether to keep the stale config or surface the
// error.
type Watcher struct {
	path     string
	onChange func(*File, []string, error)
	watcher  *fsnotify.Watcher
	done     chan struct{}
	log      *slog.Logger
}

// Watch starts watching path's parent directory (fsnotify watches
// directories more reliably than bare files across editors that replace
// the file on save rather than writing in place) and returns a Watcher
// the caller must Stop. log may be nil, in which case slog.Default() is
// used.
func Watch(path string, onChange func(*File, []string, error), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, onChange: onChange, watcher: fw, done: make(chan struct{}), log: log}
	go w.loop()
	return w, nil
}

// Stop ends watching and releases the underlying inotify handle.
func (w *Watcher) Stop() {
	select {
	case <-w.done:
		return
	default:
	}
	close(w.done)
	_ = w.watcher.Close()
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var timerC <-chan time.Time
	pending := false

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			pending = true
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				timerC = timer.C
			} else {
				timer.Reset(debounceWindow)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("configfile watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			if !pending {
				continue
			}
			pending = false
			cfg, warnings, err := Load(w.path)
			for _, warning := range warnings {
				w.log.Warn("configfile reload warning", "detail", warning)
			}
			if err != nil {
				w.log.Warn("configfile reload failed, keeping previous configuration", "error", err)
				w.onChange(nil, warnings, err)
				continue
			}
			w.onChange(cfg, warnings, nil)
		}
	}
}
