// Package watch reports edits to the alias definition directory so the
// blocked set can be re-resolved without a restart.
package watch

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/haukened/cmdblock/internal/cmdblock/common/clock"
	"github.com/haukened/cmdblock/internal/cmdblock/common/log"
	"github.com/haukened/cmdblock/internal/cmdblock/repos/aliasmap/file"
)

const defaultDebounce = 500 * time.Millisecond

// Options configures a Watcher.
type Options struct {
	Dir string
	// OnChange runs once per burst of edits, on its own goroutine.
	OnChange func()
	Debounce time.Duration
	Clock    clock.Clock
	Logger   log.Logger
}

// Watcher watches an alias directory for changes to supported files.
type Watcher struct {
	dir      string
	onChange func()
	debounce time.Duration
	clock    clock.Clock
	logger   log.Logger

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	timerMu      sync.Mutex
	pendingTimer *time.Timer
	lastChange   time.Time
}

// New creates a watcher; nothing is watched until Start.
func New(opts Options) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	onChange := opts.OnChange
	if onChange == nil {
		onChange = func() {}
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &Watcher{
		dir:      opts.Dir,
		onChange: onChange,
		debounce: debounce,
		clock:    clk,
		logger:   log.OrNoop(opts.Logger),
		watcher:  fsWatcher,
		stopChan: make(chan struct{}),
	}, nil
}

// Start begins watching. A missing or unset directory is logged and
// skipped rather than treated as fatal.
func (w *Watcher) Start() error {
	if w.dir == "" {
		w.logger.Warn(nil, "No alias directory configured, watcher not started")
		return nil
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.logger.Warn(map[string]any{"alias_dir": w.dir, "error": err}, "Cannot watch alias directory (may not exist yet)")
		return nil
	}

	w.wg.Add(1)
	go w.run()

	w.logger.Info(map[string]any{"alias_dir": w.dir}, "Watching alias directory")
	return nil
}

// Stop stops the watcher and cancels any pending notification.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()

		w.timerMu.Lock()
		if w.pendingTimer != nil {
			w.pendingTimer.Stop()
		}
		w.timerMu.Unlock()

		err = w.watcher.Close()
	})
	return err
}

// LastChange is when OnChange last fired.
func (w *Watcher) LastChange() time.Time {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	return w.lastChange
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn(map[string]any{"error": err}, "Alias watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !file.Supported(event.Name) {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	w.logger.Debug(map[string]any{"file": filepath.Base(event.Name), "op": event.Op.String()}, "Alias file changed")
	w.schedule()
}

func (w *Watcher) schedule() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.pendingTimer != nil {
		w.pendingTimer.Stop()
	}
	w.pendingTimer = time.AfterFunc(w.debounce, w.fire)
}

func (w *Watcher) fire() {
	w.timerMu.Lock()
	w.lastChange = w.clock.Now()
	w.timerMu.Unlock()

	w.logger.Info(map[string]any{"alias_dir": w.dir}, "Alias files changed, re-resolving")
	w.onChange()
}
