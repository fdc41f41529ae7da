package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/orizon-lang/orizon-gc/env"
)

// watchDebounce coalesces the bursts of events editors produce for one
// save.
const watchDebounce = 100 * time.Millisecond

// Watcher hot-reloads the dynamic tuning options when the watched file
// changes. Only dynamic tunables are applied; pool capacity and heap
// sizing stay fixed for the process lifetime. The new option set is
// swapped atomically, taking effect between cycles.
type Watcher struct {
	extensions *env.Extensions
	path       string

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Watch starts watching path for option changes.
func Watch(path string, extensions *env.Extensions) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: editors replace files, which drops a watch
	// on the file itself.
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	w := &Watcher{
		extensions: extensions,
		path:       path,
		watcher:    fsWatcher,
		done:       make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(watchDebounce)
		case <-pending:
			pending = nil
			w.reload()
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		case <-w.done:
			return
		}
	}
}

// reload re-reads the file and swaps the dynamic tunables in. A file
// that fails to parse leaves the current options untouched.
func (w *Watcher) reload() {
	values, err := readFileValues(w.path)
	if err != nil {
		w.extensions.Log.Warn("gc option reload failed", "path", w.path, "error", err)
		return
	}
	current := w.extensions.Options()
	next, err := apply(current, values, true)
	if err != nil {
		w.extensions.Log.Warn("gc option reload rejected", "path", w.path, "error", err)
		return
	}
	if err := next.Validate(0); err != nil {
		w.extensions.Log.Warn("gc option reload invalid", "path", w.path, "error", err)
		return
	}
	w.extensions.SetOptions(next)
	w.extensions.Log.Info("gc options reloaded", "path", w.path)
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
