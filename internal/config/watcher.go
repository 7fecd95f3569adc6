package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher watches a config file's mtime and reloads it on change.
type Watcher struct {
	path    string
	fsw     *fsnotify.Watcher
	mu      sync.RWMutex
	current *Config
	onReload func(old, new *Config)
}

// NewWatcher loads path once and creates the fsnotify watcher; Run adds the
// file's containing directory, matching the common fsnotify idiom of
// watching the parent dir so editor-style atomic renames are still observed.
func NewWatcher(path string, onReload func(old, new *Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, fsw: fsw, current: cfg, onReload: onReload}
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run watches for file events until stop is closed. A reload that fails to
// load or validate keeps the last good configuration and is dropped
// silently: onReload is not called, so the engine never mutates state on a
// bad reload (§7 configuration parse error policy).
func (w *Watcher) Run(stop <-chan struct{}) error {
	dir := dirOf(w.path)
	if err := w.fsw.Add(dir); err != nil {
		return err
	}
	defer w.fsw.Close()

	for {
		select {
		case <-stop:
			return nil
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if ev.Name != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case <-w.fsw.Errors:
			// transient watcher errors are not fatal; keep watching.
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = next
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(old, next)
	}
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}
