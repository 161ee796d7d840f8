package manifest

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-parses a manifest file on every write/create event and
// hands the whole new Manifest to OnChange: an fsnotify.Watcher wrapped
// with a goroutine draining Events/Errors until Close. Watcher applies
// nothing itself and never touches an already-built Tree; what the new
// value changes is up to OnChange.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(Manifest)

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// WatchFile starts watching path for changes, invoking onChange with
// every successfully reparsed manifest (parse errors are dropped
// silently with the prior manifest left in effect, matching the
// fail-safe posture of a server that must keep running through a bad
// config edit).
func WatchFile(path string, onChange func(Manifest)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(path); err != nil {
		_ = fw.Close()
		return nil, err
	}

	w := &Watcher{path: path, watcher: fw, onChange: onChange, done: make(chan struct{})}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			m, err := Load(w.path)
			if err != nil {
				continue
			}
			w.onChange(m)
		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.watcher.Close()
	<-w.done
	return err
}
