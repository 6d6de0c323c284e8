package lifecycle

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tradewire/bridge/internal/observ"
)

// watchResults wires an fsnotify watcher that nudges the wake channel
// whenever the result file changes, so completion waits return well under
// the poll interval. Polling stays the correctness path: when the watch
// cannot be established the caller simply degrades to interval polling.
func (m *Manager) watchResults(wake chan<- struct{}) *fsnotify.Watcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		observ.LogError("result_watch_unavailable", err, nil)
		return nil
	}
	if err := w.Add(m.cfg.Dir); err != nil {
		observ.LogError("result_watch_unavailable", err, map[string]any{"dir": m.cfg.Dir})
		_ = w.Close()
		return nil
	}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				name := filepath.Base(ev.Name)
				if name != m.cfg.ResultFile && name != m.cfg.SignalFile {
					continue
				}
				select {
				case wake <- struct{}{}:
				default:
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return w
}
