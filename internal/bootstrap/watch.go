package bootstrap

import (
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

var watchedFiles = map[string]bool{
	SystemFile:       true,
	AgentsFile:       true,
	AppendSystemFile: true,
}

type watcher struct {
	fw   *fsnotify.Watcher
	done chan struct{}
}

// Watch starts invalidating the cached prompt whenever a prompt file
// changes at any search level. Call Close to stop.
func (a *Assembler) Watch() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	for _, dir := range a.levels() {
		if err := fw.Add(dir); err != nil {
			slog.Debug("cannot watch prompt dir", "dir", dir, "error", err)
		}
	}

	w := &watcher{fw: fw, done: make(chan struct{})}
	a.mu.Lock()
	a.watcher = w
	a.mu.Unlock()

	go w.run(a)
	return nil
}

func (w *watcher) run(a *Assembler) {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !watchedFiles[filepath.Base(event.Name)] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				slog.Debug("prompt file changed", "path", event.Name, "op", event.Op.String())
				a.Invalidate()
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			slog.Warn("prompt watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the file watcher, if one is running.
func (a *Assembler) Close() {
	a.mu.Lock()
	w := a.watcher
	a.watcher = nil
	a.mu.Unlock()

	if w != nil {
		close(w.done)
		_ = w.fw.Close()
	}
}
