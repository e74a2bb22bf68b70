package envfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes the tenant directories under one deployments root and
// reports edits to their override files. Operators hand-edit these files; the
// watcher lets a broken edit surface immediately instead of at the next
// resolve.
type Watcher struct {
	root     string
	filename string
	onChange func(path string)
	fsw      *fsnotify.Watcher
	logger   *zap.Logger

	stopOnce sync.Once
	done     chan struct{}
}

// NewWatcher watches root and every tenant directory currently under it.
// Directories created later are picked up automatically. onChange receives
// the full path of the changed override file.
func NewWatcher(root, filename string, onChange func(path string), logger *zap.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", root, err)
	}

	w := &Watcher{
		root:     root,
		filename: filename,
		onChange: onChange,
		fsw:      fsw,
		logger:   logger,
		done:     make(chan struct{}),
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to list %s: %w", root, err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(root, e.Name())
		if err := fsw.Add(dir); err != nil {
			logger.Warn("failed to watch tenant directory",
				zap.String("dir", dir),
				zap.Error(err))
		}
	}
	return w, nil
}

// Run processes events until Stop is called. It blocks, so run it in a
// goroutine.
func (w *Watcher) Run() {
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Stop terminates the watch loop. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.fsw.Close()
	})
}

func (w *Watcher) handle(ev fsnotify.Event) {
	parent := filepath.Dir(ev.Name)

	// A new directory directly under the root is a new tenant: watch it.
	if parent == w.root && ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(ev.Name); err != nil {
				w.logger.Warn("failed to watch new tenant directory",
					zap.String("dir", ev.Name),
					zap.Error(err))
			}
			return
		}
	}

	if filepath.Base(ev.Name) != w.filename || parent == w.root {
		return
	}
	// Atomic rewrites surface as Create on the final name; hand edits as
	// Write; deletions matter too since they drop a whole layer.
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove) == 0 {
		return
	}
	w.onChange(ev.Name)
}
