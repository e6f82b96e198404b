package cli

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a burst of file events must be quiet before
// the program is reloaded. Editors often write a file in several steps.
const DefaultDebounce = 200 * time.Millisecond

// watchProgram calls onChange each time a .cue file under path is written,
// created, removed or renamed, once per debounced burst. It blocks until
// ctx is done. New subdirectories are watched as they appear.
func watchProgram(ctx context.Context, path string, debounce time.Duration, logger *slog.Logger, onChange func()) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	root := path
	if info, err := os.Stat(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	} else if !info.IsDir() {
		// Watch the directory so editors that replace the file still fire.
		root = filepath.Dir(path)
	}
	if err := addRecursive(w, root); err != nil {
		return err
	}
	logger.Info("watching program", "path", path)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := addRecursive(w, ev.Name); err != nil {
						logger.Warn("watch new directory", "path", ev.Name, "error", err)
					}
					continue
				}
			}
			if filepath.Ext(ev.Name) != ".cue" || (ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write)) {
				continue
			}
			logger.Debug("program file changed", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", "error", err)
		case <-timer.C:
			onChange()
		}
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
