package vault

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventCallback is called after a watcher-driven graph change.
// kind is one of "imported", "removed".
type EventCallback func(kind string, page string)

// Watch starts an fsnotify watcher on the vault root and processes file
// change events until ctx is cancelled. It calls cb (if non-nil) after
// each successful graph mutation.
//
// New directories created at runtime are automatically added to the watch
// list. Rename events trigger a debounced full sync that reconciles any
// moves the per-event handling missed.
func Watch(ctx context.Context, v *Vault, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, v.fs.Root()); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", v.fs.Root()))

	// syncTimer debounces rename reconciliation.
	var syncTimer *time.Timer
	var syncCh <-chan time.Time

	scheduleSync := func() {
		if syncTimer == nil {
			syncTimer = time.NewTimer(200 * time.Millisecond)
			syncCh = syncTimer.C
		} else {
			syncTimer.Reset(200 * time.Millisecond)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if syncTimer != nil {
				syncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-syncCh:
			if err := v.Sync(); err != nil {
				logger.Warn("watcher: reconcile failed", slog.String("error", err.Error()))
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			absPath := ev.Name

			// New directories join the watch list.
			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(absPath); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, absPath); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", absPath),
							slog.String("error", addErr.Error()))
					} else {
						logger.Debug("watcher: watching new dir", slog.String("path", absPath))
					}
					importDir(v, absPath, logger, cb)
					continue
				}
			}

			// Only process .md files from here on.
			if !strings.HasSuffix(absPath, ".md") {
				continue
			}

			rel, relErr := filepath.Rel(v.fs.Root(), absPath)
			if relErr != nil {
				continue
			}

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				changed, impErr := v.ImportFile(rel)
				if impErr != nil {
					logger.Warn("watcher: import failed", slog.String("path", rel), slog.String("error", impErr.Error()))
					continue
				}
				if !changed {
					// The vault's own export; nothing to do.
					continue
				}
				logger.Debug("watcher: imported", slog.String("path", rel))
				if cb != nil {
					cb("imported", PageName(rel))
				}

			case ev.Op&fsnotify.Remove != 0:
				if remErr := v.RemoveFile(rel); remErr != nil {
					logger.Warn("watcher: remove failed", slog.String("path", rel), slog.String("error", remErr.Error()))
					continue
				}
				logger.Debug("watcher: removed", slog.String("path", rel))
				if cb != nil {
					cb("removed", PageName(rel))
				}

			case ev.Op&fsnotify.Rename != 0:
				// fsnotify fires Rename on the OLD path only. The new path
				// arrives as a separate Create event if it lands inside a
				// watched dir. Clear the old page now and schedule a sync
				// pass to catch any stragglers.
				if remErr := v.RemoveFile(rel); remErr != nil {
					logger.Warn("watcher: rename remove failed", slog.String("path", rel), slog.String("error", remErr.Error()))
				} else {
					logger.Debug("watcher: rename old removed", slog.String("path", rel))
					if cb != nil {
						cb("removed", PageName(rel))
					}
				}
				scheduleSync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// importDir imports any .md files found in a newly created directory.
func importDir(v *Vault, dirPath string, logger *slog.Logger, cb EventCallback) {
	_ = filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".md") {
			return nil
		}
		rel, relErr := filepath.Rel(v.fs.Root(), path)
		if relErr != nil {
			return nil
		}
		changed, impErr := v.ImportFile(rel)
		if impErr != nil || !changed {
			return nil
		}
		logger.Debug("watcher: imported from new dir", slog.String("path", rel))
		if cb != nil {
			cb("imported", PageName(rel))
		}
		return nil
	})
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
