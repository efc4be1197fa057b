package monitor

import (
	"context"
	"log/slog"
	"path/filepath"
	"slices"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/watchtowerhq/watchtower-go/internal/conf"
)

const (
	diskCheckInterval   = 5 * time.Minute
	diskWarningPercent  = 85.0
	diskCriticalPercent = 95.0
)

// DiskWatcher periodically checks usage of the filesystems holding the event
// database and the thumbnails. The event log grows unbounded, a full disk
// here silently stops persistence, so it is worth warning about early.
type DiskWatcher struct {
	paths    []string
	interval time.Duration
	logger   *slog.Logger

	// warned tracks paths already past the warning threshold so every check
	// does not repeat the same log line.
	warned map[string]bool
}

// newDiskWatcher builds a watcher over the storage paths the settings point at.
func newDiskWatcher(settings *conf.Settings, logger *slog.Logger) *DiskWatcher {
	return &DiskWatcher{
		paths:    criticalPaths(settings),
		interval: diskCheckInterval,
		logger:   logger,
		warned:   make(map[string]bool),
	}
}

// criticalPaths returns the deduplicated directories whose filesystems hold
// durable state.
func criticalPaths(settings *conf.Settings) []string {
	paths := []string{"/"}

	if settings.Output.SQLite.Path != "" {
		if dir := filepath.Dir(settings.Output.SQLite.Path); dir != "" && dir != "." {
			paths = append(paths, dir)
		}
	}
	if settings.Output.ThumbnailsDir != "" && settings.Output.ThumbnailsDir != "." {
		paths = append(paths, settings.Output.ThumbnailsDir)
	}

	slices.Sort(paths)
	return slices.Compact(paths)
}

// Run checks disk usage until the context is cancelled. Always returns nil,
// disk monitoring is advisory and must never take the monitor down.
func (w *DiskWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.checkAll()
	for {
		select {
		case <-ticker.C:
			w.checkAll()
		case <-ctx.Done():
			return nil
		}
	}
}

func (w *DiskWatcher) checkAll() {
	for _, path := range w.paths {
		w.checkPath(path)
	}
}

func (w *DiskWatcher) checkPath(path string) {
	usage, err := disk.Usage(path)
	if err != nil {
		// The path may not exist yet, the datastore creates it on first write.
		w.logger.Debug("Disk usage check skipped", "path", path, "error", err)
		return
	}

	switch {
	case usage.UsedPercent >= diskCriticalPercent:
		w.logger.Error("Disk critically full, event persistence at risk",
			"path", path,
			"used_percent", usage.UsedPercent,
			"free_bytes", usage.Free)
		w.warned[path] = true
	case usage.UsedPercent >= diskWarningPercent:
		if !w.warned[path] {
			w.logger.Warn("Disk usage above warning threshold",
				"path", path,
				"used_percent", usage.UsedPercent,
				"free_bytes", usage.Free)
			w.warned[path] = true
		}
	default:
		if w.warned[path] {
			w.logger.Info("Disk usage back below warning threshold",
				"path", path,
				"used_percent", usage.UsedPercent)
			delete(w.warned, path)
		}
	}
}
