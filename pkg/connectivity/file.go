package connectivity

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/agrisync/internal/logger"
)

// FileMonitor follows a status file holding one class name. The platform
// network daemon rewrites the file on every change. A missing or unreadable
// file means offline.
type FileMonitor struct {
	*hub
	path    string
	watcher *fsnotify.Watcher
}

var _ Monitor = (*FileMonitor)(nil)

// NewFileMonitor reads the current class from path and prepares a watcher
// on its directory, so atomic replace-by-rename is seen as well.
func NewFileMonitor(path string) (*FileMonitor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(abs), err)
	}

	return &FileMonitor{
		hub:     newHub(readClassFile(abs)),
		path:    abs,
		watcher: watcher,
	}, nil
}

// Run processes file events until ctx is done, then closes the watcher.
func (m *FileMonitor) Run(ctx context.Context) {
	defer func() { _ = m.watcher.Close() }()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != m.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			c := readClassFile(m.path)
			if m.set(c) {
				logger.Info("Connectivity changed", logger.KeyConnectivity, string(c), logger.KeyPath, m.path)
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("Connectivity file watcher error", logger.KeyError, err)
		}
	}
}

func readClassFile(path string) Class {
	data, err := os.ReadFile(path)
	if err != nil {
		return Offline
	}
	c, err := ParseClass(string(data))
	if err != nil {
		logger.Warn("Unrecognized connectivity status, assuming offline",
			logger.KeyPath, path, logger.KeyError, err)
		return Offline
	}
	return c
}
