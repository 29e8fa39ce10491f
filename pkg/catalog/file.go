package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileCatalog serves a JSON snapshot file and reloads it when it changes
type FileCatalog struct {
	path    string
	logger  logrus.FieldLogger
	memory  *Memory
	watcher *fsnotify.Watcher

	stopOnce sync.Once
	done     chan struct{}
}

// OpenFile loads the snapshot at path. Call Watch to follow changes.
func OpenFile(path string, logger logrus.FieldLogger) (*FileCatalog, error) {
	c := &FileCatalog{
		path:   path,
		logger: logger,
		memory: NewMemory(nil, nil),
		done:   make(chan struct{}),
	}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload reads the file and swaps the snapshot. A failed reload keeps the
// previous snapshot.
func (c *FileCatalog) Reload() error {
	snapshot, err := ReadSnapshot(c.path)
	if err != nil {
		return err
	}
	c.memory.Replace(snapshot)
	return nil
}

// ReadSnapshot decodes a JSON snapshot file
func ReadSnapshot(path string) (Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(raw, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode catalog file: %w", err)
	}
	return snapshot, nil
}

// Watch reloads the snapshot on every write to the file until ctx is done or
// Close is called. The parent directory is watched so editors that replace
// the file atomically are picked up.
func (c *FileCatalog) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	c.watcher = watcher

	go c.run(ctx)
	return nil
}

func (c *FileCatalog) run(ctx context.Context) {
	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			_ = c.Close()
			return
		case <-c.done:
			return
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := c.Reload(); err != nil {
				c.logger.WithError(err).WithField("path", c.path).Warn("catalog reload failed, keeping previous snapshot")
				continue
			}
			c.logger.WithField("path", c.path).Info("catalog reloaded")
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			c.logger.WithError(err).Warn("catalog watcher error")
		}
	}
}

func (c *FileCatalog) ListPets(ctx context.Context) ([]Pet, error) {
	return c.memory.ListPets(ctx)
}

func (c *FileCatalog) ListGroups(ctx context.Context) ([]Group, error) {
	return c.memory.ListGroups(ctx)
}

// Ping checks that the backing file is still readable
func (c *FileCatalog) Ping(ctx context.Context) error {
	if _, err := os.Stat(c.path); err != nil {
		return fmt.Errorf("catalog file unavailable: %w", err)
	}
	return nil
}

// Close stops watching
func (c *FileCatalog) Close() error {
	var err error
	c.stopOnce.Do(func() {
		close(c.done)
		if c.watcher != nil {
			err = c.watcher.Close()
		}
	})
	return err
}
