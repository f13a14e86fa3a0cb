package settings

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// File is a Store backed by a flat YAML file. Values are held in memory;
// Reload or Watch picks up external edits.
type File struct {
	path   string
	logger *slog.Logger

	mu     sync.RWMutex
	values map[string]string
}

// Open loads a YAML settings file. The file must exist and parse; scalar
// values of any YAML type are coerced to strings.
func Open(path string, logger *slog.Logger) (*File, error) {
	if logger == nil {
		logger = slog.Default()
	}

	f := &File{
		path:   path,
		logger: logger.With("component", "settings"),
	}
	if err := f.Reload(); err != nil {
		return nil, err
	}
	return f, nil
}

// Get implements Store.
func (f *File) Get(key string) string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.values[key]
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Reload re-reads the backing file. On error the previous values are kept.
func (f *File) Reload() error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("settings: read %s: %w", f.path, err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("settings: parse %s: %w", f.path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v := v.(type) {
		case nil:
			// Unset key; reads as blank.
		case string:
			values[k] = v
		case bool, int, int64, uint64, float64:
			values[k] = fmt.Sprintf("%v", v)
		default:
			f.logger.Warn("ignoring non-scalar setting", "key", k)
		}
	}

	f.mu.Lock()
	f.values = values
	f.mu.Unlock()

	f.logger.Debug("settings loaded", "path", f.path, "keys", len(values))
	return nil
}

// Watch reloads the file whenever it is written or recreated. It blocks
// until ctx is done; run it in a goroutine.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("settings: watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory: editors replace files on save, which drops a
	// watch placed on the file itself.
	if err := watcher.Add(filepath.Dir(f.path)); err != nil {
		return fmt.Errorf("settings: watch %s: %w", filepath.Dir(f.path), err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(f.path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if err := f.Reload(); err != nil {
					f.logger.Warn("settings reload failed", "error", err)
				} else {
					f.logger.Info("settings reloaded", "path", f.path)
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("settings watcher error", "error", err)
		}
	}
}
