package daemon

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// StoreWatcher calls onChange when the limit database, or one of its
// journal files, is written by another process such as the CLI.
type StoreWatcher struct {
	watcher  *fsnotify.Watcher
	base     string
	onChange func()
	logger   *zap.Logger
}

// NewStoreWatcher watches the directory holding storePath. SQLite writes
// through sidecar files, so watching the file alone would miss changes.
func NewStoreWatcher(storePath string, onChange func(), logger *zap.Logger) (*StoreWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(storePath)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(storePath), err)
	}
	return &StoreWatcher{
		watcher:  w,
		base:     filepath.Base(storePath),
		onChange: onChange,
		logger:   logger.Named("reload"),
	}, nil
}

// Run delivers change notifications until ctx is cancelled.
func (s *StoreWatcher) Run(ctx context.Context) error {
	defer s.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-s.watcher.Events:
			if !ok {
				return nil
			}
			if !s.relevant(event) {
				continue
			}
			s.logger.Debug("limit store changed", zap.String("file", event.Name), zap.Stringer("op", event.Op))
			s.onChange()
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("file watcher error", zap.Error(err))
		}
	}
}

func (s *StoreWatcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	return strings.HasPrefix(filepath.Base(event.Name), s.base)
}
