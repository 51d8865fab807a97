package watcher

import (
	"context"

	"github.com/conneroisu/livedoc/internal/errors"
	"github.com/conneroisu/livedoc/internal/logging"
)

// Reloader refreshes an open document from disk.
type Reloader interface {
	IsOpen(path string) bool
	Reload(ctx context.Context, path string) (bool, error)
}

// ReloadHandler returns a handler that refreshes open documents whose file
// changed on disk. Deletions are ignored: the open copy is kept and written
// back on the next save.
func ReloadHandler(store Reloader, logger logging.Logger) ChangeHandler {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return func(ctx context.Context, events []ChangeEvent) error {
		collector := errors.NewErrorCollector()
		for _, event := range events {
			if event.Type == EventTypeDeleted || !store.IsOpen(event.Path) {
				continue
			}
			changed, err := store.Reload(ctx, event.Path)
			if err != nil {
				collector.Add(event.Path, err)
				continue
			}
			if changed {
				logger.Info(ctx, "Applied external change", "path", event.Path, "event", event.Type.String())
			}
		}
		return collector.Err()
	}
}
