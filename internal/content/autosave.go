package content

import (
	"context"
	"time"

	"github.com/conneroisu/livedoc/internal/errors"
)

// SaveAll persists every dirty document. A failure on one document is logged
// and collected; the sweep carries on with the rest.
func (s *Store) SaveAll(ctx context.Context) error {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.docs))
	for _, e := range s.docs {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	collector := errors.NewErrorCollector()
	for _, e := range entries {
		e.mu.Lock()
		if !e.loaded || e.closed || !e.doc.Dirty {
			e.mu.Unlock()
			continue
		}
		path := e.doc.Path
		err := s.saveLocked(ctx, e)
		e.mu.Unlock()

		if err != nil {
			s.metrics.AutosaveFailure()
			s.logger.Error(ctx, err, "Autosave failed", "path", path)
			collector.Add(path, err)
			continue
		}
		s.metrics.AutosaveWrite()
	}

	if collector.HasErrors() {
		s.logger.Warn(ctx, nil, "Save sweep left dirty documents", "failed", len(collector.GetErrors()))
	}
	return collector.Err()
}

// Start launches the autosave sweep. It is a no-op when already running.
func (s *Store) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	defer s.lifecycleMu.Unlock()
	if s.cancel != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	interval := s.autosaveInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	go s.autosaveLoop(ctx, interval, s.done)
	s.logger.Info(ctx, "Autosave started", "interval", interval.String())
	return nil
}

func (s *Store) autosaveLoop(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.SaveAll(ctx)
		}
	}
}

// Stop halts the sweep and flushes any remaining dirty documents.
func (s *Store) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return s.SaveAll(ctx)
}
