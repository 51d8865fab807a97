//go:build property
// +build property

package watcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties tests batching and deduplication properties
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("one batch holds each distinct path exactly once", prop.ForAll(
		func(pathIndexes []int) bool {
			if len(pathIndexes) == 0 {
				return true
			}

			debouncer := NewDebouncer(20 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go debouncer.Run(ctx)

			distinct := make(map[string]bool)
			for _, idx := range pathIndexes {
				path := fmt.Sprintf("doc-%d.md", idx)
				distinct[path] = true
				debouncer.Add(ChangeEvent{Path: path, Type: EventTypeModified})
			}

			select {
			case events := <-debouncer.Output():
				seen := make(map[string]bool)
				for i, event := range events {
					if seen[event.Path] || !distinct[event.Path] {
						return false
					}
					if i > 0 && events[i-1].Path >= event.Path {
						return false
					}
					seen[event.Path] = true
				}
				return len(seen) == len(distinct)
			case <-time.After(time.Second):
				return false
			}
		},
		gen.SliceOfN(20, gen.IntRange(0, 5)),
	))

	properties.TestingRun(t)
}
