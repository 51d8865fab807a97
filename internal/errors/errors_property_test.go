//go:build property

package errors

import (
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestErrorCollectorProperties validates error collection and aggregation properties
func TestErrorCollectorProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(2468)
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("concurrent error addition is thread-safe", prop.ForAll(
		func(goroutineCount int, errorsPerGoroutine int) bool {
			collector := NewErrorCollector()

			var wg sync.WaitGroup
			for g := 0; g < goroutineCount; g++ {
				wg.Add(1)
				go func(id int) {
					defer wg.Done()
					for e := 0; e < errorsPerGoroutine; e++ {
						collector.Add(fmt.Sprintf("docs/%d/%d.md", id, e), fmt.Errorf("write failed"))
					}
				}(g)
			}
			wg.Wait()

			return len(collector.GetErrors()) == goroutineCount*errorsPerGoroutine
		},
		gen.IntRange(1, 10),
		gen.IntRange(1, 20),
	))

	properties.Property("collected errors are ordered by path", prop.ForAll(
		func(paths []string) bool {
			collector := NewErrorCollector()
			for _, p := range paths {
				collector.Add(p, fmt.Errorf("boom"))
			}
			errs := collector.GetErrors()
			for i := 1; i < len(errs); i++ {
				if errs[i-1].Path > errs[i].Path {
					return false
				}
			}
			return len(errs) == len(paths)
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.Property("wrapping preserves path and type", prop.ForAll(
		func(path string) bool {
			base := ErrNotOpen(path)
			wrapped := WrapIO(base, ErrCodeWriteFailed, "save failed")
			return wrapped.Path == path && IsIO(wrapped) && IsNotFound(wrapped.Cause)
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
