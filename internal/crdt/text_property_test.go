//go:build property
// +build property

package crdt

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestConvergenceProperties tests that replicas converge under arbitrary
// interleavings of concurrent edits.
func TestConvergenceProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("all replicas converge regardless of delivery order", prop.ForAll(
		func(seed int64, peers int, rounds int) bool {
			rng := rand.New(rand.NewSource(seed))

			server := NewText("server")
			server.Insert(0, "shared document")
			replicas := make([]*Text, peers)
			for i := range replicas {
				replicas[i] = NewText(fmt.Sprintf("peer-%d", i))
				if err := replicas[i].Apply(server.State()); err != nil {
					return false
				}
			}

			// Every peer edits locally without seeing the others.
			var updates []Update
			for r := 0; r < rounds; r++ {
				for _, replica := range replicas {
					var u Update
					if replica.Len() > 0 && rng.Intn(3) == 0 {
						u = replica.Delete(rng.Intn(replica.Len()), 1+rng.Intn(3))
					} else {
						u = replica.Insert(rng.Intn(replica.Len()+1), string(rune('a'+rng.Intn(26))))
					}
					updates = append(updates, u)
				}
			}

			// Each replica and the server receive every update in its own
			// shuffled order, respecting per-sender order.
			deliver := func(target *Text) bool {
				queues := make(map[string][]Update)
				var senders []string
				for _, u := range updates {
					if u.Empty() {
						continue
					}
					site := u.Ops[0].ID.Site
					if _, ok := queues[site]; !ok {
						senders = append(senders, site)
					}
					queues[site] = append(queues[site], u)
				}
				for len(senders) > 0 {
					i := rng.Intn(len(senders))
					site := senders[i]
					if err := target.Apply(queues[site][0]); err != nil {
						return false
					}
					queues[site] = queues[site][1:]
					if len(queues[site]) == 0 {
						senders = append(senders[:i], senders[i+1:]...)
					}
				}
				return true
			}

			if !deliver(server) {
				return false
			}
			for _, replica := range replicas {
				if !deliver(replica) || replica.String() != server.String() {
					return false
				}
			}
			return true
		},
		gen.Int64(),
		gen.IntRange(2, 5),
		gen.IntRange(1, 8),
	))

	properties.Property("encoding preserves every update", prop.ForAll(
		func(text string, site string) bool {
			replica := NewText(site)
			u := replica.Insert(0, text)
			decoded, err := DecodeUpdate(EncodeUpdate(u))
			if err != nil {
				return false
			}
			other := NewText("other")
			return other.Apply(decoded) == nil && other.String() == replica.String()
		},
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
