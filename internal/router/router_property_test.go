package router

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/ChuLiYu/swarm-coordinator/internal/registry"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

// TestProperty_LeastBusyRouting checks the routing invariant over random
// pools: for any set of analyst workers with arbitrary completed-task counts,
// Route picks a worker whose history length is minimal among eligible
// workers, and on ties it picks the earliest-registered one.
func TestProperty_LeastBusyRouting(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		counts := rapid.SliceOfN(rapid.IntRange(0, 20), 1, 8).Draw(t, "counts")

		reg := registry.New()
		workers := make([]*registry.Worker, len(counts))
		for i, n := range counts {
			w := registry.NewWorker(types.WorkerID(fmt.Sprintf("w-%02d", i)), types.WorkerAnalyst, nil)
			if err := reg.Register(w); err != nil {
				t.Fatalf("register: %v", err)
			}
			for j := 0; j < n; j++ {
				w.AppendRecord(types.TaskResult{
					TaskID:   types.TaskID(fmt.Sprintf("seed-%d-%d", i, j)),
					WorkerID: w.ID,
					Status:   types.ResultCompleted,
				})
			}
			workers[i] = w
		}

		r := New(reg, false)
		selected, err := r.Route(types.Task{ID: "probe", Type: types.TaskAnalysis})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		// Expected winner: minimal count, earliest registration on ties.
		want := 0
		for i, n := range counts {
			if n < counts[want] {
				want = i
			}
		}

		if selected.ID != workers[want].ID {
			t.Errorf("routed to %s (count %d), want %s (count %d)",
				selected.ID, selected.CompletedCount(), workers[want].ID, counts[want])
		}
	})
}
