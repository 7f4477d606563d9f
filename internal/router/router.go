// ============================================================================
// Beaver-Swarm Task Router - Capability Matching & Load Balancing
// ============================================================================
//
// Package: internal/router
// File: router.go
// Purpose: Selects an eligible worker for an incoming task.
//
// Matching Rule:
//   - Exact type match: a "research" task routes only to "researcher" workers,
//     "analysis" to "analyst", "writing" to "writer", "training" to "trainer".
//   - The "generic" task type is a wildcard: any worker is eligible.
//
// Eligibility Policy:
//   Mirrors the source design deliberately: a worker whose status is "working"
//   is still eligible for new assignment (the dispatcher may queue it), and a
//   worker left in "error" by its last task remains selectable for future
//   tasks. Strict one-task-per-worker exclusivity is available as an opt-in
//   policy (exclusive), not an assumed fix.
//
// Tie-Break:
//   Among eligible workers, pick the one with the fewest completed tasks in
//   its history (least-busy). Ties resolve to the first-registered worker,
//   keeping routing deterministic and testable.
//
// ============================================================================

package router

import (
	"errors"

	"github.com/ChuLiYu/swarm-coordinator/internal/registry"
	"github.com/ChuLiYu/swarm-coordinator/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	// ErrNoEligibleWorker 表示沒有任何 Worker 的能力符合此任務類型
	ErrNoEligibleWorker = errors.New("no eligible worker for task type")
)

// Router selects workers for tasks using capability matching and a
// least-busy tie-break over the shared registry.
type Router struct {
	reg *registry.Registry

	// Exclusive enforces strict one-task-per-worker routing: workers in
	// "working" status are skipped. Off by default to match the source's
	// looser policy.
	exclusive bool
}

// New creates a Router over the given registry.
func New(reg *registry.Registry, exclusive bool) *Router {
	return &Router{reg: reg, exclusive: exclusive}
}

// Route selects an eligible worker for the task.
//
// Returns ErrNoEligibleWorker when no registered worker matches the task's
// type tag under the matching rule and eligibility policy.
func (r *Router) Route(task types.Task) (*registry.Worker, error) {
	var (
		selected *registry.Worker
		best     int
	)

	// Registration order guarantees the first-registered worker wins ties:
	// we only replace the candidate on a strictly smaller history.
	for _, w := range r.reg.List("") {
		if !r.eligible(w, task) {
			continue
		}

		completed := w.CompletedCount()
		if selected == nil || completed < best {
			selected = w
			best = completed
		}
	}

	if selected == nil {
		return nil, ErrNoEligibleWorker
	}
	return selected, nil
}

// eligible applies the capability match and status policy for one worker.
func (r *Router) eligible(w *registry.Worker, task types.Task) bool {
	if !task.Type.Matches(w.Type) {
		return false
	}

	// Only a mid-flight "working" worker can be excluded, and only under the
	// strict policy. "idle" and "error" are both terminal and selectable.
	if w.Status() == types.StatusWorking {
		return !r.exclusive
	}
	return true
}
