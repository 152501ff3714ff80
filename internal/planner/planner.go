// Package planner decomposes a classified intent into subtasks, one per
// required worker.
package planner

import (
	"fmt"

	"github.com/kalambet/orca/internal/intent"
	"github.com/kalambet/orca/internal/worker"
)

type options struct {
	ordering []string
}

// Option configures Decompose.
type Option func(*options)

// WithOrdering makes the subtask of each listed worker depend on the subtask
// of the worker listed before it. Workers absent from the record are ignored.
func WithOrdering(workerIDs ...string) Option {
	return func(o *options) { o.ordering = workerIDs }
}

// Decompose synthesizes one Subtask per required worker, in order. It is a
// pure function of rec and opts.
func Decompose(rec intent.Record, opts ...Option) []worker.Subtask {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	subtasks := make([]worker.Subtask, 0, len(rec.RequiredWorkers))
	byWorker := make(map[string]string, len(rec.RequiredWorkers))
	for _, workerID := range rec.RequiredWorkers {
		kind := InferKind(workerID, rec.RawInput)
		params := map[string]any{}
		if plan, ok := plans[workerID]; ok {
			params = plan.extract(rec)
		}

		id := fmt.Sprintf("task_%d", len(subtasks)+1)
		if _, seen := byWorker[workerID]; !seen {
			byWorker[workerID] = id
		}
		subtasks = append(subtasks, worker.Subtask{
			ID:          id,
			Description: fmt.Sprintf("%s %s: %s", workerID, kind, rec.Goal),
			WorkerID:    workerID,
			Kind:        kind,
			Params:      params,
			DependsOn:   []string{},
			Status:      worker.StatusPending,
		})
	}

	applyOrdering(subtasks, byWorker, o.ordering)
	return subtasks
}

func applyOrdering(subtasks []worker.Subtask, byWorker map[string]string, ordering []string) {
	prev := ""
	for _, workerID := range ordering {
		id, ok := byWorker[workerID]
		if !ok {
			continue
		}
		if prev != "" && prev != id {
			for i := range subtasks {
				if subtasks[i].ID == id {
					subtasks[i].DependsOn = append(subtasks[i].DependsOn, prev)
				}
			}
		}
		prev = id
	}
}
