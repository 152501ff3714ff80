package worker

import (
	"context"
	"sort"
)

// HandlerFunc performs one operation kind.
type HandlerFunc func(ctx context.Context, st Subtask) Outcome

// Handlers maps each supported operation kind to its handler, making the
// operation set of a worker statically enumerable.
type Handlers map[OperationKind]HandlerFunc

// Kinds returns the supported kinds in sorted order.
func (h Handlers) Kinds() []OperationKind {
	kinds := make([]OperationKind, 0, len(h))
	for k := range h {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Run looks up the handler for st.Kind and invokes it. Unsupported kinds
// produce a non-retryable error outcome.
func (h Handlers) Run(ctx context.Context, workerID string, st Subtask) Outcome {
	fn, ok := h[st.Kind]
	if !ok {
		return Failure("%s worker does not support operation %q", workerID, st.Kind)
	}
	return fn(ctx, st)
}
