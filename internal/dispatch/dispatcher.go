// Package dispatch executes a batch of subtasks against the worker registry,
// honouring their dependency graph.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/orca/internal/worker"
)

// ResultStatus is the terminal state of one subtask in a batch.
type ResultStatus string

const (
	ResultSuccess ResultStatus = "success"
	ResultError   ResultStatus = "error"
	ResultSkipped ResultStatus = "skipped"
	ResultTimeout ResultStatus = "timeout"
)

// Result is the outcome of one subtask. Exactly one Result is produced per
// input subtask.
type Result struct {
	SubtaskID string               `json:"subtask_id"`
	WorkerID  string               `json:"worker_id"`
	Kind      worker.OperationKind `json:"operation_kind"`
	Status    ResultStatus         `json:"status"`
	Payload   any                  `json:"payload,omitempty"`
	Error     string               `json:"error,omitempty"`
	Attempts  int                  `json:"attempts"`
	Duration  time.Duration        `json:"duration"`

	// Err carries the underlying error for errors.Is checks.
	Err error `json:"-"`
}

// Registry resolves worker ids. Implemented by *worker.Registry.
type Registry interface {
	Lookup(id string) (worker.Worker, error)
	Len() int
}

// Observer is notified of subtask state transitions. It is always called
// from the dispatching goroutine.
type Observer func(subtaskID string, status worker.Status)

// Dispatcher runs subtask batches with bounded concurrency.
type Dispatcher struct {
	registry       Registry
	maxConcurrency int
	maxRetries     int
	observer       Observer
	logger         *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithMaxConcurrency bounds parallel worker invocations. n <= 0 selects the
// number of registered workers.
func WithMaxConcurrency(n int) Option {
	return func(d *Dispatcher) { d.maxConcurrency = n }
}

// WithMaxRetries sets how many times a retryable failure is retried.
// Defaults to 1; 0 disables retries.
func WithMaxRetries(n int) Option {
	return func(d *Dispatcher) { d.maxRetries = max(n, 0) }
}

// WithObserver installs an Observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher over registry.
func New(registry Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		maxRetries: 1,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) limit() int {
	n := d.maxConcurrency
	if n <= 0 {
		n = d.registry.Len()
	}
	return max(n, 1)
}

// Execute runs subtasks and returns one Result per subtask in input order.
//
// The batch is validated first: a dependency cycle returns a
// *CyclicDependencyError and an unknown dependency id or duplicate subtask id
// returns ErrInvalidBatch, both before any worker is invoked. Subtasks run as
// soon as all their dependencies succeed; dependents of a subtask that did
// not succeed are skipped. When ctx is done no new subtask is dispatched,
// in-flight subtasks run to completion and everything left gets
// ResultTimeout.
//
// The Status field of each element of subtasks is updated in place.
func (d *Dispatcher) Execute(ctx context.Context, subtasks []worker.Subtask) ([]Result, error) {
	g, err := buildGraph(subtasks)
	if err != nil {
		d.logger.Error("rejecting subtask batch", "error", err, "subtasks", len(subtasks))
		return nil, err
	}

	index := make(map[string]int, len(subtasks))
	for i, st := range subtasks {
		index[st.ID] = i
	}

	results := make(map[string]Result, len(subtasks))
	pending := make(map[string]int, len(subtasks))
	var ready []string
	for _, id := range g.order {
		pending[id] = len(g.deps[id])
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}

	setStatus := func(id string, s worker.Status) {
		subtasks[index[id]].Status = s
		if d.observer != nil {
			d.observer(id, s)
		}
	}

	var record func(r Result)
	record = func(r Result) {
		results[r.SubtaskID] = r
		if r.Status == ResultSuccess {
			setStatus(r.SubtaskID, worker.StatusSucceeded)
			for _, dep := range g.dependents[r.SubtaskID] {
				pending[dep]--
				if _, done := results[dep]; !done && pending[dep] == 0 {
					ready = append(ready, dep)
				}
			}
			return
		}
		setStatus(r.SubtaskID, worker.StatusFailed)
		for _, dep := range g.dependents[r.SubtaskID] {
			if _, done := results[dep]; done {
				continue
			}
			st := subtasks[index[dep]]
			record(Result{
				SubtaskID: dep,
				WorkerID:  st.WorkerID,
				Kind:      st.Kind,
				Status:    ResultSkipped,
				Error:     fmt.Sprintf("skipped: dependency %s did not succeed (%s)", r.SubtaskID, r.Status),
			})
		}
	}

	limit := d.limit()
	var eg errgroup.Group
	eg.SetLimit(limit)
	done := make(chan Result, len(subtasks))
	// In-flight workers are never interrupted by the request deadline.
	workCtx := context.WithoutCancel(ctx)
	inflight := 0

	for len(results) < len(subtasks) {
		for inflight < limit && len(ready) > 0 && ctx.Err() == nil {
			id := ready[0]
			ready = ready[1:]
			if _, resolved := results[id]; resolved {
				continue
			}
			st := subtasks[index[id]]
			setStatus(id, worker.StatusRunning)
			inflight++
			eg.Go(func() error {
				done <- d.run(ctx, workCtx, st)
				return nil
			})
		}

		if inflight == 0 {
			break
		}

		select {
		case r := <-done:
			inflight--
			record(r)
		case <-ctx.Done():
			for ; inflight > 0; inflight-- {
				record(<-done)
			}
		}
	}
	_ = eg.Wait()

	out := make([]Result, 0, len(subtasks))
	for _, st := range subtasks {
		r, ok := results[st.ID]
		if !ok {
			r = Result{
				SubtaskID: st.ID,
				WorkerID:  st.WorkerID,
				Kind:      st.Kind,
				Status:    ResultTimeout,
				Error:     fmt.Sprintf("not dispatched: %v", context.Cause(ctx)),
				Err:       ctx.Err(),
			}
			setStatus(st.ID, worker.StatusFailed)
		}
		out = append(out, r)
	}
	return out, nil
}

// run resolves and invokes the worker for st, retrying retryable failures
// while reqCtx is live. Workers receive workCtx.
func (d *Dispatcher) run(reqCtx, workCtx context.Context, st worker.Subtask) Result {
	start := time.Now()
	res := Result{SubtaskID: st.ID, WorkerID: st.WorkerID, Kind: st.Kind}

	w, err := d.registry.Lookup(st.WorkerID)
	if err != nil {
		d.logger.Warn("subtask references unknown worker", "subtask", st.ID, "worker", st.WorkerID)
		res.Status = ResultError
		res.Error = err.Error()
		res.Err = err
		res.Duration = time.Since(start)
		return res
	}

	for {
		res.Attempts++
		out := invoke(workCtx, w, st)
		if out.Status == worker.OutcomeSuccess {
			res.Status = ResultSuccess
			res.Payload = out.Result
			res.Error = ""
			res.Err = nil
			break
		}

		execErr := out.Error
		if execErr == nil {
			execErr = &worker.ExecutionError{Message: fmt.Sprintf("worker %s returned status %q without an error", st.WorkerID, out.Status)}
		}
		res.Status = ResultError
		res.Error = execErr.Message
		res.Err = execErr

		if !execErr.Retryable || res.Attempts > d.maxRetries || reqCtx.Err() != nil {
			break
		}
		d.logger.Warn("retrying subtask", "subtask", st.ID, "worker", st.WorkerID, "attempt", res.Attempts, "error", execErr.Message)
	}

	res.Duration = time.Since(start)
	d.logger.Debug("subtask finished", "subtask", st.ID, "worker", st.WorkerID, "status", res.Status, "attempts", res.Attempts, "duration", res.Duration)
	return res
}

// invoke calls w.Execute, converting a panic into an error outcome.
func invoke(ctx context.Context, w worker.Worker, st worker.Subtask) (out worker.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("worker panicked", "worker", w.ID(), "subtask", st.ID, "panic", r)
			out = worker.Failure("worker %s panicked: %v", w.ID(), r)
		}
	}()
	return w.Execute(ctx, st)
}
