package worker

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownWorker is returned by Lookup when no worker is registered under an id.
var ErrUnknownWorker = errors.New("unknown worker")

// Descriptor advertises a registered worker and the kinds it accepts.
type Descriptor struct {
	ID    string          `json:"id"`
	Kinds []OperationKind `json:"operation_kinds"`
}

// Registry maps worker ids to workers. It is built once at startup and
// shared by reference.
type Registry struct {
	mu      sync.RWMutex
	workers map[string]Worker
}

// NewRegistry creates a Registry pre-populated with workers.
func NewRegistry(workers ...Worker) (*Registry, error) {
	r := &Registry{workers: make(map[string]Worker)}
	for _, w := range workers {
		if err := r.Register(w); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds w. Registering the same id twice is an error.
func (r *Registry) Register(w Worker) error {
	id := w.ID()
	if id == "" {
		return errors.New("registering worker: empty id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[id]; exists {
		return fmt.Errorf("registering worker %q: already registered", id)
	}
	r.workers[id] = w
	return nil
}

// Lookup returns the worker registered under id.
func (r *Registry) Lookup(id string) (Worker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.workers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownWorker, id)
	}
	return w, nil
}

// IDs returns the registered worker ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns a descriptor per worker, sorted by id.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.workers))
	for id, w := range r.workers {
		out = append(out, Descriptor{ID: id, Kinds: w.Kinds()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of registered workers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.workers)
}
