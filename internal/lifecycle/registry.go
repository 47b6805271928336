package lifecycle

import "sync"

// Registry holds the idempotency guard and the operation to job id map,
// both keyed by operation id. It lives for the lifetime of the process and
// is never persisted. Guard entries are never removed.
type Registry struct {
	mu    sync.Mutex
	guard map[string]Operation
	jobs  map[string]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		guard: make(map[string]Operation),
		jobs:  make(map[string]string),
	}
}

// Register guards op.OperationID. It returns false if that id was already
// guarded, whatever project or type it was accepted under.
func (r *Registry) Register(op Operation) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.guard[op.OperationID]; ok {
		return false
	}
	r.guard[op.OperationID] = op
	return true
}

// Lookup returns the operation accepted under operationID.
func (r *Registry) Lookup(operationID string) (Operation, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.guard[operationID]
	return op, ok
}

// Guarded reports whether op was accepted with the same project and type.
func (r *Registry) Guarded(op Operation) bool {
	stored, ok := r.Lookup(op.OperationID)
	return ok && stored == op
}

// AttachJob records the azcopy job id running op.
func (r *Registry) AttachJob(op Operation, jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[op.OperationID] = jobID
}

// JobID returns the job attached to op, if any.
func (r *Registry) JobID(op Operation) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.jobs[op.OperationID]
	return id, ok
}

// Len returns the number of guarded operations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.guard)
}
