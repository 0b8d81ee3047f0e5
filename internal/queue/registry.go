package queue

import "sync"

// Registry maps request IDs to their Queue, giving the link's frame
// router and the HTTP handler a shared place to open/find/close a
// request's queue without threading a pointer through both paths.
type Registry struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{queues: make(map[string]*Queue)}
}

// Open creates and registers a new Queue for requestID. Calling Open
// again for a requestID that already exists replaces it; callers are
// expected to generate unique request IDs.
func (r *Registry) Open(requestID string, capacity int) *Queue {
	q := New(capacity)
	r.mu.Lock()
	r.queues[requestID] = q
	r.mu.Unlock()
	return q
}

// Get returns the queue for requestID, if any.
func (r *Registry) Get(requestID string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[requestID]
	return q, ok
}

// CloseAndRemove closes the queue for requestID (if present) with cause
// and drops it from the registry.
func (r *Registry) CloseAndRemove(requestID string, cause error) {
	r.mu.Lock()
	q, ok := r.queues[requestID]
	delete(r.queues, requestID)
	r.mu.Unlock()
	if ok {
		q.Close(cause)
	}
}

// CloseAll closes every registered queue with cause and empties the
// registry. Used when the link loses its agent connection past the
// reconnect grace window.
func (r *Registry) CloseAll(cause error) {
	r.mu.Lock()
	queues := r.queues
	r.queues = make(map[string]*Queue)
	r.mu.Unlock()
	for _, q := range queues {
		q.Close(cause)
	}
}

// Len reports the number of currently open queues, exposed for the
// in-flight gauge.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queues)
}
