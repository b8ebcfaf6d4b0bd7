// Package presence is the single owner of the identity -> reachability
// mapping for live sessions. All mutation goes through the Registry; its
// lock is held only for O(1) map operations, never across I/O.
package presence

import (
	"sync"

	"whisperchat/pkg/logger"
)

// Handle is the reachability endpoint for one live session: a bounded
// outbound queue plus an orphan signal. A handle is orphaned when a newer
// session registers under the same identity; its owning session must
// observe Done and terminate.
type Handle struct {
	identity string
	out      chan string
	done     chan struct{}
	once     sync.Once
}

// NewHandle builds a handle with a bounded outbound queue.
func NewHandle(identity string, queueSize int) *Handle {
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Handle{
		identity: identity,
		out:      make(chan string, queueSize),
		done:     make(chan struct{}),
	}
}

// Identity returns the owning identity.
func (h *Handle) Identity() string { return h.identity }

// Out returns the outbound queue for draining.
func (h *Handle) Out() <-chan string { return h.out }

// Done is closed when the handle is orphaned.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Enqueue offers a payload to the outbound queue. Best-effort and
// non-blocking: a full or orphaned queue drops the payload. Reports
// whether the payload was accepted.
func (h *Handle) Enqueue(payload string) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.out <- payload:
		return true
	default:
		return false
	}
}

// orphan marks the handle as replaced. Idempotent. The queue channel is
// never closed so concurrent Enqueue calls stay safe; drainers exit via
// Done instead.
func (h *Handle) orphan() {
	h.once.Do(func() { close(h.done) })
}

// Registry maps identities to the handle of their live session. At most
// one entry per identity; a second registration replaces the first.
type Registry struct {
	mu sync.Mutex
	m  map[string]*Handle
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[string]*Handle)}
}

// Register inserts or replaces the entry for the handle's identity. A
// replaced handle is orphaned so its session tears itself down.
func (r *Registry) Register(h *Handle) {
	r.mu.Lock()
	old := r.m[h.identity]
	r.m[h.identity] = h
	r.mu.Unlock()
	if old != nil {
		old.orphan()
		logger.Info("presence_replaced", "identity", h.identity)
	}
}

// Lookup returns the live handle for an identity, if any.
func (r *Registry) Lookup(identity string) (*Handle, bool) {
	r.mu.Lock()
	h, ok := r.m[identity]
	r.mu.Unlock()
	return h, ok
}

// Deregister removes the entry only if it still refers to the caller's
// own handle, so a late teardown cannot clobber a newer session that
// already re-registered. Idempotent and safe to race with Register.
func (r *Registry) Deregister(h *Handle) {
	r.mu.Lock()
	if cur, ok := r.m[h.identity]; ok && cur == h {
		delete(r.m, h.identity)
	}
	r.mu.Unlock()
	h.orphan()
}

// Identities returns a snapshot of currently registered identities.
func (r *Registry) Identities() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.m))
	for id := range r.m {
		out = append(out, id)
	}
	r.mu.Unlock()
	return out
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	n := len(r.m)
	r.mu.Unlock()
	return n
}

// Broadcast enqueues a payload to every registered identity except the
// listed ones. Handles are copied out under the lock and used after it is
// released.
func (r *Registry) Broadcast(payload string, except ...string) {
	skip := make(map[string]struct{}, len(except))
	for _, e := range except {
		skip[e] = struct{}{}
	}
	r.mu.Lock()
	targets := make([]*Handle, 0, len(r.m))
	for id, h := range r.m {
		if _, ok := skip[id]; ok {
			continue
		}
		targets = append(targets, h)
	}
	r.mu.Unlock()
	for _, h := range targets {
		h.Enqueue(payload)
	}
}
