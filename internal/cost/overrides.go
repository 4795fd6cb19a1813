package cost

import "sync/atomic"

// Overrides are the process-wide routing switches flipped when the monthly
// budget is exhausted. A zero value means normal routing.
type Overrides struct {
	ForceLocalEmbeddings  bool
	ForceLocalRerank      bool
	DisableContradictions bool
}

// Runtime holds the current override set behind an atomic pointer so hot
// paths read it without locking.
type Runtime struct {
	current atomic.Pointer[Overrides]
}

// NewRuntime starts with no overrides active.
func NewRuntime() *Runtime {
	r := &Runtime{}
	r.current.Store(&Overrides{})
	return r
}

// Snapshot returns the current overrides by value.
func (r *Runtime) Snapshot() Overrides {
	return *r.current.Load()
}

// FallbackActive reports whether budget fallback routing is on.
func (r *Runtime) FallbackActive() bool {
	o := r.current.Load()
	return o.ForceLocalEmbeddings || o.ForceLocalRerank || o.DisableContradictions
}

// EnableFallback switches every provider to its free local path.
func (r *Runtime) EnableFallback() {
	r.current.Store(&Overrides{
		ForceLocalEmbeddings:  true,
		ForceLocalRerank:      true,
		DisableContradictions: true,
	})
}

// Reset clears all overrides.
func (r *Runtime) Reset() {
	r.current.Store(&Overrides{})
}
