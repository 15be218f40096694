package sim

// Resource is a capacity-1 slot with a FIFO waiting line. It models a
// serialized service queue: one holder at a time, waiters resumed in
// arrival order at the timestamp of the release.
type Resource struct {
	env     *Env
	busy    bool
	waiters []*Proc
}

func NewResource(e *Env) *Resource {
	return &Resource{env: e}
}

// Acquire takes the slot, suspending p in FIFO order while another process
// holds it. It returns the virtual time spent waiting.
func (r *Resource) Acquire(p *Proc) float64 {
	if !r.busy {
		r.busy = true
		return 0
	}
	start := r.env.Now()
	r.waiters = append(r.waiters, p)
	p.park()
	return r.env.Now() - start
}

// Release hands the slot to the next waiter, or frees it when the line is
// empty. Only the holder may call Release.
func (r *Resource) Release() {
	if len(r.waiters) > 0 {
		next := r.waiters[0]
		r.waiters = r.waiters[1:]
		r.env.Schedule(0, next.activate)
		return
	}
	r.busy = false
}

// Len is the number of waiting processes, excluding the holder.
func (r *Resource) Len() int {
	return len(r.waiters)
}

// Busy reports whether the slot is held.
func (r *Resource) Busy() bool {
	return r.busy
}
