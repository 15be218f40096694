// Package sim is a deterministic discrete-event simulation kernel: a
// virtual clock with an ordered event queue, cooperative processes,
// one-shot signals, and a single-slot resource with FIFO queueing.
//
// Determinism is the contract of the whole package. Events scheduled for
// the same timestamp run in the order they were scheduled, processes hand
// control to the kernel explicitly, and all randomness comes from named
// streams, so a run is a pure function of its seed and inputs.
package sim

import "container/heap"

// Env is the virtual clock and event queue of one simulation run.
type Env struct {
	now float64
	eq  eventQueue
	seq uint64
}

func NewEnv() *Env {
	return &Env{}
}

// Now returns the current virtual time.
func (e *Env) Now() float64 {
	return e.now
}

// Schedule runs fn d units of virtual time from now. Events with equal
// timestamps run in schedule order.
func (e *Env) Schedule(d float64, fn func()) {
	if d < 0 {
		panic("sim: negative delay")
	}
	e.seq++
	heap.Push(&e.eq, &event{at: e.now + d, seq: e.seq, fn: fn})
}

// Run executes events until none remain.
func (e *Env) Run() {
	for len(e.eq) > 0 {
		e.step()
	}
}

// RunUntil executes every event with timestamp at most t, then advances
// the clock to t. Later events stay queued.
func (e *Env) RunUntil(t float64) {
	for len(e.eq) > 0 && e.eq[0].at <= t {
		e.step()
	}
	if e.now < t {
		e.now = t
	}
}

// Pending reports how many events are queued.
func (e *Env) Pending() int {
	return len(e.eq)
}

func (e *Env) step() {
	ev := heap.Pop(&e.eq).(*event)
	e.now = ev.at
	ev.fn()
}

type event struct {
	at  float64
	seq uint64
	fn  func()
}

type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(*event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	ev := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return ev
}
