package sim

// Proc is a cooperative process. Each process runs on its own goroutine in
// strict handoff with the kernel: between suspension points exactly one
// goroutine in the whole simulation is runnable, so process code needs no
// locking and observes a frozen clock.
type Proc struct {
	env    *Env
	resume chan struct{}
	parked chan struct{}
	done   bool
	end    *Signal
}

// Go starts fn as a process. The process body begins at the current
// timestamp, after already-queued events for that timestamp.
func (e *Env) Go(fn func(*Proc)) *Proc {
	p := &Proc{
		env:    e,
		resume: make(chan struct{}),
		parked: make(chan struct{}),
		end:    e.NewSignal(),
	}
	go func() {
		<-p.resume
		fn(p)
		p.done = true
		p.end.Fire()
		p.parked <- struct{}{}
	}()
	e.Schedule(0, p.activate)
	return p
}

// Env returns the environment the process runs in.
func (p *Proc) Env() *Env {
	return p.env
}

// Sleep suspends the process for d units of virtual time.
func (p *Proc) Sleep(d float64) {
	p.env.Schedule(d, p.activate)
	p.park()
}

// Wait suspends the process until s fires. If s has already fired the
// process resumes at the current timestamp.
func (p *Proc) Wait(s *Signal) {
	s.OnFire(p.activate)
	p.park()
}

// Done reports whether the process body has returned.
func (p *Proc) Done() bool {
	return p.done
}

// End fires when the process body returns.
func (p *Proc) End() *Signal {
	return p.end
}

// activate runs on the kernel: it resumes the process goroutine and blocks
// until the process parks or finishes.
func (p *Proc) activate() {
	p.resume <- struct{}{}
	<-p.parked
}

// park runs on the process goroutine: it hands control back to the kernel
// and blocks until the next activate.
func (p *Proc) park() {
	p.parked <- struct{}{}
	<-p.resume
}
