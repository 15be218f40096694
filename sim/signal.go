package sim

// Signal is a one-shot event on the virtual timeline. Once fired it stays
// fired; callbacks registered before or after firing run as scheduled
// events, never inline.
type Signal struct {
	env   *Env
	fired bool
	cbs   []func()
}

func (e *Env) NewSignal() *Signal {
	return &Signal{env: e}
}

// Fire marks s fired and schedules its callbacks at the current timestamp.
// It reports whether this call is the one that fired s; firing a fired
// signal is a no-op.
func (s *Signal) Fire() bool {
	if s.fired {
		return false
	}
	s.fired = true
	for _, cb := range s.cbs {
		s.env.Schedule(0, cb)
	}
	s.cbs = nil
	return true
}

// Fired reports whether s has fired.
func (s *Signal) Fired() bool {
	return s.fired
}

// OnFire registers cb to run when s fires. If s has already fired, cb is
// scheduled at the current timestamp.
func (s *Signal) OnFire(cb func()) {
	if s.fired {
		s.env.Schedule(0, cb)
		return
	}
	s.cbs = append(s.cbs, cb)
}

// Timeout returns a signal that fires d units of virtual time from now.
func (e *Env) Timeout(d float64) *Signal {
	s := e.NewSignal()
	e.Schedule(d, func() { s.Fire() })
	return s
}

// AllOf returns a signal that fires once every signal in sigs has fired.
// With no signals it fires immediately.
func AllOf(e *Env, sigs ...*Signal) *Signal {
	out := e.NewSignal()
	left := len(sigs)
	if left == 0 {
		out.Fire()
		return out
	}
	for _, s := range sigs {
		s.OnFire(func() {
			left--
			if left == 0 {
				out.Fire()
			}
		})
	}
	return out
}

// AnyOf returns a signal that fires as soon as the first signal in sigs
// fires. Later firings have no further effect. With no signals it fires
// immediately.
func AnyOf(e *Env, sigs ...*Signal) *Signal {
	out := e.NewSignal()
	if len(sigs) == 0 {
		out.Fire()
		return out
	}
	for _, s := range sigs {
		s.OnFire(func() { out.Fire() })
	}
	return out
}
