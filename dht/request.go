package dht

import "dhtsim/sim"

// Request tracks one outstanding remote call: a one-shot future resolved
// by the response packet. A request abandoned by a timed-out wait may
// still resolve later; nothing reads it then, so a late response has no
// observable effect.
type Request struct {
	sig  *sim.Signal
	resp *Packet
}

func newRequest(e *sim.Env) *Request {
	return &Request{sig: e.NewSignal()}
}

// Resolved reports whether the response has arrived.
func (r *Request) Resolved() bool {
	return r.sig.Fired()
}

// Response returns the response packet, or nil before resolution.
func (r *Request) Response() *Packet {
	return r.resp
}

// resolve delivers the response. Resolving twice is a protocol violation:
// each request corresponds to exactly one response.
func (r *Request) resolve(pkt *Packet) {
	if r.sig.Fired() {
		violationf("request resolved twice (by %v)", pkt)
	}
	r.resp = pkt
	r.sig.Fire()
}
