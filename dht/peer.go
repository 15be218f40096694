package dht

import (
	"io"

	"dhtsim/sim"
)

// Peer is the capability set every DHT variant exposes: identity, routing,
// the remote handlers other entities address packets to, and the lifecycle
// hooks the simulation driver drives.
type Peer interface {
	Sender
	ID() uint64
	String() string
	Bits() int
	Crashed() bool
	Crash()
	ChangeEnv(*sim.Env)

	// FindNode locates the nodes responsible for key. askTo optionally
	// forces the first contact. hops counts routing rounds; when the
	// routing phase times out, found holds whatever was reachable and err
	// is an ErrTimeout.
	FindNode(p *sim.Proc, key uint64, askTo Peer) (found []Peer, hops int, err error)

	// Join inserts the node into the overlay via the bootstrap peer.
	Join(p *sim.Proc, to Peer) error

	// Distance is the variant's metric over the id space.
	Distance(a, b uint64) uint64

	// Remote handlers. HandleFindNode answers the variant's routing query;
	// the rest are shared DHTNode behavior.
	HandleFindNode(p *sim.Proc, pkt *Packet, req *Request)
	HandleFindValue(p *sim.Proc, pkt *Packet, req *Request)
	HandleStoreValue(p *sim.Proc, pkt *Packet, req *Request)
	HandleGetValue(p *sim.Proc, pkt *Packet, req *Request)
	HandleSetValue(p *sim.Proc, pkt *Packet, req *Request)
}

// Manager owns the node set of one overlay variant.
type Manager interface {
	// Nodes returns every node, joined or not, in construction order.
	Nodes() []Peer
	// HealthyNodes returns the nodes that have not crashed.
	HealthyNodes() []Peer
	// AddNode constructs one more node, joined through a healthy existing
	// node, and returns it.
	AddNode(p *sim.Proc) (Peer, error)
	// ChangeEnv rebinds every node to a fresh environment.
	ChangeEnv(env *sim.Env)
	// Stabilize runs one maintenance pass over every healthy node. The
	// driver calls it once after the join phase.
	Stabilize(p *sim.Proc)
	// StartUpdates launches the variant's periodic steady-state
	// maintenance, if it has any.
	StartUpdates(env *sim.Env)
	// WriteDot dumps the overlay topology as a Graphviz digraph.
	WriteDot(w io.Writer) error
}
