// Package dht is the protocol-independent layer of the simulator: packets
// and one-shot requests, the transmission primitives every entity shares,
// the serialized service queue of DHT nodes, and the contracts concrete
// protocols implement.
package dht

import (
	"context"
	"fmt"

	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"dhtsim/internal/slices2"
	"dhtsim/sim"
	"dhtsim/stats"
)

// Defaults for node parameters. Delays and timeouts are in virtual time
// units.
const (
	DefaultMaxTimeout            = 50.0
	DefaultMeanTransmissionDelay = 0.5
	DefaultMeanServiceTime       = 0.1
	DefaultQueueCapacity         = 100
	DefaultLogWorldSize          = 10
)

// Handler serves one inbound packet. It runs on the packet's delivery
// process; req is resolved via SendResponse when the handler answers.
type Handler func(p *sim.Proc, pkt *Packet, req *Request)

// NodeParams configure the messaging layer shared by every entity on the
// virtual network.
type NodeParams struct {
	// Background is the context loggers are drawn from.
	Background context.Context
	Env        *sim.Env
	Collector  *stats.Collector
	Name       string
	// LogWorldSize is the number of id bits; ids live in [0, 2^bits).
	LogWorldSize          int
	MaxTimeout            float64
	MeanTransmissionDelay float64
	// Owner is recorded as the sender of outgoing packets. It defaults to
	// the node itself; concrete node types pass themselves so receivers
	// can recover them by assertion.
	Owner Sender
}

func (p *NodeParams) applyDefaults() {
	if p.Background == nil {
		p.Background = logctx.NewContext(context.Background(), zap.NewNop())
	}
	if p.Collector == nil {
		p.Collector = stats.New()
	}
	if p.LogWorldSize == 0 {
		p.LogWorldSize = DefaultLogWorldSize
	}
	if p.MaxTimeout == 0 {
		p.MaxTimeout = DefaultMaxTimeout
	}
	if p.MeanTransmissionDelay == 0 {
		p.MeanTransmissionDelay = DefaultMeanTransmissionDelay
	}
}

// Node sends packets, awaits responses, and logs against the virtual
// clock. It is the base of DHT nodes and clients alike; it owns a named
// random stream so its delay draws are independent of every other entity.
type Node struct {
	bg    context.Context
	env   *sim.Env
	rng   *sim.RNG
	col   *stats.Collector
	name  string
	id    uint64
	bits  int
	owner Sender

	maxTimeout       float64
	meanTransmission float64
}

func NewNode(params NodeParams) *Node {
	params.applyDefaults()
	if params.Env == nil {
		panic("dht: NodeParams.Env is required")
	}
	n := &Node{
		bg:               params.Background,
		env:              params.Env,
		rng:              sim.NewRNG(params.Name),
		col:              params.Collector,
		name:             params.Name,
		id:               NewID(params.Name, params.LogWorldSize),
		bits:             params.LogWorldSize,
		owner:            params.Owner,
		maxTimeout:       params.MaxTimeout,
		meanTransmission: params.MeanTransmissionDelay,
	}
	if n.owner == nil {
		n.owner = n
	}
	return n
}

func (n *Node) Name() string { return n.name }

func (n *Node) ID() uint64 { return n.id }

// Bits is the number of id bits of the node's world.
func (n *Node) Bits() int { return n.bits }

func (n *Node) Env() *sim.Env { return n.env }

func (n *Node) RNG() *sim.RNG { return n.rng }

func (n *Node) Collector() *stats.Collector { return n.col }

func (n *Node) MaxTimeout() float64 { return n.maxTimeout }

func (n *Node) String() string {
	return fmt.Sprintf("%s#%d", n.name, n.id)
}

// KeyID hashes a data key into the node's id space.
func (n *Node) KeyID(key string) uint64 {
	return NewID(key, n.bits)
}

// NewRequest returns an unresolved request bound to the node's env.
func (n *Node) NewRequest() *Request {
	return newRequest(n.env)
}

// SendRequest stamps the sender and schedules delivery of pkt to h after
// an exponential transmission delay. It never blocks; the returned request
// resolves when the remote side answers.
func (n *Node) SendRequest(h Handler, pkt *Packet) *Request {
	n.stampSender(pkt)
	req := n.NewRequest()
	delay := n.rng.Exponential(n.meanTransmission)
	n.Logf("sending %v", pkt)
	n.env.Go(func(p *sim.Proc) {
		p.Sleep(delay)
		h(p, pkt, req)
	})
	return req
}

// SendResponse stamps the sender and resolves req with pkt after an
// independent transmission delay.
func (n *Node) SendResponse(req *Request, pkt *Packet) {
	n.stampSender(pkt)
	delay := n.rng.Exponential(n.meanTransmission)
	n.env.Go(func(p *sim.Proc) {
		p.Sleep(delay)
		req.resolve(pkt)
	})
}

func (n *Node) stampSender(pkt *Packet) {
	if pkt.Sender != nil {
		violationf("packet %v already sent by %s", pkt, pkt.Sender.Name())
	}
	pkt.Sender = n.owner
}

// WaitResponses suspends until every request resolves or MaxTimeout
// elapses, whichever comes first. On timeout it bumps the collector's
// timeout counter once and returns the responses that did arrive along
// with ErrTimeout.
func (n *Node) WaitResponses(p *sim.Proc, reqs []*Request) ([]*Packet, error) {
	sigs := slices2.Map(reqs, func(r *Request) *sim.Signal { return r.sig })
	all := sim.AllOf(n.env, sigs...)
	timeout := n.env.Timeout(n.maxTimeout)
	p.Wait(sim.AnyOf(n.env, all, timeout))

	var pkts []*Packet
	for _, r := range reqs {
		if r.Resolved() {
			pkts = append(pkts, r.Response())
		}
	}
	if !all.Fired() {
		n.col.AddTimeout()
		n.Warnf("timed out. want=%d got=%d", len(reqs), len(pkts))
		return pkts, ErrTimeout{Want: len(reqs), Got: len(pkts)}
	}
	return pkts, nil
}

// WaitResponse awaits a single request.
func (n *Node) WaitResponse(p *sim.Proc, req *Request) (*Packet, error) {
	pkts, err := n.WaitResponses(p, []*Request{req})
	if err != nil {
		return nil, err
	}
	return pkts[0], nil
}

// Logf writes a debug line stamped with the virtual time and the node's
// name#id.
func (n *Node) Logf(format string, args ...any) {
	logctx.Debugf(n.bg, "%8.2f %s: %s", n.env.Now(), n, fmt.Sprintf(format, args...))
}

// Warnf logs notable but recoverable conditions: drops and timeouts.
func (n *Node) Warnf(format string, args ...any) {
	logctx.Warnf(n.bg, "%8.2f %s: %s", n.env.Now(), n, fmt.Sprintf(format, args...))
}
