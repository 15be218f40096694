package chord

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/pkg/errors"

	"dhtsim/dht"
	"dhtsim/sim"
	"dhtsim/simulation"
	"dhtsim/stats"
)

// Finger tables go stale as the network changes, so every node reruns
// update on a jittered period.
const (
	DefaultStabilizeMean   = 50.0
	DefaultStabilizeStddev = 100.0
	DefaultStabilizeMin    = 10.0
)

// ManagerParams configure the node set of one Chord overlay.
type ManagerParams struct {
	Background context.Context
	Env        *sim.Env
	Collector  *stats.Collector
	// N is the initial node count. The first two nodes are hardwired as
	// each other's successor and predecessor on every ring.
	N                     int
	LogWorldSize          int
	K                     int
	MaxTimeout            float64
	MeanTransmissionDelay float64
	MeanServiceTime       float64
	QueueCapacity         int
	// Stabilization period, drawn per round from a clamped normal.
	StabilizeMean   float64
	StabilizeStddev float64
	StabilizeMin    float64
}

// Manager owns the Chord node set.
type Manager struct {
	params ManagerParams
	env    *sim.Env
	rng    *sim.RNG
	nodes  []*Node

	// set once StartUpdates has run, so late joiners stabilize too
	updatesEnv *sim.Env
}

func Factory(params simulation.Params) dht.Manager {
	return NewManager(ManagerParams{
		Background:            params.Background,
		Env:                   params.Env,
		Collector:             params.Collector,
		N:                     params.Config.Nodes,
		LogWorldSize:          params.Config.LogWorldSize,
		K:                     params.Config.Chord.K,
		MaxTimeout:            params.Config.PeerTimeout,
		MeanTransmissionDelay: params.Config.MeanTransmissionDelay,
		MeanServiceTime:       params.Config.MeanServiceTime,
		QueueCapacity:         params.Config.QueueCapacity,
		StabilizeMean:         params.Config.Chord.StabilizeMean,
		StabilizeStddev:       params.Config.Chord.StabilizeStddev,
		StabilizeMin:          params.Config.Chord.StabilizeMin,
	})
}

func NewManager(params ManagerParams) *Manager {
	if params.StabilizeMean == 0 {
		params.StabilizeMean = DefaultStabilizeMean
	}
	if params.StabilizeStddev == 0 {
		params.StabilizeStddev = DefaultStabilizeStddev
	}
	if params.StabilizeMin == 0 {
		params.StabilizeMin = DefaultStabilizeMin
	}
	m := &Manager{
		params: params,
		env:    params.Env,
		rng:    sim.NewRNG("chord_manager"),
	}
	for i := 0; i < params.N; i++ {
		m.nodes = append(m.nodes, m.newNode())
	}
	a, b := m.nodes[0], m.nodes[1]
	for index := 0; index < a.k; index++ {
		a.setSucc(index, b)
		a.setPred(index, b)
		b.setSucc(index, a)
		b.setPred(index, a)
	}
	return m
}

func (m *Manager) newNode() *Node {
	return NewNode(NodeParams{
		DHTNodeParams: dht.DHTNodeParams{
			NodeParams: dht.NodeParams{
				Background:            m.params.Background,
				Env:                   m.env,
				Collector:             m.params.Collector,
				Name:                  fmt.Sprintf("node_%05d", len(m.nodes)),
				LogWorldSize:          m.params.LogWorldSize,
				MaxTimeout:            m.params.MaxTimeout,
				MeanTransmissionDelay: m.params.MeanTransmissionDelay,
			},
			MeanServiceTime: m.params.MeanServiceTime,
			QueueCapacity:   m.params.QueueCapacity,
		},
		K: m.params.K,
	})
}

func (m *Manager) Nodes() []dht.Peer {
	peers := make([]dht.Peer, len(m.nodes))
	for i, n := range m.nodes {
		peers[i] = n
	}
	return peers
}

func (m *Manager) HealthyNodes() []dht.Peer {
	var peers []dht.Peer
	for _, n := range m.nodes {
		if !n.Crashed() {
			peers = append(peers, n)
		}
	}
	return peers
}

// AddNode constructs one more node and joins it through a random healthy
// node. The node is kept even when its join times out; it retries nothing.
func (m *Manager) AddNode(p *sim.Proc) (dht.Peer, error) {
	var healthy []*Node
	for _, n := range m.nodes {
		if !n.Crashed() {
			healthy = append(healthy, n)
		}
	}
	if len(healthy) == 0 {
		return nil, errors.New("no healthy node to join through")
	}
	boot := healthy[m.rng.Intn(len(healthy))]
	n := m.newNode()
	m.nodes = append(m.nodes, n)
	if err := n.Join(p, boot); err != nil {
		return n, errors.Wrapf(err, "joining %v through %v", n, boot)
	}
	if m.updatesEnv != nil {
		m.startNodeUpdates(n)
	}
	return n, nil
}

func (m *Manager) ChangeEnv(env *sim.Env) {
	m.env = env
	for _, n := range m.nodes {
		n.ChangeEnv(env)
	}
}

// Stabilize refreshes every healthy node's finger tables once, all nodes
// concurrently, and returns when the last one is done.
func (m *Manager) Stabilize(p *sim.Proc) {
	var procs []*sim.Proc
	for _, n := range m.nodes {
		if n.Crashed() {
			continue
		}
		n := n
		procs = append(procs, m.env.Go(func(p *sim.Proc) { n.update(p) }))
	}
	ends := make([]*sim.Signal, len(procs))
	for i, pr := range procs {
		ends[i] = pr.End()
	}
	p.Wait(sim.AllOf(m.env, ends...))
}

// StartUpdates puts every node on a periodic stabilization schedule.
// Nodes added later pick up the schedule as they join.
func (m *Manager) StartUpdates(env *sim.Env) {
	m.updatesEnv = env
	for _, n := range m.nodes {
		m.startNodeUpdates(n)
	}
}

func (m *Manager) startNodeUpdates(n *Node) {
	m.updatesEnv.Go(func(p *sim.Proc) {
		for {
			p.Sleep(n.RNG().Normal(m.params.StabilizeMean, m.params.StabilizeStddev, m.params.StabilizeMin))
			if n.Crashed() {
				return
			}
			n.update(p)
		}
	})
}

// WriteDot dumps the first ring's successor cycle.
func (m *Manager) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph chord {")
	byID := append([]*Node{}, m.nodes...)
	sort.Slice(byID, func(i, j int) bool { return byID[i].ID() < byID[j].ID() })
	for _, n := range byID {
		fmt.Fprintf(bw, "  %q;\n", n.String())
	}
	for _, n := range byID {
		if succ := n.succ[0]; succ != nil {
			fmt.Fprintf(bw, "  %q -> %q;\n", n.String(), succ.String())
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
