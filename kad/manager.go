package kad

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

// ManagerParams configure the node set of one Kademlia overlay.
type ManagerParams struct {
	Background context.Context
	Env        *sim.Env
	Collector  *stats.Collector
	// N is the initial node count. The first two nodes are hardwired into
	// each other's buckets so the network is connected before any join.
	N            int
	LogWorldSize int
	K            int
	Alpha        int
	// MaxTimeout zero means the Kademlia peer default, not the client one.
	MaxTimeout            float64
	MeanTransmissionDelay float64
	MeanServiceTime       float64
	QueueCapacity         int
}

// Manager owns the Kademlia node set.
type Manager struct {
	params ManagerParams
	env    *sim.Env
	rng    *sim.RNG
	nodes  []*Node
}

func Factory(params simulation.Params) dht.Manager {
	return NewManager(ManagerParams{
		Background:            params.Background,
		Env:                   params.Env,
		Collector:             params.Collector,
		N:                     params.Config.Nodes,
		LogWorldSize:          params.Config.LogWorldSize,
		K:                     params.Config.Kad.K,
		Alpha:                 params.Config.Kad.Alpha,
		MaxTimeout:            params.Config.PeerTimeout,
		MeanTransmissionDelay: params.Config.MeanTransmissionDelay,
		MeanServiceTime:       params.Config.MeanServiceTime,
		QueueCapacity:         params.Config.QueueCapacity,
	})
}

func NewManager(params ManagerParams) *Manager {
	m := &Manager{
		params: params,
		env:    params.Env,
		rng:    sim.NewRNG("kad_manager"),
	}
	for i := 0; i < params.N; i++ {
		m.nodes = append(m.nodes, m.newNode())
	}
	m.nodes[0].updateBucket(m.nodes[1])
	m.nodes[1].updateBucket(m.nodes[0])
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
		K:     m.params.K,
		Alpha: m.params.Alpha,
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
	return n, nil
}

func (m *Manager) ChangeEnv(env *sim.Env) {
	m.env = env
	for _, n := range m.nodes {
		n.ChangeEnv(env)
	}
}

// Stabilize is a no-op: buckets refresh from lookup traffic alone.
func (m *Manager) Stabilize(p *sim.Proc) {}

// StartUpdates is a no-op for the same reason.
func (m *Manager) StartUpdates(env *sim.Env) {}

// WriteDot dumps every bucket entry as a directed edge.
func (m *Manager) WriteDot(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph kad {")
	byID := append([]*Node{}, m.nodes...)
	sort.Slice(byID, func(i, j int) bool { return byID[i].ID() < byID[j].ID() })
	for _, n := range byID {
		fmt.Fprintf(bw, "  %q;\n", n.String())
	}
	for _, n := range byID {
		for _, bucket := range n.buckets {
			for _, peer := range bucket {
				fmt.Fprintf(bw, "  %q -> %q;\n", n.String(), peer.String())
			}
		}
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
