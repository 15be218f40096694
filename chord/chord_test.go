package chord

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtsim/dht"
	"dhtsim/dht/dhttest"
	"dhtsim/sim"
	"dhtsim/stats"
)

func TestManager(t *testing.T) {
	dhttest.TestManager(t, func(t testing.TB, ctx context.Context, env *sim.Env, col *stats.Collector, n int) dht.Manager {
		return NewManager(ManagerParams{
			Background:   ctx,
			Env:          env,
			Collector:    col,
			N:            n,
			LogWorldSize: 16,
		})
	})
}

func TestDistance(t *testing.T) {
	n := newTestNode(t, "node_00000")
	require.Equal(t, uint64(0), n.Distance(1234, 1234))
	require.Equal(t, uint64(16), n.Distance(65530, 10))
	a, b := uint64(10), uint64(250)
	require.Equal(t, uint64(240), n.Distance(a, b))
	require.Equal(t, uint64(0), (n.Distance(a, b)+n.Distance(b, a))&n.mask())
}

func TestBestNode(t *testing.T) {
	sim.SetMasterSeed(20)
	env := sim.NewEnv()
	n := newNodeOn(t, env, "node_00000")
	m := newNodeOn(t, env, "node_00001")

	// A fresh table knows nobody but the node itself.
	best, found := n.bestNode(0x1234, 0)
	require.Same(t, n, best)
	require.True(t, found)

	// The successor doubles as the farthest finger.
	n.setSucc(0, m)
	require.Same(t, m, n.succ[0])
	require.Same(t, m, n.ft[0][n.Bits()-1])

	best, found = n.bestNode(m.ID(), 0)
	require.Same(t, m, best)
	require.False(t, found)

	best, found = n.bestNode(n.ID(), 0)
	require.Same(t, n, best)
	require.True(t, found)
}

func TestJoinSplice(t *testing.T) {
	sim.SetMasterSeed(21)
	env, mgr := newTestManager(t, 3)
	env.Go(func(p *sim.Proc) {
		require.NoError(t, mgr.nodes[2].Join(p, mgr.nodes[0]))
	})
	env.Run()

	for index := 0; index < mgr.nodes[0].k; index++ {
		for _, n := range mgr.nodes {
			require.Same(t, n, n.succ[index].pred[index], "ring %d broken at %v", index, n)
		}
		a := mgr.nodes[0]
		require.Same(t, a, a.succ[index].succ[index].succ[index])
	}

	// Successors follow id order around the ring.
	for _, n := range mgr.nodes {
		succ := n.succ[0]
		for _, other := range mgr.nodes {
			if other != n && other != succ {
				require.Less(t, n.Distance(n.ID(), succ.ID()), n.Distance(n.ID(), other.ID()))
			}
		}
	}
}

func TestUpdateRefreshesFingers(t *testing.T) {
	sim.SetMasterSeed(22)
	env, mgr := newTestManager(t, 3)
	env.Go(func(p *sim.Proc) {
		require.NoError(t, mgr.nodes[2].Join(p, mgr.nodes[0]))
	})
	env.Run()

	n := mgr.nodes[1]
	env.Go(func(p *sim.Proc) { n.update(p) })
	env.Run()

	for x := 0; x < n.Bits(); x++ {
		key := (n.ID() + 1<<uint(x)) & n.mask()
		require.Same(t, ringOwner(mgr.nodes, key), n.ft[0][x], "finger %d wrong", x)
	}
}

func TestStartUpdates(t *testing.T) {
	sim.SetMasterSeed(23)
	env, mgr := newTestManager(t, 3)
	env.Go(func(p *sim.Proc) {
		require.NoError(t, mgr.nodes[2].Join(p, mgr.nodes[0]))
	})
	env.Run()

	run := sim.NewEnv()
	mgr.ChangeEnv(run)
	n := mgr.nodes[1]
	n.ft[0][3] = mgr.nodes[2] // gone stale, stabilization has to fix it
	mgr.StartUpdates(run)
	run.RunUntil(1200)

	for x := 0; x < n.Bits(); x++ {
		key := (n.ID() + 1<<uint(x)) & n.mask()
		require.Same(t, ringOwner(mgr.nodes, key), n.ft[0][x], "finger %d wrong", x)
	}
}

func TestLookupTimeout(t *testing.T) {
	sim.SetMasterSeed(24)
	env, mgr := newTestManager(t, 2)
	a, b := mgr.nodes[0], mgr.nodes[1]
	b.Crash()

	env.Go(func(p *sim.Proc) {
		node, hops := a.findNodeOnIndex(p, b.ID(), 0, nil)
		require.Nil(t, node)
		require.Equal(t, -1, hops)
	})
	env.Run()
	require.Equal(t, 1, mgr.params.Collector.Timeouts())
}

func TestWriteDot(t *testing.T) {
	sim.SetMasterSeed(25)
	_, mgr := newTestManager(t, 2)

	var sb strings.Builder
	require.NoError(t, mgr.WriteDot(&sb))
	out := sb.String()
	require.True(t, strings.HasPrefix(out, "digraph chord {"))
	a, b := mgr.nodes[0].String(), mgr.nodes[1].String()
	require.Contains(t, out, "\""+a+"\" -> \""+b+"\"")
	require.Contains(t, out, "\""+b+"\" -> \""+a+"\"")
}

// ringOwner scans every node for the one most tightly preceding key.
func ringOwner(nodes []*Node, key uint64) *Node {
	best := nodes[0]
	for _, m := range nodes[1:] {
		if m.Distance(m.ID(), key) < best.Distance(best.ID(), key) {
			best = m
		}
	}
	return best
}

func newTestManager(t *testing.T, n int) (*sim.Env, *Manager) {
	t.Helper()
	env := sim.NewEnv()
	mgr := NewManager(ManagerParams{
		Env:          env,
		Collector:    stats.New(),
		N:            n,
		LogWorldSize: 16,
		K:            2,
	})
	return env, mgr
}

func newTestNode(t *testing.T, name string) *Node {
	t.Helper()
	return newNodeOn(t, sim.NewEnv(), name)
}

func newNodeOn(t *testing.T, env *sim.Env, name string) *Node {
	t.Helper()
	return NewNode(NodeParams{
		DHTNodeParams: dht.DHTNodeParams{
			NodeParams: dht.NodeParams{Env: env, Name: name, LogWorldSize: 16},
		},
		K: 2,
	})
}
