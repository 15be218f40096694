// Package e2etest drives whole simulations through the public surface:
// the registry, the two-phase driver, and the snapshot.
package e2etest

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtsim/chord"
	"dhtsim/dht"
	"dhtsim/dht/dhttest"
	"dhtsim/kad"
	"dhtsim/sim"
	"dhtsim/simulation"
	"dhtsim/stats"
)

var variants = []string{"kad", "chord"}

func TestMain(m *testing.M) {
	simulation.Register("kad", kad.Factory)
	simulation.Register("chord", chord.Factory)
	os.Exit(m.Run())
}

// Every node of a freshly joined overlay can locate itself.
func TestSelfLookup(t *testing.T) {
	for _, name := range variants {
		name := name
		t.Run(name, func(t *testing.T) {
			cfg := simulation.DefaultConfig()
			cfg.Seed = 42
			cfg.Nodes = 10
			cfg.LogWorldSize = 8
			s := newSim(t, name, cfg)
			require.NoError(t, s.Join())

			env := s.Env()
			env.Go(func(p *sim.Proc) {
				for _, n := range s.Manager().Nodes() {
					found, _, err := n.FindNode(p, n.ID(), nil)
					require.NoError(t, err)
					require.True(t, dhttest.ContainsID(found, n.ID()), "%v cannot find itself", n)
				}
			})
			env.Run()
		})
	}
}

// A value stored through one node is found through another, within the
// client timeout.
func TestStoreThenFind(t *testing.T) {
	for _, name := range variants {
		name := name
		t.Run(name, func(t *testing.T) {
			cfg := simulation.DefaultConfig()
			cfg.Seed = 43
			cfg.Nodes = 10
			cfg.LogWorldSize = 16
			s := newSim(t, name, cfg)
			require.NoError(t, s.Join())

			env := s.Env()
			nodes := s.Manager().Nodes()
			env.Go(func(p *sim.Proc) {
				writer := newClient(s, cfg, "client_00000")
				_, err := writer.StoreValue(p, nodes[3], "key_1", "v")
				require.NoError(t, err)

				reader := newClient(s, cfg, "client_00001")
				start := env.Now()
				v, hops, err := reader.FindValue(p, nodes[7], "key_1")
				require.NoError(t, err)
				require.Equal(t, "v", v)
				require.GreaterOrEqual(t, hops, 0)
				require.LessOrEqual(t, env.Now()-start, cfg.ClientTimeout)
			})
			env.Run()
		})
	}
}

// A request against a crashed node times out after exactly the client
// timeout and counts exactly one timed-out wait.
func TestCrashTimeout(t *testing.T) {
	for _, name := range variants {
		name := name
		t.Run(name, func(t *testing.T) {
			cfg := simulation.DefaultConfig()
			cfg.Seed = 44
			cfg.Nodes = 10
			cfg.LogWorldSize = 16
			s := newSim(t, name, cfg)
			require.NoError(t, s.Join())

			env := s.Env()
			crashed := s.Manager().Nodes()[4]
			crashed.Crash()
			before := s.Collector().Timeouts()
			env.Go(func(p *sim.Proc) {
				c := newClient(s, cfg, "client_00000")
				start := env.Now()
				_, hops, err := c.FindValue(p, crashed, "key_1")
				require.True(t, dht.IsErrTimeout(err))
				require.Equal(t, -1, hops)
				require.Equal(t, start+cfg.ClientTimeout, env.Now())
			})
			env.Run()
			require.Equal(t, before+1, s.Collector().Timeouts())
		})
	}
}

// Two runs with the same seed measure exactly the same thing.
func TestDeterministicRuns(t *testing.T) {
	for _, name := range variants {
		name := name
		t.Run(name, func(t *testing.T) {
			cfg := simulation.DefaultConfig()
			cfg.Seed = 77
			cfg.Nodes = 8
			cfg.LogWorldSize = 16
			cfg.MaxTime = 100
			cfg.ClientRate = 1
			cfg.NKeys = 5
			first := runOnce(t, name, cfg)
			second := runOnce(t, name, cfg)
			require.True(t, first.Equal(second), "same seed produced different snapshots")
		})
	}
}

// Queue-load series walk in unit steps: an arrival lengthens the line by
// at most one, a release shortens it by one. Run under heavy load so the
// queues actually build.
func TestQueueLoadSteps(t *testing.T) {
	for _, name := range variants {
		name := name
		t.Run(name, func(t *testing.T) {
			cfg := simulation.DefaultConfig()
			cfg.Seed = 78
			cfg.Nodes = 8
			cfg.LogWorldSize = 16
			cfg.MaxTime = 150
			cfg.ClientRate = 0.2
			cfg.NKeys = 3
			s := newSim(t, name, cfg)
			require.NoError(t, s.Run())

			snap := s.Collector().Snapshot()
			require.NotEmpty(t, snap.QueueLoad)
			for node, series := range snap.QueueLoad {
				require.NotEmpty(t, series)
				require.Zero(t, series[0].Len, "%s first sample", node)
				for i := 1; i < len(series); i++ {
					require.GreaterOrEqual(t, series[i].T, series[i-1].T, "%s time went backwards", node)
					step := series[i].Len - series[i-1].Len
					require.LessOrEqual(t, step, 1, "%s sample %d", node, i)
					require.GreaterOrEqual(t, step, -1, "%s sample %d", node, i)
				}
				for i, sample := range series {
					require.GreaterOrEqual(t, sample.Len, 0, "%s sample %d", node, i)
					require.LessOrEqual(t, sample.Len, cfg.QueueCapacity, "%s sample %d", node, i)
				}
			}
			for node, waits := range snap.WaitTimes {
				require.NotEmpty(t, waits, node)
				for i, w := range waits {
					require.GreaterOrEqual(t, w, 0.0, "%s wait %d", node, i)
				}
			}
		})
	}
}

func newSim(t *testing.T, dhtName string, cfg simulation.Config) *simulation.Simulator {
	s, err := simulation.New(simulation.SimulatorParams{
		Background: dhttest.Context(t),
		Config:     cfg,
		DHT:        dhtName,
	})
	require.NoError(t, err)
	return s
}

func newClient(s *simulation.Simulator, cfg simulation.Config, name string) *dht.Client {
	return dht.NewClient(dht.NodeParams{
		Env:          s.Env(),
		Collector:    s.Collector(),
		Name:         name,
		LogWorldSize: cfg.LogWorldSize,
		MaxTimeout:   cfg.ClientTimeout,
	})
}

func runOnce(t *testing.T, dhtName string, cfg simulation.Config) *stats.Snapshot {
	s := newSim(t, dhtName, cfg)
	require.NoError(t, s.Run())
	return s.Collector().Snapshot()
}
