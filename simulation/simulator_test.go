package simulation_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"dhtsim/chord"
	"dhtsim/dht/dhttest"
	"dhtsim/kad"
	"dhtsim/simulation"
)

func TestMain(m *testing.M) {
	simulation.Register("kad", kad.Factory)
	simulation.Register("chord", chord.Factory)
	os.Exit(m.Run())
}

func TestFactories(t *testing.T) {
	require.Equal(t, []string{"chord", "kad"}, simulation.Factories())
}

func TestRegisterDuplicate(t *testing.T) {
	require.Panics(t, func() {
		simulation.Register("kad", kad.Factory)
	})
}

func TestNewUnknownVariant(t *testing.T) {
	_, err := simulation.New(simulation.SimulatorParams{
		Config: simulation.DefaultConfig(),
		DHT:    "pastry",
	})
	require.Error(t, err)
	require.True(t, simulation.IsErrConfig(err))
	require.Contains(t, err.Error(), "chord, kad")
}

func TestNewBadConfig(t *testing.T) {
	cfg := simulation.DefaultConfig()
	cfg.Nodes = 1
	_, err := simulation.New(simulation.SimulatorParams{Config: cfg, DHT: "kad"})
	require.Error(t, err)
	require.True(t, simulation.IsErrConfig(err))
}

func TestRunKad(t *testing.T) {
	cfg := testConfig(30)
	cfg.LogWorldSize = 8
	s, err := simulation.New(simulation.SimulatorParams{
		Background: dhttest.Context(t),
		Config:     cfg,
		DHT:        "kad",
	})
	require.NoError(t, err)

	require.NoError(t, s.Join())
	require.Len(t, s.Manager().HealthyNodes(), cfg.Nodes)
	require.Zero(t, s.Env().Pending())

	s.Steady()
	require.Equal(t, cfg.MaxTime, s.Env().Now())
	snap := s.Collector().Snapshot()
	require.NotEmpty(t, snap.QueueLoad)
	require.NotEmpty(t, snap.WaitTimes)
}

func TestRunChord(t *testing.T) {
	cfg := testConfig(31)
	cfg.LogWorldSize = 16
	s, err := simulation.New(simulation.SimulatorParams{
		Background: dhttest.Context(t),
		Config:     cfg,
		DHT:        "chord",
	})
	require.NoError(t, err)
	require.NoError(t, s.Run())
	require.Equal(t, cfg.MaxTime, s.Env().Now())
	require.NotEmpty(t, s.Collector().Snapshot().QueueLoad)
}

func TestRunChurn(t *testing.T) {
	cfg := testConfig(32)
	cfg.LogWorldSize = 8
	cfg.CrashRate = 10
	cfg.JoinRate = 10
	s, err := simulation.New(simulation.SimulatorParams{
		Background: dhttest.Context(t),
		Config:     cfg,
		DHT:        "kad",
	})
	require.NoError(t, err)
	require.NoError(t, s.Run())
	require.Greater(t, len(s.Manager().Nodes()), cfg.Nodes)
	require.Less(t, len(s.Manager().HealthyNodes()), len(s.Manager().Nodes()))
}

// testConfig keeps runs small enough for the suite while still producing
// a few hundred client arrivals.
func testConfig(seed uint64) simulation.Config {
	cfg := simulation.DefaultConfig()
	cfg.Seed = seed
	cfg.Nodes = 8
	cfg.MaxTime = 200
	cfg.ClientRate = 1
	cfg.NKeys = 5
	return cfg
}
