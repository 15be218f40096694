// Package dhttest holds the conformance suite every DHT variant runs,
// plus helpers shared by the variant tests.
package dhttest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"dhtsim/dht"
	"dhtsim/sim"
	"dhtsim/stats"
)

// Context returns a context that logs through zap at Info, keeping
// per-packet debug chatter out of test output.
func Context(t testing.TB) context.Context {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	l, err := cfg.Build()
	require.NoError(t, err)
	return logctx.NewContext(context.Background(), l)
}

// Factory builds a manager with n nodes bound to env. The first two nodes
// must know each other; the rest join explicitly.
type Factory func(t testing.TB, ctx context.Context, env *sim.Env, col *stats.Collector, n int) dht.Manager

// TestManager runs the conformance suite against the variant behind
// factory. Subtests run sequentially: random streams are package-global
// state.
func TestManager(t *testing.T, factory Factory) {
	t.Run("SelfLookup", func(t *testing.T) {
		sim.SetMasterSeed(42)
		ctx := Context(t)
		env := sim.NewEnv()
		col := stats.New()
		mgr := factory(t, ctx, env, col, 10)
		JoinAll(t, env, mgr)

		nodes := mgr.Nodes()
		env.Go(func(p *sim.Proc) {
			for _, n := range nodes {
				found, hops, err := n.FindNode(p, n.ID(), nil)
				require.NoError(t, err)
				require.True(t, ContainsID(found, n.ID()), "%v missing from its own lookup %v", n, found)
				require.GreaterOrEqual(t, hops, 0)
			}
		})
		env.Run()
	})
	t.Run("StoreFind", func(t *testing.T) {
		sim.SetMasterSeed(43)
		ctx := Context(t)
		env := sim.NewEnv()
		col := stats.New()
		mgr := factory(t, ctx, env, col, 10)
		JoinAll(t, env, mgr)

		nodes := mgr.Nodes()
		client := dht.NewClient(dht.NodeParams{
			Background:   ctx,
			Env:          env,
			Collector:    col,
			Name:         "client_00000",
			LogWorldSize: nodes[0].Bits(),
		})
		env.Go(func(p *sim.Proc) {
			hops, err := client.StoreValue(p, nodes[2], "key_1", "v")
			require.NoError(t, err)
			require.GreaterOrEqual(t, hops, 0)

			v, _, err := client.FindValue(p, nodes[7], "key_1")
			require.NoError(t, err)
			require.Equal(t, "v", v)
		})
		env.Run()
	})
	t.Run("AgreeOnKey", func(t *testing.T) {
		sim.SetMasterSeed(44)
		ctx := Context(t)
		env := sim.NewEnv()
		col := stats.New()
		mgr := factory(t, ctx, env, col, 10)
		JoinAll(t, env, mgr)

		nodes := mgr.Nodes()
		key := dht.NewID("key_agree", nodes[0].Bits())
		var results [][]dht.Peer
		env.Go(func(p *sim.Proc) {
			for _, i := range []int{1, 4, 8} {
				found, _, err := nodes[i].FindNode(p, key, nil)
				require.NoError(t, err)
				require.NotEmpty(t, found)
				results = append(results, found)
			}
		})
		env.Run()

		common := false
		for _, cand := range results[0] {
			if ContainsID(results[1], cand.ID()) && ContainsID(results[2], cand.ID()) {
				common = true
				break
			}
		}
		require.True(t, common, "askers disagree on the nodes responsible for %d", key)
	})
	t.Run("CrashTimeout", func(t *testing.T) {
		sim.SetMasterSeed(45)
		ctx := Context(t)
		env := sim.NewEnv()
		col := stats.New()
		mgr := factory(t, ctx, env, col, 10)
		JoinAll(t, env, mgr)

		nodes := mgr.Nodes()
		crashed := nodes[3]
		crashed.Crash()
		require.Len(t, mgr.HealthyNodes(), 9)

		client := dht.NewClient(dht.NodeParams{
			Background:   ctx,
			Env:          env,
			Collector:    col,
			Name:         "client_00000",
			LogWorldSize: nodes[0].Bits(),
		})
		before := col.Timeouts()
		env.Go(func(p *sim.Proc) {
			start := env.Now()
			v, hops, err := client.FindValue(p, crashed, "unreachable")
			require.True(t, dht.IsErrTimeout(err))
			require.Nil(t, v)
			require.Equal(t, -1, hops)
			require.Equal(t, start+client.MaxTimeout(), env.Now())
		})
		env.Run()
		require.Equal(t, before+1, col.Timeouts())
	})
}

// JoinAll joins every node after the bootstrap pair through its
// predecessor, runs one stabilization pass, and runs env to quiescence.
func JoinAll(t testing.TB, env *sim.Env, mgr dht.Manager) {
	nodes := mgr.Nodes()
	env.Go(func(p *sim.Proc) {
		for i := 2; i < len(nodes); i++ {
			require.NoError(t, nodes[i].Join(p, nodes[i-1]))
		}
		mgr.Stabilize(p)
	})
	env.Run()
}

// ContainsID reports whether peers includes one with the given id.
func ContainsID(peers []dht.Peer, id uint64) bool {
	for _, p := range peers {
		if p.ID() == id {
			return true
		}
	}
	return false
}
