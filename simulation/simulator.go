package simulation

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"

	"dhtsim/dht"
	"dhtsim/sim"
	"dhtsim/stats"
)

// SimulatorParams configure one run.
type SimulatorParams struct {
	// Background is the context loggers are drawn from.
	Background context.Context
	Collector  *stats.Collector
	Config     Config
	// DHT names the registered variant to simulate.
	DHT string
}

// Simulator owns one two-phase run.
type Simulator struct {
	bg   context.Context
	cfg  Config
	col  *stats.Collector
	mgr  dht.Manager
	env  *sim.Env
	rng  *sim.RNG
	keys []string
}

// New validates the config, seeds the random streams, and builds the
// overlay on a fresh join environment. Nothing runs until Join.
func New(params SimulatorParams) (*Simulator, error) {
	if err := params.Config.Validate(); err != nil {
		return nil, err
	}
	if params.Background == nil {
		params.Background = logctx.NewContext(context.Background(), zap.NewNop())
	}
	if params.Collector == nil {
		params.Collector = stats.New()
	}
	sim.SetMasterSeed(params.Config.Seed)
	env := sim.NewEnv()
	mgr, err := NewManager(params.DHT, Params{
		Background: params.Background,
		Env:        env,
		Collector:  params.Collector,
		Config:     params.Config,
	})
	if err != nil {
		return nil, err
	}
	keys := make([]string, params.Config.NKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("key_%d", i)
	}
	return &Simulator{
		bg:   params.Background,
		cfg:  params.Config,
		col:  params.Collector,
		mgr:  mgr,
		env:  env,
		rng:  sim.NewRNG("simulator"),
		keys: keys,
	}, nil
}

// Manager exposes the overlay under simulation.
func (s *Simulator) Manager() dht.Manager {
	return s.mgr
}

// Collector exposes the measurement sink.
func (s *Simulator) Collector() *stats.Collector {
	return s.col
}

// Env returns the environment of the current phase.
func (s *Simulator) Env() *sim.Env {
	return s.env
}

// Run performs the whole simulation: Join, then Steady.
func (s *Simulator) Run() error {
	if err := s.Join(); err != nil {
		return err
	}
	s.Steady()
	return nil
}

// Join runs the construction phase. Every node beyond the hardwired pair
// joins through a node that joined before it, the variant stabilizes
// once, and the environment runs to quiescence.
func (s *Simulator) Join() error {
	var joinErr error
	s.env.Go(func(p *sim.Proc) {
		nodes := s.mgr.Nodes()
		for i := 2; i < len(nodes); i++ {
			boot := nodes[s.rng.Intn(i)]
			s.debugf("%v joining through %v", nodes[i], boot)
			if err := nodes[i].Join(p, boot); err != nil {
				joinErr = errors.Wrapf(err, "joining %v through %v", nodes[i], boot)
				return
			}
		}
		s.mgr.Stabilize(p)
		s.logf("all %d nodes joined", len(nodes))
	})
	s.env.Run()
	return joinErr
}

// Steady discards construction measurements, rebinds the overlay to a
// fresh environment, and runs the client workload plus any enabled churn
// until MaxTime.
func (s *Simulator) Steady() {
	s.col.Clear()
	env := sim.NewEnv()
	s.env = env
	s.mgr.ChangeEnv(env)
	s.mgr.StartUpdates(env)
	env.Go(s.clients)
	if s.cfg.CrashRate > 0 {
		env.Go(s.crashes)
	}
	if s.cfg.JoinRate > 0 {
		env.Go(s.joins)
	}
	env.RunUntil(s.cfg.MaxTime)
	s.logf("steady state finished, %d nodes healthy of %d",
		len(s.mgr.HealthyNodes()), len(s.mgr.Nodes()))
}

// clients spawns one client per exponential arrival, each performing a
// single random find or store through a uniformly chosen node. Crashed
// targets stay eligible; their timeouts are part of the measurement.
func (s *Simulator) clients(p *sim.Proc) {
	for i := 0; ; i++ {
		p.Sleep(s.rng.Exponential(s.cfg.ClientRate))
		store := s.rng.Intn(2) == 1
		key := s.keys[s.rng.Intn(len(s.keys))]
		nodes := s.mgr.Nodes()
		target := nodes[s.rng.Intn(len(nodes))]
		client := dht.NewClient(dht.NodeParams{
			Background:            s.bg,
			Env:                   s.env,
			Collector:             s.col,
			Name:                  fmt.Sprintf("client_%05d", i),
			LogWorldSize:          s.cfg.LogWorldSize,
			MaxTimeout:            s.cfg.ClientTimeout,
			MeanTransmissionDelay: s.cfg.MeanTransmissionDelay,
		})
		if store {
			value := s.rng.Intn(s.cfg.MaxValue)
			s.env.Go(func(p *sim.Proc) {
				start := s.env.Now()
				hops, err := client.StoreValue(p, target, key, value)
				s.col.AddClientOp("store", err == nil, s.env.Now()-start, hops)
			})
		} else {
			s.env.Go(func(p *sim.Proc) {
				start := s.env.Now()
				_, hops, err := client.FindValue(p, target, key)
				s.col.AddClientOp("find", err == nil, s.env.Now()-start, hops)
			})
		}
	}
}

// crashes kills one random healthy node per exponential arrival.
func (s *Simulator) crashes(p *sim.Proc) {
	for {
		p.Sleep(s.rng.Exponential(s.cfg.CrashRate))
		healthy := s.mgr.HealthyNodes()
		if len(healthy) == 0 {
			return
		}
		victim := healthy[s.rng.Intn(len(healthy))]
		victim.Crash()
		s.logf("%v crashed", victim)
	}
}

// joins adds one node per exponential arrival. A join that times out
// leaves the node behind, unjoined; it serves whatever finds it anyway.
func (s *Simulator) joins(p *sim.Proc) {
	for {
		p.Sleep(s.rng.Exponential(s.cfg.JoinRate))
		s.env.Go(func(p *sim.Proc) {
			if _, err := s.mgr.AddNode(p); err != nil {
				s.warnf("churn join failed: %v", err)
			}
		})
	}
}

func (s *Simulator) logf(format string, args ...any) {
	logctx.Infof(s.bg, "%8.2f simulator: %s", s.env.Now(), fmt.Sprintf(format, args...))
}

func (s *Simulator) debugf(format string, args ...any) {
	logctx.Debugf(s.bg, "%8.2f simulator: %s", s.env.Now(), fmt.Sprintf(format, args...))
}

func (s *Simulator) warnf(format string, args ...any) {
	logctx.Warnf(s.bg, "%8.2f simulator: %s", s.env.Now(), fmt.Sprintf(format, args...))
}
