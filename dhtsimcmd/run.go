package dhtsimcmd

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.brendoncarroll.net/stdctx/logctx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"dhtsim/simulation"
	"dhtsim/stats"
)

func newRunCmd() *cobra.Command {
	var (
		dhtName     string
		configPath  string
		outPath     string
		logLevel    string
		logFile     string
		metricsAddr string
		plot        bool
		nodes       int
		maxTime     float64
		seed        uint64
		rate        float64
		nkeys       int
		k           int
		alpha       int
		capacity    int
		crashRate   float64
		joinRate    float64
	)
	def := simulation.DefaultConfig()
	c := &cobra.Command{
		Use:   "run",
		Short: "runs one two-phase simulation and writes the measurement snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := def
			if configPath != "" {
				loaded, err := simulation.LoadConfig(configPath)
				if err != nil {
					return err
				}
				cfg = *loaded
			}
			// Explicit flags win over the config file.
			fl := cmd.Flags()
			if fl.Changed("nodes") {
				cfg.Nodes = nodes
			}
			if fl.Changed("max-time") {
				cfg.MaxTime = maxTime
			}
			if fl.Changed("seed") {
				cfg.Seed = seed
			}
			if fl.Changed("rate") {
				cfg.ClientRate = rate
			}
			if fl.Changed("nkeys") {
				cfg.NKeys = nkeys
			}
			if fl.Changed("k") {
				cfg.Kad.K, cfg.Chord.K = k, k
			}
			if fl.Changed("alpha") {
				cfg.Kad.Alpha = alpha
			}
			if fl.Changed("capacity") {
				cfg.QueueCapacity = capacity
			}
			if fl.Changed("crashrate") {
				cfg.CrashRate = crashRate
			}
			if fl.Changed("joinrate") {
				cfg.JoinRate = joinRate
			}

			ctx, err := newContext(logLevel, logFile)
			if err != nil {
				return err
			}
			col := stats.New()
			var metrics *stats.Metrics
			if metricsAddr != "" {
				metrics = stats.NewMetrics()
				col.WithMetrics(metrics)
			}
			s, err := simulation.New(simulation.SimulatorParams{
				Background: ctx,
				Collector:  col,
				Config:     cfg,
				DHT:        dhtName,
			})
			if err != nil {
				return err
			}
			runSim := func() error {
				if err := s.Join(); err != nil {
					return err
				}
				if plot {
					if err := writeDot(s, dhtName+"_network.dot"); err != nil {
						return err
					}
				}
				s.Steady()
				logctx.Infof(ctx, "writing snapshot to %s", outPath)
				return col.Snapshot().WriteFile(outPath)
			}
			if metricsAddr == "" {
				return runSim()
			}
			srv := &http.Server{Addr: metricsAddr, Handler: stats.NewHTTPHandler(metrics)}
			g := errgroup.Group{}
			g.Go(func() error {
				logctx.Infof(ctx, "serving metrics on %s", metricsAddr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					return err
				}
				return nil
			})
			g.Go(func() error {
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				return runSim()
			})
			return g.Wait()
		},
	}
	fl := c.Flags()
	fl.StringVarP(&dhtName, "dht", "d", "", "--dht=kad|chord")
	fl.StringVar(&configPath, "config", "", "--config=./path/to/config.yml")
	fl.StringVarP(&outPath, "out", "o", "data.json", "--out=./data.json")
	fl.StringVarP(&logLevel, "loglevel", "l", "", "log level, one of zap's level names")
	fl.StringVar(&logFile, "log-file", "", "--log-file=./kad_logs.log")
	fl.StringVar(&metricsAddr, "metrics-addr", "", "--metrics-addr=127.0.0.1:9090")
	fl.BoolVarP(&plot, "plot", "p", false, "write the overlay topology as a dot file after the join phase")
	fl.IntVarP(&nodes, "nodes", "n", def.Nodes, "number of nodes joining at the beginning")
	fl.Float64VarP(&maxTime, "max-time", "t", def.MaxTime, "virtual duration of the steady-state phase")
	fl.Uint64VarP(&seed, "seed", "s", def.Seed, "master random seed")
	fl.Float64VarP(&rate, "rate", "r", def.ClientRate, "mean client inter-arrival time, lower is faster")
	fl.IntVar(&nkeys, "nkeys", def.NKeys, "number of keys clients draw from")
	fl.IntVarP(&k, "k", "k", def.Kad.K, "k for Kademlia buckets and Chord rings")
	fl.IntVarP(&alpha, "alpha", "a", def.Kad.Alpha, "Kademlia lookup parallelism")
	fl.IntVarP(&capacity, "capacity", "q", def.QueueCapacity, "per-node service queue capacity")
	fl.Float64Var(&crashRate, "crashrate", def.CrashRate, "mean crash inter-arrival time, 0 disables crashes")
	fl.Float64Var(&joinRate, "joinrate", def.JoinRate, "mean churn join inter-arrival time, 0 disables joins")
	c.MarkFlagRequired("dht")
	return c
}

func newContext(level, file string) (context.Context, error) {
	zc := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing log level %q", level)
		}
		zc.Level = zap.NewAtomicLevelAt(lvl)
	}
	if file != "" {
		zc.OutputPaths = []string{file}
	}
	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return logctx.NewContext(context.Background(), l), nil
}

func writeDot(s *simulation.Simulator, p string) error {
	f, err := os.Create(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return s.Manager().WriteDot(f)
}
