package simulation

import (
	"os"

	"gopkg.in/yaml.v3"

	"dhtsim/dht"
)

// KadConfig tunes the Kademlia variant. Zero values fall back to the kad
// package defaults.
type KadConfig struct {
	K     int `yaml:"k"`
	Alpha int `yaml:"alpha"`
}

// ChordConfig tunes the Chord variant. Zero values fall back to the chord
// package defaults.
type ChordConfig struct {
	K               int     `yaml:"k"`
	StabilizeMean   float64 `yaml:"stabilize_mean"`
	StabilizeStddev float64 `yaml:"stabilize_stddev"`
	StabilizeMin    float64 `yaml:"stabilize_min"`
}

// Config holds everything one run needs besides the variant name.
type Config struct {
	// Nodes is the size of the overlay built during the join phase. The
	// first two nodes are hardwired, so at least two are required.
	Nodes int `yaml:"nodes"`
	// MaxTime is the virtual duration of the steady-state phase.
	MaxTime float64 `yaml:"max_time"`
	Seed    uint64  `yaml:"seed"`
	// LogWorldSize is the number of id bits; ids live in [0, 2^bits).
	LogWorldSize int `yaml:"log_world_size"`

	// ClientTimeout bounds how long a client waits on a request.
	// PeerTimeout bounds node-to-node waits and is much tighter, so an
	// unresponsive hop is abandoned well before the client gives up.
	ClientTimeout         float64 `yaml:"client_timeout"`
	PeerTimeout           float64 `yaml:"peer_timeout"`
	MeanTransmissionDelay float64 `yaml:"mean_transmission_delay"`
	MeanServiceTime       float64 `yaml:"mean_service_time"`
	QueueCapacity         int     `yaml:"queue_capacity"`

	// ClientRate is the mean inter-arrival time of client requests.
	ClientRate float64 `yaml:"client_rate"`
	// NKeys is the workload key space; clients draw from key_0 .. key_{n-1}.
	NKeys int `yaml:"nkeys"`
	// MaxValue caps stored values; draws are uniform over [0, MaxValue).
	MaxValue int `yaml:"max_value"`
	// CrashRate and JoinRate are the churn inter-arrival means. Zero
	// disables the corresponding churn process.
	CrashRate float64 `yaml:"crash_rate"`
	JoinRate  float64 `yaml:"join_rate"`

	Kad   KadConfig   `yaml:"kad"`
	Chord ChordConfig `yaml:"chord"`
}

func DefaultConfig() Config {
	return Config{
		Nodes:                 10,
		MaxTime:               1000,
		Seed:                  420,
		LogWorldSize:          dht.DefaultLogWorldSize,
		ClientTimeout:         dht.DefaultMaxTimeout,
		PeerTimeout:           10,
		MeanTransmissionDelay: dht.DefaultMeanTransmissionDelay,
		MeanServiceTime:       dht.DefaultMeanServiceTime,
		QueueCapacity:         dht.DefaultQueueCapacity,
		ClientRate:            0.1,
		NKeys:                 100,
		MaxValue:              1_000_000_000,
		Kad: KadConfig{
			K:     5,
			Alpha: 3,
		},
		Chord: ChordConfig{
			K:               5,
			StabilizeMean:   50,
			StabilizeStddev: 100,
			StabilizeMin:    10,
		},
	}
}

// LoadConfig reads a config from p. Fields absent from the file keep
// their defaults.
func LoadConfig(p string) (*Config, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	c := DefaultConfig()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func SaveConfig(config Config, p string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return err
	}
	return os.WriteFile(p, data, 0o644)
}

func (c *Config) Validate() error {
	if c.Nodes < 2 {
		return configf("need at least 2 nodes, have %d", c.Nodes)
	}
	if c.LogWorldSize < 1 || c.LogWorldSize > 64 {
		return configf("log_world_size %d outside 1..64", c.LogWorldSize)
	}
	if c.MaxTime <= 0 {
		return configf("max_time %v must be positive", c.MaxTime)
	}
	if c.ClientTimeout <= 0 || c.PeerTimeout <= 0 {
		return configf("timeouts must be positive, have client=%v peer=%v", c.ClientTimeout, c.PeerTimeout)
	}
	if c.MeanTransmissionDelay <= 0 || c.MeanServiceTime <= 0 {
		return configf("delays must be positive, have transmission=%v service=%v", c.MeanTransmissionDelay, c.MeanServiceTime)
	}
	if c.QueueCapacity < 1 {
		return configf("queue_capacity %d must be at least 1", c.QueueCapacity)
	}
	if c.ClientRate <= 0 {
		return configf("client_rate %v must be positive", c.ClientRate)
	}
	if c.NKeys < 1 {
		return configf("nkeys %d must be at least 1", c.NKeys)
	}
	if c.MaxValue < 1 {
		return configf("max_value %d must be at least 1", c.MaxValue)
	}
	if c.CrashRate < 0 || c.JoinRate < 0 {
		return configf("churn rates cannot be negative, have crash=%v join=%v", c.CrashRate, c.JoinRate)
	}
	return nil
}
