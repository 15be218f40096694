package stats

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"go.brendoncarroll.net/tai64"
)

// Snapshot is the JSON document a run writes: exactly the three measured
// series, plus the generation timestamp.
type Snapshot struct {
	GeneratedAt      string                  `json:"generated_at"`
	TimedOutRequests int                     `json:"timed_out_requests"`
	QueueLoad        map[string][]LoadSample `json:"queue_load"`
	WaitTimes        map[string][]float64    `json:"wait_times"`
}

// Snapshot captures the collector's current state.
func (c *Collector) Snapshot() *Snapshot {
	load := make(map[string][]LoadSample, len(c.load))
	for k, v := range c.load {
		load[k] = v
	}
	waits := make(map[string][]float64, len(c.waits))
	for k, v := range c.waits {
		waits[k] = v
	}
	return &Snapshot{
		GeneratedAt:      fmt.Sprintf("%x", tai64.Now().TAI64().Marshal()),
		TimedOutRequests: c.timeouts,
		QueueLoad:        load,
		WaitTimes:        waits,
	}
}

// WriteFile writes the snapshot as indented JSON.
func (s *Snapshot) WriteFile(p string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "marshaling snapshot")
	}
	return os.WriteFile(p, data, 0o644)
}

// Equal reports whether two snapshots measured the same thing, ignoring
// the generation timestamps.
func (s *Snapshot) Equal(o *Snapshot) bool {
	a, b := *s, *o
	a.GeneratedAt, b.GeneratedAt = "", ""
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return string(aj) == string(bj)
}
