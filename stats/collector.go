// Package stats accumulates simulation measurements: timed-out request
// waits, per-node queue-load samples, and per-node queue wait durations.
// Those three series are what a run persists; Prometheus mirrors exist
// only for watching a live run.
package stats

// LoadSample is one observation of a node's inbound queue length.
type LoadSample struct {
	T   float64 `json:"t"`
	Len int     `json:"len"`
}

// Collector gathers the measurements of one simulation phase. It is not
// safe for concurrent use; the simulation kernel is single-threaded.
type Collector struct {
	timeouts int
	load     map[string][]LoadSample
	waits    map[string][]float64
	metrics  *Metrics
}

func New() *Collector {
	return &Collector{
		load:  make(map[string][]LoadSample),
		waits: make(map[string][]float64),
	}
}

// WithMetrics mirrors every record into m as well.
func (c *Collector) WithMetrics(m *Metrics) *Collector {
	c.metrics = m
	return c
}

// AddTimeout counts one timed-out wait.
func (c *Collector) AddTimeout() {
	c.timeouts++
	if c.metrics != nil {
		c.metrics.Timeouts.Inc()
	}
}

// AddLoad records a queue-length sample for node at virtual time t.
func (c *Collector) AddLoad(node string, t float64, length int) {
	c.load[node] = append(c.load[node], LoadSample{T: t, Len: length})
	if c.metrics != nil {
		c.metrics.QueueLen.WithLabelValues(node).Set(float64(length))
	}
}

// AddWait records virtual time spent waiting for node's service slot.
func (c *Collector) AddWait(node string, d float64) {
	c.waits[node] = append(c.waits[node], d)
	if c.metrics != nil {
		c.metrics.QueueWait.Observe(d)
	}
}

// AddClientOp mirrors a client operation outcome to Prometheus. Client
// outcomes are not part of the snapshot.
func (c *Collector) AddClientOp(kind string, ok bool, latency float64, hops int) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "timeout"
	}
	c.metrics.ClientOps.WithLabelValues(kind, outcome).Inc()
	if ok {
		c.metrics.ClientLatency.Observe(latency)
		if hops >= 0 {
			c.metrics.ClientHops.Observe(float64(hops))
		}
	}
}

// Timeouts returns the count of timed-out waits.
func (c *Collector) Timeouts() int {
	return c.timeouts
}

// Load returns the queue-length samples recorded for node.
func (c *Collector) Load(node string) []LoadSample {
	return c.load[node]
}

// Waits returns the wait durations recorded for node.
func (c *Collector) Waits(node string) []float64 {
	return c.waits[node]
}

// Clear discards everything recorded so far. The simulator calls it after
// the construction phase so only steady-state measurements persist.
func (c *Collector) Clear() {
	c.timeouts = 0
	c.load = make(map[string][]LoadSample)
	c.waits = make(map[string][]float64)
}
