package stats

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	c := New()
	c.AddTimeout()
	c.AddTimeout()
	c.AddLoad("node_00000", 1.5, 0)
	c.AddLoad("node_00000", 2.0, 1)
	c.AddWait("node_00000", 0.0)
	c.AddWait("node_00001", 2.5)

	require.Equal(t, 2, c.Timeouts())
	require.Equal(t, []LoadSample{{T: 1.5, Len: 0}, {T: 2.0, Len: 1}}, c.Load("node_00000"))
	require.Equal(t, []float64{2.5}, c.Waits("node_00001"))

	c.Clear()
	require.Equal(t, 0, c.Timeouts())
	require.Empty(t, c.Load("node_00000"))
	require.Empty(t, c.Waits("node_00001"))
}

func TestSnapshot(t *testing.T) {
	c := New()
	c.AddTimeout()
	c.AddLoad("node_00000", 0.5, 1)
	c.AddWait("node_00000", 0.25)

	s := c.Snapshot()
	require.NotEmpty(t, s.GeneratedAt)
	require.Equal(t, 1, s.TimedOutRequests)

	p := filepath.Join(t.TempDir(), "out.json")
	require.NoError(t, s.WriteFile(p))

	var round Snapshot
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &round))
	require.Equal(t, s.TimedOutRequests, round.TimedOutRequests)
	require.Equal(t, s.QueueLoad, round.QueueLoad)
	require.Equal(t, s.WaitTimes, round.WaitTimes)

	require.True(t, s.Equal(&round))
	round.TimedOutRequests++
	require.False(t, s.Equal(&round))
}

func TestMetricsMirror(t *testing.T) {
	m := NewMetrics()
	c := New().WithMetrics(m)
	c.AddTimeout()
	c.AddLoad("node_00000", 1.0, 3)
	c.AddWait("node_00000", 0.125)
	c.AddClientOp("find_value", true, 4.2, 3)
	c.AddClientOp("find_value", false, 0, -1)

	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	names := make(map[string]struct{}, len(mfs))
	for _, mf := range mfs {
		names[mf.GetName()] = struct{}{}
	}
	require.Contains(t, names, "dhtsim_timeouts_total")
	require.Contains(t, names, "dhtsim_queue_len")
	require.Contains(t, names, "dhtsim_client_ops_total")
}
