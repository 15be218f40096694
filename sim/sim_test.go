package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScheduleFIFO(t *testing.T) {
	e := NewEnv()
	var got []int
	e.Schedule(1, func() { got = append(got, 1) })
	e.Schedule(0, func() { got = append(got, 0) })
	e.Schedule(1, func() { got = append(got, 2) })
	e.Schedule(1, func() { got = append(got, 3) })
	e.Run()
	require.Equal(t, []int{0, 1, 2, 3}, got)
	require.Equal(t, 1.0, e.Now())
	require.Equal(t, 0, e.Pending())
}

func TestRunUntil(t *testing.T) {
	e := NewEnv()
	var fired []float64
	for _, d := range []float64{1, 2, 3, 4} {
		d := d
		e.Schedule(d, func() { fired = append(fired, d) })
	}
	e.RunUntil(2.5)
	require.Equal(t, []float64{1, 2}, fired)
	require.Equal(t, 2.5, e.Now())
	require.Equal(t, 2, e.Pending())

	e.RunUntil(4)
	require.Equal(t, []float64{1, 2, 3, 4}, fired)
	require.Equal(t, 4.0, e.Now())
}

func TestProcSleep(t *testing.T) {
	e := NewEnv()
	var trace []string
	p := e.Go(func(p *Proc) {
		trace = append(trace, fmt.Sprintf("start@%v", p.Env().Now()))
		p.Sleep(5)
		trace = append(trace, fmt.Sprintf("wake@%v", p.Env().Now()))
	})
	require.False(t, p.Done())
	e.Run()
	require.True(t, p.Done())
	require.Equal(t, []string{"start@0", "wake@5"}, trace)
}

func TestProcEnd(t *testing.T) {
	e := NewEnv()
	a := e.Go(func(p *Proc) { p.Sleep(3) })
	endAt := -1.0
	e.Go(func(p *Proc) {
		p.Wait(a.End())
		endAt = p.Env().Now()
	})
	e.Run()
	require.Equal(t, 3.0, endAt)
}

func TestSignalFireOnce(t *testing.T) {
	e := NewEnv()
	s := e.NewSignal()
	require.False(t, s.Fired())
	require.True(t, s.Fire())
	require.False(t, s.Fire())
	require.True(t, s.Fired())
}

func TestSignalOnFireAfterFired(t *testing.T) {
	e := NewEnv()
	s := e.NewSignal()
	s.Fire()
	ran := false
	s.OnFire(func() { ran = true })
	require.False(t, ran)
	e.Run()
	require.True(t, ran)
}

func TestCombinators(t *testing.T) {
	e := NewEnv()
	a, b := e.Timeout(1), e.Timeout(4)
	all := AllOf(e, a, b)
	any := AnyOf(e, a, b)
	allAt, anyAt := -1.0, -1.0
	e.Go(func(p *Proc) { p.Wait(any); anyAt = p.Env().Now() })
	e.Go(func(p *Proc) { p.Wait(all); allAt = p.Env().Now() })
	e.Run()
	require.Equal(t, 1.0, anyAt)
	require.Equal(t, 4.0, allAt)

	require.True(t, AllOf(e).Fired())
	require.True(t, AnyOf(e).Fired())
}

func TestTimeoutRace(t *testing.T) {
	e := NewEnv()
	resp := e.NewSignal()
	e.Schedule(2, func() { resp.Fire() })
	timeout := e.Timeout(10)
	at := -1.0
	timedOut := false
	e.Go(func(p *Proc) {
		p.Wait(AnyOf(p.Env(), resp, timeout))
		at = p.Env().Now()
		timedOut = timeout.Fired() && !resp.Fired()
	})
	e.Run()
	require.Equal(t, 2.0, at)
	require.False(t, timedOut)
}

func TestResourceFIFO(t *testing.T) {
	e := NewEnv()
	r := NewResource(e)
	var order []string
	var waits []float64
	hold := func(name string, dur float64) func(*Proc) {
		return func(p *Proc) {
			w := r.Acquire(p)
			order = append(order, name)
			waits = append(waits, w)
			p.Sleep(dur)
			r.Release()
		}
	}
	e.Go(hold("a", 2))
	e.Go(hold("b", 3))
	e.Go(hold("c", 1))
	e.Run()
	require.Equal(t, []string{"a", "b", "c"}, order)
	require.Equal(t, []float64{0, 2, 5}, waits)
	require.False(t, r.Busy())
	require.Equal(t, 0, r.Len())
}

func TestResourceLen(t *testing.T) {
	e := NewEnv()
	r := NewResource(e)
	e.Go(func(p *Proc) { r.Acquire(p); p.Sleep(10); r.Release() })
	e.Go(func(p *Proc) { r.Acquire(p); r.Release() })
	e.Go(func(p *Proc) { r.Acquire(p); r.Release() })
	e.RunUntil(5)
	require.True(t, r.Busy())
	require.Equal(t, 2, r.Len())
	e.Run()
	require.Equal(t, 0, r.Len())
	require.False(t, r.Busy())
}

func TestRNGMasterSeed(t *testing.T) {
	SetMasterSeed(42)
	x1 := NewRNG("node_00000").Float64()
	SetMasterSeed(42)
	x2 := NewRNG("node_00000").Float64()
	require.Equal(t, x1, x2)
	require.Greater(t, x1, 0.0)
	require.Less(t, x1, 1.0)
}

func TestRNGDomains(t *testing.T) {
	SetMasterSeed(7)
	r := NewRNG("domains")
	for i := 0; i < 100; i++ {
		require.GreaterOrEqual(t, r.Exponential(0.5), 0.0)
		n := r.Intn(10)
		require.GreaterOrEqual(t, n, 0)
		require.Less(t, n, 10)
		require.GreaterOrEqual(t, r.Normal(50, 100, 10), 10.0)
	}
}
