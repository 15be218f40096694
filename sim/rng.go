package sim

import (
	"math"

	"github.com/iti/rngstream"
)

// RNG draws reproducible variates from a named rngstream stream. Every
// simulated entity owns its own stream, so one entity's draws never
// perturb another's sequence regardless of event interleaving.
type RNG struct {
	g *rngstream.RngStream
}

// NewRNG creates the stream named name. Stream state derives from the
// package master seed and the creation order, so streams must be created
// in a deterministic order.
func NewRNG(name string) *RNG {
	return &RNG{g: rngstream.New(name)}
}

// SetMasterSeed seeds the rngstream package for the whole run. Call it
// once, before creating any stream.
func SetMasterSeed(seed uint64) {
	rngstream.SetRngStreamMasterSeed(seed)
}

// Float64 returns a uniform draw from (0, 1).
func (r *RNG) Float64() float64 {
	return r.g.RandU01()
}

// Intn returns a uniform draw from [0, n). n must be positive.
func (r *RNG) Intn(n int) int {
	if n <= 0 {
		panic("sim: Intn needs n > 0")
	}
	return r.g.RandInt(0, n-1)
}

// Exponential returns an exponential variate with the given mean.
func (r *RNG) Exponential(mean float64) float64 {
	return -mean * math.Log(1.0-r.g.RandU01())
}

// Normal returns a normal variate clamped from below at min.
func (r *RNG) Normal(mean, stddev, min float64) float64 {
	u1 := r.g.RandU01()
	u2 := r.g.RandU01()
	z := math.Sqrt(-2.0*math.Log(1.0-u1)) * math.Cos(2.0*math.Pi*u2)
	return math.Max(min, mean+stddev*z)
}
