// Package randsrc provides the uniform random sources consumed by the
// stochastic engines. Engines take a Source so tests can pin the sequence.
package randsrc

import "math/rand/v2"

// Source yields uniform samples in [0, 1).
type Source interface {
	Float64() float64
}

type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Global returns the process-wide source. Safe for concurrent use.
func Global() Source { return globalSource{} }

// Seeded returns a deterministic PCG source. Not safe for concurrent use;
// give each simulation its own.
func Seeded(seed uint64) Source {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// SequenceSource replays a fixed list of values, wrapping around at the end.
type SequenceSource struct {
	values []float64
	next   int
}

// Sequence returns a source cycling through values. An empty list yields 0.5.
func Sequence(values ...float64) *SequenceSource {
	return &SequenceSource{values: values}
}

// Float64 returns the next value in the sequence.
func (s *SequenceSource) Float64() float64 {
	if len(s.values) == 0 {
		return 0.5
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	return v
}

// Drawn reports how many values have been consumed.
func (s *SequenceSource) Drawn() int { return s.next }
