package main

import (
	"math"
	"math/rand"
	"sort"

	"oracle-bluff/server/engine"
)

// GuesserStats are a participant's results when picking doors.
type GuesserStats struct {
	Rounds    int
	Treasures int
	Traps     int
	Empties   int
	Score     int
	latency   int64
	points    []float64
}

func (s *GuesserStats) add(outcome engine.DoorType, delta int, latencyMs int64) {
	s.Rounds++
	switch outcome {
	case engine.Treasure:
		s.Treasures++
	case engine.Trap:
		s.Traps++
	default:
		s.Empties++
	}
	s.Score += delta
	s.latency += latencyMs
	s.points = append(s.points, float64(delta))
}

func (s *GuesserStats) AvgResponseMs() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.latency) / float64(s.Rounds)
}

func (s *GuesserStats) TreasureRate() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.Treasures) / float64(s.Rounds)
}

// DeceiverStats are a participant's results when writing statements.
type DeceiverStats struct {
	Rounds    int
	Trapped   int
	GivenAway int
	Score     int
}

func (s *DeceiverStats) TrapRate() float64 {
	if s.Rounds == 0 {
		return 0
	}
	return float64(s.Trapped) / float64(s.Rounds)
}

// --------- CI helpers ---------

// WilsonCI95 for a Bernoulli rate; ties count half.
func WilsonCI95(wins, ties, total int) (low, hi float64) {
	if total <= 0 {
		return 0, 1
	}
	z := 1.96
	n := float64(total)
	p := (float64(wins) + 0.5*float64(ties)) / n
	den := 1 + (z*z)/n
	center := p + (z*z)/(2*n)
	half := z * math.Sqrt((p*(1-p))/n+(z*z)/(4*n*n))
	return (center - half) / den, (center + half) / den
}

// BootstrapCI95 for the mean of values, resampled B times with rng.
func BootstrapCI95(vals []float64, B int, rng *rand.Rand) (low, hi float64) {
	n := len(vals)
	if n == 0 || B <= 1 {
		return 0, 0
	}
	res := make([]float64, B)
	for b := 0; b < B; b++ {
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += vals[rng.Intn(n)]
		}
		res[b] = sum / float64(n)
	}
	sort.Float64s(res)
	l := int(0.025 * float64(B-1))
	h := int(0.975 * float64(B-1))
	return res[l], res[h]
}
