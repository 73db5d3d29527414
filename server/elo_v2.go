package main

import (
	"math"

	"oracle-bluff/server/engine"
)

const (
	eloStart = 1500.0
	eloK     = 24.0
)

// Elo keeps one rating per participant. Every guesser pick is a game
// between the guesser and that round's deceiver.
type Elo struct {
	Ratings map[string]float64
	Games   map[string]int
	Start   float64
	K       float64 // base K
}

func NewElo(start, k float64) *Elo {
	return &Elo{Ratings: map[string]float64{}, Games: map[string]int{}, Start: start, K: k}
}

func (e *Elo) rating(p string) float64 {
	if r, ok := e.Ratings[p]; ok {
		return r
	}
	e.Ratings[p] = e.Start
	return e.Start
}

func expect(ra, rb float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (rb-ra)/400.0))
}

// Update applies one guesser-vs-deceiver game and returns the deltas.
func (e *Elo) Update(guesser, deceiver string, score float64) (dG, dD float64) {
	rg, rd := e.rating(guesser), e.rating(deceiver)
	eg := expect(rg, rd)

	dG = e.K * decay(e.Games[guesser]) * (score - eg)
	dD = e.K * decay(e.Games[deceiver]) * ((1 - score) - (1 - eg))

	e.Ratings[guesser] = rg + dG
	e.Ratings[deceiver] = rd + dD
	e.Games[guesser]++
	e.Games[deceiver]++
	return dG, dD
}

// OutcomeScore is the guesser's game score for the door it opened.
func OutcomeScore(t engine.DoorType) float64 {
	switch t {
	case engine.Treasure:
		return 1
	case engine.Trap:
		return 0
	default:
		return 0.5
	}
}

// ---- helpers ----

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

// decay anneals K slowly as a participant accumulates games, never below half.
func decay(games int) float64 {
	return clamp(1.0/math.Sqrt(1.0+float64(games)/200.0), 0.5, 1.0)
}
