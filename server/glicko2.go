package main

import (
	"math"
	"sort"
)

// --- Glicko-2 constants (paper values) ---
const (
	g2Scale = 173.7178
	pi2     = math.Pi * math.Pi
	g2Tau   = 0.5
)

// Glicko2 holds the public 1500-scale values, not mu/phi.
type Glicko2 struct {
	Rating     float64 `json:"rating"`
	RD         float64 `json:"rd"`
	Volatility float64 `json:"volatility"`
	Periods    int     `json:"periods"`
}

func NewGlicko2() *Glicko2 {
	return &Glicko2{Rating: 1500, RD: 350, Volatility: 0.06}
}

func toMuPhi(r, rd float64) (mu, phi float64)   { return (r - 1500.0) / g2Scale, rd / g2Scale }
func fromMuPhi(mu, phi float64) (r, rd float64) { return mu*g2Scale + 1500.0, phi * g2Scale }

func g(phi float64) float64 { return 1.0 / math.Sqrt(1.0+3.0*phi*phi/pi2) }
func gExp(mu, muj, phij float64) float64 {
	return 1.0 / (1.0 + math.Exp(-g(phij)*(mu-muj)))
}

// glickoGame is one result against an opponent as rated at period start.
type glickoGame struct {
	opp Glicko2
	s   float64
}

// age widens RD for a period without games.
func (a *Glicko2) age() {
	mu, phi := toMuPhi(a.Rating, a.RD)
	a.Rating, a.RD = fromMuPhi(mu, math.Sqrt(phi*phi+a.Volatility*a.Volatility))
}

// update is the rating-period step for all games of one participant.
func (a *Glicko2) update(games []glickoGame) {
	a.Periods++
	if len(games) == 0 {
		a.age()
		return
	}
	mu, phi := toMuPhi(a.Rating, a.RD)

	var info, improvement float64
	for _, gm := range games {
		muj, phij := toMuPhi(gm.opp.Rating, gm.opp.RD)
		gj, ej := g(phij), gExp(mu, muj, phij)
		info += gj * gj * ej * (1 - ej)
		improvement += gj * (gm.s - ej)
	}
	v := 1.0 / info
	delta := v * improvement

	sigma := a.Volatility
	if math.Abs(delta) > 1e-12 {
		sigma = newVolatility(phi, v, delta, a.Volatility)
	}
	phiStar := math.Sqrt(phi*phi + sigma*sigma)
	phiNew := 1.0 / math.Sqrt(1.0/(phiStar*phiStar)+1.0/v)
	muNew := mu + phiNew*phiNew*improvement

	a.Rating, a.RD = fromMuPhi(muNew, phiNew)
	a.Volatility = sigma
}

// newVolatility solves f(x)=0 with the Illinois iteration from the paper.
func newVolatility(phi, v, delta, sigma float64) float64 {
	a := math.Log(sigma * sigma)
	f := func(x float64) float64 {
		ex := math.Exp(x)
		d := phi*phi + v + ex
		return ex*(delta*delta-phi*phi-v-ex)/(2*d*d) - (x-a)/(g2Tau*g2Tau)
	}

	lo := a
	var hi float64
	if delta*delta > phi*phi+v {
		hi = math.Log(delta*delta - phi*phi - v)
	} else {
		k := 1.0
		for f(a-k) < 0 && k < 1e6 {
			k *= 2
		}
		hi = a - k
	}
	fLo, fHi := f(lo), f(hi)
	for it := 0; it < 60 && math.Abs(hi-lo) > 1e-6; it++ {
		c := lo + (lo-hi)*fLo/(fHi-fLo)
		fc := f(c)
		if math.IsNaN(fc) || math.IsInf(fc, 0) {
			break
		}
		if fc*fHi < 0 {
			lo, fLo = hi, fHi
		} else {
			fLo /= 2
		}
		hi, fHi = c, fc
	}
	return math.Exp(hi / 2)
}

// GlickoPool rates every participant, one rating period per match.
type GlickoPool struct {
	Players map[string]*Glicko2
	pending map[string][]glickoGame
}

func NewGlickoPool() *GlickoPool {
	return &GlickoPool{Players: map[string]*Glicko2{}, pending: map[string][]glickoGame{}}
}

func (p *GlickoPool) player(id string) *Glicko2 {
	if pl, ok := p.Players[id]; ok {
		return pl
	}
	pl := NewGlicko2()
	p.Players[id] = pl
	return pl
}

// Record queues a guesser-vs-deceiver game for the current period.
func (p *GlickoPool) Record(guesser, deceiver string, score float64) {
	gs, ds := *p.player(guesser), *p.player(deceiver)
	p.pending[guesser] = append(p.pending[guesser], glickoGame{opp: ds, s: score})
	p.pending[deceiver] = append(p.pending[deceiver], glickoGame{opp: gs, s: 1 - score})
}

// ClosePeriod applies queued games to the listed participants. Opponent
// ratings are the ones captured when each game was recorded.
func (p *GlickoPool) ClosePeriod(participants []string) {
	ids := append([]string(nil), participants...)
	sort.Strings(ids)
	for _, id := range ids {
		p.player(id).update(p.pending[id])
	}
	p.pending = map[string][]glickoGame{}
}
