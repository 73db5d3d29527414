package main

import (
	"math/rand"
	"sort"

	"oracle-bluff/server/engine"
	"oracle-bluff/server/match"
)

type LeaderboardRow struct {
	Participant        string  `json:"participant"`
	Matches            int     `json:"matches"`
	RoundsPlayed       int     `json:"rounds_played"`
	Treasures          int     `json:"treasures_found"`
	Traps              int     `json:"traps_hit"`
	Empties            int     `json:"empty_doors"`
	GuesserScore       int     `json:"guesser_score"`
	RoundsAsDeceiver   int     `json:"rounds_as_deceiver"`
	PlayersTrapped     int     `json:"players_trapped"`
	TreasuresGivenAway int     `json:"treasures_given_away"`
	DeceiverScore      int     `json:"deceiver_score"`
	AvgResponseMs      float64 `json:"avg_response_ms"`
	CombinedScore      int     `json:"combined_score"`
	TreasureRate       float64 `json:"treasure_rate"`
	TreasureRateLow    float64 `json:"treasure_rate_ci_low"`
	TreasureRateHigh   float64 `json:"treasure_rate_ci_high"`
	TrapRate           float64 `json:"deceiver_trap_rate"`
	PointsLow          float64 `json:"points_per_round_ci_low"`
	PointsHigh         float64 `json:"points_per_round_ci_high"`
	Elo                float64 `json:"elo"`
	Glicko             Glicko2 `json:"glicko"`
}

type participantStats struct {
	matches  int
	guesser  GuesserStats
	deceiver DeceiverStats
}

const bootstrapSamples = 1000

// BuildLeaderboard aggregates completed matches, oldest first so the
// rating systems see games in the order they were played.
func BuildLeaderboard(matches []*match.Match) []LeaderboardRow {
	done := make([]*match.Match, 0, len(matches))
	for _, m := range matches {
		if m.Status == match.StatusCompleted {
			done = append(done, m)
		}
	}
	sort.SliceStable(done, func(i, j int) bool { return done[i].CreatedAt.Before(done[j].CreatedAt) })

	stats := map[string]*participantStats{}
	get := func(p string) *participantStats {
		s, ok := stats[p]
		if !ok {
			s = &participantStats{}
			stats[p] = s
		}
		return s
	}
	elo := NewElo(eloStart, eloK)
	glicko := NewGlickoPool()

	for _, m := range done {
		for _, p := range m.Config.Participants {
			get(p).matches++
		}
		for _, rd := range m.Rounds {
			if rd.Phase != match.PhaseCompleted {
				continue
			}
			dec := get(rd.Deceiver)
			dec.deceiver.Rounds++
			for _, d := range rd.Decisions {
				delta := 0
				if d.ScoreDelta != nil {
					delta = *d.ScoreDelta
				}
				if d.Role == match.RoleDeceiver {
					dec.deceiver.Score += delta
					continue
				}
				get(d.Participant).guesser.add(d.Outcome, delta, d.LatencyMs)
				switch d.Outcome {
				case engine.Trap:
					dec.deceiver.Trapped++
				case engine.Treasure:
					dec.deceiver.GivenAway++
				}
				score := OutcomeScore(d.Outcome)
				elo.Update(d.Participant, rd.Deceiver, score)
				glicko.Record(d.Participant, rd.Deceiver, score)
			}
		}
		glicko.ClosePeriod(m.Config.Participants)
	}

	rng := rand.New(rand.NewSource(1))
	names := make([]string, 0, len(stats))
	for p := range stats {
		names = append(names, p)
	}
	sort.Strings(names)

	rows := make([]LeaderboardRow, 0, len(stats))
	for _, p := range names {
		s := stats[p]
		g, d := &s.guesser, &s.deceiver
		row := LeaderboardRow{
			Participant:        p,
			Matches:            s.matches,
			RoundsPlayed:       g.Rounds,
			Treasures:          g.Treasures,
			Traps:              g.Traps,
			Empties:            g.Empties,
			GuesserScore:       g.Score,
			RoundsAsDeceiver:   d.Rounds,
			PlayersTrapped:     d.Trapped,
			TreasuresGivenAway: d.GivenAway,
			DeceiverScore:      d.Score,
			AvgResponseMs:      g.AvgResponseMs(),
			CombinedScore:      g.Score + d.Score,
			TreasureRate:       g.TreasureRate(),
			TrapRate:           d.TrapRate(),
			Elo:                eloStart,
		}
		row.TreasureRateLow, row.TreasureRateHigh = WilsonCI95(g.Treasures, 0, g.Rounds)
		row.PointsLow, row.PointsHigh = BootstrapCI95(g.points, bootstrapSamples, rng)
		if r, ok := elo.Ratings[p]; ok {
			row.Elo = r
		}
		if gl, ok := glicko.Players[p]; ok {
			row.Glicko = *gl
		} else {
			row.Glicko = *NewGlicko2()
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CombinedScore != rows[j].CombinedScore {
			return rows[i].CombinedScore > rows[j].CombinedScore
		}
		return rows[i].Participant < rows[j].Participant
	})
	return rows
}
