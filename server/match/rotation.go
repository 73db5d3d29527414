package match

import "oracle-bluff/server/agent"

// Deceiver is the rotating deceiver for a 1-based round number.
func Deceiver(round int, participants []string) string {
	if len(participants) == 0 {
		return ""
	}
	n := len(participants)
	return participants[((round-1)%n+n)%n]
}

// Guessers is everyone except the rotating deceiver, in seat order.
func Guessers(round int, participants []string) []string {
	return without(participants, Deceiver(round, participants))
}

func without(participants []string, skip string) []string {
	out := make([]string, 0, len(participants))
	for _, p := range participants {
		if p != skip {
			out = append(out, p)
		}
	}
	return out
}

func (c Config) DeceiverFor(round int) string {
	if !c.RotateDeceiver {
		if len(c.Participants) == 0 {
			return ""
		}
		return c.Participants[0]
	}
	return Deceiver(round, c.Participants)
}

func (c Config) GuessersFor(round int) []string {
	return without(c.Participants, c.DeceiverFor(round))
}

func lastCompleted(rounds []*Round, window int, keep func(*Round) bool) []*Round {
	var done []*Round
	for _, r := range rounds {
		if r.Phase == PhaseCompleted && keep(r) {
			done = append(done, r)
		}
	}
	if window > 0 && len(done) > window {
		done = done[len(done)-window:]
	}
	return done
}

// DeceiverHistory summarizes every guesser's pick in the most recent
// completed rounds.
func DeceiverHistory(rounds []*Round, window int) []agent.RoundSummary {
	var out []agent.RoundSummary
	for _, r := range lastCompleted(rounds, window, func(*Round) bool { return true }) {
		s := agent.RoundSummary{Number: r.Number, Deceiver: r.Deceiver, Statements: r.ShuffledTexts()}
		for _, d := range r.Decisions {
			if d.Role == RoleGuesser {
				s.Picks = append(s.Picks, agent.Pick{Participant: d.Participant, Door: d.Choice, Outcome: string(d.Outcome)})
			}
		}
		out = append(out, s)
	}
	return out
}

// GuesserHistory keeps only the participant's own picks, keyed "self".
func GuesserHistory(rounds []*Round, participant string, window int) []agent.RoundSummary {
	guessed := func(r *Round) bool {
		d := r.Decision(participant)
		return d != nil && d.Role == RoleGuesser
	}
	var out []agent.RoundSummary
	for _, r := range lastCompleted(rounds, window, guessed) {
		d := r.Decision(participant)
		out = append(out, agent.RoundSummary{
			Number:     r.Number,
			Deceiver:   r.Deceiver,
			Statements: r.ShuffledTexts(),
			Picks:      []agent.Pick{{Participant: "self", Door: d.Choice, Outcome: string(d.Outcome)}},
		})
	}
	return out
}
