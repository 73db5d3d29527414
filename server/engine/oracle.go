package engine

// Oracle is the deterministic side of a round: it hides the doors, states
// true clues about them and scores the guesses.
type Oracle struct {
	templates []Template
}

func NewOracle() *Oracle { return &Oracle{templates: templates} }

func (o *Oracle) GenerateState(seed *int64) State { return GenerateState(seed) }

// GenerateClues draws count distinct applicable templates using the state's
// seed, so the same state always yields the same clues.
func (o *Oracle) GenerateClues(s State, count int) []Sentence {
	var ok []Template
	for _, t := range o.templates {
		if t.Applicable(s) {
			ok = append(ok, t)
		}
	}
	r := rngFor(s.Seed)
	for i := len(ok) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		ok[i], ok[j] = ok[j], ok[i]
	}
	if count > len(ok) {
		count = len(ok)
	}
	out := make([]Sentence, 0, count)
	for _, t := range ok[:count] {
		out = append(out, Sentence{
			Text:       t.Generate(s, r),
			Source:     FromEngine,
			Truthful:   true,
			TemplateID: t.ID,
		})
	}
	return out
}

// Score applies +1/-1 for Treasure/Trap to each guesser and the mirror delta
// to the deceiver. Unknown doors count as Empty.
func (o *Oracle) Score(s State, guesses []Guess) Result {
	res := Result{
		Deltas:   make(map[string]int, len(guesses)),
		Outcomes: make(map[string]DoorType, len(guesses)),
	}
	for _, g := range guesses {
		outcome := Empty
		if d, ok := s.Door(g.Door); ok {
			outcome = d.Type
		}
		delta := 0
		switch outcome {
		case Treasure:
			delta = 1
		case Trap:
			delta = -1
		}
		res.Deltas[g.Participant] = delta
		res.Outcomes[g.Participant] = outcome
		res.DeceiverDelta -= delta
	}
	return res
}
