package match

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"oracle-bluff/server/agent"
	"oracle-bluff/server/engine"
	"oracle-bluff/server/llm"
	"oracle-bluff/server/notify"
)

const (
	DefaultClueCount     = 2
	DefaultHistoryWindow = 5
	defaultMaxTokens     = 1024
)

// Repository persists match snapshots. SaveMatch must not overwrite a
// Paused or Cancelled status written by someone else; see MergeStatus.
type Repository interface {
	CreateMatch(ctx context.Context, m *Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*Match, error)
	ListMatches(ctx context.Context, statuses ...Status) ([]*Match, error)
	SaveMatch(ctx context.Context, m *Match) error
	TransitionStatus(ctx context.Context, id uuid.UUID, to Status) (Status, error)
}

type Oracle interface {
	GenerateState(seed *int64) engine.State
	GenerateClues(s engine.State, count int) []engine.Sentence
	Score(s engine.State, guesses []engine.Guess) engine.Result
}

// Runner drives a match through its rounds. One Runner serves every match;
// the Worker guarantees only one match runs at a time.
type Runner struct {
	Repo          Repository
	Oracle        Oracle
	Gateway       llm.Gateway
	Human         *Coordinator
	Notifier      notify.Notifier
	Parser        *agent.Parser
	ClueCount     int
	HistoryWindow int
	Logf          func(format string, args ...any)
}

func (r *Runner) logf(format string, args ...any) {
	if r.Logf != nil {
		r.Logf(format, args...)
		return
	}
	log.Printf(format, args...)
}

func (r *Runner) notify(ev notify.Event) {
	if r.Notifier != nil {
		r.Notifier.Notify(ev)
	}
}

// Run executes the match until it completes, is paused or cancelled, or
// fails. Already completed rounds are never replayed.
func (r *Runner) Run(ctx context.Context, id uuid.UUID) error {
	m, err := r.Repo.GetMatch(ctx, id)
	if err != nil {
		return fmt.Errorf("load match %s: %w", id, err)
	}
	if m.Status.Terminal() || m.Status == StatusPaused {
		r.logf("[runner] match %s is %s, skipping", id, m.Status)
		return nil
	}
	if err := m.Transition(StatusRunning); err != nil {
		return err
	}
	if m.StartedAt == nil {
		now := time.Now().UTC()
		m.StartedAt = &now
	}
	if m.Scores == nil {
		m.Scores = map[string]int{}
	}
	for _, p := range m.Config.Participants {
		if _, ok := m.Scores[p]; !ok {
			m.Scores[p] = 0
		}
	}

	err = r.Repo.SaveMatch(ctx, m)
	if err == nil {
		err = r.loop(ctx, m)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrWaitCancelled) || errors.Is(context.Cause(ctx), ErrMatchCancelled):
		r.finish(m, StatusCancelled, "")
		return nil
	case ctx.Err() != nil:
		r.interrupt(m)
		return nil
	default:
		r.finish(m, StatusFailed, err.Error())
		return err
	}
}

func (r *Runner) finish(m *Match, status Status, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if m.Status != status {
		if err := m.Transition(status); err != nil {
			r.logf("[runner] match %s: %v", m.ID, err)
			return
		}
	}
	m.Error = msg
	if status.Terminal() {
		now := time.Now().UTC()
		m.CompletedAt = &now
	}
	if err := r.Repo.SaveMatch(ctx, m); err != nil {
		r.logf("[runner] match %s: persist %s: %v", m.ID, status, err)
	}
	r.logf("[runner] match %s -> %s %s", m.ID, m.Status, msg)
	r.notify(notify.NewStatusChanged(m.ID.String(), string(m.Status)))
}

// interrupt persists a match stopped by shutdown as Running, so the next
// serve recovers it. An open human wait is dropped with the process and is
// asked again on resume.
func (r *Runner) interrupt(m *Match) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if m.Status == StatusWaiting {
		m.Status = StatusRunning
	}
	if err := r.Repo.SaveMatch(ctx, m); err != nil {
		r.logf("[runner] match %s: persist interrupted: %v", m.ID, err)
		return
	}
	r.logf("[runner] match %s interrupted as %s", m.ID, m.Status)
}

func (r *Runner) loop(ctx context.Context, m *Match) error {
	for {
		cur, err := r.Repo.GetMatch(ctx, m.ID)
		if err != nil {
			return fmt.Errorf("reload match: %w", err)
		}
		if cur.Status == StatusPaused || cur.Status.Terminal() {
			r.logf("[runner] match %s is %s, stopping before next round", m.ID, cur.Status)
			return nil
		}
		// a resume may have landed since our last write
		m.Status = cur.Status
		if err := ctx.Err(); err != nil {
			return err
		}

		rd := r.nextRound(m)
		if rd == nil {
			break
		}
		if err := r.playRound(ctx, m, rd); err != nil {
			return fmt.Errorf("round %d (%s): %w", rd.Number, rd.Phase, err)
		}
		r.logf("[runner] match %s round %d done, scores %v", m.ID, rd.Number, m.Scores)
		r.notify(notify.NewRoundCompleted(m.ID.String(), rd.Number, m.Scores, string(m.Status)))
	}

	if err := m.Transition(StatusCompleted); err != nil {
		return err
	}
	now := time.Now().UTC()
	m.CompletedAt = &now
	if err := r.Repo.SaveMatch(ctx, m); err != nil {
		return fmt.Errorf("persist completion: %w", err)
	}
	if m.Status != StatusCompleted {
		// paused or cancelled after the last round; resume completes it
		return nil
	}
	r.notify(notify.NewMatchCompleted(m.ID.String(), m.Scores))
	return nil
}

// nextRound resumes an unfinished round or opens the next one.
func (r *Runner) nextRound(m *Match) *Round {
	if n := len(m.Rounds); n > 0 && m.Rounds[n-1].Phase != PhaseCompleted {
		return m.Rounds[n-1]
	}
	if m.CompletedRounds() >= m.Config.TotalRounds {
		return nil
	}
	rd := &Round{
		ID:        uuid.New(),
		Number:    len(m.Rounds) + 1,
		Phase:     PhaseNotStarted,
		StartedAt: time.Now().UTC(),
	}
	m.Rounds = append(m.Rounds, rd)
	return rd
}

// playRound advances one phase at a time and persists after each step.
func (r *Runner) playRound(ctx context.Context, m *Match, rd *Round) error {
	for rd.Phase != PhaseCompleted {
		if err := ctx.Err(); err != nil {
			return err
		}
		var err error
		switch rd.Phase {
		case PhaseNotStarted:
			err = r.generateState(m, rd)
		case PhaseStateGenerated:
			rd.Truthful = r.Oracle.GenerateClues(*rd.State, r.clueCount())
			rd.Phase = PhaseCluesGenerated
		case PhaseCluesGenerated:
			err = r.deceive(ctx, m, rd)
		case PhaseDeceiverStatementsGenerated:
			rd.Shuffled = engine.Shuffle(rd.Truthful, rd.Deceptive, engine.RoundSeed(m.Config.Seed, rd.Number))
			rd.Phase = PhaseStatementsShuffled
		case PhaseStatementsShuffled:
			err = r.guess(ctx, m, rd)
		case PhaseGuessersDeciding:
			r.score(rd)
		case PhaseScoring:
			r.complete(m, rd)
		default:
			err = fmt.Errorf("unknown phase %s", rd.Phase)
		}
		if err != nil {
			return err
		}
		if err := r.Repo.SaveMatch(ctx, m); err != nil {
			return fmt.Errorf("persist %s: %w", rd.Phase, err)
		}
	}
	return nil
}

func (r *Runner) clueCount() int {
	if r.ClueCount > 0 {
		return r.ClueCount
	}
	return DefaultClueCount
}

func (r *Runner) window() int {
	if r.HistoryWindow > 0 {
		return r.HistoryWindow
	}
	return DefaultHistoryWindow
}

func (r *Runner) options(m *Match) llm.Options {
	opts := llm.Options{
		Temperature:    m.Config.Temperature,
		MaxTokens:      m.Config.MaxTokens,
		TimeoutSeconds: m.Config.TimeoutSeconds,
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return opts
}

func (r *Runner) generateState(m *Match, rd *Round) error {
	st := r.Oracle.GenerateState(engine.RoundSeed(m.Config.Seed, rd.Number))
	if err := engine.Validate(st); err != nil {
		return fmt.Errorf("invalid state: %w", err)
	}
	rd.State = &st
	rd.Phase = PhaseStateGenerated
	return nil
}

func (r *Runner) deceive(ctx context.Context, m *Match, rd *Round) error {
	rd.Deceiver = m.Config.DeceiverFor(rd.Number)
	d := &Decision{Participant: rd.Deceiver, Role: RoleDeceiver, Choice: NoChoice, CreatedAt: time.Now().UTC()}

	var statements []string
	if IsHuman(rd.Deceiver) {
		prompt := HumanPrompt{
			MatchID:       m.ID,
			RoundNumber:   rd.Number,
			Role:          RoleDeceiver,
			ParticipantID: rd.Deceiver,
			TreasureDoor:  rd.State.TreasureDoor(),
			TrapDoor:      rd.State.TrapDoor(),
			Clues:         texts(rd.Truthful),
		}
		in, err := r.waitHuman(ctx, m, prompt)
		if err != nil {
			return err
		}
		statements = in.Statements
		if len(statements) > 3 {
			statements = statements[:3]
		}
		d.Raw = strings.Join(statements, "\n")
		d.Rationale = in.Reasoning
		d.Strategy, d.ParseSuccess, d.Human = "human", true, true
	} else {
		var hist []agent.RoundSummary
		if m.Config.AdaptivePlay {
			hist = DeceiverHistory(m.Rounds, r.window())
		}
		sys, usr := agent.DeceiverSystemPrompt(), agent.DeceiverPrompt(*rd.State, rd.Truthful, hist)
		resp, err := r.Gateway.Send(ctx, rd.Deceiver, sys, usr, r.options(m))
		if err != nil {
			return fmt.Errorf("deceiver %s: %w", rd.Deceiver, err)
		}
		parsed := r.Parser.Statements(resp.Text)
		if !parsed.Success {
			r.logf("[runner] match %s round %d: deceiver %s parsed via %s", m.ID, rd.Number, rd.Deceiver, parsed.Strategy)
		}
		statements = parsed.Items
		fillModelDecision(d, resp, sys, usr)
		d.Strategy, d.ParseSuccess = parsed.Strategy, parsed.Success
	}

	rd.Deceptive = make([]engine.Sentence, 0, len(statements))
	for _, s := range statements {
		rd.Deceptive = append(rd.Deceptive, engine.Sentence{Text: strings.TrimSpace(s), Source: engine.FromDeceiver})
	}
	rd.Decisions = append(rd.Decisions, d)
	rd.Phase = PhaseDeceiverStatementsGenerated
	return nil
}

// guess collects one decision per guesser, persisting each as it lands so a
// resumed round skips guessers that already answered.
func (r *Runner) guess(ctx context.Context, m *Match, rd *Round) error {
	for _, p := range m.Config.GuessersFor(rd.Number) {
		if rd.Decision(p) != nil {
			continue
		}
		d, err := r.decide(ctx, m, rd, p)
		if err != nil {
			return err
		}
		rd.Decisions = append(rd.Decisions, d)
		if err := r.Repo.SaveMatch(ctx, m); err != nil {
			return fmt.Errorf("persist decision of %s: %w", p, err)
		}
	}
	rd.Phase = PhaseGuessersDeciding
	return nil
}

func (r *Runner) decide(ctx context.Context, m *Match, rd *Round, p string) (*Decision, error) {
	d := &Decision{Participant: p, Role: RoleGuesser, CreatedAt: time.Now().UTC()}
	if IsHuman(p) {
		in, err := r.waitHuman(ctx, m, HumanPrompt{
			MatchID:       m.ID,
			RoundNumber:   rd.Number,
			Role:          RoleGuesser,
			ParticipantID: p,
			Statements:    rd.ShuffledTexts(),
		})
		if err != nil {
			return nil, err
		}
		d.Choice = strings.ToUpper(strings.TrimSpace(in.Door))
		if d.Choice == "" {
			d.Choice = "C"
		}
		d.Raw, d.Rationale = in.Door, in.Reasoning
		d.Strategy, d.ParseSuccess, d.Human = "human", true, true
		return d, nil
	}

	var hist []agent.RoundSummary
	if m.Config.AdaptivePlay {
		hist = GuesserHistory(m.Rounds, p, r.window())
	}
	sys, usr := agent.GuesserSystemPrompt(), agent.GuesserPrompt(rd.Shuffled, hist)
	resp, err := r.Gateway.Send(ctx, p, sys, usr, r.options(m))
	if err != nil {
		return nil, fmt.Errorf("guesser %s: %w", p, err)
	}
	c := r.Parser.Choice(resp.Text)
	if !c.Success {
		r.logf("[runner] match %s round %d: guesser %s parsed via %s", m.ID, rd.Number, p, c.Strategy)
	}
	fillModelDecision(d, resp, sys, usr)
	d.Choice, d.Rationale = c.Letter, c.Rationale
	d.Strategy, d.ParseSuccess = c.Strategy, c.Success
	return d, nil
}

func fillModelDecision(d *Decision, resp llm.Response, sys, usr string) {
	d.Raw = resp.Text
	d.PromptTokens = resp.PromptTokens
	d.CompletionTokens = resp.CompletionTokens
	d.LatencyMs = resp.LatencyMs
	d.FinishReason = resp.FinishReason
	d.SystemPrompt, d.UserPrompt = sys, usr
}

// waitHuman parks the match in WaitingForHumanInput until the person answers.
func (r *Runner) waitHuman(ctx context.Context, m *Match, prompt HumanPrompt) (HumanInput, error) {
	if r.Human == nil {
		return HumanInput{}, errors.New("no human coordinator configured")
	}
	prompt.Since = time.Now().UTC()
	// a pause requested mid-round lets the round finish, waits included
	if m.Status != StatusPaused {
		if err := m.Transition(StatusWaiting); err != nil {
			return HumanInput{}, err
		}
	}
	if err := r.Repo.SaveMatch(ctx, m); err != nil {
		return HumanInput{}, fmt.Errorf("persist waiting: %w", err)
	}
	r.notify(notify.NewWaiting(m.ID.String(), prompt.RoundNumber, string(prompt.Role), prompt.ParticipantID, prompt))
	r.logf("[runner] match %s round %d waiting on %s (%s)", m.ID, prompt.RoundNumber, prompt.ParticipantID, prompt.Role)

	in, err := r.Human.WaitForInput(ctx, m.ID, prompt.ParticipantID, prompt)
	if err != nil {
		return HumanInput{}, err
	}
	if m.Status == StatusWaiting {
		m.Status = StatusRunning
	}
	if err := r.Repo.SaveMatch(ctx, m); err != nil {
		return HumanInput{}, fmt.Errorf("persist resume: %w", err)
	}
	return in, nil
}

func (r *Runner) score(rd *Round) {
	var guesses []engine.Guess
	for _, d := range rd.Decisions {
		if d.Role == RoleGuesser {
			guesses = append(guesses, engine.Guess{Participant: d.Participant, Door: d.Choice})
		}
	}
	res := r.Oracle.Score(*rd.State, guesses)
	for _, d := range rd.Decisions {
		delta := res.DeceiverDelta
		if d.Role == RoleGuesser {
			delta = res.Deltas[d.Participant]
			d.Outcome = res.Outcomes[d.Participant]
		}
		d.ScoreDelta = &delta
	}
	rd.Phase = PhaseScoring
}

// complete attaches the result and folds the round into the running
// scores in the same snapshot.
func (r *Runner) complete(m *Match, rd *Round) {
	res := engine.Result{Deltas: map[string]int{}, Outcomes: map[string]engine.DoorType{}}
	for _, d := range rd.Decisions {
		if d.ScoreDelta == nil {
			continue
		}
		if d.Role == RoleDeceiver {
			res.DeceiverDelta = *d.ScoreDelta
			continue
		}
		res.Deltas[d.Participant] = *d.ScoreDelta
		res.Outcomes[d.Participant] = d.Outcome
	}
	for p, delta := range res.Deltas {
		m.Scores[p] += delta
	}
	m.Scores[rd.Deceiver] += res.DeceiverDelta

	now := time.Now().UTC()
	rd.Result = &res
	rd.CompletedAt = &now
	rd.Phase = PhaseCompleted
}

func texts(ss []engine.Sentence) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = s.Text
	}
	return out
}
