package match

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"oracle-bluff/server/agent"
	"oracle-bluff/server/engine"
	"oracle-bluff/server/llm"
	"oracle-bluff/server/notify"
)

// memRepo keeps JSON snapshots so the runner never shares pointers with it.
type memRepo struct {
	mu    sync.Mutex
	saves int
	rows  map[uuid.UUID][]byte
}

func newMemRepo() *memRepo { return &memRepo{rows: map[uuid.UUID][]byte{}} }

func (r *memRepo) put(m *Match) {
	raw, _ := json.Marshal(m)
	r.rows[m.ID] = raw
}

func (r *memRepo) get(id uuid.UUID) (*Match, error) {
	raw, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	var m Match
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *memRepo) CreateMatch(_ context.Context, m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(m)
	return nil
}

func (r *memRepo) GetMatch(_ context.Context, id uuid.UUID) (*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(id)
}

func (r *memRepo) ListMatches(_ context.Context, statuses ...Status) ([]*Match, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*Match
	for id := range r.rows {
		m, _ := r.get(id)
		if len(statuses) == 0 {
			out = append(out, m)
			continue
		}
		for _, s := range statuses {
			if m.Status == s {
				out = append(out, m)
				break
			}
		}
	}
	return out, nil
}

func (r *memRepo) SaveMatch(_ context.Context, m *Match) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.get(m.ID)
	if err != nil {
		return err
	}
	m.Status = MergeStatus(stored.Status, m.Status)
	r.saves++
	r.put(m)
	return nil
}

func (r *memRepo) TransitionStatus(_ context.Context, id uuid.UUID, to Status) (Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, err := r.get(id)
	if err != nil {
		return "", err
	}
	prev := m.Status
	if err := m.Transition(to); err != nil {
		return prev, err
	}
	r.put(m)
	return prev, nil
}

type scriptedGateway struct {
	mu    sync.Mutex
	calls map[string]int
	doors map[string]string
	fail  map[string]bool
}

func newScriptedGateway() *scriptedGateway {
	return &scriptedGateway{calls: map[string]int{}, doors: map[string]string{}, fail: map[string]bool{}}
}

func (g *scriptedGateway) Send(_ context.Context, agentID, system, _ string, _ llm.Options) (llm.Response, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls[agentID]++
	if g.fail[agentID] {
		return llm.Response{}, errors.New("provider down for " + agentID)
	}
	if system == agent.DeceiverSystemPrompt() {
		return llm.Response{Text: "1. Door A hides nothing.\n2. The treasure is next to door E.\n3. Door C is not the trap.", PromptTokens: 10, CompletionTokens: 20}, nil
	}
	door := g.doors[agentID]
	if door == "" {
		door = "B"
	}
	return llm.Response{Text: "DOOR: " + door + "\nREASONING: hunch", LatencyMs: 5}, nil
}

func (g *scriptedGateway) total() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		n += c
	}
	return n
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Notify(ev notify.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) count(k notify.Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Kind == k {
			n++
		}
	}
	return n
}

type fixture struct {
	repo   *memRepo
	gw     *scriptedGateway
	human  *Coordinator
	events *recorder
	runner *Runner
}

func newFixture() *fixture {
	f := &fixture{repo: newMemRepo(), gw: newScriptedGateway(), human: NewCoordinator(), events: &recorder{}}
	f.runner = &Runner{
		Repo:     f.repo,
		Oracle:   engine.NewOracle(),
		Gateway:  f.gw,
		Human:    f.human,
		Notifier: f.events,
		Parser:   agent.NewParser(),
		Logf:     func(string, ...any) {},
	}
	return f
}

func (f *fixture) create(t *testing.T, cfg Config) *Match {
	t.Helper()
	m := New(cfg)
	if err := f.repo.CreateMatch(context.Background(), m); err != nil {
		t.Fatal(err)
	}
	return m
}

func (f *fixture) load(t *testing.T, id uuid.UUID) *Match {
	t.Helper()
	m, err := f.repo.GetMatch(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func seeded(v int64) *int64 { return &v }

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// answer replies to every wait of participant until ctx ends.
func answer(ctx context.Context, c *Coordinator, matchID uuid.UUID, participant string) {
	for ctx.Err() == nil {
		if p, ok := c.WaitingContext(matchID); ok && p.ParticipantID == participant {
			in := HumanInput{Door: "b", Reasoning: "gut"}
			if p.Role == RoleDeceiver {
				in = HumanInput{Statements: []string{"Door A is safe.", "Door D is empty.", "The trap is left of C."}}
			}
			c.SubmitInput(matchID, participant, in)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRunnerPlaysRotatingMatch(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 2, Participants: []string{"a", "b", "c"}, RotateDeceiver: true, AdaptivePlay: true, Seed: seeded(42)})
	f.gw.doors["c"] = "D"

	if err := f.runner.Run(context.Background(), m.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got := f.load(t, m.ID)
	if got.Status != StatusCompleted || got.CompletedAt == nil || got.StartedAt == nil {
		t.Fatalf("status=%s completed=%v started=%v", got.Status, got.CompletedAt, got.StartedAt)
	}
	if len(got.Rounds) != 2 {
		t.Fatalf("rounds = %d", len(got.Rounds))
	}

	sums := map[string]int{}
	for i, rd := range got.Rounds {
		if want := []string{"a", "b"}[i]; rd.Deceiver != want {
			t.Fatalf("round %d deceiver = %s, want %s", rd.Number, rd.Deceiver, want)
		}
		if rd.Phase != PhaseCompleted || rd.Result == nil || rd.CompletedAt == nil {
			t.Fatalf("round %d not completed: %s", rd.Number, rd.Phase)
		}
		if len(rd.Truthful) != DefaultClueCount || len(rd.Deceptive) != 3 || len(rd.Shuffled) != DefaultClueCount+3 {
			t.Fatalf("round %d statements %d/%d/%d", rd.Number, len(rd.Truthful), len(rd.Deceptive), len(rd.Shuffled))
		}
		if len(rd.Decisions) != 3 {
			t.Fatalf("round %d decisions = %d", rd.Number, len(rd.Decisions))
		}
		for _, d := range rd.Decisions {
			if d.ScoreDelta == nil {
				t.Fatalf("round %d: %s has no score delta", rd.Number, d.Participant)
			}
			sums[d.Participant] += *d.ScoreDelta
			if d.Role == RoleDeceiver && d.Choice != NoChoice {
				t.Fatalf("deceiver choice = %q", d.Choice)
			}
			if d.Participant == "c" && d.Role == RoleGuesser && d.Choice != "D" {
				t.Fatalf("c picked %q", d.Choice)
			}
			if !d.ParseSuccess {
				t.Fatalf("%s parsed via %s", d.Participant, d.Strategy)
			}
		}
	}
	for p, want := range sums {
		if got.Scores[p] != want {
			t.Fatalf("score %s = %d, decisions sum to %d", p, got.Scores[p], want)
		}
	}
	if f.gw.total() != 6 {
		t.Fatalf("gateway calls = %d", f.gw.total())
	}
	if f.events.count(notify.RoundCompleted) != 2 || f.events.count(notify.MatchCompleted) != 1 {
		t.Fatalf("events = %+v", f.events.events)
	}
}

func TestRunnerIsDeterministicForSeed(t *testing.T) {
	f := newFixture()
	cfg := Config{TotalRounds: 3, Participants: []string{"a", "b", "c"}, RotateDeceiver: true, Seed: seeded(42)}
	m1, m2 := f.create(t, cfg), f.create(t, cfg)
	for _, id := range []uuid.UUID{m1.ID, m2.ID} {
		if err := f.runner.Run(context.Background(), id); err != nil {
			t.Fatal(err)
		}
	}
	r1, r2 := f.load(t, m1.ID), f.load(t, m2.ID)
	for i := range r1.Rounds {
		a, b := r1.Rounds[i], r2.Rounds[i]
		if a.State.TreasureDoor() != b.State.TreasureDoor() || a.State.TrapDoor() != b.State.TrapDoor() {
			t.Fatalf("round %d states differ", a.Number)
		}
		if strings.Join(a.ShuffledTexts(), "|") != strings.Join(b.ShuffledTexts(), "|") {
			t.Fatalf("round %d shuffles differ", a.Number)
		}
	}
}

func TestRunnerHumanDeceiver(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 1, Participants: []string{"human:ann", "b", "c"}, Seed: seeded(3)})

	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background(), m.ID) }()

	var prompt HumanPrompt
	waitFor(t, "human prompt", func() bool {
		var ok bool
		prompt, ok = f.human.WaitingContext(m.ID)
		return ok
	})
	if prompt.Role != RoleDeceiver || prompt.TreasureDoor == "" || prompt.TrapDoor == "" || len(prompt.Clues) != DefaultClueCount {
		t.Fatalf("prompt = %+v", prompt)
	}
	if s := f.load(t, m.ID).Status; s != StatusWaiting {
		t.Fatalf("status while waiting = %s", s)
	}
	if f.events.count(notify.WaitingForHumanInput) != 1 {
		t.Fatal("waiting event not published")
	}
	if f.human.SubmitInput(m.ID, "b", HumanInput{}) {
		t.Fatal("input for a participant nobody waits on was accepted")
	}
	statements := []string{"Door A is safe.", "Door D is empty.", "The trap is left of C."}
	if !f.human.SubmitInput(m.ID, "human:ann", HumanInput{Statements: statements}) {
		t.Fatal("submit rejected")
	}
	if err := <-done; err != nil {
		t.Fatal(err)
	}

	got := f.load(t, m.ID)
	rd := got.Round(1)
	if got.Status != StatusCompleted || rd.Deceiver != "human:ann" {
		t.Fatalf("status=%s deceiver=%s", got.Status, rd.Deceiver)
	}
	if d := rd.Decision("human:ann"); d == nil || !d.Human || d.Role != RoleDeceiver {
		t.Fatalf("human decision = %+v", d)
	}
	for i, s := range rd.Deceptive {
		if s.Text != statements[i] || s.Source != engine.FromDeceiver {
			t.Fatalf("deceptive[%d] = %+v", i, s)
		}
	}
}

func TestRunnerHumanGuesserDefaultsToC(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 1, Participants: []string{"a", "human:bo", "c"}, Seed: seeded(9)})
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background(), m.ID) }()

	waitFor(t, "guesser prompt", func() bool {
		p, ok := f.human.WaitingContext(m.ID)
		return ok && p.Role == RoleGuesser && len(p.Statements) == DefaultClueCount+3 && p.TreasureDoor == ""
	})
	f.human.SubmitInput(m.ID, "human:bo", HumanInput{Door: " "})
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if d := f.load(t, m.ID).Round(1).Decision("human:bo"); d.Choice != "C" {
		t.Fatalf("empty door became %q", d.Choice)
	}
}

func TestRunnerCancelDuringHumanWait(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 2, Participants: []string{"human:ann", "b", "c"}, Seed: seeded(1)})
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background(), m.ID) }()

	waitFor(t, "human prompt", func() bool { _, ok := f.human.WaitingContext(m.ID); return ok })
	if _, err := f.repo.TransitionStatus(context.Background(), m.ID, StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if n := f.human.CancelMatch(m.ID); n != 1 {
		t.Fatalf("cancelled %d waits", n)
	}
	if err := <-done; err != nil {
		t.Fatalf("cancel should not be reported as failure: %v", err)
	}
	got := f.load(t, m.ID)
	if got.Status != StatusCancelled || got.CompletedRounds() != 0 {
		t.Fatalf("status=%s rounds=%d", got.Status, got.CompletedRounds())
	}
	if _, ok := f.human.WaitingContext(m.ID); ok {
		t.Fatal("waiting context left behind")
	}
}

func TestRunnerShutdownLeavesMatchRecoverable(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 1, Participants: []string{"a", "b", "human:cy"}, Seed: seeded(1)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx, m.ID) }()

	waitFor(t, "human prompt", func() bool { _, ok := f.human.WaitingContext(m.ID); return ok })
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	got := f.load(t, m.ID)
	if got.Status != StatusRunning || got.CompletedAt != nil {
		t.Fatalf("status after shutdown = %s", got.Status)
	}
	if f.events.count(notify.StatusChanged) != 0 {
		t.Fatal("shutdown published a status change")
	}

	// the next process picks it up and asks the human again
	actx, astop := context.WithCancel(context.Background())
	defer astop()
	go answer(actx, f.human, m.ID, "human:cy")
	if err := f.runner.Run(context.Background(), m.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.load(t, m.ID); got.Status != StatusCompleted || got.CompletedRounds() != 1 {
		t.Fatalf("after recovery: status=%s rounds=%d", got.Status, got.CompletedRounds())
	}
}

func TestRunnerShutdownKeepsUserPause(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 1, Participants: []string{"a", "b", "human:cy"}, Seed: seeded(1)})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(ctx, m.ID) }()

	waitFor(t, "human prompt", func() bool { _, ok := f.human.WaitingContext(m.ID); return ok })
	if _, err := f.repo.TransitionStatus(context.Background(), m.ID, StatusPaused); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if s := f.load(t, m.ID).Status; s != StatusPaused {
		t.Fatalf("status = %s", s)
	}
}

// gatedGateway holds the first guesser call of each gated agent until the
// test releases it.
type gatedGateway struct {
	*scriptedGateway
	entered chan string
	release map[string]chan struct{}
}

func (g *gatedGateway) Send(ctx context.Context, agentID, system, user string, opts llm.Options) (llm.Response, error) {
	if rel, ok := g.release[agentID]; ok && system == agent.GuesserSystemPrompt() {
		g.entered <- agentID
		<-rel
	}
	return g.scriptedGateway.Send(ctx, agentID, system, user, opts)
}

func TestRunnerResumeWithinRoundKeepsRunning(t *testing.T) {
	f := newFixture()
	gw := &gatedGateway{
		scriptedGateway: f.gw,
		entered:         make(chan string, 8),
		release:         map[string]chan struct{}{"b": make(chan struct{}), "c": make(chan struct{})},
	}
	f.runner.Gateway = gw
	m := f.create(t, Config{TotalRounds: 2, Participants: []string{"a", "b", "c"}, RotateDeceiver: true, Seed: seeded(3)})
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background(), m.ID) }()

	if who := <-gw.entered; who != "b" {
		t.Fatalf("first guesser = %s", who)
	}
	if _, err := f.repo.TransitionStatus(context.Background(), m.ID, StatusPaused); err != nil {
		t.Fatal(err)
	}
	close(gw.release["b"])

	// b's decision has been saved over the pause by now
	if who := <-gw.entered; who != "c" {
		t.Fatalf("second guesser = %s", who)
	}
	if prev, err := f.repo.TransitionStatus(context.Background(), m.ID, StatusRunning); err != nil || prev != StatusPaused {
		t.Fatalf("resume: prev=%s err=%v", prev, err)
	}
	close(gw.release["c"])

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	got := f.load(t, m.ID)
	if got.Status != StatusCompleted || got.CompletedRounds() != 2 {
		t.Fatalf("status=%s completed=%d", got.Status, got.CompletedRounds())
	}
	if f.events.count(notify.MatchCompleted) != 1 {
		t.Fatal("completion not published")
	}
}

func TestRunnerPauseThenResume(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 2, Participants: []string{"human:ann", "b", "c"}, Seed: seeded(5)})
	done := make(chan error, 1)
	go func() { done <- f.runner.Run(context.Background(), m.ID) }()

	waitFor(t, "human prompt", func() bool { _, ok := f.human.WaitingContext(m.ID); return ok })
	if prev, err := f.repo.TransitionStatus(context.Background(), m.ID, StatusPaused); err != nil || prev != StatusWaiting {
		t.Fatalf("pause: prev=%s err=%v", prev, err)
	}
	f.human.SubmitInput(m.ID, "human:ann", HumanInput{Statements: []string{"x", "y", "z"}})
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	got := f.load(t, m.ID)
	if got.Status != StatusPaused || got.CompletedRounds() != 1 || len(got.Rounds) != 1 {
		t.Fatalf("after pause: status=%s completed=%d rounds=%d", got.Status, got.CompletedRounds(), len(got.Rounds))
	}
	round1 := got.Round(1).ID

	// a paused match is skipped until resumed
	if err := f.runner.Run(context.Background(), m.ID); err != nil {
		t.Fatal(err)
	}
	if f.load(t, m.ID).Status != StatusPaused {
		t.Fatal("paused match was run")
	}

	if _, err := f.repo.TransitionStatus(context.Background(), m.ID, StatusRunning); err != nil {
		t.Fatal(err)
	}
	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	go answer(ctx, f.human, m.ID, "human:ann")
	if err := f.runner.Run(context.Background(), m.ID); err != nil {
		t.Fatal(err)
	}
	got = f.load(t, m.ID)
	if got.Status != StatusCompleted || len(got.Rounds) != 2 || got.Round(1).ID != round1 {
		t.Fatalf("after resume: status=%s rounds=%d", got.Status, len(got.Rounds))
	}
}

func TestRunnerResumesMidRoundWithoutRepeatingGuessers(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 1, Participants: []string{"a", "b", "c"}, Seed: seeded(11)})
	if err := f.runner.Run(context.Background(), m.ID); err != nil {
		t.Fatal(err)
	}

	// rewind to a crash after b answered
	crashed := f.load(t, m.ID)
	rd := crashed.Round(1)
	rd.Phase, rd.Result, rd.CompletedAt = PhaseStatementsShuffled, nil, nil
	rd.Decisions = rd.Decisions[:2]
	for _, d := range rd.Decisions {
		d.ScoreDelta, d.Outcome = nil, ""
	}
	crashed.Status, crashed.CompletedAt = StatusRunning, nil
	crashed.Scores = map[string]int{"a": 0, "b": 0, "c": 0}
	f.repo.mu.Lock()
	f.repo.put(crashed)
	f.repo.mu.Unlock()

	before := f.gw.total()
	if err := f.runner.Run(context.Background(), m.ID); err != nil {
		t.Fatal(err)
	}
	if calls := f.gw.total() - before; calls != 1 {
		t.Fatalf("resume made %d gateway calls, want 1", calls)
	}
	got := f.load(t, m.ID)
	if got.Status != StatusCompleted || len(got.Round(1).Decisions) != 3 {
		t.Fatalf("status=%s decisions=%d", got.Status, len(got.Round(1).Decisions))
	}
}

func TestRunnerGatewayFailureFailsMatch(t *testing.T) {
	f := newFixture()
	f.gw.fail["c"] = true
	m := f.create(t, Config{TotalRounds: 2, Participants: []string{"a", "b", "c"}})
	if err := f.runner.Run(context.Background(), m.ID); err == nil {
		t.Fatal("expected error")
	}
	got := f.load(t, m.ID)
	if got.Status != StatusFailed || !strings.Contains(got.Error, "c") || got.CompletedAt == nil {
		t.Fatalf("status=%s error=%q", got.Status, got.Error)
	}
	if rd := got.Round(1); rd.Phase != PhaseStatementsShuffled || rd.Decision("b") == nil {
		t.Fatalf("partial round not kept: %s", rd.Phase)
	}
	if f.events.count(notify.StatusChanged) != 1 {
		t.Fatal("failure not published")
	}
}

func TestRunnerSkipsTerminalMatches(t *testing.T) {
	f := newFixture()
	m := f.create(t, Config{TotalRounds: 1, Participants: []string{"a", "b", "c"}})
	if _, err := f.repo.TransitionStatus(context.Background(), m.ID, StatusCancelled); err != nil {
		t.Fatal(err)
	}
	if err := f.runner.Run(context.Background(), m.ID); err != nil {
		t.Fatal(err)
	}
	if f.gw.total() != 0 {
		t.Fatal("cancelled match was played")
	}
	if err := f.runner.Run(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown match: %v", err)
	}
}
