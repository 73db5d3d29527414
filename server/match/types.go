package match

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"oracle-bluff/server/engine"
)

var (
	ErrNotFound          = errors.New("match not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrWaitCancelled     = errors.New("human wait cancelled")
	ErrMatchCancelled    = errors.New("match cancelled")
)

type Status string

const (
	StatusPending   Status = "Pending"
	StatusRunning   Status = "Running"
	StatusPaused    Status = "Paused"
	StatusWaiting   Status = "WaitingForHumanInput"
	StatusCompleted Status = "Completed"
	StatusCancelled Status = "Cancelled"
	StatusFailed    Status = "Failed"
)

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusCancelled, StatusFailed},
	StatusRunning: {StatusPaused, StatusWaiting, StatusCompleted, StatusCancelled, StatusFailed},
	StatusWaiting: {StatusRunning, StatusPaused, StatusCancelled, StatusFailed},
	StatusPaused:  {StatusRunning, StatusCancelled, StatusFailed},
}

// CanTransition reports whether a match may move from s to next. Staying
// in a non-terminal status is allowed.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return !s.Terminal()
	}
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// MergeStatus decides which status survives when the worker writes a
// snapshot over a status changed from outside (pause, resume or cancel).
// The stored status owns Paused: the worker never pauses a match itself, so
// an incoming Paused is a stale copy of a pause that a resume has since
// replaced.
func MergeStatus(stored, incoming Status) Status {
	switch {
	case stored == StatusCancelled:
		return StatusCancelled
	case stored == StatusPaused && (incoming == StatusRunning || incoming == StatusWaiting || incoming == StatusCompleted):
		return StatusPaused
	case incoming == StatusPaused && (stored == StatusRunning || stored == StatusWaiting):
		return stored
	}
	return incoming
}

type Phase int

const (
	PhaseNotStarted Phase = iota
	PhaseStateGenerated
	PhaseCluesGenerated
	PhaseDeceiverStatementsGenerated
	PhaseStatementsShuffled
	PhaseGuessersDeciding
	PhaseScoring
	PhaseCompleted
)

var phaseNames = []string{
	"NotStarted", "StateGenerated", "CluesGenerated", "DeceiverStatementsGenerated",
	"StatementsShuffled", "GuessersDeciding", "Scoring", "Completed",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return fmt.Sprintf("Phase(%d)", int(p))
	}
	return phaseNames[p]
}

func (p Phase) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Phase) UnmarshalText(b []byte) error {
	for i, n := range phaseNames {
		if n == string(b) {
			*p = Phase(i)
			return nil
		}
	}
	return fmt.Errorf("unknown phase %q", b)
}

type Role string

const (
	RoleDeceiver Role = "Deceiver"
	RoleGuesser  Role = "Guesser"
)

// HumanPrefix marks participants that are people, not models.
const HumanPrefix = "human:"

// NoChoice is the deceiver's choice.
const NoChoice = "-"

func IsHuman(participant string) bool { return strings.HasPrefix(participant, HumanPrefix) }

type Config struct {
	TotalRounds    int      `json:"total_rounds"`
	Participants   []string `json:"participants"`
	RotateDeceiver bool     `json:"rotate_deceiver"`
	AdaptivePlay   bool     `json:"adaptive_play"`
	Seed           *int64   `json:"seed,omitempty"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Temperature    float64  `json:"temperature"`
	MaxTokens      int      `json:"max_tokens"`
}

func (c Config) Validate() error {
	if c.TotalRounds < 1 {
		return errors.New("total rounds must be at least 1")
	}
	if len(c.Participants) < 3 {
		return fmt.Errorf("at least 3 participants required, got %d", len(c.Participants))
	}
	seen := map[string]bool{}
	for _, p := range c.Participants {
		if strings.TrimSpace(p) == "" {
			return errors.New("participant id must not be empty")
		}
		if seen[p] {
			return fmt.Errorf("duplicate participant %q", p)
		}
		seen[p] = true
	}
	return nil
}

// HasHumans reports whether any seat is played by a person.
func (c Config) HasHumans() bool {
	for _, p := range c.Participants {
		if IsHuman(p) {
			return true
		}
	}
	return false
}

type Match struct {
	ID          uuid.UUID      `json:"id"`
	Config      Config         `json:"config"`
	Status      Status         `json:"status"`
	Rounds      []*Round       `json:"rounds"`
	Scores      map[string]int `json:"scores"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func New(cfg Config) *Match {
	m := &Match{
		ID:        uuid.New(),
		Config:    cfg,
		Status:    StatusPending,
		Scores:    map[string]int{},
		CreatedAt: time.Now().UTC(),
	}
	for _, p := range cfg.Participants {
		m.Scores[p] = 0
	}
	return m
}

// Transition moves the match to next if the status machine allows it.
func (m *Match) Transition(next Status) error {
	if !m.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.Status, next)
	}
	m.Status = next
	return nil
}

func (m *Match) CompletedRounds() int {
	n := 0
	for _, r := range m.Rounds {
		if r.Phase == PhaseCompleted {
			n++
		}
	}
	return n
}

// Round returns the round with the given 1-based number.
func (m *Match) Round(number int) *Round {
	for _, r := range m.Rounds {
		if r.Number == number {
			return r
		}
	}
	return nil
}

type Decision struct {
	Participant      string          `json:"participant"`
	Role             Role            `json:"role"`
	Choice           string          `json:"choice"`
	Outcome          engine.DoorType `json:"outcome,omitempty"`
	ScoreDelta       *int            `json:"score_delta,omitempty"`
	Raw              string          `json:"raw"`
	Rationale        string          `json:"rationale,omitempty"`
	Strategy         string          `json:"strategy"`
	ParseSuccess     bool            `json:"parse_success"`
	Human            bool            `json:"human"`
	PromptTokens     int             `json:"prompt_tokens,omitempty"`
	CompletionTokens int             `json:"completion_tokens,omitempty"`
	LatencyMs        int64           `json:"latency_ms,omitempty"`
	FinishReason     string          `json:"finish_reason,omitempty"`
	SystemPrompt     string          `json:"system_prompt,omitempty"`
	UserPrompt       string          `json:"user_prompt,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

type Round struct {
	ID          uuid.UUID         `json:"id"`
	Number      int               `json:"number"`
	Phase       Phase             `json:"phase"`
	State       *engine.State     `json:"state,omitempty"`
	Deceiver    string            `json:"deceiver,omitempty"`
	Truthful    []engine.Sentence `json:"truthful,omitempty"`
	Deceptive   []engine.Sentence `json:"deceptive,omitempty"`
	Shuffled    []engine.Sentence `json:"shuffled,omitempty"`
	Decisions   []*Decision       `json:"decisions"`
	Result      *engine.Result    `json:"result,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

func (r *Round) Decision(participant string) *Decision {
	for _, d := range r.Decisions {
		if d.Participant == participant {
			return d
		}
	}
	return nil
}

func (r *Round) ShuffledTexts() []string {
	out := make([]string, len(r.Shuffled))
	for i, s := range r.Shuffled {
		out[i] = s.Text
	}
	return out
}

// HumanInput is what a person submits: three statements as deceiver, or a
// door as guesser.
type HumanInput struct {
	Statements []string `json:"statements,omitempty"`
	Door       string   `json:"door,omitempty"`
	Reasoning  string   `json:"reasoning,omitempty"`
}

// HumanPrompt is the part of the round a waiting person is allowed to see.
type HumanPrompt struct {
	MatchID       uuid.UUID `json:"match_id"`
	RoundNumber   int       `json:"round_number"`
	Role          Role      `json:"role"`
	ParticipantID string    `json:"participant_id"`
	TreasureDoor  string    `json:"treasure_door,omitempty"`
	TrapDoor      string    `json:"trap_door,omitempty"`
	Clues         []string  `json:"clues,omitempty"`
	Statements    []string  `json:"statements,omitempty"`
	Since         time.Time `json:"since"`
}
