package notify

import "time"

type Kind string

const (
	RoundCompleted       Kind = "RoundCompleted"
	WaitingForHumanInput Kind = "WaitingForHumanInput"
	MatchCompleted       Kind = "MatchCompleted"
	StatusChanged        Kind = "StatusChanged"
)

// Event is one progress update about a match. Context carries whatever a
// waiting human is allowed to see.
type Event struct {
	Kind          Kind           `json:"kind"`
	MatchID       string         `json:"match_id"`
	RoundNumber   int            `json:"round_number,omitempty"`
	Scores        map[string]int `json:"scores,omitempty"`
	Status        string         `json:"status,omitempty"`
	Role          string         `json:"role,omitempty"`
	ParticipantID string         `json:"participant_id,omitempty"`
	Context       any            `json:"context,omitempty"`
	At            time.Time      `json:"at"`
}

// Notifier publishes events without blocking the caller for long; delivery
// is best effort.
type Notifier interface {
	Notify(Event)
}

// Fanout sends every event to each notifier in turn.
type Fanout []Notifier

func (f Fanout) Notify(ev Event) {
	for _, n := range f {
		if n != nil {
			n.Notify(ev)
		}
	}
}

// Discard drops everything.
type Discard struct{}

func (Discard) Notify(Event) {}

func copyScores(in map[string]int) map[string]int {
	if in == nil {
		return nil
	}
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func stamp(ev Event) Event {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	return ev
}

func NewRoundCompleted(matchID string, round int, scores map[string]int, status string) Event {
	return stamp(Event{Kind: RoundCompleted, MatchID: matchID, RoundNumber: round, Scores: copyScores(scores), Status: status})
}

func NewWaiting(matchID string, round int, role, participant string, visible any) Event {
	return stamp(Event{Kind: WaitingForHumanInput, MatchID: matchID, RoundNumber: round, Role: role, ParticipantID: participant, Context: visible})
}

func NewMatchCompleted(matchID string, scores map[string]int) Event {
	return stamp(Event{Kind: MatchCompleted, MatchID: matchID, Scores: copyScores(scores), Status: "Completed"})
}

func NewStatusChanged(matchID, status string) Event {
	return stamp(Event{Kind: StatusChanged, MatchID: matchID, Status: status})
}
