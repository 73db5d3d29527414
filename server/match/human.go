package match

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type slotKey struct {
	match       uuid.UUID
	participant string
}

// slot resolves exactly once: either input arrives or the match is
// cancelled.
type slot struct {
	input     chan HumanInput
	cancelled chan struct{}
	prompt    *HumanPrompt
}

// Coordinator hands human input from HTTP handlers to the goroutine running
// the match. Waits are keyed by (match, participant).
type Coordinator struct {
	mu      sync.Mutex
	slots   map[slotKey]*slot
	waiting map[uuid.UUID]*HumanPrompt
}

func NewCoordinator() *Coordinator {
	return &Coordinator{
		slots:   make(map[slotKey]*slot),
		waiting: make(map[uuid.UUID]*HumanPrompt),
	}
}

// WaitForInput blocks until SubmitInput delivers input for this exact
// participant, the match is cancelled (ErrWaitCancelled) or ctx ends.
func (c *Coordinator) WaitForInput(ctx context.Context, matchID uuid.UUID, participantID string, prompt HumanPrompt) (HumanInput, error) {
	key := slotKey{matchID, participantID}
	s := &slot{
		input:     make(chan HumanInput, 1),
		cancelled: make(chan struct{}),
		prompt:    &prompt,
	}

	c.mu.Lock()
	if old, ok := c.slots[key]; ok {
		close(old.cancelled)
	}
	c.slots[key] = s
	c.waiting[matchID] = s.prompt
	c.mu.Unlock()

	defer c.release(key, s)

	select {
	case in := <-s.input:
		return in, nil
	case <-s.cancelled:
		return HumanInput{}, ErrWaitCancelled
	case <-ctx.Done():
		// once released no submit can reach s; one that got in first wins
		c.release(key, s)
		select {
		case in := <-s.input:
			return in, nil
		default:
		}
		return HumanInput{}, context.Cause(ctx)
	}
}

// release drops the slot and its waiting context unless a newer wait has
// already replaced them.
func (c *Coordinator) release(key slotKey, s *slot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.slots[key] == s {
		delete(c.slots, key)
	}
	if c.waiting[key.match] == s.prompt {
		delete(c.waiting, key.match)
	}
}

// SubmitInput resolves the open wait for exactly this pair. It returns false
// when nobody is waiting on that participant; other waits are untouched.
// Input accepted here is always returned by the matching WaitForInput.
func (c *Coordinator) SubmitInput(matchID uuid.UUID, participantID string, in HumanInput) bool {
	key := slotKey{matchID, participantID}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[key]
	if !ok {
		return false
	}
	delete(c.slots, key)
	select {
	case s.input <- in:
		return true
	default:
		return false
	}
}

// WaitingContext returns what the match is currently waiting on, if anything.
func (c *Coordinator) WaitingContext(matchID uuid.UUID) (HumanPrompt, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.waiting[matchID]
	if !ok {
		return HumanPrompt{}, false
	}
	return *p, true
}

// CancelMatch cancels every open wait of the match and returns how many
// there were.
func (c *Coordinator) CancelMatch(matchID uuid.UUID) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, s := range c.slots {
		if key.match == matchID {
			close(s.cancelled)
			delete(c.slots, key)
			n++
		}
	}
	delete(c.waiting, matchID)
	return n
}
