package notify

import "sync"

const subscriberBuffer = 32

// Broker fans events out to in-process subscribers, per match. A slow
// subscriber misses events instead of stalling the publisher.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{}
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[string]map[chan Event]struct{})}
}

// Subscribe returns a feed for one match (or every match when matchID is
// empty) and a func to stop it.
func (b *Broker) Subscribe(matchID string) (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	if b.subs[matchID] == nil {
		b.subs[matchID] = make(map[chan Event]struct{})
	}
	b.subs[matchID][ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs[matchID], ch)
			if len(b.subs[matchID]) == 0 {
				delete(b.subs, matchID)
			}
			b.mu.Unlock()
			close(ch)
		})
	}
}

func (b *Broker) Notify(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, key := range []string{ev.MatchID, ""} {
		for ch := range b.subs[key] {
			select {
			case ch <- ev:
			default:
			}
		}
		if ev.MatchID == "" {
			break
		}
	}
}

func (b *Broker) Subscribers(matchID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[matchID])
}
