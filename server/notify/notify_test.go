package notify

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestBrokerDeliversPerMatchAndFirehose(t *testing.T) {
	b := NewBroker()
	one, stopOne := b.Subscribe("m1")
	all, stopAll := b.Subscribe("")
	defer stopAll()

	b.Notify(NewRoundCompleted("m1", 1, map[string]int{"a": 1}, "Running"))
	b.Notify(NewMatchCompleted("m2", nil))

	ev := <-one
	if ev.Kind != RoundCompleted || ev.RoundNumber != 1 || ev.Scores["a"] != 1 {
		t.Fatalf("unexpected event %+v", ev)
	}
	select {
	case ev := <-one:
		t.Fatalf("m1 subscriber got foreign event %+v", ev)
	default:
	}
	if got := (<-all).MatchID; got != "m1" {
		t.Fatalf("firehose first event for %s", got)
	}
	if got := (<-all).MatchID; got != "m2" {
		t.Fatalf("firehose second event for %s", got)
	}

	stopOne()
	stopOne()
	if _, ok := <-one; ok {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if b.Subscribers("m1") != 0 {
		t.Fatal("subscriber not removed")
	}
}

func TestBrokerNeverBlocks(t *testing.T) {
	b := NewBroker()
	_, stop := b.Subscribe("m")
	defer stop()
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*4; i++ {
			b.Notify(NewStatusChanged("m", "Running"))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a full subscriber")
	}
}

func TestRoundCompletedCopiesScores(t *testing.T) {
	scores := map[string]int{"a": 1}
	ev := NewRoundCompleted("m", 1, scores, "Running")
	scores["a"] = 5
	if ev.Scores["a"] != 1 {
		t.Fatal("event should not alias the live score map")
	}
}

type slowNotifier struct {
	mu   sync.Mutex
	got  []Event
	gate chan struct{}
}

func (s *slowNotifier) Notify(ev Event) {
	<-s.gate
	s.mu.Lock()
	s.got = append(s.got, ev)
	s.mu.Unlock()
}

func TestAsyncDropsWhenFull(t *testing.T) {
	slow := &slowNotifier{gate: make(chan struct{})}
	a := NewAsync(slow, 2)
	for i := 0; i < 10; i++ {
		a.Notify(NewStatusChanged("m", "Running"))
	}
	if a.Dropped() == 0 {
		t.Fatal("expected drops with a stuck sink")
	}
	close(slow.gate)
	a.Close()
	a.Notify(NewStatusChanged("m", "late"))
	slow.mu.Lock()
	defer slow.mu.Unlock()
	if n := len(slow.got); n < 2 || n > 3 {
		t.Fatalf("delivered %d events", n)
	}
}

type fakeRedis struct {
	mu       sync.Mutex
	channels []string
	payloads []string
}

func (f *fakeRedis) Publish(_ context.Context, channel string, message interface{}) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.channels = append(f.channels, channel)
	f.payloads = append(f.payloads, string(message.([]byte)))
	return redis.NewIntResult(1, nil)
}

func (f *fakeRedis) Close() error { return nil }

func TestRedisPublishesJSON(t *testing.T) {
	fr := &fakeRedis{}
	r := newRedis(fr, "")
	r.Notify(NewWaiting("m9", 2, "Guesser", "human:ann", map[string]string{"x": "y"}))
	if len(fr.channels) != 1 || fr.channels[0] != "oraclebluff.match.m9" {
		t.Fatalf("channels = %v", fr.channels)
	}
	var ev Event
	if err := json.Unmarshal([]byte(fr.payloads[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Kind != WaitingForHumanInput || ev.ParticipantID != "human:ann" || ev.RoundNumber != 2 {
		t.Fatalf("decoded %+v", ev)
	}
}

type fakeNATS struct {
	subjects []string
}

func (f *fakeNATS) Publish(subject string, _ []byte) error {
	f.subjects = append(f.subjects, subject)
	return nil
}

func (f *fakeNATS) Drain() error { return nil }

func TestNATSAndFanout(t *testing.T) {
	fn := &fakeNATS{}
	b := NewBroker()
	feed, stop := b.Subscribe("m1")
	defer stop()
	Fanout{newNATS(fn, "bluff"), b, nil, Discard{}}.Notify(NewMatchCompleted("m1", map[string]int{"a": 2}))
	if len(fn.subjects) != 1 || fn.subjects[0] != "bluff.m1" {
		t.Fatalf("subjects = %v", fn.subjects)
	}
	if ev := <-feed; ev.Kind != MatchCompleted {
		t.Fatalf("broker got %+v", ev)
	}
}
