package engine

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	mrand "math/rand"
	"sort"
	"strings"
	"time"
)

type seedStream struct{ state uint64 }

func newSeedStream(base uint64) seedStream { return seedStream{state: base} }
func (s *seedStream) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z ^= z >> 30
	z *= 0xBF58476D1CE4E5B9
	z ^= z >> 27
	z *= 0x94D049BB133111EB
	z ^= z >> 31
	return z
}

func secureSeed() int64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err == nil {
		return int64(binary.LittleEndian.Uint64(b[:]) >> 1)
	}
	return time.Now().UnixNano()
}

// RoundSeed derives the seed for one round of a seeded match. Unseeded
// matches stay unseeded.
func RoundSeed(matchSeed *int64, round int) *int64 {
	if matchSeed == nil {
		return nil
	}
	ss := newSeedStream(uint64(*matchSeed) + uint64(round))
	v := int64(ss.next() >> 1)
	return &v
}

func rngFor(seed int64) *mrand.Rand { return mrand.New(mrand.NewSource(seed)) }

// GenerateState lays out one Treasure, one Trap and three Empty doors.
func GenerateState(seed *int64) State {
	s := secureSeed()
	if seed != nil {
		s = *seed
	}
	r := rngFor(s)
	types := []DoorType{Treasure, Trap, Empty, Empty, Empty}
	for i := len(types) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		types[i], types[j] = types[j], types[i]
	}
	st := State{Seed: s, Doors: make([]Door, len(Labels))}
	for i := range Labels {
		st.Doors[i] = Door{Label: string(Labels[i]), Type: types[i]}
	}
	return st
}

func Validate(s State) error {
	if s.Doors == nil {
		return errors.New("doors missing")
	}
	var errs []error
	if len(s.Doors) != len(Labels) {
		errs = append(errs, fmt.Errorf("expected %d doors, found %d", len(Labels), len(s.Doors)))
	}
	labels := make([]string, 0, len(s.Doors))
	counts := map[DoorType]int{}
	for _, d := range s.Doors {
		labels = append(labels, d.Label)
		counts[d.Type]++
	}
	sort.Strings(labels)
	if got := strings.Join(labels, ""); got != Labels {
		errs = append(errs, fmt.Errorf("door labels must be %s, found %s", Labels, got))
	}
	for t, want := range map[DoorType]int{Treasure: 1, Trap: 1, Empty: 3} {
		if counts[t] != want {
			errs = append(errs, fmt.Errorf("expected %d %s door(s), found %d", want, t, counts[t]))
		}
	}
	return errors.Join(errs...)
}

// Shuffle combines the truthful clues with the deceptive statements, numbers
// them in that order and permutes them with a Fisher-Yates pass.
func Shuffle(truthful, deceptive []Sentence, seed *int64) []Sentence {
	combined := make([]Sentence, 0, len(truthful)+len(deceptive))
	combined = append(combined, truthful...)
	combined = append(combined, deceptive...)
	for i := range combined {
		combined[i].OriginalIndex = i
	}
	s := secureSeed()
	if seed != nil {
		s = *seed
	}
	r := rngFor(s)
	for i := len(combined) - 1; i > 0; i-- {
		j := r.Intn(i + 1)
		combined[i], combined[j] = combined[j], combined[i]
	}
	for i := range combined {
		combined[i].ShuffledIndex = i
	}
	return combined
}
