package engine

import (
	"fmt"
	mrand "math/rand"
	"sort"
)

// Template produces one true sentence about a state.
type Template struct {
	ID         string
	Applicable func(State) bool
	Generate   func(State, *mrand.Rand) string
}

func fiveDoors(s State) bool { return len(s.Doors) == len(Labels) }

func bothItems(s State) bool {
	return fiveDoors(s) && s.index(Treasure) >= 0 && s.index(Trap) >= 0
}

func pickItem(r *mrand.Rand) (DoorType, DoorType) {
	if r.Intn(2) == 0 {
		return Treasure, Trap
	}
	return Trap, Treasure
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// doorsExcept returns labels of doors not holding t, in random order.
func doorsExcept(s State, t DoorType, r *mrand.Rand) []string {
	var out []string
	for _, d := range s.Doors {
		if d.Type != t {
			out = append(out, d.Label)
		}
	}
	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

var templates = []Template{
	{
		ID:         "negative-door",
		Applicable: fiveDoors,
		Generate: func(s State, r *mrand.Rand) string {
			item, _ := pickItem(r)
			c := doorsExcept(s, item, r)
			return fmt.Sprintf("The %s is not behind Door %s.", item, c[0])
		},
	},
	{
		ID:         "pair-exclusion",
		Applicable: fiveDoors,
		Generate: func(s State, r *mrand.Rand) string {
			item, _ := pickItem(r)
			c := doorsExcept(s, item, r)[:2]
			sort.Strings(c)
			return fmt.Sprintf("The %s is not behind Door %s or Door %s.", item, c[0], c[1])
		},
	},
	{
		ID:         "triplet-contains",
		Applicable: fiveDoors,
		Generate: func(s State, r *mrand.Rand) string {
			item, _ := pickItem(r)
			c := append(doorsExcept(s, item, r)[:2], s.labelOf(item))
			sort.Strings(c)
			return fmt.Sprintf("The %s is behind Door %s, Door %s, or Door %s.", item, c[0], c[1], c[2])
		},
	},
	{
		ID:         "positional-relation",
		Applicable: bothItems,
		Generate: func(s State, _ *mrand.Rand) string {
			d := abs(s.index(Treasure) - s.index(Trap))
			return fmt.Sprintf("The Trap is exactly %d %s away from the Treasure.", d, plural(d, "door", "doors"))
		},
	},
	{
		ID:         "adjacent-door",
		Applicable: fiveDoors,
		Generate: func(s State, r *mrand.Rand) string {
			item, other := pickItem(r)
			i := s.index(item)
			var dirs []string
			if i > 0 {
				dirs = append(dirs, "left")
			}
			if i < len(s.Doors)-1 {
				dirs = append(dirs, "right")
			}
			dir := dirs[r.Intn(len(dirs))]
			n := i + 1
			if dir == "left" {
				n = i - 1
			}
			desc := "not the " + string(item)
			if s.Doors[n].Type == Empty {
				desc = "not the " + string(other)
				if r.Intn(2) == 0 {
					desc = "Empty"
				}
			}
			return fmt.Sprintf("The door immediately %s of the %s is %s.", dir, item, desc)
		},
	},
	{
		ID: "same-side",
		Applicable: func(s State) bool {
			if !bothItems(s) {
				return false
			}
			t, p := s.index(Treasure), s.index(Trap)
			return (t <= 1 && p <= 1) || (t >= 3 && p >= 3)
		},
		Generate: func(s State, r *mrand.Rand) string {
			side := "right"
			if s.index(Treasure) <= 1 {
				side = "left"
			}
			a, b := pickItem(r)
			return fmt.Sprintf("The %s and the %s are both in the %s half.", a, b, side)
		},
	},
	{
		ID:         "gap",
		Applicable: bothItems,
		Generate: func(s State, _ *mrand.Rand) string {
			lo, hi := s.index(Treasure), s.index(Trap)
			if lo > hi {
				lo, hi = hi, lo
			}
			n := 0
			for i := lo + 1; i < hi; i++ {
				if s.Doors[i].Type == Empty {
					n++
				}
			}
			return fmt.Sprintf("There %s exactly %d %s between the Treasure and the Trap.",
				plural(n, "is", "are"), n, plural(n, "Empty door", "Empty doors"))
		},
	},
	{
		ID:         "endpoint",
		Applicable: fiveDoors,
		Generate: func(s State, r *mrand.Rand) string {
			item, _ := pickItem(r)
			if i := s.index(item); i == 0 || i == len(s.Doors)-1 {
				return fmt.Sprintf("The %s is at either end of the row.", item)
			}
			return fmt.Sprintf("The %s is not at either end of the row.", item)
		},
	},
	{
		ID:         "middle-door",
		Applicable: fiveDoors,
		Generate: func(s State, r *mrand.Rand) string {
			item, _ := pickItem(r)
			if c, _ := s.Door("C"); c.Type == item {
				return fmt.Sprintf("Door C contains the %s.", item)
			}
			return fmt.Sprintf("Door C does not contain the %s.", item)
		},
	},
	{
		ID:         "empty-neighbor",
		Applicable: fiveDoors,
		Generate: func(s State, r *mrand.Rand) string {
			item, _ := pickItem(r)
			i := s.index(item)
			n := 0
			if i > 0 && s.Doors[i-1].Type == Empty {
				n++
			}
			if i < len(s.Doors)-1 && s.Doors[i+1].Type == Empty {
				n++
			}
			return fmt.Sprintf("The %s has exactly %d %s as immediate %s.",
				item, n, plural(n, "Empty door", "Empty doors"), plural(n, "neighbor", "neighbors"))
		},
	},
	{
		ID:         "order",
		Applicable: bothItems,
		Generate: func(s State, _ *mrand.Rand) string {
			rel := "after"
			if s.index(Treasure) < s.index(Trap) {
				rel = "before"
			}
			return fmt.Sprintf("The Treasure comes %s the Trap in alphabetical door order.", rel)
		},
	},
	{
		ID:         "exact-empty",
		Applicable: func(s State) bool { return s.index(Empty) >= 0 },
		Generate: func(s State, r *mrand.Rand) string {
			e := s.EmptyDoors()
			return fmt.Sprintf("Door %s is Empty.", e[r.Intn(len(e))])
		},
	},
	{
		ID:         "qualitative-distance",
		Applicable: bothItems,
		Generate: func(s State, r *mrand.Rand) string {
			switch d := abs(s.index(Treasure) - s.index(Trap)); {
			case d == 1:
				return "The Treasure and the Trap are adjacent."
			case d == 2:
				return "The Treasure and the Trap are separated by exactly 1 door."
			case r.Intn(2) == 0:
				return "The Treasure and the Trap are far apart."
			default:
				return "The Treasure and the Trap are separated by at least 2 doors."
			}
		},
	},
}

// Templates lists every clue template in registry order.
func Templates() []Template { return append([]Template(nil), templates...) }
