package engine

type DoorType string

const (
	Empty    DoorType = "Empty"
	Treasure DoorType = "Treasure"
	Trap     DoorType = "Trap"
)

// Labels is the fixed door row, left to right.
const Labels = "ABCDE"

type Door struct {
	Label string   `json:"label"`
	Type  DoorType `json:"type"`
}

type State struct {
	Doors []Door `json:"doors"`
	Seed  int64  `json:"seed"`
}

func (s State) index(t DoorType) int {
	for i, d := range s.Doors {
		if d.Type == t {
			return i
		}
	}
	return -1
}

func (s State) TreasureDoor() string { return s.labelOf(Treasure) }
func (s State) TrapDoor() string     { return s.labelOf(Trap) }

func (s State) labelOf(t DoorType) string {
	if i := s.index(t); i >= 0 {
		return s.Doors[i].Label
	}
	return ""
}

func (s State) EmptyDoors() []string {
	var out []string
	for _, d := range s.Doors {
		if d.Type == Empty {
			out = append(out, d.Label)
		}
	}
	return out
}

// Door returns the door with the given label.
func (s State) Door(label string) (Door, bool) {
	for _, d := range s.Doors {
		if d.Label == label {
			return d, true
		}
	}
	return Door{}, false
}

type Source string

const (
	FromEngine   Source = "Engine"
	FromDeceiver Source = "Deceiver"
)

type Sentence struct {
	Text          string `json:"text"`
	Source        Source `json:"source"`
	Truthful      bool   `json:"truthful"`
	TemplateID    string `json:"template_id,omitempty"`
	OriginalIndex int    `json:"original_index"`
	ShuffledIndex int    `json:"shuffled_index"`
}

type Guess struct {
	Participant string
	Door        string
}

type Result struct {
	DeceiverDelta int                 `json:"deceiver_delta"`
	Deltas        map[string]int      `json:"deltas"`
	Outcomes      map[string]DoorType `json:"outcomes"`
}
