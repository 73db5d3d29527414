package agent

import (
	"fmt"
	"strings"

	"oracle-bluff/server/engine"
)

// RoundSummary is one finished round as shown to a model in adaptive play.
type RoundSummary struct {
	Number     int      `json:"number"`
	Deceiver   string   `json:"deceiver"`
	Picks      []Pick   `json:"picks"`
	Statements []string `json:"statements,omitempty"`
}

type Pick struct {
	Participant string `json:"participant"`
	Door        string `json:"door"`
	Outcome     string `json:"outcome"`
}

const clueForms = `- "The {Treasure/Trap} is not behind Door {X}."
- "The {Treasure/Trap} is not behind Door {X} or Door {Y}."
- "The {Treasure/Trap} is behind Door {X}, Door {Y}, or Door {Z}."
- "The Trap is exactly {N} door(s) away from the Treasure."
- "The door immediately {left/right} of the {Treasure/Trap} is {Empty/not the Treasure/not the Trap}."
- "The {Treasure/Trap} has exactly {N} Empty door(s) as immediate neighbor(s)."
- "Door {X} is Empty."
- "Door C {contains/does not contain} the {Treasure/Trap}."
- "The Treasure comes {before/after} the Trap in alphabetical door order."
- "The {Treasure/Trap} is {/not }at either end of the row."
- "There {is/are} exactly {N} Empty door(s) between the Treasure and the Trap."
- "The {Treasure} and the {Trap} are both in the {left/right} half."
- "The Treasure and the Trap are {adjacent/far apart/separated by exactly 1 door/separated by at least 2 doors}."`

var deceiverSystem = `You are the Architect in "The Oracle's Bluff", a game of deduction and deception.

RULES
- Five doors, A to E. One hides the Treasure, one hides the Trap, three are Empty.
- You can see where the Treasure and the Trap are.
- The game engine has written 2 true sentences about the doors.
- You write 3 more sentences. All 5 are shuffled and shown to the Players, who cannot tell which are yours.

SCORING
- +1 for you for every Player who opens the Trap.
- -1 for you for every Player who opens the Treasure.
- Empty doors score nothing for anyone.

ENGINE SENTENCE FORMS (copy this phrasing exactly)
` + clueForms + `

TACTICS
- Narrow the options so the Trap looks like the safe pick.
- Contradict one engine sentence so Players throw out the wrong one.
- Say true things about Empty doors to earn trust, then lie about the Treasure or the Trap.
- Sometimes tell the truth about the Treasure; careful Players may dismiss it.

Write in the same flat, formulaic style as the engine. No opinions, no hedging, no explanations.`

var guesserSystem = `You are a Player in "The Oracle's Bluff", a game of deduction and deception.

RULES
- Five doors, A to E. One hides the Treasure, one hides the Trap, three are Empty.
- You get 5 shuffled sentences about the doors.
- 2 come from a game engine and are always true.
- 3 come from an Architect who wants you to open the Trap.

SCORING
- Treasure: +1. Trap: -1. Empty: 0.

ENGINE SENTENCE FORMS (the 2 true sentences use these)
` + clueForms + `

HOW TO THINK
1. Write down what each sentence allows for the Treasure and the Trap.
2. Sentences that cannot all hold together include at least one lie.
3. A consistent group of sentences is more likely to be the engine's.
4. The Architect gains when you open the Trap; a sentence pushing hard toward one door may be bait.
5. When unsure, pick the door that fits the largest consistent set, and prefer an Empty door over risking the Trap.`

func DeceiverSystemPrompt() string { return deceiverSystem }
func GuesserSystemPrompt() string  { return guesserSystem }

func numberedTexts(ss []engine.Sentence) string {
	var b strings.Builder
	for i, s := range ss {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Text)
	}
	return b.String()
}

// DeceiverPrompt shows the hidden layout and the engine's clues to the
// round's deceiver.
func DeceiverPrompt(st engine.State, clues []engine.Sentence, history []RoundSummary) string {
	var b strings.Builder
	b.WriteString("HIDDEN LAYOUT (only you can see this)\n")
	fmt.Fprintf(&b, "- Treasure: Door %s\n", st.TreasureDoor())
	fmt.Fprintf(&b, "- Trap: Door %s\n", st.TrapDoor())
	empties := st.EmptyDoors()
	for i := range empties {
		empties[i] = "Door " + empties[i]
	}
	fmt.Fprintf(&b, "- Empty: %s\n\n", strings.Join(empties, ", "))
	b.WriteString("ENGINE'S TRUE SENTENCES\n")
	b.WriteString(numberedTexts(clues))

	if len(history) > 0 {
		b.WriteString("\nEARLIER ROUNDS\n")
		for _, h := range history {
			picks := make([]string, 0, len(h.Picks))
			outs := make([]string, 0, len(h.Picks))
			for _, p := range h.Picks {
				picks = append(picks, fmt.Sprintf("%s→Door %s", p.Participant, p.Door))
				outs = append(outs, fmt.Sprintf("%s:%s", p.Participant, p.Outcome))
			}
			fmt.Fprintf(&b, "Round %d: Architect was %s. Players chose: %s. Outcomes: %s.\n",
				h.Number, h.Deceiver, strings.Join(picks, ", "), strings.Join(outs, ", "))
		}
	}

	b.WriteString(`
YOUR TASK
Write exactly 3 sentences that will mislead the Players, in the engine's style.

Reply with ONLY these 3 numbered lines:
1. [first sentence]
2. [second sentence]
3. [third sentence]

No preamble, no reasoning, nothing else.`)
	return b.String()
}

// GuesserPrompt shows the shuffled sentences and, in adaptive play, this
// guesser's own past outcomes.
func GuesserPrompt(shuffled []engine.Sentence, history []RoundSummary) string {
	var b strings.Builder
	b.WriteString("SENTENCES (2 are true, 3 may be lies)\n")
	b.WriteString(numberedTexts(shuffled))

	if len(history) > 0 {
		b.WriteString("\nEARLIER ROUNDS\n")
		for _, h := range history {
			door, outcome := "?", "unknown"
			for _, p := range h.Picks {
				if p.Participant == "self" {
					door, outcome = p.Door, p.Outcome
				}
			}
			fmt.Fprintf(&b, "Round %d: Sentences shown: %s. Your choice: Door %s. Outcome: %s.\n",
				h.Number, strings.Join(h.Statements, " | "), door, outcome)
		}
	}

	b.WriteString(`
YOUR TASK
Decide which sentences are true and pick a door.

Reply in exactly this format, two lines:
REASONING: [2-3 sentences of analysis]
DOOR: [one letter A-E]

Your reply MUST end with "DOOR: " and a single letter. No markdown, no code blocks.`)
	return b.String()
}
