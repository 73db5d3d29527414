package agent

import (
	"fmt"
	mrand "math/rand"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	wantStatements = 3
	fallbackChars  = 200
	minStatement   = 10
)

// Statements is the deceiver's parsed output. Success is false when the
// winning strategy was guesswork.
type Statements struct {
	Items    []string `json:"items"`
	Strategy string   `json:"strategy"`
	Success  bool     `json:"success"`
}

// Choice is a guesser's parsed door.
type Choice struct {
	Letter    string `json:"letter"`
	Rationale string `json:"rationale,omitempty"`
	Strategy  string `json:"strategy"`
	Success   bool   `json:"success"`
}

type statementStrategy struct {
	name      string
	confident bool
	extract   func(lines []string) []string
}

type choiceStrategy struct {
	name      string
	confident bool
	extract   func(text string) (string, bool)
}

// Parser turns free model text into statements or a door letter. It never
// fails; weak extractions are reported through Success.
type Parser struct {
	Letters string
	Intn    func(n int) int

	statements []statementStrategy
	choices    []choiceStrategy
	doorRef    *regexp.Regexp
	reasoning  *regexp.Regexp
}

var (
	thinkBlock   = regexp.MustCompile(`(?is)<think(?:ing)?>.*?</think(?:ing)?>`)
	strayThink   = regexp.MustCompile(`(?i)</?think(?:ing)?>`)
	boldMarkup   = regexp.MustCompile(`\*\*(.+?)\*\*|__(.+?)__`)
	italicMarkup = regexp.MustCompile(`\*([^*\s][^*]*?)\*`)
	labelOnly    = regexp.MustCompile(`(?i)^(?:here (?:are|is)\b.*|(?:my |the )?(?:deceptive )?(?:sentences?|statements?)|answer|response|output|final answer)\s*:\s*$`)
	labelPrefix  = regexp.MustCompile(`(?i)^(?:answer|response|output|final answer)\s*:\s*`)
	numbered     = regexp.MustCompile(`^\(?\d+\s*[.):\-]\s*(.+)$`)
	quoted       = regexp.MustCompile(`^["“'](.+?)["”']$`)
	bulleted     = regexp.MustCompile(`^[-*•+]\s+(.+)$`)
	filler       = regexp.MustCompile(`(?i)^(?:here|sure|okay|ok|certainly|of course|note|i hope|let me|i will|i'll|these|the following|good luck)\b`)
	spaces       = regexp.MustCompile(`\s+`)
)

func NewParser() *Parser { return NewParserFor("ABCDE") }

// NewParserFor builds a parser whose choices come from letters.
func NewParserFor(letters string) *Parser {
	p := &Parser{Letters: letters, Intn: mrand.Intn}
	up := regexp.QuoteMeta(strings.ToUpper(letters))
	low := regexp.QuoteMeta(strings.ToLower(letters))

	// a lowercase value only counts when nothing but punctuation follows it,
	// so "answer: a door on the left" is prose, not a pick
	keyToken := regexp.MustCompile(fmt.Sprintf(`(?m)(?i:door|choice|answer|selection)\s*[:=]\s*\**\s*(?i:door\s+)?([%s]\b|[%s][.!)\]*]*[ \t]*$)`, up, low))
	lineEnd := regexp.MustCompile(fmt.Sprintf(`(?m)\b[A-Za-z]+\s+([%s])[.!)\]*]*\s*$`, up))
	verb := regexp.MustCompile(fmt.Sprintf(`(?i:choose|chose|pick|picked|select|selected|go with|going with|opt for|my (?:choice|answer|pick) is|i'?ll take)\s+(?:(?i:door)\s+)?\**([%s])\b`, up))
	emphasis := regexp.MustCompile(fmt.Sprintf(`(?:\*\*|__)\s*(?:(?i:door)\s+)?([%s])\s*(?:\*\*|__)`, up))
	door := regexp.MustCompile(fmt.Sprintf(`(?i:door)\s+([%s])\b`, up))
	lone := regexp.MustCompile(fmt.Sprintf(`\b([%s])\b`, up))

	p.doorRef = regexp.MustCompile(fmt.Sprintf(`(?i)\bdoor\s+[%s]\b`, up))
	p.reasoning = regexp.MustCompile(`(?is)REASONING\s*:\s*(.*?)\s*(?:\n\s*\**\s*(?:DOOR|CHOICE|ANSWER)\s*[:=]|$)`)

	p.statements = []statementStrategy{
		{"numbered-list", true, captureLines(numbered)},
		{"quoted-lines", true, captureLines(quoted)},
		{"bulleted-list", true, captureLines(bulleted)},
		{"door-reference", true, p.doorLines},
		{"non-trivial-lines", false, nonTrivialLines},
	}
	p.choices = []choiceStrategy{
		{"key-token", true, lastMatch(keyToken)},
		{"line-end-letter", true, lastMatch(lineEnd)},
		{"verb-phrase", true, lastMatch(verb)},
		{"emphasized-letter", true, lastMatch(emphasis)},
		{"last-door-mention", false, lastMatch(door)},
		{"last-standalone-letter", false, lastMatch(lone)},
	}
	return p
}

// Normalize drops reasoning blocks, code fences, markdown emphasis and bare
// preamble labels, returning the remaining non-empty lines.
func Normalize(text string) []string {
	text = thinkBlock.ReplaceAllString(text, "")
	text = strayThink.ReplaceAllString(text, "")
	var out []string
	for _, ln := range strings.Split(text, "\n") {
		t := strings.TrimSpace(ln)
		if strings.HasPrefix(t, "```") || t == "" {
			continue
		}
		t = boldMarkup.ReplaceAllString(t, "$1$2")
		t = italicMarkup.ReplaceAllString(t, "$1")
		if labelOnly.MatchString(t) {
			continue
		}
		t = strings.TrimSpace(labelPrefix.ReplaceAllString(t, ""))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func cleanStatement(s string) string {
	s = strings.TrimSpace(spaces.ReplaceAllString(s, " "))
	if m := quoted.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	return strings.TrimSpace(s)
}

func captureLines(re *regexp.Regexp) func([]string) []string {
	return func(lines []string) []string {
		var out []string
		for _, ln := range lines {
			if m := re.FindStringSubmatch(ln); m != nil {
				if s := cleanStatement(m[1]); s != "" {
					out = append(out, s)
				}
			}
		}
		return out
	}
}

func (p *Parser) doorLines(lines []string) []string {
	var out []string
	for _, ln := range lines {
		if p.doorRef.MatchString(ln) {
			out = append(out, cleanStatement(ln))
		}
	}
	return out
}

func nonTrivialLines(lines []string) []string {
	var out []string
	for _, ln := range lines {
		s := cleanStatement(ln)
		if len(s) <= minStatement || filler.MatchString(s) || strings.HasSuffix(s, ":") {
			continue
		}
		out = append(out, s)
	}
	return out
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Statements extracts exactly three deceptive statements.
func (p *Parser) Statements(text string) Statements {
	lines := Normalize(text)
	for _, st := range p.statements {
		if got := st.extract(lines); len(got) >= wantStatements {
			return Statements{Items: got[:wantStatements], Strategy: st.name, Success: st.confident}
		}
	}

	items := nonTrivialLines(lines)
	for i := range items {
		items[i] = truncate(items[i], fallbackChars)
	}
	whole := truncate(strings.TrimSpace(spaces.ReplaceAllString(strings.Join(lines, " "), " ")), fallbackChars)
	if whole == "" {
		whole = truncate(strings.TrimSpace(text), fallbackChars)
	}
	if whole == "" {
		whole = "(no statement)"
	}
	if len(items) == 0 || items[len(items)-1] != whole {
		items = append(items, whole)
	}
	for len(items) < wantStatements {
		items = append(items, whole)
	}
	return Statements{Items: items[:wantStatements], Strategy: "truncation-fallback", Success: false}
}

func lastMatch(re *regexp.Regexp) func(string) (string, bool) {
	return func(text string) (string, bool) {
		all := re.FindAllStringSubmatch(text, -1)
		if len(all) == 0 {
			return "", false
		}
		return strings.ToUpper(all[len(all)-1][1][:1]), true
	}
}

// Reasoning returns the text after a REASONING: label, if any.
func (p *Parser) Reasoning(text string) string {
	m := p.reasoning.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// Choice extracts one door letter. The last strategy picks at random and
// records the raw text so the miss is auditable.
func (p *Parser) Choice(text string) Choice {
	body := strayThink.ReplaceAllString(thinkBlock.ReplaceAllString(text, ""), "")
	reason := p.Reasoning(body)
	for _, st := range p.choices {
		if l, ok := st.extract(body); ok {
			return Choice{Letter: l, Rationale: reason, Strategy: st.name, Success: st.confident}
		}
	}
	l := string(p.Letters[p.Intn(len(p.Letters))])
	return Choice{
		Letter:    l,
		Rationale: "[PARSE FAILURE] raw: " + text,
		Strategy:  "random-fallback",
		Success:   false,
	}
}
