package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"oracle-bluff/server/agent"
	"oracle-bluff/server/config"
	"oracle-bluff/server/engine"
	"oracle-bluff/server/llm"
	"oracle-bluff/server/match"
	"oracle-bluff/server/notify"
)

type matchStore interface {
	match.Repository
	Ping(ctx context.Context) error
}

type api struct {
	store    matchStore
	queue    *match.Queue
	worker   *match.Worker
	human    *match.Coordinator
	broker   *notify.Broker
	notify   notify.Notifier
	models   func(context.Context) []llm.ModelInfo
	oracle   *engine.Oracle
	parser   *agent.Parser
	defaults config.MatchDefaults
	maxBody  int64
}

func Router(a *api) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", a.health)
		r.Get("/models", a.listModels)
		r.Get("/leaderboard", a.leaderboard)

		r.Route("/matches", func(r chi.Router) {
			r.Get("/", a.listMatches)
			r.Post("/", a.createMatch)
			r.Post("/interactive", a.createInteractive)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getMatch)
				r.Get("/rounds", a.listRounds)
				r.Get("/rounds/{n}", a.getRound)
				r.Post("/pause", a.pause)
				r.Post("/resume", a.resume)
				r.Post("/cancel", a.cancel)
				r.Get("/waiting", a.waiting)
				r.Post("/input", a.submitInput)
				r.Get("/events", a.events)
			})
		})

		r.Post("/debug/state", a.debugState)
		r.Post("/debug/parse", a.debugParse)
	})
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// readJSON decodes a bounded body and rejects unknown fields.
func (a *api) readJSON(w http.ResponseWriter, r *http.Request, v any) error {
	limit := a.maxBody
	if limit <= 0 {
		limit = 1 << 20
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, limit))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, match.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, match.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		log.Printf("[api] %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func matchID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "bad match id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (a *api) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	out := map[string]any{"ok": true, "queued": a.queue.Len()}
	if id := a.worker.Running(); id != uuid.Nil {
		out["running"] = id
	}
	if err := a.store.Ping(ctx); err != nil {
		out["ok"] = false
		out["error"] = err.Error()
		writeJSONStatus(w, http.StatusServiceUnavailable, out)
		return
	}
	writeJSON(w, out)
}

func (a *api) listModels(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	writeJSON(w, map[string]any{"models": a.models(ctx)})
}

type matchSummary struct {
	ID              uuid.UUID      `json:"id"`
	Status          match.Status   `json:"status"`
	Participants    []string       `json:"participants"`
	TotalRounds     int            `json:"total_rounds"`
	CompletedRounds int            `json:"completed_rounds"`
	Scores          map[string]int `json:"scores"`
	CreatedAt       time.Time      `json:"created_at"`
	CompletedAt     *time.Time     `json:"completed_at,omitempty"`
	Error           string         `json:"error,omitempty"`
}

func summarize(m *match.Match) matchSummary {
	return matchSummary{
		ID:              m.ID,
		Status:          m.Status,
		Participants:    m.Config.Participants,
		TotalRounds:     m.Config.TotalRounds,
		CompletedRounds: m.CompletedRounds(),
		Scores:          m.Scores,
		CreatedAt:       m.CreatedAt,
		CompletedAt:     m.CompletedAt,
		Error:           m.Error,
	}
}

func (a *api) listMatches(w http.ResponseWriter, r *http.Request) {
	var statuses []match.Status
	if q := r.URL.Query().Get("status"); q != "" {
		for _, s := range strings.Split(q, ",") {
			statuses = append(statuses, match.Status(strings.TrimSpace(s)))
		}
	}
	ms, err := a.store.ListMatches(r.Context(), statuses...)
	if err != nil {
		httpError(w, err)
		return
	}
	out := make([]matchSummary, 0, len(ms))
	for _, m := range ms {
		out = append(out, summarize(m))
	}
	writeJSON(w, map[string]any{"rows": out})
}

type matchOptions struct {
	TotalRounds    int      `json:"total_rounds"`
	RotateDeceiver *bool    `json:"rotate_deceiver"`
	AdaptivePlay   bool     `json:"adaptive_play"`
	Seed           *int64   `json:"seed"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Temperature    *float64 `json:"temperature"`
	MaxTokens      int      `json:"max_tokens"`
}

type createRequest struct {
	Participants []string `json:"participants"`
	matchOptions
}

type playerSlot struct {
	Kind  string `json:"kind"` // llm | human
	Model string `json:"model,omitempty"`
	Name  string `json:"name,omitempty"`
}

type interactiveRequest struct {
	Players []playerSlot `json:"players"`
	matchOptions
}

func (a *api) configFrom(participants []string, o matchOptions) match.Config {
	cfg := match.Config{
		TotalRounds:    o.TotalRounds,
		Participants:   participants,
		RotateDeceiver: true,
		AdaptivePlay:   o.AdaptivePlay,
		Seed:           o.Seed,
		TimeoutSeconds: o.TimeoutSeconds,
		Temperature:    a.defaults.Temperature,
		MaxTokens:      o.MaxTokens,
	}
	if cfg.TotalRounds == 0 {
		cfg.TotalRounds = a.defaults.TotalRounds
	}
	if o.RotateDeceiver != nil {
		cfg.RotateDeceiver = *o.RotateDeceiver
	}
	if cfg.TimeoutSeconds <= 0 {
		cfg.TimeoutSeconds = a.defaults.TimeoutSeconds
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = a.defaults.MaxTokens
	}
	return cfg
}

func (a *api) createMatch(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := a.readJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.startMatch(w, r, a.configFrom(req.Participants, req.matchOptions))
}

// interactiveParticipants turns player slots into participant ids. Humans
// become "human:<name>"; a model listed more than once gets "#2", "#3".
func interactiveParticipants(slots []playerSlot) ([]string, error) {
	var (
		out    []string
		llms   int
		humans = map[string]bool{}
		models = map[string]int{}
	)
	for i, s := range slots {
		switch strings.ToLower(strings.TrimSpace(s.Kind)) {
		case "llm":
			model := strings.TrimSpace(s.Model)
			if model == "" {
				return nil, fmt.Errorf("player %d: model is required", i+1)
			}
			llms++
			models[model]++
			if n := models[model]; n > 1 {
				model = fmt.Sprintf("%s#%d", model, n)
			}
			out = append(out, model)
		case "human":
			name := strings.TrimSpace(s.Name)
			if name == "" {
				return nil, fmt.Errorf("player %d: human name is required", i+1)
			}
			key := strings.ToLower(name)
			if humans[key] {
				return nil, fmt.Errorf("duplicate human name %q", name)
			}
			humans[key] = true
			out = append(out, match.HumanPrefix+name)
		default:
			return nil, fmt.Errorf("player %d: unknown kind %q", i+1, s.Kind)
		}
	}
	if llms == 0 {
		return nil, errors.New("at least one llm player is required")
	}
	return out, nil
}

func (a *api) createInteractive(w http.ResponseWriter, r *http.Request) {
	var req interactiveRequest
	if err := a.readJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	participants, err := interactiveParticipants(req.Players)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.startMatch(w, r, a.configFrom(participants, req.matchOptions))
}

func (a *api) startMatch(w http.ResponseWriter, r *http.Request, cfg match.Config) {
	if err := cfg.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	m := match.New(cfg)
	if err := a.store.CreateMatch(r.Context(), m); err != nil {
		httpError(w, err)
		return
	}
	a.queue.Enqueue(m.ID)
	log.Printf("[api] match %s created: %d rounds, %v", m.ID, cfg.TotalRounds, cfg.Participants)
	writeJSONStatus(w, http.StatusCreated, m)
}

func (a *api) load(w http.ResponseWriter, r *http.Request) (*match.Match, bool) {
	id, ok := matchID(w, r)
	if !ok {
		return nil, false
	}
	m, err := a.store.GetMatch(r.Context(), id)
	if err != nil {
		httpError(w, err)
		return nil, false
	}
	return m, true
}

func (a *api) getMatch(w http.ResponseWriter, r *http.Request) {
	if m, ok := a.load(w, r); ok {
		writeJSON(w, m)
	}
}

type roundSummary struct {
	Number      int            `json:"number"`
	Phase       match.Phase    `json:"phase"`
	Deceiver    string         `json:"deceiver,omitempty"`
	Result      *engine.Result `json:"result,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

func (a *api) listRounds(w http.ResponseWriter, r *http.Request) {
	m, ok := a.load(w, r)
	if !ok {
		return
	}
	out := make([]roundSummary, 0, len(m.Rounds))
	for _, rd := range m.Rounds {
		out = append(out, roundSummary{rd.Number, rd.Phase, rd.Deceiver, rd.Result, rd.StartedAt, rd.CompletedAt})
	}
	writeJSON(w, map[string]any{"rounds": out})
}

func (a *api) getRound(w http.ResponseWriter, r *http.Request) {
	m, ok := a.load(w, r)
	if !ok {
		return
	}
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil {
		http.Error(w, "bad round number", http.StatusBadRequest)
		return
	}
	rd := m.Round(n)
	if rd == nil {
		http.Error(w, "round not found", http.StatusNotFound)
		return
	}
	writeJSON(w, rd)
}

func (a *api) setStatus(w http.ResponseWriter, r *http.Request, to match.Status) (uuid.UUID, bool) {
	id, ok := matchID(w, r)
	if !ok {
		return uuid.Nil, false
	}
	prev, err := a.store.TransitionStatus(r.Context(), id, to)
	if err != nil {
		httpError(w, err)
		return uuid.Nil, false
	}
	log.Printf("[api] match %s: %s -> %s", id, prev, to)
	a.notify.Notify(notify.NewStatusChanged(id.String(), string(to)))
	return id, true
}

func (a *api) pause(w http.ResponseWriter, r *http.Request) {
	if id, ok := a.setStatus(w, r, match.StatusPaused); ok {
		writeJSON(w, map[string]any{"id": id, "status": match.StatusPaused})
	}
}

func (a *api) resume(w http.ResponseWriter, r *http.Request) {
	m, ok := a.load(w, r)
	if !ok {
		return
	}
	if m.Status != match.StatusPaused {
		http.Error(w, fmt.Sprintf("match is %s, not Paused", m.Status), http.StatusConflict)
		return
	}
	if id, ok := a.setStatus(w, r, match.StatusRunning); ok {
		a.queue.Enqueue(id)
		writeJSON(w, map[string]any{"id": id, "status": match.StatusRunning})
	}
}

func (a *api) cancel(w http.ResponseWriter, r *http.Request) {
	id, ok := a.setStatus(w, r, match.StatusCancelled)
	if !ok {
		return
	}
	running := a.worker.Cancel(id)
	waits := a.human.CancelMatch(id)
	writeJSON(w, map[string]any{"id": id, "status": match.StatusCancelled, "was_running": running, "cancelled_waits": waits})
}

func (a *api) waiting(w http.ResponseWriter, r *http.Request) {
	m, ok := a.load(w, r)
	if !ok {
		return
	}
	p, ok := a.human.WaitingContext(m.ID)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, p)
}

type inputRequest struct {
	ParticipantID string   `json:"participant_id"`
	Statements    []string `json:"statements,omitempty"`
	Door          string   `json:"door,omitempty"`
	Reasoning     string   `json:"reasoning,omitempty"`
}

func validateInput(role match.Role, req *inputRequest) error {
	switch role {
	case match.RoleDeceiver:
		if len(req.Statements) != 3 {
			return fmt.Errorf("deceiver must submit exactly 3 statements, got %d", len(req.Statements))
		}
		for i, s := range req.Statements {
			req.Statements[i] = strings.TrimSpace(s)
			if req.Statements[i] == "" {
				return fmt.Errorf("statement %d is empty", i+1)
			}
		}
	case match.RoleGuesser:
		door := strings.ToUpper(strings.TrimSpace(req.Door))
		if len(door) != 1 || !strings.Contains(engine.Labels, door) {
			return fmt.Errorf("door must be one of %s", strings.Join(strings.Split(engine.Labels, ""), ", "))
		}
		req.Door = door
	}
	return nil
}

func (a *api) submitInput(w http.ResponseWriter, r *http.Request) {
	id, ok := matchID(w, r)
	if !ok {
		return
	}
	var req inputRequest
	if err := a.readJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	prompt, waiting := a.human.WaitingContext(id)
	if !waiting {
		http.Error(w, "match is not waiting for input", http.StatusConflict)
		return
	}
	if req.ParticipantID == "" {
		req.ParticipantID = prompt.ParticipantID
	}
	if req.ParticipantID != prompt.ParticipantID {
		http.Error(w, fmt.Sprintf("waiting for %s, not %s", prompt.ParticipantID, req.ParticipantID), http.StatusConflict)
		return
	}
	if err := validateInput(prompt.Role, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	in := match.HumanInput{Statements: req.Statements, Door: req.Door, Reasoning: req.Reasoning}
	if !a.human.SubmitInput(id, req.ParticipantID, in) {
		http.Error(w, "input already submitted or wait expired", http.StatusConflict)
		return
	}
	writeJSONStatus(w, http.StatusAccepted, map[string]any{"accepted": true, "round_number": prompt.RoundNumber})
}

// events streams notifications for one match as server-sent events.
func (a *api) events(w http.ResponseWriter, r *http.Request) {
	m, ok := a.load(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	feed, stop := a.broker.Subscribe(m.ID.String())
	defer stop()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	send := func(ev notify.Event) {
		raw, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, raw)
		flusher.Flush()
	}
	send(notify.NewStatusChanged(m.ID.String(), string(m.Status)))

	ping := time.NewTicker(15 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-feed:
			if !open {
				return
			}
			send(ev)
		case <-ping.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func (a *api) leaderboard(w http.ResponseWriter, r *http.Request) {
	ms, err := a.store.ListMatches(r.Context(), match.StatusCompleted)
	if err != nil {
		httpError(w, err)
		return
	}
	writeJSON(w, map[string]any{"rows": BuildLeaderboard(ms)})
}

type debugStateRequest struct {
	Seed  *int64 `json:"seed"`
	Clues int    `json:"clues"`
}

func (a *api) debugState(w http.ResponseWriter, r *http.Request) {
	var req debugStateRequest
	if err := a.readJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Clues <= 0 {
		req.Clues = match.DefaultClueCount
	}
	st := a.oracle.GenerateState(req.Seed)
	writeJSON(w, map[string]any{
		"state":    st,
		"treasure": st.TreasureDoor(),
		"trap":     st.TrapDoor(),
		"clues":    a.oracle.GenerateClues(st, req.Clues),
	})
}

type debugParseRequest struct {
	Text string `json:"text"`
}

func (a *api) debugParse(w http.ResponseWriter, r *http.Request) {
	var req debugParseRequest
	if err := a.readJSON(w, r, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{
		"statements": a.parser.Statements(req.Text),
		"choice":     a.parser.Choice(req.Text),
		"reasoning":  a.parser.Reasoning(req.Text),
	})
}
