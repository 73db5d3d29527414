package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"oracle-bluff/server/agent"
	"oracle-bluff/server/engine"
	"oracle-bluff/server/match"
	"oracle-bluff/server/notify"
	"oracle-bluff/server/store"
)

// console prints each finished round of one match.
type console struct {
	repo match.Repository
}

func (c *console) Notify(ev notify.Event) {
	switch ev.Kind {
	case notify.RoundCompleted:
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		id, err := uuid.Parse(ev.MatchID)
		if err != nil {
			return
		}
		m, err := c.repo.GetMatch(ctx, id)
		if err != nil {
			log.Printf("[play] %v", err)
			return
		}
		if rd := m.Round(ev.RoundNumber); rd != nil {
			printRound(m, rd)
		}
	case notify.MatchCompleted:
		section("Final scores")
		printScores(ev.Scores)
	}
}

func printRound(m *match.Match, rd *match.Round) {
	section(fmt.Sprintf("Round %d/%d", rd.Number, m.Config.TotalRounds))
	if rd.State != nil {
		fmt.Printf("%s treasure=%s trap=%s\n", dim("layout"), good(rd.State.TreasureDoor()), bad(rd.State.TrapDoor()))
	}
	fmt.Printf("%s %s\n", dim("architect"), mag(modelShort(rd.Deceiver)))
	for i, s := range rd.Shuffled {
		tag := dim("engine")
		if s.Source == engine.FromDeceiver {
			tag = warn("bluff ")
		}
		if !debugState {
			tag = ""
		}
		fmt.Printf("  %d. %s %s\n", i+1, s.Text, tag)
	}
	for _, d := range rd.Decisions {
		if d.Role != match.RoleGuesser {
			continue
		}
		delta := 0
		if d.ScoreDelta != nil {
			delta = *d.ScoreDelta
		}
		outcome := string(d.Outcome)
		switch d.Outcome {
		case engine.Treasure:
			outcome = good(outcome)
		case engine.Trap:
			outcome = bad(outcome)
		default:
			outcome = dim(outcome)
		}
		fmt.Printf("  %s door %s -> %s (%+d) %s\n", cyan(modelShort(d.Participant)), bold(d.Choice), outcome, delta, dim(d.Strategy))
	}
	if rd.Result != nil {
		fmt.Printf("  %s %+d\n", dim("architect"), rd.Result.DeceiverDelta)
	}
}

func printScores(scores map[string]int) {
	names := make([]string, 0, len(scores))
	for p := range scores {
		names = append(names, p)
	}
	sort.Slice(names, func(i, j int) bool {
		if scores[names[i]] != scores[names[j]] {
			return scores[names[i]] > scores[names[j]]
		}
		return names[i] < names[j]
	})
	for _, p := range names {
		sub(fmt.Sprintf("%-30s %5d", modelShort(p), scores[p]))
	}
}

type playFlags struct {
	participants []string
	rounds       int
	seed         int64
	noRotate     bool
	adaptive     bool
	dsn          string
	timeout      int
}

func newPlayCmd(opts *rootOptions) *cobra.Command {
	var f playFlags
	cmd := &cobra.Command{
		Use:   "play",
		Short: "Play one match between models in the terminal",
		Example: `  oracle-bluff play -p llama3.1,qwen2.5,openai:gpt-4o-mini -r 3
  oracle-bluff play -p mistral,mistral#2,phi3 --seed 42 --adaptive`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			for _, p := range f.participants {
				if match.IsHuman(p) {
					return fmt.Errorf("%s: human seats need the HTTP server, use serve", p)
				}
			}
			mc := match.Config{
				TotalRounds:    f.rounds,
				Participants:   f.participants,
				RotateDeceiver: !f.noRotate,
				AdaptivePlay:   f.adaptive,
				TimeoutSeconds: f.timeout,
				Temperature:    cfg.Match.Temperature,
				MaxTokens:      cfg.Match.MaxTokens,
			}
			if mc.TotalRounds <= 0 {
				mc.TotalRounds = cfg.Match.TotalRounds
			}
			if mc.TimeoutSeconds <= 0 {
				mc.TimeoutSeconds = cfg.Match.TimeoutSeconds
			}
			if cmd.Flags().Changed("seed") {
				mc.Seed = &f.seed
			}
			if err := mc.Validate(); err != nil {
				return err
			}

			dsn := cfg.Store.DSN
			if f.dsn != "" {
				dsn = f.dsn
			}
			st, err := store.Open(cmd.Context(), dsn)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}

			m := match.New(mc)
			if err := st.CreateMatch(cmd.Context(), m); err != nil {
				return err
			}
			section("Oracle's Bluff")
			fmt.Printf("%s %s\n", dim("match"), m.ID)
			fmt.Printf("%s %s\n", dim("players"), strings.Join(mc.Participants, ", "))

			runner := &match.Runner{
				Repo:          st,
				Oracle:        engine.NewOracle(),
				Gateway:       newGateway(cfg.LLM),
				Human:         match.NewCoordinator(),
				Notifier:      &console{repo: st},
				Parser:        agent.NewParser(),
				ClueCount:     cfg.Match.ClueCount,
				HistoryWindow: cfg.Match.HistoryWindow,
			}
			if err := runner.Run(cmd.Context(), m.ID); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			final, err := st.GetMatch(context.Background(), m.ID)
			if err != nil {
				return err
			}
			switch final.Status {
			case match.StatusCompleted:
				fmt.Println(good("completed"))
			case match.StatusRunning, match.StatusWaiting:
				fmt.Println(warn("interrupted; serve picks it up on start"))
			default:
				fmt.Printf("%s %s\n", bad(string(final.Status)), final.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&f.participants, "participants", "p", nil, "agent ids, at least 3")
	cmd.Flags().IntVarP(&f.rounds, "rounds", "r", 0, "rounds to play (default from config)")
	cmd.Flags().Int64Var(&f.seed, "seed", 0, "seed for a reproducible match")
	cmd.Flags().BoolVar(&f.noRotate, "no-rotate", false, "keep the first participant as architect")
	cmd.Flags().BoolVar(&f.adaptive, "adaptive", false, "show agents their recent rounds")
	cmd.Flags().StringVar(&f.dsn, "dsn", "", "override the store DSN")
	cmd.Flags().IntVar(&f.timeout, "timeout", 0, "per-call timeout in seconds")
	_ = cmd.MarkFlagRequired("participants")
	return cmd
}

func newLeaderboardCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "leaderboard",
		Short: "Print standings over all completed matches",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			st, err := store.Open(cmd.Context(), cfg.Store.DSN)
			if err != nil {
				return err
			}
			defer st.Close()
			ms, err := st.ListMatches(cmd.Context(), match.StatusCompleted)
			if err != nil {
				return err
			}
			rows := BuildLeaderboard(ms)
			section(fmt.Sprintf("Leaderboard (%d matches)", len(ms)))
			fmt.Printf("%-30s %6s %6s %6s %8s %7s %7s\n", "participant", "games", "score", "treas", "trapped", "elo", "glicko")
			for _, r := range rows {
				fmt.Printf("%-30s %6d %6d %5.0f%% %8d %7.0f %7.0f\n",
					modelShort(r.Participant), r.Matches, r.CombinedScore,
					100*r.TreasureRate, r.PlayersTrapped, r.Elo, r.Glicko.Rating)
			}
			return nil
		},
	}
}
