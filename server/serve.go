package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"oracle-bluff/server/agent"
	"oracle-bluff/server/config"
	"oracle-bluff/server/engine"
	"oracle-bluff/server/llm"
	"oracle-bluff/server/match"
	"oracle-bluff/server/notify"
	"oracle-bluff/server/store"
)

// app is everything one process shares: a single coordinator, queue and
// worker serve the HTTP handlers and the runner alike.
type app struct {
	cfg     config.Config
	store   store.Store
	gateway *llm.Composite
	oracle  *engine.Oracle
	parser  *agent.Parser
	human   *match.Coordinator
	broker  *notify.Broker
	notify  notify.Notifier
	runner  *match.Runner
	queue   *match.Queue
	worker  *match.Worker
	closers []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	st, err := store.Open(ctx, cfg.Store.DSN)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, store: st, closers: []func(){st.Close}}
	if cfg.Store.AutoMigrate {
		if err := st.Migrate(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		log.Println("[store] migrated")
	}

	a.gateway = newGateway(cfg.LLM)

	a.broker = notify.NewBroker()
	sinks := notify.Fanout{a.broker}
	if cfg.Notify.RedisURL != "" {
		r, err := notify.NewRedis(cfg.Notify.RedisURL, cfg.Notify.Prefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		async := notify.NewAsync(r, cfg.Notify.Buffer)
		sinks = append(sinks, async)
		a.closers = append(a.closers, func() { async.Close(); _ = r.Close() })
		log.Printf("[notify] publishing to redis %s", r.Channel("*"))
	}
	if cfg.Notify.NATSURL != "" {
		n, err := notify.NewNATS(cfg.Notify.NATSURL, cfg.Notify.Prefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		async := notify.NewAsync(n, cfg.Notify.Buffer)
		sinks = append(sinks, async)
		a.closers = append(a.closers, func() { async.Close(); _ = n.Close() })
		log.Printf("[notify] publishing to nats %s", n.Subject("*"))
	}
	a.notify = sinks

	a.oracle = engine.NewOracle()
	a.parser = agent.NewParser()
	a.human = match.NewCoordinator()
	a.runner = &match.Runner{
		Repo:          st,
		Oracle:        a.oracle,
		Gateway:       a.gateway,
		Human:         a.human,
		Notifier:      a.notify,
		Parser:        a.parser,
		ClueCount:     cfg.Match.ClueCount,
		HistoryWindow: cfg.Match.HistoryWindow,
	}
	a.queue = match.NewQueue()
	a.worker = &match.Worker{Queue: a.queue, Exec: a.runner}
	return a, nil
}

// newGateway sends bare model names to Ollama and prefixed ids to the
// hosted client, both with the configured retry policy.
func newGateway(cfg config.LLMConfig) *llm.Composite {
	retry := llm.Retry{Attempts: cfg.RetryAttempts, BaseDelay: time.Duration(cfg.RetryBaseMS) * time.Millisecond}
	hosted := llm.NewOpenAI()
	hosted.Retry = retry
	local := llm.NewOllama(cfg.OllamaURL)
	local.Retry = retry
	return &llm.Composite{Hosted: hosted, Local: local, HostedModels: cfg.HostedModels}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// recoverMatches re-enqueues whatever an earlier process left unfinished.
func (a *app) recoverMatches(ctx context.Context) error {
	ms, err := a.store.ListMatches(ctx, match.StatusPending, match.StatusRunning, match.StatusWaiting)
	if err != nil {
		return fmt.Errorf("list unfinished matches: %w", err)
	}
	// oldest first
	for i := len(ms) - 1; i >= 0; i-- {
		a.queue.Enqueue(ms[i].ID)
		log.Printf("[serve] re-enqueued match %s (%s)", ms[i].ID, ms[i].Status)
	}
	return nil
}

func (a *app) serve(ctx context.Context) error {
	if err := a.recoverMatches(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           Router(a.api()),
		ReadHeaderTimeout: time.Duration(a.cfg.Server.ReadTimeoutSec) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.worker.Run(gctx) })
	g.Go(func() error {
		log.Printf("listening on http://localhost%s (Ctrl+C to stop)", a.cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (a *app) api() *api {
	return &api{
		store:    a.store,
		queue:    a.queue,
		worker:   a.worker,
		human:    a.human,
		broker:   a.broker,
		notify:   a.notify,
		models:   a.gateway.ListModels,
		oracle:   a.oracle,
		parser:   a.parser,
		defaults: a.cfg.Match,
		maxBody:  a.cfg.Server.MaxBodyBytes,
	}
}

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the match worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.serve(cmd.Context())
		},
	}
}

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
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
			if err := st.Migrate(cmd.Context()); err != nil {
				return err
			}
			log.Println("migrated")
			return nil
		},
	}
}
