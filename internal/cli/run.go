package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/config"
	ctxpkg "github.com/stupiduntilnot/relaybot/internal/context"
	"github.com/stupiduntilnot/relaybot/internal/conversation"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/dummy"
	"github.com/stupiduntilnot/relaybot/internal/gemini"
	"github.com/stupiduntilnot/relaybot/internal/logger"
	"github.com/stupiduntilnot/relaybot/internal/metrics"
	modelpkg "github.com/stupiduntilnot/relaybot/internal/model"
	"github.com/stupiduntilnot/relaybot/internal/openai"
	"github.com/stupiduntilnot/relaybot/internal/reply"
	"github.com/stupiduntilnot/relaybot/internal/telegram"
	"github.com/stupiduntilnot/relaybot/internal/worker"
)

func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll for messages and relay them until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(globalFlags.ConfigPath)
			if err != nil {
				return err
			}
			if err := logger.Init(logger.LogConfig{
				Level:  logLevel(cfg.LogLevel),
				Format: cfg.LogFormat,
				File:   cfg.LogFile,
			}); err != nil {
				return err
			}
			defer logger.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, *logger.Get())
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	}
}

// app is a fully wired relay process.
type app struct {
	cfg       config.Config
	log       zerolog.Logger
	commander cmdpkg.Commander
	provider  modelpkg.Provider
	store     *ctxpkg.MemoryStore
	metrics   *metrics.Metrics
	database  *sql.DB
	journal   *db.Journal
	worker    *worker.Worker
}

func newApp(ctx context.Context, cfg config.Config, log zerolog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		log:     log,
		store:   ctxpkg.NewMemoryStore(cfg.MaxContextMsgs),
		metrics: metrics.New(),
	}

	var err error
	if a.commander, err = newCommander(cfg); err != nil {
		return nil, fmt.Errorf("init commander: %w", err)
	}
	if a.provider, err = newModelProvider(ctx, cfg); err != nil {
		return nil, fmt.Errorf("init model provider: %w", err)
	}

	if cfg.EventDBPath != "" {
		if err := a.openJournal(); err != nil {
			return nil, err
		}
	}
	// Typed nil journals must not reach the interfaces below.
	var journal conversation.Journal
	if a.journal != nil {
		journal = a.journal
	}

	msgs := conversation.DefaultMessages()
	if cfg.ErrorPrefix != "" {
		msgs.ErrorPrefix = cfg.ErrorPrefix
	}
	controller := conversation.NewController(conversation.Config{
		Store:     a.store,
		Composer:  ctxpkg.TextComposer{},
		Generator: reply.NewService(a.provider),
		Sender:    a.commander,
		Persona:   cfg.Persona,
		Messages:  msgs,
		Journal:   journal,
		Metrics:   a.metrics,
		Logger:    log.With().Str("component", "conversation").Logger(),
	})

	a.worker = worker.New(worker.Config{
		Commander:        a.commander,
		Handler:          controller,
		Journal:          journal,
		Metrics:          a.metrics,
		Logger:           log.With().Str("component", "worker").Logger(),
		PollTimeout:      cfg.Timeout,
		Sleep:            time.Duration(cfg.SleepSeconds) * time.Second,
		DropPending:      cfg.DropPending && cfg.Commander != "dummy",
		PendingWindow:    cfg.PendingWindow,
		PendingMax:       cfg.PendingMax,
		CircuitThreshold: cfg.CircuitThreshold,
		CircuitCooldown:  cfg.CircuitCooldown,
	})
	return a, nil
}

func (a *app) openJournal() error {
	database, err := db.OpenDB(a.cfg.EventDBPath)
	if err != nil {
		return err
	}
	if err := db.InitSchema(database); err != nil {
		database.Close()
		return fmt.Errorf("init event schema: %w", err)
	}
	journal, err := db.NewJournal(database, map[string]any{
		"provider":             a.provider.Name(),
		"model":                a.cfg.ModelName(),
		"commander":            a.cfg.Commander,
		"max_context_messages": a.store.MaxMessages(),
	})
	if err != nil {
		database.Close()
		return fmt.Errorf("log process.started: %w", err)
	}
	a.database = database
	a.journal = journal
	return nil
}

// Run serves metrics when configured and polls until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	a.log.Info().
		Str("provider", a.provider.Name()).
		Str("model", a.cfg.ModelName()).
		Str("commander", a.cfg.Commander).
		Int("max_context_messages", a.store.MaxMessages()).
		Msg("relay running")

	var srv *http.Server
	if a.cfg.MetricsAddr != "" {
		srv = a.serveMetrics()
	}

	err := a.worker.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if serr := srv.Shutdown(shutdownCtx); serr != nil {
			a.log.Warn().Err(serr).Msg("metrics server shutdown failed")
		}
	}
	return err
}

func (a *app) serveMetrics() *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.log.Info().Str("addr", srv.Addr).Msg("metrics listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

// Close records process.stopped and releases the journal.
func (a *app) Close() {
	if a.journal != nil {
		a.journal.Record(0, db.EventProcessStopped, nil)
	}
	if a.database != nil {
		a.database.Close()
	}
}

func newCommander(cfg config.Config) (cmdpkg.Commander, error) {
	switch cfg.Commander {
	case "telegram":
		return telegram.NewClient(cfg.BotAPIBase(), time.Duration(cfg.Timeout+20)*time.Second), nil
	case "dummy":
		return dummy.NewCommander(cfg.DummyCommanderScript, cfg.DummySendScript)
	default:
		return nil, fmt.Errorf("unsupported commander: %s", cfg.Commander)
	}
}

func newModelProvider(ctx context.Context, cfg config.Config) (modelpkg.Provider, error) {
	switch cfg.ModelProvider {
	case "gemini":
		return gemini.NewClient(ctx, gemini.Config{
			APIKey:  cfg.GeminiAPIKey,
			Model:   cfg.GeminiModel,
			BaseURL: cfg.GeminiBaseURL,
			Timeout: cfg.GeminiTimeout,
		})
	case "openai":
		return openai.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIChatURL, cfg.OpenAIModel, cfg.OpenAITimeout), nil
	case "dummy":
		return dummy.NewProvider(cfg.ModelName(), cfg.DummyProviderScript)
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.ModelProvider)
	}
}
