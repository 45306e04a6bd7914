// Package worker runs the long-poll loop that feeds chat updates to the
// conversation controller.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	"github.com/stupiduntilnot/relaybot/internal/control"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/metrics"
	"github.com/stupiduntilnot/relaybot/internal/telegram"
)

// Handler processes one inbound message to completion.
type Handler interface {
	Handle(ctx context.Context, msg *cmdpkg.Message)
}

// Journal records loop events. Record returns the new event id, or 0.
type Journal interface {
	Record(parentID int64, eventType string, payload map[string]any) int64
}

type nopJournal struct{}

func (nopJournal) Record(int64, string, map[string]any) int64 { return 0 }

// Config wires a Worker. Commander and Handler are required.
type Config struct {
	Commander cmdpkg.Commander
	Handler   Handler
	Journal   Journal
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger

	// PollTimeout is the long-poll timeout in seconds.
	PollTimeout int
	// Sleep is the pause after a failed poll.
	Sleep time.Duration

	DropPending   bool
	PendingWindow time.Duration
	PendingMax    int

	CircuitThreshold int
	CircuitCooldown  time.Duration
}

type Worker struct {
	cfg     Config
	journal Journal
	circuit *control.CircuitBreaker
	log     zerolog.Logger
	now     func() time.Time
}

func New(cfg Config) *Worker {
	w := &Worker{
		cfg:     cfg,
		journal: cfg.Journal,
		circuit: control.NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitCooldown),
		log:     cfg.Logger,
		now:     time.Now,
	}
	if w.journal == nil {
		w.journal = nopJournal{}
	}
	if w.cfg.Sleep <= 0 {
		w.cfg.Sleep = time.Second
	}
	return w
}

// Run polls until ctx is cancelled, then waits for in-flight handlers.
// Handlers run on a context detached from ctx so that a reply already being
// generated is still delivered during shutdown.
func (w *Worker) Run(ctx context.Context) error {
	var offset int64
	if w.cfg.DropPending {
		bootstrapped, err := bootstrapOffset(ctx, w.cfg.Commander, w.cfg.PendingWindow, w.cfg.PendingMax, w.now())
		if err != nil {
			w.log.Warn().Err(err).Msg("bootstrap offset failed")
		} else {
			offset = bootstrapped
		}
	}
	w.log.Info().Int64("offset", offset).Int("poll_timeout", w.cfg.PollTimeout).Msg("polling started")

	handlerCtx := context.WithoutCancel(ctx)
	wg := conc.NewWaitGroup()
	defer func() {
		if r := wg.WaitAndRecover(); r != nil {
			w.log.Error().Str("panic", r.String()).Msg("handler panicked")
		}
		w.log.Info().Msg("polling stopped")
	}()

	for ctx.Err() == nil {
		if !w.allow() {
			sleep(ctx, w.circuit.Remaining(w.now()))
			continue
		}

		updates, err := w.cfg.Commander.GetUpdates(ctx, offset, w.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			w.pollFailed(err)
			sleep(ctx, w.cfg.Sleep)
			continue
		}
		if w.circuit.RecordSuccess() {
			w.log.Info().Msg("polling recovered")
			w.journal.Record(0, db.EventCircuitClosed, map[string]any{"recovered": true})
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			msg := update.Message
			if msg == nil || msg.Text == nil {
				continue
			}
			done := w.cfg.Metrics.HandlerStarted()
			wg.Go(func() {
				defer done()
				w.cfg.Handler.Handle(handlerCtx, msg)
			})
		}
	}
	return nil
}

func (w *Worker) allow() bool {
	prev := w.circuit.State()
	if !w.circuit.Allow(w.now()) {
		return false
	}
	if prev == control.CircuitOpen && w.circuit.State() == control.CircuitHalfOpen {
		w.log.Info().Str("error_class", w.circuit.OpenedClass()).Msg("polling circuit half-open")
		w.journal.Record(0, db.EventCircuitHalfOpen, map[string]any{"error_class": w.circuit.OpenedClass()})
	}
	return true
}

func (w *Worker) pollFailed(err error) {
	errClass := classifyError(err)
	w.cfg.Metrics.ObservePollFailure()
	w.log.Warn().Err(err).Str("error_class", errClass).Msg("getUpdates failed")
	if w.circuit.RecordFailure(errClass, w.now()) {
		w.log.Error().Str("error_class", errClass).Dur("cooldown", w.circuit.Cooldown).Msg("polling circuit opened")
		w.journal.Record(0, db.EventCircuitOpened, map[string]any{
			"error_class":      errClass,
			"threshold":        w.circuit.Threshold,
			"cooldown_seconds": int(w.circuit.Cooldown.Seconds()),
		})
	}
}

// bootstrapOffset picks the first offset to poll from so that a restart does
// not replay a stale backlog: updates older than window are skipped and at
// most maxMessages recent ones are kept.
func bootstrapOffset(ctx context.Context, c cmdpkg.Commander, window time.Duration, maxMessages int, now time.Time) (int64, error) {
	updates, err := c.GetUpdates(ctx, 0, 0)
	if err != nil {
		return 0, fmt.Errorf("bootstrap getUpdates: %w", err)
	}
	if len(updates) == 0 {
		return 0, nil
	}

	cutoff := now.Add(-window).Unix()
	var inWindow []cmdpkg.Update
	for _, u := range updates {
		if u.Message != nil && u.Message.Date >= cutoff {
			inWindow = append(inWindow, u)
		}
	}

	if len(inWindow) == 0 {
		return updates[len(updates)-1].UpdateID + 1, nil
	}
	if maxMessages > 0 && len(inWindow) > maxMessages {
		inWindow = inWindow[len(inWindow)-maxMessages:]
	}
	return inWindow[0].UpdateID, nil
}

// classifyError buckets poll failures for the circuit breaker.
func classifyError(err error) string {
	var apiErr *telegram.APIError
	switch {
	case errors.As(err, &apiErr):
		return "command_source_api"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "command_source"
	}
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
