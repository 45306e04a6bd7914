// Package conversation routes inbound chat messages and runs the
// history → prompt → generation → reply flow for free text.
package conversation

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	ctxpkg "github.com/stupiduntilnot/relaybot/internal/context"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/metrics"
	"github.com/stupiduntilnot/relaybot/internal/reply"
)

// Generator produces a reply for a composed prompt. *reply.Service
// implements it.
type Generator interface {
	Generate(ctx context.Context, payload string) reply.Result
}

// Sender delivers outgoing messages. Any commander.Commander implements it.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, opts *cmdpkg.SendOptions) error
}

// Journal records relay events. Record returns the new event id, or 0.
type Journal interface {
	Record(parentID int64, eventType string, payload map[string]any) int64
}

type nopJournal struct{}

func (nopJournal) Record(int64, string, map[string]any) int64 { return 0 }

// Config wires a Controller. Store, Generator and Sender are required.
type Config struct {
	Store     ctxpkg.Store
	Composer  ctxpkg.Composer
	Generator Generator
	Sender    Sender
	Persona   string
	Messages  Messages
	Journal   Journal
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// Controller handles one inbound message at a time per call; calls may run
// concurrently.
type Controller struct {
	store     ctxpkg.Store
	composer  ctxpkg.Composer
	generator Generator
	sender    Sender
	persona   string
	messages  Messages
	journal   Journal
	metrics   *metrics.Metrics
	log       zerolog.Logger
	router    *Router
}

func NewController(cfg Config) *Controller {
	c := &Controller{
		store:     cfg.Store,
		composer:  cfg.Composer,
		generator: cfg.Generator,
		sender:    cfg.Sender,
		persona:   cfg.Persona,
		messages:  cfg.Messages,
		journal:   cfg.Journal,
		metrics:   cfg.Metrics,
		log:       cfg.Logger,
	}
	if c.composer == nil {
		c.composer = ctxpkg.TextComposer{}
	}
	if c.journal == nil {
		c.journal = nopJournal{}
	}
	if c.messages == (Messages{}) {
		c.messages = DefaultMessages()
	}
	c.router = NewRouter()
	c.router.Command("start", c.handleStart)
	c.router.Command("ping", c.handlePing)
	c.router.Command("clear", c.handleClear)
	c.router.Button(c.messages.RestartButton, "restart", c.handleRestart)
	c.router.Button(c.messages.ClearButton, "clear", c.handleClear)
	return c
}

// Keyboard is the reply keyboard attached to the greeting.
func (c *Controller) Keyboard() *cmdpkg.ReplyKeyboard {
	return &cmdpkg.ReplyKeyboard{
		Rows:   [][]string{{c.messages.RestartButton, c.messages.ClearButton}},
		Resize: true,
	}
}

// Handle processes one inbound message to completion. Messages without text
// are ignored.
func (c *Controller) Handle(ctx context.Context, msg *cmdpkg.Message) {
	if msg == nil || msg.Text == nil {
		return
	}
	in := Inbound{
		UserID: msg.SenderID(),
		ChatID: msg.Chat.ID,
		Text:   *msg.Text,
	}
	in.Log = c.log.With().
		Str("request_id", uuid.NewString()).
		Int64("user_id", in.UserID).
		Int64("chat_id", in.ChatID).
		Logger()

	route, ok := c.router.Lookup(in.Text)
	routeName := "text"
	if ok {
		routeName = route.Name
	}
	c.metrics.ObserveMessage(routeName)
	in.EventID = c.journal.Record(0, db.EventMessageReceived, map[string]any{
		"user_id": in.UserID,
		"chat_id": in.ChatID,
		"route":   routeName,
		"text":    truncate(in.Text, 200),
	})

	if ok {
		in.Log.Info().Str("route", route.Name).Msg("command")
		route.Handler(ctx, in)
		c.journal.Record(in.EventID, db.EventCommandHandled, map[string]any{"command": route.Name})
		return
	}
	c.handleText(ctx, in)
}

func (c *Controller) handleStart(ctx context.Context, in Inbound) {
	c.clearHistory(in)
	c.send(ctx, in, c.messages.Greeting, &cmdpkg.SendOptions{Keyboard: c.Keyboard()})
}

// handleRestart sends the transitional message and then performs the /start
// actions.
func (c *Controller) handleRestart(ctx context.Context, in Inbound) {
	c.send(ctx, in, c.messages.RestartIntro, nil)
	c.handleStart(ctx, in)
}

func (c *Controller) handleClear(ctx context.Context, in Inbound) {
	c.clearHistory(in)
	c.send(ctx, in, c.messages.ClearAck, nil)
}

func (c *Controller) handlePing(ctx context.Context, in Inbound) {
	c.send(ctx, in, c.messages.Pong, nil)
}

func (c *Controller) clearHistory(in Inbound) {
	c.store.Clear(in.UserID)
	c.journal.Record(in.EventID, db.EventHistoryCleared, nil)
}

func (c *Controller) handleText(ctx context.Context, in Inbound) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		in.Log.Debug().Msg("ignoring blank message")
		return
	}

	c.store.Append(in.UserID, ctxpkg.UserTurn(text))
	payload := c.composer.Compose(c.persona, c.store.Get(in.UserID))

	in.Log.Debug().Int("payload_chars", len([]rune(payload))).Msg("generating")
	res := c.generator.Generate(ctx, payload)

	if !res.OK() {
		f := res.Failure
		c.metrics.ObserveGeneration(string(f.Kind), res.Latency)
		in.Log.Warn().Str("kind", string(f.Kind)).Str("diagnostic", f.Diagnostic).
			Dur("latency", res.Latency).Msg("generation failed")
		c.journal.Record(in.EventID, db.EventGenerationFailed, map[string]any{
			"kind":       string(f.Kind),
			"diagnostic": truncate(f.Diagnostic, 1000),
			"latency_ms": res.Latency.Milliseconds(),
		})
		c.send(ctx, in, c.messages.FormatFailure(f.Diagnostic), nil)
		return
	}

	c.metrics.ObserveGeneration("ok", res.Latency)
	c.store.Append(in.UserID, ctxpkg.AssistantTurn(res.Text))
	in.Log.Info().Dur("latency", res.Latency).Int("input_tokens", res.InputTokens).
		Int("output_tokens", res.OutputTokens).Msg("reply generated")

	if c.send(ctx, in, res.Text, nil) {
		c.journal.Record(in.EventID, db.EventReplySent, map[string]any{
			"chars":         len([]rune(res.Text)),
			"latency_ms":    res.Latency.Milliseconds(),
			"input_tokens":  res.InputTokens,
			"output_tokens": res.OutputTokens,
		})
	}
}

// send delivers text and reports whether the transport accepted it. Delivery
// failures are logged, never retried.
func (c *Controller) send(ctx context.Context, in Inbound, text string, opts *cmdpkg.SendOptions) bool {
	if err := c.sender.SendMessage(ctx, in.ChatID, text, opts); err != nil {
		c.metrics.ObserveSendFailure()
		in.Log.Error().Err(err).Msg("send failed")
		c.journal.Record(in.EventID, db.EventSendFailed, map[string]any{"error": truncate(err.Error(), 500)})
		return false
	}
	return true
}

func truncate(s string, maxChars int) string {
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
