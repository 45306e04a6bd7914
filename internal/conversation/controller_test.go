package conversation

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	ctxpkg "github.com/stupiduntilnot/relaybot/internal/context"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/dummy"
	"github.com/stupiduntilnot/relaybot/internal/metrics"
	"github.com/stupiduntilnot/relaybot/internal/reply"
)

const testPersona = "You are a terse founder."

// scriptedGenerator answers every call with reply<N> and records payloads.
type scriptedGenerator struct {
	mu       sync.Mutex
	payloads []string
	fail     *reply.Failure
}

func (g *scriptedGenerator) Generate(_ context.Context, payload string) reply.Result {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.payloads = append(g.payloads, payload)
	if g.fail != nil {
		return reply.Result{Failure: g.fail, Latency: time.Millisecond}
	}
	return reply.Result{Text: fmt.Sprintf("reply%d", len(g.payloads)), Latency: time.Millisecond}
}

func (g *scriptedGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.payloads)
}

type recordedEvent struct {
	parent    int64
	eventType string
}

type memJournal struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (j *memJournal) Record(parentID int64, eventType string, _ map[string]any) int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = append(j.events, recordedEvent{parent: parentID, eventType: eventType})
	return int64(len(j.events))
}

func (j *memJournal) types() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.eventType)
	}
	return out
}

type fixture struct {
	ctl     *Controller
	store   *ctxpkg.MemoryStore
	gen     *scriptedGenerator
	sender  *dummy.Commander
	journal *memJournal
	metrics *metrics.Metrics
}

func newFixture(t *testing.T, sendScript string) *fixture {
	t.Helper()
	sender, err := dummy.NewCommander("", sendScript)
	require.NoError(t, err)
	f := &fixture{
		store:   ctxpkg.NewMemoryStore(ctxpkg.DefaultMaxMessages),
		gen:     &scriptedGenerator{},
		sender:  sender,
		journal: &memJournal{},
		metrics: metrics.New(),
	}
	f.ctl = NewController(Config{
		Store:     f.store,
		Generator: f.gen,
		Sender:    f.sender,
		Persona:   testPersona,
		Journal:   f.journal,
		Metrics:   f.metrics,
		Logger:    zerolog.Nop(),
	})
	return f
}

func message(userID int64, text string) *cmdpkg.Message {
	return &cmdpkg.Message{
		From: &cmdpkg.User{ID: userID},
		Chat: cmdpkg.Chat{ID: userID},
		Text: &text,
		Date: time.Now().Unix(),
	}
}

func (f *fixture) say(userID int64, text string) {
	f.ctl.Handle(context.Background(), message(userID, text))
}

func sentTexts(c *dummy.Commander) []string {
	var out []string
	for _, m := range c.Sent() {
		out = append(out, m.Text)
	}
	return out
}

func TestStartClearsHistoryAndSendsKeyboard(t *testing.T) {
	f := newFixture(t, "")
	f.store.Append(42, ctxpkg.UserTurn("old"))

	f.say(42, "/start")

	assert.Empty(t, f.store.Get(42))
	sent := f.sender.Sent()
	require.Len(t, sent, 1)
	msgs := DefaultMessages()
	assert.Equal(t, msgs.Greeting, sent[0].Text)
	assert.Equal(t, int64(42), sent[0].ChatID)
	require.NotNil(t, sent[0].Opts)
	require.NotNil(t, sent[0].Opts.Keyboard)
	assert.Equal(t, [][]string{{msgs.RestartButton, msgs.ClearButton}}, sent[0].Opts.Keyboard.Rows)
	assert.True(t, sent[0].Opts.Keyboard.Resize)
	assert.Zero(t, f.gen.calls())
}

func TestSixMessagesKeepLastFiveTurns(t *testing.T) {
	f := newFixture(t, "")
	f.say(7, "/start")
	for i := 1; i <= 6; i++ {
		f.say(7, fmt.Sprintf("m%d", i))
	}

	history := f.store.Get(7)
	require.Len(t, history, 5)
	want := []ctxpkg.Turn{
		ctxpkg.AssistantTurn("reply4"),
		ctxpkg.UserTurn("m5"),
		ctxpkg.AssistantTurn("reply5"),
		ctxpkg.UserTurn("m6"),
		ctxpkg.AssistantTurn("reply6"),
	}
	assert.Equal(t, want, history)

	// The sixth payload is composed before reply6 exists.
	require.Equal(t, 6, f.gen.calls())
	assert.Equal(t,
		testPersona+"\n\nuser: m4\nassistant: reply4\nuser: m5\nassistant: reply5\nuser: m6",
		f.gen.payloads[5])

	texts := sentTexts(f.sender)
	assert.Equal(t, "reply6", texts[len(texts)-1])
}

func TestClearCommandAndButton(t *testing.T) {
	for _, text := range []string{"/clear", "🧹 Очистить контекст"} {
		t.Run(text, func(t *testing.T) {
			f := newFixture(t, "")
			f.say(3, "hello")
			f.say(3, "again")
			require.Len(t, f.store.Get(3), 4)

			f.say(3, text)
			assert.Empty(t, f.store.Get(3))
			texts := sentTexts(f.sender)
			assert.Equal(t, DefaultMessages().ClearAck, texts[len(texts)-1])

			// Idempotent.
			f.say(3, text)
			assert.Empty(t, f.store.Get(3))
		})
	}
}

func TestQuotaFailureSendsDiagnostic(t *testing.T) {
	f := newFixture(t, "")
	f.gen.fail = &reply.Failure{Kind: reply.FailureQuota, Diagnostic: "quota exceeded"}

	f.say(9, "hello")

	texts := sentTexts(f.sender)
	require.Len(t, texts, 1)
	assert.Equal(t, "⚠️ Ошибка при обращении к Gemini API:\nquota exceeded", texts[0])
	assert.Equal(t, []ctxpkg.Turn{ctxpkg.UserTurn("hello")}, f.store.Get(9))
	assert.Contains(t, f.journal.types(), db.EventGenerationFailed)

	// The next message is processed normally.
	f.gen.fail = nil
	f.say(9, "again")
	history := f.store.Get(9)
	require.Len(t, history, 3)
	assert.Equal(t, ctxpkg.RoleAssistant, history[2].Role)
}

func TestRestartButtonSendsIntroThenGreeting(t *testing.T) {
	f := newFixture(t, "")
	f.say(5, "hi")
	require.NotEmpty(t, f.store.Get(5))

	f.say(5, DefaultMessages().RestartButton)

	assert.Empty(t, f.store.Get(5))
	sent := f.sender.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, DefaultMessages().RestartIntro, sent[1].Text)
	assert.Nil(t, sent[1].Opts)
	assert.Equal(t, DefaultMessages().Greeting, sent[2].Text)
	require.NotNil(t, sent[2].Opts)
}

func TestPing(t *testing.T) {
	f := newFixture(t, "")
	f.say(1, "/ping@relay_bot")
	assert.Equal(t, []string{"pong"}, sentTexts(f.sender))
	assert.Empty(t, f.store.Get(1))
}

func TestUsersAreIsolated(t *testing.T) {
	f := newFixture(t, "")
	f.say(1, "from one")
	f.say(2, "from two")
	f.say(1, "/clear")

	assert.Empty(t, f.store.Get(1))
	assert.Equal(t, []ctxpkg.Turn{
		ctxpkg.UserTurn("from two"),
		ctxpkg.AssistantTurn("reply2"),
	}, f.store.Get(2))
}

func TestBlankAndTextlessMessagesIgnored(t *testing.T) {
	f := newFixture(t, "")
	f.say(1, "   \n")
	f.ctl.Handle(context.Background(), &cmdpkg.Message{Chat: cmdpkg.Chat{ID: 1}})
	f.ctl.Handle(context.Background(), nil)

	assert.Zero(t, f.gen.calls())
	assert.Empty(t, f.sender.Sent())
	assert.Empty(t, f.store.Get(1))
}

func TestTextIsTrimmedBeforeAppend(t *testing.T) {
	f := newFixture(t, "")
	f.say(1, "  spaced out \n")
	assert.Equal(t, ctxpkg.UserTurn("spaced out"), f.store.Get(1)[0])
}

func TestSendFailureKeepsAssistantTurn(t *testing.T) {
	f := newFixture(t, "err:network")
	f.say(1, "hello")

	assert.Len(t, f.store.Get(1), 2)
	assert.Contains(t, f.journal.types(), db.EventSendFailed)
	assert.NotContains(t, f.journal.types(), db.EventReplySent)
}

func TestJournalNestsOutcomesUnderMessage(t *testing.T) {
	f := newFixture(t, "")
	f.say(1, "hello")
	f.say(1, "/clear")

	f.journal.mu.Lock()
	events := append([]recordedEvent(nil), f.journal.events...)
	f.journal.mu.Unlock()

	require.Len(t, events, 5)
	assert.Equal(t, recordedEvent{parent: 0, eventType: db.EventMessageReceived}, events[0])
	assert.Equal(t, recordedEvent{parent: 1, eventType: db.EventReplySent}, events[1])
	assert.Equal(t, recordedEvent{parent: 0, eventType: db.EventMessageReceived}, events[2])
	assert.Equal(t, recordedEvent{parent: 3, eventType: db.EventHistoryCleared}, events[3])
	assert.Equal(t, recordedEvent{parent: 3, eventType: db.EventCommandHandled}, events[4])
}

func TestWithReplyServiceAndDummyProvider(t *testing.T) {
	provider, err := dummy.NewProvider("dummy", "msg:  first  ,err:429 quota exceeded for project")
	require.NoError(t, err)
	sender, err := dummy.NewCommander("", "")
	require.NoError(t, err)
	store := ctxpkg.NewMemoryStore(5)
	ctl := NewController(Config{
		Store:     store,
		Generator: reply.NewService(provider),
		Sender:    sender,
		Persona:   testPersona,
		Logger:    zerolog.Nop(),
	})

	ctl.Handle(context.Background(), message(1, "one"))
	ctl.Handle(context.Background(), message(1, "two"))

	texts := sentTexts(sender)
	require.Len(t, texts, 2)
	assert.Equal(t, "first", texts[0])
	assert.True(t, strings.HasPrefix(texts[1], "⚠️ "))
	assert.Contains(t, texts[1], "429 quota exceeded for project")

	prompts := provider.Prompts()
	require.Len(t, prompts, 2)
	assert.Equal(t, testPersona+"\n\nuser: one", prompts[0])
	assert.Equal(t, testPersona+"\n\nuser: one\nassistant: first\nuser: two", prompts[1])
}

func TestConcurrentUsers(t *testing.T) {
	f := newFixture(t, "")
	var wg sync.WaitGroup
	for u := int64(1); u <= 8; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				f.say(u, fmt.Sprintf("u%d-%d", u, i))
			}
		}(u)
	}
	wg.Wait()

	for u := int64(1); u <= 8; u++ {
		history := f.store.Get(u)
		require.Len(t, history, 5)
		assert.Equal(t, fmt.Sprintf("u%d-9", u), history[3].Content)
	}
	assert.Equal(t, 80, f.gen.calls())
}

func TestCustomMessages(t *testing.T) {
	sender, err := dummy.NewCommander("", "")
	require.NoError(t, err)
	msgs := DefaultMessages()
	msgs.ErrorPrefix = "Model error"
	ctl := NewController(Config{
		Store:     ctxpkg.NewMemoryStore(5),
		Generator: &scriptedGenerator{fail: &reply.Failure{Kind: reply.FailureAuth, Diagnostic: "bad key"}},
		Sender:    sender,
		Messages:  msgs,
		Logger:    zerolog.Nop(),
	})
	ctl.Handle(context.Background(), message(1, "hi"))
	assert.Equal(t, []string{"⚠️ Model error:\nbad key"}, sentTexts(sender))
}
