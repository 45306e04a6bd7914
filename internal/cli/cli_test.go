package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupiduntilnot/relaybot/internal/config"
	ctxpkg "github.com/stupiduntilnot/relaybot/internal/context"
	"github.com/stupiduntilnot/relaybot/internal/conversation"
	"github.com/stupiduntilnot/relaybot/internal/db"
	"github.com/stupiduntilnot/relaybot/internal/dummy"
)

func dummyConfig(t *testing.T, pollScript, providerScript string) config.Config {
	t.Helper()
	return config.Config{
		Commander:            "dummy",
		ModelProvider:        "dummy",
		DummyCommanderScript: pollScript,
		DummySendScript:      "ok",
		DummyProviderScript:  providerScript,
		Persona:              "persona",
		MaxContextMsgs:       5,
		EventDBPath:          filepath.Join(t.TempDir(), "events.db"),
		LogFormat:            "console",
	}
}

func eventTypes(t *testing.T, path string) []string {
	t.Helper()
	database, err := db.OpenDB(path)
	require.NoError(t, err)
	defer database.Close()
	events, err := db.RecentEvents(database, 100)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	return types
}

func TestAppRelaysEndToEnd(t *testing.T) {
	cfg := dummyConfig(t, "msg:/start,sleep:100,msg:hello,ok", "msg:  hi there  ")
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)

	commander := a.commander.(*dummy.Commander)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return len(commander.Sent()) == 2 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)
	a.Close()

	sent := commander.Sent()
	assert.Equal(t, conversation.DefaultMessages().Greeting, sent[0].Text)
	assert.Equal(t, "hi there", sent[1].Text)
	assert.Equal(t, []ctxpkg.Turn{
		ctxpkg.UserTurn("hello"),
		ctxpkg.AssistantTurn("hi there"),
	}, a.store.Get(dummy.UserID))

	prompts := a.provider.(*dummy.Provider).Prompts()
	require.Len(t, prompts, 1)
	assert.Equal(t, "persona\n\nuser: hello", prompts[0])

	types := eventTypes(t, cfg.EventDBPath)
	require.NotEmpty(t, types)
	assert.Equal(t, db.EventProcessStarted, types[0])
	assert.Equal(t, db.EventProcessStopped, types[len(types)-1])
	assert.Contains(t, types, db.EventMessageReceived)
	assert.Contains(t, types, db.EventHistoryCleared)
	assert.Contains(t, types, db.EventCommandHandled)
	assert.Contains(t, types, db.EventReplySent)
}

func TestAppReportsGenerationFailure(t *testing.T) {
	cfg := dummyConfig(t, "msg:hello,ok", "err:quota exceeded")
	cfg.ErrorPrefix = "Model error"
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	commander := a.commander.(*dummy.Commander)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Run(ctx) }()

	require.Eventually(t, func() bool { return len(commander.Sent()) == 1 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errCh)

	assert.Equal(t, "⚠️ Model error:\nquota exceeded", commander.Sent()[0].Text)
	assert.Equal(t, []ctxpkg.Turn{ctxpkg.UserTurn("hello")}, a.store.Get(dummy.UserID))
	assert.Contains(t, eventTypes(t, cfg.EventDBPath), db.EventGenerationFailed)
}

func TestAppWithoutJournal(t *testing.T) {
	cfg := dummyConfig(t, "ok", "ok")
	cfg.EventDBPath = ""
	a, err := newApp(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	assert.Nil(t, a.journal)
	a.Close()
}

func TestNewModelProvider_Unsupported(t *testing.T) {
	_, err := newModelProvider(context.Background(), config.Config{ModelProvider: "nope"})
	assert.ErrorContains(t, err, "unsupported model provider")

	_, err = newCommander(config.Config{Commander: "nope"})
	assert.ErrorContains(t, err, "unsupported commander")
}

func seedJournal(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "events.db")
	database, err := db.OpenDB(path)
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, db.InitSchema(database))
	j, err := db.NewJournal(database, map[string]any{"provider": "dummy"})
	require.NoError(t, err)
	msgID := j.Record(0, db.EventMessageReceived, map[string]any{"route": "text", "user_id": 7})
	j.Record(msgID, db.EventReplySent, map[string]any{"chars": 5})
	return path
}

func runRoot(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestEventsCommand_Tree(t *testing.T) {
	path := seedJournal(t)
	out := runRoot(t, "events", "--db", path)

	assert.Contains(t, out, "process.started  pid=")
	assert.Contains(t, out, "└── [2] ")
	assert.Contains(t, out, "message.received  route=text  user_id=7")
	assert.Contains(t, out, "    └── [3] ")
	assert.Contains(t, out, "reply.sent  chars=5")
}

func TestEventsCommand_JSONLimit(t *testing.T) {
	path := seedJournal(t)
	out := runRoot(t, "events", "--db", path, "--json", "--limit", "2")

	var roots []jsonEvent
	require.NoError(t, json.Unmarshal([]byte(out), &roots))
	require.Len(t, roots, 1)
	assert.Equal(t, db.EventMessageReceived, roots[0].EventType)
	require.Len(t, roots[0].Children, 1)
	assert.Equal(t, db.EventReplySent, roots[0].Children[0].EventType)
}

func TestVersionCommand_JSON(t *testing.T) {
	out := runRoot(t, "version", "--json")
	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestLogLevel(t *testing.T) {
	t.Cleanup(func() { globalFlags = GlobalFlags{} })

	globalFlags = GlobalFlags{}
	assert.Equal(t, "warn", logLevel("warn"))
	globalFlags = GlobalFlags{Verbose: true}
	assert.Equal(t, "debug", logLevel("warn"))
	globalFlags = GlobalFlags{Quiet: true}
	assert.Equal(t, "error", logLevel("warn"))
}
