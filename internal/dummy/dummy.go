// Package dummy provides scripted stand-ins for the chat transport and the
// model provider so the relay can run end to end without network access.
//
// A script is a comma separated list of actions consumed one per call; the
// last action repeats once the script is exhausted:
//
//	ok          no-op (provider: reply "dummy-ok")
//	err:<text>  fail with <text>
//	sleep:<ms>  block for <ms> milliseconds
//	msg:<text>  deliver/reply <text>
//	msgb64:<b>  same as msg with base64 encoded text
package dummy

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	cmdpkg "github.com/stupiduntilnot/relaybot/internal/commander"
	modelpkg "github.com/stupiduntilnot/relaybot/internal/model"
)

// UserID is the sender and chat id of every scripted message.
const UserID int64 = 1

type action struct {
	kind string
	arg  string
}

func parseScript(script string) ([]action, error) {
	if strings.TrimSpace(script) == "" {
		return []action{{kind: "ok"}}, nil
	}
	var actions []action
	for _, p := range strings.Split(script, ",") {
		token := strings.TrimSpace(p)
		if token == "" {
			continue
		}
		if token == "ok" {
			actions = append(actions, action{kind: "ok"})
			continue
		}
		kind, arg, found := strings.Cut(token, ":")
		if !found {
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
		switch kind {
		case "err", "sleep", "msg", "msgb64":
			actions = append(actions, action{kind: kind, arg: arg})
		default:
			return nil, fmt.Errorf("invalid dummy action: %s", token)
		}
	}
	if len(actions) == 0 {
		actions = append(actions, action{kind: "ok"})
	}
	return actions, nil
}

type scriptRunner struct {
	actions []action
	index   int
}

func newRunner(script string) (*scriptRunner, error) {
	actions, err := parseScript(script)
	if err != nil {
		return nil, err
	}
	return &scriptRunner{actions: actions}, nil
}

func (r *scriptRunner) next() action {
	if r.index >= len(r.actions) {
		return r.actions[len(r.actions)-1]
	}
	a := r.actions[r.index]
	r.index++
	return a
}

// decodeText returns the text carried by a msg or msgb64 action.
func decodeText(a action) (string, error) {
	if a.kind != "msgb64" {
		return a.arg, nil
	}
	raw, err := base64.StdEncoding.DecodeString(a.arg)
	if err != nil {
		return "", fmt.Errorf("dummy msgb64 decode failed: %w", err)
	}
	return string(raw), nil
}

func sleepMillis(ctx context.Context, arg string) {
	ms, _ := strconv.Atoi(arg)
	if ms <= 0 {
		return
	}
	t := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// SentMessage records one outgoing message.
type SentMessage struct {
	ChatID int64
	Text   string
	Opts   *cmdpkg.SendOptions
}

// Commander is a scripted chat transport. Polling consumes the poll script,
// sending consumes the send script and records every message.
type Commander struct {
	mu       sync.Mutex
	poll     *scriptRunner
	send     *scriptRunner
	updateID int64
	sent     []SentMessage
}

func NewCommander(pollScript, sendScript string) (*Commander, error) {
	poll, err := newRunner(pollScript)
	if err != nil {
		return nil, err
	}
	send, err := newRunner(sendScript)
	if err != nil {
		return nil, err
	}
	return &Commander{poll: poll, send: send}, nil
}

func (c *Commander) GetUpdates(ctx context.Context, offset int64, timeout int) ([]cmdpkg.Update, error) {
	c.mu.Lock()
	a := c.poll.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return nil, fmt.Errorf("dummy commander error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		sleepMillis(ctx, a.arg)
		return nil, nil
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.updateID++
		id := c.updateID
		c.mu.Unlock()
		return []cmdpkg.Update{{
			UpdateID: id,
			Message: &cmdpkg.Message{
				MessageID: id,
				From:      &cmdpkg.User{ID: UserID},
				Chat:      cmdpkg.Chat{ID: UserID},
				Text:      &text,
				Date:      time.Now().Unix(),
			},
		}}, nil
	default:
		// Mimic an idle long poll without spinning.
		sleepMillis(ctx, "10")
		return nil, nil
	}
}

func (c *Commander) SendMessage(ctx context.Context, chatID int64, text string, opts *cmdpkg.SendOptions) error {
	c.mu.Lock()
	a := c.send.next()
	c.mu.Unlock()

	switch a.kind {
	case "err":
		return fmt.Errorf("dummy commander send error class=%s", emptyAs(a.arg, "command_source_api"))
	case "sleep":
		sleepMillis(ctx, a.arg)
	}
	c.mu.Lock()
	c.sent = append(c.sent, SentMessage{ChatID: chatID, Text: text, Opts: opts})
	c.mu.Unlock()
	return nil
}

// Sent returns a copy of every message sent so far.
func (c *Commander) Sent() []SentMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SentMessage, len(c.sent))
	copy(out, c.sent)
	return out
}

// Provider is a scripted model provider. It records every prompt it sees.
type Provider struct {
	mu      sync.Mutex
	model   string
	script  *scriptRunner
	prompts []string
}

func NewProvider(model, script string) (*Provider, error) {
	runner, err := newRunner(script)
	if err != nil {
		return nil, err
	}
	return &Provider{model: model, script: runner}, nil
}

func (p *Provider) Name() string { return "dummy" }

func (p *Provider) Generate(ctx context.Context, prompt string) (modelpkg.CompletionResponse, error) {
	p.mu.Lock()
	a := p.script.next()
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	switch a.kind {
	case "err":
		return modelpkg.CompletionResponse{}, errors.New(emptyAs(a.arg, "dummy provider error"))
	case "sleep":
		sleepMillis(ctx, a.arg)
		return modelpkg.CompletionResponse{Content: "dummy-after-sleep", InputTokens: 1, OutputTokens: 1}, nil
	case "msg", "msgb64":
		text, err := decodeText(a)
		if err != nil {
			return modelpkg.CompletionResponse{}, err
		}
		return modelpkg.CompletionResponse{Content: text, InputTokens: 1, OutputTokens: 1}, nil
	default:
		return modelpkg.CompletionResponse{Content: "dummy-ok", InputTokens: 1, OutputTokens: 1}, nil
	}
}

// Prompts returns a copy of every prompt received so far.
func (p *Provider) Prompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.prompts))
	copy(out, p.prompts)
	return out
}

func emptyAs(v string, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
