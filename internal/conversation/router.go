package conversation

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
)

// Inbound is one message as seen by a route handler.
type Inbound struct {
	UserID  int64
	ChatID  int64
	Text    string
	EventID int64
	Log     zerolog.Logger
}

// HandlerFunc handles a routed message.
type HandlerFunc func(ctx context.Context, in Inbound)

// Route is a named handler resolved by the Router.
type Route struct {
	Name    string
	Handler HandlerFunc
}

// Router maps platform commands and reply-keyboard labels to handlers.
// Lookups happen once per message; handlers never re-dispatch.
type Router struct {
	commands map[string]Route
	buttons  map[string]Route
}

func NewRouter() *Router {
	return &Router{
		commands: make(map[string]Route),
		buttons:  make(map[string]Route),
	}
}

// Command registers a handler for "/name", which also matches
// "/name@botname" and "/name with arguments".
func (r *Router) Command(name string, h HandlerFunc) {
	r.commands[name] = Route{Name: name, Handler: h}
}

// Button registers a handler for a message whose text equals label exactly.
func (r *Router) Button(label, name string, h HandlerFunc) {
	r.buttons[label] = Route{Name: name, Handler: h}
}

// Lookup resolves text to a route. Free text resolves to nothing.
func (r *Router) Lookup(text string) (Route, bool) {
	if route, ok := r.buttons[text]; ok {
		return route, true
	}
	if name, ok := parseCommand(text); ok {
		route, ok := r.commands[name]
		return route, ok
	}
	return Route{}, false
}

// parseCommand extracts "start" from "/start", "/start@relay_bot" or
// "/start payload".
func parseCommand(text string) (string, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", false
	}
	name := strings.TrimPrefix(fields[0], "/")
	name, _, _ = strings.Cut(name, "@")
	if name == "" {
		return "", false
	}
	return name, true
}
