package commands

import (
	"context"
	"fmt"
)

// Handler handles a classified command and returns the reply text.
type Handler func(ctx context.Context, cmd *Command) (string, error)

// Router routes classified commands to handlers.
type Router struct {
	grammar  *Grammar
	handlers map[Kind]Handler
}

// NewRouter creates a router over g. A nil grammar means DefaultGrammar().
func NewRouter(g *Grammar) *Router {
	if g == nil {
		g = DefaultGrammar()
	}
	return &Router{
		grammar:  g,
		handlers: make(map[Kind]Handler),
	}
}

// Register registers a command handler.
func (r *Router) Register(kind Kind, handler Handler) {
	r.handlers[kind] = handler
}

// Grammar returns the grammar the router classifies with.
func (r *Router) Grammar() *Grammar { return r.grammar }

// Dispatch calls the handler for kind directly, without classifying text.
func (r *Router) Dispatch(ctx context.Context, kind Kind, cmd *Command) (string, error) {
	handler, ok := r.handlers[kind]
	if !ok {
		return "", fmt.Errorf("no handler registered for %s", kind)
	}
	if cmd == nil {
		cmd = &Command{Kind: kind}
	}
	return handler(ctx, cmd)
}

// Route classifies text and runs the matching handler. It returns
// ErrNotACommand when text matches no command.
func (r *Router) Route(ctx context.Context, text string) (*Command, string, error) {
	cmd, err := r.grammar.Parse(text)
	if err != nil {
		return nil, "", err
	}
	reply, err := r.Dispatch(ctx, cmd.Kind, cmd)
	return cmd, reply, err
}
