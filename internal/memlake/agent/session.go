// Package agent is the conversational side of memlake: it owns a single
// user session, records completed exchanges into the memory engine, answers
// memory commands and assembles memory context for prompt building.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/bdobrica/memlake/internal/memlake/commands"
	"github.com/bdobrica/memlake/internal/memlake/memory"
)

// ErrBusy is returned when the request context ends while another request
// still holds the session.
var ErrBusy = errors.New("agent: session busy")

// Reply is the structured answer to a command.
type Reply struct {
	Kind          string               `json:"kind"`
	Text          string               `json:"text"`
	DeveloperMode bool                 `json:"developer_mode"`
	Commit        *memory.CommitResult `json:"commit,omitempty"`
	First         *memory.TopicEntry   `json:"first,omitempty"`
	Memories      []memory.RecallHit   `json:"memories,omitempty"`
}

type replyKey struct{}

func replyFrom(ctx context.Context) *Reply {
	if r, ok := ctx.Value(replyKey{}).(*Reply); ok {
		return r
	}
	return &Reply{}
}

// Options tunes a Session. Zero values take defaults.
type Options struct {
	Grammar       *commands.Grammar
	ContextTokens int
	ContextTurns  int
	RecallLimit   int
}

// Session serialises requests for one conversation. Only one request is in
// flight at a time; waiting requests give up when their context ends.
type Session struct {
	engine    *memory.Engine
	router    *commands.Router
	assembler *memory.ContextAssembler
	sem       *semaphore.Weighted
	logger    *slog.Logger

	mu      sync.Mutex
	devMode bool
}

// NewSession creates a session over engine.
func NewSession(engine *memory.Engine, opts Options, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		engine: engine,
		router: commands.NewRouter(opts.Grammar),
		assembler: &memory.ContextAssembler{
			Engine:    engine,
			MaxTokens: opts.ContextTokens,
			MaxTurns:  opts.ContextTurns,
			TopK:      opts.RecallLimit,
		},
		sem:    semaphore.NewWeighted(1),
		logger: logger,
	}
	s.router.Register(commands.KindRememberMoment, s.handleRemember)
	s.router.Register(commands.KindDeveloperOn, s.handleDeveloper(true))
	s.router.Register(commands.KindDeveloperOff, s.handleDeveloper(false))
	s.router.Register(commands.KindRecallFirst, s.handleRecallFirst)
	s.router.Register(commands.KindRecallPast, s.handleRecallPast)
	return s
}

// Engine returns the underlying memory engine.
func (s *Session) Engine() *memory.Engine { return s.engine }

func (s *Session) acquire(ctx context.Context) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %w", ErrBusy, err)
	}
	return nil
}

func (s *Session) release() { s.sem.Release(1) }

// DeveloperMode reports whether turns are currently kept out of memory.
func (s *Session) DeveloperMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.devMode
}

// Exchange records a completed user/agent exchange. In developer mode the
// turn is logged but never summarised.
func (s *Session) Exchange(ctx context.Context, user, agent string) (memory.RecordResult, error) {
	if err := s.acquire(ctx); err != nil {
		return memory.RecordResult{}, err
	}
	defer s.release()
	return s.engine.RecordTurn(ctx, user, agent, s.DeveloperMode())
}

// Flush force-commits the pending batch.
func (s *Session) Flush(ctx context.Context) (memory.CommitResult, error) {
	if err := s.acquire(ctx); err != nil {
		return memory.CommitResult{}, err
	}
	defer s.release()
	return s.engine.Flush(ctx, true)
}

// Command classifies text and runs the matching memory command. It returns
// commands.ErrNotACommand when text is ordinary conversation.
func (s *Session) Command(ctx context.Context, text string) (Reply, error) {
	if err := s.acquire(ctx); err != nil {
		return Reply{}, err
	}
	defer s.release()

	rep := &Reply{}
	cmd, msg, err := s.router.Route(context.WithValue(ctx, replyKey{}, rep), text)
	if err != nil {
		return Reply{}, err
	}
	return s.finish(rep, cmd.Kind, msg), nil
}

// Run executes the command of the given kind without classifying text.
// text is the recall query for KindRecallPast and is otherwise ignored.
func (s *Session) Run(ctx context.Context, kind commands.Kind, text string) (Reply, error) {
	if err := s.acquire(ctx); err != nil {
		return Reply{}, err
	}
	defer s.release()

	rep := &Reply{}
	msg, err := s.router.Dispatch(context.WithValue(ctx, replyKey{}, rep), kind, &commands.Command{Kind: kind, RawText: text})
	if err != nil {
		return Reply{}, err
	}
	return s.finish(rep, kind, msg), nil
}

func (s *Session) finish(rep *Reply, kind commands.Kind, msg string) Reply {
	rep.Kind = kind.String()
	rep.Text = msg
	rep.DeveloperMode = s.DeveloperMode()
	s.logger.Info("agent: command handled", "kind", rep.Kind)
	return *rep
}

// Context assembles the memory block for query. Earlier sessions are only
// recalled when the query asks about the past.
func (s *Session) Context(query string) memory.MemoryContext {
	return s.assembler.Assemble(query, s.router.Grammar().WantsRecall(query))
}

// Close drains the session into memory and shuts the engine down. It waits
// for an in-flight request but not past ctx.
func (s *Session) Close(ctx context.Context) (memory.CommitResult, error) {
	if err := s.acquire(ctx); err != nil {
		s.logger.Warn("agent: closing while a request is in flight", "err", err)
	} else {
		defer s.release()
	}
	return s.engine.Shutdown(ctx)
}

func (s *Session) handleRemember(ctx context.Context, _ *commands.Command) (string, error) {
	res, err := s.engine.Remember(ctx)
	if err != nil {
		return "", err
	}
	if !res.Flushed {
		return "Nothing new to remember yet.", nil
	}
	replyFrom(ctx).Commit = &res
	return fmt.Sprintf("Remembered: %s", res.Topic.Topic), nil
}

func (s *Session) handleDeveloper(on bool) commands.Handler {
	return func(ctx context.Context, _ *commands.Command) (string, error) {
		s.mu.Lock()
		s.devMode = on
		s.mu.Unlock()
		s.logger.Info("agent: developer mode changed", "enabled", on)
		if on {
			return "(developer mode on)", nil
		}
		return "(developer mode off)", nil
	}
}

func (s *Session) handleRecallFirst(ctx context.Context, _ *commands.Command) (string, error) {
	first, ok := s.engine.FirstEntry()
	if !ok {
		return "There are no memories yet.", nil
	}
	replyFrom(ctx).First = &first
	return fmt.Sprintf("The first memory is from %s %s: %s", first.Date, first.Timestamp, first.Topic), nil
}

func (s *Session) handleRecallPast(ctx context.Context, cmd *commands.Command) (string, error) {
	hits := s.engine.Recall(cmd.RawText, s.assembler.TopK)
	if len(hits) == 0 {
		return "I don't recall anything about that.", nil
	}
	replyFrom(ctx).Memories = hits
	var b strings.Builder
	b.WriteString("I remember:")
	for _, h := range hits {
		fmt.Fprintf(&b, "\n[%s %s] %s", h.Topic.Date, h.Topic.Timestamp, h.Topic.Topic)
	}
	return b.String(), nil
}
