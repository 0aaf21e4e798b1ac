package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/memlake/common/redact"
	"github.com/bdobrica/memlake/common/trace"
)

var (
	// ErrPersist wraps failures to write the topic index during a flush. The
	// batch is kept and its turns stay uncommitted.
	ErrPersist = errors.New("memory: topic index could not be persisted")
	// ErrEngineClosed is returned for writes after Shutdown.
	ErrEngineClosed = errors.New("memory: engine is shut down")
)

// Trigger names the call site that asked for a flush.
type Trigger string

const (
	TriggerThreshold Trigger = "threshold"
	TriggerManual    Trigger = "manual"
	TriggerShutdown  Trigger = "shutdown"
)

// Outcomes reported to Metrics.FlushFinished.
const (
	OutcomeCommitted = "committed"
	OutcomeDegraded  = "degraded"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Results reported to Metrics.TurnRecorded.
const (
	RecordAppended  = "appended"
	RecordDuplicate = "duplicate"
	RecordEphemeral = "ephemeral"
)

// Metrics receives engine telemetry. All methods must be cheap and safe for
// concurrent use.
type Metrics interface {
	TurnRecorded(result string)
	FlushFinished(trigger Trigger, outcome string, d time.Duration)
	SummaryAttempt(ok bool)
	PendingBatch(n int)
	Topics(n int)
}

type noopMetrics struct{}

func (noopMetrics) TurnRecorded(string)                          {}
func (noopMetrics) FlushFinished(Trigger, string, time.Duration) {}
func (noopMetrics) SummaryAttempt(bool)                          {}
func (noopMetrics) PendingBatch(int)                             {}
func (noopMetrics) Topics(int)                                   {}

// EngineConfig holds the Engine's tunables. Zero values take the defaults
// from DefaultEngineConfig.
type EngineConfig struct {
	// Threshold is the batch size that triggers summarization. Default: 3.
	Threshold int

	// SummaryAttempts bounds summarizer calls per flush (1 to 3). Default: 3.
	SummaryAttempts int

	// SummaryBackoff is the fixed wait between summarizer attempts.
	// Default: 2s.
	SummaryBackoff time.Duration

	// SummaryTimeout bounds a single summarizer attempt. Default: 60s.
	SummaryTimeout time.Duration

	// UserLabel and AgentLabel prefix the two sides of a turn's full text.
	UserLabel  string
	AgentLabel string

	// LogDir receives the session archive on shutdown. Empty disables it.
	LogDir string

	// Location is the zone used for entry dates. Default: time.Local.
	Location *time.Location

	// Vocabulary drives keyword extraction. Default: NewVocabulary().
	Vocabulary *Vocabulary

	// Metrics receives telemetry. Default: no-op.
	Metrics Metrics

	// Now overrides the clock (tests).
	Now func() time.Time
}

// DefaultEngineConfig returns an EngineConfig with the documented defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Threshold:       DefaultThreshold,
		SummaryAttempts: MaxSummaryAttempts,
		SummaryBackoff:  DefaultSummaryBackoff,
		SummaryTimeout:  DefaultSummaryTimeout,
		UserLabel:       DefaultUserLabel,
		AgentLabel:      DefaultAgentLabel,
	}
}

// RecordResult describes a RecordTurn call.
type RecordResult struct {
	Turn      Turn `json:"turn"`
	Duplicate bool `json:"duplicate"`
	// Commit is set when the turn completed a batch that was flushed.
	Commit *CommitResult `json:"commit,omitempty"`
}

// CommitResult acknowledges a flush. Committed lists the turns that are now
// durably part of a topic entry; callers update their own records from it.
type CommitResult struct {
	Flushed   bool       `json:"flushed"`
	Trigger   Trigger    `json:"trigger,omitempty"`
	Position  int        `json:"position"`
	Topic     TopicEntry `json:"topic"`
	Committed []TurnRef  `json:"committed"`
	Degraded  bool       `json:"degraded"`
}

// Engine coordinates the turn log, pending batch, summarizer and topic index.
// A single lock covers every mutation, including the summarizer call and the
// index write of a flush, so a batch is committed at most once no matter how
// many call sites race to flush it.
type Engine struct {
	mu sync.Mutex

	cfg        EngineConfig
	turns      *TurnLog
	batch      *PendingBatch
	index      *TopicIndex
	summarizer Summarizer
	recaller   *Recaller
	metrics    Metrics
	logger     *slog.Logger

	sessionID string
	startedAt time.Time
	closed    bool
}

// NewEngine creates an Engine over a loaded TopicIndex.
func NewEngine(cfg EngineConfig, index *TopicIndex, summarizer Summarizer, logger *slog.Logger) *Engine {
	def := DefaultEngineConfig()
	if cfg.Threshold < 1 {
		cfg.Threshold = def.Threshold
	}
	if cfg.SummaryAttempts < 1 || cfg.SummaryAttempts > MaxSummaryAttempts {
		cfg.SummaryAttempts = def.SummaryAttempts
	}
	if cfg.SummaryBackoff <= 0 {
		cfg.SummaryBackoff = def.SummaryBackoff
	}
	if cfg.SummaryTimeout <= 0 {
		cfg.SummaryTimeout = def.SummaryTimeout
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.Vocabulary == nil {
		cfg.Vocabulary = NewVocabulary()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		cfg:        cfg,
		turns:      NewTurnLog(cfg.UserLabel, cfg.AgentLabel),
		batch:      NewPendingBatch(cfg.Threshold),
		index:      index,
		summarizer: summarizer,
		recaller:   NewRecaller(cfg.Vocabulary, cfg.Location),
		metrics:    cfg.Metrics,
		logger:     logger,
		sessionID:  trace.NewID(trace.PrefixSession),
		startedAt:  cfg.Now(),
	}
	e.metrics.Topics(index.Len())
	return e
}

func (e *Engine) now() time.Time { return e.cfg.Now().In(e.cfg.Location) }

// SessionID identifies this engine's session in logs and the archive.
func (e *Engine) SessionID() string { return e.sessionID }

// RecordTurn appends a completed turn to the log and, unless ephemeral, to
// the pending batch, then flushes if the batch reached the threshold.
// Duplicates of an uncommitted turn are absorbed and reported via
// RecordResult.Duplicate. A flush error is returned alongside the recorded
// turn.
func (e *Engine) RecordTurn(ctx context.Context, user, agent string, ephemeral bool) (RecordResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return RecordResult{}, ErrEngineClosed
	}

	turn, dup := e.turns.Append(user, agent, ephemeral, e.now())
	if dup {
		e.metrics.TurnRecorded(RecordDuplicate)
		e.logger.Debug("memory: duplicate turn absorbed",
			"turn_id", turn.ID, "preview", redact.Preview(user, 32))
		return RecordResult{Turn: turn, Duplicate: true}, nil
	}
	if ephemeral {
		e.metrics.TurnRecorded(RecordEphemeral)
		return RecordResult{Turn: turn}, nil
	}

	e.batch.Offer(turn)
	e.metrics.TurnRecorded(RecordAppended)
	e.metrics.PendingBatch(e.batch.Len())

	res, err := e.flushLocked(ctx, TriggerThreshold)
	out := RecordResult{Turn: turn}
	if res.Flushed {
		out.Commit = &res
		if t, ok := e.turns.Get(turn.ID); ok {
			out.Turn = t
		}
	}
	return out, err
}

// Flush commits the pending batch. Without force it only commits when the
// batch has reached the threshold. An empty batch is a no-op.
func (e *Engine) Flush(ctx context.Context, force bool) (CommitResult, error) {
	trigger := TriggerThreshold
	if force {
		trigger = TriggerManual
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flushLocked(ctx, trigger)
}

// Remember force-flushes the pending batch and flags the new entry as
// important. Flushed is false when there was nothing to save.
func (e *Engine) Remember(ctx context.Context) (CommitResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return CommitResult{}, ErrEngineClosed
	}
	res, err := e.flushLocked(ctx, TriggerManual)
	if err != nil || !res.Flushed {
		return res, err
	}
	if err := e.index.SetImportant(context.WithoutCancel(ctx), res.Position, true); err != nil {
		return res, err
	}
	res.Topic.IsImportant = true
	return res, nil
}

// flushLocked runs one flush. Caller holds e.mu.
func (e *Engine) flushLocked(ctx context.Context, trigger Trigger) (CommitResult, error) {
	if !e.batch.ForceReady() {
		return CommitResult{}, nil
	}
	if trigger == TriggerThreshold && !e.batch.Ready() {
		return CommitResult{}, nil
	}

	start := time.Now()
	ctx, flushID := trace.Ensure(ctx, trace.PrefixFlush)
	log := e.logger.With("flush_id", flushID, "trigger", string(trigger))

	turns := e.batch.take()
	e.metrics.PendingBatch(0)

	policy := summaryPolicy{
		attempts: e.cfg.SummaryAttempts,
		backoff:  e.cfg.SummaryBackoff,
		timeout:  e.cfg.SummaryTimeout,
		onResult: e.metrics.SummaryAttempt,
	}
	summary, err := policy.summarize(ctx, e.summarizer, transcript(turns), e.cfg.Vocabulary)
	degraded := false
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.batch.restore(turns)
			e.metrics.PendingBatch(e.batch.Len())
			e.metrics.FlushFinished(trigger, OutcomeCancelled, time.Since(start))
			return CommitResult{}, fmt.Errorf("memory: flush: %w", ctxErr)
		}
		log.Warn("memory: summarization failed, committing degraded entry",
			"turns", len(turns), "err", err)
		summary = degradedSummary(turns, e.cfg.Vocabulary)
		degraded = true
	}

	// Once a summary exists the commit runs to completion.
	entry, pos, err := e.index.Commit(context.WithoutCancel(ctx), summary, len(turns), degraded, e.now())
	if err != nil {
		e.batch.restore(turns)
		e.metrics.PendingBatch(e.batch.Len())
		e.metrics.FlushFinished(trigger, OutcomeFailed, time.Since(start))
		log.Error("memory: flush failed, batch kept", "turns", len(turns), "err", err)
		return CommitResult{}, fmt.Errorf("memory: flush: %w: %w", ErrPersist, err)
	}

	marked, skipped := e.turns.MarkCommitted(refsOf(turns))
	if len(skipped) > 0 {
		log.Error("memory: turns were already committed", "skipped", len(skipped))
	}

	outcome := OutcomeCommitted
	if degraded {
		outcome = OutcomeDegraded
	}
	e.metrics.FlushFinished(trigger, outcome, time.Since(start))
	e.metrics.Topics(e.index.Len())
	log.Info("memory: batch committed",
		"topic_index", pos, "turns", len(marked), "degraded", degraded)

	return CommitResult{
		Flushed:   true,
		Trigger:   trigger,
		Position:  pos,
		Topic:     entry,
		Committed: marked,
		Degraded:  degraded,
	}, nil
}

// Shutdown flushes every uncommitted, non-ephemeral turn, writes the session
// archive and closes the engine for writes. It ignores cancellation of ctx
// so the drain runs to completion; its duration is bounded by the summarizer
// retry policy. Calling Shutdown twice is a no-op.
func (e *Engine) Shutdown(ctx context.Context) (CommitResult, error) {
	ctx = context.WithoutCancel(ctx)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return CommitResult{}, nil
	}
	e.closed = true

	for _, t := range e.turns.Uncommitted() {
		e.batch.Offer(t)
	}
	res, flushErr := e.flushLocked(ctx, TriggerShutdown)

	if e.cfg.LogDir != "" {
		path, err := writeSessionLog(e.cfg.LogDir, e.sessionID, e.startedAt, e.now(), e.turns.Snapshot())
		if err != nil {
			e.logger.Warn("memory: failed to archive session log", "err", err)
		} else if path != "" {
			e.logger.Info("memory: session log archived", "path", path)
		}
	}
	return res, flushErr
}

// ToggleImportant flips the importance flag of topic i. It returns false
// when i is out of range.
func (e *Engine) ToggleImportant(ctx context.Context, i int) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.index.ToggleImportant(ctx, i)
}

// Recall returns up to max topics relevant to query.
func (e *Engine) Recall(query string, max int) []RecallHit {
	return e.recaller.Recall(e.index.Entries(), query, max, e.now())
}

// FirstEntry returns the oldest topic.
func (e *Engine) FirstEntry() (TopicEntry, bool) { return e.index.FirstEntry() }

// Recent returns up to limit topics, newest first.
func (e *Engine) Recent(limit int) []TopicEntry { return e.index.Recent(limit) }

// Important returns the topics flagged important.
func (e *Engine) Important() []TopicEntry { return e.index.Important() }

// Topic returns topic i.
func (e *Engine) Topic(i int) (TopicEntry, bool) { return e.index.Entry(i) }

// Turns returns a snapshot of the session turn log.
func (e *Engine) Turns() []Turn { return e.turns.Snapshot() }

// PendingLen returns the number of turns waiting for summarization.
func (e *Engine) PendingLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.batch.Len()
}
