// Package memory implements memlake's conversation memory: a turn log of the
// live session, a pending batch that is condensed into topic summaries by an
// external summarizer, a durable topic index, and keyword-based recall over
// that index. The Engine coordinates commits so that no turn is ever folded
// into more than one topic.
package memory

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default speaker labels used when rendering a turn's full text.
const (
	DefaultUserLabel  = "User"
	DefaultAgentLabel = "Assistant"
)

// Turn is one user utterance paired with the assistant's reply.
type Turn struct {
	ID        string    `json:"id"`
	Seq       int       `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	UserText  string    `json:"user_text"`
	AgentText string    `json:"agent_text"`
	FullText  string    `json:"full_text"`
	Committed bool      `json:"committed"`
	// Ephemeral turns were recorded in developer mode and are never
	// summarized.
	Ephemeral bool `json:"ephemeral,omitempty"`
}

// TurnRef identifies a turn in the log.
type TurnRef struct {
	ID  string `json:"id"`
	Seq int    `json:"seq"`
}

// Ref returns the turn's reference.
func (t Turn) Ref() TurnRef { return TurnRef{ID: t.ID, Seq: t.Seq} }

// FormatFullText renders a turn the way it is fed to the summarizer.
func FormatFullText(userLabel, agentLabel, user, agent string) string {
	return fmt.Sprintf("%s: %s\n%s: %s", userLabel, user, agentLabel, agent)
}

// TurnLog is the ordered, append-only record of every turn in the session.
// Turns are never removed; the committed flag flips false to true at most
// once. It is safe for concurrent use.
type TurnLog struct {
	mu         sync.Mutex
	turns      []Turn
	byID       map[string]int
	userLabel  string
	agentLabel string
}

// NewTurnLog creates an empty log. Empty labels fall back to the defaults.
func NewTurnLog(userLabel, agentLabel string) *TurnLog {
	if userLabel == "" {
		userLabel = DefaultUserLabel
	}
	if agentLabel == "" {
		agentLabel = DefaultAgentLabel
	}
	return &TurnLog{
		byID:       make(map[string]int),
		userLabel:  userLabel,
		agentLabel: agentLabel,
	}
}

// Append records a new uncommitted turn. If an uncommitted, non-ephemeral
// turn with the same user and agent text already exists, no turn is added
// and the existing turn is returned with duplicate set. Ephemeral turns are
// never committed, so they never absorb later turns.
func (l *TurnLog) Append(user, agent string, ephemeral bool, now time.Time) (turn Turn, duplicate bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := len(l.turns) - 1; i >= 0; i-- {
		t := l.turns[i]
		if !t.Committed && !t.Ephemeral && t.UserText == user && t.AgentText == agent {
			return t, true
		}
	}

	t := Turn{
		ID:        uuid.New().String(),
		Seq:       len(l.turns),
		Timestamp: now,
		UserText:  user,
		AgentText: agent,
		FullText:  FormatFullText(l.userLabel, l.agentLabel, user, agent),
		Ephemeral: ephemeral,
	}
	l.byID[t.ID] = len(l.turns)
	l.turns = append(l.turns, t)
	return t, false
}

// MarkCommitted flips the committed flag of every referenced turn. Refs
// that are unknown or already committed are returned in skipped and left
// untouched.
func (l *TurnLog) MarkCommitted(refs []TurnRef) (marked, skipped []TurnRef) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, r := range refs {
		i, ok := l.byID[r.ID]
		if !ok || l.turns[i].Committed {
			skipped = append(skipped, r)
			continue
		}
		l.turns[i].Committed = true
		marked = append(marked, r)
	}
	return marked, skipped
}

// Get returns a copy of the turn with the given ID.
func (l *TurnLog) Get(id string) (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i, ok := l.byID[id]
	if !ok {
		return Turn{}, false
	}
	return l.turns[i], true
}

// Snapshot returns a copy of every turn, oldest first.
func (l *TurnLog) Snapshot() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Turn, len(l.turns))
	copy(out, l.turns)
	return out
}

// Uncommitted returns the non-ephemeral turns that have not been committed.
func (l *TurnLog) Uncommitted() []Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Turn
	for _, t := range l.turns {
		if !t.Committed && !t.Ephemeral {
			out = append(out, t)
		}
	}
	return out
}

// Len returns the number of turns in the log.
func (l *TurnLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.turns)
}
