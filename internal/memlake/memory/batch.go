package memory

import "strings"

// DefaultThreshold is the number of pending turns that makes a batch ready
// for summarization.
const DefaultThreshold = 3

// PendingBatch holds the turns awaiting summarization, in append order.
// It is owned by the Engine and guarded by the Engine's lock.
type PendingBatch struct {
	threshold int
	turns     []Turn
}

// NewPendingBatch creates an empty batch. threshold < 1 uses DefaultThreshold.
func NewPendingBatch(threshold int) *PendingBatch {
	if threshold < 1 {
		threshold = DefaultThreshold
	}
	return &PendingBatch{threshold: threshold}
}

// Offer adds t to the batch. Ephemeral or committed turns, and turns already
// present by ID or by identical text, are refused.
func (b *PendingBatch) Offer(t Turn) bool {
	if t.Ephemeral || t.Committed {
		return false
	}
	for _, p := range b.turns {
		if p.ID == t.ID || (p.UserText == t.UserText && p.AgentText == t.AgentText) {
			return false
		}
	}
	b.turns = append(b.turns, t)
	return true
}

// Ready reports whether the batch has reached the threshold.
func (b *PendingBatch) Ready() bool { return len(b.turns) >= b.threshold }

// ForceReady reports whether a forced flush has anything to commit.
func (b *PendingBatch) ForceReady() bool { return len(b.turns) > 0 }

// Len returns the number of pending turns.
func (b *PendingBatch) Len() int { return len(b.turns) }

// Threshold returns the configured trigger size.
func (b *PendingBatch) Threshold() int { return b.threshold }

// take detaches the pending turns, leaving the batch empty.
func (b *PendingBatch) take() []Turn {
	out := b.turns
	b.turns = nil
	return out
}

// restore re-attaches turns taken by a flush that could not commit. Turns
// offered while the flush was running stay behind them.
func (b *PendingBatch) restore(turns []Turn) {
	b.turns = append(append([]Turn(nil), turns...), b.turns...)
}

// transcript joins the full text of turns, one per line.
func transcript(turns []Turn) string {
	parts := make([]string, len(turns))
	for i, t := range turns {
		parts[i] = t.FullText
	}
	return strings.Join(parts, "\n")
}

func refsOf(turns []Turn) []TurnRef {
	refs := make([]TurnRef, len(turns))
	for i, t := range turns {
		refs[i] = t.Ref()
	}
	return refs
}
