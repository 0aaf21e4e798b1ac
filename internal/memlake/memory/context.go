package memory

import (
	"fmt"
	"strings"
)

// DefaultContextTokens is the default budget for an assembled memory block.
const DefaultContextTokens = 2000

// DefaultContextTurns is the number of recent session turns considered.
const DefaultContextTurns = 6

// ContextAssembler builds the memory block handed to the prompt builder. It
// combines the most recent turns of the session with recalled topics from
// earlier sessions. Session turns have priority; recalled topics fill the
// remaining budget.
type ContextAssembler struct {
	Engine    *Engine
	MaxTokens int // estimated token budget for the whole block
	MaxTurns  int // recent session turns to include
	TopK      int // recalled topics to include
}

// MemoryContext is an assembled memory block.
type MemoryContext struct {
	Memories []RecallHit `json:"memories"`
	Turns    []Turn      `json:"turns"`
	Text     string      `json:"text"`
}

// Assemble returns the memory block for query. Topics are only recalled
// when withRecall is set, which the command grammar decides.
func (a *ContextAssembler) Assemble(query string, withRecall bool) MemoryContext {
	maxTokens := a.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultContextTokens
	}
	maxTurns := a.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultContextTurns
	}

	turns := a.Engine.Turns()
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}
	for len(turns) > 1 && turnTokens(turns) > maxTokens {
		turns = turns[1:]
	}
	remaining := maxTokens - turnTokens(turns)

	var memories []RecallHit
	if withRecall {
		for _, h := range a.Engine.Recall(query, a.TopK) {
			cost := estimateTokens(memoryLine(h.Topic))
			if cost > remaining {
				break
			}
			remaining -= cost
			memories = append(memories, h)
		}
	}

	return MemoryContext{
		Memories: memories,
		Turns:    turns,
		Text:     renderContext(memories, turns),
	}
}

func memoryLine(e TopicEntry) string {
	return fmt.Sprintf("[%s %s] %s", e.Date, e.Timestamp, e.Topic)
}

func renderContext(memories []RecallHit, turns []Turn) string {
	var b strings.Builder
	if len(memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, m := range memories {
			b.WriteString(memoryLine(m.Topic))
			b.WriteByte('\n')
		}
	}
	if len(turns) > 0 {
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("Recent conversation:\n")
		for _, t := range turns {
			b.WriteString(t.FullText)
			b.WriteByte('\n')
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// estimateTokens approximates tokens as four bytes each plus framing.
func estimateTokens(s string) int {
	const charsPerToken = 4
	const overhead = 4
	return len(s)/charsPerToken + overhead
}

func turnTokens(turns []Turn) int {
	total := 0
	for _, t := range turns {
		total += estimateTokens(t.FullText)
	}
	return total
}
