package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrIndexOutOfRange is returned when an entry position does not exist.
var ErrIndexOutOfRange = errors.New("memory: topic index out of range")

// TopicStore persists the full ordered list of topic entries.
//
// Load returns the stored entries; a missing store yields an empty slice.
// Save replaces the stored entries with the given list. Size reports the
// persisted footprint in bytes.
type TopicStore interface {
	Load(ctx context.Context) ([]TopicEntry, error)
	Save(ctx context.Context, entries []TopicEntry) error
	Size() (int64, error)
}

// TopicIndex is the ordered, append-only list of topic entries backed by a
// TopicStore. Entry 0 is always flagged important. It is safe for concurrent
// use.
type TopicIndex struct {
	mu      sync.RWMutex
	store   TopicStore
	entries []TopicEntry
	logger  *slog.Logger
}

// NewTopicIndex creates an empty index over store. Call Load to read the
// persisted entries.
func NewTopicIndex(store TopicStore, logger *slog.Logger) *TopicIndex {
	if logger == nil {
		logger = slog.Default()
	}
	return &TopicIndex{store: store, logger: logger}
}

// Load replaces the in-memory entries with the persisted ones. A store that
// cannot be read or decoded degrades to an empty index. The first-entry
// importance flag is repaired and, when changed, persisted.
func (x *TopicIndex) Load(ctx context.Context) error {
	entries, err := x.store.Load(ctx)
	if err != nil {
		x.logger.Warn("memory: topic index unreadable, starting empty", "err", err)
		entries = nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	x.entries = entries
	if x.repairFirstImportant() {
		if err := x.store.Save(ctx, x.entries); err != nil {
			x.logger.Warn("memory: failed to persist first-entry repair", "err", err)
		}
	}
	x.logger.Debug("memory: topic index loaded", "topics", len(x.entries))
	return nil
}

// repairFirstImportant sets is_important on entry 0. Caller holds x.mu.
func (x *TopicIndex) repairFirstImportant() bool {
	if len(x.entries) == 0 || x.entries[0].IsImportant {
		return false
	}
	x.entries[0].IsImportant = true
	return true
}

// Commit appends an entry built from summary for a batch of turnCount turns
// and persists the index. On a persistence failure the append is undone.
func (x *TopicIndex) Commit(ctx context.Context, summary Summary, turnCount int, degraded bool, now time.Time) (TopicEntry, int, error) {
	keywords := summary.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	entry := TopicEntry{
		Topic:     summary.Topic,
		Timestamp: now.Format(TimeLayout),
		Date:      now.Format(DateLayout),
		TurnCount: turnCount,
		Keywords:  append([]string(nil), keywords...),
		Detail:    summary.Detail,
		Degraded:  degraded,
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	entry.IsImportant = len(x.entries) == 0
	x.entries = append(x.entries, entry)
	pos := len(x.entries) - 1

	if err := x.store.Save(ctx, x.entries); err != nil {
		x.entries = x.entries[:pos]
		return TopicEntry{}, -1, fmt.Errorf("memory: commit topic %q: %w", entry.Topic, err)
	}
	return cloneEntry(entry), pos, nil
}

// ToggleImportant flips the importance flag of entry i and persists the
// change. It returns false when i is out of range.
func (x *TopicIndex) ToggleImportant(ctx context.Context, i int) (bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if i < 0 || i >= len(x.entries) {
		return false, nil
	}
	return true, x.setImportantLocked(ctx, i, !x.entries[i].IsImportant)
}

// SetImportant sets the importance flag of entry i and persists the change.
func (x *TopicIndex) SetImportant(ctx context.Context, i int, important bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if i < 0 || i >= len(x.entries) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	if x.entries[i].IsImportant == important {
		return nil
	}
	return x.setImportantLocked(ctx, i, important)
}

func (x *TopicIndex) setImportantLocked(ctx context.Context, i int, important bool) error {
	prev := x.entries[i].IsImportant
	x.entries[i].IsImportant = important
	if err := x.store.Save(ctx, x.entries); err != nil {
		x.entries[i].IsImportant = prev
		return fmt.Errorf("memory: set importance of topic %d: %w", i, err)
	}
	return nil
}

// Entries returns a copy of all entries in commit order.
func (x *TopicIndex) Entries() []TopicEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return cloneEntries(x.entries)
}

// Entry returns a copy of entry i.
func (x *TopicIndex) Entry(i int) (TopicEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if i < 0 || i >= len(x.entries) {
		return TopicEntry{}, false
	}
	return cloneEntry(x.entries[i]), true
}

// Len returns the number of entries.
func (x *TopicIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Important returns the flagged entries in commit order.
func (x *TopicIndex) Important() []TopicEntry {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var out []TopicEntry
	for _, e := range x.entries {
		if e.IsImportant {
			out = append(out, cloneEntry(e))
		}
	}
	return out
}

// ImportantCount returns the number of flagged entries.
func (x *TopicIndex) ImportantCount() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := 0
	for _, e := range x.entries {
		if e.IsImportant {
			n++
		}
	}
	return n
}

// FirstEntry returns the chronologically oldest entry. Entries without a
// date sort after dated ones.
func (x *TopicIndex) FirstEntry() (TopicEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	best := -1
	for i, e := range x.entries {
		if best < 0 || olderThan(e, x.entries[best]) {
			best = i
		}
	}
	if best < 0 {
		return TopicEntry{}, false
	}
	return cloneEntry(x.entries[best]), true
}

// Recent returns up to limit entries, newest first. limit <= 0 uses
// DefaultRecentLimit.
func (x *TopicIndex) Recent(limit int) []TopicEntry {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	out := x.Entries()
	sort.SliceStable(out, func(i, j int) bool { return newerThan(out[i], out[j]) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// StorageSize reports the persisted size of the index in bytes.
func (x *TopicIndex) StorageSize() (int64, error) {
	return x.store.Size()
}

// olderThan and newerThan order dated entries by (date, time). Undated
// entries never win either comparison, so they sort last in both views.
func olderThan(a, b TopicEntry) bool {
	if a.Date == "" {
		return false
	}
	return b.Date == "" || a.sortKey() < b.sortKey()
}

func newerThan(a, b TopicEntry) bool {
	if a.Date == "" {
		return false
	}
	return b.Date == "" || a.sortKey() > b.sortKey()
}
