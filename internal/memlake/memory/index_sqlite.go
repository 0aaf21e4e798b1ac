package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/bdobrica/memlake/common/retry"
)

// SQLiteStore keeps topic entries as rows keyed by position. Save only
// writes rows that differ from the last saved state, so a commit costs one
// insert instead of a full rewrite. Until a Load or Save has succeeded the
// table contents are unknown, and Save replaces them wholesale.
type SQLiteStore struct {
	db     *sql.DB
	retry  retry.Config
	logger *slog.Logger

	mu     sync.Mutex
	saved  []TopicEntry
	synced bool
}

var _ TopicStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store over an open database that already has the
// topics table (see internal/memlake/store). writeAttempts bounds the number
// of tries per save (minimum 1).
func NewSQLiteStore(db *sql.DB, writeAttempts int, logger *slog.Logger) *SQLiteStore {
	if logger == nil {
		logger = slog.Default()
	}
	if writeAttempts < 1 {
		writeAttempts = 1
	}
	return &SQLiteStore{
		db: db,
		retry: retry.Config{
			MaxAttempts:  writeAttempts,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		logger: logger,
	}
}

// Load reads all rows in position order.
func (s *SQLiteStore) Load(ctx context.Context) ([]TopicEntry, error) {
	s.mu.Lock()
	s.saved, s.synced = nil, false
	s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT topic, time_of_day, date, turn_count, keywords, detail, is_important, summary_failed
		FROM topics ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("sqlite topics: query: %w", err)
	}
	defer rows.Close()

	var entries []TopicEntry
	for rows.Next() {
		e, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite topics: iterate: %w", err)
	}

	s.mu.Lock()
	s.saved = cloneEntries(entries)
	s.synced = true
	s.mu.Unlock()
	return entries, nil
}

// Save writes the rows that changed since the last Load or Save, and removes
// rows past the end of entries, in one transaction. After a failed Load the
// whole table is replaced instead. Failed transactions are retried.
func (s *SQLiteStore) Save(ctx context.Context, entries []TopicEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("memory: sqlite topics write failed, retrying",
			"attempt", attempt, "delay", delay, "err", err)
	}
	var written int
	err := retry.Do(ctx, cfg, func() error {
		var err error
		written, err = s.saveTx(ctx, entries)
		return err
	})
	if err != nil {
		return err
	}

	s.saved = cloneEntries(entries)
	s.synced = true
	s.logger.Debug("memory: sqlite topics saved", "rows_written", written, "topics", len(entries))
	return nil
}

// saveTx runs one save transaction. Caller holds s.mu.
func (s *SQLiteStore) saveTx(ctx context.Context, entries []TopicEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite topics: begin: %w", err)
	}
	defer tx.Rollback()

	saved := s.saved
	if !s.synced {
		if _, err := tx.ExecContext(ctx, `DELETE FROM topics`); err != nil {
			return 0, fmt.Errorf("sqlite topics: reset: %w", err)
		}
		saved = nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	written := 0
	for i, e := range entries {
		if i < len(saved) && reflect.DeepEqual(saved[i], e) {
			continue
		}
		kw, err := json.Marshal(normaliseNil(e.Keywords))
		if err != nil {
			return 0, fmt.Errorf("sqlite topics: marshal keywords: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO topics (position, topic, time_of_day, date, turn_count, keywords, detail, is_important, summary_failed, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(position) DO UPDATE SET
				topic = excluded.topic,
				time_of_day = excluded.time_of_day,
				date = excluded.date,
				turn_count = excluded.turn_count,
				keywords = excluded.keywords,
				detail = excluded.detail,
				is_important = excluded.is_important,
				summary_failed = excluded.summary_failed,
				updated_at = excluded.updated_at`,
			i, e.Topic, e.Timestamp, e.Date, e.TurnCount, string(kw), e.Detail,
			boolToInt(e.IsImportant), boolToInt(e.Degraded), now,
		); err != nil {
			return 0, fmt.Errorf("sqlite topics: upsert %d: %w", i, err)
		}
		written++
	}
	if len(saved) > len(entries) {
		if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE position >= ?`, len(entries)); err != nil {
			return 0, fmt.Errorf("sqlite topics: trim: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite topics: commit: %w", err)
	}
	return written, nil
}

// Size returns the database size in bytes.
func (s *SQLiteStore) Size() (int64, error) {
	var pages, pageSize int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pages); err != nil {
		return 0, err
	}
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, err
	}
	return pages * pageSize, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTopic(row scanner) (TopicEntry, error) {
	var (
		e         TopicEntry
		kw        string
		important int
		failed    int
	)
	if err := row.Scan(&e.Topic, &e.Timestamp, &e.Date, &e.TurnCount, &kw, &e.Detail, &important, &failed); err != nil {
		return TopicEntry{}, fmt.Errorf("sqlite topics: scan: %w", err)
	}
	if err := json.Unmarshal([]byte(kw), &e.Keywords); err != nil {
		return TopicEntry{}, fmt.Errorf("sqlite topics: keywords: %w", err)
	}
	if e.Keywords == nil {
		e.Keywords = []string{}
	}
	e.IsImportant = important != 0
	e.Degraded = failed != 0
	return e, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func normaliseNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
