package memory

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

// testNow is the fixed clock used across the package tests.
var testNow = time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)

// mockSummarizer returns queued results in order, repeating the last one.
type mockSummarizer struct {
	mu      sync.Mutex
	calls   []string
	results []mockResult
	delay   time.Duration
}

type mockResult struct {
	summary Summary
	err     error
}

func okSummarizer(topic string, keywords ...string) *mockSummarizer {
	return &mockSummarizer{results: []mockResult{{summary: Summary{Topic: topic, Keywords: keywords, Detail: "detail of " + topic}}}}
}

func failingSummarizer() *mockSummarizer {
	return &mockSummarizer{results: []mockResult{{err: errors.New("upstream unavailable")}}}
}

func (m *mockSummarizer) Summarize(ctx context.Context, text string) (Summary, error) {
	m.mu.Lock()
	m.calls = append(m.calls, text)
	n := len(m.calls)
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return Summary{}, ctx.Err()
		}
	}

	i := n - 1
	if i >= len(m.results) {
		i = len(m.results) - 1
	}
	return m.results[i].summary, m.results[i].err
}

func (m *mockSummarizer) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockSummarizer) lastCall() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return ""
	}
	return m.calls[len(m.calls)-1]
}

// memStore is an in-memory TopicStore with failure injection.
type memStore struct {
	mu        sync.Mutex
	entries   []TopicEntry
	saves     int
	failSaves int // number of upcoming saves to fail
	loadErr   error
}

func (s *memStore) Load(context.Context) ([]TopicEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return cloneEntries(s.entries), nil
}

func (s *memStore) Save(_ context.Context, entries []TopicEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSaves > 0 {
		s.failSaves--
		return errors.New("disk full")
	}
	s.saves++
	s.entries = cloneEntries(entries)
	return nil
}

func (s *memStore) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.entries) * 100), nil
}

func (s *memStore) saved() []TopicEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) failNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failSaves = n
}

// newTestEngine builds an Engine over a memStore with fast retries and a
// fixed clock.
func newTestEngine(t *testing.T, sum Summarizer, mutate ...func(*EngineConfig)) (*Engine, *memStore) {
	t.Helper()
	store := &memStore{}
	index := NewTopicIndex(store, testLogger(t))
	if err := index.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := EngineConfig{
		Threshold:      3,
		SummaryBackoff: time.Millisecond,
		SummaryTimeout: time.Second,
		Location:       time.UTC,
		Now:            func() time.Time { return testNow },
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return NewEngine(cfg, index, sum, testLogger(t)), store
}
