package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/memlake/internal/memlake/agent"
	"github.com/bdobrica/memlake/internal/memlake/memory"
	"github.com/bdobrica/memlake/internal/memlake/observability"
)

var testNow = time.Date(2026, 2, 24, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()
	dir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	index := memory.NewTopicIndex(memory.NewJSONFileStore(filepath.Join(dir, "memory_lake.json"), 1, logger), logger)
	if err := index.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	metrics := observability.NewMetrics("memlake")

	cfg := memory.DefaultEngineConfig()
	cfg.SummaryBackoff = time.Millisecond
	cfg.LogDir = filepath.Join(dir, "chat_logs")
	cfg.Location = time.UTC
	cfg.Now = func() time.Time { return testNow }
	cfg.Metrics = metrics
	vocab := memory.NewVocabulary()
	cfg.Vocabulary = vocab

	engine := memory.NewEngine(cfg, index, memory.NewHeuristicSummarizer(vocab, cfg.UserLabel), logger)
	srv := New(agent.NewSession(engine, agent.Options{}, logger), metrics, logger)
	return srv, srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestHealthzAndRequestID(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if id := rec.Header().Get(RequestIDHeader); !strings.HasPrefix(id, "r_") {
		t.Fatalf("expected generated request id, got %q", id)
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(RequestIDHeader, "client-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "client-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestRecordTurns_ThresholdCommit(t *testing.T) {
	_, h := newTestServer(t)

	for i, body := range []string{
		`{"user":"recommend some music","agent":"jazz"}`,
		`{"user":"another playlist","agent":"lo-fi"}`,
	} {
		rec := do(t, h, http.MethodPost, "/v1/turns", body)
		if rec.Code != http.StatusCreated {
			t.Fatalf("turn %d: expected 201, got %d: %s", i, rec.Code, rec.Body.String())
		}
	}

	dup := do(t, h, http.MethodPost, "/v1/turns", `{"user":"another playlist","agent":"lo-fi"}`)
	if dup.Code != http.StatusOK || !decode[memory.RecordResult](t, dup).Duplicate {
		t.Fatalf("expected duplicate to be absorbed, got %d: %s", dup.Code, dup.Body.String())
	}

	rec := do(t, h, http.MethodPost, "/v1/turns", `{"user":"one more song","agent":"bossa nova"}`)
	res := decode[memory.RecordResult](t, rec)
	if res.Commit == nil || res.Commit.Topic.Topic != "Music recommendations" || len(res.Commit.Committed) != 3 {
		t.Fatalf("expected a 3-turn commit, got %s", rec.Body.String())
	}

	stats := decode[memory.Stats](t, do(t, h, http.MethodGet, "/v1/stats", ""))
	if stats.TotalTopics != 1 || stats.ImportantTopics != 1 || stats.PendingBatchSize != 0 || stats.SessionTurns != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	turns := decode[struct {
		Turns []memory.Turn `json:"turns"`
	}](t, do(t, h, http.MethodGet, "/v1/turns", ""))
	if len(turns.Turns) != 3 || !turns.Turns[0].Committed {
		t.Fatalf("expected 3 committed turns, got %+v", turns.Turns)
	}
}

func TestRecordTurn_Validation(t *testing.T) {
	_, h := newTestServer(t)
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"bad json", `{"user":`},
		{"blank texts", `{"user":"  ","agent":""}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/v1/turns", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if decode[errorResponse](t, rec).Code != "invalid_request" {
				t.Fatalf("unexpected error body %s", rec.Body.String())
			}
		})
	}
}

func TestFlushAndTopics(t *testing.T) {
	_, h := newTestServer(t)

	if rec := do(t, h, http.MethodGet, "/v1/topics/first", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any topic, got %d", rec.Code)
	}
	empty := decode[memory.CommitResult](t, do(t, h, http.MethodPost, "/v1/flush", ""))
	if empty.Flushed {
		t.Fatal("flushing an empty batch must be a no-op")
	}

	do(t, h, http.MethodPost, "/v1/turns", `{"user":"weather in Berlin?","agent":"rain"}`)
	res := decode[memory.CommitResult](t, do(t, h, http.MethodPost, "/v1/flush", ""))
	if !res.Flushed || res.Trigger != memory.TriggerManual || res.Topic.TurnCount != 1 {
		t.Fatalf("unexpected flush result %+v", res)
	}

	do(t, h, http.MethodPost, "/v1/turns", `{"user":"recommend some music","agent":"jazz"}`)
	do(t, h, http.MethodPost, "/v1/flush", "")

	first := decode[memory.TopicEntry](t, do(t, h, http.MethodGet, "/v1/topics/first", ""))
	if first.Topic != "Weather" || !first.IsImportant {
		t.Fatalf("unexpected first topic %+v", first)
	}

	recent := decode[struct {
		Topics []memory.TopicEntry `json:"topics"`
	}](t, do(t, h, http.MethodGet, "/v1/topics/recent?limit=1", ""))
	if len(recent.Topics) != 1 {
		t.Fatalf("expected 1 recent topic, got %d", len(recent.Topics))
	}

	rec := do(t, h, http.MethodPost, "/v1/topics/1/important", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	important := decode[struct {
		Topics []memory.TopicEntry `json:"topics"`
	}](t, do(t, h, http.MethodGet, "/v1/topics/important", ""))
	if len(important.Topics) != 2 {
		t.Fatalf("expected 2 important topics, got %d", len(important.Topics))
	}

	if rec := do(t, h, http.MethodPost, "/v1/topics/9/important", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for out-of-range index, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodPost, "/v1/topics/abc/important", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad index, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/topics/0", ""); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for topic 0, got %d", rec.Code)
	}
}

func TestRecall(t *testing.T) {
	_, h := newTestServer(t)
	do(t, h, http.MethodPost, "/v1/turns", `{"user":"recommend some music","agent":"jazz"}`)
	do(t, h, http.MethodPost, "/v1/flush", "")

	if rec := do(t, h, http.MethodGet, "/v1/recall", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without q, got %d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/recall?q=music&limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative limit, got %d", rec.Code)
	}

	got := decode[struct {
		Memories []memory.RecallHit `json:"memories"`
	}](t, do(t, h, http.MethodGet, "/v1/recall?q=music", ""))
	if len(got.Memories) != 1 || got.Memories[0].Score < memory.RecallThreshold {
		t.Fatalf("unexpected recall %+v", got.Memories)
	}

	none := decode[struct {
		Memories []memory.RecallHit `json:"memories"`
	}](t, do(t, h, http.MethodGet, "/v1/recall?q=quantum", ""))
	if none.Memories == nil || len(none.Memories) != 0 {
		t.Fatalf("expected an empty list, got %+v", none.Memories)
	}

	ctx := decode[memory.MemoryContext](t, do(t, h, http.MethodGet, "/v1/context?q="+url.QueryEscape("我们之前聊过的music"), ""))
	if len(ctx.Memories) != 1 {
		t.Fatalf("expected context with 1 memory, got %+v", ctx)
	}
}

func TestCommands(t *testing.T) {
	_, h := newTestServer(t)

	rec := do(t, h, http.MethodPost, "/v1/commands", `{"text":"hello"}`)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}

	do(t, h, http.MethodPost, "/v1/turns", `{"user":"weather in Berlin?","agent":"rain"}`)
	rep := decode[agent.Reply](t, do(t, h, http.MethodPost, "/v1/commands", `{"text":"记住这个时刻"}`))
	if rep.Kind != "remember_moment" || rep.Commit == nil || !rep.Commit.Topic.IsImportant {
		t.Fatalf("unexpected reply %+v", rep)
	}

	rep = decode[agent.Reply](t, do(t, h, http.MethodPost, "/v1/commands", `{"text":"developer mode"}`))
	if !rep.DeveloperMode {
		t.Fatalf("expected developer mode on, got %+v", rep)
	}
}

func TestCommands_ExplicitKind(t *testing.T) {
	_, h := newTestServer(t)

	do(t, h, http.MethodPost, "/v1/turns", `{"user":"recommend some music","agent":"jazz"}`)
	if rec := do(t, h, http.MethodPost, "/v1/flush", ""); rec.Code != http.StatusOK {
		t.Fatalf("flush: expected 200, got %d", rec.Code)
	}

	rec := do(t, h, http.MethodPost, "/v1/commands", `{"kind":"recall_first"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rep := decode[agent.Reply](t, rec)
	if rep.Kind != "recall_first" || rep.First == nil || !rep.First.IsImportant {
		t.Fatalf("unexpected reply %+v", rep)
	}

	for _, kind := range []string{"launch_rockets", "none"} {
		rec := do(t, h, http.MethodPost, "/v1/commands", `{"kind":"`+kind+`"}`)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("kind %q: expected 400, got %d", kind, rec.Code)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, h := newTestServer(t)
	do(t, h, http.MethodPost, "/v1/turns", `{"user":"weather?","agent":"sunny"}`)

	rec := do(t, h, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`memlake_turns_recorded_total{result="appended"} 1`,
		`memlake_pending_batch_size 1`,
		`memlake_http_requests_total{code="201",route="/v1/turns"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in metrics output", want)
		}
	}
}

func TestClosedEngine(t *testing.T) {
	srv, h := newTestServer(t)
	if _, err := srv.session.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	rec := do(t, h, http.MethodPost, "/v1/turns", `{"user":"late","agent":"turn"}`)
	if rec.Code != http.StatusServiceUnavailable || decode[errorResponse](t, rec).Code != "closed" {
		t.Fatalf("expected 503 closed, got %d: %s", rec.Code, rec.Body.String())
	}
}
