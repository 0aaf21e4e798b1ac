package memory

import (
	"testing"
	"time"
)

func TestVocabulary_Extract(t *testing.T) {
	v := NewVocabulary("lunasia")
	tests := []struct {
		text string
		want []string
	}{
		{"music?", []string{"music"}},
		{"今天天气怎么样", []string{"天气"}},
		{"Write me a PYTHON program", []string{"program", "python"}},
		{"tell lunasia a joke", []string{"lunasia"}},
		{"nothing relevant", nil},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := v.Extract(tt.text)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for _, w := range tt.want {
				if !containsFold(got, w) {
					t.Fatalf("expected %q in %v", w, got)
				}
			}
		})
	}
}

func TestRecaller_Scoring(t *testing.T) {
	r := NewRecaller(nil, time.UTC)
	now := time.Date(2026, 2, 24, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		entry TopicEntry
		want  float64
	}{
		{"keyword and recent", TopicEntry{Topic: "Playlist", Keywords: []string{"music"}, Date: "2026-02-20"}, 0.6},
		{"keyword and topic and recent", TopicEntry{Topic: "Music recommendations", Keywords: []string{"Music"}, Date: "2026-02-23"}, 0.9},
		{"keyword within a month", TopicEntry{Topic: "Songs", Keywords: []string{"music"}, Date: "2026-02-01"}, 0.5},
		{"keyword only, old", TopicEntry{Topic: "Songs", Keywords: []string{"music"}, Date: "2025-01-01"}, 0.4},
		{"topic only, old", TopicEntry{Topic: "music night", Date: "2025-01-01"}, 0.3},
		{"recency only", TopicEntry{Topic: "Weather", Keywords: []string{"weather"}, Date: "2026-02-24"}, 0.2},
		{"undated keyword", TopicEntry{Topic: "x", Keywords: []string{"music"}}, 0.4},
	}
	kw := []string{"music"}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.score(tt.entry, kw, now); got != tt.want {
				t.Fatalf("expected %.2f, got %.2f", tt.want, got)
			}
		})
	}
}

func TestRecaller_ScoreCapped(t *testing.T) {
	r := NewRecaller(nil, time.UTC)
	e := TopicEntry{Topic: "music and weather", Keywords: []string{"music", "weather"}, Date: "2026-02-24"}
	if got := r.score(e, []string{"music", "weather"}, testNow); got != 1.0 {
		t.Fatalf("expected cap 1.0, got %.2f", got)
	}
}

func TestRecaller_ThresholdAndLimit(t *testing.T) {
	r := NewRecaller(nil, time.UTC)
	entries := []TopicEntry{
		{Topic: "Weather", Keywords: []string{"weather"}, Date: "2026-02-23"},
		{Topic: "A", Keywords: []string{"music"}, Date: "2025-01-01", Timestamp: "10:00:00"},
		{Topic: "B", Keywords: []string{"music"}, Date: "2025-01-02", Timestamp: "10:00:00"},
		{Topic: "C", Keywords: []string{"music"}, Date: "2025-01-03", Timestamp: "10:00:00"},
		{Topic: "D", Keywords: []string{"music"}, Date: "2025-01-04", Timestamp: "10:00:00"},
	}

	hits := r.Recall(entries, "music?", 0, testNow)
	if len(hits) != DefaultRecallLimit {
		t.Fatalf("expected %d hits, got %d", DefaultRecallLimit, len(hits))
	}
	for _, h := range hits {
		if h.Topic.Topic == "Weather" {
			t.Fatal("entry below threshold was returned")
		}
	}
	if hits[0].Topic.Topic != "D" || hits[0].Position != 4 {
		t.Fatalf("expected newest tie first, got %+v", hits[0])
	}

	if got := r.Recall(entries, "no vocabulary words here", 3, testNow); got != nil {
		t.Fatalf("expected no hits, got %v", got)
	}
}

// Scenario C: equal scores are ordered newest first.
func TestRecaller_TieBrokenByRecency(t *testing.T) {
	r := NewRecaller(nil, time.UTC)
	entries := []TopicEntry{
		{Topic: "Older songs", Keywords: []string{"music"}, Date: "2026-02-21", Timestamp: "09:00:00"},
		{Topic: "Newer songs", Keywords: []string{"music"}, Date: "2026-02-23", Timestamp: "09:00:00"},
	}
	hits := r.Recall(entries, "music?", 3, testNow)
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Score != hits[1].Score {
		t.Fatalf("expected equal scores, got %.2f and %.2f", hits[0].Score, hits[1].Score)
	}
	if hits[0].Topic.Topic != "Newer songs" {
		t.Fatalf("expected newer entry first, got %q", hits[0].Topic.Topic)
	}
}

func TestRecaller_ScoresAreRounded(t *testing.T) {
	r := NewRecaller(nil, time.UTC)
	kw := []string{"music"}
	a := r.score(TopicEntry{Topic: "music", Keywords: []string{"music"}, Date: "2025-01-01"}, kw, testNow)
	b := r.score(TopicEntry{Topic: "y", Keywords: []string{"music"}, Date: "2026-02-24"}, kw, testNow)
	c := r.score(TopicEntry{Topic: "music", Keywords: []string{"x"}, Date: "2026-02-24"}, kw, testNow)
	if a != 0.7 || b != 0.6 {
		t.Fatalf("unexpected scores a=%v b=%v", a, b)
	}
	if c != 0.5 {
		t.Fatalf("unexpected score c=%v", c)
	}
}
