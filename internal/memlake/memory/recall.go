package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

// Recall defaults and scoring weights.
const (
	DefaultRecallLimit = 3
	DefaultRecentLimit = 100
	RecallThreshold    = 0.3

	keywordWeight   = 0.4
	topicWeight     = 0.3
	weekBonus       = 0.2
	monthBonus      = 0.1
	maxRecallScore  = 1.0
	recallScoreUnit = 100 // scores are rounded to 1/recallScoreUnit
)

// RecallHit is a topic entry that matched a recall query.
type RecallHit struct {
	Position int        `json:"position"`
	Score    float64    `json:"score"`
	Topic    TopicEntry `json:"topic"`
}

// Recaller ranks topic entries against free-text queries using the keyword
// vocabulary.
type Recaller struct {
	vocab *Vocabulary
	loc   *time.Location
}

// NewRecaller creates a Recaller. loc is the zone entry dates are
// interpreted in; nil means time.Local.
func NewRecaller(vocab *Vocabulary, loc *time.Location) *Recaller {
	if vocab == nil {
		vocab = NewVocabulary()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Recaller{vocab: vocab, loc: loc}
}

// Recall returns up to max entries whose score against query reaches
// RecallThreshold, ordered by score then recency. A query without any
// vocabulary keyword matches nothing.
func (r *Recaller) Recall(entries []TopicEntry, query string, max int, now time.Time) []RecallHit {
	if max <= 0 {
		max = DefaultRecallLimit
	}
	keywords := r.vocab.Extract(query)
	if len(keywords) == 0 {
		return nil
	}

	var hits []RecallHit
	for i, e := range entries {
		score := r.score(e, keywords, now)
		if score < RecallThreshold {
			continue
		}
		hits = append(hits, RecallHit{Position: i, Score: score, Topic: cloneEntry(e)})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return newerThan(hits[i].Topic, hits[j].Topic)
	})
	if len(hits) > max {
		hits = hits[:max]
	}
	return hits
}

// score sums the keyword, topic and recency contributions, capped at 1.0 and
// rounded to two decimals.
func (r *Recaller) score(e TopicEntry, keywords []string, now time.Time) float64 {
	score := 0.0
	topic := strings.ToLower(e.Topic)
	for _, k := range keywords {
		if containsFold(e.Keywords, k) {
			score += keywordWeight
		}
		if strings.Contains(topic, k) {
			score += topicWeight
		}
	}
	if days, ok := r.ageInDays(e, now); ok {
		switch {
		case days <= 7:
			score += weekBonus
		case days <= 30:
			score += monthBonus
		}
	}
	score = math.Min(score, maxRecallScore)
	return math.Round(score*recallScoreUnit) / recallScoreUnit
}

// ageInDays counts whole days from the start of the entry's date to now.
func (r *Recaller) ageInDays(e TopicEntry, now time.Time) (int, bool) {
	day, err := time.ParseInLocation(DateLayout, e.Date, r.loc)
	if err != nil {
		return 0, false
	}
	return int(math.Floor(now.In(r.loc).Sub(day).Hours() / 24)), true
}
