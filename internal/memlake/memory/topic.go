package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Layouts of the date and time fields stored on a TopicEntry.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// DegradedTopic labels entries committed after the summarizer gave up.
const DegradedTopic = "summarization failed"

// TopicEntry is one durable summary of a committed batch of turns. Only
// IsImportant changes after the entry is written.
type TopicEntry struct {
	Topic       string   `json:"topic"`
	Timestamp   string   `json:"timestamp"`
	Date        string   `json:"date"`
	TurnCount   int      `json:"conversation_count"`
	Keywords    []string `json:"keywords"`
	Detail      string   `json:"conversation_details"`
	IsImportant bool     `json:"is_important"`
	Degraded    bool     `json:"summary_failed,omitempty"`
}

// At parses the entry's date and time in loc. ok is false when the date is
// missing or malformed; a malformed time is treated as midnight.
func (e TopicEntry) At(loc *time.Location) (t time.Time, ok bool) {
	if loc == nil {
		loc = time.Local
	}
	d, err := time.ParseInLocation(DateLayout, e.Date, loc)
	if err != nil {
		return time.Time{}, false
	}
	if clock, err := time.ParseInLocation(TimeLayout, e.Timestamp, loc); err == nil {
		d = d.Add(time.Duration(clock.Hour())*time.Hour +
			time.Duration(clock.Minute())*time.Minute +
			time.Duration(clock.Second())*time.Second)
	}
	return d, true
}

// sortKey orders entries chronologically using the stored strings, which
// sort lexically in the fixed layouts.
func (e TopicEntry) sortKey() string { return e.Date + " " + e.Timestamp }

func cloneEntry(e TopicEntry) TopicEntry {
	e.Keywords = append([]string(nil), e.Keywords...)
	return e
}

func cloneEntries(in []TopicEntry) []TopicEntry {
	out := make([]TopicEntry, len(in))
	for i, e := range in {
		out[i] = cloneEntry(e)
	}
	return out
}

// indexDocument is the persisted form of the topic index. The conversations
// and contexts maps are carried for compatibility and are always written
// empty.
type indexDocument struct {
	Topics        []TopicEntry   `json:"topics"`
	Conversations map[string]any `json:"conversations"`
	Contexts      map[string]any `json:"contexts"`
}

// decodeIndex accepts the current keyed document or the legacy bare array.
func decodeIndex(data []byte) ([]TopicEntry, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	switch data[0] {
	case '[':
		var topics []TopicEntry
		if err := json.Unmarshal(data, &topics); err != nil {
			return nil, fmt.Errorf("decode legacy index: %w", err)
		}
		return topics, nil
	case '{':
		var doc indexDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode index: %w", err)
		}
		return doc.Topics, nil
	default:
		return nil, fmt.Errorf("decode index: unexpected leading byte %q", data[0])
	}
}

// encodeIndex renders entries in the keyed document form, two-space indented
// with non-ASCII text left unescaped.
func encodeIndex(entries []TopicEntry) ([]byte, error) {
	if entries == nil {
		entries = []TopicEntry{}
	}
	doc := indexDocument{
		Topics:        entries,
		Conversations: map[string]any{},
		Contexts:      map[string]any{},
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode index: %w", err)
	}
	return buf.Bytes(), nil
}
