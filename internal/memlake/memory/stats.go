package memory

import (
	"errors"
	"io/fs"
	"os"
	"strings"
)

// Stats summarises the memory state for status displays.
type Stats struct {
	TotalTopics      int    `json:"total_topics"`
	ImportantTopics  int    `json:"important_topics"`
	TotalLogFiles    int    `json:"total_log_files"`
	IndexSizeBytes   int64  `json:"index_size_bytes"`
	PendingBatchSize int    `json:"pending_batch_size"`
	SessionTurns     int    `json:"session_turns"`
	SessionID        string `json:"session_id"`
}

// Stats collects counts from the index, the log directory and the batch.
func (e *Engine) Stats() (Stats, error) {
	size, err := e.index.StorageSize()
	if err != nil {
		return Stats{}, err
	}
	logs, err := countLogFiles(e.cfg.LogDir)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TotalTopics:      e.index.Len(),
		ImportantTopics:  e.index.ImportantCount(),
		TotalLogFiles:    logs,
		IndexSizeBytes:   size,
		PendingBatchSize: e.PendingLen(),
		SessionTurns:     e.turns.Len(),
		SessionID:        e.sessionID,
	}, nil
}

// countLogFiles counts the .json files directly inside dir. A missing or
// unset directory counts as zero.
func countLogFiles(dir string) (int, error) {
	if dir == "" {
		return 0, nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			n++
		}
	}
	return n, nil
}
