package memory

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// sessionArchive is the on-disk form of a finished session's turn log.
type sessionArchive struct {
	SessionID string    `json:"session_id"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
	Turns     []Turn    `json:"turns"`
}

// writeSessionLog stores turns as session_<start>_<id>.json in dir and
// returns the path. Nothing is written for a session without turns.
func writeSessionLog(dir, sessionID string, started, ended time.Time, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", nil
	}
	data, err := json.MarshalIndent(sessionArchive{
		SessionID: sessionID,
		StartedAt: started,
		EndedAt:   ended,
		Turns:     turns,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode session log: %w", err)
	}

	short := strings.TrimPrefix(sessionID, "s_")
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("session_%s_%s.json", started.Format("20060102_150405"), short)
	path := filepath.Join(dir, name)
	if err := writeFileAtomic(path, data); err != nil {
		return "", fmt.Errorf("write session log: %w", err)
	}
	return path, nil
}
