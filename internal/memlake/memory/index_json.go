package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/bdobrica/memlake/common/retry"
)

// JSONFileStore keeps the topic index in a single JSON document that is
// rewritten in full on every save. Writes go to a temporary file in the same
// directory and are renamed over the target, so a crash never leaves a
// truncated index behind.
type JSONFileStore struct {
	path   string
	retry  retry.Config
	logger *slog.Logger
}

var _ TopicStore = (*JSONFileStore)(nil)

// NewJSONFileStore creates a store for path. writeAttempts bounds the number
// of tries per save (minimum 1).
func NewJSONFileStore(path string, writeAttempts int, logger *slog.Logger) *JSONFileStore {
	if logger == nil {
		logger = slog.Default()
	}
	if writeAttempts < 1 {
		writeAttempts = 1
	}
	return &JSONFileStore{
		path: path,
		retry: retry.Config{
			MaxAttempts:  writeAttempts,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     time.Second,
		},
		logger: logger,
	}
}

// Path returns the index file path.
func (s *JSONFileStore) Path() string { return s.path }

// Load reads and decodes the index file. A missing file yields no entries.
func (s *JSONFileStore) Load(ctx context.Context) ([]TopicEntry, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	return decodeIndex(data)
}

// Save encodes entries and atomically replaces the index file, retrying
// transient write failures.
func (s *JSONFileStore) Save(ctx context.Context, entries []TopicEntry) error {
	data, err := encodeIndex(entries)
	if err != nil {
		return err
	}
	cfg := s.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		s.logger.Warn("memory: index write failed, retrying",
			"path", s.path, "attempt", attempt, "delay", delay, "err", err)
	}
	if err := retry.Do(ctx, cfg, func() error { return writeFileAtomic(s.path, data) }); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}

// Size returns the index file size, 0 when it does not exist yet.
func (s *JSONFileStore) Size() (int64, error) {
	fi, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
