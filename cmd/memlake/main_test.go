package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bdobrica/memlake/internal/memlake/memory"
)

// seedConfig writes a config file pointing at a temp dir and an index with
// two topics, the first one important.
func seedConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	indexPath := filepath.Join(dir, "memory_lake.json")
	dbPath := filepath.Join(dir, "db", "memlake.db")

	today := time.Now().Format(memory.DateLayout)
	entries := []memory.TopicEntry{
		{Topic: "Weather", Timestamp: "09:00:00", Date: today, TurnCount: 3, Keywords: []string{"weather"}, Detail: "rain", IsImportant: true},
		{Topic: "Music recommendations", Timestamp: "10:00:00", Date: today, TurnCount: 2, Keywords: []string{"music"}, Detail: "jazz"},
	}
	if err := memory.NewJSONFileStore(indexPath, 1, nil).Save(context.Background(), entries); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	cfgPath := filepath.Join(dir, "memlake.yaml")
	body := "memory:\n" +
		"  index_path: " + indexPath + "\n" +
		"  database_path: " + dbPath + "\n" +
		"  log_dir: " + filepath.Join(dir, "chat_logs") + "\n" +
		"summarizer:\n  provider: heuristic\n" +
		"log:\n  level: error\n"
	if err := os.WriteFile(cfgPath, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return cfgPath, dbPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLI_TopicsAndFirst(t *testing.T) {
	cfg, _ := seedConfig(t)

	out, err := run(t, "--config", cfg, "topics")
	if err != nil {
		t.Fatalf("topics: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.Contains(lines[0], "Music recommendations") {
		t.Fatalf("expected newest topic first, got:\n%s", out)
	}

	out, err = run(t, "--config", cfg, "topics", "--important")
	if err != nil {
		t.Fatalf("topics --important: %v", err)
	}
	if strings.Count(strings.TrimSpace(out), "\n") != 0 || !strings.Contains(out, "Weather") {
		t.Fatalf("expected only the important topic, got:\n%s", out)
	}

	out, err = run(t, "--config", cfg, "first")
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	if !strings.HasPrefix(out, "#0 * [") || !strings.Contains(out, "Weather") {
		t.Fatalf("unexpected first output %q", out)
	}
}

func TestCLI_MarkAndStats(t *testing.T) {
	cfg, _ := seedConfig(t)

	if _, err := run(t, "--config", cfg, "mark", "1"); err != nil {
		t.Fatalf("mark: %v", err)
	}
	if _, err := run(t, "--config", cfg, "mark", "7"); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Fatalf("expected out of range error, got %v", err)
	}
	if _, err := run(t, "--config", cfg, "mark", "x"); err == nil {
		t.Fatal("expected an error for a non-numeric index")
	}

	out, err := run(t, "--config", cfg, "stats")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	var stats memory.Stats
	if err := json.Unmarshal([]byte(out), &stats); err != nil {
		t.Fatalf("stats output is not JSON: %v\n%s", err, out)
	}
	if stats.TotalTopics != 2 || stats.ImportantTopics != 2 || stats.IndexSizeBytes == 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestCLI_Recall(t *testing.T) {
	cfg, _ := seedConfig(t)

	out, err := run(t, "--config", cfg, "recall", "any", "music", "ideas?")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !strings.Contains(out, "#1") || !strings.Contains(out, "Music recommendations") || strings.Contains(out, "Weather") {
		t.Fatalf("unexpected recall output:\n%s", out)
	}

	out, err = run(t, "--config", cfg, "recall", "quantum")
	if err != nil {
		t.Fatalf("recall: %v", err)
	}
	if !strings.Contains(out, "no matching memories") {
		t.Fatalf("unexpected recall output %q", out)
	}
}

func TestCLI_Migrate(t *testing.T) {
	cfg, dbPath := seedConfig(t)

	out, err := run(t, "--config", cfg, "migrate")
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if !strings.Contains(out, "migrated 2 topics") {
		t.Fatalf("unexpected migrate output %q", out)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("database not created: %v", err)
	}

	if _, err := run(t, "--config", cfg, "migrate"); err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected a refusal without --force, got %v", err)
	}
	if _, err := run(t, "--config", cfg, "migrate", "--force"); err != nil {
		t.Fatalf("migrate --force: %v", err)
	}

	t.Setenv("MEMLAKE_BACKEND", "sqlite")
	out, err = run(t, "--config", cfg, "first")
	if err != nil {
		t.Fatalf("first on sqlite: %v", err)
	}
	if !strings.Contains(out, "Weather") {
		t.Fatalf("expected migrated first topic, got %q", out)
	}
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "memlake ") {
		t.Fatalf("unexpected version output %q", out)
	}
}
