package repl

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"podstash/internal/app"
	"podstash/internal/config"
	"podstash/internal/domain"
	"podstash/internal/queue"
	"podstash/internal/storage"
)

func newTestModel(t *testing.T) model {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DownloadRoot = filepath.Join(dir, "downloads")
	cfg.TmpDir = filepath.Join(dir, "tmp")

	db, err := storage.Open(filepath.Join(dir, "app.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	application := app.New(cfg, filepath.Join(dir, "config.yaml"), db)
	t.Cleanup(func() {
		application.Close()
	})

	m := newModel(context.Background(), application)
	t.Cleanup(m.unsubscribe)
	return m
}

func typeCommand(m model, command string) model {
	m.input.SetValue(command)
	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return updated.(model)
}

func TestSubmitAppendsCommandOutput(t *testing.T) {
	m := newTestModel(t)

	m = typeCommand(m, "help")
	if m.input.Value() != "" {
		t.Fatalf("expected input to be cleared, got %q", m.input.Value())
	}
	if len(m.history) != 1 || m.history[0] != "help" {
		t.Fatalf("unexpected history: %v", m.history)
	}
	last := m.messages[len(m.messages)-1]
	if !strings.Contains(last, "subscribe <feed_url>") {
		t.Fatalf("expected help output, got:\n%s", last)
	}
}

func TestSubmitRendersErrors(t *testing.T) {
	m := newTestModel(t)

	m = typeCommand(m, `subscribe "unterminated`)
	last := m.messages[len(m.messages)-1]
	if !strings.Contains(last, "Unterminated") {
		t.Fatalf("expected parse error message, got %q", last)
	}
}

func TestExitCommandQuits(t *testing.T) {
	m := newTestModel(t)

	m.input.SetValue("exit")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(model)
	if !m.quitting {
		t.Fatal("expected quitting to be set")
	}
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Fatal("expected tea.QuitMsg")
	}
}

func TestHistoryRecall(t *testing.T) {
	m := newTestModel(t)
	m = typeCommand(m, "help")
	m = typeCommand(m, "queue")

	updated, _ := m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(model)
	if m.input.Value() != "queue" {
		t.Fatalf("expected most recent command, got %q", m.input.Value())
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(model)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = updated.(model)
	if m.input.Value() != "help" {
		t.Fatalf("expected recall to stop at the oldest command, got %q", m.input.Value())
	}
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(model)
	updated, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = updated.(model)
	if m.input.Value() != "" {
		t.Fatalf("expected input to clear past the newest command, got %q", m.input.Value())
	}
}

func TestQueuePanelShowsActiveTasks(t *testing.T) {
	m := newTestModel(t)

	if strings.Contains(m.View(), "Downloads") {
		t.Fatal("expected no panel for an empty queue")
	}

	snap := queue.Snapshot{
		Version: m.snapshot.Version + 1,
		Tasks: []domain.DownloadTask{
			{ID: "t1", Title: "Running episode", State: domain.TaskDownloading, Progress: 0.5},
			{ID: "t2", Title: "Waiting episode", State: domain.TaskPending},
			{ID: "t3", Title: "Finished episode", State: domain.TaskCompleted, Progress: 1},
		},
	}
	updated, cmd := m.Update(snapshotMsg(snap))
	m = updated.(model)
	if cmd == nil {
		t.Fatal("expected the model to keep listening for snapshots")
	}

	view := m.View()
	for _, expected := range []string{"Downloads (2 active)", "Running episode", "Waiting episode", "50%"} {
		if !strings.Contains(view, expected) {
			t.Errorf("view missing %q:\n%s", expected, view)
		}
	}
	if strings.Contains(view, "Finished episode") {
		t.Errorf("completed tasks should not appear in the panel:\n%s", view)
	}

	stale := queue.Snapshot{Version: snap.Version - 1}
	updated, _ = m.Update(snapshotMsg(stale))
	m = updated.(model)
	if len(m.snapshot.Tasks) != 3 {
		t.Fatal("expected stale snapshot to be ignored")
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Fatalf("truncate(short) = %q", got)
	}
	if got := truncate("a very long episode title", 6); got != "a ver…" {
		t.Fatalf("truncate(long) = %q", got)
	}
}
