package autodownload

import (
	"context"
	"errors"
	"strings"
	"testing"

	"podstash/internal/domain"
	"podstash/internal/queue"
)

type memoryOverrides struct {
	saved   map[string]bool
	failing bool
}

func (m *memoryOverrides) SaveAutoDownloadOverride(_ context.Context, podcastID string, enabled bool) error {
	if m.failing {
		return errors.New("disk full")
	}
	if m.saved == nil {
		m.saved = make(map[string]bool)
	}
	m.saved[podcastID] = enabled
	return nil
}

func (m *memoryOverrides) LoadAutoDownloadOverrides(context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(m.saved))
	for k, v := range m.saved {
		out[k] = v
	}
	return out, nil
}

func episode(id string) domain.Episode {
	return domain.Episode{ID: id, Title: "Episode " + id, AudioURL: "http://example.com/" + id + ".mp3"}
}

func TestOnNewEpisodeDetectedFallsBackToPodcastFlags(t *testing.T) {
	tests := []struct {
		name       string
		subscribed bool
		enabled    bool
		want       bool
	}{
		{"subscribed and enabled", true, true, true},
		{"enabled but unsubscribed", false, true, false},
		{"subscribed but disabled", true, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := queue.NewManager()
			svc := NewService(q, nil)
			podcast := domain.Podcast{ID: "p1", Title: "Show", IsSubscribed: tt.subscribed, AutoDownloadEnabled: tt.enabled}

			queued, err := svc.OnNewEpisodeDetected(episode("e1"), podcast)
			if err != nil {
				t.Fatalf("OnNewEpisodeDetected: %v", err)
			}
			if queued != tt.want {
				t.Fatalf("queued = %v, want %v", queued, tt.want)
			}
			if got := len(q.GetCurrentQueue()); (got == 1) != tt.want {
				t.Fatalf("queue length = %d", got)
			}
		})
	}
}

func TestOverrideWins(t *testing.T) {
	ctx := context.Background()
	q := queue.NewManager()
	store := &memoryOverrides{}
	svc := NewService(q, store)

	podcast := domain.Podcast{ID: "p1", IsSubscribed: true, AutoDownloadEnabled: true}
	if err := svc.SetAutoDownload(ctx, false, "p1"); err != nil {
		t.Fatalf("SetAutoDownload: %v", err)
	}
	if queued, _ := svc.OnNewEpisodeDetected(episode("e1"), podcast); queued {
		t.Fatal("override false should block auto-download")
	}

	other := domain.Podcast{ID: "p2"}
	if err := svc.SetAutoDownload(ctx, true, "p2"); err != nil {
		t.Fatalf("SetAutoDownload: %v", err)
	}
	if queued, _ := svc.OnNewEpisodeDetected(episode("e2"), other); !queued {
		t.Fatal("override true should queue even when unsubscribed")
	}

	if !svc.GetAutoDownloadSetting("p2") || svc.GetAutoDownloadSetting("p1") || svc.GetAutoDownloadSetting("unknown") {
		t.Error("unexpected override values")
	}

	reloaded := NewService(q, store)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reloaded.GetAutoDownloadSetting("p2") {
		t.Error("override not restored from store")
	}

	store.failing = true
	if err := svc.SetAutoDownload(ctx, true, "p1"); err == nil {
		t.Fatal("expected persistence error")
	}
	if svc.GetAutoDownloadSetting("p1") {
		t.Error("failed save should not change the override")
	}
}

func TestQueuedTaskShape(t *testing.T) {
	q := queue.NewManager()
	svc := NewService(q, nil)
	podcast := domain.Podcast{ID: "p1", Title: "Show", IsSubscribed: true, AutoDownloadEnabled: true}

	if _, err := svc.OnNewEpisodeDetected(episode("e1"), podcast); err != nil {
		t.Fatal(err)
	}
	tasks := q.GetCurrentQueue()
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
	got := tasks[0]
	if !strings.HasPrefix(got.ID, "auto_") {
		t.Errorf("task id %q missing auto_ prefix", got.ID)
	}
	if got.Priority != domain.PriorityMedium || got.Priority >= domain.PriorityHigh {
		t.Errorf("priority = %d", got.Priority)
	}
	if got.EpisodeID != "e1" || got.PodcastID != "p1" || got.PodcastTitle != "Show" || got.State != domain.TaskPending {
		t.Errorf("unexpected task: %+v", got)
	}

	if queued, _ := svc.OnNewEpisodeDetected(episode("e1"), podcast); queued {
		t.Error("episode with an active task should not be queued twice")
	}
	done := episode("e2")
	done.DownloadStatus = domain.DownloadDone
	if queued, _ := svc.OnNewEpisodeDetected(done, podcast); queued {
		t.Error("downloaded episode should not be queued")
	}
	if queued, _ := svc.OnNewEpisodeDetected(domain.Episode{ID: "e3"}, podcast); queued {
		t.Error("episode without audio should not be queued")
	}
}

func TestFailedTaskBlocksSecondQueueing(t *testing.T) {
	q := queue.NewManager()
	svc := NewService(q, nil)
	podcast := domain.Podcast{ID: "p1", Title: "Show", IsSubscribed: true, AutoDownloadEnabled: true}

	if queued, err := svc.OnNewEpisodeDetected(episode("e1"), podcast); err != nil || !queued {
		t.Fatalf("first detection: queued=%v err=%v", queued, err)
	}
	first := q.GetCurrentQueue()[0]
	if err := q.Start(first.ID); err != nil {
		t.Fatal(err)
	}
	if err := q.Fail(first.ID, errors.New("reset")); err != nil {
		t.Fatal(err)
	}

	queued, err := svc.OnNewEpisodeDetected(episode("e1"), podcast)
	if err != nil {
		t.Fatalf("second detection: %v", err)
	}
	if queued {
		t.Fatal("episode with a failed task awaiting retry was queued again")
	}
	if got := len(q.GetCurrentQueue()); got != 1 {
		t.Fatalf("queue length = %d, want 1", got)
	}
}
