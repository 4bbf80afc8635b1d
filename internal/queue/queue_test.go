package queue

import (
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"podstash/internal/domain"
)

func task(id string, priority int) domain.DownloadTask {
	return domain.DownloadTask{ID: id, EpisodeID: "ep-" + id, PodcastID: "p", AudioURL: "http://x/" + id, Priority: priority}
}

func order(m *Manager) []string {
	var ids []string
	for _, t := range m.GetCurrentQueue() {
		ids = append(ids, t.ID)
	}
	return ids
}

func mustAdd(t *testing.T, m *Manager, tasks ...domain.DownloadTask) {
	t.Helper()
	for _, task := range tasks {
		if err := m.AddToQueue(task); err != nil {
			t.Fatalf("AddToQueue(%s): %v", task.ID, err)
		}
	}
}

func TestAddToQueueSortsByPriority(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("t1", 1), task("t2", 2), task("t3", 3))

	if got, want := order(m), []string{"t3", "t2", "t1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	mustAdd(t, m, task("t4", 2))
	if got, want := order(m), []string{"t3", "t2", "t4", "t1"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ties should keep insertion order: %v, want %v", got, want)
	}

	added, _ := m.GetTask("t4")
	if added.State != domain.TaskPending || added.CreatedAt.IsZero() {
		t.Errorf("defaults not applied: %+v", added)
	}

	if err := m.AddToQueue(task("t1", 9)); !errors.Is(err, ErrDuplicateTask) {
		t.Errorf("expected ErrDuplicateTask, got %v", err)
	}
	if err := m.AddToQueue(domain.DownloadTask{}); !errors.Is(err, ErrMissingTaskID) {
		t.Errorf("expected ErrMissingTaskID, got %v", err)
	}
}

func TestReorderQueue(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("t1", 1), task("t2", 2), task("t3", 3))

	m.ReorderQueue([]string{"t1", "t3", "t2"})
	if got, want := order(m), []string{"t1", "t3", "t2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}

	mustAdd(t, m, task("t4", 2))
	if got, want := order(m), []string{"t4", "t1", "t3", "t2"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("insert after reorder = %v, want %v", got, want)
	}

	m.ReorderQueue([]string{"t2", "missing", "t2"})
	if got, want := order(m), []string{"t2", "t4", "t1", "t3"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("partial reorder = %v, want %v", got, want)
	}
}

func TestStateMachine(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("t1", 0))

	if err := m.PauseDownload("t1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pause on pending: expected ErrInvalidTransition, got %v", err)
	}
	var terr *TransitionError
	if err := m.ResumeDownload("t1"); !errors.As(err, &terr) || terr.From != domain.TaskPending {
		t.Fatalf("resume on pending: expected TransitionError, got %v", err)
	}

	steps := []struct {
		name string
		run  func(string) error
		want domain.TaskState
	}{
		{"start", m.Start, domain.TaskDownloading},
		{"pause", m.PauseDownload, domain.TaskPaused},
		{"resume", m.ResumeDownload, domain.TaskDownloading},
		{"complete", m.Complete, domain.TaskCompleted},
	}
	for _, step := range steps {
		if err := step.run("t1"); err != nil {
			t.Fatalf("%s: %v", step.name, err)
		}
		if got, _ := m.GetTask("t1"); got.State != step.want {
			t.Fatalf("%s: state = %s, want %s", step.name, got.State, step.want)
		}
	}

	if err := m.CancelDownload("t1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel completed: expected ErrInvalidTransition, got %v", err)
	}
	if got, _ := m.GetTask("t1"); got.State != domain.TaskCompleted || got.Progress != 1 {
		t.Errorf("rejected transition changed state: %+v", got)
	}
	if err := m.Start("missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestCancelFromEveryActiveState(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("pending", 0), task("downloading", 0), task("paused", 0))
	if err := m.Start("downloading"); err != nil {
		t.Fatal(err)
	}
	if err := m.Start("paused"); err != nil {
		t.Fatal(err)
	}
	if err := m.PauseDownload("paused"); err != nil {
		t.Fatal(err)
	}

	for _, id := range []string{"pending", "downloading", "paused"} {
		if err := m.CancelDownload(id); err != nil {
			t.Errorf("cancel %s: %v", id, err)
		}
	}
	if n := m.ClearFinished(); n != 3 {
		t.Errorf("ClearFinished removed %d, want 3", n)
	}
}

func TestRetryFailedDownload(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("t1", 0))
	if err := m.Start("t1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Fail("t1", errors.New("connection reset")); err != nil {
		t.Fatal(err)
	}
	failed, _ := m.GetTask("t1")
	if failed.State != domain.TaskFailed || failed.Error != "connection reset" {
		t.Fatalf("unexpected failed task: %+v", failed)
	}

	if err := m.RetryFailedDownload("t1"); err != nil {
		t.Fatalf("retry: %v", err)
	}
	retried, _ := m.GetTask("t1")
	if retried.State != domain.TaskPending || retried.RetryCount != 1 || retried.Error != "" {
		t.Fatalf("unexpected retried task: %+v", retried)
	}

	if err := m.RetryFailedDownload("t1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("retry from pending: expected ErrInvalidTransition, got %v", err)
	}
	if again, _ := m.GetTask("t1"); again.RetryCount != 1 {
		t.Errorf("retry count changed by rejected retry: %d", again.RetryCount)
	}
}

func TestUpdateProgress(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("t1", 0))

	if err := m.UpdateProgress("t1", 0.5); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("progress on pending: expected ErrInvalidTransition, got %v", err)
	}
	if err := m.Start("t1"); err != nil {
		t.Fatal(err)
	}
	if err := m.UpdateProgress("t1", 1.7); err != nil {
		t.Fatalf("UpdateProgress: %v", err)
	}
	if got, _ := m.GetTask("t1"); got.Progress != 1 {
		t.Errorf("progress = %v, want clamp to 1", got.Progress)
	}
}

func TestRemoveAndLookups(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("t1", 0), task("t2", 0))
	if err := m.Start("t1"); err != nil {
		t.Fatal(err)
	}

	next, ok := m.NextPending()
	if !ok || next.ID != "t2" {
		t.Fatalf("NextPending = %v %v, want t2", next.ID, ok)
	}
	found, ok := m.FindByEpisode("ep-t1")
	if !ok || found.ID != "t1" {
		t.Fatalf("FindByEpisode = %v %v", found.ID, ok)
	}

	if err := m.RemoveFromQueue("t1"); err != nil {
		t.Fatalf("RemoveFromQueue: %v", err)
	}
	if _, ok := m.GetTask("t1"); ok {
		t.Error("removed task still present")
	}
	if err := m.RemoveFromQueue("t1"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRestoreResetsDownloading(t *testing.T) {
	m := NewManager()
	m.Restore([]domain.DownloadTask{
		{ID: "a", State: domain.TaskDownloading, Progress: 0.4},
		{ID: "b", State: domain.TaskPaused},
		{ID: "a", State: domain.TaskFailed},
		{ID: ""},
	})

	if got, want := order(m), []string{"a", "b"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("order = %v, want %v", got, want)
	}
	a, _ := m.GetTask("a")
	if a.State != domain.TaskPending || a.Progress != 0.4 {
		t.Errorf("restored task a = %+v", a)
	}
}

func TestSubscribeDeliversLatestSnapshot(t *testing.T) {
	m := NewManager()
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	initial := <-ch
	if len(initial.Tasks) != 0 || initial.Version == 0 {
		t.Fatalf("unexpected initial snapshot: %+v", initial)
	}

	mustAdd(t, m, task("t1", 0), task("t2", 0))
	latest := <-ch
	if len(latest.Tasks) != 2 || latest.Version <= initial.Version {
		t.Fatalf("expected latest snapshot with 2 tasks, got %+v", latest)
	}

	select {
	case extra := <-ch:
		t.Fatalf("stale snapshot left in channel: %+v", extra)
	default:
	}

	late, stop := m.Subscribe()
	defer stop()
	if snap := <-late; len(snap.Tasks) != 2 {
		t.Errorf("late subscriber got %d tasks, want 2", len(snap.Tasks))
	}
}

func TestSubscribeVersionsIncrease(t *testing.T) {
	m := NewManager()
	ch, unsubscribe := m.Subscribe()

	done := make(chan struct{})
	var violations []string
	go func() {
		defer close(done)
		var last uint64
		for snap := range ch {
			if snap.Version <= last {
				violations = append(violations, "out of order")
			}
			last = snap.Version
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			_ = m.AddToQueue(task(id, i))
			_ = m.Start(id)
			_ = m.UpdateProgress(id, 0.5)
			_ = m.Complete(id)
		}(i)
	}
	wg.Wait()
	time.Sleep(10 * time.Millisecond)
	unsubscribe()
	<-done

	if len(violations) > 0 {
		t.Fatalf("subscriber observed %d out-of-order snapshots", len(violations))
	}
	for _, task := range m.GetCurrentQueue() {
		if task.State != domain.TaskCompleted {
			t.Errorf("task %s ended in %s", task.ID, task.State)
		}
	}
}

func TestFindByEpisodeIncludesFailedTasks(t *testing.T) {
	m := NewManager()
	mustAdd(t, m, task("t1", 0))
	if err := m.Start("t1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Fail("t1", errors.New("timeout")); err != nil {
		t.Fatal(err)
	}

	found, ok := m.FindByEpisode("ep-t1")
	if !ok || found.ID != "t1" || found.State != domain.TaskFailed {
		t.Fatalf("FindByEpisode on failed task = %+v %v", found, ok)
	}

	mustAdd(t, m, domain.DownloadTask{ID: "t2", EpisodeID: "ep-done", AudioURL: "http://x/done"})
	if err := m.Start("t2"); err != nil {
		t.Fatal(err)
	}
	if err := m.Complete("t2"); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.FindByEpisode("ep-done"); ok {
		t.Error("completed task should not own the episode")
	}
}
