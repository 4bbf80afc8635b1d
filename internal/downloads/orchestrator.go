package downloads

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"podstash/internal/autodownload"
	"podstash/internal/domain"
	"podstash/internal/logging"
	"podstash/internal/policy"
	"podstash/internal/queue"
	"podstash/internal/reconcile"
)

var ErrAlreadyQueued = errors.New("episode already queued")

// EpisodeStore is the persistence the orchestrator needs.
type EpisodeStore interface {
	LookupEpisode(ctx context.Context, episodeID string) (domain.Episode, error)
	SetDownloadStatus(ctx context.Context, podcastID, episodeID string, status domain.DownloadStatus) error
	DownloadedEpisodes(ctx context.Context, podcastID string) ([]domain.Episode, error)
	SaveTasks(ctx context.Context, tasks []domain.DownloadTask) error
	LoadTasks(ctx context.Context) ([]domain.DownloadTask, error)
}

type SleepFunc func(context.Context, time.Duration) error

type Options struct {
	Workers    int
	RetryLimit int
	BackoffMax time.Duration
	Sleep      SleepFunc
}

// Orchestrator wires the queue, the auto-download service and an executor.
// Executor calls never run under the queue lock.
type Orchestrator struct {
	queue    *queue.Manager
	auto     *autodownload.Service
	executor Executor
	store    EpisodeStore
	opts     Options

	wakeCh chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// mu guards ctx, cancel and stopping. Background work is only added to
	// wg while holding it and before Stop sets stopping.
	mu       sync.Mutex
	ctx      context.Context
	stopping bool
}

func NewOrchestrator(q *queue.Manager, auto *autodownload.Service, executor Executor, store EpisodeStore, opts Options) *Orchestrator {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.Sleep == nil {
		opts.Sleep = defaultSleep
	}
	return &Orchestrator{
		queue:    q,
		auto:     auto,
		executor: executor,
		store:    store,
		opts:     opts,
		wakeCh:   make(chan struct{}, 1),
	}
}

func (o *Orchestrator) Queue() *queue.Manager {
	return o.queue
}

func (o *Orchestrator) Executor() Executor {
	return o.executor
}

// Start restores the persisted queue and launches the dispatch, event and
// persistence loops.
func (o *Orchestrator) Start(ctx context.Context) error {
	tasks, err := o.store.LoadTasks(ctx)
	if err != nil {
		return fmt.Errorf("load download queue: %w", err)
	}
	o.queue.Restore(tasks)
	if o.auto != nil {
		if err := o.auto.Load(ctx); err != nil {
			return fmt.Errorf("load auto-download settings: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.mu.Lock()
	o.ctx = runCtx
	o.cancel = cancel
	o.stopping = false
	o.mu.Unlock()

	snapshots, unsubscribe := o.queue.Subscribe()
	o.wg.Add(3)
	go o.dispatch(runCtx)
	go o.handleEvents(runCtx)
	go o.persist(runCtx, snapshots, unsubscribe)
	o.Notify()
	return nil
}

// Stop halts the loops and writes a final queue snapshot.
func (o *Orchestrator) Stop() {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.stopping = true
	cancel := o.cancel
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	o.Notify()
	o.wg.Wait()

	if err := o.store.SaveTasks(context.Background(), o.queue.GetCurrentQueue()); err != nil {
		logging.Error("persist download queue", "err", err)
	}
}

// spawn runs fn in the background with the run context. It reports false,
// without running fn, once Stop has begun or before Start.
func (o *Orchestrator) spawn(fn func(ctx context.Context)) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.stopping || o.ctx == nil || o.ctx.Err() != nil {
		return false
	}
	ctx := o.ctx
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		fn(ctx)
	}()
	return true
}

func (o *Orchestrator) Notify() {
	if o == nil {
		return
	}
	select {
	case o.wakeCh <- struct{}{}:
	default:
	}
}

// Enqueue queues a user-requested download for an episode.
func (o *Orchestrator) Enqueue(ctx context.Context, episodeID string, priority int) (domain.DownloadTask, error) {
	episodeID = strings.TrimSpace(episodeID)
	ep, err := o.store.LookupEpisode(ctx, episodeID)
	if err != nil {
		return domain.DownloadTask{}, err
	}
	if strings.TrimSpace(ep.AudioURL) == "" {
		return domain.DownloadTask{}, ErrNoAudioURL
	}
	if existing, ok := o.queue.FindByEpisode(ep.ID); ok {
		if existing.State != domain.TaskFailed {
			return existing, ErrAlreadyQueued
		}
		if err := o.Retry(existing.ID); err != nil {
			return existing, err
		}
		retried, _ := o.queue.GetTask(existing.ID)
		return retried, nil
	}

	task := domain.DownloadTask{
		ID:           "manual_" + uuid.NewString(),
		EpisodeID:    ep.ID,
		PodcastID:    ep.PodcastID,
		PodcastTitle: ep.PodcastTitle,
		AudioURL:     ep.AudioURL,
		Title:        ep.Title,
		State:        domain.TaskPending,
		Priority:     priority,
	}
	if err := o.queue.AddToQueue(task); err != nil {
		return domain.DownloadTask{}, err
	}
	o.Notify()
	return task, nil
}

// HandleReconciled offers every newly inserted episode to auto-download and
// returns how many were queued.
func (o *Orchestrator) HandleReconciled(ctx context.Context, podcast domain.Podcast, result reconcile.MergeResult) int {
	if o.auto == nil {
		return 0
	}
	queued := 0
	for _, ep := range result.NewEpisodes() {
		if ctx.Err() != nil {
			break
		}
		ok, err := o.auto.OnNewEpisodeDetected(ep, podcast)
		if err != nil {
			logging.Warn("auto-download enqueue", "podcast", podcast.ID, "episode", ep.ID, "err", err)
			continue
		}
		if ok {
			queued++
		}
	}
	if queued > 0 {
		o.Notify()
	}
	return queued
}

func (o *Orchestrator) Pause(ctx context.Context, taskID string) error {
	if err := o.queue.PauseDownload(taskID); err != nil {
		return err
	}
	task, _ := o.queue.GetTask(taskID)
	o.executor.PauseDownload(taskID)
	o.setStatus(ctx, task, domain.DownloadPaused)
	o.Notify()
	return nil
}

func (o *Orchestrator) Resume(ctx context.Context, taskID string) error {
	if err := o.queue.ResumeDownload(taskID); err != nil {
		return err
	}
	task, _ := o.queue.GetTask(taskID)
	o.setStatus(ctx, task, domain.DownloadInProgress)
	if err := o.executor.StartDownload(ctx, task); err != nil {
		o.fail(ctx, task, err)
		return err
	}
	return nil
}

// Cancel stops a task and removes any partial or completed file it wrote.
// A pending task has written nothing and is only marked cancelled.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	before, _ := o.queue.GetTask(taskID)
	if err := o.queue.CancelDownload(taskID); err != nil {
		return err
	}
	if before.State == domain.TaskPending {
		// The dispatcher may have launched it between the lookup and the cancel.
		o.executor.CancelDownload(before)
	} else {
		o.discard(ctx, before)
	}
	o.Notify()
	return nil
}

func (o *Orchestrator) Retry(taskID string) error {
	if err := o.queue.RetryFailedDownload(taskID); err != nil {
		return err
	}
	o.Notify()
	return nil
}

// Remove drops a task in any state. Active transfers are stopped first.
func (o *Orchestrator) Remove(ctx context.Context, taskID string) error {
	task, ok := o.queue.GetTask(taskID)
	if !ok {
		return fmt.Errorf("%s: %w", taskID, queue.ErrTaskNotFound)
	}
	if err := o.queue.RemoveFromQueue(taskID); err != nil {
		return err
	}
	if task.State == domain.TaskDownloading || task.State == domain.TaskPaused {
		o.discard(ctx, task)
	}
	o.Notify()
	return nil
}

// ReleasePodcast drops every task of a podcast and deletes its media,
// partial or complete. It returns the number of downloaded episodes whose
// files were removed. Call it before removing the podcast from the store.
func (o *Orchestrator) ReleasePodcast(ctx context.Context, podcastID string) (int, error) {
	for _, task := range o.queue.GetCurrentQueue() {
		if task.PodcastID != podcastID {
			continue
		}
		if err := o.queue.RemoveFromQueue(task.ID); err != nil {
			continue
		}
		if task.State != domain.TaskCompleted && task.State != domain.TaskCancelled {
			o.discard(ctx, task)
		}
	}
	o.Notify()

	episodes, err := o.store.DownloadedEpisodes(ctx, podcastID)
	if err != nil {
		return 0, err
	}
	deleted := 0
	for _, ep := range episodes {
		task := domain.DownloadTask{EpisodeID: ep.ID, PodcastID: ep.PodcastID, AudioURL: ep.AudioURL}
		if err := o.executor.DeleteDownloadedFile(task); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", ep.ID, err)
		}
		deleted++
	}
	logging.Info("released podcast media", "podcast", podcastID, "files", deleted)
	return deleted, nil
}

func (o *Orchestrator) Reorder(ids []string) {
	o.queue.ReorderQueue(ids)
	o.Notify()
}

// ApplyPolicy deletes downloaded media the policy selects and resets the
// episodes to notDownloaded. It returns the number of episodes evicted.
func (o *Orchestrator) ApplyPolicy(ctx context.Context, podcastID string, p domain.StoragePolicy) (int, error) {
	episodes, err := o.store.DownloadedEpisodes(ctx, podcastID)
	if err != nil {
		return 0, err
	}
	byID := make(map[string]domain.Episode, len(episodes))
	for _, ep := range episodes {
		byID[ep.ID] = ep
	}

	evicted := 0
	for _, action := range policy.Evaluate(p, episodes) {
		if action.Kind != domain.ActionDeleteEpisode {
			continue
		}
		ep, ok := byID[action.EpisodeID]
		if !ok {
			continue
		}
		task := domain.DownloadTask{EpisodeID: ep.ID, PodcastID: ep.PodcastID, AudioURL: ep.AudioURL}
		if err := o.executor.DeleteDownloadedFile(task); err != nil {
			return evicted, fmt.Errorf("delete %s: %w", ep.ID, err)
		}
		if err := o.store.SetDownloadStatus(ctx, podcastID, ep.ID, domain.DownloadNone); err != nil {
			return evicted, err
		}
		logging.Info("evicted episode", "podcast", podcastID, "episode", ep.ID)
		evicted++
	}
	return evicted, nil
}

func (o *Orchestrator) discard(ctx context.Context, task domain.DownloadTask) {
	o.executor.CancelDownload(task)
	if err := o.executor.DeleteDownloadedFile(task); err != nil {
		logging.Warn("remove cancelled download", "task", task.ID, "err", err)
	}
	o.setStatus(ctx, task, domain.DownloadNone)
}

func (o *Orchestrator) setStatus(ctx context.Context, task domain.DownloadTask, status domain.DownloadStatus) {
	if task.EpisodeID == "" {
		return
	}
	if err := o.store.SetDownloadStatus(ctx, task.PodcastID, task.EpisodeID, status); err != nil {
		logging.Warn("update episode download status", "task", task.ID, "episode", task.EpisodeID, "status", status, "err", err)
	}
}

func (o *Orchestrator) active() int {
	n := 0
	for _, task := range o.queue.GetCurrentQueue() {
		if task.State == domain.TaskDownloading {
			n++
		}
	}
	return n
}

func (o *Orchestrator) dispatch(ctx context.Context) {
	defer o.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		for o.active() < o.opts.Workers {
			task, ok := o.queue.NextPending()
			if !ok {
				break
			}
			if err := o.queue.Start(task.ID); err != nil {
				// Lost a race with a user action; look again.
				continue
			}
			task.State = domain.TaskDownloading
			// Status goes first so a fast completion event is not overwritten.
			o.setStatus(ctx, task, domain.DownloadInProgress)
			if err := o.executor.StartDownload(ctx, task); err != nil {
				logging.Warn("start download", "task", task.ID, "err", err)
				o.fail(ctx, task, err)
				continue
			}
			if current, ok := o.queue.GetTask(task.ID); !ok || current.State == domain.TaskCancelled {
				o.executor.CancelDownload(task)
				o.setStatus(ctx, task, domain.DownloadNone)
			}
		}
		if err := o.waitForWork(ctx); err != nil {
			return
		}
	}
}

func (o *Orchestrator) waitForWork(ctx context.Context) error {
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-o.wakeCh:
		return nil
	case <-timer.C:
		return nil
	}
}

func (o *Orchestrator) handleEvents(ctx context.Context) {
	defer o.wg.Done()
	events := o.executor.Progress()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			o.handleEvent(ctx, ev)
		}
	}
}

func (o *Orchestrator) handleEvent(ctx context.Context, ev domain.ProgressEvent) {
	task, ok := o.queue.GetTask(ev.TaskID)
	if !ok || task.State != domain.TaskDownloading {
		return
	}

	switch ev.State {
	case domain.TaskCompleted:
		if err := o.queue.Complete(task.ID); err != nil {
			return
		}
		o.setStatus(ctx, task, domain.DownloadDone)
		o.Notify()
	case domain.TaskFailed:
		o.fail(ctx, task, ev.Err)
	default:
		if err := o.queue.UpdateProgress(task.ID, ev.Progress); err != nil {
			logging.Debug("progress dropped", "task", task.ID, "err", err)
		}
	}
}

// fail marks the task failed and schedules an automatic retry while the
// retry budget lasts.
func (o *Orchestrator) fail(ctx context.Context, task domain.DownloadTask, cause error) {
	if cause == nil {
		cause = errors.New("download failed")
	}
	if err := o.queue.Fail(task.ID, cause); err != nil {
		return
	}
	o.setStatus(ctx, task, domain.DownloadFailed)
	o.Notify()

	if task.RetryCount >= o.opts.RetryLimit {
		logging.Warn("download failed, retries exhausted", "task", task.ID, "retries", task.RetryCount, "err", cause)
		return
	}

	backoff := time.Second << task.RetryCount
	if o.opts.BackoffMax > 0 && backoff > o.opts.BackoffMax {
		backoff = o.opts.BackoffMax
	}

	scheduled := o.spawn(func(runCtx context.Context) {
		if err := o.opts.Sleep(runCtx, backoff); err != nil {
			return
		}
		if err := o.queue.RetryFailedDownload(task.ID); err != nil {
			logging.Debug("automatic retry skipped", "task", task.ID, "err", err)
			return
		}
		o.Notify()
	})
	if scheduled {
		logging.Info("download failed, retrying", "task", task.ID, "attempt", task.RetryCount+1, "backoff", backoff, "err", cause)
	}
}

func (o *Orchestrator) persist(ctx context.Context, snapshots <-chan queue.Snapshot, unsubscribe func()) {
	defer o.wg.Done()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			if err := o.store.SaveTasks(ctx, snap.Tasks); err != nil && ctx.Err() == nil {
				logging.Error("persist download queue", "err", err)
			}
		}
	}
}

func defaultSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
