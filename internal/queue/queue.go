package queue

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"podstash/internal/domain"
	"podstash/internal/logging"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrTaskNotFound      = errors.New("task not found")
	ErrDuplicateTask     = errors.New("task already queued")
	ErrMissingTaskID     = errors.New("task ID cannot be empty")
)

// TransitionError reports a rejected state change. Queue state is unchanged.
type TransitionError struct {
	TaskID string
	From   domain.TaskState
	To     domain.TaskState
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("task %s: cannot move from %s to %s", e.TaskID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

var transitions = map[domain.TaskState][]domain.TaskState{
	domain.TaskPending:     {domain.TaskDownloading, domain.TaskCancelled},
	domain.TaskDownloading: {domain.TaskCompleted, domain.TaskPaused, domain.TaskCancelled, domain.TaskFailed},
	domain.TaskPaused:      {domain.TaskDownloading, domain.TaskCancelled},
	domain.TaskFailed:      {domain.TaskPending},
}

func allowed(from, to domain.TaskState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Snapshot is an immutable copy of the queue. Version increases with every
// published change.
type Snapshot struct {
	Version uint64
	Tasks   []domain.DownloadTask
}

// Manager owns the ordered download queue and the per-task state machine.
// All mutations run under one lock; readers get copies.
type Manager struct {
	mu      sync.Mutex
	order   []string
	tasks   map[string]*domain.DownloadTask
	version uint64
	latest  Snapshot
	subs    map[int]chan Snapshot
	nextSub int
	now     func() time.Time
}

func NewManager() *Manager {
	m := &Manager{
		tasks: make(map[string]*domain.DownloadTask),
		subs:  make(map[int]chan Snapshot),
		now:   time.Now,
	}
	m.publishLocked()
	return m
}

// AddToQueue inserts task after every task of equal or higher priority.
func (m *Manager) AddToQueue(task domain.DownloadTask) error {
	task.ID = strings.TrimSpace(task.ID)
	if task.ID == "" {
		return ErrMissingTaskID
	}
	if task.State == "" {
		task.State = domain.TaskPending
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = m.now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.tasks[task.ID]; exists {
		return fmt.Errorf("%s: %w", task.ID, ErrDuplicateTask)
	}

	pos := len(m.order)
	for i, id := range m.order {
		if m.tasks[id].Priority < task.Priority {
			pos = i
			break
		}
	}
	m.order = append(m.order, "")
	copy(m.order[pos+1:], m.order[pos:])
	m.order[pos] = task.ID
	m.tasks[task.ID] = &task

	logging.Debug("task queued", "task", task.ID, "episode", task.EpisodeID, "priority", task.Priority, "position", pos)
	m.publishLocked()
	return nil
}

// ReorderQueue moves the given ids to the front in the given order. Ids not
// mentioned keep their relative order after them; unknown ids are ignored.
func (m *Manager) ReorderQueue(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	placed := make(map[string]bool, len(ids))
	order := make([]string, 0, len(m.order))
	for _, id := range ids {
		if _, ok := m.tasks[id]; !ok || placed[id] {
			continue
		}
		placed[id] = true
		order = append(order, id)
	}
	for _, id := range m.order {
		if !placed[id] {
			order = append(order, id)
		}
	}
	m.order = order
	m.publishLocked()
}

func (m *Manager) PauseDownload(id string) error {
	return m.transition(id, domain.TaskPaused, nil)
}

func (m *Manager) ResumeDownload(id string) error {
	return m.transition(id, domain.TaskDownloading, func(t *domain.DownloadTask) error {
		if t.State != domain.TaskPaused {
			return &TransitionError{TaskID: id, From: t.State, To: domain.TaskDownloading}
		}
		return nil
	})
}

func (m *Manager) CancelDownload(id string) error {
	return m.transition(id, domain.TaskCancelled, nil)
}

// RetryFailedDownload moves a failed task back to pending, bumping its retry
// count and clearing the error.
func (m *Manager) RetryFailedDownload(id string) error {
	return m.transition(id, domain.TaskPending, func(t *domain.DownloadTask) error {
		t.RetryCount++
		t.Error = ""
		return nil
	})
}

// Start marks a pending task as downloading.
func (m *Manager) Start(id string) error {
	return m.transition(id, domain.TaskDownloading, func(t *domain.DownloadTask) error {
		if t.State != domain.TaskPending {
			return &TransitionError{TaskID: id, From: t.State, To: domain.TaskDownloading}
		}
		return nil
	})
}

func (m *Manager) Complete(id string) error {
	return m.transition(id, domain.TaskCompleted, func(t *domain.DownloadTask) error {
		t.Progress = 1
		t.Error = ""
		return nil
	})
}

func (m *Manager) Fail(id string, cause error) error {
	return m.transition(id, domain.TaskFailed, func(t *domain.DownloadTask) error {
		if cause != nil {
			t.Error = cause.Error()
		} else {
			t.Error = "download failed"
		}
		return nil
	})
}

// UpdateProgress records progress for a downloading task. Values are clamped
// to [0, 1].
func (m *Manager) UpdateProgress(id string, progress float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	if task.State != domain.TaskDownloading {
		return &TransitionError{TaskID: id, From: task.State, To: domain.TaskDownloading}
	}
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}
	if task.Progress == progress {
		return nil
	}
	task.Progress = progress
	m.publishLocked()
	return nil
}

// transition applies a state change when the state machine allows it. mutate
// runs under the lock before the state is written; returning an error aborts
// the change.
func (m *Manager) transition(id string, to domain.TaskState, mutate func(*domain.DownloadTask) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	if !allowed(task.State, to) {
		logging.Debug("transition rejected", "task", id, "from", task.State, "to", to)
		return &TransitionError{TaskID: id, From: task.State, To: to}
	}

	updated := *task
	if mutate != nil {
		if err := mutate(&updated); err != nil {
			logging.Debug("transition rejected", "task", id, "from", task.State, "to", to)
			return err
		}
	}
	updated.State = to
	*task = updated
	m.publishLocked()
	return nil
}

// RemoveFromQueue deletes a task regardless of its state.
func (m *Manager) RemoveFromQueue(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("%s: %w", id, ErrTaskNotFound)
	}
	delete(m.tasks, id)
	m.removeOrderLocked(id)
	m.publishLocked()
	return nil
}

// ClearFinished drops completed and cancelled tasks and returns how many
// were removed. Failed tasks stay for retry.
func (m *Manager) ClearFinished() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	removed := 0
	for _, id := range m.order {
		state := m.tasks[id].State
		if state == domain.TaskCompleted || state == domain.TaskCancelled {
			delete(m.tasks, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	if removed > 0 {
		m.publishLocked()
	}
	return removed
}

// Restore loads a persisted queue, replacing the current one. Tasks that
// were mid-transfer come back as pending.
func (m *Manager) Restore(tasks []domain.DownloadTask) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.order = m.order[:0]
	m.tasks = make(map[string]*domain.DownloadTask, len(tasks))
	for _, task := range tasks {
		if task.ID == "" {
			continue
		}
		if _, dup := m.tasks[task.ID]; dup {
			logging.Warn("skipping duplicate persisted task", "task", task.ID)
			continue
		}
		if task.State == domain.TaskDownloading {
			task.State = domain.TaskPending
		}
		t := task
		m.tasks[t.ID] = &t
		m.order = append(m.order, t.ID)
	}
	m.publishLocked()
}

func (m *Manager) GetTask(id string) (domain.DownloadTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	task, ok := m.tasks[id]
	if !ok {
		return domain.DownloadTask{}, false
	}
	return *task, true
}

// FindByEpisode returns the first task that still owns the episode's
// download path. Failed tasks count, since they can be retried.
func (m *Manager) FindByEpisode(episodeID string) (domain.DownloadTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		task := m.tasks[id]
		if task.EpisodeID != episodeID {
			continue
		}
		if task.State != domain.TaskCompleted && task.State != domain.TaskCancelled {
			return *task, true
		}
	}
	return domain.DownloadTask{}, false
}

// NextPending returns the first pending task in queue order.
func (m *Manager) NextPending() (domain.DownloadTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range m.order {
		if task := m.tasks[id]; task.State == domain.TaskPending {
			return *task, true
		}
	}
	return domain.DownloadTask{}, false
}

// GetCurrentQueue returns a copy of the queue in order.
func (m *Manager) GetCurrentQueue() []domain.DownloadTask {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.DownloadTask, len(m.latest.Tasks))
	copy(out, m.latest.Tasks)
	return out
}

// Subscribe returns a channel that always holds the newest snapshot. Slow
// readers skip intermediate versions but never see them out of order. The
// returned func unsubscribes and closes the channel.
func (m *Manager) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	ch <- m.latest
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

func (m *Manager) removeOrderLocked(id string) {
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			return
		}
	}
}

func (m *Manager) publishLocked() {
	tasks := make([]domain.DownloadTask, 0, len(m.order))
	for _, id := range m.order {
		tasks = append(tasks, *m.tasks[id])
	}
	m.version++
	m.latest = Snapshot{Version: m.version, Tasks: tasks}

	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		ch <- m.latest
	}
}
