package domain

import "time"

// TaskState is the lifecycle state of a DownloadTask.
type TaskState string

const (
	TaskPending     TaskState = "pending"
	TaskDownloading TaskState = "downloading"
	TaskPaused      TaskState = "paused"
	TaskCompleted   TaskState = "completed"
	TaskFailed      TaskState = "failed"
	TaskCancelled   TaskState = "cancelled"
)

// ParseTaskState decodes a persisted task state, defaulting to pending.
func ParseTaskState(raw string) TaskState {
	switch state := TaskState(raw); state {
	case TaskDownloading, TaskPaused, TaskCompleted, TaskFailed, TaskCancelled:
		return state
	default:
		return TaskPending
	}
}

// Terminal reports whether no further transitions besides removal or retry apply.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

const (
	PriorityLow    = 0
	PriorityMedium = 5

	// PriorityHigh is the default for downloads requested by the user.
	PriorityHigh = 10
)

type DownloadTask struct {
	ID            string
	EpisodeID     string
	PodcastID     string
	PodcastTitle  string
	AudioURL      string
	Title         string
	State         TaskState
	Priority      int
	Progress      float64
	RetryCount    int
	Error         string
	EstimatedSize *int64
	CreatedAt     time.Time
}

// ProgressEvent is emitted by a download executor for a running task.
type ProgressEvent struct {
	TaskID   string
	Progress float64
	State    TaskState
	Err      error
}
