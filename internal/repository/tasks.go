package repository

import (
	"context"
	"database/sql"
	"time"

	"podstash/internal/domain"
	"podstash/internal/logging"
)

// SaveTasks replaces the persisted download queue with tasks, keeping their order.
func (s *Store) SaveTasks(ctx context.Context, tasks []domain.DownloadTask) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM download_tasks"); err != nil {
			return err
		}
		for i, task := range tasks {
			var size interface{}
			if task.EstimatedSize != nil {
				size = *task.EstimatedSize
			}
			createdAt := task.CreatedAt
			if createdAt.IsZero() {
				createdAt = time.Now().UTC()
			}
			if _, err := tx.ExecContext(ctx, `INSERT INTO download_tasks
(id, position, episode_id, podcast_id, podcast_title, audio_url, title, state, priority, progress, retry_count, error, estimated_size, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				task.ID, i, task.EpisodeID, task.PodcastID, task.PodcastTitle, task.AudioURL, task.Title,
				string(task.State), task.Priority, task.Progress, task.RetryCount, task.Error, size, formatTime(createdAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

// LoadTasks returns the persisted queue in order. Unreadable rows are skipped.
func (s *Store) LoadTasks(ctx context.Context) ([]domain.DownloadTask, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, episode_id, podcast_id, podcast_title, audio_url, title, state,
priority, progress, retry_count, error, estimated_size, created_at
FROM download_tasks ORDER BY position`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := make([]domain.DownloadTask, 0, 16)
	for rows.Next() {
		var task domain.DownloadTask
		var state, createdAt string
		var size sql.NullInt64
		if err := rows.Scan(&task.ID, &task.EpisodeID, &task.PodcastID, &task.PodcastTitle, &task.AudioURL, &task.Title,
			&state, &task.Priority, &task.Progress, &task.RetryCount, &task.Error, &size, &createdAt); err != nil {
			logging.Warn("skipping unreadable download task", "err", err)
			continue
		}
		task.State = domain.ParseTaskState(state)
		if size.Valid {
			v := size.Int64
			task.EstimatedSize = &v
		}
		if parsed, ok := parseTime(createdAt); ok {
			task.CreatedAt = parsed
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tasks, nil
}

func (s *Store) SaveAutoDownloadOverride(ctx context.Context, podcastID string, enabled bool) error {
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, `INSERT INTO auto_download_overrides (podcast_id, enabled) VALUES (?, ?)
ON CONFLICT(podcast_id) DO UPDATE SET enabled = excluded.enabled`, podcastID, boolToInt(enabled))
		return err
	})
}

func (s *Store) LoadAutoDownloadOverrides(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT podcast_id, enabled FROM auto_download_overrides")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	overrides := make(map[string]bool)
	for rows.Next() {
		var id string
		var enabled int
		if err := rows.Scan(&id, &enabled); err != nil {
			logging.Warn("skipping unreadable auto-download override", "err", err)
			continue
		}
		overrides[id] = enabled != 0
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return overrides, nil
}
