package autodownload

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"podstash/internal/domain"
	"podstash/internal/logging"
)

// Enqueuer accepts tasks produced by the service.
type Enqueuer interface {
	AddToQueue(task domain.DownloadTask) error
	FindByEpisode(episodeID string) (domain.DownloadTask, bool)
}

// OverrideStore persists explicit per-podcast settings. It is optional.
type OverrideStore interface {
	SaveAutoDownloadOverride(ctx context.Context, podcastID string, enabled bool) error
	LoadAutoDownloadOverrides(ctx context.Context) (map[string]bool, error)
}

const taskPrefix = "auto_"

// Service decides whether newly detected episodes are queued automatically.
type Service struct {
	mu        sync.RWMutex
	overrides map[string]bool
	queue     Enqueuer
	store     OverrideStore
}

func NewService(queue Enqueuer, store OverrideStore) *Service {
	return &Service{
		overrides: make(map[string]bool),
		queue:     queue,
		store:     store,
	}
}

// Load replaces the override map with the persisted one.
func (s *Service) Load(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	overrides, err := s.store.LoadAutoDownloadOverrides(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.overrides = overrides
	s.mu.Unlock()
	return nil
}

// SetAutoDownload records an explicit override for a podcast.
func (s *Service) SetAutoDownload(ctx context.Context, enabled bool, podcastID string) error {
	podcastID = strings.TrimSpace(podcastID)
	if s.store != nil {
		if err := s.store.SaveAutoDownloadOverride(ctx, podcastID, enabled); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.overrides[podcastID] = enabled
	s.mu.Unlock()
	return nil
}

// GetAutoDownloadSetting returns the explicit override, false when none is set.
func (s *Service) GetAutoDownloadSetting(podcastID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.overrides[podcastID]
}

// EnabledFor resolves the effective setting: the override when one exists,
// otherwise the subscription and podcast flags.
func (s *Service) EnabledFor(podcast domain.Podcast) bool {
	s.mu.RLock()
	override, ok := s.overrides[podcast.ID]
	s.mu.RUnlock()
	if ok {
		return override
	}
	return podcast.IsSubscribed && podcast.AutoDownloadEnabled
}

// OnNewEpisodeDetected queues episode when auto-download applies to its
// podcast. It reports whether a task was queued. Episodes already downloaded
// or already queued are skipped.
func (s *Service) OnNewEpisodeDetected(episode domain.Episode, podcast domain.Podcast) (bool, error) {
	if !s.EnabledFor(podcast) {
		return false, nil
	}
	if strings.TrimSpace(episode.AudioURL) == "" {
		logging.Debug("auto-download skipped, no audio url", "podcast", podcast.ID, "episode", episode.ID)
		return false, nil
	}
	if episode.DownloadStatus == domain.DownloadDone {
		return false, nil
	}
	if _, queued := s.queue.FindByEpisode(episode.ID); queued {
		return false, nil
	}

	task := domain.DownloadTask{
		ID:           taskPrefix + uuid.NewString(),
		EpisodeID:    episode.ID,
		PodcastID:    podcast.ID,
		PodcastTitle: podcast.Title,
		AudioURL:     episode.AudioURL,
		Title:        episode.Title,
		State:        domain.TaskPending,
		Priority:     domain.PriorityMedium,
	}
	if err := s.queue.AddToQueue(task); err != nil {
		return false, err
	}
	logging.Info("auto-download queued", "podcast", podcast.ID, "episode", episode.ID, "task", task.ID)
	return true, nil
}
