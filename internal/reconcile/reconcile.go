package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"podstash/internal/domain"
	"podstash/internal/logging"
)

var ErrMissingPodcastID = errors.New("podcast ID cannot be empty")

// Store is the subset of the entity store the reconciler writes through.
type Store interface {
	LockPodcast(podcastID string) func()
	// Merge loads the podcast and stores merge's result atomically with
	// respect to other writers.
	Merge(ctx context.Context, podcastID string, merge func(existing domain.Podcast, found bool) (domain.Podcast, error)) (bool, error)
	Add(ctx context.Context, p domain.Podcast) (bool, error)
	Update(ctx context.Context, p domain.Podcast) error
	SetSubscribed(ctx context.Context, podcastID string, subscribed bool) error
	Remove(ctx context.Context, podcastID string) (bool, error)
}

// Indexer is refreshed after every successful write.
type Indexer interface {
	RefreshAll(ctx context.Context) error
}

// MergeResult summarises a single reconcile pass.
type MergeResult struct {
	PodcastID string
	Created   bool
	Added     int
	Updated   int
	Removed   int
	Orphaned  int
	Restored  int
	Skipped   int

	added []domain.Episode
}

// NewEpisodes returns the episodes inserted by the pass, in feed order.
func (r MergeResult) NewEpisodes() []domain.Episode {
	out := make([]domain.Episode, len(r.added))
	copy(out, r.added)
	return out
}

type Reconciler struct {
	store   Store
	indexer Indexer
	now     func() time.Time
}

func New(store Store, indexer Indexer) *Reconciler {
	return &Reconciler{store: store, indexer: indexer, now: time.Now}
}

// SetClock replaces the time source used for orphan and dateAdded stamps.
func (r *Reconciler) SetClock(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Reconcile merges freshly fetched podcast metadata and episodes into the
// store. User state on known episodes is kept. Stored episodes missing from
// incoming are deleted, or kept as orphans when they carry user state.
func (r *Reconciler) Reconcile(ctx context.Context, podcast domain.Podcast, incoming []domain.Episode) (MergeResult, error) {
	podcastID := strings.TrimSpace(podcast.ID)
	if podcastID == "" {
		return MergeResult{}, ErrMissingPodcastID
	}
	podcast.ID = podcastID

	unlock := r.store.LockPodcast(podcastID)
	defer unlock()

	now := r.now().UTC()
	var result MergeResult
	created, err := r.store.Merge(ctx, podcastID, func(existing domain.Podcast, found bool) (domain.Podcast, error) {
		merged := mergePodcast(existing, found, podcast, now)
		merged.Episodes, result = mergeEpisodes(existing.Episodes, incoming, merged, now)
		return merged, nil
	})
	if err != nil {
		logging.Warn("reconcile write rolled back", "podcast", podcastID, "err", err)
		return MergeResult{}, err
	}
	result.PodcastID = podcastID
	result.Created = created

	logging.Debug("reconciled podcast", "podcast", podcastID, "added", result.Added, "updated", result.Updated,
		"removed", result.Removed, "orphaned", result.Orphaned, "skipped", result.Skipped)
	r.refresh(ctx)
	return result, nil
}

// Add inserts a podcast as-is. A podcast id that already exists is left
// untouched and reported as false.
func (r *Reconciler) Add(ctx context.Context, podcast domain.Podcast) (bool, error) {
	if strings.TrimSpace(podcast.ID) == "" {
		return false, ErrMissingPodcastID
	}
	unlock := r.store.LockPodcast(podcast.ID)
	defer unlock()

	created, err := r.store.Add(ctx, podcast)
	if err != nil {
		return false, err
	}
	if created {
		r.refresh(ctx)
	}
	return created, nil
}

// Update overwrites a stored podcast and its episode set.
func (r *Reconciler) Update(ctx context.Context, podcast domain.Podcast) error {
	if strings.TrimSpace(podcast.ID) == "" {
		return ErrMissingPodcastID
	}
	unlock := r.store.LockPodcast(podcast.ID)
	defer unlock()

	if err := r.store.Update(ctx, podcast); err != nil {
		return err
	}
	r.refresh(ctx)
	return nil
}

// SetSubscribed changes only the subscription flag of a stored podcast.
func (r *Reconciler) SetSubscribed(ctx context.Context, podcastID string, subscribed bool) error {
	podcastID = strings.TrimSpace(podcastID)
	if podcastID == "" {
		return ErrMissingPodcastID
	}
	unlock := r.store.LockPodcast(podcastID)
	defer unlock()

	return r.store.SetSubscribed(ctx, podcastID, subscribed)
}

func (r *Reconciler) Remove(ctx context.Context, podcastID string) (bool, error) {
	podcastID = strings.TrimSpace(podcastID)
	if podcastID == "" {
		return false, ErrMissingPodcastID
	}
	unlock := r.store.LockPodcast(podcastID)
	defer unlock()

	removed, err := r.store.Remove(ctx, podcastID)
	if err != nil {
		return false, err
	}
	if removed {
		r.refresh(ctx)
	}
	return removed, nil
}

func (r *Reconciler) refresh(ctx context.Context) {
	if r.indexer == nil {
		return
	}
	if err := r.indexer.RefreshAll(ctx); err != nil {
		logging.Warn("index refresh failed", "err", err)
	}
}

func mergePodcast(existing domain.Podcast, found bool, incoming domain.Podcast, now time.Time) domain.Podcast {
	merged := incoming
	merged.Episodes = nil
	if !found {
		if merged.DateAdded.IsZero() {
			merged.DateAdded = now
		}
		return merged
	}

	merged.DateAdded = existing.DateAdded
	merged.IsSubscribed = existing.IsSubscribed
	merged.AutoDownloadEnabled = existing.AutoDownloadEnabled
	if incoming.FolderID == nil {
		merged.FolderID = existing.FolderID
	}
	if incoming.TagIDs == nil {
		merged.TagIDs = existing.TagIDs
	}
	if strings.TrimSpace(merged.Title) == "" {
		merged.Title = existing.Title
	}
	return merged
}

func mergeEpisodes(stored, incoming []domain.Episode, podcast domain.Podcast, now time.Time) ([]domain.Episode, MergeResult) {
	var result MergeResult

	storedByID := make(map[string]domain.Episode, len(stored))
	for _, ep := range stored {
		storedByID[ep.ID] = ep
	}

	seen := make(map[string]bool, len(incoming))
	merged := make([]domain.Episode, 0, len(incoming)+len(stored))
	for _, ep := range incoming {
		ep.ID = strings.TrimSpace(ep.ID)
		if ep.ID == "" || seen[ep.ID] {
			result.Skipped++
			continue
		}
		seen[ep.ID] = true
		ep.PodcastID = podcast.ID
		ep.PodcastTitle = podcast.Title

		old, ok := storedByID[ep.ID]
		if !ok {
			ep = ep.ResetUserState()
			if ep.DateAdded.IsZero() {
				ep.DateAdded = now
			}
			result.Added++
			result.added = append(result.added, ep)
			merged = append(merged, ep)
			continue
		}

		ep = ep.CopyUserState(old)
		if old.IsOrphaned {
			result.Restored++
		} else {
			result.Updated++
		}
		ep.IsOrphaned = false
		ep.DateOrphaned = nil
		merged = append(merged, ep)
	}

	for _, old := range stored {
		if seen[old.ID] {
			continue
		}
		if !old.HasUserState() {
			result.Removed++
			continue
		}
		if !old.IsOrphaned {
			result.Orphaned++
		}
		old.IsOrphaned = true
		if old.DateOrphaned == nil {
			stamp := now
			old.DateOrphaned = &stamp
		}
		merged = append(merged, old)
	}

	return merged, result
}
