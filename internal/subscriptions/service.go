package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"podstash/internal/domain"
	"podstash/internal/feeds"
	"podstash/internal/logging"
	"podstash/internal/opml"
	"podstash/internal/reconcile"
	"podstash/internal/repository"
)

var (
	ErrMissingPodcastID        = errors.New("podcast ID cannot be empty")
	ErrMissingFeedURL          = errors.New("podcast feed URL missing")
	ErrAlreadySubscribed       = errors.New("already subscribed")
	ErrNotSubscribed           = errors.New("not subscribed")
	ErrNoSubscriptionsToExport = errors.New("no subscriptions to export")
	ErrNoSubscriptionsInOPML   = errors.New("no subscriptions found in OPML file")
)

// FeedSource fetches and converts a remote feed.
type FeedSource interface {
	Fetch(ctx context.Context, feedURL string) (domain.Podcast, []domain.Episode, error)
}

// NewEpisodeHandler receives the outcome of every successful reconcile.
type NewEpisodeHandler interface {
	HandleReconciled(ctx context.Context, podcast domain.Podcast, result reconcile.MergeResult) int
}

type SubscribeResult struct {
	PodcastID string
	Title     string
	Added     int
	Queued    int
}

type RefreshResult struct {
	PodcastID string
	Title     string
	Merge     reconcile.MergeResult
	Queued    int
}

// RefreshSummary aggregates a refresh over every subscription.
type RefreshSummary struct {
	Refreshed int
	Added     int
	Orphaned  int
	Skipped   int
	Queued    int
	Failed    []string
}

// Partial reports whether some feeds or feed items could not be loaded.
func (s RefreshSummary) Partial() bool {
	return len(s.Failed) > 0 || s.Skipped > 0
}

type ImportResult struct {
	Imported int
	Skipped  int
	Errors   []string
}

type Service struct {
	store       *repository.Store
	reconciler  *reconcile.Reconciler
	source      FeedSource
	handler     NewEpisodeHandler
	concurrency int
}

func NewService(store *repository.Store, reconciler *reconcile.Reconciler, source FeedSource, handler NewEpisodeHandler, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{
		store:       store,
		reconciler:  reconciler,
		source:      source,
		handler:     handler,
		concurrency: concurrency,
	}
}

// Subscriptions lists subscribed podcasts ordered by title.
func (s *Service) Subscriptions(ctx context.Context) ([]domain.Podcast, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return nil, err
	}
	subscribed := make([]domain.Podcast, 0, len(all))
	for _, p := range all {
		if p.IsSubscribed {
			subscribed = append(subscribed, p)
		}
	}
	sort.SliceStable(subscribed, func(i, j int) bool {
		return strings.ToLower(subscribed[i].Title) < strings.ToLower(subscribed[j].Title)
	})
	return subscribed, nil
}

func (s *Service) Subscribe(ctx context.Context, feedURL string) (SubscribeResult, error) {
	return s.subscribe(ctx, feedURL, nil)
}

func (s *Service) subscribe(ctx context.Context, feedURL string, folderID *string) (SubscribeResult, error) {
	feedURL = strings.TrimSpace(feedURL)
	if feedURL == "" {
		return SubscribeResult{}, ErrMissingFeedURL
	}

	podcastID := feeds.PodcastID(feedURL)
	existing, found, err := s.store.Find(ctx, podcastID)
	if err != nil {
		return SubscribeResult{}, err
	}
	if found && existing.IsSubscribed {
		return SubscribeResult{PodcastID: podcastID, Title: existing.Title}, ErrAlreadySubscribed
	}

	podcast, episodes, err := s.source.Fetch(ctx, feedURL)
	if err != nil {
		return SubscribeResult{}, err
	}
	podcast.ID = podcastID
	podcast.IsSubscribed = true
	podcast.FolderID = folderID

	result, err := s.reconciler.Reconcile(ctx, podcast, episodes)
	if err != nil {
		return SubscribeResult{}, err
	}
	if found && !existing.IsSubscribed {
		if err := s.reconciler.SetSubscribed(ctx, podcastID, true); err != nil {
			return SubscribeResult{}, err
		}
	}

	queued := s.afterReconcile(ctx, podcastID, result)
	logging.Info("subscribed", "podcast", podcastID, "feed", feedURL, "episodes", result.Added)
	return SubscribeResult{PodcastID: podcastID, Title: podcast.Title, Added: result.Added, Queued: queued}, nil
}

func (s *Service) Unsubscribe(ctx context.Context, podcastID string) (bool, error) {
	podcastID = strings.TrimSpace(podcastID)
	if podcastID == "" {
		return false, ErrMissingPodcastID
	}
	removed, err := s.reconciler.Remove(ctx, podcastID)
	if err != nil {
		return false, err
	}
	if removed {
		logging.Info("unsubscribed", "podcast", podcastID)
	}
	return removed, nil
}

// Refresh fetches one subscription's feed and merges it into the store.
func (s *Service) Refresh(ctx context.Context, podcastID string) (RefreshResult, error) {
	podcastID = strings.TrimSpace(podcastID)
	if podcastID == "" {
		return RefreshResult{}, ErrMissingPodcastID
	}
	podcast, found, err := s.store.Find(ctx, podcastID)
	if err != nil {
		return RefreshResult{}, err
	}
	if !found || !podcast.IsSubscribed {
		return RefreshResult{}, fmt.Errorf("%s: %w", podcastID, ErrNotSubscribed)
	}
	return s.refresh(ctx, podcast)
}

func (s *Service) refresh(ctx context.Context, stored domain.Podcast) (RefreshResult, error) {
	if strings.TrimSpace(stored.FeedURL) == "" {
		return RefreshResult{}, fmt.Errorf("%s: %w", stored.ID, ErrMissingFeedURL)
	}
	fetched, episodes, err := s.source.Fetch(ctx, stored.FeedURL)
	if err != nil {
		return RefreshResult{}, err
	}
	fetched.ID = stored.ID

	merge, err := s.reconciler.Reconcile(ctx, fetched, episodes)
	if err != nil {
		return RefreshResult{}, err
	}
	queued := s.afterReconcile(ctx, stored.ID, merge)
	title := fetched.Title
	if title == "" {
		title = stored.Title
	}
	return RefreshResult{PodcastID: stored.ID, Title: title, Merge: merge, Queued: queued}, nil
}

// afterReconcile hands the merge outcome to the download side with the
// stored podcast, whose local settings the feed does not carry.
func (s *Service) afterReconcile(ctx context.Context, podcastID string, result reconcile.MergeResult) int {
	if s.handler == nil || len(result.NewEpisodes()) == 0 {
		return 0
	}
	podcast, found, err := s.store.Find(ctx, podcastID)
	if err != nil || !found {
		logging.Warn("reload podcast after reconcile", "podcast", podcastID, "err", err)
		return 0
	}
	return s.handler.HandleReconciled(ctx, podcast, result)
}

// RefreshAll refreshes every subscription with bounded parallelism. A feed
// that fails is recorded in the summary and does not stop the others.
func (s *Service) RefreshAll(ctx context.Context) (RefreshSummary, error) {
	podcasts, err := s.Subscriptions(ctx)
	if err != nil {
		return RefreshSummary{}, err
	}

	var (
		mu      sync.Mutex
		summary RefreshSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, p := range podcasts {
		p := p
		g.Go(func() error {
			result, err := s.refresh(gctx, p)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logging.Warn("refresh feed", "podcast", p.ID, "feed", p.FeedURL, "err", err)
				summary.Failed = append(summary.Failed, p.Title)
				return nil
			}
			summary.Refreshed++
			summary.Added += result.Merge.Added
			summary.Orphaned += result.Merge.Orphaned
			summary.Skipped += result.Merge.Skipped
			summary.Queued += result.Queued
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	sort.Strings(summary.Failed)
	return summary, nil
}

func (s *Service) ExportOPML(ctx context.Context, filePath string) (int, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return 0, errors.New("file path cannot be empty")
	}

	podcasts, err := s.Subscriptions(ctx)
	if err != nil {
		return 0, err
	}
	if len(podcasts) == 0 {
		return 0, ErrNoSubscriptionsToExport
	}

	file, err := os.Create(filePath)
	if err != nil {
		return 0, fmt.Errorf("create file: %w", err)
	}
	defer file.Close()

	if err := opml.Write(file, podcasts); err != nil {
		return 0, err
	}
	return len(podcasts), nil
}

// ImportOPML subscribes to every feed in the file. Feeds nested in an
// outline folder are placed in that folder.
func (s *Service) ImportOPML(ctx context.Context, filePath string) (ImportResult, error) {
	filePath = strings.TrimSpace(filePath)
	if filePath == "" {
		return ImportResult{}, errors.New("file path cannot be empty")
	}

	file, err := os.Open(filePath)
	if err != nil {
		return ImportResult{}, fmt.Errorf("open file: %w", err)
	}
	defer file.Close()

	entries, err := opml.Read(file)
	if err != nil {
		return ImportResult{}, err
	}
	if len(entries) == 0 {
		return ImportResult{}, ErrNoSubscriptionsInOPML
	}

	var result ImportResult
	for _, entry := range entries {
		var folder *string
		if entry.Folder != "" {
			folder = domain.StringPtr(entry.Folder)
		}
		_, err := s.subscribe(ctx, entry.FeedURL, folder)
		switch {
		case errors.Is(err, ErrAlreadySubscribed):
			result.Skipped++
		case err != nil:
			name := entry.Title
			if name == "" {
				name = entry.FeedURL
			}
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", name, err))
		default:
			result.Imported++
		}
	}
	return result, nil
}
