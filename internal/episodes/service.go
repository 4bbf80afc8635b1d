package episodes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"podstash/internal/domain"
	"podstash/internal/repository"
	"podstash/internal/search"
)

var ErrUnknownMark = errors.New("unknown episode mark")

// Mark names a boolean user-state flag.
type Mark string

const (
	MarkPlayed     Mark = "played"
	MarkFavorite   Mark = "favorite"
	MarkBookmarked Mark = "bookmark"
	MarkArchived   Mark = "archive"
)

func Marks() []Mark {
	return []Mark{MarkPlayed, MarkFavorite, MarkBookmarked, MarkArchived}
}

type Service struct {
	store *repository.Store
	index *search.Index
}

func NewService(store *repository.Store, index *search.Index) *Service {
	return &Service{store: store, index: index}
}

// List returns a podcast's episodes in feed order, orphans last.
func (s *Service) List(ctx context.Context, podcastID string) (domain.Podcast, []domain.Episode, error) {
	podcast, found, err := s.store.Find(ctx, strings.TrimSpace(podcastID))
	if err != nil {
		return domain.Podcast{}, nil, err
	}
	if !found {
		return domain.Podcast{}, nil, fmt.Errorf("podcast %s: %w", podcastID, repository.ErrNotFound)
	}
	return podcast, podcast.Episodes, nil
}

func (s *Service) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	if strings.TrimSpace(query) == "" {
		return []search.Result{}, nil
	}
	return s.index.Search(ctx, query, limit)
}

// Reindex rebuilds the search index from the store.
func (s *Service) Reindex(ctx context.Context) error {
	return s.index.RefreshAll(ctx)
}

// Lookup resolves an episode id across all podcasts.
func (s *Service) Lookup(ctx context.Context, episodeID string) (domain.Episode, error) {
	return s.store.LookupEpisode(ctx, strings.TrimSpace(episodeID))
}

func (s *Service) SetMark(ctx context.Context, episodeID string, mark Mark, on bool) (domain.Episode, error) {
	ep, err := s.Lookup(ctx, episodeID)
	if err != nil {
		return domain.Episode{}, err
	}
	switch mark {
	case MarkPlayed:
		err = s.store.SetPlayed(ctx, ep.PodcastID, ep.ID, on)
	case MarkFavorite:
		err = s.store.SetFavorited(ctx, ep.PodcastID, ep.ID, on)
	case MarkBookmarked:
		err = s.store.SetBookmarked(ctx, ep.PodcastID, ep.ID, on)
	case MarkArchived:
		err = s.store.SetArchived(ctx, ep.PodcastID, ep.ID, on)
	default:
		return domain.Episode{}, fmt.Errorf("%q: %w", mark, ErrUnknownMark)
	}
	if err != nil {
		return domain.Episode{}, err
	}
	return ep, nil
}

// SetRating stores a 1-5 rating; nil clears it.
func (s *Service) SetRating(ctx context.Context, episodeID string, rating *int) (domain.Episode, error) {
	ep, err := s.Lookup(ctx, episodeID)
	if err != nil {
		return domain.Episode{}, err
	}
	if err := s.store.SetRating(ctx, ep.PodcastID, ep.ID, rating); err != nil {
		return domain.Episode{}, err
	}
	return ep, nil
}

func (s *Service) SetPosition(ctx context.Context, episodeID string, seconds int) (domain.Episode, error) {
	ep, err := s.Lookup(ctx, episodeID)
	if err != nil {
		return domain.Episode{}, err
	}
	if err := s.store.SetPlaybackPosition(ctx, ep.PodcastID, ep.ID, seconds); err != nil {
		return domain.Episode{}, err
	}
	return ep, nil
}
