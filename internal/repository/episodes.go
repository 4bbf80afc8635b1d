package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"podstash/internal/domain"
	"podstash/internal/logging"
)

const episodeColumns = `id, podcast_id, podcast_title, title, description, published_at, duration_seconds, audio_url, artwork_url,
playback_position, played, download_status, favorited, bookmarked, archived, rating, date_added, orphaned, date_orphaned`

func (s *Store) loadEpisodes(ctx context.Context, q queryer, where string, args ...interface{}) ([]domain.Episode, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+episodeColumns+" FROM episodes "+where+" ORDER BY podcast_id, sort_index", args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	episodes := make([]domain.Episode, 0, 16)
	for rows.Next() {
		ep, err := scanEpisode(rows)
		if err != nil {
			logging.Warn("skipping unreadable episode record", "err", err)
			continue
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return episodes, nil
}

func scanEpisode(rows *sql.Rows) (domain.Episode, error) {
	var ep domain.Episode
	var published, dateOrphaned sql.NullString
	var rating sql.NullInt64
	var durationSeconds int64
	var played, favorited, bookmarked, archived, orphaned int
	var status, dateAdded string
	if err := rows.Scan(&ep.ID, &ep.PodcastID, &ep.PodcastTitle, &ep.Title, &ep.Description, &published,
		&durationSeconds, &ep.AudioURL, &ep.ArtworkURL, &ep.PlaybackPosition, &played, &status,
		&favorited, &bookmarked, &archived, &rating, &dateAdded, &orphaned, &dateOrphaned); err != nil {
		return domain.Episode{}, err
	}
	if ep.PlaybackPosition < 0 {
		ep.PlaybackPosition = 0
	}
	ep.PublishedAt = parseOptionalTime(published)
	ep.Duration = time.Duration(durationSeconds) * time.Second
	ep.IsPlayed = played != 0
	ep.DownloadStatus = domain.ParseDownloadStatus(status)
	ep.IsFavorited = favorited != 0
	ep.IsBookmarked = bookmarked != 0
	ep.IsArchived = archived != 0
	if rating.Valid && rating.Int64 >= 1 && rating.Int64 <= 5 {
		r := int(rating.Int64)
		ep.Rating = &r
	}
	if added, ok := parseTime(dateAdded); ok {
		ep.DateAdded = added
	}
	ep.IsOrphaned = orphaned != 0
	ep.DateOrphaned = parseOptionalTime(dateOrphaned)
	return ep, nil
}

// FindEpisode returns a single episode.
func (s *Store) FindEpisode(ctx context.Context, podcastID, episodeID string) (domain.Episode, error) {
	episodes, err := s.loadEpisodes(ctx, s.db, "WHERE podcast_id = ? AND id = ?", podcastID, episodeID)
	if err != nil {
		return domain.Episode{}, err
	}
	if len(episodes) == 0 {
		return domain.Episode{}, ErrNotFound
	}
	return episodes[0], nil
}

// LookupEpisode finds an episode by id alone. When several podcasts carry the
// same id the first match wins.
func (s *Store) LookupEpisode(ctx context.Context, episodeID string) (domain.Episode, error) {
	episodes, err := s.loadEpisodes(ctx, s.db, "WHERE id = ?", episodeID)
	if err != nil {
		return domain.Episode{}, err
	}
	if len(episodes) == 0 {
		return domain.Episode{}, ErrNotFound
	}
	return episodes[0], nil
}

// DownloadedEpisodes returns the episodes of a podcast whose media is on disk.
func (s *Store) DownloadedEpisodes(ctx context.Context, podcastID string) ([]domain.Episode, error) {
	return s.loadEpisodes(ctx, s.db, "WHERE podcast_id = ? AND download_status = ?", podcastID, string(domain.DownloadDone))
}

func (s *Store) SetPlaybackPosition(ctx context.Context, podcastID, episodeID string, seconds int) error {
	if seconds < 0 {
		return fmt.Errorf("playback position %d: %w", seconds, ErrInvalidValue)
	}
	return s.updateEpisode(ctx, podcastID, episodeID, "playback_position", seconds)
}

func (s *Store) SetPlayed(ctx context.Context, podcastID, episodeID string, played bool) error {
	return s.updateEpisode(ctx, podcastID, episodeID, "played", boolToInt(played))
}

func (s *Store) SetFavorited(ctx context.Context, podcastID, episodeID string, favorited bool) error {
	return s.updateEpisode(ctx, podcastID, episodeID, "favorited", boolToInt(favorited))
}

func (s *Store) SetBookmarked(ctx context.Context, podcastID, episodeID string, bookmarked bool) error {
	return s.updateEpisode(ctx, podcastID, episodeID, "bookmarked", boolToInt(bookmarked))
}

func (s *Store) SetArchived(ctx context.Context, podcastID, episodeID string, archived bool) error {
	return s.updateEpisode(ctx, podcastID, episodeID, "archived", boolToInt(archived))
}

// SetRating stores a 1-5 rating, or clears it when rating is nil.
func (s *Store) SetRating(ctx context.Context, podcastID, episodeID string, rating *int) error {
	if rating == nil {
		return s.updateEpisode(ctx, podcastID, episodeID, "rating", nil)
	}
	if *rating < 1 || *rating > 5 {
		return ErrInvalidRating
	}
	return s.updateEpisode(ctx, podcastID, episodeID, "rating", *rating)
}

func (s *Store) SetDownloadStatus(ctx context.Context, podcastID, episodeID string, status domain.DownloadStatus) error {
	return s.updateEpisode(ctx, podcastID, episodeID, "download_status", string(domain.ParseDownloadStatus(string(status))))
}

// updateEpisode writes one user-state column. column is always a constant
// from this file.
func (s *Store) updateEpisode(ctx context.Context, podcastID, episodeID, column string, value interface{}) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "UPDATE episodes SET "+column+" = ? WHERE podcast_id = ? AND id = ?", value, podcastID, episodeID)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}
