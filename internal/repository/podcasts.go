package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"podstash/internal/domain"
	"podstash/internal/logging"
)

// Add inserts a podcast with its episodes. An existing id is left untouched
// and reported as created=false.
func (s *Store) Add(ctx context.Context, p domain.Podcast) (bool, error) {
	if err := validatePodcast(p); err != nil {
		return false, err
	}

	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		created, err = insertPodcast(ctx, tx, p)
		return err
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// Update replaces the stored podcast, its tag set and its episode set.
// Stored episodes missing from p.Episodes are deleted.
func (s *Store) Update(ctx context.Context, p domain.Podcast) error {
	if err := validatePodcast(p); err != nil {
		return err
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return updatePodcast(ctx, tx, p)
	})
}

// Merge reads a podcast and writes back what merge returns inside a single
// write transaction. found is false when no podcast with that id exists yet. Episode mutators issued meanwhile wait for the commit,
// so merge always sees current user state. created reports an insert.
// merge may run more than once when the database is busy.
func (s *Store) Merge(ctx context.Context, podcastID string, merge func(existing domain.Podcast, found bool) (domain.Podcast, error)) (bool, error) {
	if strings.TrimSpace(podcastID) == "" {
		return false, ErrMissingID
	}

	created := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		created = false

		// A write first, so the transaction holds the write lock before reading.
		if _, err := tx.ExecContext(ctx, "UPDATE podcasts SET title = title WHERE id = ?", podcastID); err != nil {
			return err
		}
		current, err := s.loadPodcasts(ctx, tx, "WHERE p.id = ?", podcastID)
		if err != nil {
			return err
		}
		var existing domain.Podcast
		found := len(current) > 0
		if found {
			existing = current[0]
		}

		merged, err := merge(existing, found)
		if err != nil {
			return err
		}
		if merged.ID != podcastID {
			return fmt.Errorf("merge of %s returned podcast %q: %w", podcastID, merged.ID, ErrInvalidValue)
		}
		if err := validatePodcast(merged); err != nil {
			return err
		}

		if found {
			return updatePodcast(ctx, tx, merged)
		}
		inserted, err := insertPodcast(ctx, tx, merged)
		if err != nil {
			return err
		}
		if !inserted {
			return fmt.Errorf("podcast %s: %w", podcastID, ErrCorruptRecord)
		}
		created = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// SetSubscribed flips the subscription flag without touching anything else.
func (s *Store) SetSubscribed(ctx context.Context, podcastID string, subscribed bool) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx, "UPDATE podcasts SET subscribed = ? WHERE id = ?", boolToInt(subscribed), podcastID)
		if err != nil {
			return err
		}
		if rows, _ := res.RowsAffected(); rows == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func insertPodcast(ctx context.Context, tx *sql.Tx, p domain.Podcast) (bool, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO podcasts
(id, title, author, description, feed_url, artwork_url, categories, subscribed, auto_download, date_added, folder_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO NOTHING`, podcastArgs(p)...)
	if err != nil {
		return false, err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return false, nil
	}

	if err := writeTags(ctx, tx, p.ID, p.TagIDs); err != nil {
		return false, err
	}
	for i, ep := range p.Episodes {
		if err := upsertEpisode(ctx, tx, p, ep, i); err != nil {
			return false, err
		}
	}
	return true, nil
}

func updatePodcast(ctx context.Context, tx *sql.Tx, p domain.Podcast) error {
	args := podcastArgs(p)
	res, err := tx.ExecContext(ctx, `UPDATE podcasts SET
title = ?,
author = ?,
description = ?,
feed_url = ?,
artwork_url = ?,
categories = ?,
subscribed = ?,
auto_download = ?,
date_added = ?,
folder_id = ?
WHERE id = ?`, append(args[1:], p.ID)...)
	if err != nil {
		return err
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM podcast_tags WHERE podcast_id = ?", p.ID); err != nil {
		return err
	}
	if err := writeTags(ctx, tx, p.ID, p.TagIDs); err != nil {
		return err
	}

	keep := make(map[string]bool, len(p.Episodes))
	for _, ep := range p.Episodes {
		keep[ep.ID] = true
	}
	stale, err := episodeIDs(ctx, tx, p.ID)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if keep[id] {
			continue
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM episodes WHERE podcast_id = ? AND id = ?", p.ID, id); err != nil {
			return err
		}
	}

	for i, ep := range p.Episodes {
		if err := upsertEpisode(ctx, tx, p, ep, i); err != nil {
			return err
		}
	}
	return nil
}

// Remove deletes a podcast together with its episodes and tags.
func (s *Store) Remove(ctx context.Context, podcastID string) (bool, error) {
	if strings.TrimSpace(podcastID) == "" {
		return false, ErrMissingID
	}
	removed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM episodes WHERE podcast_id = ?", podcastID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM podcast_tags WHERE podcast_id = ?", podcastID); err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM podcasts WHERE id = ?", podcastID)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		removed = affected > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	return removed, nil
}

// Find returns the podcast with its episodes. The boolean is false when the
// id is unknown or the stored record is unreadable.
func (s *Store) Find(ctx context.Context, podcastID string) (domain.Podcast, bool, error) {
	podcasts, err := s.loadPodcasts(ctx, s.db, "WHERE p.id = ?", podcastID)
	if err != nil {
		return domain.Podcast{}, false, err
	}
	if len(podcasts) == 0 {
		return domain.Podcast{}, false, nil
	}
	return podcasts[0], true, nil
}

// All returns every readable podcast ordered by title.
func (s *Store) All(ctx context.Context) ([]domain.Podcast, error) {
	return s.loadPodcasts(ctx, s.db, "")
}

func (s *Store) InFolder(ctx context.Context, folderID string) ([]domain.Podcast, error) {
	return s.loadPodcasts(ctx, s.db, "WHERE p.folder_id = ?", folderID)
}

func (s *Store) WithTag(ctx context.Context, tagID string) ([]domain.Podcast, error) {
	return s.loadPodcasts(ctx, s.db, "WHERE p.id IN (SELECT podcast_id FROM podcast_tags WHERE tag_id = ?)", tagID)
}

func validatePodcast(p domain.Podcast) error {
	if strings.TrimSpace(p.ID) == "" {
		return ErrMissingID
	}
	for _, ep := range p.Episodes {
		if strings.TrimSpace(ep.ID) == "" {
			return fmt.Errorf("podcast %s: episode %w", p.ID, ErrMissingID)
		}
	}
	return nil
}

func podcastArgs(p domain.Podcast) []interface{} {
	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}
	encoded, _ := json.Marshal(categories)

	dateAdded := p.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}

	var folder interface{}
	if p.FolderID != nil {
		folder = *p.FolderID
	}

	return []interface{}{
		p.ID,
		strings.TrimSpace(p.Title),
		p.Author,
		p.Description,
		p.FeedURL,
		p.ArtworkURL,
		string(encoded),
		boolToInt(p.IsSubscribed),
		boolToInt(p.AutoDownloadEnabled),
		formatTime(dateAdded),
		folder,
	}
}

func writeTags(ctx context.Context, tx *sql.Tx, podcastID string, tags []string) error {
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, "INSERT OR IGNORE INTO podcast_tags (podcast_id, tag_id) VALUES (?, ?)", podcastID, tag); err != nil {
			return err
		}
	}
	return nil
}

func episodeIDs(ctx context.Context, tx *sql.Tx, podcastID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx, "SELECT id FROM episodes WHERE podcast_id = ?", podcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func upsertEpisode(ctx context.Context, tx *sql.Tx, p domain.Podcast, ep domain.Episode, index int) error {
	status := ep.DownloadStatus
	if status == "" {
		status = domain.DownloadNone
	}
	dateAdded := ep.DateAdded
	if dateAdded.IsZero() {
		dateAdded = time.Now().UTC()
	}
	var rating interface{}
	if ep.Rating != nil {
		rating = *ep.Rating
	}
	podcastTitle := ep.PodcastTitle
	if podcastTitle == "" {
		podcastTitle = p.Title
	}

	_, err := tx.ExecContext(ctx, `INSERT INTO episodes
(id, podcast_id, podcast_title, title, description, published_at, duration_seconds, audio_url, artwork_url,
 playback_position, played, download_status, favorited, bookmarked, archived, rating, date_added, orphaned, date_orphaned, sort_index)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(podcast_id, id) DO UPDATE SET
podcast_title = excluded.podcast_title,
title = excluded.title,
description = excluded.description,
published_at = excluded.published_at,
duration_seconds = excluded.duration_seconds,
audio_url = excluded.audio_url,
artwork_url = excluded.artwork_url,
playback_position = excluded.playback_position,
played = excluded.played,
download_status = excluded.download_status,
favorited = excluded.favorited,
bookmarked = excluded.bookmarked,
archived = excluded.archived,
rating = excluded.rating,
date_added = excluded.date_added,
orphaned = excluded.orphaned,
date_orphaned = excluded.date_orphaned,
sort_index = excluded.sort_index`,
		ep.ID, p.ID, podcastTitle, ep.Title, ep.Description, formatOptionalTime(ep.PublishedAt),
		int64(ep.Duration/time.Second), ep.AudioURL, ep.ArtworkURL,
		ep.PlaybackPosition, boolToInt(ep.IsPlayed), string(status), boolToInt(ep.IsFavorited),
		boolToInt(ep.IsBookmarked), boolToInt(ep.IsArchived), rating, formatTime(dateAdded),
		boolToInt(ep.IsOrphaned), formatOptionalTime(ep.DateOrphaned), index)
	return err
}

func (s *Store) loadPodcasts(ctx context.Context, q queryer, where string, args ...interface{}) ([]domain.Podcast, error) {
	rows, err := q.QueryContext(ctx, `SELECT p.id, p.title, p.author, p.description, p.feed_url, p.artwork_url,
p.categories, p.subscribed, p.auto_download, p.date_added, p.folder_id
FROM podcasts p `+where+`
ORDER BY LOWER(p.title), p.id`, args...)
	if err != nil {
		return nil, err
	}

	podcasts := make([]domain.Podcast, 0, 8)
	for rows.Next() {
		p, err := scanPodcast(rows)
		if err != nil {
			logging.Warn("skipping unreadable podcast record", "err", err)
			continue
		}
		podcasts = append(podcasts, p)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, err
	}

	for i := range podcasts {
		episodes, err := s.loadEpisodes(ctx, q, "WHERE podcast_id = ?", podcasts[i].ID)
		if err != nil {
			return nil, err
		}
		podcasts[i].Episodes = episodes

		tags, err := loadTags(ctx, q, podcasts[i].ID)
		if err != nil {
			return nil, err
		}
		podcasts[i].TagIDs = tags
	}
	return podcasts, nil
}

func scanPodcast(rows *sql.Rows) (domain.Podcast, error) {
	var p domain.Podcast
	var categories, dateAdded string
	var subscribed, autoDownload int
	var folder sql.NullString
	if err := rows.Scan(&p.ID, &p.Title, &p.Author, &p.Description, &p.FeedURL, &p.ArtworkURL,
		&categories, &subscribed, &autoDownload, &dateAdded, &folder); err != nil {
		return domain.Podcast{}, err
	}
	if err := json.Unmarshal([]byte(categories), &p.Categories); err != nil {
		return domain.Podcast{}, fmt.Errorf("podcast %s categories: %v: %w", p.ID, err, ErrCorruptRecord)
	}
	added, ok := parseTime(dateAdded)
	if !ok {
		return domain.Podcast{}, fmt.Errorf("podcast %s: invalid date_added %q: %w", p.ID, dateAdded, ErrCorruptRecord)
	}
	p.DateAdded = added
	p.IsSubscribed = subscribed != 0
	p.AutoDownloadEnabled = autoDownload != 0
	if folder.Valid {
		p.FolderID = domain.StringPtr(folder.String)
	}
	return p, nil
}

func loadTags(ctx context.Context, q queryer, podcastID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT tag_id FROM podcast_tags WHERE podcast_id = ? ORDER BY tag_id", podcastID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tags := make([]string, 0, 4)
	for rows.Next() {
		var tag string
		if err := rows.Scan(&tag); err != nil {
			return nil, err
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}
