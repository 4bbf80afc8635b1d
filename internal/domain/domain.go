package domain

import (
	"strings"
	"time"
)

// DownloadStatus is the per-episode download state persisted with the episode.
type DownloadStatus string

const (
	DownloadNone       DownloadStatus = "notDownloaded"
	DownloadInProgress DownloadStatus = "downloading"
	DownloadDone       DownloadStatus = "downloaded"
	DownloadPaused     DownloadStatus = "paused"
	DownloadFailed     DownloadStatus = "failed"
)

// ParseDownloadStatus decodes a persisted value. Unknown values map to
// DownloadNone instead of failing.
func ParseDownloadStatus(raw string) DownloadStatus {
	switch DownloadStatus(strings.TrimSpace(raw)) {
	case DownloadInProgress:
		return DownloadInProgress
	case DownloadDone:
		return DownloadDone
	case DownloadPaused:
		return DownloadPaused
	case DownloadFailed:
		return DownloadFailed
	default:
		return DownloadNone
	}
}

type Podcast struct {
	ID                  string
	Title               string
	Author              string
	Description         string
	FeedURL             string
	ArtworkURL          string
	Categories          []string
	IsSubscribed        bool
	AutoDownloadEnabled bool
	DateAdded           time.Time

	// FolderID and TagIDs are left untouched by reconciliation when nil.
	FolderID *string
	TagIDs   []string
	Episodes []Episode
}

type Episode struct {
	ID           string
	PodcastID    string
	PodcastTitle string
	Title        string
	Description  string
	PublishedAt  *time.Time
	Duration     time.Duration
	AudioURL     string
	ArtworkURL   string

	PlaybackPosition int
	IsPlayed         bool
	DownloadStatus   DownloadStatus
	IsFavorited      bool
	IsBookmarked     bool
	IsArchived       bool
	Rating           *int
	DateAdded        time.Time
	IsOrphaned       bool
	DateOrphaned     *time.Time
}

// HasUserState reports whether any field set by a human action differs from
// its default. Orphaned episodes without user state are deleted.
func (e Episode) HasUserState() bool {
	return e.PlaybackPosition > 0 ||
		e.IsPlayed ||
		(e.DownloadStatus != "" && e.DownloadStatus != DownloadNone) ||
		e.IsFavorited ||
		e.IsBookmarked ||
		e.IsArchived ||
		e.Rating != nil
}

// CopyUserState returns e with every user-state field taken from src.
func (e Episode) CopyUserState(src Episode) Episode {
	e.PlaybackPosition = src.PlaybackPosition
	e.IsPlayed = src.IsPlayed
	e.DownloadStatus = src.DownloadStatus
	e.IsFavorited = src.IsFavorited
	e.IsBookmarked = src.IsBookmarked
	e.IsArchived = src.IsArchived
	e.Rating = src.Rating
	e.DateAdded = src.DateAdded
	return e
}

// ResetUserState returns e with all user-state fields at their defaults.
func (e Episode) ResetUserState() Episode {
	e.PlaybackPosition = 0
	e.IsPlayed = false
	e.DownloadStatus = DownloadNone
	e.IsFavorited = false
	e.IsBookmarked = false
	e.IsArchived = false
	e.Rating = nil
	e.IsOrphaned = false
	e.DateOrphaned = nil
	return e
}

// EpisodeByID returns the episode with the given id from the podcast.
func (p Podcast) EpisodeByID(id string) (Episode, bool) {
	for _, ep := range p.Episodes {
		if ep.ID == id {
			return ep, true
		}
	}
	return Episode{}, false
}

// StringPtr is a helper for optional string fields.
func StringPtr(v string) *string {
	return &v
}
