package domain

import "testing"

func TestHasUserState(t *testing.T) {
	rating := 4
	tests := []struct {
		name    string
		episode Episode
		want    bool
	}{
		{"defaults", Episode{}, false},
		{"explicit not downloaded", Episode{DownloadStatus: DownloadNone}, false},
		{"position", Episode{PlaybackPosition: 12}, true},
		{"played", Episode{IsPlayed: true}, true},
		{"downloaded", Episode{DownloadStatus: DownloadDone}, true},
		{"failed download", Episode{DownloadStatus: DownloadFailed}, true},
		{"favorited", Episode{IsFavorited: true}, true},
		{"bookmarked", Episode{IsBookmarked: true}, true},
		{"archived", Episode{IsArchived: true}, true},
		{"rated", Episode{Rating: &rating}, true},
		{"orphaned only", Episode{IsOrphaned: true}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.episode.HasUserState(); got != tt.want {
				t.Errorf("HasUserState() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseDownloadStatusDefaultsUnknown(t *testing.T) {
	tests := map[string]DownloadStatus{
		"downloaded":    DownloadDone,
		"paused":        DownloadPaused,
		"notDownloaded": DownloadNone,
		"":              DownloadNone,
		"exploded":      DownloadNone,
	}
	for raw, want := range tests {
		if got := ParseDownloadStatus(raw); got != want {
			t.Errorf("ParseDownloadStatus(%q) = %q, want %q", raw, got, want)
		}
	}
}

func TestCopyUserStateKeepsMetadata(t *testing.T) {
	rating := 2
	stored := Episode{ID: "e", Title: "old", PlaybackPosition: 30, IsFavorited: true, Rating: &rating}
	incoming := Episode{ID: "e", Title: "new"}

	merged := incoming.CopyUserState(stored)
	if merged.Title != "new" {
		t.Errorf("title = %q, want new", merged.Title)
	}
	if merged.PlaybackPosition != 30 || !merged.IsFavorited || merged.Rating == nil || *merged.Rating != 2 {
		t.Errorf("user state not copied: %+v", merged)
	}
}
