package feeds

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const sampleFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:itunes="http://www.itunes.com/dtds/podcast-1.0.dtd">
  <channel>
    <title>Example Show</title>
    <description>All about examples</description>
    <itunes:author>Jane Host</itunes:author>
    <itunes:image href="http://example.com/art.jpg"/>
    <itunes:category text="Technology"/>
    <item>
      <guid>ep-1</guid>
      <title>First</title>
      <description>The first one</description>
      <pubDate>Mon, 02 Jan 2006 15:04:05 -0700</pubDate>
      <itunes:duration>01:02:03</itunes:duration>
      <enclosure url="http://example.com/ep1.mp3" type="audio/mpeg" length="100"/>
    </item>
    <item>
      <title>No guid</title>
      <itunes:duration>90</itunes:duration>
      <enclosure url="http://example.com/ep2.m4a" type="audio/x-m4a" length="100"/>
    </item>
  </channel>
</rss>`

func TestFetch(t *testing.T) {
	var gotAgent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAgent = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/rss+xml")
		w.Write([]byte(sampleFeed))
	}))
	defer server.Close()

	src := NewSource(server.Client(), "podstash/test")
	podcast, episodes, err := src.Fetch(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if gotAgent != "podstash/test" {
		t.Errorf("user agent = %q", gotAgent)
	}
	if podcast.ID != PodcastID(server.URL) || podcast.Title != "Example Show" || podcast.Author != "Jane Host" {
		t.Errorf("unexpected podcast: %+v", podcast)
	}
	if podcast.ArtworkURL != "http://example.com/art.jpg" {
		t.Errorf("artwork = %q", podcast.ArtworkURL)
	}
	if len(podcast.Categories) != 1 || podcast.Categories[0] != "Technology" {
		t.Errorf("categories = %v", podcast.Categories)
	}

	if len(episodes) != 2 {
		t.Fatalf("expected 2 episodes, got %d", len(episodes))
	}
	first := episodes[0]
	if first.ID != "ep-1" || first.AudioURL != "http://example.com/ep1.mp3" || first.PodcastID != podcast.ID {
		t.Errorf("unexpected first episode: %+v", first)
	}
	if first.Duration != time.Hour+2*time.Minute+3*time.Second {
		t.Errorf("duration = %v", first.Duration)
	}
	if first.PublishedAt == nil || first.PublishedAt.Year() != 2006 {
		t.Errorf("published = %v", first.PublishedAt)
	}
	if episodes[1].ID != "http://example.com/ep2.m4a" {
		t.Errorf("fallback id = %q, want enclosure url", episodes[1].ID)
	}
	if episodes[1].Duration != 90*time.Second {
		t.Errorf("duration = %v", episodes[1].Duration)
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer server.Close()

	if _, _, err := NewSource(nil, "").Fetch(context.Background(), server.URL); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}

func TestParseDuration(t *testing.T) {
	tests := map[string]time.Duration{
		"":        0,
		"45":      45 * time.Second,
		"02:30":   150 * time.Second,
		"1:00:00": time.Hour,
		"abc":     0,
		"1:2:3:4": 0,
		"-5":      0,
		" 10:00 ": 10 * time.Minute,
	}
	for raw, want := range tests {
		if got := parseDuration(raw); got != want {
			t.Errorf("parseDuration(%q) = %v, want %v", raw, got, want)
		}
	}
}
