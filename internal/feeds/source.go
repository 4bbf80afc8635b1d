package feeds

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"podstash/internal/domain"
)

// Source fetches a podcast feed and maps it onto domain records. Episode
// user state is left at its zero value; the reconciler owns it.
type Source struct {
	client    *http.Client
	userAgent string
	parser    *gofeed.Parser
}

func NewSource(client *http.Client, userAgent string) *Source {
	if client == nil {
		client = http.DefaultClient
	}
	return &Source{client: client, userAgent: userAgent, parser: gofeed.NewParser()}
}

// PodcastID derives the stable podcast id for a feed URL.
func PodcastID(feedURL string) string {
	return fmt.Sprintf("%x", sha256.Sum256([]byte(strings.TrimSpace(feedURL))))[:16]
}

// Fetch downloads and parses the feed at feedURL.
func (s *Source) Fetch(ctx context.Context, feedURL string) (domain.Podcast, []domain.Episode, error) {
	feedURL = strings.TrimSpace(feedURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return domain.Podcast{}, nil, err
	}
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.Podcast{}, nil, fmt.Errorf("fetch feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.Podcast{}, nil, fmt.Errorf("fetch feed failed: %s", resp.Status)
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		return domain.Podcast{}, nil, fmt.Errorf("parse feed: %w", err)
	}

	podcast := convertFeed(feed, feedURL)
	episodes := make([]domain.Episode, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		episodes = append(episodes, convertItem(item, podcast))
	}
	return podcast, episodes, nil
}

func convertFeed(feed *gofeed.Feed, feedURL string) domain.Podcast {
	podcast := domain.Podcast{
		ID:           PodcastID(feedURL),
		Title:        fallback(feed.Title, feedURL),
		Description:  strings.TrimSpace(feed.Description),
		FeedURL:      feedURL,
		Categories:   append([]string{}, feed.Categories...),
		IsSubscribed: true,
	}
	if feed.Author != nil {
		podcast.Author = strings.TrimSpace(feed.Author.Name)
	}
	if feed.Image != nil {
		podcast.ArtworkURL = strings.TrimSpace(feed.Image.URL)
	}
	if ext := feed.ITunesExt; ext != nil {
		if podcast.Author == "" {
			podcast.Author = strings.TrimSpace(ext.Author)
		}
		if podcast.ArtworkURL == "" {
			podcast.ArtworkURL = strings.TrimSpace(ext.Image)
		}
		for _, c := range ext.Categories {
			if c != nil && c.Text != "" {
				podcast.Categories = appendUnique(podcast.Categories, c.Text)
			}
		}
	}
	return podcast
}

func convertItem(item *gofeed.Item, podcast domain.Podcast) domain.Episode {
	ep := domain.Episode{
		ID:           episodeID(item, podcast.Title),
		PodcastID:    podcast.ID,
		PodcastTitle: podcast.Title,
		Title:        strings.TrimSpace(item.Title),
		Description:  strings.TrimSpace(fallback(item.Description, item.Content)),
		AudioURL:     audioURL(item),
	}
	if item.PublishedParsed != nil {
		t := item.PublishedParsed.UTC()
		ep.PublishedAt = &t
	} else if item.UpdatedParsed != nil {
		t := item.UpdatedParsed.UTC()
		ep.PublishedAt = &t
	}
	if item.Image != nil {
		ep.ArtworkURL = strings.TrimSpace(item.Image.URL)
	}
	if ext := item.ITunesExt; ext != nil {
		ep.Duration = parseDuration(ext.Duration)
		if ep.ArtworkURL == "" {
			ep.ArtworkURL = strings.TrimSpace(ext.Image)
		}
	}
	return ep
}

// episodeID prefers the GUID, then the enclosure, then the link.
func episodeID(item *gofeed.Item, podcastTitle string) string {
	if guid := strings.TrimSpace(item.GUID); guid != "" {
		return guid
	}
	if enclosure := audioURL(item); enclosure != "" {
		return enclosure
	}
	if link := strings.TrimSpace(item.Link); link != "" {
		return link
	}
	return fmt.Sprintf("%s:%s", podcastTitle, strings.TrimSpace(item.Title))
}

func audioURL(item *gofeed.Item) string {
	var first string
	for _, enc := range item.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		if strings.HasPrefix(enc.Type, "audio/") {
			return strings.TrimSpace(enc.URL)
		}
		if first == "" {
			first = strings.TrimSpace(enc.URL)
		}
	}
	return first
}

// parseDuration accepts itunes:duration values: plain seconds, MM:SS or
// HH:MM:SS. Anything else is zero.
func parseDuration(raw string) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	parts := strings.Split(raw, ":")
	if len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}

func fallback(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}
