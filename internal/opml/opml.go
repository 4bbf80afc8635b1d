package opml

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
	"time"

	"podstash/internal/domain"
)

type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title,omitempty"`
	DateCreated string `xml:"dateCreated,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Type     string    `xml:"type,attr,omitempty"`
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	XMLURL   string    `xml:"xmlUrl,attr,omitempty"`
	Outlines []outline `xml:"outline"`
}

// Feed is one subscription read from an OPML document.
type Feed struct {
	Title   string
	FeedURL string
	Folder  string
}

// Write encodes the podcasts as a flat OPML 2.0 subscription list.
func Write(w io.Writer, podcasts []domain.Podcast) error {
	doc := document{
		Version: "2.0",
		Head: head{
			Title:       "podstash subscriptions",
			DateCreated: time.Now().UTC().Format(time.RFC1123Z),
		},
		Body: body{Outlines: make([]outline, 0, len(podcasts))},
	}
	for _, p := range podcasts {
		if strings.TrimSpace(p.FeedURL) == "" {
			continue
		}
		doc.Body.Outlines = append(doc.Body.Outlines, outline{
			Type:   "rss",
			Text:   p.Title,
			Title:  p.Title,
			XMLURL: p.FeedURL,
		})
	}

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode OPML: %w", err)
	}
	return nil
}

// Read decodes an OPML document. Outlines nested under a folder outline
// carry the folder's text. Duplicate feed URLs are reported once.
func Read(r io.Reader) ([]Feed, error) {
	var doc document
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode OPML: %w", err)
	}

	seen := make(map[string]bool)
	var feeds []Feed
	var walk func(items []outline, folder string)
	walk = func(items []outline, folder string) {
		for _, item := range items {
			url := strings.TrimSpace(item.XMLURL)
			if url == "" {
				walk(item.Outlines, firstNonEmpty(item.Title, item.Text, folder))
				continue
			}
			if seen[url] {
				continue
			}
			seen[url] = true
			feeds = append(feeds, Feed{
				Title:   firstNonEmpty(item.Title, item.Text),
				FeedURL: url,
				Folder:  folder,
			})
		}
	}
	walk(doc.Body.Outlines, "")
	return feeds, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
