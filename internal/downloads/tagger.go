package downloads

import (
	"os"
	"strings"

	"github.com/bogem/id3v2"

	"podstash/internal/domain"
)

// tagEpisode writes title, artist and album frames to a downloaded MP3.
// Existing non-empty frames are kept.
func tagEpisode(filePath string, task domain.DownloadTask) error {
	tag, err := id3v2.Open(filePath, id3v2.Options{Parse: true})
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		tag = id3v2.NewEmptyTag()
	}
	defer tag.Close()

	changed := false
	if strings.TrimSpace(tag.Title()) == "" && task.Title != "" {
		tag.SetTitle(task.Title)
		changed = true
	}
	if strings.TrimSpace(tag.Album()) == "" && task.PodcastTitle != "" {
		tag.SetAlbum(task.PodcastTitle)
		changed = true
	}
	if strings.TrimSpace(tag.Artist()) == "" && task.PodcastTitle != "" {
		tag.SetArtist(task.PodcastTitle)
		changed = true
	}
	if !changed {
		return nil
	}
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)
	return tag.Save()
}
