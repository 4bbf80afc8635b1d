package search

import (
	"context"
	"database/sql"
	"strings"
)

// Result is one episode match.
type Result struct {
	EpisodeID    string
	PodcastID    string
	PodcastTitle string
	Title        string
}

// Index maintains the episode_search FTS5 table.
type Index struct {
	db *sql.DB
}

func New(db *sql.DB) *Index {
	return &Index{db: db}
}

// RefreshAll rebuilds the index from the episodes table.
func (i *Index) RefreshAll(ctx context.Context) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM episode_search"); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO episode_search (episode_id, podcast_id, podcast_title, title, description)
SELECT id, podcast_id, podcast_title, title, description FROM episodes`); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

// Search runs a prefix match over podcast title, episode title and
// description, best matches first.
func (i *Index) Search(ctx context.Context, query string, limit int) ([]Result, error) {
	match := buildMatch(query)
	if match == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := i.db.QueryContext(ctx, `SELECT episode_id, podcast_id, podcast_title, title
FROM episode_search WHERE episode_search MATCH ?
ORDER BY rank LIMIT ?`, match, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]Result, 0, 16)
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.EpisodeID, &r.PodcastID, &r.PodcastTitle, &r.Title); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// buildMatch quotes every term so user input cannot inject FTS5 syntax.
func buildMatch(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.ReplaceAll(f, `"`, "")
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"*`)
	}
	return strings.Join(terms, " ")
}
