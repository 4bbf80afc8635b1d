package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Open initialises the SQLite database and applies the base schema.
// Pragmas are passed through the DSN so every pooled connection gets them.
func Open(path string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func applySchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS podcasts (
            id TEXT PRIMARY KEY,
            title TEXT NOT NULL,
            author TEXT NOT NULL DEFAULT '',
            description TEXT NOT NULL DEFAULT '',
            feed_url TEXT NOT NULL,
            artwork_url TEXT NOT NULL DEFAULT '',
            categories TEXT NOT NULL DEFAULT '[]',
            subscribed INTEGER NOT NULL DEFAULT 1,
            auto_download INTEGER NOT NULL DEFAULT 0,
            date_added TEXT NOT NULL,
            folder_id TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS podcast_tags (
            podcast_id TEXT NOT NULL REFERENCES podcasts(id) ON DELETE CASCADE,
            tag_id TEXT NOT NULL,
            PRIMARY KEY (podcast_id, tag_id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_podcast_tags_tag ON podcast_tags(tag_id);`,
		`CREATE INDEX IF NOT EXISTS idx_podcasts_folder ON podcasts(folder_id);`,
		`CREATE TABLE IF NOT EXISTS episodes (
            id TEXT NOT NULL,
            podcast_id TEXT NOT NULL REFERENCES podcasts(id) ON DELETE CASCADE,
            podcast_title TEXT NOT NULL DEFAULT '',
            title TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            published_at TEXT,
            duration_seconds INTEGER NOT NULL DEFAULT 0,
            audio_url TEXT NOT NULL DEFAULT '',
            artwork_url TEXT NOT NULL DEFAULT '',
            playback_position INTEGER NOT NULL DEFAULT 0,
            played INTEGER NOT NULL DEFAULT 0,
            download_status TEXT NOT NULL DEFAULT 'notDownloaded',
            favorited INTEGER NOT NULL DEFAULT 0,
            bookmarked INTEGER NOT NULL DEFAULT 0,
            archived INTEGER NOT NULL DEFAULT 0,
            rating INTEGER,
            date_added TEXT NOT NULL,
            orphaned INTEGER NOT NULL DEFAULT 0,
            date_orphaned TEXT,
            sort_index INTEGER NOT NULL DEFAULT 0,
            PRIMARY KEY (podcast_id, id)
        );`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_status ON episodes(download_status);`,
		`CREATE TABLE IF NOT EXISTS download_tasks (
            id TEXT PRIMARY KEY,
            position INTEGER NOT NULL,
            episode_id TEXT NOT NULL,
            podcast_id TEXT NOT NULL,
            podcast_title TEXT NOT NULL DEFAULT '',
            audio_url TEXT NOT NULL,
            title TEXT NOT NULL DEFAULT '',
            state TEXT NOT NULL,
            priority INTEGER NOT NULL DEFAULT 0,
            progress REAL NOT NULL DEFAULT 0,
            retry_count INTEGER NOT NULL DEFAULT 0,
            error TEXT NOT NULL DEFAULT '',
            estimated_size INTEGER,
            created_at TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS auto_download_overrides (
            podcast_id TEXT PRIMARY KEY,
            enabled INTEGER NOT NULL
        );`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS episode_search USING fts5(
            episode_id UNINDEXED,
            podcast_id UNINDEXED,
            podcast_title,
            title,
            description
        );`,
		`CREATE TABLE IF NOT EXISTS metadata (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`,
		`INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');`,
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}

	return nil
}
