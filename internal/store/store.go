// Package store is the Postgres persistence collaborator for parsed podcast
// feeds and their episodes. The parse pipeline itself never depends on this
// package; a caller wiring a TaskResult sink typically lands here.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"podcastcrawler/internal/feed"
)

// FeedRecord is a PodcastFeed as stored in the feeds table.
type FeedRecord struct {
	ID          int64     `json:"id"`
	URL         string    `json:"url"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Author      string    `json:"author,omitempty"`
	Language    string    `json:"language,omitempty"`
	Link        string    `json:"link,omitempty"`
	Image       string    `json:"image,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// EpisodeRecord is an Episode as stored in the episodes table, keyed by
// (feed_id, guid).
type EpisodeRecord struct {
	ID          int64      `json:"id"`
	FeedID      int64      `json:"feed_id"`
	GUID        string     `json:"guid"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	DurationMs  *int64     `json:"duration_ms,omitempty"`
	AudioURL    string     `json:"audio_url,omitempty"`
	Image       string     `json:"image,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Store provides the persistence operations parsed feeds need: atomic
// upsert-by-URL for the feed itself, and atomic upsert-by-(feed,guid) for
// its episodes.
type Store struct {
	db *sql.DB
}

// New wraps an already-opened *sql.DB.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertFeed inserts or updates the feed row for feedURL and returns the
// stored record, including its assigned ID.
func (s *Store) UpsertFeed(feedURL string, f *feed.PodcastFeed) (*FeedRecord, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO feeds (
			url, title, description, author, language, link, image, fetched_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, NOW()
		)
		ON CONFLICT (url) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			author = EXCLUDED.author,
			language = EXCLUDED.language,
			link = EXCLUDED.link,
			image = EXCLUDED.image,
			fetched_at = EXCLUDED.fetched_at,
			updated_at = NOW()
		RETURNING id, url, title, description, author, language, link, image,
				  fetched_at, created_at, updated_at`

	var rec FeedRecord
	err = tx.QueryRow(query, feedURL, f.Title, f.Description, f.Author, f.Language, f.Link, f.Image).Scan(
		&rec.ID, &rec.URL, &rec.Title, &rec.Description, &rec.Author, &rec.Language,
		&rec.Link, &rec.Image, &rec.FetchedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("store: upsert feed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit feed upsert: %w", err)
	}
	return &rec, nil
}

// UpsertEpisodes atomically upserts every episode in one transaction,
// keyed by (feed_id, guid).
func (s *Store) UpsertEpisodes(feedID int64, episodes []feed.Episode) ([]*EpisodeRecord, error) {
	if len(episodes) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("store: begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO episodes (
			feed_id, guid, title, description, published_at, duration_ms, audio_url, image
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
		ON CONFLICT (feed_id, guid) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			published_at = COALESCE(EXCLUDED.published_at, episodes.published_at),
			duration_ms = COALESCE(EXCLUDED.duration_ms, episodes.duration_ms),
			audio_url = EXCLUDED.audio_url,
			image = EXCLUDED.image,
			updated_at = NOW()
		RETURNING id, feed_id, guid, title, description, published_at,
				  duration_ms, audio_url, image, created_at, updated_at`)
	if err != nil {
		return nil, fmt.Errorf("store: prepare episode upsert: %w", err)
	}
	defer stmt.Close()

	results := make([]*EpisodeRecord, 0, len(episodes))
	for i, ep := range episodes {
		var publishedAt *time.Time
		if ep.HasDate {
			t := ep.PublishedAt
			publishedAt = &t
		}
		var durationMs *int64
		if ep.HasDuration {
			ms := ep.Duration.Milliseconds()
			durationMs = &ms
		}

		var rec EpisodeRecord
		err := stmt.QueryRow(feedID, ep.GUID, ep.Title, ep.Description, publishedAt, durationMs, ep.AudioURL, ep.Image).Scan(
			&rec.ID, &rec.FeedID, &rec.GUID, &rec.Title, &rec.Description, &rec.PublishedAt,
			&rec.DurationMs, &rec.AudioURL, &rec.Image, &rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("store: upsert episode %d (%s): %w", i, ep.GUID, err)
		}
		results = append(results, &rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit episode upsert: %w", err)
	}
	return results, nil
}

// GetFeedByURL fetches one feed row by its source URL.
func (s *Store) GetFeedByURL(feedURL string) (*FeedRecord, error) {
	const query = `
		SELECT id, url, title, description, author, language, link, image,
			   fetched_at, created_at, updated_at
		FROM feeds WHERE url = $1`

	var rec FeedRecord
	err := s.db.QueryRow(query, feedURL).Scan(
		&rec.ID, &rec.URL, &rec.Title, &rec.Description, &rec.Author, &rec.Language,
		&rec.Link, &rec.Image, &rec.FetchedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("store: feed %s not found", feedURL)
		}
		return nil, fmt.Errorf("store: get feed: %w", err)
	}
	return &rec, nil
}

// ListEpisodes returns episodes for feedID, most recently published first,
// with pagination.
func (s *Store) ListEpisodes(feedID int64, limit, offset int) ([]*EpisodeRecord, error) {
	const query = `
		SELECT id, feed_id, guid, title, description, published_at,
			   duration_ms, audio_url, image, created_at, updated_at
		FROM episodes
		WHERE feed_id = $1
		ORDER BY published_at DESC NULLS LAST
		LIMIT $2 OFFSET $3`

	rows, err := s.db.Query(query, feedID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("store: list episodes: %w", err)
	}
	defer rows.Close()

	var out []*EpisodeRecord
	for rows.Next() {
		var rec EpisodeRecord
		if err := rows.Scan(
			&rec.ID, &rec.FeedID, &rec.GUID, &rec.Title, &rec.Description, &rec.PublishedAt,
			&rec.DurationMs, &rec.AudioURL, &rec.Image, &rec.CreatedAt, &rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("store: scan episode: %w", err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: rows iteration: %w", err)
	}
	return out, nil
}

// CountFeeds returns the total number of distinct feeds stored.
func (s *Store) CountFeeds() (int64, error) {
	var count int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM feeds`).Scan(&count); err != nil {
		return 0, fmt.Errorf("store: count feeds: %w", err)
	}
	return count, nil
}

// Schema is the DDL applied at startup. Statements are idempotent
// (IF NOT EXISTS) so Migrate can run on every boot.
const Schema = `
CREATE TABLE IF NOT EXISTS feeds (
	id          BIGSERIAL PRIMARY KEY,
	url         TEXT NOT NULL UNIQUE,
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	author      TEXT NOT NULL DEFAULT '',
	language    TEXT NOT NULL DEFAULT '',
	link        TEXT NOT NULL DEFAULT '',
	image       TEXT NOT NULL DEFAULT '',
	fetched_at  TIMESTAMPTZ NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS episodes (
	id           BIGSERIAL PRIMARY KEY,
	feed_id      BIGINT NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
	guid         TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	description  TEXT NOT NULL DEFAULT '',
	published_at TIMESTAMPTZ,
	duration_ms  BIGINT,
	audio_url    TEXT NOT NULL DEFAULT '',
	image        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	UNIQUE (feed_id, guid)
);

CREATE INDEX IF NOT EXISTS idx_episodes_feed_published ON episodes (feed_id, published_at DESC);
`

// Migrate applies Schema. Safe to call on every process start.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(Schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}
