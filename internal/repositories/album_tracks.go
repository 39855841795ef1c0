package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/desertthunder/crowdspot/internal/services"
)

// AlbumTrackRepository implements [services.AlbumTrackStore] on SQLite.
//
// Tracks are stored as their JSON records, ordered by position within the album.
type AlbumTrackRepository struct {
	db *sql.DB
}

var _ services.AlbumTrackStore = (*AlbumTrackRepository)(nil)

// NewAlbumTrackRepository creates a new AlbumTrackRepository with the given database connection
func NewAlbumTrackRepository(db *sql.DB) *AlbumTrackRepository {
	return &AlbumTrackRepository{db: db}
}

// PutAlbumTracks replaces the stored first page of album.
func (r *AlbumTrackRepository) PutAlbumTracks(ctx context.Context, album services.SpotifyAlbum, page services.AlbumPage) error {
	artwork := ""
	if len(album.Images) > 0 {
		artwork = album.Images[0].URL
	}

	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO albums (id, name, artwork, next_url, updated_at) VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET name = excluded.name, artwork = excluded.artwork,
				next_url = excluded.next_url, updated_at = CURRENT_TIMESTAMP
		`, album.ID, album.Name, artwork, page.Next)
		if err != nil {
			return fmt.Errorf("failed to upsert album: %w", err)
		}

		if _, err := tx.ExecContext(ctx, "DELETE FROM album_tracks WHERE album_id = ?", album.ID); err != nil {
			return fmt.Errorf("failed to clear album tracks: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, "INSERT INTO album_tracks (album_id, position, track_id, payload) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, t := range page.Tracks {
			payload, err := json.Marshal(t)
			if err != nil {
				return fmt.Errorf("failed to encode track %s: %w", t.ID, err)
			}
			if _, err := stmt.ExecContext(ctx, album.ID, i, t.ID, string(payload)); err != nil {
				return fmt.Errorf("failed to insert track %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

// AlbumTracks returns the stored first page of albumID, tracks in album order.
// The boolean is false when the album was never stored.
func (r *AlbumTrackRepository) AlbumTracks(ctx context.Context, albumID string) (services.AlbumPage, bool, error) {
	var page services.AlbumPage
	err := r.db.QueryRowContext(ctx, "SELECT next_url FROM albums WHERE id = ?", albumID).Scan(&page.Next)
	if errors.Is(err, sql.ErrNoRows) {
		return page, false, nil
	}
	if err != nil {
		return page, false, fmt.Errorf("failed to look up album: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, "SELECT payload FROM album_tracks WHERE album_id = ? ORDER BY position", albumID)
	if err != nil {
		return page, false, fmt.Errorf("failed to query album tracks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return page, false, fmt.Errorf("failed to scan album track: %w", err)
		}
		var t services.SpotifyTrack
		if err := json.Unmarshal([]byte(payload), &t); err != nil {
			return page, false, fmt.Errorf("failed to decode album track: %w", err)
		}
		page.Tracks = append(page.Tracks, t)
	}
	if err := rows.Err(); err != nil {
		return page, false, err
	}
	return page, true, nil
}

// Stats reports how many albums and tracks are stored.
func (r *AlbumTrackRepository) Stats(ctx context.Context) (albums, tracks int, err error) {
	err = r.db.QueryRowContext(ctx, "SELECT (SELECT COUNT(*) FROM albums), (SELECT COUNT(*) FROM album_tracks)").Scan(&albums, &tracks)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count cache entries: %w", err)
	}
	return albums, tracks, nil
}

// Purge removes every stored album and track.
func (r *AlbumTrackRepository) Purge(ctx context.Context) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM album_tracks"); err != nil {
			return fmt.Errorf("failed to purge album tracks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM albums"); err != nil {
			return fmt.Errorf("failed to purge albums: %w", err)
		}
		return nil
	})
}
