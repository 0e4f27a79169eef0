// Package history persists completed analyses in SQLite, keyed by the
// analysis fingerprint so identical runs are served from cache instead
// of re-invoking the models.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skycam/skycover/pkg/types"
)

// ErrNotFound reports a cache miss for an analysis fingerprint.
var ErrNotFound = errors.New("analysis not found")

// Entry is one cached analysis.
type Entry struct {
	ID           int64
	AnalysisHash string
	FileName     string
	MediaType    types.MediaType
	ROIMethod    types.ROIMethod
	AnalyzedAt   time.Time
	Result       types.AnalysisResult
}

// Store is a SQLite-backed analysis cache.
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS analysis_history (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	analysis_hash TEXT NOT NULL UNIQUE,
	file_name     TEXT NOT NULL,
	media_type    TEXT NOT NULL,
	roi_method    TEXT NOT NULL,
	analyzed_at   TEXT NOT NULL,
	coverage      REAL NOT NULL,
	okta          INTEGER NOT NULL,
	sky_condition TEXT NOT NULL,
	dominant_type TEXT NOT NULL,
	confidences   TEXT NOT NULL,
	predictions   TEXT NOT NULL,
	frame_count   INTEGER NOT NULL,
	original_path TEXT NOT NULL,
	mask_path     TEXT NOT NULL,
	overlay_path  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_analyzed_at ON analysis_history(analyzed_at);
`

// Open opens (and if needed creates) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}
	// modernc sqlite serializes writes itself; a single connection avoids
	// SQLITE_BUSY under concurrent batch items
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Find looks up a cached analysis by fingerprint.
func (s *Store) Find(ctx context.Context, analysisHash string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, analysis_hash, file_name, media_type, roi_method, analyzed_at,
		       coverage, okta, sky_condition, dominant_type, confidences, predictions,
		       frame_count, original_path, mask_path, overlay_path
		FROM analysis_history WHERE analysis_hash = ?`, analysisHash)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	return entry, nil
}

// Insert stores a completed analysis. A concurrent run of the same
// fingerprint may have inserted first; the earlier row wins and the
// duplicate is silently dropped.
func (s *Store) Insert(ctx context.Context, e *Entry) error {
	confidences, err := json.Marshal(e.Result.Confidences)
	if err != nil {
		return fmt.Errorf("encoding confidences: %w", err)
	}
	predictions, err := json.Marshal(e.Result.Predictions)
	if err != nil {
		return fmt.Errorf("encoding predictions: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_history (
			analysis_hash, file_name, media_type, roi_method, analyzed_at,
			coverage, okta, sky_condition, dominant_type, confidences, predictions,
			frame_count, original_path, mask_path, overlay_path
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(analysis_hash) DO NOTHING`,
		e.AnalysisHash, e.FileName, string(e.MediaType), string(e.ROIMethod),
		e.AnalyzedAt.UTC().Format(time.RFC3339),
		e.Result.Coverage, e.Result.Okta, e.Result.SkyCondition,
		e.Result.DominantCloudType, string(confidences), string(predictions),
		e.Result.FrameCount,
		e.Result.Artifacts.Original, e.Result.Artifacts.Mask, e.Result.Artifacts.Overlay,
	)
	if err != nil {
		return fmt.Errorf("inserting history entry: %w", err)
	}
	return nil
}

// List returns the most recent entries, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, analysis_hash, file_name, media_type, roi_method, analyzed_at,
		       coverage, okta, sky_condition, dominant_type, confidences, predictions,
		       frame_count, original_path, mask_path, overlay_path
		FROM analysis_history ORDER BY analyzed_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// Delete removes an entry and returns its artifact paths so the caller
// can clean up the files on disk.
func (s *Store) Delete(ctx context.Context, id int64) (types.ArtifactPaths, error) {
	var paths types.ArtifactPaths
	row := s.db.QueryRowContext(ctx,
		`SELECT original_path, mask_path, overlay_path FROM analysis_history WHERE id = ?`, id)
	if err := row.Scan(&paths.Original, &paths.Mask, &paths.Overlay); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return paths, ErrNotFound
		}
		return paths, fmt.Errorf("querying entry %d: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM analysis_history WHERE id = ?`, id); err != nil {
		return paths, fmt.Errorf("deleting entry %d: %w", id, err)
	}
	return paths, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e           Entry
		mediaType   string
		roiMethod   string
		analyzedAt  string
		confidences string
		predictions string
	)
	err := row.Scan(
		&e.ID, &e.AnalysisHash, &e.FileName, &mediaType, &roiMethod, &analyzedAt,
		&e.Result.Coverage, &e.Result.Okta, &e.Result.SkyCondition,
		&e.Result.DominantCloudType, &confidences, &predictions, &e.Result.FrameCount,
		&e.Result.Artifacts.Original, &e.Result.Artifacts.Mask, &e.Result.Artifacts.Overlay,
	)
	if err != nil {
		return nil, err
	}
	e.MediaType = types.MediaType(mediaType)
	e.ROIMethod = types.ROIMethod(roiMethod)
	if t, err := time.Parse(time.RFC3339, analyzedAt); err == nil {
		e.AnalyzedAt = t
	}
	if confidences != "" && confidences != "null" {
		if err := json.Unmarshal([]byte(confidences), &e.Result.Confidences); err != nil {
			return nil, fmt.Errorf("decoding confidences: %w", err)
		}
	}
	if predictions != "" && predictions != "null" {
		if err := json.Unmarshal([]byte(predictions), &e.Result.Predictions); err != nil {
			return nil, fmt.Errorf("decoding predictions: %w", err)
		}
	}
	return &e, nil
}
