package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const indexSchema = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS pages (
    page_id      INTEGER PRIMARY KEY AUTOINCREMENT,
    url          TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    title        TEXT NOT NULL,
    token_count  INTEGER NOT NULL,
    fetched_at   TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_pages_url ON pages(url);
CREATE UNIQUE INDEX IF NOT EXISTS idx_pages_hash ON pages(content_hash);

CREATE TABLE IF NOT EXISTS runs (
    run_id       TEXT PRIMARY KEY,
    started_at   TIMESTAMP NOT NULL,
    finished_at  TIMESTAMP,
    status       TEXT NOT NULL,
    pages        INTEGER DEFAULT 0,
    chunks       INTEGER DEFAULT 0,
    summaries    INTEGER DEFAULT 0,
    total_tokens INTEGER DEFAULT 0,
    met_target   INTEGER DEFAULT 0
);
`

// Index is the sqlite catalog of stored pages and pipeline runs. It backs
// cross-run dedup (by content hash) and run bookkeeping; file payloads stay on
// disk, only metadata lives here.
type Index struct {
	db *sql.DB
}

// OpenIndex opens or creates the sqlite index at path.
func OpenIndex(path string) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if _, err := db.Exec(indexSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init index schema: %w", err)
	}
	return &Index{db: db}, nil
}

func (ix *Index) Close() error { return ix.db.Close() }

// RecordPage registers a stored page. Returns false without error when the
// content hash was already present, which callers treat as a duplicate.
func (ix *Index) RecordPage(url, contentHash, title string, tokenCount int) (bool, error) {
	res, err := ix.db.Exec(
		`INSERT OR IGNORE INTO pages (url, content_hash, title, token_count) VALUES (?, ?, ?, ?)`,
		url, contentHash, title, tokenCount,
	)
	if err != nil {
		return false, fmt.Errorf("record page: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record page: %w", err)
	}
	return n > 0, nil
}

// SeenHash reports whether a content hash is already indexed.
func (ix *Index) SeenHash(contentHash string) (bool, error) {
	var one int
	err := ix.db.QueryRow(`SELECT 1 FROM pages WHERE content_hash = ?`, contentHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup hash: %w", err)
	}
	return true, nil
}

// PageCount returns the number of indexed pages.
func (ix *Index) PageCount() (int, error) {
	var n int
	if err := ix.db.QueryRow(`SELECT COUNT(*) FROM pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pages: %w", err)
	}
	return n, nil
}

// RunRecord is one pipeline run's bookkeeping row.
type RunRecord struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	Status      string
	Pages       int
	Chunks      int
	Summaries   int
	TotalTokens int
	MetTarget   bool
}

// StartRun inserts a running row for the given run id.
func (ix *Index) StartRun(id string) error {
	_, err := ix.db.Exec(
		`INSERT INTO runs (run_id, started_at, status) VALUES (?, ?, 'running')`,
		id, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("start run: %w", err)
	}
	return nil
}

// FinishRun closes out a run row with its final counters.
func (ix *Index) FinishRun(rec RunRecord) error {
	met := 0
	if rec.MetTarget {
		met = 1
	}
	_, err := ix.db.Exec(
		`UPDATE runs SET finished_at = ?, status = ?, pages = ?, chunks = ?, summaries = ?, total_tokens = ?, met_target = ? WHERE run_id = ?`,
		time.Now().UTC(), rec.Status, rec.Pages, rec.Chunks, rec.Summaries, rec.TotalTokens, met, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// GetRun loads one run row by id.
func (ix *Index) GetRun(id string) (RunRecord, error) {
	var rec RunRecord
	var finished sql.NullTime
	var met int
	err := ix.db.QueryRow(
		`SELECT run_id, started_at, finished_at, status, pages, chunks, summaries, total_tokens, met_target FROM runs WHERE run_id = ?`,
		id,
	).Scan(&rec.ID, &rec.StartedAt, &finished, &rec.Status, &rec.Pages, &rec.Chunks, &rec.Summaries, &rec.TotalTokens, &met)
	if err != nil {
		return RunRecord{}, fmt.Errorf("get run: %w", err)
	}
	if finished.Valid {
		rec.FinishedAt = finished.Time
	}
	rec.MetTarget = met == 1
	return rec, nil
}
