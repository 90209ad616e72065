package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// FTSKeywordIndex is a SparseIndex over SQLite FTS5. Unlike the bleve
// backend it runs in WAL mode, so concurrent readers from other processes
// work.
type FTSKeywordIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    SparseConfig
	closed    bool
	stopWords map[string]struct{}
}

var _ SparseIndex = (*FTSKeywordIndex)(nil)

const ftsSchema = `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY
);

-- BM25-scored full-text table. doc_id and dataset_id are stored but not
-- searchable; content holds pre-tokenized text (camelCase/snake_case split
-- happens in Go, not in the FTS tokenizer).
CREATE VIRTUAL TABLE IF NOT EXISTS fts_content USING fts5(
	doc_id UNINDEXED,
	dataset_id UNINDEXED,
	content,
	tokenize='unicode61'
);

-- Companion rowset for AllIDs; FTS5 tables cannot be enumerated cheaply.
CREATE TABLE IF NOT EXISTS doc_ids (
	doc_id TEXT PRIMARY KEY,
	dataset_id TEXT NOT NULL DEFAULT ''
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// NewFTSKeywordIndex opens or creates an FTS5 index at path; an empty path
// gives an in-memory index for tests. A corrupted database is removed and
// recreated empty so the next sync can refill it.
func NewFTSKeywordIndex(path string, config SparseConfig) (*FTSKeywordIndex, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		if verr := checkFTSIntegrity(path); verr != nil {
			if err := clearCorruptFTS(path, verr); err != nil {
				return nil, err
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := openFTSDatabase(dsn)
	if err != nil {
		return nil, err
	}

	idx := &FTSKeywordIndex{
		db:        db,
		path:      path,
		config:    config,
		stopWords: BuildStopWordMap(config.StopWords),
	}
	if _, err := db.Exec(ftsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return idx, nil
}

func openFTSDatabase(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection: one writer avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// modernc.org/sqlite ignores some DSN params; set pragmas explicitly.
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}
	return db, nil
}

// checkFTSIntegrity runs a read-only integrity check and verifies the FTS
// table exists before the database is opened for real.
func checkFTSIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer func() { _ = db.Close() }()

	var verdict string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&verdict); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if verdict != "ok" {
		return fmt.Errorf("database corrupted: %s", verdict)
	}

	var n int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
                       WHERE type='table' AND name='fts_content'`).Scan(&n)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("FTS5 table 'fts_content' missing")
	}
	return nil
}

func clearCorruptFTS(path string, cause error) error {
	slog.Warn("fts_index_corrupted",
		slog.String("path", path),
		slog.String("error", cause.Error()))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("sparse index corrupted at %s and cannot remove: %w (original error: %v)", path, err, cause)
	}
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")
	slog.Info("fts_index_cleared",
		slog.String("path", path),
		slog.String("reason", "corruption detected, please resync"))
	return nil
}

// ftsTokens applies the same tokenization used on both sides of a match:
// code-aware splitting followed by stop word removal.
func (s *FTSKeywordIndex) ftsTokens(text string) []string {
	return FilterStopWords(TokenizeCode(text), s.stopWords)
}

// Index upserts documents in one transaction. FTS5 virtual tables have no
// REPLACE, so each document is deleted before insert.
func (s *FTSKeywordIndex) Index(ctx context.Context, docs []*SparseDocument) error {
	if len(docs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := map[string]string{
		"del":   `DELETE FROM fts_content WHERE doc_id = ?`,
		"fts":   `INSERT INTO fts_content(doc_id, dataset_id, content) VALUES (?, ?, ?)`,
		"docid": `INSERT OR REPLACE INTO doc_ids(doc_id, dataset_id) VALUES (?, ?)`,
	}
	prepared := make(map[string]*sql.Stmt, len(stmts))
	for name, q := range stmts {
		st, err := tx.PrepareContext(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to prepare %s statement: %w", name, err)
		}
		defer func() { _ = st.Close() }()
		prepared[name] = st
	}

	for _, doc := range docs {
		content := strings.Join(s.ftsTokens(doc.Content), " ")
		if _, err := prepared["del"].ExecContext(ctx, doc.ID); err != nil {
			return fmt.Errorf("failed to delete existing document %s: %w", doc.ID, err)
		}
		if _, err := prepared["fts"].ExecContext(ctx, doc.ID, doc.DatasetID, content); err != nil {
			return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
		}
		if _, err := prepared["docid"].ExecContext(ctx, doc.ID, doc.DatasetID); err != nil {
			return fmt.Errorf("failed to track document ID %s: %w", doc.ID, err)
		}
	}
	return tx.Commit()
}

// Search returns BM25-scored matches. The query text goes through the same
// tokenization as indexed content; terms are ANDed by FTS5.
func (s *FTSKeywordIndex) Search(ctx context.Context, q SparseQuery, limit int) ([]*SparseResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(q.Text) == "" {
		return []*SparseResult{}, nil
	}

	tokens := s.ftsTokens(q.Text)
	if len(tokens) == 0 {
		return []*SparseResult{}, nil
	}

	sqlQuery := `SELECT doc_id, bm25(fts_content) AS score
		FROM fts_content WHERE content MATCH ?`
	args := []any{strings.Join(tokens, " ")}

	if len(q.Datasets) > 0 {
		in, dsArgs := sqlInClause(q.Datasets)
		sqlQuery += " AND dataset_id IN " + in
		args = append(args, dsArgs...)
	}

	// bm25() is negative with lower = better; sort ascending, negate later.
	sqlQuery += " ORDER BY score LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		// FTS5 rejects some query strings outright; treat as no matches.
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return []*SparseResult{}, nil
		}
		return nil, fmt.Errorf("search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*SparseResult
	for rows.Next() {
		var (
			docID string
			score float64
		)
		if err := rows.Scan(&docID, &score); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, &SparseResult{
			DocID:        docID,
			Score:        -score, // higher = better, consistent with bleve
			MatchedTerms: tokens,
		})
	}
	return out, rows.Err()
}

// sqlInClause builds "(?,?,...)" and the matching args for an IN filter.
func sqlInClause(values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return "(" + strings.Join(marks, ",") + ")", args
}

// Delete removes documents in one transaction.
func (s *FTSKeywordIndex) Delete(ctx context.Context, docIDs []string) error {
	if len(docIDs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	in, args := sqlInClause(docIDs)
	if _, err := tx.ExecContext(ctx, "DELETE FROM fts_content WHERE doc_id IN "+in, args...); err != nil {
		return fmt.Errorf("failed to delete from FTS: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM doc_ids WHERE doc_id IN "+in, args...); err != nil {
		return fmt.Errorf("failed to delete from doc_ids: %w", err)
	}
	return tx.Commit()
}

// AllIDs lists every indexed document ID, sorted.
func (s *FTSKeywordIndex) AllIDs() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, fmt.Errorf("index is closed")
	}

	rows, err := s.db.Query(`SELECT doc_id FROM doc_ids ORDER BY doc_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *FTSKeywordIndex) Stats() *SparseStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return &SparseStats{}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM doc_ids`).Scan(&count); err != nil {
		return &SparseStats{}
	}
	// TermCount is left zero: FTS5 does not expose it without reading its
	// internal shadow tables.
	return &SparseStats{DocumentCount: count}
}

// Save forces a WAL checkpoint so a following crash loses nothing.
func (s *FTSKeywordIndex) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("index is closed")
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

// Close checkpoints and closes the database. Idempotent.
func (s *FTSKeywordIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
