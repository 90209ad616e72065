package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO)
)

// SQLiteStore implements MetadataStore on modernc.org/sqlite.
// WAL mode plus a single-writer connection pool keeps concurrent readers fast
// without lock contention.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// Verify interface implementation at compile time
var _ MetadataStore = (*SQLiteStore)(nil)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// NewSQLiteStore opens (or creates) the metadata database at path.
// If path is empty, an in-memory database is used for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer to prevent lock contention
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate schema: %w", err)
	}

	return s, nil
}

// migrate creates or upgrades the schema.
func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY
	);

	CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		name        TEXT NOT NULL,
		root_path   TEXT NOT NULL,
		unit_count  INTEGER NOT NULL DEFAULT 0,
		chunk_count INTEGER NOT NULL DEFAULT 0,
		indexed_at  TIMESTAMP,
		version     TEXT
	);

	CREATE TABLE IF NOT EXISTS datasets (
		id         TEXT PRIMARY KEY,
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		name       TEXT NOT NULL,
		owner_id   TEXT NOT NULL,
		visibility TEXT NOT NULL DEFAULT 'owned',
		created_at TIMESTAMP NOT NULL,
		UNIQUE(project_id, name)
	);

	CREATE TABLE IF NOT EXISTS dataset_shares (
		dataset_id TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		subject_id TEXT NOT NULL,
		PRIMARY KEY (dataset_id, subject_id)
	);

	CREATE TABLE IF NOT EXISTS units (
		id           TEXT PRIMARY KEY,
		dataset_id   TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
		source_ref   TEXT NOT NULL,
		size         INTEGER NOT NULL DEFAULT 0,
		mod_time     TIMESTAMP,
		content_hash TEXT NOT NULL,
		language     TEXT,
		content_type TEXT,
		indexed_at   TIMESTAMP,
		UNIQUE(dataset_id, source_ref)
	);
	CREATE INDEX IF NOT EXISTS idx_units_dataset ON units(dataset_id);

	CREATE TABLE IF NOT EXISTS chunks (
		id           TEXT PRIMARY KEY,
		unit_id      TEXT NOT NULL REFERENCES units(id) ON DELETE CASCADE,
		dataset_id   TEXT NOT NULL,
		source_ref   TEXT NOT NULL,
		ordinal      INTEGER NOT NULL,
		content      TEXT NOT NULL,
		context      TEXT,
		content_type TEXT,
		language     TEXT,
		start_line   INTEGER,
		end_line     INTEGER,
		content_hash TEXT NOT NULL,
		symbols      TEXT,
		metadata     TEXT,
		created_at   TIMESTAMP NOT NULL,
		updated_at   TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_chunks_unit ON chunks(unit_id);
	CREATE INDEX IF NOT EXISTS idx_chunks_dataset ON chunks(dataset_id);

	CREATE TABLE IF NOT EXISTS state (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`

	_, err := s.db.Exec(schema)
	return err
}

// --- Project operations ---

// SaveProject inserts or updates a project.
func (s *SQLiteStore) SaveProject(ctx context.Context, p *Project) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, root_path, unit_count, chunk_count, indexed_at, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			root_path = excluded.root_path,
			unit_count = excluded.unit_count,
			chunk_count = excluded.chunk_count,
			indexed_at = excluded.indexed_at,
			version = excluded.version`,
		p.ID, p.Name, p.RootPath, p.UnitCount, p.ChunkCount, p.IndexedAt, p.Version)
	if err != nil {
		return fmt.Errorf("failed to save project: %w", err)
	}
	return nil
}

// GetProject fetches a project by ID.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	var indexedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, root_path, unit_count, chunk_count, indexed_at, version
		FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.RootPath, &p.UnitCount, &p.ChunkCount, &indexedAt, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	if indexedAt.Valid {
		p.IndexedAt = indexedAt.Time
	}
	return &p, nil
}

// RefreshProjectStats recalculates unit and chunk counts from the database
// and bumps indexed_at.
func (s *SQLiteStore) RefreshProjectStats(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE projects SET
			unit_count = (
				SELECT COUNT(*) FROM units u
				JOIN datasets d ON u.dataset_id = d.id
				WHERE d.project_id = projects.id
			),
			chunk_count = (
				SELECT COUNT(*) FROM chunks c
				JOIN datasets d ON c.dataset_id = d.id
				WHERE d.project_id = projects.id
			),
			indexed_at = ?
		WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to refresh project stats: %w", err)
	}
	return nil
}

// --- Dataset operations ---

// CreateDataset inserts a dataset.
func (s *SQLiteStore) CreateDataset(ctx context.Context, ds *Dataset) error {
	if ds.Visibility == "" {
		ds.Visibility = VisibilityOwned
	}
	if ds.CreatedAt.IsZero() {
		ds.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO datasets (id, project_id, name, owner_id, visibility, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.ProjectID, ds.Name, ds.OwnerID, string(ds.Visibility), ds.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create dataset: %w", err)
	}
	return nil
}

func scanDataset(row interface{ Scan(...any) error }) (*Dataset, error) {
	var ds Dataset
	var vis string
	err := row.Scan(&ds.ID, &ds.ProjectID, &ds.Name, &ds.OwnerID, &vis, &ds.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ds.Visibility = Visibility(vis)
	return &ds, nil
}

// GetDataset fetches a dataset by ID.
func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, owner_id, visibility, created_at
		FROM datasets WHERE id = ?`, id)
	ds, err := scanDataset(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get dataset: %w", err)
	}
	return ds, err
}

// GetDatasetByName fetches a dataset by project and name.
func (s *SQLiteStore) GetDatasetByName(ctx context.Context, projectID, name string) (*Dataset, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, owner_id, visibility, created_at
		FROM datasets WHERE project_id = ? AND name = ?`, projectID, name)
	ds, err := scanDataset(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get dataset by name: %w", err)
	}
	return ds, err
}

// ListDatasets returns all datasets of a project.
func (s *SQLiteStore) ListDatasets(ctx context.Context, projectID string) ([]*Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, owner_id, visibility, created_at
		FROM datasets WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// ShareDataset grants a subject read access to a dataset.
func (s *SQLiteStore) ShareDataset(ctx context.Context, datasetID, subjectID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO dataset_shares (dataset_id, subject_id) VALUES (?, ?)`,
		datasetID, subjectID)
	if err != nil {
		return fmt.Errorf("failed to share dataset: %w", err)
	}
	return nil
}

// UnshareDataset revokes a subject's access to a dataset.
func (s *SQLiteStore) UnshareDataset(ctx context.Context, datasetID, subjectID string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM dataset_shares WHERE dataset_id = ? AND subject_id = ?`,
		datasetID, subjectID)
	if err != nil {
		return fmt.Errorf("failed to unshare dataset: %w", err)
	}
	return nil
}

// VisibleDatasets resolves the union of datasets a subject may read:
// owned by it, global, or explicitly shared with it.
func (s *SQLiteStore) VisibleDatasets(ctx context.Context, subjectID string) ([]*Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT d.id, d.project_id, d.name, d.owner_id, d.visibility, d.created_at
		FROM datasets d
		LEFT JOIN dataset_shares sh ON sh.dataset_id = d.id
		WHERE d.owner_id = ?
		   OR d.visibility = 'global'
		   OR sh.subject_id = ?
		ORDER BY d.name`, subjectID, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve visible datasets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// --- Source unit operations ---

// SaveUnits inserts or updates source units in a single transaction.
func (s *SQLiteStore) SaveUnits(ctx context.Context, units []*SourceUnit) error {
	if len(units) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (id, dataset_id, source_ref, size, mod_time, content_hash, language, content_type, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			language = excluded.language,
			content_type = excluded.content_type,
			indexed_at = excluded.indexed_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare unit statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, u := range units {
		if _, err := stmt.ExecContext(ctx, u.ID, u.DatasetID, u.SourceRef,
			u.Size, u.ModTime, u.ContentHash, u.Language, u.ContentType, u.IndexedAt); err != nil {
			return fmt.Errorf("failed to save unit %s: %w", u.SourceRef, err)
		}
	}

	return tx.Commit()
}

func scanUnit(row interface{ Scan(...any) error }) (*SourceUnit, error) {
	var u SourceUnit
	var modTime, indexedAt sql.NullTime
	err := row.Scan(&u.ID, &u.DatasetID, &u.SourceRef, &u.Size, &modTime,
		&u.ContentHash, &u.Language, &u.ContentType, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if modTime.Valid {
		u.ModTime = modTime.Time
	}
	if indexedAt.Valid {
		u.IndexedAt = indexedAt.Time
	}
	return &u, nil
}

const unitColumns = `id, dataset_id, source_ref, size, mod_time, content_hash, language, content_type, indexed_at`

// GetUnitByRef fetches a unit by its dataset and source reference.
func (s *SQLiteStore) GetUnitByRef(ctx context.Context, datasetID, sourceRef string) (*SourceUnit, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE dataset_id = ? AND source_ref = ?`,
		datasetID, sourceRef)
	u, err := scanUnit(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get unit: %w", err)
	}
	return u, err
}

// UnitsByDataset returns all units of a dataset keyed by SourceRef.
func (s *SQLiteStore) UnitsByDataset(ctx context.Context, datasetID string) (map[string]*SourceUnit, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+unitColumns+` FROM units WHERE dataset_id = ?`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list units: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]*SourceUnit)
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		out[u.SourceRef] = u
	}
	return out, rows.Err()
}

// DeleteUnit removes a unit; its chunks cascade.
func (s *SQLiteStore) DeleteUnit(ctx context.Context, unitID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM units WHERE id = ?`, unitID)
	if err != nil {
		return fmt.Errorf("failed to delete unit: %w", err)
	}
	return nil
}

// --- Chunk operations ---

// SaveChunks inserts or updates chunks in a single transaction.
func (s *SQLiteStore) SaveChunks(ctx context.Context, chunks []*Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, unit_id, dataset_id, source_ref, ordinal, content, context,
			content_type, language, start_line, end_line, content_hash, symbols, metadata,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			content = excluded.content,
			context = excluded.context,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			symbols = excluded.symbols,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	now := time.Now().UTC()
	for _, c := range chunks {
		symbols, err := json.Marshal(c.Symbols)
		if err != nil {
			return fmt.Errorf("failed to marshal symbols for %s: %w", c.ID, err)
		}
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata for %s: %w", c.ID, err)
		}

		createdAt := c.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		updatedAt := c.UpdatedAt
		if updatedAt.IsZero() {
			updatedAt = now
		}

		if _, err := stmt.ExecContext(ctx, c.ID, c.UnitID, c.DatasetID, c.SourceRef,
			c.Ordinal, c.Content, c.Context, string(c.ContentType), c.Language,
			c.StartLine, c.EndLine, c.ContentHash, string(symbols), string(metadata),
			createdAt, updatedAt); err != nil {
			return fmt.Errorf("failed to save chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

const chunkColumns = `id, unit_id, dataset_id, source_ref, ordinal, content, context,
	content_type, language, start_line, end_line, content_hash, symbols, metadata,
	created_at, updated_at`

func scanChunk(row interface{ Scan(...any) error }) (*Chunk, error) {
	var c Chunk
	var contentType string
	var symbols, metadata sql.NullString
	err := row.Scan(&c.ID, &c.UnitID, &c.DatasetID, &c.SourceRef, &c.Ordinal,
		&c.Content, &c.Context, &contentType, &c.Language, &c.StartLine, &c.EndLine,
		&c.ContentHash, &symbols, &metadata, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.ContentType = ContentType(contentType)
	if symbols.Valid && symbols.String != "" && symbols.String != "null" {
		if err := json.Unmarshal([]byte(symbols.String), &c.Symbols); err != nil {
			return nil, fmt.Errorf("failed to unmarshal symbols for %s: %w", c.ID, err)
		}
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &c.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata for %s: %w", c.ID, err)
		}
	}
	return &c, nil
}

// GetChunk fetches a chunk by ID.
func (s *SQLiteStore) GetChunk(ctx context.Context, id string) (*Chunk, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	c, err := scanChunk(row)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to get chunk: %w", err)
	}
	return c, err
}

// GetChunks fetches chunks by ID in one query. Missing IDs are skipped.
func (s *SQLiteStore) GetChunks(ctx context.Context, ids []string) ([]*Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT `+chunkColumns+` FROM chunks WHERE id IN (%s)`,
		strings.Join(placeholders, ",")), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	byID := make(map[string]*Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Preserve input order.
	out := make([]*Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// GetChunksByUnit returns a unit's chunks ordered by ordinal.
func (s *SQLiteStore) GetChunksByUnit(ctx context.Context, unitID string) ([]*Chunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE unit_id = ? ORDER BY ordinal`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunks by unit: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkIDsByUnit returns only the IDs of a unit's chunks, for deletion fan-out
// to the vector and sparse indexes.
func (s *SQLiteStore) ChunkIDsByUnit(ctx context.Context, unitID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM chunks WHERE unit_id = ? ORDER BY ordinal`, unitID)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllChunkIDs returns every chunk ID across all datasets.
func (s *SQLiteStore) AllChunkIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chunks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to get chunk IDs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan chunk ID: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteChunks removes chunks by ID.
func (s *SQLiteStore) DeleteChunks(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id
	}

	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM chunks WHERE id IN (%s)`, strings.Join(placeholders, ",")), args...)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// DeleteChunksByUnit removes all chunks of a unit.
func (s *SQLiteStore) DeleteChunksByUnit(ctx context.Context, unitID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE unit_id = ?`, unitID)
	if err != nil {
		return fmt.Errorf("failed to delete chunks by unit: %w", err)
	}
	return nil
}

// --- State operations ---

// GetState reads a state value. Returns empty string if the key is absent.
func (s *SQLiteStore) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get state %s: %w", key, err)
	}
	return value, nil
}

// SetState writes a state value.
func (s *SQLiteStore) SetState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO state (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set state %s: %w", key, err)
	}
	return nil
}

// Close closes the database after a final WAL checkpoint.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
		return s.db.Close()
	}
	return nil
}
