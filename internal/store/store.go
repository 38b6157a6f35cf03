// Package store persists the non-vector bookkeeping the indexer needs
// to run incrementally: the set of repositories it has primed, the
// files it has seen per repository (path, content hash, mod time), and
// which chunk_ids currently belong to each file so an incremental
// update can diff new chunker output against what is already stored
// without re-querying the vector store.
//
// Grounded on the teacher's internal/store SQLite connection pattern
// (sqlite_bm25.go: modernc.org/sqlite, WAL journal mode, busy_timeout,
// corruption-check-and-clear on open) and its MetadataStore interface
// shape (types.go), narrowed to drop the BM25 and HNSW-adjacent
// responsibilities the teacher's store owned — those now live in
// internal/vectorstore and internal/vectorstore/memory respectively.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/knitli/codeweaver/internal/discovery"
)

// Store persists RepositoryDescriptors, FileRecords, and per-file chunk
// ID sets in SQLite. A single *Store is safe for concurrent use; writes
// are serialized through a single connection, matching the teacher's
// single-writer pattern for this embedded database.
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

// validateIntegrity mirrors the teacher's corruption-check-and-clear
// pattern: a database that fails PRAGMA integrity_check is more useful
// deleted and rebuilt than left to return confusing errors later.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}
	return nil
}

// Open creates or opens the metadata database at path. If path is
// empty, an in-memory database is used (tests). A corrupted on-disk
// database is removed and rebuilt rather than returned as an error, as
// the teacher's BM25 index does on open.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory %s: %w", dir, err)
		}
		if err := validateIntegrity(path); err != nil {
			slog.Warn("store: database corrupted, clearing", slog.String("path", path), slog.String("error", err.Error()))
			if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
				return nil, fmt.Errorf("store: corrupted database at %s cannot be removed: %w (original: %v)", path, rmErr, err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("store: set pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	collection_name TEXT PRIMARY KEY,
	abs_path        TEXT NOT NULL,
	project_name    TEXT NOT NULL,
	updated_at      TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS files (
	collection_name TEXT NOT NULL,
	path            TEXT NOT NULL,
	abs_path        TEXT NOT NULL,
	language        TEXT NOT NULL,
	content_type    TEXT NOT NULL,
	size            INTEGER NOT NULL,
	mod_time        TEXT NOT NULL,
	content_hash    TEXT NOT NULL,
	is_generated    INTEGER NOT NULL,
	PRIMARY KEY (collection_name, path)
);

CREATE TABLE IF NOT EXISTS file_chunks (
	collection_name TEXT NOT NULL,
	path            TEXT NOT NULL,
	chunk_id        TEXT NOT NULL,
	PRIMARY KEY (collection_name, path, chunk_id)
);
CREATE INDEX IF NOT EXISTS idx_file_chunks_lookup ON file_chunks (collection_name, path);

CREATE TABLE IF NOT EXISTS kv_state (
	collection_name TEXT NOT NULL,
	key             TEXT NOT NULL,
	value           TEXT NOT NULL,
	PRIMARY KEY (collection_name, key)
);
`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("store: migrate schema: %w", err)
	}
	return nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRepository records or updates the descriptor for an indexed root.
func (s *Store) SaveRepository(ctx context.Context, repo discovery.RepositoryDescriptor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (collection_name, abs_path, project_name, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection_name) DO UPDATE SET
			abs_path = excluded.abs_path,
			project_name = excluded.project_name,
			updated_at = excluded.updated_at`,
		repo.CollectionName, repo.AbsPath, repo.ProjectName, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("store: save repository %s: %w", repo.CollectionName, err)
	}
	return nil
}

// GetRepository loads the descriptor for collection, or (zero, false, nil)
// if it has never been saved.
func (s *Store) GetRepository(ctx context.Context, collection string) (discovery.RepositoryDescriptor, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var repo discovery.RepositoryDescriptor
	row := s.db.QueryRowContext(ctx, `SELECT collection_name, abs_path, project_name FROM repositories WHERE collection_name = ?`, collection)
	err := row.Scan(&repo.CollectionName, &repo.AbsPath, &repo.ProjectName)
	if err == sql.ErrNoRows {
		return discovery.RepositoryDescriptor{}, false, nil
	}
	if err != nil {
		return discovery.RepositoryDescriptor{}, false, fmt.Errorf("store: get repository %s: %w", collection, err)
	}
	return repo, true, nil
}

// SaveFile upserts a FileRecord for collection.
func (s *Store) SaveFile(ctx context.Context, collection string, f discovery.FileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	isGenerated := 0
	if f.IsGenerated {
		isGenerated = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (collection_name, path, abs_path, language, content_type, size, mod_time, content_hash, is_generated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(collection_name, path) DO UPDATE SET
			abs_path = excluded.abs_path,
			language = excluded.language,
			content_type = excluded.content_type,
			size = excluded.size,
			mod_time = excluded.mod_time,
			content_hash = excluded.content_hash,
			is_generated = excluded.is_generated`,
		collection, f.Path, f.AbsPath, f.Language, string(f.ContentType), f.Size,
		f.ModTime.UTC().Format(time.RFC3339Nano), f.ContentHash, isGenerated)
	if err != nil {
		return fmt.Errorf("store: save file %s: %w", f.Path, err)
	}
	return nil
}

// GetFile loads the last-recorded FileRecord for path within collection.
func (s *Store) GetFile(ctx context.Context, collection, path string) (discovery.FileRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getFileLocked(ctx, collection, path)
}

func (s *Store) getFileLocked(ctx context.Context, collection, path string) (discovery.FileRecord, bool, error) {
	var f discovery.FileRecord
	var contentType string
	var modTime string
	var isGenerated int
	row := s.db.QueryRowContext(ctx, `
		SELECT path, abs_path, language, content_type, size, mod_time, content_hash, is_generated
		FROM files WHERE collection_name = ? AND path = ?`, collection, path)
	err := row.Scan(&f.Path, &f.AbsPath, &f.Language, &contentType, &f.Size, &modTime, &f.ContentHash, &isGenerated)
	if err == sql.ErrNoRows {
		return discovery.FileRecord{}, false, nil
	}
	if err != nil {
		return discovery.FileRecord{}, false, fmt.Errorf("store: get file %s: %w", path, err)
	}
	f.ContentType = discovery.ContentType(contentType)
	f.IsGenerated = isGenerated != 0
	if t, err := time.Parse(time.RFC3339Nano, modTime); err == nil {
		f.ModTime = t
	}
	return f, true, nil
}

// DeleteFile removes the FileRecord and its chunk-ID set for path.
func (s *Store) DeleteFile(ctx context.Context, collection, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM files WHERE collection_name = ? AND path = ?`, collection, path); err != nil {
		return fmt.Errorf("store: delete file %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM file_chunks WHERE collection_name = ? AND path = ?`, collection, path); err != nil {
		return fmt.Errorf("store: delete file %s chunks: %w", path, err)
	}
	return tx.Commit()
}

// ListFiles returns every FileRecord tracked for collection.
func (s *Store) ListFiles(ctx context.Context, collection string) ([]discovery.FileRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT path, abs_path, language, content_type, size, mod_time, content_hash, is_generated
		FROM files WHERE collection_name = ?`, collection)
	if err != nil {
		return nil, fmt.Errorf("store: list files: %w", err)
	}
	defer rows.Close()

	var out []discovery.FileRecord
	for rows.Next() {
		var f discovery.FileRecord
		var contentType, modTime string
		var isGenerated int
		if err := rows.Scan(&f.Path, &f.AbsPath, &f.Language, &contentType, &f.Size, &modTime, &f.ContentHash, &isGenerated); err != nil {
			return nil, fmt.Errorf("store: scan file row: %w", err)
		}
		f.ContentType = discovery.ContentType(contentType)
		f.IsGenerated = isGenerated != 0
		if t, err := time.Parse(time.RFC3339Nano, modTime); err == nil {
			f.ModTime = t
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// SetFileChunks replaces the recorded chunk_id set for path with ids.
// Called after a successful upsert so the next incremental update can
// diff against it (spec §4.8 step 2).
func (s *Store) SetFileChunks(ctx context.Context, collection, path string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: set file chunks for %s: %w", path, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_chunks WHERE collection_name = ? AND path = ?`, collection, path); err != nil {
		return fmt.Errorf("store: clear file chunks for %s: %w", path, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO file_chunks (collection_name, path, chunk_id) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare insert file chunks: %w", err)
	}
	defer stmt.Close()
	for _, id := range ids {
		if _, err := stmt.ExecContext(ctx, collection, path, id); err != nil {
			return fmt.Errorf("store: insert file chunk %s: %w", id, err)
		}
	}
	return tx.Commit()
}

// GetFileChunks returns the chunk_ids currently recorded for path.
func (s *Store) GetFileChunks(ctx context.Context, collection, path string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx, `SELECT chunk_id FROM file_chunks WHERE collection_name = ? AND path = ?`, collection, path)
	if err != nil {
		return nil, fmt.Errorf("store: get file chunks for %s: %w", path, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("store: scan chunk id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// GetState reads a collection-scoped key/value pair, returning ("", false, nil)
// if unset.
func (s *Store) GetState(ctx context.Context, collection, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var value string
	row := s.db.QueryRowContext(ctx, `SELECT value FROM kv_state WHERE collection_name = ? AND key = ?`, collection, key)
	err := row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get state %s: %w", key, err)
	}
	return value, true, nil
}

// SetState writes a collection-scoped key/value pair.
func (s *Store) SetState(ctx context.Context, collection, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv_state (collection_name, key, value) VALUES (?, ?, ?)
		ON CONFLICT(collection_name, key) DO UPDATE SET value = excluded.value`,
		collection, key, value)
	if err != nil {
		return fmt.Errorf("store: set state %s: %w", key, err)
	}
	return nil
}
