package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"reelsmith/internal/config"
)

// Kind names a document family.
type Kind string

const (
	KindBatch       Kind = "batch"
	KindComposition Kind = "composition"
)

// Document is one mirrored status record.
type Document struct {
	Kind      Kind
	EpisodeID string
	DocID     string
	Status    string
	Body      []byte
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (d Document) clone() *Document {
	d.Body = append([]byte(nil), d.Body...)
	return &d
}

type cacheKey struct {
	kind      Kind
	episodeID string
}

// Store persists documents backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]*Document
}

// Open initializes or connects to the status database under the state dir.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.DatabasePath())
}

// OpenPath opens the database at path, creating the schema when absent.
func OpenPath(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:    db,
		path:  path,
		now:   func() time.Time { return time.Now().UTC() },
		cache: make(map[cacheKey]*Document),
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path reports the database file location.
func (s *Store) Path() string { return s.path }

// Put upserts a document. CreatedAt is preserved across updates.
func (s *Store) Put(ctx context.Context, doc Document) error {
	if doc.Kind == "" || doc.EpisodeID == "" {
		return errors.New("document kind and episode id are required")
	}
	if doc.DocID == "" {
		doc.DocID = doc.EpisodeID
	}
	now := s.now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	var created string
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO documents (kind, episode_id, doc_id, status, body, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (kind, episode_id) DO UPDATE SET
             doc_id = excluded.doc_id,
             status = excluded.status,
             body = excluded.body,
             updated_at = excluded.updated_at
         RETURNING created_at`,
		string(doc.Kind),
		doc.EpisodeID,
		doc.DocID,
		doc.Status,
		string(doc.Body),
		doc.CreatedAt.Format(time.RFC3339Nano),
		doc.UpdatedAt.Format(time.RFC3339Nano),
	).Scan(&created)
	if err != nil {
		return fmt.Errorf("put %s %s: %w", doc.Kind, doc.EpisodeID, err)
	}
	doc.CreatedAt = parseTime(created)

	s.mu.Lock()
	s.cache[cacheKey{doc.Kind, doc.EpisodeID}] = doc.clone()
	s.mu.Unlock()
	return nil
}

// Get returns the document for (kind, episodeID), or nil when absent.
func (s *Store) Get(ctx context.Context, kind Kind, episodeID string) (*Document, error) {
	key := cacheKey{kind, episodeID}
	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return cached.clone(), nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE kind = ? AND episode_id = ?`,
		string(kind), episodeID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", kind, episodeID, err)
	}
	s.mu.Lock()
	s.cache[key] = doc.clone()
	s.mu.Unlock()
	return doc, nil
}

// FindByDocID looks a document up by its own identifier, such as a batch id.
func (s *Store) FindByDocID(ctx context.Context, kind Kind, docID string) (*Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE kind = ? AND doc_id = ? ORDER BY updated_at DESC LIMIT 1`,
		string(kind), docID)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find %s %s: %w", kind, docID, err)
	}
	return doc, nil
}

// List returns every document of kind, most recently updated first.
func (s *Store) List(ctx context.Context, kind Kind) ([]*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE kind = ? ORDER BY updated_at DESC, episode_id`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", kind, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes a document.
func (s *Store) Delete(ctx context.Context, kind Kind, episodeID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM documents WHERE kind = ? AND episode_id = ?`, string(kind), episodeID); err != nil {
		return fmt.Errorf("delete %s %s: %w", kind, episodeID, err)
	}
	s.mu.Lock()
	delete(s.cache, cacheKey{kind, episodeID})
	s.mu.Unlock()
	return nil
}

const documentColumns = `kind, episode_id, doc_id, status, body, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*Document, error) {
	var (
		kind, body, created, updated string
		doc                          Document
	)
	if err := row.Scan(&kind, &doc.EpisodeID, &doc.DocID, &doc.Status, &body, &created, &updated); err != nil {
		return nil, err
	}
	doc.Kind = Kind(kind)
	doc.Body = []byte(body)
	doc.CreatedAt = parseTime(created)
	doc.UpdatedAt = parseTime(updated)
	return &doc, nil
}

func parseTime(value string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
