// Package store persists chunk embeddings in named sqlite-vec collections
// and serves filtered nearest-neighbor queries over them.
package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

func init() {
	sqlite_vec.Auto()
}

// ErrUnavailable means the vector store could not be opened or
// initialized. Repository analysis proceeds without embeddings when this
// is returned.
var ErrUnavailable = errors.New("vector store unavailable")

const maxConcurrentOps = 10

var collectionNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Store is a sqlite-vec backed vector index with named collections.
// Writers exclude each other and all readers, readers run concurrently,
// and a weighted semaphore caps simultaneous low-level operations.
type Store struct {
	db   *sql.DB
	path string
	log  *zap.Logger

	mu   sync.RWMutex
	sem  *semaphore.Weighted
	dims map[string]int
}

// Open creates or opens the database at path and loads the collection
// registry. Failures wrap ErrUnavailable so callers can degrade.
func Open(path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := Init(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %v", ErrUnavailable, err)
	}

	s := &Store{
		db:   db,
		path: path,
		log:  log,
		sem:  semaphore.NewWeighted(maxConcurrentOps),
		dims: make(map[string]int),
	}
	rows, err := db.Query("SELECT name, dims FROM collections")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var dims int
		if err := rows.Scan(&name, &dims); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		s.dims[name] = dims
	}
	if err := rows.Err(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return s, nil
}

// PointID derives a stable identifier from chunk content so re-indexing
// unchanged content overwrites its point instead of duplicating it.
func PointID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return uuid.NewSHA1(uuid.NameSpaceOID, sum[:]).String()
}

// EnsureCollection creates the collection and its vector table on first
// use. Repeating the call with the same dimensionality changes nothing.
func (s *Store) EnsureCollection(ctx context.Context, name string, dims int) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	if dims <= 0 {
		return fmt.Errorf("invalid dimensionality %d for collection %s", dims, name)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if have, ok := s.dims[name]; ok {
		if have != dims {
			return fmt.Errorf("collection %s has dimensionality %d, requested %d", name, have, dims)
		}
		return nil
	}

	// Virtual table creation runs outside an explicit transaction: vec0
	// creates shadow tables of its own. Both statements are idempotent.
	vecDDL := fmt.Sprintf(
		"CREATE VIRTUAL TABLE IF NOT EXISTS vec_%s USING vec0(point_id INTEGER PRIMARY KEY, embedding float[%d] distance_metric=cosine)",
		name, dims)
	if _, err := s.db.ExecContext(ctx, vecDDL); err != nil {
		return fmt.Errorf("create vector table for %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO collections (name, dims) VALUES (?, ?) ON CONFLICT(name) DO NOTHING",
		name, dims); err != nil {
		return fmt.Errorf("register collection %s: %w", name, err)
	}
	s.dims[name] = dims
	return nil
}

// Upsert writes points into a collection inside one transaction, replacing
// any existing point with the same identifier.
func (s *Store) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	dims, ok := s.dims[collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", collection)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	vecTable := "vec_" + collection
	for _, p := range points {
		if len(p.Vector) != dims {
			return fmt.Errorf("point %s: vector has %d dimensions, collection %s wants %d",
				p.ID, len(p.Vector), collection, dims)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload for %s: %w", p.ID, err)
		}

		var rowID int64
		err = tx.QueryRowContext(ctx,
			"SELECT id FROM points WHERE collection = ? AND point_id = ?",
			collection, p.ID).Scan(&rowID)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx,
				fmt.Sprintf("DELETE FROM %s WHERE point_id = ?", vecTable), rowID); err != nil {
				return fmt.Errorf("replace vector for %s: %w", p.ID, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM points WHERE id = ?", rowID); err != nil {
				return err
			}
		case errors.Is(err, sql.ErrNoRows):
		default:
			return err
		}

		res, err := tx.ExecContext(ctx,
			"INSERT INTO points (collection, point_id, payload) VALUES (?, ?, ?)",
			collection, p.ID, string(payload))
		if err != nil {
			return fmt.Errorf("insert point %s: %w", p.ID, err)
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return err
		}

		blob, err := sqlite_vec.SerializeFloat32(p.Vector)
		if err != nil {
			return fmt.Errorf("serialize vector for %s: %w", p.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (point_id, embedding) VALUES (?, ?)", vecTable),
			rowID, blob); err != nil {
			return fmt.Errorf("insert vector for %s: %w", p.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE collections SET last_indexed = CURRENT_TIMESTAMP WHERE name = ?", collection); err != nil {
		return err
	}
	return tx.Commit()
}

// Search returns up to limit results scoring at or above threshold,
// ordered by descending similarity. With a filter the index is
// over-fetched fourfold before filtering so recall does not collapse.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, limit int, threshold float64, filter *Filter) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	dims, ok := s.dims[collection]
	if !ok {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if len(vector) != dims {
		return nil, fmt.Errorf("query vector has %d dimensions, collection %s wants %d",
			len(vector), collection, dims)
	}

	fetch := limit
	if filter != nil {
		fetch = limit * 4
	}
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	// vec0 KNN queries need the row budget as a `k = ?` constraint: a plain
	// LIMIT is not pushed down to the virtual table through the join.
	query := fmt.Sprintf(`
		SELECT p.point_id, p.payload, v.distance
		FROM vec_%s v
		JOIN points p ON p.id = v.point_id
		WHERE v.embedding MATCH ? AND v.k = ?
		ORDER BY v.distance`, collection)
	rows, err := s.db.QueryContext(ctx, query, blob, fetch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var (
			id       string
			raw      string
			distance float64
		)
		if err := rows.Scan(&id, &raw, &distance); err != nil {
			return nil, err
		}
		var payload Payload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			s.log.Warn("dropping point with undecodable payload",
				zap.String("id", id), zap.Error(err))
			continue
		}
		score := 1 - distance
		if score < threshold {
			continue
		}
		if !filter.Matches(payload) {
			continue
		}
		results = append(results, SearchResult{ID: id, Score: score, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Info reports point count and indexing status for one collection.
func (s *Store) Info(ctx context.Context, collection string) (CollectionInfo, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return CollectionInfo{}, err
	}
	defer s.sem.Release(1)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.infoLocked(ctx, collection)
}

func (s *Store) infoLocked(ctx context.Context, collection string) (CollectionInfo, error) {
	var info CollectionInfo
	var last sql.NullTime
	err := s.db.QueryRowContext(ctx,
		"SELECT name, dims, last_indexed FROM collections WHERE name = ?",
		collection).Scan(&info.Name, &info.Dimensions, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return CollectionInfo{}, fmt.Errorf("unknown collection %q", collection)
	}
	if err != nil {
		return CollectionInfo{}, err
	}
	if last.Valid {
		info.LastIndexed = last.Time
	}
	if err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM points WHERE collection = ?",
		collection).Scan(&info.Points); err != nil {
		return CollectionInfo{}, err
	}
	info.Status = "ready"
	if info.Points == 0 {
		info.Status = "empty"
	}
	return info, nil
}

// Collections lists every known collection sorted by name.
func (s *Store) Collections(ctx context.Context) ([]CollectionInfo, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.dims))
	for name := range s.dims {
		names = append(names, name)
	}
	sort.Strings(names)

	infos := make([]CollectionInfo, 0, len(names))
	for _, name := range names {
		info, err := s.infoLocked(ctx, name)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DropCollection removes a collection, its points and its vector table.
// Dropping an unknown collection is a no-op.
func (s *Store) DropCollection(ctx context.Context, name string) error {
	if !collectionNameRe.MatchString(name) {
		return fmt.Errorf("invalid collection name %q", name)
	}
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.dims[name]; !ok {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS vec_"+name); err != nil {
		return fmt.Errorf("drop vector table for %s: %w", name, err)
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM points WHERE collection = ?", name); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM collections WHERE name = ?", name); err != nil {
		return err
	}
	delete(s.dims, name)
	return nil
}

// Snapshot writes a consistent copy of the database into dir and returns
// the snapshot path.
func (s *Store) Snapshot(ctx context.Context, dir string) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	dest := filepath.Join(dir, fmt.Sprintf("snapshot_%d.db", time.Now().Unix()))
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return "", fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	s.log.Info("wrote store snapshot", zap.String("path", dest))
	return dest, nil
}

// GetMeta returns a metadata value, or "" when the key is unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.sem.Release(1)
	s.mu.RLock()
	defer s.mu.RUnlock()

	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

// SetMeta stores a metadata key-value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value)
	return err
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}
