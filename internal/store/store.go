package store

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/locusmcp/locus/internal/errors"
)

// uuidV4Pattern is the strict syntactic check applied to id lookups.
var uuidV4Pattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// Store is a persistent table of chunk records with vector search.
type Store struct {
	dir   string
	table string
	dims  int

	db   *sql.DB
	lock *flock.Flock

	// mu serializes writes and snapshot reads against the table handle.
	mu sync.Mutex

	tableExists bool
	ann         *annIndex
	closed      bool
}

// openStores tracks live stores for process-exit cleanup.
var (
	openStoresMu sync.Mutex
	openStores   = make(map[*Store]struct{})
)

// CloseAll closes every open store. Wired to process shutdown by the
// server entry point.
func CloseAll() {
	openStoresMu.Lock()
	stores := make([]*Store, 0, len(openStores))
	for s := range openStores {
		stores = append(stores, s)
	}
	openStoresMu.Unlock()

	for _, s := range stores {
		_ = s.Close()
	}
}

// Open ensures the store directory exists, sweeps stale lockfiles, acquires
// the store lockfile, and connects to the chunk table. Table creation is
// deferred to the first insert so the schema is established from real
// records. A non-positive dimension fails with DIMENSION_MISMATCH; every
// other Open failure surfaces as INDEX_CORRUPT.
func Open(dir, table string, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, errors.New(errors.CodeDimensionMismatch,
			"The store dimension must be positive.").
			WithDetail("dims=%d", dims)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The index directory could not be created.", err)
	}

	RemoveStaleLocks(dir)

	lock := flock.New(filepath.Join(dir, table+".lock"))
	acquired, err := lock.TryLock()
	if err != nil || !acquired {
		if err == nil {
			err = fmt.Errorf("lockfile %s held by another process", lock.Path())
		}
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The index is locked by another process.", err)
	}

	dbPath := filepath.Join(dir, "chunks.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		_ = lock.Unlock()
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The index database could not be opened.", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, errors.Wrap(errors.CodeIndexCorrupt,
				"The index database could not be configured.", err)
		}
	}

	s := &Store{dir: dir, table: table, dims: dims, db: db, lock: lock}

	exists, err := s.queryTableExists()
	if err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, errors.Wrap(errors.CodeIndexCorrupt,
			"The index database could not be read.", err)
	}
	s.tableExists = exists

	openStoresMu.Lock()
	openStores[s] = struct{}{}
	openStoresMu.Unlock()

	return s, nil
}

// Close releases the table handle and the store lockfile.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	openStoresMu.Lock()
	delete(openStores, s)
	openStoresMu.Unlock()

	err := s.db.Close()
	if unlockErr := s.lock.Unlock(); err == nil {
		err = unlockErr
	}
	if err == nil {
		_ = os.Remove(s.lock.Path())
	}
	return err
}

// Dims returns the store's vector dimension.
func (s *Store) Dims() int { return s.dims }

func (s *Store) queryTableExists() (bool, error) {
	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", s.table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) createTable() error {
	_, err := s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		path TEXT NOT NULL,
		text TEXT NOT NULL,
		vector BLOB NOT NULL,
		start_line INTEGER NOT NULL,
		end_line INTEGER NOT NULL,
		content_hash TEXT NOT NULL,
		chunk_hash TEXT
	)`, s.table))
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS idx_%s_path ON %s (path)", s.table, s.table))
	return err
}

// Insert writes records in batches. An insert into an absent table with no
// records fails with EMPTY_SCHEMA because there is nothing to infer a
// schema from.
func (s *Store) Insert(records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists && len(records) == 0 {
		return errors.New(errors.CodeEmptySchema,
			"Cannot create the chunk table without any records.")
	}
	if len(records) == 0 {
		return nil
	}

	for _, r := range records {
		if len(r.Vector) != s.dims {
			return errors.New(errors.CodeDimensionMismatch,
				"A chunk vector has the wrong dimension.").
				WithDetail("path %s: got %d, want %d", r.Path, len(r.Vector), s.dims)
		}
		if r.StartLine < 1 || r.EndLine < r.StartLine {
			return errors.New(errors.CodeIndexCorrupt,
				"A chunk has invalid line coordinates.").
				WithDetail("path %s: start=%d end=%d", r.Path, r.StartLine, r.EndLine)
		}
	}

	if !s.tableExists {
		if err := s.createTable(); err != nil {
			return errors.Wrap(errors.CodeIndexCorrupt,
				"The chunk table could not be created.", err)
		}
		s.tableExists = true
	}

	for start := 0; start < len(records); start += InsertBatchSize {
		end := start + InsertBatchSize
		if end > len(records) {
			end = len(records)
		}
		if err := s.insertBatch(records[start:end]); err != nil {
			return err
		}
	}

	if s.ann != nil {
		ids := make([]string, len(records))
		vectors := make([][]float32, len(records))
		for i, r := range records {
			ids[i] = r.ID
			vectors[i] = r.Vector
		}
		if err := s.ann.add(ids, vectors); err != nil {
			// The table is authoritative; a failed graph update only costs
			// recall until the index is rebuilt.
			slog.Warn("vector index update failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

func (s *Store) insertBatch(records []Record) error {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(errors.CodeDiskFull, "The index could not be written.", err)
	}
	stmt, err := tx.Prepare(fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (id, path, text, vector, start_line, end_line, content_hash, chunk_hash) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		s.table))
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(errors.CodeDiskFull, "The index could not be written.", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range records {
		if _, err := stmt.Exec(r.ID, r.Path, r.Text, encodeVector(r.Vector),
			r.StartLine, r.EndLine, r.ContentHash, r.ChunkHash); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(errors.CodeDiskFull, "The index could not be written.", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.CodeDiskFull, "The index could not be written.", err)
	}
	return nil
}

// Search returns the k nearest records to the query vector, sorted by
// descending similarity. k <= 0 is rejected; k > MaxSearchK clamps.
func (s *Store) Search(query []float32, k int) ([]Result, error) {
	if len(query) != s.dims {
		return nil, errors.New(errors.CodeDimensionMismatch,
			"The query vector has the wrong dimension.").
			WithDetail("got %d, want %d", len(query), s.dims)
	}
	if k <= 0 {
		return nil, errors.New(errors.CodeInvalidPattern,
			"The result count must be at least 1.").
			WithDetail("k=%d", k)
	}
	if k > MaxSearchK {
		k = MaxSearchK
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists {
		return nil, nil
	}

	if s.ann != nil {
		ids, distances, err := s.ann.search(query, k)
		if err == nil {
			return s.resultsFromIDs(ids, distances)
		}
		slog.Warn("vector index search failed, falling back to scan",
			slog.String("error", err.Error()))
	}
	return s.bruteForceSearch(query, k)
}

// resultsFromIDs loads full records for ANN hits, preserving order.
func (s *Store) resultsFromIDs(ids []string, distances []float64) ([]Result, error) {
	results := make([]Result, 0, len(ids))
	for i, id := range ids {
		rec, err := s.getByID(id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		results = append(results, Result{
			Record:   *rec,
			Distance: distances[i],
			Score:    distanceToScore(distances[i]),
		})
	}
	return results, nil
}

func (s *Store) bruteForceSearch(query []float32, k int) ([]Result, error) {
	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT id, path, text, vector, start_line, end_line, content_hash, chunk_hash FROM %s", s.table))
	if err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	defer func() { _ = rows.Close() }()

	var results []Result
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
		}
		if len(rec.Vector) != s.dims {
			continue
		}
		d := l2Distance(query, rec.Vector)
		results = append(results, Result{Record: rec, Distance: d, Score: distanceToScore(d)})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var blob []byte
	var chunkHash sql.NullString
	if err := row.Scan(&rec.ID, &rec.Path, &rec.Text, &blob,
		&rec.StartLine, &rec.EndLine, &rec.ContentHash, &chunkHash); err != nil {
		return Record{}, err
	}
	rec.Vector = decodeVector(blob)
	rec.ChunkHash = chunkHash.String
	return rec, nil
}

// SearchByPath returns de-duplicated, lexicographically sorted paths
// matching the glob, bounded by limit.
func (s *Store) SearchByPath(glob string, limit int) ([]string, error) {
	like, err := GlobToLike(glob)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists {
		return []string{}, nil
	}

	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT DISTINCT path FROM %s WHERE path LIKE '%s' ESCAPE '%s' ORDER BY path",
		s.table, like, likeEscape))
	if err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	defer func() { _ = rows.Close() }()

	var matches []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
		}
		// The LIKE translation over-matches across separators; re-check
		// with the exact glob.
		if !MatchGlob(glob, path) {
			continue
		}
		matches = append(matches, path)
		if len(matches) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	if matches == nil {
		matches = []string{}
	}
	return matches, nil
}

// GetByIDs returns a map of id to record for well-formed UUID v4 ids that
// exist in the table. Malformed ids are silently dropped.
func (s *Store) GetByIDs(ids []string) (map[string]Record, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if uuidV4Pattern.MatchString(id) {
			valid = append(valid, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[string]Record, len(valid))
	if !s.tableExists || len(valid) == 0 {
		return result, nil
	}

	for _, id := range valid {
		rec, err := s.getByID(id)
		if err != nil {
			// Id retrieval feeds non-critical callers; degrade to a miss
			// instead of failing the whole lookup.
			slog.Warn("chunk lookup failed", slog.String("id", id),
				slog.String("error", err.Error()))
			continue
		}
		if rec != nil {
			result[id] = *rec
		}
	}
	return result, nil
}

func (s *Store) getByID(id string) (*Record, error) {
	row := s.db.QueryRow(fmt.Sprintf(
		"SELECT id, path, text, vector, start_line, end_line, content_hash, chunk_hash FROM %s WHERE id = ?",
		s.table), id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	return &rec, nil
}

// GetByPath returns every chunk record for a path, including stored
// vectors and chunk hashes, for incremental vector reuse.
func (s *Store) GetByPath(path string) ([]Record, error) {
	escaped, err := EscapeString(path)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists {
		return nil, nil
	}

	rows, err := s.db.Query(fmt.Sprintf(
		"SELECT id, path, text, vector, start_line, end_line, content_hash, chunk_hash FROM %s WHERE path = '%s'",
		s.table, escaped))
	if err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	return records, nil
}

// DeleteByPath removes every chunk for a path and returns the count.
func (s *Store) DeleteByPath(path string) (int, error) {
	escaped, err := EscapeString(path)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists {
		return 0, nil
	}

	var ids []string
	if s.ann != nil {
		rows, err := s.db.Query(fmt.Sprintf(
			"SELECT id FROM %s WHERE path = '%s'", s.table, escaped))
		if err == nil {
			for rows.Next() {
				var id string
				if rows.Scan(&id) == nil {
					ids = append(ids, id)
				}
			}
			_ = rows.Close()
		}
	}

	res, err := s.db.Exec(fmt.Sprintf(
		"DELETE FROM %s WHERE path = '%s'", s.table, escaped))
	if err != nil {
		return 0, errors.Wrap(errors.CodeDiskFull, "The index could not be written.", err)
	}
	n, _ := res.RowsAffected()

	if s.ann != nil {
		s.ann.remove(ids)
	}
	return int(n), nil
}

// DeleteByIDs removes chunks by id after the strict UUID check and returns
// the count deleted.
func (s *Store) DeleteByIDs(ids []string) (int, error) {
	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if uuidV4Pattern.MatchString(id) {
			valid = append(valid, id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists || len(valid) == 0 {
		return 0, nil
	}

	quoted := make([]string, len(valid))
	for i, id := range valid {
		quoted[i] = "'" + id + "'"
	}
	res, err := s.db.Exec(fmt.Sprintf(
		"DELETE FROM %s WHERE id IN (%s)", s.table, strings.Join(quoted, ", ")))
	if err != nil {
		return 0, errors.Wrap(errors.CodeDiskFull, "The index could not be written.", err)
	}
	n, _ := res.RowsAffected()

	if s.ann != nil {
		s.ann.remove(valid)
	}
	return int(n), nil
}

// ListFiles enumerates unique paths, bounded by limit. The scan is capped
// at limit*ListFilesScanFactor rows (hard ceiling ListFilesHardCeiling) to
// bound memory; if the bounded query fails, it falls back to an unbounded
// scan.
func (s *Store) ListFiles(limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists {
		return []string{}, nil
	}

	scanBound := limit * ListFilesScanFactor
	if scanBound > ListFilesHardCeiling {
		scanBound = ListFilesHardCeiling
	}

	paths, err := s.scanPaths(fmt.Sprintf(
		"SELECT path FROM %s LIMIT %d", s.table, scanBound))
	if err != nil {
		paths, err = s.scanPaths(fmt.Sprintf("SELECT path FROM %s", s.table))
		if err != nil {
			return nil, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
		}
	}

	seen := make(map[string]struct{}, len(paths))
	unique := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		unique = append(unique, p)
	}
	sort.Strings(unique)
	if len(unique) > limit {
		unique = unique[:limit]
	}
	return unique, nil
}

func (s *Store) scanPaths(query string) ([]string, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}

// Count returns the number of chunk rows.
func (s *Store) Count() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists {
		return 0, nil
	}
	var n int
	if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n); err != nil {
		return 0, errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	return n, nil
}

// SizeBytes estimates the on-disk size of the store directory. This is a
// non-critical accessor; failures degrade to zero.
func (s *Store) SizeBytes() int64 {
	var total int64
	_ = filepath.WalkDir(s.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// CreateVectorIndex builds the ANN layer when the table is large enough to
// justify it; below the threshold the brute-force scan stays in place.
func (s *Store) CreateVectorIndex(params *IndexParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tableExists {
		return nil
	}

	var rowCount int
	if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&rowCount); err != nil {
		return errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	if rowCount <= VectorIndexThreshold {
		s.ann = nil
		return nil
	}

	p := IndexParams{}
	if params != nil {
		p = *params
	}
	if p.Partitions <= 0 {
		p.Partitions = defaultPartitions(rowCount)
	}
	if p.SubVectors <= 0 {
		p.SubVectors = defaultSubVectors(s.dims)
	}
	if p.Metric == "" {
		p.Metric = "l2"
	}
	slog.Info("building vector index",
		slog.Int("rows", rowCount),
		slog.Int("partitions", p.Partitions),
		slog.Int("sub_vectors", p.SubVectors),
		slog.String("metric", p.Metric))

	ann := newANNIndex(s.dims, p)

	rows, err := s.db.Query(fmt.Sprintf("SELECT id, vector FROM %s", s.table))
	if err != nil {
		return errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	var vectors [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
		}
		ids = append(ids, id)
		vectors = append(vectors, decodeVector(blob))
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(errors.CodeIndexCorrupt, "The index could not be read.", err)
	}
	if err := ann.add(ids, vectors); err != nil {
		return errors.Wrap(errors.CodeIndexCorrupt, "The vector index could not be built.", err)
	}

	s.ann = ann
	return nil
}
