package vector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,50}$`)

// PGVectorIndex keeps vectors in a PostgreSQL table using the pgvector extension.
//
// A freshly created index writes into "<table>_staging"; Save swaps the staging
// table over the live one in a single transaction so concurrent readers keep
// seeing the previous catalog until the rebuild commits. Load points the index
// at the live table. The path arguments of Save and Load are ignored.
type PGVectorIndex struct {
	db         *sql.DB
	table      string
	dimensions int

	mu           sync.RWMutex
	ids          []int64
	staging      bool
	stagingReady bool
}

// NewPGVectorIndex connects to dsn and ensures the extension and live table exist.
func NewPGVectorIndex(dsn, table string, dimensions int) (*PGVectorIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if dsn == "" {
		return nil, errors.New("pgvector index requires a postgres dsn")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	p := &PGVectorIndex{
		db:         db,
		table:      table,
		dimensions: dimensions,
		ids:        make([]int64, 0),
		staging:    true,
	}
	if _, err := db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vector extension: %w", err)
	}
	if _, err := db.ExecContext(ctx, p.createTableSQL(p.table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}
	return p, nil
}

func (p *PGVectorIndex) stagingTable() string {
	return p.table + "_staging"
}

// current returns the table reads and writes go to. Callers hold p.mu.
func (p *PGVectorIndex) current() string {
	if p.staging {
		return p.stagingTable()
	}
	return p.table
}

func (p *PGVectorIndex) createTableSQL(name string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id BIGINT PRIMARY KEY,
		embedding vector(%d) NOT NULL
	)`, pq.QuoteIdentifier(name), p.dimensions)
}

// ensureStaging recreates the staging table once per build. Callers hold p.mu.
func (p *PGVectorIndex) ensureStaging(ctx context.Context) error {
	if !p.staging || p.stagingReady {
		return nil
	}
	if _, err := p.db.ExecContext(ctx, `DROP TABLE IF EXISTS `+pq.QuoteIdentifier(p.stagingTable())); err != nil {
		return fmt.Errorf("drop staging table: %w", err)
	}
	if _, err := p.db.ExecContext(ctx, p.createTableSQL(p.stagingTable())); err != nil {
		return fmt.Errorf("create staging table: %w", err)
	}
	p.stagingReady = true
	return nil
}

// Type returns the index type identifier.
func (p *PGVectorIndex) Type() string {
	return string(IndexTypePGVector)
}

// Dimensions returns the vector dimension.
func (p *PGVectorIndex) Dimensions() int {
	return p.dimensions
}

// Add inserts vectors in one transaction.
func (p *PGVectorIndex) Add(ctx context.Context, ids []int64, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch")
	}
	for i := range vectors {
		if len(vectors[i]) != p.dimensions {
			return fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vectors[i]), p.dimensions)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureStaging(ctx); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (id, embedding) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET embedding = EXCLUDED.embedding`,
		pq.QuoteIdentifier(p.current())))
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, id := range ids {
		if _, err := stmt.ExecContext(ctx, id, pgvector.NewVector(vectors[i])); err != nil {
			return fmt.Errorf("insert vector %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	seen := make(map[int64]bool, len(p.ids))
	for _, id := range p.ids {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			p.ids = append(p.ids, id)
			seen[id] = true
		}
	}
	return nil
}

// Search orders by negative inner product, so the score is the inner product itself.
func (p *PGVectorIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	if len(query) != p.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), p.dimensions)
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if k <= 0 || len(p.ids) == 0 {
		return nil, nil
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, (embedding <#> $1) * -1 AS score FROM %s ORDER BY embedding <#> $1, id LIMIT $2`,
		pq.QuoteIdentifier(p.current())),
		pgvector.NewVector(query), k)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	var results []*VectorResult
	for rows.Next() {
		r := &VectorResult{}
		if err := rows.Scan(&r.ID, &r.Score); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return results, nil
}

// IDs returns the stored ids in insertion order.
func (p *PGVectorIndex) IDs() []int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]int64(nil), p.ids...)
}

// Save promotes the staging table to live. An index already pointing at the
// live table has nothing to do.
func (p *PGVectorIndex) Save(path string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.staging {
		return nil
	}
	ctx := context.Background()
	if err := p.ensureStaging(ctx); err != nil {
		return err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+pq.QuoteIdentifier(p.table)); err != nil {
		return fmt.Errorf("drop live table: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`,
		pq.QuoteIdentifier(p.stagingTable()), pq.QuoteIdentifier(p.table))); err != nil {
		return fmt.Errorf("promote staging table: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	p.staging = false
	p.stagingReady = false
	return nil
}

// Load points the index at the live table and reads its ids.
func (p *PGVectorIndex) Load(path string) error {
	ctx := context.Background()
	var dims sql.NullInt64
	err := p.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT vector_dims(embedding) FROM %s LIMIT 1`,
		pq.QuoteIdentifier(p.table))).Scan(&dims)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("read dimensions: %w", err)
	}
	if dims.Valid && int(dims.Int64) != p.dimensions {
		return fmt.Errorf("dimension mismatch: table has %d, index expects %d", dims.Int64, p.dimensions)
	}

	rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s ORDER BY id`, pq.QuoteIdentifier(p.table)))
	if err != nil {
		return fmt.Errorf("query ids: %w", err)
	}
	defer rows.Close()
	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = ids
	p.staging = false
	p.stagingReady = false
	return nil
}

// Size returns the number of vectors.
func (p *PGVectorIndex) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.ids)
}

// Close closes the database connection.
func (p *PGVectorIndex) Close() error {
	return p.db.Close()
}
