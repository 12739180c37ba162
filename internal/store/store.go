// Package store implements the vector store: a PostgreSQL table of
// document chunks with a pgvector embedding column and an IVFFlat
// approximate nearest-neighbor index.
//
// The embedding dimension is fixed per provisioned table; all vectors in
// one store share it. Rows are never updated in place: a rebuild loads a
// staging table and atomically swaps it in (see staging.go), so readers
// always observe either the pre-rebuild table or the fully rebuilt one.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
)

// Sentinel errors for store operations. Check with errors.Is.
var (
	// ErrDimensionMismatch indicates a write carried a vector whose
	// length differs from the provisioned column dimension. Fatal for
	// the current write; provision at the new dimension before retrying.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotProvisioned indicates the chunk table does not exist yet.
	ErrNotProvisioned = errors.New("store not provisioned")
)

// Table and index names. The staging variants exist only during a rebuild.
const (
	tableName        = "papers"
	indexName        = "papers_embedding_idx"
	stagingTableName = "papers_staging"

	// ivfflatLists is the cluster count for the approximate index.
	ivfflatLists = 100
)

// DB is the subset of pgxpool.Pool the store depends on.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Chunk is one stored row: a bounded text segment of a source document.
type Chunk struct {
	ID      int64
	Title   string
	Summary string
	Text    string
	Seq     int // position within the source document
}

// Row is a chunk paired with its embedding, ready for insertion.
type Row struct {
	Title     string
	Summary   string
	Text      string
	Seq       int
	Embedding []float32
}

// Match is a query result: a chunk with its similarity under the
// requested metric (cosine: 1 - distance, so 1.0 is an exact match).
type Match struct {
	Chunk      Chunk
	Similarity float64
}

// Store manages the chunk table and its vector index.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db     DB
	logger *slog.Logger
}

// New creates a Store. The pool must have pgvector types registered;
// use NewPool for that.
func New(db DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// NewPool opens a pgx connection pool with pgvector type support
// registered on every connection.
func NewPool(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return pool, nil
}

// Dimension returns the embedding column's dimension, or 0 when the
// table has not been provisioned.
func (s *Store) Dimension(ctx context.Context) (int, error) {
	return s.tableDimension(ctx, tableName)
}

func (s *Store) tableDimension(ctx context.Context, table string) (int, error) {
	var dim int
	err := s.db.QueryRow(ctx, `
		SELECT a.atttypmod
		FROM pg_attribute a
		JOIN pg_class c ON a.attrelid = c.oid
		WHERE c.relname = $1 AND a.attname = 'embedding'`, table).Scan(&dim)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading column dimension: %w", err)
	}
	return dim, nil
}

// Provision creates (or replaces) the chunk table and its index sized
// for the given dimension. Idempotent when the dimension is unchanged:
// existing rows are preserved. A dimension change drops and recreates
// the table, discarding all rows; vectors from a different provider
// cannot coexist with the new dimension.
func (s *Store) Provision(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	current, err := s.Dimension(ctx)
	if err != nil {
		return err
	}
	if current == dimension {
		return nil
	}

	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName)); err != nil {
		return fmt.Errorf("dropping table: %w", err)
	}
	if _, err := s.db.Exec(ctx, createTableSQL(tableName, dimension)); err != nil {
		return fmt.Errorf("creating table: %w", err)
	}
	if _, err := s.db.Exec(ctx, createIndexSQL(indexName, tableName)); err != nil {
		return fmt.Errorf("creating index: %w", err)
	}

	s.logger.Info("provisioned vector store", "dimension", dimension, "previous", current)
	return nil
}

// createTableSQL builds the chunk table DDL. Table names and the
// dimension are compile-time constants or validated integers, never user
// input, so string formatting is safe here.
func createTableSQL(table string, dimension int) string {
	return fmt.Sprintf(`
		CREATE TABLE %s (
			id BIGSERIAL PRIMARY KEY,
			title TEXT NOT NULL,
			summary TEXT NOT NULL,
			chunk TEXT NOT NULL,
			seq INT NOT NULL DEFAULT 0,
			embedding vector(%d) NOT NULL
		)`, table, dimension)
}

func createIndexSQL(index, table string) string {
	return fmt.Sprintf(`
		CREATE INDEX %s ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = %d)`, index, table, ivfflatLists)
}

// Write appends rows to the live table. Every vector must match the
// provisioned dimension; otherwise ErrDimensionMismatch and nothing is
// written.
func (s *Store) Write(ctx context.Context, rows []Row) error {
	return s.writeTo(ctx, tableName, rows)
}

func (s *Store) writeTo(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}

	dim, err := s.tableDimension(ctx, table)
	if err != nil {
		return err
	}
	if dim == 0 {
		return fmt.Errorf("%w: %s", ErrNotProvisioned, table)
	}
	for i, row := range rows {
		if len(row.Embedding) != dim {
			return fmt.Errorf("%w: row %d has dimension %d, table expects %d",
				ErrDimensionMismatch, i, len(row.Embedding), dim)
		}
	}

	insertSQL := fmt.Sprintf(
		`INSERT INTO %s (title, summary, chunk, seq, embedding) VALUES ($1, $2, $3, $4, $5)`, table)

	batch := &pgx.Batch{}
	for _, row := range rows {
		vec := pgvector.NewVector(row.Embedding)
		batch.Queue(insertSQL, row.Title, row.Summary, row.Text, row.Seq, vec)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning write transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting %d rows: %w", len(rows), err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing write: %w", err)
	}

	s.logger.Debug("wrote rows", "table", table, "count", len(rows))
	return nil
}

// Truncate removes all rows from the live table, preserving its schema.
func (s *Store) Truncate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`TRUNCATE %s`, tableName)); err != nil {
		return fmt.Errorf("truncating %s: %w", tableName, err)
	}
	return nil
}

// Count returns the number of rows in the live table. An unprovisioned
// store counts as empty.
func (s *Store) Count(ctx context.Context) (int64, error) {
	dim, err := s.Dimension(ctx)
	if err != nil {
		return 0, err
	}
	if dim == 0 {
		return 0, nil
	}

	var count int64
	if err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, tableName)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return count, nil
}
