package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Meta records which provider and model produced the embeddings that the
// live table currently holds. A single-row table keyed by a constant
// makes the upsert trivial and the row impossible to duplicate.
type Meta struct {
	Provider  string
	Model     string
	Dimension int
	RebuiltAt time.Time
}

// Meta returns the recorded index metadata. The second return is false
// when no rebuild has ever completed.
func (s *Store) Meta(ctx context.Context) (Meta, bool, error) {
	var m Meta
	err := s.db.QueryRow(ctx, `
		SELECT provider, model, dimension, rebuilt_at
		FROM vector_index_meta`).Scan(&m.Provider, &m.Model, &m.Dimension, &m.RebuiltAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, fmt.Errorf("reading index metadata: %w", err)
	}
	return m, true, nil
}

// ProvisionStaging creates an empty staging table sized for the given
// dimension, replacing any leftover staging table from a failed rebuild.
// The staging table carries no index; SwapStaging builds it after the
// bulk load, which is faster than maintaining it row by row.
func (s *Store) ProvisionStaging(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dimension)
	}

	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, stagingTableName)); err != nil {
		return fmt.Errorf("dropping staging table: %w", err)
	}
	if _, err := s.db.Exec(ctx, createTableSQL(stagingTableName, dimension)); err != nil {
		return fmt.Errorf("creating staging table: %w", err)
	}

	s.logger.Info("provisioned staging table", "dimension", dimension)
	return nil
}

// WriteStaging appends rows to the staging table.
func (s *Store) WriteStaging(ctx context.Context, rows []Row) error {
	return s.writeTo(ctx, stagingTableName, rows)
}

// StagingCount returns the number of rows loaded into the staging table
// so far, or 0 when no staging table exists. After a failed rebuild the
// partial staging rows remain for inspection; this reports how far the
// load got.
func (s *Store) StagingCount(ctx context.Context) (int64, error) {
	dim, err := s.tableDimension(ctx, stagingTableName)
	if err != nil {
		return 0, err
	}
	if dim == 0 {
		return 0, nil
	}

	var count int64
	if err := s.db.QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, stagingTableName)).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting staging rows: %w", err)
	}
	return count, nil
}

// SwapStaging promotes the staging table to live in one transaction:
// build the vector index on the loaded rows, drop the old live table,
// rename staging into its place, and record the new metadata. Readers
// see either the old table or the fully loaded new one, never a partial
// state.
func (s *Store) SwapStaging(ctx context.Context, meta Meta) error {
	stagingIndex := stagingTableName + "_embedding_idx"

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning swap transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, createIndexSQL(stagingIndex, stagingTableName)); err != nil {
		return fmt.Errorf("indexing staging table: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, tableName)); err != nil {
		return fmt.Errorf("dropping live table: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, stagingTableName, tableName)); err != nil {
		return fmt.Errorf("renaming staging table: %w", err)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`ALTER INDEX %s RENAME TO %s`, stagingIndex, indexName)); err != nil {
		return fmt.Errorf("renaming staging index: %w", err)
	}

	rebuiltAt := meta.RebuiltAt
	if rebuiltAt.IsZero() {
		rebuiltAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO vector_index_meta (id, provider, model, dimension, rebuilt_at)
		VALUES (TRUE, $1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET
			provider = EXCLUDED.provider,
			model = EXCLUDED.model,
			dimension = EXCLUDED.dimension,
			rebuilt_at = EXCLUDED.rebuilt_at`,
		meta.Provider, meta.Model, meta.Dimension, rebuiltAt); err != nil {
		return fmt.Errorf("recording index metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing swap: %w", err)
	}

	s.logger.Info("swapped staging table to live",
		"provider", meta.Provider, "model", meta.Model, "dimension", meta.Dimension)
	return nil
}

// DropStaging discards the staging table if present. Call it when the
// partial rows of a failed rebuild are no longer needed.
func (s *Store) DropStaging(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, stagingTableName)); err != nil {
		return fmt.Errorf("dropping staging table: %w", err)
	}
	return nil
}
