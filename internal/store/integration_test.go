//go:build integration
// +build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/papyr-ai/papyr/internal/store"
	"github.com/papyr-ai/papyr/internal/testutil"
)

func TestStoreLifecycle(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := store.New(db.Pool, testutil.DiscardLogger())

	// Fresh database: no table, empty counts.
	dim, err := s.Dimension(ctx)
	if err != nil {
		t.Fatalf("Dimension() error = %v", err)
	}
	if dim != 0 {
		t.Fatalf("Dimension() = %d, want 0 before provisioning", dim)
	}

	if err := s.Provision(ctx, 3); err != nil {
		t.Fatalf("Provision(3) error = %v", err)
	}
	dim, err = s.Dimension(ctx)
	if err != nil {
		t.Fatalf("Dimension() error = %v", err)
	}
	if dim != 3 {
		t.Fatalf("Dimension() = %d, want 3", dim)
	}

	rows := []store.Row{
		{Title: "doc", Summary: "sum", Text: "first", Seq: 0, Embedding: []float32{1, 0, 0}},
		{Title: "doc", Summary: "sum", Text: "second", Seq: 1, Embedding: []float32{0, 1, 0}},
	}
	if err := s.Write(ctx, rows); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	count, err := s.Count(ctx)
	if err != nil {
		t.Fatalf("Count() error = %v", err)
	}
	if count != 2 {
		t.Fatalf("Count() = %d, want 2", count)
	}

	// Re-provisioning at the same dimension keeps the rows.
	if err := s.Provision(ctx, 3); err != nil {
		t.Fatalf("Provision(3) again error = %v", err)
	}
	count, _ = s.Count(ctx)
	if count != 2 {
		t.Fatalf("Count() after idempotent provision = %d, want 2", count)
	}

	// Changing the dimension replaces the table and discards rows.
	if err := s.Provision(ctx, 4); err != nil {
		t.Fatalf("Provision(4) error = %v", err)
	}
	count, _ = s.Count(ctx)
	if count != 0 {
		t.Fatalf("Count() after dimension change = %d, want 0", count)
	}

	if err := s.Truncate(ctx); err != nil {
		t.Fatalf("Truncate() error = %v", err)
	}
}

func TestQueryOrdering(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := store.New(db.Pool, testutil.DiscardLogger())

	if err := s.Provision(ctx, 3); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	rows := []store.Row{
		{Title: "a", Summary: "s", Text: "exact", Embedding: []float32{1, 0, 0}},
		{Title: "b", Summary: "s", Text: "near", Embedding: []float32{0.9, 0.1, 0}},
		{Title: "c", Summary: "s", Text: "far", Embedding: []float32{0, 0, 1}},
	}
	if err := s.Write(ctx, rows); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	matches, err := s.Query(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("Query() returned %d matches, want 2", len(matches))
	}
	if matches[0].Chunk.Text != "exact" || matches[1].Chunk.Text != "near" {
		t.Errorf("Query() order = [%q, %q], want [exact, near]",
			matches[0].Chunk.Text, matches[1].Chunk.Text)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Errorf("similarities not descending: %v then %v",
			matches[0].Similarity, matches[1].Similarity)
	}
	if matches[0].Similarity < 0.999 {
		t.Errorf("exact match similarity = %v, want ~1.0", matches[0].Similarity)
	}

	// Exact scan must agree with the index scan on this tiny store.
	exact, err := s.Query(ctx, []float32{1, 0, 0}, 2, store.Exact())
	if err != nil {
		t.Fatalf("Query(Exact) error = %v", err)
	}
	if len(exact) != 2 || exact[0].Chunk.ID != matches[0].Chunk.ID {
		t.Errorf("exact scan disagrees with index scan: %+v vs %+v", exact, matches)
	}
}

func TestQueryTieBreakByID(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := store.New(db.Pool, testutil.DiscardLogger())

	if err := s.Provision(ctx, 2); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}

	// Identical vectors tie on distance; the lower id must come first.
	same := []float32{0.6, 0.8}
	rows := []store.Row{
		{Title: "first", Summary: "s", Text: "c", Embedding: same},
		{Title: "second", Summary: "s", Text: "c", Embedding: same},
		{Title: "third", Summary: "s", Text: "c", Embedding: same},
	}
	if err := s.Write(ctx, rows); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	for range 5 {
		matches, err := s.Query(ctx, same, 3)
		if err != nil {
			t.Fatalf("Query() error = %v", err)
		}
		if len(matches) != 3 {
			t.Fatalf("Query() returned %d matches, want 3", len(matches))
		}
		for i := 1; i < len(matches); i++ {
			if matches[i].Chunk.ID <= matches[i-1].Chunk.ID {
				t.Fatalf("tie not broken by ascending id: %d then %d",
					matches[i-1].Chunk.ID, matches[i].Chunk.ID)
			}
		}
	}
}

func TestStagingSwap(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := store.New(db.Pool, testutil.DiscardLogger())

	// Live table with old content.
	if err := s.Provision(ctx, 2); err != nil {
		t.Fatalf("Provision() error = %v", err)
	}
	if err := s.Write(ctx, []store.Row{
		{Title: "old", Summary: "s", Text: "old chunk", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Load the staging table at a different dimension, then swap.
	if err := s.ProvisionStaging(ctx, 3); err != nil {
		t.Fatalf("ProvisionStaging() error = %v", err)
	}
	if err := s.WriteStaging(ctx, []store.Row{
		{Title: "new", Summary: "s", Text: "new chunk", Embedding: []float32{0, 1, 0}},
		{Title: "new", Summary: "s", Text: "other chunk", Embedding: []float32{0, 0, 1}},
	}); err != nil {
		t.Fatalf("WriteStaging() error = %v", err)
	}

	staged, err := s.StagingCount(ctx)
	if err != nil {
		t.Fatalf("StagingCount() error = %v", err)
	}
	if staged != 2 {
		t.Fatalf("StagingCount() = %d, want 2", staged)
	}

	// Live table is untouched while staging loads.
	count, _ := s.Count(ctx)
	if count != 1 {
		t.Fatalf("Count() during staging load = %d, want 1", count)
	}

	rebuilt := time.Now().UTC().Truncate(time.Second)
	if err := s.SwapStaging(ctx, store.Meta{
		Provider: "ollama", Model: "nomic-embed-text", Dimension: 3, RebuiltAt: rebuilt,
	}); err != nil {
		t.Fatalf("SwapStaging() error = %v", err)
	}

	dim, _ := s.Dimension(ctx)
	if dim != 3 {
		t.Fatalf("Dimension() after swap = %d, want 3", dim)
	}
	count, _ = s.Count(ctx)
	if count != 2 {
		t.Fatalf("Count() after swap = %d, want 2", count)
	}
	staged, _ = s.StagingCount(ctx)
	if staged != 0 {
		t.Fatalf("StagingCount() after swap = %d, want 0", staged)
	}

	meta, ok, err := s.Meta(ctx)
	if err != nil {
		t.Fatalf("Meta() error = %v", err)
	}
	if !ok {
		t.Fatal("Meta() ok = false after swap")
	}
	if meta.Provider != "ollama" || meta.Model != "nomic-embed-text" || meta.Dimension != 3 {
		t.Errorf("Meta() = %+v, want recorded rebuild metadata", meta)
	}

	// The swapped-in table serves queries through the renamed index.
	matches, err := s.Query(ctx, []float32{0, 1, 0}, 1)
	if err != nil {
		t.Fatalf("Query() after swap error = %v", err)
	}
	if len(matches) != 1 || matches[0].Chunk.Text != "new chunk" {
		t.Fatalf("Query() after swap = %+v, want the new chunk", matches)
	}
}

func TestDropStagingAfterFailure(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	s := store.New(db.Pool, testutil.DiscardLogger())

	if err := s.ProvisionStaging(ctx, 2); err != nil {
		t.Fatalf("ProvisionStaging() error = %v", err)
	}
	if err := s.WriteStaging(ctx, []store.Row{
		{Title: "partial", Summary: "s", Text: "c", Embedding: []float32{1, 0}},
	}); err != nil {
		t.Fatalf("WriteStaging() error = %v", err)
	}

	// Partial rows stay inspectable until explicitly dropped.
	staged, _ := s.StagingCount(ctx)
	if staged != 1 {
		t.Fatalf("StagingCount() = %d, want 1", staged)
	}

	if err := s.DropStaging(ctx); err != nil {
		t.Fatalf("DropStaging() error = %v", err)
	}
	staged, _ = s.StagingCount(ctx)
	if staged != 0 {
		t.Fatalf("StagingCount() after drop = %d, want 0", staged)
	}

	// Re-provisioning staging replaces any leftover.
	if err := s.ProvisionStaging(ctx, 2); err != nil {
		t.Fatalf("ProvisionStaging() again error = %v", err)
	}
	if err := s.ProvisionStaging(ctx, 4); err != nil {
		t.Fatalf("ProvisionStaging() at new dimension error = %v", err)
	}
}

func TestMetaAbsentBeforeFirstRebuild(t *testing.T) {
	db, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	s := store.New(db.Pool, testutil.DiscardLogger())
	_, ok, err := s.Meta(context.Background())
	if err != nil {
		t.Fatalf("Meta() error = %v", err)
	}
	if ok {
		t.Fatal("Meta() ok = true on fresh database")
	}
}
