// Package pipeline orchestrates index rebuilds: load the corpus, chunk
// every document, embed the chunks, load a staging table, and atomically
// swap it live.
//
// Exactly one rebuild runs at a time. An in-process mutex guards
// concurrent calls within one server; a file lock extends the guard
// across processes sharing a host, so a CLI rebuild and a server rebuild
// cannot interleave.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/papyr-ai/papyr/internal/chunk"
	"github.com/papyr-ai/papyr/internal/ingest"
	"github.com/papyr-ai/papyr/internal/store"
)

// Sentinel errors for rebuild control flow. Check with errors.Is.
var (
	// ErrRebuildInProgress indicates another rebuild holds the guard.
	ErrRebuildInProgress = errors.New("rebuild already in progress")

	// ErrRebuildFailed wraps the cause of the most recent failed rebuild.
	ErrRebuildFailed = errors.New("rebuild failed")

	// ErrInvalidRequest marks a rebuild request rejected before any work
	// started. The orchestrator state is unchanged.
	ErrInvalidRequest = errors.New("invalid rebuild request")
)

// State describes the index lifecycle.
type State int

const (
	// StateStale means the index does not match the configured
	// embedding provider and model, or has never been built.
	StateStale State = iota
	// StateFresh means the live index matches the configuration.
	StateFresh
	// StateRebuilding means a rebuild is running right now.
	StateRebuilding
	// StateFailed means the last rebuild errored. The staging table
	// keeps its partial rows for inspection; the live index is whatever
	// it was before the attempt.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateRebuilding:
		return "rebuilding"
	case StateFailed:
		return "failed"
	default:
		return "stale"
	}
}

// Embedder is the slice of the embedding gateway the pipeline needs.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	ProbeDimension(ctx context.Context) (int, error)
}

// Indexer is the slice of the vector store the pipeline needs.
type Indexer interface {
	Meta(ctx context.Context) (store.Meta, bool, error)
	ProvisionStaging(ctx context.Context, dimension int) error
	WriteStaging(ctx context.Context, rows []store.Row) error
	SwapStaging(ctx context.Context, meta store.Meta) error
	StagingCount(ctx context.Context) (int64, error)
}

// Config carries the knobs a rebuild runs with.
type Config struct {
	Provider     string
	Model        string
	CorpusDir    string
	ChunkSize    int // words per chunk
	ChunkOverlap int // words shared between adjacent chunks
	WriteBatch   int // rows per staging write, defaults to 64
	LockPath     string
}

// Request optionally overrides the configured corpus location and
// chunking for a single rebuild. A zero CorpusDir keeps the configured
// directory; a zero ChunkSize keeps the configured size and overlap.
// When ChunkSize is set the overlap travels with it, so an explicit
// overlap of zero is expressible.
type Request struct {
	CorpusDir    string `json:"source_dir,omitempty"`
	ChunkSize    int    `json:"chunk_size,omitempty"`
	ChunkOverlap int    `json:"chunk_overlap,omitempty"`
}

// Status is a point-in-time snapshot of the orchestrator.
type Status struct {
	State       State      `json:"state"`
	JobID       string     `json:"job_id,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	Documents   int        `json:"documents"`
	Skipped     int        `json:"skipped"`
	Chunks      int        `json:"chunks"`
	Dimension   int        `json:"dimension,omitempty"`
	FailedBatch *int       `json:"failed_batch,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Orchestrator drives rebuilds and tracks index freshness.
//
// Orchestrator is safe for concurrent use by multiple goroutines.
type Orchestrator struct {
	cfg      Config
	embedder Embedder
	indexer  Indexer
	lock     *flock.Flock
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	status  Status
}

// New creates an Orchestrator. Call Init afterwards to derive the
// starting state from what the store already holds.
func New(cfg Config, embedder Embedder, indexer Indexer, logger *slog.Logger) (*Orchestrator, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if indexer == nil {
		return nil, fmt.Errorf("indexer is required")
	}
	if cfg.Provider == "" || cfg.Model == "" {
		return nil, fmt.Errorf("provider and model are required")
	}
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, size), got %d", cfg.ChunkOverlap)
	}
	if cfg.WriteBatch <= 0 {
		cfg.WriteBatch = 64
	}
	if cfg.LockPath == "" {
		cfg.LockPath = filepath.Join(os.TempDir(), "papyr-rebuild.lock")
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Orchestrator{
		cfg:      cfg,
		embedder: embedder,
		indexer:  indexer,
		lock:     flock.New(cfg.LockPath),
		logger:   logger,
		status:   Status{State: StateStale},
	}, nil
}

// Init inspects the store's recorded metadata and sets the starting
// state: fresh when the live index was built by the configured provider
// and model, stale otherwise. Call once at startup.
func (o *Orchestrator) Init(ctx context.Context) error {
	meta, ok, err := o.indexer.Meta(ctx)
	if err != nil {
		return fmt.Errorf("reading index metadata: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if ok && meta.Provider == o.cfg.Provider && meta.Model == o.cfg.Model {
		o.status.State = StateFresh
		o.status.Dimension = meta.Dimension
		o.logger.Info("index is fresh",
			"provider", meta.Provider, "model", meta.Model, "rebuilt_at", meta.RebuiltAt)
	} else {
		o.status.State = StateStale
		if ok {
			o.logger.Warn("index is stale",
				"index_provider", meta.Provider, "index_model", meta.Model,
				"configured_provider", o.cfg.Provider, "configured_model", o.cfg.Model)
		} else {
			o.logger.Info("no index built yet")
		}
	}
	return nil
}

// Status returns a snapshot of the current state.
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// MarkStale flags the index as needing a rebuild. No-op while a rebuild
// is running.
func (o *Orchestrator) MarkStale() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.State != StateRebuilding {
		o.status.State = StateStale
	}
}

// Start begins a rebuild in the background and returns its job id.
// Returns ErrRebuildInProgress when a rebuild is already running, in
// this process or another one on the same host.
//
// The rebuild itself runs on context.Background: canceling the request
// that triggered it must not abort the work.
func (o *Orchestrator) Start(ctx context.Context, req Request) (string, error) {
	jobID, cfg, err := o.begin(req)
	if err != nil {
		return "", err
	}

	go func() {
		err := o.execute(context.Background(), jobID, cfg)
		o.finish(jobID, err)
	}()

	return jobID, nil
}

// Run executes a rebuild synchronously. Same guard as Start.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	jobID, cfg, err := o.begin(req)
	if err != nil {
		return err
	}

	err = o.execute(ctx, jobID, cfg)
	o.finish(jobID, err)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRebuildFailed, err)
	}
	return nil
}

// resolve merges per-request overrides into the configured defaults and
// validates the result.
func (o *Orchestrator) resolve(req Request) (Config, error) {
	cfg := o.cfg
	if req.CorpusDir != "" {
		cfg.CorpusDir = req.CorpusDir
	}
	if req.ChunkSize != 0 {
		cfg.ChunkSize = req.ChunkSize
		cfg.ChunkOverlap = req.ChunkOverlap
	}
	if cfg.ChunkSize <= 0 {
		return Config{}, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidRequest, cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return Config{}, fmt.Errorf("%w: chunk overlap must be in [0, size), got %d", ErrInvalidRequest, cfg.ChunkOverlap)
	}
	return cfg, nil
}

// begin validates the request, acquires both guards, and transitions to
// StateRebuilding.
func (o *Orchestrator) begin(req Request) (string, Config, error) {
	cfg, err := o.resolve(req)
	if err != nil {
		return "", Config{}, err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return "", Config{}, ErrRebuildInProgress
	}

	locked, err := o.lock.TryLock()
	if err != nil {
		return "", Config{}, fmt.Errorf("acquiring rebuild lock: %w", err)
	}
	if !locked {
		return "", Config{}, fmt.Errorf("%w: lock held by another process", ErrRebuildInProgress)
	}

	jobID := uuid.NewString()
	now := time.Now().UTC()
	o.running = true
	o.status = Status{
		State:     StateRebuilding,
		JobID:     jobID,
		StartedAt: &now,
	}
	o.logger.Info("rebuild started", "job_id", jobID, "corpus_dir", cfg.CorpusDir)
	return jobID, cfg, nil
}

// finish releases the guards and records the outcome.
func (o *Orchestrator) finish(jobID string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if unlockErr := o.lock.Unlock(); unlockErr != nil {
		o.logger.Warn("failed to release rebuild lock", "error", unlockErr)
	}
	o.running = false

	now := time.Now().UTC()
	o.status.FinishedAt = &now
	if err != nil {
		o.status.State = StateFailed
		o.status.Error = err.Error()
		o.logger.Error("rebuild failed", "job_id", jobID, "error", err)
		return
	}
	o.status.State = StateFresh
	o.logger.Info("rebuild completed",
		"job_id", jobID,
		"documents", o.status.Documents,
		"chunks", o.status.Chunks,
		"duration", now.Sub(*o.status.StartedAt).Round(time.Millisecond))
}

// execute performs the rebuild proper. On error the staging table keeps
// whatever was loaded so far; the live table is never touched until the
// final swap.
func (o *Orchestrator) execute(ctx context.Context, jobID string, cfg Config) error {
	corpus, err := ingest.LoadDir(cfg.CorpusDir, o.logger)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	o.updateStatus(func(s *Status) {
		s.Documents = corpus.Loaded
		s.Skipped = corpus.Skipped
	})

	// Chunk everything up front. Embedding dominates the cost, so there
	// is nothing to gain from streaming the chunking.
	type pending struct {
		doc ingest.Document
		seq int
		txt string
	}
	var chunks []pending
	for _, doc := range corpus.Documents {
		pieces, err := chunk.Split(doc.Body(), cfg.ChunkSize, cfg.ChunkOverlap)
		if err != nil {
			return fmt.Errorf("chunking %q: %w", doc.Title, err)
		}
		for seq, piece := range pieces {
			chunks = append(chunks, pending{doc: doc, seq: seq, txt: piece})
		}
	}
	if len(chunks) == 0 {
		return fmt.Errorf("corpus produced no chunks")
	}
	o.updateStatus(func(s *Status) { s.Chunks = len(chunks) })

	dimension, err := o.embedder.ProbeDimension(ctx)
	if err != nil {
		return fmt.Errorf("probing embedding dimension: %w", err)
	}
	o.updateStatus(func(s *Status) { s.Dimension = dimension })

	if err := o.indexer.ProvisionStaging(ctx, dimension); err != nil {
		return err
	}

	// Embed and write in batches so a failure loses at most one batch
	// of embedding work and the staging table shows progress. The batch
	// index of a failure is recorded in the status for inspection.
	for start := 0; start < len(chunks); start += cfg.WriteBatch {
		end := min(start+cfg.WriteBatch, len(chunks))
		batch := chunks[start:end]
		batchIndex := start / cfg.WriteBatch

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.txt
		}

		vectors, err := o.embedder.Embed(ctx, texts)
		if err != nil {
			o.updateStatus(func(s *Status) { s.FailedBatch = &batchIndex })
			return fmt.Errorf("embedding batch %d (chunks %d-%d): %w", batchIndex, start, end-1, err)
		}

		rows := make([]store.Row, len(batch))
		for i, p := range batch {
			rows[i] = store.Row{
				Title:     p.doc.Title,
				Summary:   p.doc.Summary,
				Text:      p.txt,
				Seq:       p.seq,
				Embedding: vectors[i],
			}
		}
		if err := o.indexer.WriteStaging(ctx, rows); err != nil {
			o.updateStatus(func(s *Status) { s.FailedBatch = &batchIndex })
			return fmt.Errorf("writing batch %d: %w", batchIndex, err)
		}

		o.logger.Debug("staged chunk batch", "job_id", jobID, "written", end, "total", len(chunks))
	}

	if err := o.indexer.SwapStaging(ctx, store.Meta{
		Provider:  cfg.Provider,
		Model:     cfg.Model,
		Dimension: dimension,
		RebuiltAt: time.Now().UTC(),
	}); err != nil {
		return err
	}

	return nil
}

func (o *Orchestrator) updateStatus(fn func(*Status)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fn(&o.status)
}
