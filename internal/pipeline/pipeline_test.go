package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/papyr-ai/papyr/internal/store"
	"github.com/papyr-ai/papyr/internal/testutil"
)

type fakeEmbedder struct {
	dim      int
	embedErr error
	probeErr error
	block    chan struct{} // when set, Embed waits until closed

	mu    sync.Mutex
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.embedErr != nil {
		return nil, f.embedErr
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
		out[i][0] = float32(i)
	}
	return out, nil
}

func (f *fakeEmbedder) ProbeDimension(context.Context) (int, error) {
	if f.probeErr != nil {
		return 0, f.probeErr
	}
	return f.dim, nil
}

type fakeIndexer struct {
	mu             sync.Mutex
	meta           store.Meta
	hasMeta        bool
	metaErr        error
	provisionedDim int
	staged         []store.Row
	writeErr       error
	swapped        bool
	swapMeta       store.Meta
}

func (f *fakeIndexer) Meta(context.Context) (store.Meta, bool, error) {
	return f.meta, f.hasMeta, f.metaErr
}

func (f *fakeIndexer) ProvisionStaging(_ context.Context, dim int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.provisionedDim = dim
	f.staged = nil
	return nil
}

func (f *fakeIndexer) WriteStaging(_ context.Context, rows []store.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.staged = append(f.staged, rows...)
	return nil
}

func (f *fakeIndexer) SwapStaging(_ context.Context, meta store.Meta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swapped = true
	f.swapMeta = meta
	return nil
}

func (f *fakeIndexer) StagingCount(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.staged)), nil
}

func writeCorpus(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func testConfig(t *testing.T, corpusDir string) Config {
	t.Helper()
	return Config{
		Provider:     "ollama",
		Model:        "nomic-embed-text",
		CorpusDir:    corpusDir,
		ChunkSize:    4,
		ChunkOverlap: 1,
		WriteBatch:   3,
		LockPath:     filepath.Join(t.TempDir(), "rebuild.lock"),
	}
}

func TestNewValidation(t *testing.T) {
	logger := testutil.DiscardLogger()
	embedder := &fakeEmbedder{dim: 2}
	indexer := &fakeIndexer{}

	tests := []struct {
		name   string
		mangle func(*Config)
	}{
		{"missing provider", func(c *Config) { c.Provider = "" }},
		{"missing model", func(c *Config) { c.Model = "" }},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }},
		{"overlap >= size", func(c *Config) { c.ChunkOverlap = 4 }},
		{"negative overlap", func(c *Config) { c.ChunkOverlap = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, t.TempDir())
			tt.mangle(&cfg)
			if _, err := New(cfg, embedder, indexer, logger); err == nil {
				t.Error("New() expected error, got nil")
			}
		})
	}

	if _, err := New(testConfig(t, t.TempDir()), nil, indexer, logger); err == nil {
		t.Error("New(nil embedder) expected error, got nil")
	}
	if _, err := New(testConfig(t, t.TempDir()), embedder, nil, logger); err == nil {
		t.Error("New(nil indexer) expected error, got nil")
	}
}

func TestRunRebuildsIndex(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two three four five six"}`,
		"b.json": `{"title": "Beta", "summary": "seven eight nine"}`,
		"c.json": `{"title": "Gamma", "summary": ""}`,
	})

	embedder := &fakeEmbedder{dim: 3}
	indexer := &fakeIndexer{}
	o, err := New(testConfig(t, dir), embedder, indexer, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := o.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if indexer.provisionedDim != 3 {
		t.Errorf("provisioned dimension = %d, want probed 3", indexer.provisionedDim)
	}
	if !indexer.swapped {
		t.Fatal("staging table was never swapped live")
	}
	if indexer.swapMeta.Provider != "ollama" || indexer.swapMeta.Model != "nomic-embed-text" {
		t.Errorf("swap meta = %+v, want configured provider and model", indexer.swapMeta)
	}

	// Six words at size 4 overlap 1 give two chunks; three words give one.
	if len(indexer.staged) != 3 {
		t.Fatalf("staged %d rows, want 3", len(indexer.staged))
	}
	if indexer.staged[0].Title != "Alpha" || indexer.staged[0].Seq != 0 {
		t.Errorf("first row = %+v, want Alpha seq 0", indexer.staged[0])
	}
	if indexer.staged[1].Title != "Alpha" || indexer.staged[1].Seq != 1 {
		t.Errorf("second row = %+v, want Alpha seq 1", indexer.staged[1])
	}
	if indexer.staged[2].Title != "Beta" || indexer.staged[2].Seq != 0 {
		t.Errorf("third row = %+v, want Beta seq 0", indexer.staged[2])
	}

	status := o.Status()
	if status.State != StateFresh {
		t.Errorf("state = %v, want fresh", status.State)
	}
	if status.Documents != 2 || status.Skipped != 1 || status.Chunks != 3 {
		t.Errorf("status counts = %+v, want 2 documents, 1 skipped, 3 chunks", status)
	}
	if status.JobID == "" || status.StartedAt == nil || status.FinishedAt == nil {
		t.Errorf("status missing job bookkeeping: %+v", status)
	}
}

func TestRunEmbedderFailureLeavesStaging(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two three four"}`,
	})

	embedder := &fakeEmbedder{dim: 3, embedErr: errors.New("provider down")}
	indexer := &fakeIndexer{}
	o, err := New(testConfig(t, dir), embedder, indexer, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	err = o.Run(context.Background(), Request{})
	if !errors.Is(err, ErrRebuildFailed) {
		t.Fatalf("Run() error = %v, want ErrRebuildFailed", err)
	}

	if indexer.swapped {
		t.Error("failed rebuild must not swap staging live")
	}

	status := o.Status()
	if status.State != StateFailed {
		t.Errorf("state = %v, want failed", status.State)
	}
	if status.Error == "" {
		t.Error("status.Error empty after failed rebuild")
	}
	if status.FailedBatch == nil || *status.FailedBatch != 0 {
		t.Errorf("FailedBatch = %v, want first batch (0)", status.FailedBatch)
	}

	// A failed run releases the guard; the next rebuild may proceed.
	embedder.embedErr = nil
	if err := o.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("Run() after failure error = %v", err)
	}
	if o.Status().State != StateFresh {
		t.Errorf("state after recovery = %v, want fresh", o.Status().State)
	}
}

func TestRunRequestOverrides(t *testing.T) {
	defaultDir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Default", "summary": "one two three four"}`,
	})
	overrideDir := writeCorpus(t, map[string]string{
		"b.json": `{"title": "Override", "summary": "one two three four five six"}`,
	})

	indexer := &fakeIndexer{}
	o, err := New(testConfig(t, defaultDir), &fakeEmbedder{dim: 2}, indexer, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Six words at size 3 overlap 0 give two chunks from the override dir.
	req := Request{CorpusDir: overrideDir, ChunkSize: 3}
	if err := o.Run(context.Background(), req); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(indexer.staged) != 2 {
		t.Fatalf("staged %d rows, want 2", len(indexer.staged))
	}
	if indexer.staged[0].Title != "Override" {
		t.Errorf("staged row title = %q, want document from override dir", indexer.staged[0].Title)
	}
}

func TestRunInvalidRequest(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two three four"}`,
	})

	o, err := New(testConfig(t, dir), &fakeEmbedder{dim: 2}, &fakeIndexer{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	tests := []struct {
		name string
		req  Request
	}{
		{"negative chunk size", Request{ChunkSize: -1}},
		{"overlap >= size", Request{ChunkSize: 3, ChunkOverlap: 3}},
		{"negative overlap", Request{ChunkSize: 3, ChunkOverlap: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.Run(context.Background(), tt.req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("Run() error = %v, want ErrInvalidRequest", err)
			}
			// A rejected request never becomes a failed job.
			if got := o.Status().State; got != StateStale {
				t.Errorf("state = %v, want stale", got)
			}
		})
	}
}

func TestRunMalformedCorpusFails(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"bad.json": `{"title": "Broken"`,
	})

	o, err := New(testConfig(t, dir), &fakeEmbedder{dim: 2}, &fakeIndexer{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := o.Run(context.Background(), Request{}); !errors.Is(err, ErrRebuildFailed) {
		t.Fatalf("Run() error = %v, want ErrRebuildFailed", err)
	}
	if o.Status().State != StateFailed {
		t.Errorf("state = %v, want failed", o.Status().State)
	}
}

func TestStartRejectsConcurrentRebuild(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two three four"}`,
	})

	block := make(chan struct{})
	embedder := &fakeEmbedder{dim: 2, block: block}
	o, err := New(testConfig(t, dir), embedder, &fakeIndexer{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	jobID, err := o.Start(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if jobID == "" {
		t.Fatal("Start() returned empty job id")
	}

	if _, err := o.Start(context.Background(), Request{}); !errors.Is(err, ErrRebuildInProgress) {
		t.Errorf("second Start() error = %v, want ErrRebuildInProgress", err)
	}
	if err := o.Run(context.Background(), Request{}); !errors.Is(err, ErrRebuildInProgress) {
		t.Errorf("Run() during rebuild error = %v, want ErrRebuildInProgress", err)
	}
	if got := o.Status().State; got != StateRebuilding {
		t.Errorf("state = %v, want rebuilding", got)
	}

	close(block)
	waitForState(t, o, StateFresh)
}

func TestStartSurvivesCallerCancellation(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two three four"}`,
	})

	o, err := New(testConfig(t, dir), &fakeEmbedder{dim: 2}, &fakeIndexer{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	if _, err := o.Start(ctx, Request{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	cancel()

	waitForState(t, o, StateFresh)
}

func TestInitStates(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two three four"}`,
	})
	ctx := context.Background()

	tests := []struct {
		name    string
		indexer *fakeIndexer
		want    State
	}{
		{
			name: "matching metadata is fresh",
			indexer: &fakeIndexer{
				hasMeta: true,
				meta:    store.Meta{Provider: "ollama", Model: "nomic-embed-text", Dimension: 768},
			},
			want: StateFresh,
		},
		{
			name: "different model is stale",
			indexer: &fakeIndexer{
				hasMeta: true,
				meta:    store.Meta{Provider: "ollama", Model: "other-model", Dimension: 768},
			},
			want: StateStale,
		},
		{
			name: "different provider is stale",
			indexer: &fakeIndexer{
				hasMeta: true,
				meta:    store.Meta{Provider: "openai", Model: "nomic-embed-text", Dimension: 768},
			},
			want: StateStale,
		},
		{
			name:    "no metadata is stale",
			indexer: &fakeIndexer{},
			want:    StateStale,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, err := New(testConfig(t, dir), &fakeEmbedder{dim: 2}, tt.indexer, testutil.DiscardLogger())
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if err := o.Init(ctx); err != nil {
				t.Fatalf("Init() error = %v", err)
			}
			if got := o.Status().State; got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitMetaError(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two"}`,
	})

	indexer := &fakeIndexer{metaErr: errors.New("connection refused")}
	o, err := New(testConfig(t, dir), &fakeEmbedder{dim: 2}, indexer, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := o.Init(context.Background()); err == nil {
		t.Fatal("Init() expected error, got nil")
	}
}

func TestMarkStale(t *testing.T) {
	dir := writeCorpus(t, map[string]string{
		"a.json": `{"title": "Alpha", "summary": "one two three four"}`,
	})

	o, err := New(testConfig(t, dir), &fakeEmbedder{dim: 2}, &fakeIndexer{}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := o.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	o.MarkStale()
	if got := o.Status().State; got != StateStale {
		t.Errorf("state after MarkStale = %v, want stale", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateStale, "stale"},
		{StateFresh, "fresh"},
		{StateRebuilding, "rebuilding"},
		{StateFailed, "failed"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

// waitForState polls until the orchestrator reaches the wanted state or
// the deadline passes.
func waitForState(t *testing.T, o *Orchestrator, want State) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if o.Status().State == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for state %v, still %v", want, o.Status().State)
}

func ExampleOrchestrator_Status() {
	fmt.Println(StateStale, StateFresh, StateRebuilding, StateFailed)
	// Output: stale fresh rebuilding failed
}
