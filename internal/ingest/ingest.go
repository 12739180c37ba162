// Package ingest loads source documents from disk for indexing.
//
// A corpus is a directory of JSON files holding documents of the shape
// {"title": ..., "summary": ..., "text": ...}, either one object per
// file or a top-level array of them. The text field is optional; when
// absent the summary is what gets chunked and embedded, matching corpora
// of paper abstracts where the summary is the content.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrEmptyCorpus indicates the directory contained no loadable documents.
var ErrEmptyCorpus = errors.New("corpus contains no loadable documents")

// Document is one source document ready for chunking.
type Document struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
	Text    string `json:"text,omitempty"`
}

// Body returns the content to chunk and embed: the full text when
// present, the summary otherwise.
func (d Document) Body() string {
	if strings.TrimSpace(d.Text) != "" {
		return d.Text
	}
	return d.Summary
}

// LoadResult reports what a directory load found.
type LoadResult struct {
	Documents []Document
	Loaded    int
	Skipped   int // files without a usable summary
}

// LoadDir reads every *.json file in dir, in sorted filename order so
// loads are deterministic. Documents with a blank summary are skipped
// and counted rather than failing the load. A malformed JSON file fails
// the whole load: a broken corpus should be fixed, not silently thinned.
func LoadDir(dir string, logger *slog.Logger) (*LoadResult, error) {
	if logger == nil {
		logger = slog.Default()
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading corpus directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	result := &LoadResult{}
	for _, name := range names {
		path := filepath.Join(dir, name)
		docs, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}

		for _, doc := range docs {
			if strings.TrimSpace(doc.Summary) == "" {
				logger.Warn("skipping document with empty summary", "file", name, "title", doc.Title)
				result.Skipped++
				continue
			}
			result.Documents = append(result.Documents, doc)
			result.Loaded++
		}
	}

	if result.Loaded == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyCorpus, dir)
	}

	logger.Info("loaded corpus", "dir", dir, "loaded", result.Loaded, "skipped", result.Skipped)
	return result, nil
}

// loadFile parses one corpus file, which holds either a single document
// object or an array of them.
func loadFile(path string) ([]Document, error) {
	// #nosec G304 -- path comes from the configured corpus directory
	data, err := os.ReadFile(path)
	if err != nil {
		var pathErr *fs.PathError
		if errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		return nil, err
	}

	if isJSONArray(data) {
		var docs []Document
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, fmt.Errorf("parsing document array JSON: %w", err)
		}
		return docs, nil
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing document JSON: %w", err)
	}
	return []Document{doc}, nil
}

func isJSONArray(data []byte) bool {
	trimmed := strings.TrimLeftFunc(string(data), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
	return strings.HasPrefix(trimmed, "[")
}
