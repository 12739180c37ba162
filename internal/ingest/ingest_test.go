package ingest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/papyr-ai/papyr/internal/testutil"
)

func writeDoc(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

func TestLoadDirSortedOrder(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "b.json", `{"title": "Second", "summary": "two"}`)
	writeDoc(t, dir, "a.json", `{"title": "First", "summary": "one"}`)
	writeDoc(t, dir, "c.json", `{"title": "Third", "summary": "three"}`)

	result, err := LoadDir(dir, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if result.Loaded != 3 {
		t.Fatalf("Loaded = %d, want 3", result.Loaded)
	}

	want := []string{"First", "Second", "Third"}
	for i, doc := range result.Documents {
		if doc.Title != want[i] {
			t.Errorf("Documents[%d].Title = %q, want %q (sorted filename order)", i, doc.Title, want[i])
		}
	}
}

func TestLoadDirDocumentArray(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "batch.json", `[
		{"title": "One", "summary": "first"},
		{"title": "Two", "summary": ""},
		{"title": "Three", "summary": "third"}
	]`)
	writeDoc(t, dir, "single.json", `{"title": "Solo", "summary": "alone"}`)

	result, err := LoadDir(dir, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if result.Loaded != 3 || result.Skipped != 1 {
		t.Fatalf("Loaded = %d, Skipped = %d, want 3 and 1", result.Loaded, result.Skipped)
	}

	want := []string{"One", "Three", "Solo"}
	for i, doc := range result.Documents {
		if doc.Title != want[i] {
			t.Errorf("Documents[%d].Title = %q, want %q", i, doc.Title, want[i])
		}
	}
}

func TestLoadDirSkipsEmptySummaries(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.json", `{"title": "Good", "summary": "content"}`)
	writeDoc(t, dir, "empty.json", `{"title": "Empty", "summary": ""}`)
	writeDoc(t, dir, "blank.json", `{"title": "Blank", "summary": "   "}`)

	result, err := LoadDir(dir, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if result.Loaded != 1 || result.Skipped != 2 {
		t.Errorf("Loaded = %d, Skipped = %d, want 1 and 2", result.Loaded, result.Skipped)
	}
}

func TestLoadDirIgnoresNonJSON(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "doc.json", `{"title": "Doc", "summary": "s"}`)
	writeDoc(t, dir, "README.md", "not a document")
	if err := os.Mkdir(filepath.Join(dir, "nested.json"), 0o750); err != nil {
		t.Fatal(err)
	}

	result, err := LoadDir(dir, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	if result.Loaded != 1 {
		t.Errorf("Loaded = %d, want 1", result.Loaded)
	}
}

func TestLoadDirMalformedJSONFailsLoad(t *testing.T) {
	dir := t.TempDir()
	writeDoc(t, dir, "good.json", `{"title": "Good", "summary": "s"}`)
	writeDoc(t, dir, "broken.json", `{"title": "Broken", "summary":`)

	if _, err := LoadDir(dir, testutil.DiscardLogger()); err == nil {
		t.Fatal("LoadDir() expected error for malformed JSON, got nil")
	}
}

func TestLoadDirEmptyCorpus(t *testing.T) {
	_, err := LoadDir(t.TempDir(), testutil.DiscardLogger())
	if !errors.Is(err, ErrEmptyCorpus) {
		t.Fatalf("LoadDir(empty) error = %v, want ErrEmptyCorpus", err)
	}
}

func TestLoadDirMissingDirectory(t *testing.T) {
	if _, err := LoadDir("/nonexistent/corpus", testutil.DiscardLogger()); err == nil {
		t.Fatal("LoadDir(missing dir) expected error, got nil")
	}
}

func TestDocumentBody(t *testing.T) {
	withText := Document{Summary: "short", Text: "full text"}
	if withText.Body() != "full text" {
		t.Errorf("Body() = %q, want full text when present", withText.Body())
	}

	summaryOnly := Document{Summary: "short"}
	if summaryOnly.Body() != "short" {
		t.Errorf("Body() = %q, want summary fallback", summaryOnly.Body())
	}

	blankText := Document{Summary: "short", Text: "  "}
	if blankText.Body() != "short" {
		t.Errorf("Body() = %q, want summary when text is blank", blankText.Body())
	}
}
