// Package chunk splits document text into overlapping word windows, the
// unit of embedding and retrieval.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidParameter indicates the caller passed an out-of-range chunking
// parameter. Never retried; check with errors.Is.
var ErrInvalidParameter = errors.New("invalid chunk parameter")

// Split partitions text into chunks of at most size words, with overlap
// words shared between consecutive chunks. The stride between chunk starts
// is size-overlap, so joining the chunks with each subsequent chunk's
// first overlap words removed reproduces the source word sequence.
//
// Split is pure and deterministic: identical inputs always yield identical
// output. An empty or whitespace-only text yields an empty slice.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size must be positive, got %d", ErrInvalidParameter, size)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("%w: overlap must be non-negative, got %d", ErrInvalidParameter, overlap)
	}
	if overlap >= size {
		return nil, fmt.Errorf("%w: overlap (%d) must be smaller than size (%d)", ErrInvalidParameter, overlap, size)
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil, nil
	}

	stride := size - overlap
	chunks := make([]string, 0, (len(words)+stride-1)/stride)
	for start := 0; start < len(words); start += stride {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks, nil
}

// Reassemble inverts Split: it joins chunks produced with the given
// overlap back into the original word sequence. Used by tests to verify
// the reconstruction property.
func Reassemble(chunks []string, overlap int) string {
	if len(chunks) == 0 {
		return ""
	}
	words := strings.Fields(chunks[0])
	for _, c := range chunks[1:] {
		cw := strings.Fields(c)
		if overlap < len(cw) {
			words = append(words, cw[overlap:]...)
		}
	}
	return strings.Join(words, " ")
}
