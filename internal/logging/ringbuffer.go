package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
)

// RingBuffer keeps the newest log records in memory for crash dumps
// (SIGUSR1). slog handlers write one record per Write call, so each Write is
// kept or evicted as a whole and a dump never starts mid-record. The total
// is capped at limit bytes; a single record larger than that keeps its tail.
type RingBuffer struct {
	mu      sync.Mutex
	limit   int
	size    int
	records [][]byte
	oldest  int
}

// NewRingBuffer holds up to limit bytes of records. Zero or less means 2MB.
func NewRingBuffer(limit int) *RingBuffer {
	if limit <= 0 {
		limit = 2 << 20
	}
	return &RingBuffer{limit: limit}
}

func (rb *RingBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if n > rb.limit {
		p = p[n-rb.limit:]
	}
	rec := append([]byte(nil), p...)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.records = append(rb.records, rec)
	rb.size += len(rec)
	for rb.size > rb.limit {
		rb.size -= len(rb.records[rb.oldest])
		rb.records[rb.oldest] = nil
		rb.oldest++
	}
	// Reclaim the evicted prefix once it dominates the slice.
	if rb.oldest > 64 && rb.oldest*2 > len(rb.records) {
		rb.records = append([][]byte(nil), rb.records[rb.oldest:]...)
		rb.oldest = 0
	}
	return n, nil
}

// Len is the number of bytes retained.
func (rb *RingBuffer) Len() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.size
}

// Records is the number of records retained.
func (rb *RingBuffer) Records() int {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return len(rb.records) - rb.oldest
}

// Bytes returns the retained records oldest first.
func (rb *RingBuffer) Bytes() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return bytes.Join(rb.records[rb.oldest:], nil)
}

// DumpToFile writes the records to path through a temp file, so a reader
// never sees a half-written dump.
func (rb *RingBuffer) DumpToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, rb.Bytes(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
