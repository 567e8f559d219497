package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRingBufferBeforeWrap(t *testing.T) {
	rb := NewRingBuffer(16)
	_, _ = rb.Write([]byte("hello"))
	_, _ = rb.Write([]byte(" world"))

	if got := string(rb.Bytes()); got != "hello world" {
		t.Fatalf("got %q", got)
	}
	if rb.Len() != 11 {
		t.Fatalf("Len = %d, want 11", rb.Len())
	}
}

func TestRingBufferEvictsWholeRecords(t *testing.T) {
	rb := NewRingBuffer(8)
	_, _ = rb.Write([]byte("abcdef"))
	_, _ = rb.Write([]byte("ghij"))

	// "abcdef" does not fit beside "ghij" and goes entirely.
	if got := string(rb.Bytes()); got != "ghij" {
		t.Fatalf("got %q, want %q", got, "ghij")
	}
	if rb.Len() != 4 || rb.Records() != 1 {
		t.Fatalf("Len = %d, Records = %d", rb.Len(), rb.Records())
	}
}

func TestRingBufferKeepsNewestRecordsAtLimit(t *testing.T) {
	rb := NewRingBuffer(8)
	for _, rec := range []string{"abc", "def", "gh"} {
		_, _ = rb.Write([]byte(rec))
	}
	if got := string(rb.Bytes()); got != "abcdefgh" {
		t.Fatalf("got %q, want %q", got, "abcdefgh")
	}

	_, _ = rb.Write([]byte("i"))
	if got := string(rb.Bytes()); got != "defghi" {
		t.Fatalf("got %q, want %q", got, "defghi")
	}
	if rb.Records() != 3 {
		t.Fatalf("Records = %d, want 3", rb.Records())
	}
}

func TestRingBufferManyRecords(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 500; i++ {
		_, _ = rb.Write([]byte{byte('a' + i%26)})
	}
	if rb.Len() != 10 || rb.Records() != 10 {
		t.Fatalf("Len = %d, Records = %d", rb.Len(), rb.Records())
	}
	// 490..499 map to letters 22..25 then 0..5.
	if got := string(rb.Bytes()); got != "wxyzabcdef" {
		t.Fatalf("got %q", got)
	}
}

func TestRingBufferOversizedWrite(t *testing.T) {
	rb := NewRingBuffer(4)
	n, err := rb.Write([]byte("0123456789"))
	if err != nil || n != 10 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if got := string(rb.Bytes()); got != "6789" {
		t.Fatalf("got %q, want %q", got, "6789")
	}
}

func TestRingBufferDumpToFile(t *testing.T) {
	rb := NewRingBuffer(64)
	_, _ = rb.Write([]byte("{\"msg\":\"one\"}\n"))
	_, _ = rb.Write([]byte("{\"msg\":\"two\"}\n"))

	path := filepath.Join(t.TempDir(), "dumps", "ring.log")
	if err := rb.DumpToFile(path); err != nil {
		t.Fatalf("DumpToFile: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "{\"msg\":\"one\"}\n{\"msg\":\"two\"}\n" {
		t.Fatalf("dump = %q", got)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}
}
