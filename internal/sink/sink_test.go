package sink

import (
	"archive/zip"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
)

func TestParsePath(t *testing.T) {
	t.Parallel()

	mode, entry := ParsePath("out.csv", ".csv")
	if mode != None || entry != "" {
		t.Fatalf("plain: %v %q", mode, entry)
	}
	mode, entry = ParsePath("out.csv.gz", ".csv")
	if mode != Gzip || entry != "out.csv" {
		t.Fatalf("gz: %v %q", mode, entry)
	}
	mode, entry = ParsePath("out.zip", ".csv")
	if mode != Zip || entry != "out.csv" {
		t.Fatalf("zip without inner ext: %v %q", mode, entry)
	}
	mode, entry = ParsePath("data/out.csv.zip", ".csv")
	if mode != Zip || entry != "out.csv" {
		t.Fatalf("zip with inner ext: %v %q", mode, entry)
	}
}

func TestPlainWriteAndPosition(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := New(path, 4096, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.WriteString("hello,"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if err := s.WriteString("world\n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	if s.Position() != 0 {
		t.Fatalf("position before flush = %d, want 0", s.Position())
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if s.Position() != int64(len("hello,world\n")) {
		t.Fatalf("position after close = %d", s.Position())
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if string(got) != "hello,world\n" {
		t.Fatalf("content = %q", got)
	}
}

func TestFlushThreshold(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv")
	s, err := New(path, 2048, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	flushed, err := s.Flush(false)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if flushed {
		t.Fatal("empty sink must not physically flush")
	}

	if err := s.WriteString(strings.Repeat("x", 3000)); err != nil {
		t.Fatalf("write: %v", err)
	}
	flushed, err = s.Flush(false)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if !flushed {
		t.Fatal("soft threshold reached: expected a physical flush")
	}
	if s.Position() == 0 {
		t.Fatal("position must advance on physical flush")
	}
}

func TestGzipRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv.gz")
	s, err := New(path, 4096, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := strings.Repeat("id,name\n1,alpha\n", 500)
	if err := s.WriteString(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	gr, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	got, err := io.ReadAll(gr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(got) != payload {
		t.Fatalf("gzip round-trip mismatch: %d bytes vs %d", len(got), len(payload))
	}
}

func TestZipRoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv.zip")
	s, err := New(path, 4096, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := "a,b\n1,2\n"
	if err := s.WriteString(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatalf("zip open: %v", err)
	}
	defer zr.Close()
	if len(zr.File) != 1 {
		t.Fatalf("zip entries = %d, want 1", len(zr.File))
	}
	if zr.File[0].Name != "out.csv" {
		t.Fatalf("entry name = %q, want out.csv", zr.File[0].Name)
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		t.Fatalf("entry open: %v", err)
	}
	got, _ := io.ReadAll(rc)
	rc.Close()
	if string(got) != payload {
		t.Fatalf("zip payload = %q", got)
	}
}

func TestCloseIdempotent(t *testing.T) {
	t.Parallel()

	s, err := New(filepath.Join(t.TempDir(), "o.csv"), 1024, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.WriteString("x"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close must be a no-op, got %v", err)
	}
}

func TestWriteAfterCloseFails(t *testing.T) {
	t.Parallel()

	s, err := New(filepath.Join(t.TempDir(), "o.csv"), 1024, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.Close()
	if err := s.WriteString("x"); err == nil {
		t.Fatal("write after close must fail")
	}
}

func TestChecksumTracksAcceptedBytes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s1, _ := New(filepath.Join(dir, "a.csv"), 1024, ".csv")
	s2, _ := New(filepath.Join(dir, "b.csv.gz"), 1024, ".csv")
	payload := "same payload either way\n"
	s1.WriteString(payload)
	s2.WriteString(payload)
	s1.Close()
	s2.Close()
	if s1.Checksum() != s2.Checksum() {
		t.Fatal("checksum must cover payload bytes, independent of container")
	}
	if s1.Accepted() != int64(len(payload)) {
		t.Fatalf("accepted = %d", s1.Accepted())
	}
}

func TestAttachLogSidecar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "o.csv")
	s, err := New(path, 1024, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	l, err := s.AttachLog()
	if err != nil {
		t.Fatalf("AttachLog: %v", err)
	}
	l.WriteString("note\n")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	got, err := os.ReadFile(path + ".log")
	if err != nil {
		t.Fatalf("log sidecar missing: %v", err)
	}
	if !bytes.Equal(got, []byte("note\n")) {
		t.Fatalf("log content = %q", got)
	}
}

func TestLargeWriteCrossesSideBuffer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "big.csv")
	s, err := New(path, 4096, ".csv")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	payload := bytes.Repeat([]byte("0123456789ABCDEF"), 200_000) // ~3.2 MB > reserved
	if _, err := s.Write(payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Size() != int64(len(payload)) {
		t.Fatalf("size = %d, want %d", st.Size(), len(payload))
	}
}
