// Package sink implements the buffered file sink used by the export writers:
// staged writes through a reserved side buffer, a large direct buffer for the
// plain path, and transparent gzip or single-entry zip containers selected by
// the target extension. The sink also keeps a running xxh3 checksum of all
// accepted bytes so export summaries can report a content hash.
package sink

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/zeebo/xxh3"
)

// SinkError wraps an I/O failure. The sink transitions to closed on the
// first one; every later call fails with the same error.
type SinkError struct {
	Op  string
	Err error
}

func (e *SinkError) Error() string { return fmt.Sprintf("sink: %s: %v", e.Op, e.Err) }
func (e *SinkError) Unwrap() error { return e.Err }

// Compression selects the container written around the data stream.
type Compression int

const (
	None Compression = iota
	Gzip
	Zip
)

// reserved is the side-buffer size: writes stage here and drain in bulk.
const reserved = 1 << 20

// defaultBufferSize applies when the caller passes a non-positive soft size.
const defaultBufferSize = 8 << 20

// countingWriter tracks bytes physically written to the file.
type countingWriter struct {
	f *os.File
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	c.n += int64(n)
	return n, err
}

// FileSink writes a byte stream to a file with optional compression.
// It is not safe for concurrent use; callers serialise writes.
type FileSink struct {
	path      string // path as given (with compression extension)
	entryName string // inner name for zip containers
	mode      Compression

	f     *os.File
	count *countingWriter
	gz    *gzip.Writer
	zw    *zip.Writer
	dst   io.Writer // compressed stream target (gz or zip entry); nil when plain

	side []byte // staging buffer, cap reserved
	buf  []byte // direct buffer for the plain path, cap size+reserved
	soft int    // flush threshold: size - 1024

	hash     *xxh3.Hasher
	accepted int64

	log *FileSink // optional sidecar

	closed bool
	err    error
}

// ParsePath analyses a target path: a trailing ".gz" or ".zip" selects the
// container and is stripped; when the remaining name does not already end in
// defaultExt, defaultExt is appended, and the base name of the result names
// the inner zip entry.
func ParsePath(path, defaultExt string) (mode Compression, entryName string) {
	lower := strings.ToLower(path)
	var inner string
	switch {
	case strings.HasSuffix(lower, ".gz"):
		mode = Gzip
		inner = path[:len(path)-len(".gz")]
	case strings.HasSuffix(lower, ".zip"):
		mode = Zip
		inner = path[:len(path)-len(".zip")]
	default:
		return None, ""
	}
	if defaultExt != "" && !strings.HasSuffix(strings.ToLower(inner), strings.ToLower(defaultExt)) {
		inner += defaultExt
	}
	return mode, filepath.Base(inner)
}

// New opens (creating or truncating) a sink at path. size is the soft buffer
// size in bytes; non-positive values use the default. defaultExt names the
// logical payload extension (".csv", ".sql") used to reconstruct zip entry
// names.
func New(path string, size int, defaultExt string) (*FileSink, error) {
	if size <= 0 {
		size = defaultBufferSize
	}
	mode, entry := ParsePath(path, defaultExt)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, &SinkError{Op: "open", Err: err}
	}
	preallocate(f, int64(size)) // best-effort

	s := &FileSink{
		path:      path,
		entryName: entry,
		mode:      mode,
		f:         f,
		count:     &countingWriter{f: f},
		side:      make([]byte, 0, reserved),
		soft:      size - 1024,
		hash:      xxh3.New(),
	}

	switch mode {
	case Gzip:
		gz := gzip.NewWriter(s.count)
		s.gz = gz
		s.dst = gz
	case Zip:
		s.zw = zip.NewWriter(s.count)
		s.zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(out, flate.DefaultCompression)
		})
		w, err := s.zw.Create(entry)
		if err != nil {
			f.Close()
			return nil, &SinkError{Op: "zip entry", Err: err}
		}
		s.dst = w
	default:
		s.buf = make([]byte, 0, size+reserved)
	}
	return s, nil
}

// Path returns the sink's target path.
func (s *FileSink) Path() string { return s.path }

// Position reports total bytes written to the file after the last
// successful flush (post-compression for containered sinks).
func (s *FileSink) Position() int64 { return s.count.n }

// Accepted reports total payload bytes accepted by Write calls.
func (s *FileSink) Accepted() int64 { return s.accepted }

// Checksum returns the xxh3 hash of all accepted payload bytes.
func (s *FileSink) Checksum() uint64 { return s.hash.Sum64() }

func (s *FileSink) fail(op string, err error) error {
	s.err = &SinkError{Op: op, Err: err}
	s.closed = true
	return s.err
}

// Write accepts a chunk, staging it in the side buffer and draining when the
// buffer fills.
func (s *FileSink) Write(p []byte) (int, error) {
	if s.closed {
		if s.err != nil {
			return 0, s.err
		}
		return 0, &SinkError{Op: "write", Err: os.ErrClosed}
	}
	total := len(p)
	s.hash.Write(p)
	s.accepted += int64(total)

	for len(p) > 0 {
		n := cap(s.side) - len(s.side)
		if n > len(p) {
			n = len(p)
		}
		s.side = append(s.side, p[:n]...)
		p = p[n:]
		if len(s.side) == cap(s.side) {
			if _, err := s.Flush(false); err != nil {
				return 0, err
			}
		}
	}
	return total, nil
}

// WriteString is the string flavour of Write.
func (s *FileSink) WriteString(str string) error {
	_, err := s.Write([]byte(str))
	return err
}

// WriteByte stages a single byte.
func (s *FileSink) WriteByte(b byte) error {
	_, err := s.Write([]byte{b})
	return err
}

// drainSide moves the staged bytes to the direct buffer (plain) or the
// compressor (containered).
func (s *FileSink) drainSide() error {
	if len(s.side) == 0 {
		return nil
	}
	if s.dst != nil {
		if _, err := s.dst.Write(s.side); err != nil {
			return s.fail("deflate", err)
		}
	} else {
		s.buf = append(s.buf, s.side...)
	}
	s.side = s.side[:0]
	return nil
}

// Flush drains the side buffer and, when the accumulated bytes reach the
// soft threshold or force is set, pushes them to the file. It reports
// whether a physical flush occurred.
func (s *FileSink) Flush(force bool) (bool, error) {
	if s.closed {
		if s.err != nil {
			return false, s.err
		}
		return false, &SinkError{Op: "flush", Err: os.ErrClosed}
	}
	if err := s.drainSide(); err != nil {
		return false, err
	}

	if s.dst != nil {
		// The deflater already holds the bytes; a forced flush emits a sync
		// point so the file is complete up to here.
		if force && s.gz != nil {
			if err := s.gz.Flush(); err != nil {
				return false, s.fail("gzip flush", err)
			}
			return true, nil
		}
		return force, nil
	}

	if !force && len(s.buf) < s.soft {
		return false, nil
	}
	if len(s.buf) == 0 {
		return false, nil
	}
	if _, err := s.count.Write(s.buf); err != nil {
		return false, s.fail("write", err)
	}
	s.buf = s.buf[:0]
	return true, nil
}

// Log returns the attached sidecar sink, or nil when none was attached.
func (s *FileSink) Log() *FileSink { return s.log }

// AttachLog opens a plain sidecar sink at path+".log" and ties its lifetime
// to this sink: Close closes it too.
func (s *FileSink) AttachLog() (*FileSink, error) {
	if s.log != nil {
		return s.log, nil
	}
	l, err := New(s.path+".log", reserved, "")
	if err != nil {
		return nil, err
	}
	s.log = l
	return l, nil
}

// Close flushes everything, finalises the container, syncs, and closes the
// file. It is idempotent; a sink that already failed returns its sticky
// error without further I/O.
func (s *FileSink) Close() error {
	if s.closed {
		return s.err
	}
	if _, err := s.Flush(true); err != nil {
		s.closeQuiet()
		return err
	}
	s.closed = true

	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			s.err = &SinkError{Op: "gzip close", Err: err}
		}
	}
	if s.zw != nil {
		if err := s.zw.Close(); err != nil && s.err == nil {
			s.err = &SinkError{Op: "zip close", Err: err}
		}
	}
	if err := s.f.Sync(); err != nil && s.err == nil {
		s.err = &SinkError{Op: "sync", Err: err}
	}
	if err := s.f.Close(); err != nil && s.err == nil {
		s.err = &SinkError{Op: "close", Err: err}
	}
	s.buf = nil

	if s.log != nil {
		if err := s.log.Close(); err != nil && s.err == nil {
			s.err = err
		}
	}
	return s.err
}

func (s *FileSink) closeQuiet() {
	s.closed = true
	_ = s.f.Close()
	if s.log != nil {
		_ = s.log.Close()
	}
}
