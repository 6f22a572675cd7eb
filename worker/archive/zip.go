// Package archive bundles batch outputs into a single zip artifact.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zip"
)

var (
	ErrDuplicateName = errors.New("duplicate archive entry")
	ErrSinkFinalized = errors.New("archive already finalized")
)

// ZipSink collects entries in memory. Entries are written in Put order.
type ZipSink struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	zw        *zip.Writer
	names     map[string]struct{}
	entries   int
	modified  time.Time
	finalized bool
}

// NewZipSink creates a sink compressing at level (flate.DefaultCompression
// when out of range).
func NewZipSink(level int) *ZipSink {
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	s := &ZipSink{names: make(map[string]struct{}), modified: time.Now()}
	s.zw = zip.NewWriter(&s.buf)
	s.zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, level)
	})
	return s
}

func (s *ZipSink) Put(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return ErrSinkFinalized
	}
	key := strings.ToLower(name)
	if _, ok := s.names[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateName, name)
	}

	w, err := s.zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: s.modified,
	})
	if err != nil {
		return fmt.Errorf("failed to create entry %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write entry %s: %w", name, err)
	}
	s.names[key] = struct{}{}
	s.entries++
	return nil
}

// Finalize closes the archive and returns its bytes. It may be called once.
func (s *ZipSink) Finalize() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalized {
		return nil, ErrSinkFinalized
	}
	s.finalized = true
	if err := s.zw.Close(); err != nil {
		return nil, fmt.Errorf("failed to close archive: %w", err)
	}
	return s.buf.Bytes(), nil
}

func (s *ZipSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries
}
