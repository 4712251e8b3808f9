package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const checksumField = `,"checksum":"`

// FileSink appends entries as JSON lines to a local file, syncing each write.
// When the file would grow past maxSize it is moved under archive/ and a new
// file is started.
type FileSink struct {
	path     string
	maxSize  int64
	checksum bool
	now      func() time.Time

	mu   sync.Mutex
	file *os.File
	size int64
}

// FileSinkOption customizes a FileSink.
type FileSinkOption func(*FileSink)

// WithMaxSize sets the rotation threshold in bytes. Zero disables rotation.
func WithMaxSize(n int64) FileSinkOption {
	return func(s *FileSink) { s.maxSize = n }
}

// WithChecksums appends an FNV-64a checksum of each line's payload.
func WithChecksums(enabled bool) FileSinkOption {
	return func(s *FileSink) { s.checksum = enabled }
}

// WithSinkClock overrides time.Now for archive names.
func WithSinkClock(now func() time.Time) FileSinkOption {
	return func(s *FileSink) { s.now = now }
}

// NewFileSink opens (or creates) path for appending.
func NewFileSink(path string, opts ...FileSinkOption) (*FileSink, error) {
	s := &FileSink{path: path, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	if err := s.open(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the active journal path.
func (s *FileSink) Path() string { return s.path }

// Append writes entry as one line.
func (s *FileSink) Append(ctx context.Context, entry Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := s.encode(entry)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return errors.New("audit file sink closed")
	}
	if s.maxSize > 0 && s.size > 0 && s.size+int64(len(line)) > s.maxSize {
		if err := s.rotate(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

func (s *FileSink) encode(entry Entry) ([]byte, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("encode audit entry: %w", err)
	}
	if !s.checksum {
		return append(payload, '\n'), nil
	}
	line := make([]byte, 0, len(payload)+len(checksumField)+20)
	line = append(line, payload[:len(payload)-1]...)
	line = append(line, checksumField...)
	line = append(line, checksum(payload)...)
	line = append(line, '"', '}', '\n')
	return line, nil
}

func (s *FileSink) open() error {
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	return nil
}

func (s *FileSink) rotate() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close audit file: %w", err)
	}
	s.file = nil
	archiveDir := filepath.Join(filepath.Dir(s.path), "archive")
	if err := os.MkdirAll(archiveDir, 0o750); err != nil {
		return fmt.Errorf("create archive dir: %w", err)
	}
	base := strings.TrimSuffix(filepath.Base(s.path), filepath.Ext(s.path))
	target := filepath.Join(archiveDir, fmt.Sprintf("%s-%s%s", base, s.now().UTC().Format("20060102T150405.000000000"), filepath.Ext(s.path)))
	if err := os.Rename(s.path, target); err != nil {
		return fmt.Errorf("archive audit file: %w", err)
	}
	return s.open()
}

func checksum(payload []byte) string {
	h := fnv.New64a()
	_, _ = h.Write(payload)
	return fmt.Sprintf("%016x", h.Sum64())
}

// VerifyFile checks every checksummed line in path and returns the 1-based
// numbers of lines whose payload no longer matches.
func VerifyFile(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var bad []int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16<<20)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		idx := bytes.LastIndex(line, []byte(checksumField))
		if idx < 0 {
			continue
		}
		sum := strings.TrimSuffix(string(line[idx+len(checksumField):]), `"}`)
		payload := append(append([]byte{}, line[:idx]...), '}')
		if checksum(payload) != sum {
			bad = append(bad, lineNo)
		}
	}
	return bad, scanner.Err()
}
