package store

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/credence-ai/credence/internal/domain"
)

const journalFileName = "journal.log"

// FileJournalStore is the single-node write-ahead journal: one append-only
// text file, one line per entry. Each line carries its sequence number as
// a prefix so watermarks survive restarts and truncations. Appends go
// through a buffered writer; Flush syncs to disk.
type FileJournalStore struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	w       *bufio.Writer
	entries []domain.JournalEntry
	lastSeq int64
}

func NewFileJournalStore(dir string) (*FileJournalStore, error) {
	path := filepath.Join(dir, journalFileName)
	s := &FileJournalStore{path: path}
	if err := s.load(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	return s, nil
}

func (s *FileJournalStore) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read journal: %w", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		e, err := parseJournalFileLine(line)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		s.entries = append(s.entries, e)
		if e.Seq > s.lastSeq {
			s.lastSeq = e.Seq
		}
	}
	return nil
}

func (s *FileJournalStore) Append(ctx context.Context, e *domain.JournalEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSeq++
	e.Seq = s.lastSeq
	if _, err := fmt.Fprintf(s.w, "%d | %s\n", e.Seq, e.Line()); err != nil {
		s.lastSeq--
		return fmt.Errorf("append journal entry: %w", err)
	}
	s.entries = append(s.entries, *e)
	return nil
}

func (s *FileJournalStore) ListSince(ctx context.Context, seq int64) ([]domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.JournalEntry
	for _, e := range s.entries {
		if e.Seq > seq {
			out = append(out, e)
		}
	}
	return out, nil
}

// Truncate drops entries up to the watermark and rewrites the file
// atomically via a temp file rename.
func (s *FileJournalStore) Truncate(ctx context.Context, upTo int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushLocked(); err != nil {
		return err
	}

	var kept []domain.JournalEntry
	for _, e := range s.entries {
		if e.Seq > upTo {
			kept = append(kept, e)
		}
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, e := range kept {
		if _, err := fmt.Fprintf(w, "%d | %s\n", e.Seq, e.Line()); err != nil {
			f.Close()
			return fmt.Errorf("truncate journal: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("truncate journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("truncate journal: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("truncate journal: %w", err)
	}

	s.file.Close()
	nf, err := os.OpenFile(s.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("reopen journal: %w", err)
	}
	s.file = nf
	s.w = bufio.NewWriter(nf)
	s.entries = kept
	return nil
}

func (s *FileJournalStore) LastSeq(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq, nil
}

func (s *FileJournalStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileJournalStore) flushLocked() error {
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying file.
func (s *FileJournalStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(); err != nil {
		return err
	}
	return s.file.Close()
}

func parseJournalFileLine(line string) (domain.JournalEntry, error) {
	seqStr, rest, ok := strings.Cut(line, " | ")
	if !ok {
		return domain.JournalEntry{}, fmt.Errorf("malformed journal line: %q", line)
	}
	seq, err := strconv.ParseInt(seqStr, 10, 64)
	if err != nil {
		return domain.JournalEntry{}, fmt.Errorf("malformed journal seq: %w", err)
	}
	e, err := domain.ParseJournalLine(rest)
	if err != nil {
		return domain.JournalEntry{}, err
	}
	e.Seq = seq
	return e, nil
}
