package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/credence-ai/credence/internal/domain"
)

const contributionFileName = "contributions.log"

// FileContributionStore appends contribution records as JSON lines.
// Existing records are loaded on open so ListRecent serves from memory.
type FileContributionStore struct {
	mu   sync.Mutex
	file *os.File
	w    *bufio.Writer
	recs []domain.ContributionRecord
}

func NewFileContributionStore(dir string) (*FileContributionStore, error) {
	path := filepath.Join(dir, contributionFileName)
	s := &FileContributionStore{}

	raw, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read contributions: %w", err)
	}
	for _, line := range strings.Split(string(raw), "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		var r domain.ContributionRecord
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			return nil, fmt.Errorf("%w: contribution record: %v", ErrCorrupt, err)
		}
		s.recs = append(s.recs, r)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open contributions: %w", err)
	}
	s.file = f
	s.w = bufio.NewWriter(f)
	return s, nil
}

func (s *FileContributionStore) Append(ctx context.Context, rec *domain.ContributionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.w.Write(append(raw, '\n')); err != nil {
		return fmt.Errorf("append contribution record: %w", err)
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("flush contributions: %w", err)
	}
	s.recs = append(s.recs, *rec)
	return nil
}

func (s *FileContributionStore) ListRecent(ctx context.Context, limit int) ([]domain.ContributionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	start := 0
	if len(s.recs) > limit {
		start = len(s.recs) - limit
	}
	out := make([]domain.ContributionRecord, 0, len(s.recs)-start)
	for i := len(s.recs) - 1; i >= start; i-- {
		out = append(out, s.recs[i])
	}
	return out, nil
}

// Close flushes and closes the underlying file.
func (s *FileContributionStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.w.Flush(); err != nil {
		return err
	}
	return s.file.Close()
}
