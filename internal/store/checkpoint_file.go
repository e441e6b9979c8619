package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/credence-ai/credence/internal/domain"
)

const checkpointDirName = "checkpoints"

// FileCheckpointStore keeps each checkpoint as a JSON artifact with a
// sha256 sidecar. The artifact is written to a temp file, hashed, and
// renamed into place, so a partially written checkpoint is never visible;
// a hash mismatch on read surfaces as ErrCorrupt.
type FileCheckpointStore struct {
	mu  sync.Mutex
	dir string
}

func NewFileCheckpointStore(dir string) (*FileCheckpointStore, error) {
	path := filepath.Join(dir, checkpointDirName)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}
	return &FileCheckpointStore{dir: path}, nil
}

func (s *FileCheckpointStore) Write(ctx context.Context, cp *domain.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)

	path := filepath.Join(s.dir, cp.ID+".json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.WriteFile(path+".sha256", []byte(hex.EncodeToString(sum[:])+"\n"), 0o644); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write checkpoint hash: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *FileCheckpointStore) Get(ctx context.Context, id string) (*domain.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, id+".json")
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	ref, err := os.ReadFile(path + ".sha256")
	if err != nil {
		return nil, fmt.Errorf("read checkpoint hash: %w", err)
	}
	sum := sha256.Sum256(raw)
	if hex.EncodeToString(sum[:]) != strings.TrimSpace(string(ref)) {
		return nil, fmt.Errorf("%w: checkpoint %s hash mismatch", ErrCorrupt, id)
	}

	var cp domain.Checkpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, fmt.Errorf("%w: checkpoint %s: %v", ErrCorrupt, id, err)
	}
	return &cp, nil
}

func (s *FileCheckpointStore) List(ctx context.Context, limit int) ([]domain.CheckpointMeta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}

	names, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}

	var metas []domain.CheckpointMeta
	for _, name := range names {
		raw, err := os.ReadFile(name)
		if err != nil {
			continue
		}
		var cp domain.Checkpoint
		if err := json.Unmarshal(raw, &cp); err != nil {
			continue
		}
		metas = append(metas, domain.CheckpointMeta{
			ID:                cp.ID,
			CreatedAt:         cp.CreatedAt,
			Version:           cp.Version,
			GuardrailChecksum: cp.GuardrailChecksum,
		})
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.After(metas[j].CreatedAt) })
	if len(metas) > limit {
		metas = metas[:limit]
	}
	return metas, nil
}
