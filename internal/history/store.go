package history

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	runsDir   = "runs"
	indexFile = "index.json"
)

// FileStore is a Sink backed by a directory: one JSON file per run
// under runs/, plus an index of summaries.
type FileStore struct {
	mu      sync.RWMutex
	rootDir string
	index   *storeIndex
}

type storeIndex struct {
	Runs      []Summary `json:"runs"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFileStore creates or opens a store at the given directory.
func NewFileStore(rootDir string) (*FileStore, error) {
	s := &FileStore{rootDir: rootDir}

	if err := os.MkdirAll(filepath.Join(rootDir, runsDir), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	if err := s.loadIndex(); err != nil {
		s.index = &storeIndex{Runs: []Summary{}, UpdatedAt: time.Now()}
	}
	return s, nil
}

// Append persists a record and updates the index.
func (s *FileStore) Append(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if err := os.WriteFile(s.recordPath(rec.ID), data, 0o644); err != nil {
		return fmt.Errorf("write record: %w", err)
	}

	s.index.Runs = append(s.index.Runs, summarize(rec))
	s.index.UpdatedAt = time.Now()
	return s.saveIndex()
}

// List returns all stored summaries, newest first.
func (s *FileStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Summary, len(s.index.Runs))
	copy(out, s.index.Runs)
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Load retrieves a full record by ID.
func (s *FileStore) Load(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.recordPath(id))
	if err != nil {
		return nil, fmt.Errorf("read record %s: %w", id, err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *FileStore) recordPath(id string) string {
	return filepath.Join(s.rootDir, runsDir, id+".json")
}

func (s *FileStore) loadIndex() error {
	data, err := os.ReadFile(filepath.Join(s.rootDir, indexFile))
	if err != nil {
		return err
	}
	var idx storeIndex
	if err := json.Unmarshal(data, &idx); err != nil {
		return err
	}
	s.index = &idx
	return nil
}

func (s *FileStore) saveIndex() error {
	data, err := json.MarshalIndent(s.index, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal index: %w", err)
	}
	return os.WriteFile(filepath.Join(s.rootDir, indexFile), data, 0o644)
}

func summarize(rec *Record) Summary {
	excerpt := rec.RawPrompt
	if len(excerpt) > 80 {
		// Cut on a rune boundary so multi-byte prompts stay valid UTF-8.
		n := 80
		for n > 0 && !utf8.RuneStart(excerpt[n]) {
			n--
		}
		excerpt = excerpt[:n]
	}
	sum := Summary{
		ID:        rec.ID,
		CreatedAt: rec.CreatedAt,
		Provider:  rec.Provider,
		Model:     rec.Model,
		Excerpt:   excerpt,
	}
	if rec.Metrics != nil {
		sum.Difficulty = rec.Metrics.Difficulty
	}
	return sum
}

var _ Sink = (*FileStore)(nil)
