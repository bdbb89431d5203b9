package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileConfig configures the file-backed provider.
type FileConfig struct {
	// Path locates the JSON secrets file.
	Path string
	// CreateIfMissing writes an empty file when none exists yet.
	CreateIfMissing bool
}

// FileProvider serves secrets from a local JSON file, intended for
// development setups where neither Vault nor environment variables are
// convenient. The whole file is held in memory; Set and Delete write it
// back, Reload picks up external edits.
type FileProvider struct {
	path          string
	createMissing bool

	mu      sync.RWMutex
	entries map[string]string
}

// NewFileProvider opens the secrets file at config.Path. A missing file
// is not an error: the provider starts empty, and with CreateIfMissing
// the empty file is written out immediately.
func NewFileProvider(config *FileConfig) (*FileProvider, error) {
	if config == nil || config.Path == "" {
		return nil, fmt.Errorf("file path required")
	}

	p := &FileProvider{
		path:          config.Path,
		createMissing: config.CreateIfMissing,
		entries:       make(map[string]string),
	}

	switch err := p.read(); {
	case err == nil:
	case os.IsNotExist(err) && p.createMissing:
		if werr := p.flush(); werr != nil {
			return nil, fmt.Errorf("create secrets file: %w", werr)
		}
	case os.IsNotExist(err):
		// Start empty; the file appears on the first Set.
	default:
		return nil, fmt.Errorf("load secrets file: %w", err)
	}

	return p, nil
}

func (p *FileProvider) Name() string { return "file" }

func (p *FileProvider) Get(ctx context.Context, key string) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	val, ok := p.entries[key]
	if !ok {
		return "", fmt.Errorf("secret not found: %s", key)
	}
	return val, nil
}

func (p *FileProvider) Set(ctx context.Context, key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.entries[key] = value
	return p.flush()
}

func (p *FileProvider) Delete(ctx context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.entries, key)
	return p.flush()
}

// Reload replaces the in-memory entries with the file's current
// contents, discarding unsaved state.
func (p *FileProvider) Reload() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.read()
}

func (p *FileProvider) read() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, &p.entries)
}

// flush writes the entries back. The file holds API keys, so it is
// created owner-only.
func (p *FileProvider) flush() error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	raw, err := json.MarshalIndent(p.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal secrets: %w", err)
	}
	return os.WriteFile(p.path, raw, 0o600)
}
