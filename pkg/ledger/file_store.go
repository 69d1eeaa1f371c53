package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ErrInvalidPathComponent is returned when an ID contains unsafe characters.
var ErrInvalidPathComponent = errors.New("invalid path component: contains path separator or traversal sequence")

// validatePathComponent checks that a string is safe to use as a path
// component. It rejects empty strings, path separators, and traversal
// sequences.
func validatePathComponent(s string) error {
	if s == "" {
		return errors.New("path component cannot be empty")
	}
	if strings.ContainsAny(s, `/\`) || strings.Contains(s, "..") {
		return ErrInvalidPathComponent
	}
	return nil
}

// FileStore implements Store on the local filesystem. Each conversation is
// one ordered JSON array of entries under a provider-namespaced directory:
//
//	~/.parley/ledgers/
//	  └── <provider>/
//	      └── <conversation-id>.json
type FileStore struct {
	dir    string
	mu     sync.RWMutex
	closed bool
}

// NewFileStore creates a file-backed ledger store for one provider
// namespace. If baseDir is empty, ~/.parley/ledgers is used.
func NewFileStore(baseDir, provider string) (*FileStore, error) {
	if err := validatePathComponent(provider); err != nil {
		return nil, fmt.Errorf("invalid provider name: %w", err)
	}

	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".parley", "ledgers")
	}

	dir := filepath.Join(baseDir, provider)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create ledger directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(conversationID string) (string, error) {
	if err := validatePathComponent(conversationID); err != nil {
		return "", fmt.Errorf("invalid conversation ID: %w", err)
	}
	return filepath.Join(s.dir, conversationID+".json"), nil
}

// Append adds entries, rewriting the conversation's JSON array atomically.
func (s *FileStore) Append(ctx context.Context, conversationID string, entries ...Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	path, err := s.path(conversationID)
	if err != nil {
		return err
	}

	existing, err := s.readFile(path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	if err := validateSequence(len(existing), entries); err != nil {
		return err
	}

	all := append(existing, entries...)
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal ledger: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write ledger: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace ledger: %w", err)
	}
	return nil
}

// Load retrieves all entries in order.
func (s *FileStore) Load(ctx context.Context, conversationID string) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	path, err := s.path(conversationID)
	if err != nil {
		return nil, err
	}
	return s.readFile(path)
}

func (s *FileStore) readFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path) // #nosec G304 - path components validated to prevent traversal
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read ledger: %w", err)
	}

	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return entries, nil
}

// Reset removes a conversation's ledger.
func (s *FileStore) Reset(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}

	path, err := s.path(conversationID)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove ledger: %w", err)
	}
	return nil
}

// List returns summaries of all stored conversations, most recent first.
func (s *FileStore) List(ctx context.Context) ([]Info, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read ledger directory: %w", err)
	}

	infos := make([]Info, 0, len(files))
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")

		entries, err := s.readFile(filepath.Join(s.dir, name))
		if err != nil {
			continue
		}
		fi, err := f.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{
			ID:        id,
			Entries:   len(entries),
			UpdatedAt: fi.ModTime(),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Close marks the store closed.
func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
