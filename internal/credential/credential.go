// Package credential keeps the device's bearer token on disk.
package credential

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Provider is the credential surface the sync components consume.
type Provider interface {
	GetToken() string
	ClearToken()
	IsAuthenticated() bool
}

// FileStore caches the token in memory and persists it to a 0600 file.
type FileStore struct {
	mu    sync.RWMutex
	path  string
	token string
}

// NewFileStore loads any token already saved at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		s.token = strings.TrimSpace(string(data))
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("read token file: %w", err)
	}
	return s, nil
}

func (s *FileStore) GetToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *FileStore) IsAuthenticated() bool {
	return s.GetToken() != ""
}

func (s *FileStore) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	s.token = token
	return nil
}

// ClearToken forgets the token. Removing the file is best effort; the
// in-memory copy is always dropped.
func (s *FileStore) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = ""
	_ = os.Remove(s.path)
}

// Static is an in-memory Provider.
type Static struct {
	mu    sync.RWMutex
	token string
}

func NewStatic(token string) *Static {
	return &Static{token: token}
}

func (s *Static) GetToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Static) IsAuthenticated() bool {
	return s.GetToken() != ""
}

func (s *Static) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
