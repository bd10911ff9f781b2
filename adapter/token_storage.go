package webull

import (
	"context"
	"sync"
)

// TokenStore persists the single session token of one client.
// GetToken returns nil, nil when no token is stored.
type TokenStore interface {
	GetToken(ctx context.Context) (*AccessToken, error)
	StoreToken(ctx context.Context, token AccessToken) error
	ClearToken(ctx context.Context) error
}

// MemoryTokenStore keeps the token for the lifetime of the process.
// It is safe for concurrent use.
type MemoryTokenStore struct {
	mu    sync.RWMutex
	token *AccessToken
}

// NewMemoryTokenStore creates an empty in-memory token store.
func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) GetToken(ctx context.Context) (*AccessToken, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == nil {
		return nil, nil
	}
	t := *s.token
	return &t, nil
}

func (s *MemoryTokenStore) StoreToken(ctx context.Context, token AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = &token
	return nil
}

func (s *MemoryTokenStore) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.token = nil
	return nil
}

const tokenFilename = "token.enc"

// FileTokenStore persists the token encrypted at rest under basePath.
// Access is serialized within the process; separate processes must not share
// a file.
type FileTokenStore struct {
	mu   sync.Mutex
	file *sealedFile
}

// NewFileTokenStore creates an encrypted file store in basePath, creating the
// directory with owner-only permissions if needed.
func NewFileTokenStore(basePath, passphrase string) (*FileTokenStore, error) {
	file, err := newSealedFile(basePath, tokenFilename, passphrase)
	if err != nil {
		return nil, err
	}
	return &FileTokenStore{file: file}, nil
}

func (s *FileTokenStore) GetToken(ctx context.Context) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var token AccessToken
	found, err := s.file.load(&token)
	if err != nil || !found {
		return nil, err
	}
	return &token, nil
}

func (s *FileTokenStore) StoreToken(ctx context.Context, token AccessToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.save(token)
}

func (s *FileTokenStore) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.remove()
}
