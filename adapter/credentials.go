package webull

import (
	"context"
	"sync"
)

// CredentialStore remembers login credentials for the outer Client.
// GetCredentials returns nil, nil when nothing is remembered.
type CredentialStore interface {
	GetCredentials(ctx context.Context) (*Credentials, error)
	StoreCredentials(ctx context.Context, creds Credentials) error
	ClearCredentials(ctx context.Context) error
}

// MemoryCredentialStore keeps credentials for the lifetime of the process.
type MemoryCredentialStore struct {
	mu    sync.RWMutex
	creds *Credentials
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{}
}

func (s *MemoryCredentialStore) GetCredentials(ctx context.Context) (*Credentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.creds == nil {
		return nil, nil
	}
	c := *s.creds
	return &c, nil
}

func (s *MemoryCredentialStore) StoreCredentials(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = &creds
	return nil
}

func (s *MemoryCredentialStore) ClearCredentials(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.creds = nil
	return nil
}

const credentialsFilename = "credentials.enc"

// FileCredentialStore persists credentials encrypted at rest.
type FileCredentialStore struct {
	mu   sync.Mutex
	file *sealedFile
}

func NewFileCredentialStore(basePath, passphrase string) (*FileCredentialStore, error) {
	file, err := newSealedFile(basePath, credentialsFilename, passphrase)
	if err != nil {
		return nil, err
	}
	return &FileCredentialStore{file: file}, nil
}

func (s *FileCredentialStore) GetCredentials(ctx context.Context) (*Credentials, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var creds Credentials
	found, err := s.file.load(&creds)
	if err != nil || !found {
		return nil, err
	}
	return &creds, nil
}

func (s *FileCredentialStore) StoreCredentials(ctx context.Context, creds Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.save(creds)
}

func (s *FileCredentialStore) ClearCredentials(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.file.remove()
}
