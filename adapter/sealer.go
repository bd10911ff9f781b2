package webull

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	sealVersion = 1

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	keyLen       = chacha20poly1305.KeySize
	saltLen      = 16
)

var sealAAD = []byte("webull-adapter/sealed/v1")

// ErrDecryption is returned when a sealed file cannot be opened with the
// configured passphrase.
var ErrDecryption = errors.New("failed to decrypt: wrong passphrase or corrupted data")

// sealedBlob is the on-disk envelope. []byte fields are base64 in JSON.
type sealedBlob struct {
	Version    int    `json:"version"`
	Salt       []byte `json:"salt"`
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, keyLen)
}

// seal encrypts plaintext with XChaCha20-Poly1305 under an argon2id key.
func seal(passphrase string, plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	blob := sealedBlob{
		Version:    sealVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, sealAAD),
	}
	return json.MarshalIndent(blob, "", "  ")
}

// unseal reverses seal.
func unseal(passphrase string, data []byte) ([]byte, error) {
	var blob sealedBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return nil, &SerializationError{Err: err}
	}
	if blob.Version != sealVersion {
		return nil, fmt.Errorf("unsupported sealed file version %d", blob.Version)
	}

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, blob.Salt))
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	if len(blob.Nonce) != aead.NonceSize() {
		return nil, ErrDecryption
	}

	plaintext, err := aead.Open(nil, blob.Nonce, blob.Ciphertext, sealAAD)
	if err != nil {
		return nil, ErrDecryption
	}
	return plaintext, nil
}

// sealedFile stores one JSON value encrypted at rest.
type sealedFile struct {
	path       string
	passphrase string
}

func newSealedFile(basePath, filename, passphrase string) (*sealedFile, error) {
	if passphrase == "" {
		return nil, errors.New("passphrase is required for encrypted storage")
	}
	if err := os.MkdirAll(basePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &sealedFile{
		path:       filepath.Join(basePath, filename),
		passphrase: passphrase,
	}, nil
}

// load decodes the stored value into v. It returns false when nothing is stored.
func (f *sealedFile) load(v any) (bool, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read %s: %w", f.path, err)
	}

	plaintext, err := unseal(f.passphrase, data)
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(plaintext, v); err != nil {
		return false, &SerializationError{Err: err}
	}
	return true, nil
}

func (f *sealedFile) save(v any) error {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return &SerializationError{Err: err}
	}

	data, err := seal(f.passphrase, plaintext)
	if err != nil {
		return err
	}

	// Write with restricted permissions (owner only)
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", f.path, err)
	}
	return nil
}

func (f *sealedFile) remove() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete %s: %w", f.path, err)
	}
	return nil
}
