package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/desertthunder/crowdspot/internal/shared"
	"golang.org/x/oauth2"
)

var (
	// ErrNoCredential is returned by [CredentialStore.Load] when nothing is stored.
	ErrNoCredential      = errors.New("no stored credential")
	ErrCorruptCredential = errors.New("stored credential is unreadable")
)

const deviceIDFile = "device_id"

// CredentialStore persists a single OAuth token as JSON at a fixed path.
//
// The device id lives in a sibling file and survives [CredentialStore.Clear].
type CredentialStore struct {
	mu   sync.Mutex
	path string
}

// NewCredentialStore returns a store backed by the file at path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Path returns the credential file location.
func (c *CredentialStore) Path() string { return c.path }

// Exists reports whether a credential file is present.
func (c *CredentialStore) Exists() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := os.Stat(c.path)
	return err == nil
}

// Load reads the stored token.
func (c *CredentialStore) Load() (*oauth2.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCredential
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential: %w", err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("%w: credential file: %w", ErrCorruptCredential, err)
	}
	if tok.AccessToken == "" && tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: credential file holds no token", ErrCorruptCredential)
	}
	return &tok, nil
}

// Save replaces the stored token, writing through a temporary file so readers never see a partial credential.
func (c *CredentialStore) Save(tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("%w: nil token", shared.ErrInvalidInput)
	}
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return writeAtomic(c.path, data)
}

// Clear removes the stored token. A missing file is not an error.
func (c *CredentialStore) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove credential: %w", err)
	}
	return nil
}

// DeviceID returns the persisted device id, creating one on first use.
func (c *CredentialStore) DeviceID() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	path := filepath.Join(filepath.Dir(c.path), deviceIDFile)
	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}

	id := shared.GenerateID()
	if err := writeAtomic(path, []byte(id+"\n")); err != nil {
		return "", err
	}
	return id, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create credential directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
