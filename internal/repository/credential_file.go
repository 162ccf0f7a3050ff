package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/donmunna435-dev/Deep-yt/internal/domain"
	"github.com/donmunna435-dev/Deep-yt/pkg/crypto"
)

// FileCredentialStore keeps all credentials in a single JSON document of the
// form {"<userId>": {...}}. When a passphrase is set the document is encrypted
// at rest.
type FileCredentialStore struct {
	path       string
	passphrase string
	mu         sync.Mutex
}

// NewFileCredentialStore creates a store backed by the file at path.
func NewFileCredentialStore(path, passphrase string) (*FileCredentialStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is empty")
	}
	return &FileCredentialStore{path: path, passphrase: passphrase}, nil
}

// Path returns the backing file path.
func (s *FileCredentialStore) Path() string {
	return s.path
}

// Save stores the credential, replacing any existing entry for the user.
func (s *FileCredentialStore) Save(ctx context.Context, userID domain.UserID, cred *domain.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}

	c := *cred
	c.UserID = userID
	if c.SavedAt.IsZero() {
		c.SavedAt = time.Now()
	}
	doc[userID.String()] = &c

	return s.writeLocked(doc)
}

// Get returns the user's credential.
func (s *FileCredentialStore) Get(ctx context.Context, userID domain.UserID) (*domain.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	c, ok := doc[userID.String()]
	if !ok || c == nil {
		return nil, domain.ErrCredentialNotFound
	}
	return c, nil
}

// Delete removes the user's credential.
func (s *FileCredentialStore) Delete(ctx context.Context, userID domain.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return err
	}
	if _, ok := doc[userID.String()]; !ok {
		return nil
	}
	delete(doc, userID.String())
	return s.writeLocked(doc)
}

// ListUserIDs returns every user with a stored credential, sorted ascending.
func (s *FileCredentialStore) ListUserIDs(ctx context.Context) ([]domain.UserID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.readLocked()
	if err != nil {
		return nil, err
	}
	ids := make([]domain.UserID, 0, len(doc))
	for k := range doc {
		id, err := domain.ParseUserID(k)
		if err != nil {
			continue // Skip foreign keys
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Ping checks that the backing file is readable.
func (s *FileCredentialStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.readLocked()
	return err
}

func (s *FileCredentialStore) readLocked() (map[string]*domain.Credential, error) {
	doc := make(map[string]*domain.Credential)

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return nil, fmt.Errorf("read credential store: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}

	if crypto.IsEncrypted(data) {
		if s.passphrase == "" {
			return nil, fmt.Errorf("credential store is encrypted but no passphrase is configured")
		}
		data, err = crypto.Decrypt(data, s.passphrase)
		if err != nil {
			return nil, fmt.Errorf("decrypt credential store: %w", err)
		}
	}

	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode credential store: %w", err)
	}
	return doc, nil
}

func (s *FileCredentialStore) writeLocked(doc map[string]*domain.Credential) error {
	data, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credential store: %w", err)
	}
	if s.passphrase != "" {
		data, err = crypto.Encrypt(data, s.passphrase)
		if err != nil {
			return fmt.Errorf("encrypt credential store: %w", err)
		}
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// 0600: keep secrets private on disk
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename credential store: %w", err)
	}
	return nil
}
