package credentials

import (
	"errors"
	"fmt"
	"net/http"

	"dcmigrate/internal/crypto"
	"dcmigrate/internal/store"

	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	keyAccessKeyID     = "credentials.access_key_id"
	keySecretAccessKey = "credentials.secret_access_key"
)

// ErrNotStored is returned when no credentials have been stored
var ErrNotStored = errors.New("no credentials stored")

// View is read-only access to stored credentials
type View interface {
	AccessKeyID() (string, error)
	SecretAccessKey() (string, error)
}

// Storage keeps object store credentials encrypted in the settings store
type Storage struct {
	settings  store.Settings
	encrypter *crypto.EncryptionManager
}

var _ View = (*Storage)(nil)

// NewStorage creates credential storage
func NewStorage(settings store.Settings, encrypter *crypto.EncryptionManager) *Storage {
	return &Storage{settings: settings, encrypter: encrypter}
}

// Store encrypts and saves both keys
func (s *Storage) Store(accessKeyID, secretAccessKey string) error {
	id, err := s.encrypter.Encrypt(accessKeyID)
	if err != nil {
		return err
	}
	secret, err := s.encrypter.Encrypt(secretAccessKey)
	if err != nil {
		return err
	}
	if err := s.settings.Put(keyAccessKeyID, id); err != nil {
		return fmt.Errorf("failed to store access key id: %w", err)
	}
	if err := s.settings.Put(keySecretAccessKey, secret); err != nil {
		return fmt.Errorf("failed to store secret access key: %w", err)
	}
	return nil
}

// Clear removes stored credentials
func (s *Storage) Clear() error {
	return s.settings.Delete(keyAccessKeyID, keySecretAccessKey)
}

// AccessKeyID returns the decrypted access key id
func (s *Storage) AccessKeyID() (string, error) {
	return s.read(keyAccessKeyID)
}

// SecretAccessKey returns the decrypted secret access key
func (s *Storage) SecretAccessKey() (string, error) {
	return s.read(keySecretAccessKey)
}

func (s *Storage) read(key string) (string, error) {
	raw, ok, err := s.settings.Get(key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrNotStored
	}
	return s.encrypter.Decrypt(raw)
}

// StoredProvider is a minio-go credentials provider reading the stored
// pair on every retrieval, so credentials stored at runtime apply without a
// restart
type StoredProvider struct {
	view View
}

// Retrieve returns the stored credentials
func (p *StoredProvider) Retrieve() (credentials.Value, error) {
	id, err := p.view.AccessKeyID()
	if err != nil {
		return credentials.Value{}, err
	}
	secret, err := p.view.SecretAccessKey()
	if err != nil {
		return credentials.Value{}, err
	}
	return credentials.Value{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SignerType:      credentials.SignatureV4,
	}, nil
}

// IsExpired is always true so the next request re-reads the store
func (p *StoredProvider) IsExpired() bool { return true }

// Provider resolves credentials for the object store client. Stored
// credentials win; otherwise the environment, the shared credentials file
// and the instance role are tried in that order.
func Provider(view View) *credentials.Credentials {
	return credentials.NewChainCredentials([]credentials.Provider{
		&StoredProvider{view: view},
		&credentials.EnvAWS{},
		&credentials.EnvMinio{},
		&credentials.FileAWSCredentials{},
		&credentials.IAM{Client: &http.Client{Transport: http.DefaultTransport}},
	})
}
