package credentials

import (
	"testing"

	"dcmigrate/internal/crypto"
	"dcmigrate/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) (*Storage, store.Store) {
	t.Helper()
	enc, err := crypto.NewEncryptionManager(t.TempDir())
	require.NoError(t, err)
	db := store.NewMemoryStore()
	return NewStorage(db, enc), db
}

func TestStoreAndRead(t *testing.T) {
	s, db := newStorage(t)
	require.NoError(t, s.Store("AKIAEXAMPLE", "wJalrXUtnFEMI"))

	raw, ok, err := db.Get(keyAccessKeyID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.NotEqual(t, "AKIAEXAMPLE", raw)

	id, err := s.AccessKeyID()
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", id)

	secret, err := s.SecretAccessKey()
	require.NoError(t, err)
	assert.Equal(t, "wJalrXUtnFEMI", secret)
}

func TestNotStored(t *testing.T) {
	s, _ := newStorage(t)
	_, err := s.AccessKeyID()
	assert.ErrorIs(t, err, ErrNotStored)

	require.NoError(t, s.Store("a", "b"))
	require.NoError(t, s.Clear())
	_, err = s.SecretAccessKey()
	assert.ErrorIs(t, err, ErrNotStored)
}

func TestProviderUsesStoredCredentials(t *testing.T) {
	s, _ := newStorage(t)
	require.NoError(t, s.Store("AKIAEXAMPLE", "wJalrXUtnFEMI"))

	v, err := Provider(s).Get()
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", v.AccessKeyID)
	assert.Equal(t, "wJalrXUtnFEMI", v.SecretAccessKey)
}

func TestProviderFallsBackToEnvironment(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "ENVKEY")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "ENVSECRET")
	s, _ := newStorage(t)

	v, err := Provider(s).Get()
	require.NoError(t, err)
	assert.Equal(t, "ENVKEY", v.AccessKeyID)
}

func TestProviderPicksUpCredentialsStoredLater(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "")
	s, _ := newStorage(t)

	p := &StoredProvider{view: s}
	_, err := p.Retrieve()
	assert.ErrorIs(t, err, ErrNotStored)

	require.NoError(t, s.Store("LATER", "SECRET"))
	v, err := p.Retrieve()
	require.NoError(t, err)
	assert.Equal(t, "LATER", v.AccessKeyID)
	assert.True(t, p.IsExpired())
}
