package sas

import (
	"errors"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betagouv/euphrosyne-tools-api/internal/storage"
)

// base64("testkey")
const testKey = "dGVzdGtleQ=="

func fixedSigner(t *testing.T) *Signer {
	t.Helper()
	s := New("acct", testKey, 0)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s
}

func TestSignBlobContainer(t *testing.T) {
	s := fixedSigner(t)
	loc := storage.Location{Backend: storage.BackendBlob, Account: "acct", Container: "cool", URI: "https://acct.blob.core.windows.net/cool/proj"}

	token, err := s.Sign(loc, SourcePermissions)
	require.NoError(t, err)

	q, err := url.ParseQuery(token)
	require.NoError(t, err)
	assert.Equal(t, "c", q.Get("sr"))
	assert.Equal(t, "rl", q.Get("sp"))
	assert.Equal(t, "https", q.Get("spr"))
	assert.NotEmpty(t, q.Get("sig"))
	assert.Contains(t, q.Get("se"), "2026-01-02T04:04:05")
}

func TestSignFileShare(t *testing.T) {
	s := fixedSigner(t)
	loc := storage.Location{Backend: storage.BackendFileShare, Account: "acct", Container: "share", URI: "https://acct.file.core.windows.net/share/proj"}

	token, err := s.Sign(loc, DestinationPermissions)
	require.NoError(t, err)

	q, err := url.ParseQuery(token)
	require.NoError(t, err)
	assert.Equal(t, "s", q.Get("sr"))
	assert.NotContains(t, q.Get("sp"), "a")
	assert.Contains(t, q.Get("sp"), "w")
	assert.NotEmpty(t, q.Get("sig"))
}

func TestSignIsStableForFixedClock(t *testing.T) {
	s := fixedSigner(t)
	loc := storage.Location{Backend: storage.BackendBlob, Account: "acct", Container: "data"}

	a, err := s.Sign(loc, DestinationPermissions)
	require.NoError(t, err)
	b, err := s.Sign(loc, DestinationPermissions)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSignErrors(t *testing.T) {
	_, err := New("acct", "", time.Hour).Sign(storage.Location{Backend: storage.BackendBlob, Container: "c"}, SourcePermissions)
	assert.True(t, errors.Is(err, ErrMissingKey))

	_, err = New("acct", testKey, time.Hour).Sign(storage.Location{Backend: storage.BackendBlob}, SourcePermissions)
	assert.Error(t, err)

	_, err = New("acct", testKey, time.Hour).Sign(storage.Location{Backend: "S3", Container: "c"}, SourcePermissions)
	assert.Error(t, err)
}
