package callback

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignBodyKnownVector(t *testing.T) {
	// HMAC-SHA256("key", "The quick brown fox jumps over the lazy dog")
	got := signBody([]byte("The quick brown fox jumps over the lazy dog"), "key")
	assert.Equal(t, "sha256=f7bc83f430538424b13298e6aa6fb143ef4d59a14946175997479dbc2d1a3cd8", got)
	assert.NotEqual(t, got, signBody([]byte("The quick brown fox jumps over the lazy dog"), "other"))
}

func TestMintTokenUsesUniqueIDs(t *testing.T) {
	now := time.Now()
	a, err := mintToken(testSecret, time.Minute, now)
	require.NoError(t, err)
	b, err := mintToken(testSecret, time.Minute, now)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(a, claims, func(*jwt.Token) (any, error) {
		return []byte(testSecret), nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func TestMintTokenRejectsEmptySecret(t *testing.T) {
	_, err := mintToken("", time.Minute, time.Now())
	assert.Error(t, err)
}
