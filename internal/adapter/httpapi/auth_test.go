package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))

	token, err := issuer.Issue("AB2C-D3EF-GH4J", time.Now().UTC())
	require.NoError(t, err)

	shortCode, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "AB2C-D3EF-GH4J", shortCode)
}

func TestTokenIssuer_WrongKeyRejected(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))
	other := NewTokenIssuer([]byte("different-key"))

	token, err := issuer.Issue("AB2C-D3EF-GH4J", time.Now().UTC())
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_ExpiredRejected(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))

	// Issued far enough in the past that the leeway cannot save it.
	token, err := issuer.Issue("AB2C-D3EF-GH4J", time.Now().UTC().Add(-tokenTTL-time.Minute))
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.Error(t, err)
}

func TestTokenIssuer_GarbageRejected(t *testing.T) {
	issuer := NewTokenIssuer([]byte("test-signing-key"))
	_, err := issuer.Verify("not.a.token")
	assert.Error(t, err)
}
