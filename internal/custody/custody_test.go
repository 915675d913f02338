package custody

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSalt = "skill-market/test"

func hexAddress(pub ed25519.PublicKey) (string, error) {
	return hex.EncodeToString(pub), nil
}

func TestSealOpenRoundTrip(t *testing.T) {
	s, err := NewSealer("passphrase", testSalt)
	require.NoError(t, err)

	sealed, err := s.Seal([]byte("seed material"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, sealedPrefix))
	assert.NotContains(t, sealed, "seed material")

	plain, err := s.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "seed material", string(plain))
}

func TestSealIsNonDeterministic(t *testing.T) {
	s, err := NewSealer("passphrase", testSalt)
	require.NoError(t, err)

	a, err := s.Seal([]byte("x"))
	require.NoError(t, err)
	b, err := s.Seal([]byte("x"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestOpenAcrossInstancesWithSameSecret(t *testing.T) {
	s1, err := NewSealer("passphrase", testSalt)
	require.NoError(t, err)
	s2, err := NewSealer("passphrase", testSalt)
	require.NoError(t, err)

	sealed, err := s1.Seal([]byte("restart-safe"))
	require.NoError(t, err)

	plain, err := s2.Open(sealed)
	require.NoError(t, err)
	assert.Equal(t, "restart-safe", string(plain))
}

func TestOpenRejectsWrongPassphraseAndGarbage(t *testing.T) {
	s1, err := NewSealer("passphrase", testSalt)
	require.NoError(t, err)
	s2, err := NewSealer("other", testSalt)
	require.NoError(t, err)

	sealed, err := s1.Seal([]byte("secret"))
	require.NoError(t, err)

	_, err = s2.Open(sealed)
	assert.Error(t, err)

	_, err = s1.Open("plaintext")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = s1.Open(sealedPrefix + "!!!")
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = s1.Open(sealedPrefix + "AAAA")
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestNewSealerValidation(t *testing.T) {
	_, err := NewSealer("", testSalt)
	assert.Error(t, err)
	_, err = NewSealer("passphrase", "short")
	assert.Error(t, err)
}

func TestWalletsCreateUnlock(t *testing.T) {
	s, err := NewSealer("passphrase", testSalt)
	require.NoError(t, err)
	w := NewWallets(s, hexAddress)

	address, sealedKey, err := w.Create()
	require.NoError(t, err)
	assert.Len(t, address, 64)

	priv, err := w.Unlock(sealedKey)
	require.NoError(t, err)
	defer Zero(priv)

	pub := priv.Public().(ed25519.PublicKey)
	assert.Equal(t, address, hex.EncodeToString(pub))

	sig := ed25519.Sign(priv, []byte("msg"))
	assert.True(t, ed25519.Verify(pub, []byte("msg"), sig))
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	Zero(b)
	assert.Equal(t, []byte{0, 0, 0}, b)
}
