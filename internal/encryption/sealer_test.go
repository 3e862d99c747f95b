package encryption

import (
	"bytes"
	"encoding/base64"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestSealerRoundTrip(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)

	ct, err := s.EncryptString("data:image/png;base64,AAAA")
	require.NoError(t, err)
	assert.NotContains(t, ct, "image/png")

	pt, err := s.DecryptString(ct)
	require.NoError(t, err)
	assert.Equal(t, "data:image/png;base64,AAAA", pt)
}

func TestSealerNonceIsRandom(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)
	a, err := s.Encrypt([]byte("same"))
	require.NoError(t, err)
	b, err := s.Encrypt([]byte("same"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestSealerRejectsTampering(t *testing.T) {
	s, err := NewSealer(testKey())
	require.NoError(t, err)
	blob, err := s.Encrypt([]byte("secret"))
	require.NoError(t, err)

	blob[len(blob)-1] ^= 0xff
	_, err = s.Decrypt(blob)
	assert.Error(t, err)

	blob[0] = 0x09
	_, err = s.Decrypt(blob)
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))

	_, err = s.Decrypt([]byte{0x01, 0x02})
	assert.True(t, errors.Is(err, ErrMalformedBlob))
}

func TestNewSealerFromBase64(t *testing.T) {
	_, err := NewSealerFromBase64(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.True(t, errors.Is(err, ErrInvalidKey))

	s, err := NewSealerFromBase64(base64.StdEncoding.EncodeToString(testKey()))
	require.NoError(t, err)
	assert.NotNil(t, s)
}
