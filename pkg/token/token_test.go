package token

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMintParseRoundTrip(t *testing.T) {
	codec, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	id := uuid.New()
	tok, err := codec.Mint(id)
	require.NoError(t, err)

	got, err := codec.Parse(tok)
	require.NoError(t, err)
	assert.Equal(t, id, got)
}

func TestMintIsDeterministic(t *testing.T) {
	codec, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	id := uuid.New()
	a, err := codec.Mint(id)
	require.NoError(t, err)
	b, err := codec.Mint(id)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := codec.Mint(uuid.New())
	require.NoError(t, err)
	assert.NotEqual(t, a, other)
}

func TestParseRejectsTampering(t *testing.T) {
	codec, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	tok, err := codec.Mint(uuid.New())
	require.NoError(t, err)

	tampered := []byte(tok)
	tampered[len(tampered)-1] ^= 'x'
	_, err = codec.Parse(string(tampered))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = codec.Parse("not-a-token")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestParseRejectsForeignKey(t *testing.T) {
	codecA, err := NewCodec([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	codecB, err := NewCodec([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)

	tok, err := codecA.Mint(uuid.New())
	require.NoError(t, err)

	_, err = codecB.Parse(tok)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestNewCodecRejectsShortSecret(t *testing.T) {
	_, err := NewCodec([]byte("short"))
	assert.Error(t, err)
}
