package token

import (
	"crypto/hmac"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// ErrInvalid is returned for tokens that fail to decode or authenticate.
// Callers surface it as "not found" so forged and mistyped tokens are
// indistinguishable to anonymous visitors.
var ErrInvalid = errors.New("invalid token")

const macLen = 16

// Codec mints and verifies completion tokens. A token is the recipient
// event's id plus a keyed blake2b MAC over it, base64url-encoded: opaque and
// unguessable to outsiders, but deterministic, so a delivery retry rebuilds
// the exact same completion URL without the raw token ever being stored.
type Codec struct {
	key []byte
}

func NewCodec(secret []byte) (*Codec, error) {
	if len(secret) < 16 {
		return nil, errors.New("completion token secret must be at least 16 bytes")
	}
	return &Codec{key: append([]byte(nil), secret...)}, nil
}

// Mint returns the single-use completion token for a recipient event.
func (c *Codec) Mint(eventID uuid.UUID) (string, error) {
	mac, err := c.mac(eventID)
	if err != nil {
		return "", err
	}
	buf := make([]byte, 0, len(eventID)+macLen)
	buf = append(buf, eventID[:]...)
	buf = append(buf, mac...)
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Parse authenticates a raw token and returns the recipient event id it was
// minted for.
func (c *Codec) Parse(raw string) (uuid.UUID, error) {
	buf, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil || len(buf) != 16+macLen {
		return uuid.Nil, ErrInvalid
	}

	eventID, err := uuid.FromBytes(buf[:16])
	if err != nil {
		return uuid.Nil, ErrInvalid
	}

	want, err := c.mac(eventID)
	if err != nil {
		return uuid.Nil, err
	}
	if !hmac.Equal(buf[16:], want) {
		return uuid.Nil, ErrInvalid
	}
	return eventID, nil
}

func (c *Codec) mac(eventID uuid.UUID) ([]byte, error) {
	h, err := blake2b.New256(c.key)
	if err != nil {
		return nil, fmt.Errorf("failed to build token mac: %w", err)
	}
	h.Write(eventID[:])
	return h.Sum(nil)[:macLen], nil
}
