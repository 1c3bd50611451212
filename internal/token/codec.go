// Package token converts token identifiers to the opaque text handed to clients.
//
// The wire form is the plain base58 (Bitcoin alphabet) encoding of the 16 id
// bytes: no prefix, no checksum, no embedded metadata.
package token

import (
	"errors"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// ErrMalformed is returned when text is not a valid encoded token id.
var ErrMalformed = errors.New("token: malformed")

// Encode renders id as base58 text.
func Encode(id uuid.UUID) string {
	return base58.Encode(id[:])
}

// Decode parses text produced by Encode. Any character outside the base58
// alphabet, or a payload that is not exactly 16 bytes, yields ErrMalformed.
func Decode(text string) (uuid.UUID, error) {
	if text == "" {
		return uuid.Nil, ErrMalformed
	}
	raw, err := base58.Decode(text)
	if err != nil {
		return uuid.Nil, ErrMalformed
	}
	id, err := uuid.FromBytes(raw)
	if err != nil {
		return uuid.Nil, ErrMalformed
	}
	return id, nil
}
