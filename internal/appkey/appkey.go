// Package appkey maps internal tenant identifiers to the opaque public
// keys that address a tenant's relay endpoint.
package appkey

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// ErrInvalidKey indicates a key that could not have been produced by Encode.
var ErrInvalidKey = errors.New("invalid app key")

// Encode derives the public app key for a tenant id. The id is rendered as
// its 8-byte little-endian representation and base58-encoded, so the key is
// URL-safe and never exposes the raw decimal id.
func Encode(id int64) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(id))
	return base58.Encode(buf[:])
}

// Decode recovers the tenant id from an app key. It returns an error wrapping
// ErrInvalidKey when the key contains characters outside the base58 alphabet
// or does not decode to exactly 8 bytes. Callers treat any decode failure as
// an unknown key, not a server fault.
func Decode(key string) (int64, error) {
	raw, err := base58.Decode(key)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("%w: decodes to %d bytes, want 8", ErrInvalidKey, len(raw))
	}
	return int64(binary.LittleEndian.Uint64(raw)), nil
}
