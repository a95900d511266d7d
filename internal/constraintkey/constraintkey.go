// Package constraintkey derives deterministic document ids for uniqueness
// reservations.
package constraintkey

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrEmptyInput is returned when the kind or value is empty.
var ErrEmptyInput = errors.New("constraintkey: kind and value must be non-empty")

// Build computes a hash-distributed document id for a uniqueness reservation.
// The key is namespaced by kind, so equal values under different kinds never
// collide. Same inputs always produce the same key, which is what turns a
// concurrent claim of the same value into an id collision.
func Build(kind, value string) (string, error) {
	if kind == "" || value == "" {
		return "", ErrEmptyInput
	}
	data := fmt.Sprintf("%s#%s", kind, value)
	h := sha256.Sum256([]byte(data))
	return hex.EncodeToString(h[:16]), nil // 128-bit hash as hex
}
