// Package contentid generates the random nonces the ingestion coordinator
// feeds into deterministic content-id derivation (see pkg/types.ContentID)
// when the caller supplied no file name.
package contentid

import (
	"crypto/rand"
	"encoding/base32"
)

// NewNonce returns a fresh random nonce suitable as the "file name"
// component of a deterministic content id when the caller supplied none
// (e.g. add_texts, which has no natural file name): 128 bits from
// crypto/rand, base32-encoded without padding.
func NewNonce() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(b[:]), nil
}
