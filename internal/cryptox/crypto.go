// Package cryptox derives and checks argon2id secret verifiers.
package cryptox

import (
	"crypto/subtle"

	"github.com/dmitrijs2005/attachkeeper/internal/common"
	"golang.org/x/crypto/argon2"
)

const (
	saltSize = 16
	keySize  = 32
)

// DeriveKey stretches secret with argon2id.
func DeriveKey(secret, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, keySize)
}

// Verifier holds a salted argon2id key; the secret itself is not kept.
type Verifier struct {
	Salt []byte
	Key  []byte
}

// NewVerifier derives a verifier for secret with a fresh random salt.
func NewVerifier(secret string) Verifier {
	salt := common.GenerateRandByteArray(saltSize)
	return Verifier{Salt: salt, Key: DeriveKey([]byte(secret), salt)}
}

// Matches reports whether secret derives to the stored key. The comparison
// runs in constant time.
func (v Verifier) Matches(secret string) bool {
	if len(v.Key) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare(DeriveKey([]byte(secret), v.Salt), v.Key) == 1
}
