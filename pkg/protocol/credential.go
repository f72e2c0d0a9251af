package protocol

import (
	"crypto/rand"
	"errors"
	"math/big"
)

// MinCredentialLength is the shortest credential the server accepts.
const MinCredentialLength = 6

var (
	ErrCredentialTooShort = errors.New("credential shorter than 6 characters")
	ErrCredentialCharset  = errors.New("credential must be alphanumeric")
)

// ValidateCredential enforces the rotation format policy: alphanumeric,
// at least MinCredentialLength characters.
func ValidateCredential(credential string) error {
	if len(credential) < MinCredentialLength {
		return ErrCredentialTooShort
	}
	for _, r := range credential {
		if !isAlnum(r) {
			return ErrCredentialCharset
		}
	}
	return nil
}

func isAlnum(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}

const credentialAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// GenerateCredential produces a random alphanumeric credential of the given
// length, clamped up to the policy minimum. Used by agents when the server
// signals a rotation without a staged value.
func GenerateCredential(length int) (string, error) {
	if length < MinCredentialLength {
		length = MinCredentialLength
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(credentialAlphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = credentialAlphabet[n.Int64()]
	}
	return string(out), nil
}
