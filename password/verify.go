package password

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Verify checks password against any supported encoding: argon2id PHC strings written by
// this package, or bcrypt hashes imported from older local account stores.
func Verify(password, encodedHash string) (bool, error) {
	if len(password) > DefaultMaxPasswordBytes {
		return false, ErrTooLong
	}
	switch {
	case strings.HasPrefix(encodedHash, argon2Prefix):
		return verifyArgon2(password, encodedHash)
	case isBcrypt(encodedHash):
		err := bcrypt.CompareHashAndPassword([]byte(encodedHash), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, ErrMalformedHash
		}
		return true, nil
	}
	return false, ErrMalformedHash
}

func isBcrypt(encodedHash string) bool {
	return strings.HasPrefix(encodedHash, "$2a$") ||
		strings.HasPrefix(encodedHash, "$2b$") ||
		strings.HasPrefix(encodedHash, "$2y$")
}
