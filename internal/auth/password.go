package auth

import (
	"golang.org/x/crypto/bcrypt"
)

// Account passwords are stored as bcrypt hashes only; the plaintext
// never leaves the register/login handlers.

// HashPassword hashes a plaintext password with bcrypt at DefaultCost.
// The resulting string embeds the salt and cost, so it is the only
// value that needs to be persisted.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether the plaintext matches the stored hash.
// Any bcrypt error (malformed hash included) counts as a mismatch.
func CheckPassword(hash string, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
