package core

import "golang.org/x/crypto/bcrypt"

// bcryptCost is pinned rather than bcrypt.DefaultCost so stored hashes stay
// uniform across deployments.
const bcryptCost = 10

// HashPassword applies bcrypt at the fixed cost. A hashing failure is returned
// to the caller; registration must fail rather than store an empty hash.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword reports whether plaintext matches the stored bcrypt hash.
// It never panics for well-formed inputs; a malformed hash simply fails the check.
func CheckPassword(plaintext, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}
