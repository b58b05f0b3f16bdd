package auth

import "golang.org/x/crypto/bcrypt"

// HashPhrase hashes a secret access phrase or admin password.
func HashPhrase(phrase string, cost int) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(phrase), cost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// ComparePhrase reports whether the plain phrase matches the stored hash.
func ComparePhrase(hash, phrase string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(phrase)) == nil
}
