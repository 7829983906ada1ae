package auth

import (
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// Verification at this cost takes on the order of 100ms, which is the point:
// offline brute force pays the same price per guess.
const bcryptCost = 12

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// VerifyPassword reports whether password matches the stored hash. An empty
// password or empty hash is a valid never-match input, not an error.
func VerifyPassword(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

var dummyHash = sync.OnceValue(func() string {
	hash, err := HashPassword("lumilearn.timing.padding")
	if err != nil {
		return ""
	}
	return hash
})

// BurnVerification performs a full-cost comparison against a throwaway hash.
// Called when the account does not exist so the login response time does not
// reveal whether an email is registered.
func BurnVerification(password string) {
	VerifyPassword(password, dummyHash())
}
