package models

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

var numberSpace = big.NewInt(10_000_000_000)

// GenerateNumber returns a random zero-padded NumberLength-digit account number.
// Uniqueness is enforced by the store; callers retry on conflict.
func GenerateNumber() (string, error) {
	n, err := rand.Int(rand.Reader, numberSpace)
	if err != nil {
		return "", fmt.Errorf("generate account number: %w", err)
	}
	return fmt.Sprintf("%010d", n.Int64()), nil
}

func IsValidNumber(s string) bool {
	if len(s) != NumberLength {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}
