package security

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// pinCost is the bcrypt work factor for transaction PINs.
const pinCost = 12

// ErrMalformedPIN is returned for PINs that are not 4 to 8 digits.
var ErrMalformedPIN = errors.New("pin must be 4 to 8 digits")

// HashPIN hashes a transaction PIN with bcrypt.
func HashPIN(pin string) (string, error) {
	if !wellFormedPIN(pin) {
		return "", ErrMalformedPIN
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), pinCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPIN compares a bcrypt hash with a plaintext PIN.
func CheckPIN(hash, pin string) bool {
	if hash == "" || !wellFormedPIN(pin) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(pin)) == nil
}

func wellFormedPIN(pin string) bool {
	if len(pin) < 4 || len(pin) > 8 {
		return false
	}
	for _, r := range pin {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
