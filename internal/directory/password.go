package directory

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const (
	passwordAlphabet      = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789!@#$%^&*"
	defaultPasswordLength = 16
	minPasswordLength     = 8
)

// GenerateTemporaryPassword returns a random password drawn from letters,
// digits and !@#$%^&*. A non-positive length selects the default.
func GenerateTemporaryPassword(length int) (string, error) {
	if length <= 0 {
		length = defaultPasswordLength
	}
	if length < minPasswordLength {
		return "", fmt.Errorf("password length %d below minimum %d", length, minPasswordLength)
	}
	max := big.NewInt(int64(len(passwordAlphabet)))
	out := make([]byte, length)
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = passwordAlphabet[n.Int64()]
	}
	return string(out), nil
}
