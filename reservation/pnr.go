package reservation

import (
	"crypto/rand"
	"math/big"
)

// PNRLength is the number of digits in a PNR.
const PNRLength = 10

// PNRGenerator returns a candidate PNR. Uniqueness is enforced by the store,
// not by the generator.
type PNRGenerator func() (string, error)

var (
	pnrLeading = big.NewInt(9)
	pnrTail    = big.NewInt(1_000_000_000)
)

// RandomPNR draws a 10-digit number with a non-zero first digit.
func RandomPNR() (string, error) {
	lead, err := rand.Int(rand.Reader, pnrLeading)
	if err != nil {
		return "", err
	}
	tail, err := rand.Int(rand.Reader, pnrTail)
	if err != nil {
		return "", err
	}
	n := new(big.Int).Add(new(big.Int).Mul(new(big.Int).Add(lead, big.NewInt(1)), pnrTail), tail)
	return n.String(), nil
}

// ValidPNR reports whether s has the PNR shape.
func ValidPNR(s string) bool {
	if len(s) != PNRLength || s[0] == '0' {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
