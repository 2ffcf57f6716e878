package referrals

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

const codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Normalize trims and uppercases raw input. A code of exactly length
// characters without the prefix was typed without it and gets it prepended.
// Normalizing twice yields the same code.
func Normalize(raw, prefix string, length int) string {
	code := strings.ToUpper(strings.TrimSpace(raw))
	prefix = strings.ToUpper(prefix)
	if len(code) == length && !strings.HasPrefix(code, prefix) {
		code = prefix + code
	}
	return code
}

// Generate returns prefix followed by length random uppercase alphanumerics.
func Generate(prefix string, length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("referral code length must be positive")
	}
	base := big.NewInt(int64(len(codeAlphabet)))
	var b strings.Builder
	b.Grow(len(prefix) + length)
	b.WriteString(strings.ToUpper(prefix))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, base)
		if err != nil {
			return "", fmt.Errorf("generate referral code: %w", err)
		}
		b.WriteByte(codeAlphabet[n.Int64()])
	}
	return b.String(), nil
}

// Generator binds Generate to a configured prefix and length.
func Generator(prefix string, length int) func() (string, error) {
	return func() (string, error) {
		return Generate(prefix, length)
	}
}
