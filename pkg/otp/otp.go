package otp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
)

// Generator generates numeric one-time codes of a fixed length
type Generator struct {
	length int
}

// NewGenerator creates a new OTP generator. Length is kept within 4..10.
func NewGenerator(length int) *Generator {
	if length < 4 {
		length = 4
	}
	if length > 10 {
		length = 10
	}
	return &Generator{
		length: length,
	}
}

// Length returns the code length
func (g *Generator) Length() int {
	return g.length
}

// Generate generates a random numeric OTP
func (g *Generator) Generate() (string, error) {
	max := new(big.Int)
	max.Exp(big.NewInt(10), big.NewInt(int64(g.length)), nil)

	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("failed to generate random number: %w", err)
	}

	// Leading zeros keep the exact length
	return fmt.Sprintf("%0*d", g.length, n), nil
}

// Validate reports whether code is exactly the configured number of digits
func (g *Generator) Validate(code string) bool {
	if len(code) != g.length {
		return false
	}
	for _, c := range code {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// NormalizeCode strips the spaces and dashes people type between digit groups
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	code = strings.ReplaceAll(code, " ", "")
	code = strings.ReplaceAll(code, "-", "")
	return code
}
