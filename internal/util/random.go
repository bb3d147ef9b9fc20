package util

import (
	"crypto/rand"
	"fmt"
	"math"
	"math/big"
	"strings"
)

var (
	maxNodeID = big.NewInt(math.MaxInt64)

	// No 0/O or 1/I/L, so keys survive being read aloud or retyped.
	allowedRandomChars = []rune("23456789ABCDEFGHJKMNPQRSTVWXYZ")
)

// RandomChars returns n characters drawn from an unambiguous alphabet.
func RandomChars(n int) (string, error) {
	var sb strings.Builder
	sb.Grow(n)
	for range n {
		idx, err := RandomIntn(len(allowedRandomChars))
		if err != nil {
			return "", fmt.Errorf("generating random char index: %w", err)
		}
		sb.WriteRune(allowedRandomChars[idx])
	}
	return sb.String(), nil
}

func RandomIntn(max int) (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, fmt.Errorf("generating random number: %w", err)
	}
	return int(n.Int64()), nil
}

// NodeID returns a random id for a channel node in [1, math.MaxInt64].
func NodeID() (int64, error) {
	n, err := rand.Int(rand.Reader, maxNodeID)
	if err != nil {
		return 0, fmt.Errorf("generating node id: %w", err)
	}
	return n.Int64() + 1, nil
}
