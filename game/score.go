package game

import (
	"errors"
	"fmt"
)

// ErrLengthMismatch indicates the guess length differs from the target's.
var ErrLengthMismatch = errors.New("guess length does not match target")

// IsDecimal reports whether the string is non-empty and composed solely of
// ASCII decimal digits.
func IsDecimal(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// Score counts exact-position digit matches between target and guess. This is
// not an edit distance: transposed digits do not count.
func Score(target, guess string) (matches, distance int, hint string, err error) {
	if len(guess) != len(target) {
		return 0, 0, "", fmt.Errorf("%w: got %d digits, want %d", ErrLengthMismatch, len(guess), len(target))
	}
	for i := 0; i < len(target); i++ {
		if target[i] == guess[i] {
			matches++
		}
	}
	distance = len(target) - matches
	hint = fmt.Sprintf("%d/%d digits in place", matches, len(target))
	return matches, distance, hint, nil
}
