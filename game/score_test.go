package game

import (
	"errors"
	"testing"
)

func TestScoreExactMatch(t *testing.T) {
	for _, digits := range []int{2, 4, 6, 10} {
		target, err := NewSecret(digits)
		if err != nil {
			t.Fatalf("new secret: %v", err)
		}
		matches, distance, hint, err := Score(target, target)
		if err != nil {
			t.Fatalf("score: %v", err)
		}
		if matches != digits {
			t.Fatalf("matches = %d, want %d", matches, digits)
		}
		if distance != 0 {
			t.Fatalf("distance = %d, want 0", distance)
		}
		if hint == "" {
			t.Fatal("expected hint")
		}
	}
}

func TestScorePartialMatch(t *testing.T) {
	matches, distance, hint, err := Score("1234", "1243")
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if matches != 2 {
		t.Fatalf("matches = %d, want 2", matches)
	}
	if distance != 2 {
		t.Fatalf("distance = %d, want 2", distance)
	}
	if hint != "2/4 digits in place" {
		t.Fatalf("hint = %q", hint)
	}
}

func TestScoreLengthMismatch(t *testing.T) {
	if _, _, _, err := Score("1234", "123"); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
	if _, _, _, err := Score("1234", "12345"); !errors.Is(err, ErrLengthMismatch) {
		t.Fatalf("err = %v, want ErrLengthMismatch", err)
	}
}

func TestIsDecimal(t *testing.T) {
	cases := map[string]bool{
		"0123456789": true,
		"0042":       true,
		"":           false,
		"12a4":       false,
		"12 4":       false,
		"-123":       false,
		"12.3":       false,
	}
	for in, want := range cases {
		if got := IsDecimal(in); got != want {
			t.Fatalf("IsDecimal(%q) = %v, want %v", in, got, want)
		}
	}
}
