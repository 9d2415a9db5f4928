package slug

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Checker reports whether a candidate slug is already taken.
type Checker func(ctx context.Context, candidate string) (bool, error)

const maxAttempts = 10

// Make normalizes a display name into a URL-safe slug.
func Make(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastDash = false
		case !lastDash:
			b.WriteByte('-')
			lastDash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

// Allocate returns a slug for name that the checker reports as free,
// disambiguating with a numeric suffix under contention. Disambiguation state
// is the caller's checker, not package state, so concurrent allocations for
// different stores cannot interfere.
func Allocate(ctx context.Context, name string, taken Checker) (string, error) {
	base := Make(name)
	if base == "" {
		base = "nudge"
	}

	candidate := base
	for i := 1; i <= maxAttempts; i++ {
		exists, err := taken(ctx, candidate)
		if err != nil {
			return "", fmt.Errorf("failed to check slug %q: %w", candidate, err)
		}
		if !exists {
			return candidate, nil
		}
		candidate = fmt.Sprintf("%s-%d", base, i+1)
	}

	return "", fmt.Errorf("could not allocate unique slug for %q after %d attempts", name, maxAttempts)
}
