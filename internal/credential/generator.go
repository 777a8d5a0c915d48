package credential

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"

	apperrors "github.com/jwalitptl/account-api/pkg/errors"
)

const (
	passwordLength = 12

	lowerChars  = "abcdefghijkmnopqrstuvwxyz"
	upperChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ"
	digitChars  = "23456789"
	symbolChars = "!@#$%&*"
)

// Generator derives usernames and passwords for new accounts.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// GenerateUsername derives a candidate from the normalized name parts and
// appends an incrementing numeric suffix until it is absent from existing.
// Deterministic for identical inputs and existing set; bounded by
// len(existing)+1 attempts.
func (g *Generator) GenerateUsername(firstName, lastName string, existing map[string]struct{}) (string, error) {
	base := baseUsername(firstName, lastName)
	if base == "" {
		return "", apperrors.Validation("at least one name part is required to generate a username", nil)
	}

	if _, taken := existing[base]; !taken {
		return base, nil
	}

	for i := 1; i <= len(existing)+1; i++ {
		candidate := fmt.Sprintf("%s%d", base, i)
		if _, taken := existing[candidate]; !taken {
			return candidate, nil
		}
	}

	// Unreachable: existing has at most len(existing) members, so one of
	// the len(existing)+1 suffixed candidates must be free.
	return "", apperrors.Internal(fmt.Errorf("exhausted %d username candidates for %q", len(existing)+1, base))
}

// GeneratePassword produces a random password containing at least one
// character of each class. It never equals the username derived from the
// same name parts and performs no I/O.
func (g *Generator) GeneratePassword(firstName, lastName string) (string, error) {
	if baseUsername(firstName, lastName) == "" {
		return "", apperrors.Validation("at least one name part is required to generate a password", nil)
	}

	all := lowerChars + upperChars + digitChars + symbolChars
	buf := make([]byte, passwordLength)

	// One guaranteed character per class, the rest drawn from the full set.
	classes := []string{lowerChars, upperChars, digitChars, symbolChars}
	for i := range buf {
		set := all
		if i < len(classes) {
			set = classes[i]
		}
		c, err := randomChar(set)
		if err != nil {
			return "", apperrors.Internal(err)
		}
		buf[i] = c
	}

	if err := shuffle(buf); err != nil {
		return "", apperrors.Internal(err)
	}

	password := string(buf)
	if password == baseUsername(firstName, lastName) {
		return g.GeneratePassword(firstName, lastName)
	}
	return password, nil
}

// baseUsername normalizes name parts into "first.last": lowercased with
// non-alphanumerics stripped. Either part may be empty.
func baseUsername(firstName, lastName string) string {
	first := normalize(firstName)
	last := normalize(lastName)
	switch {
	case first == "" && last == "":
		return ""
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + "." + last
	}
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func randomChar(set string) (byte, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(set))))
	if err != nil {
		return 0, err
	}
	return set[n.Int64()], nil
}

func shuffle(buf []byte) error {
	for i := len(buf) - 1; i > 0; i-- {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return err
		}
		j := n.Int64()
		buf[i], buf[j] = buf[j], buf[i]
	}
	return nil
}
