package profile

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"unicode/utf8"
)

// Charset is the alphabet for the random part of a generated name.
const Charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

var (
	// ErrPrefixTooLong is a configuration error: the prefix does not fit the name length.
	ErrPrefixTooLong = errors.New("prefix is longer than the name length")
	// ErrInvalidLength is a configuration error: names need at least one character.
	ErrInvalidLength = errors.New("name length must be at least 1")
)

// GenerateName returns a name of exactly length characters that starts with prefix
// and continues with random letters and digits. Lengths are counted in characters,
// not bytes.
func GenerateName(length int, prefix string) (string, error) {
	if length < 1 {
		return "", fmt.Errorf("%w: got %d", ErrInvalidLength, length)
	}
	prefixLen := utf8.RuneCountInString(prefix)
	if prefixLen > length {
		return "", fmt.Errorf("%w: prefix %q has %d characters, name length is %d", ErrPrefixTooLong, prefix, prefixLen, length)
	}

	var b strings.Builder
	b.Grow(len(prefix) + length - prefixLen)
	b.WriteString(prefix)

	max := big.NewInt(int64(len(Charset)))
	for i := prefixLen; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("crypto/rand failure: %w", err)
		}
		b.WriteByte(Charset[n.Int64()])
	}
	return b.String(), nil
}
