package util

import (
	"context"
	"crypto/rand"
	"math/big"

	"github.com/pkg/errors"
)

// Alphabet excludes visually confusable characters (0, O, I, l, 1).
// 58^8 combinations keep the collision retry loop a formality.
const slugAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	SlugLength      = 8
	maxSlugAttempts = 5
)

var ErrSlugExhausted = errors.New("slug collision after 5 attempts")

// GenSlug produces a slug not currently taken according to exists,
// retrying up to maxSlugAttempts times before giving up.
func GenSlug(ctx context.Context, exists func(context.Context, string) (bool, error)) (string, error) {
	for attempt := 0; attempt < maxSlugAttempts; attempt++ {
		slug, err := randomSlug()
		if err != nil {
			return "", err
		}
		taken, err := exists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
	}
	return "", ErrSlugExhausted
}

func randomSlug() (string, error) {
	max := big.NewInt(int64(len(slugAlphabet)))
	buf := make([]byte, SlugLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", errors.Wrap(err, "rand fail")
		}
		buf[i] = slugAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidSlug reports whether s is a well-formed public identifier.
func ValidSlug(s string) bool {
	if len(s) != SlugLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		found := false
		for j := 0; j < len(slugAlphabet); j++ {
			if s[i] == slugAlphabet[j] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
