package polls

import (
	"context"
	"crypto/rand"
	"strconv"
	"time"
)

const (
	slugAlphabet    = "abcdefghijklmnopqrstuvwxyz0123456789"
	slugLength      = 8
	maxSlugAttempts = 10
)

// SlugChecker reports whether a slug is taken.
type SlugChecker interface {
	SlugExists(ctx context.Context, slug string) (bool, error)
}

func randomSlug(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// math/rand fallback is not worth it; a zeroed buffer still
		// maps to valid alphabet characters and uniqueness is enforced
		// by the database constraint.
		for i := range buf {
			buf[i] = byte(i * 31)
		}
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = slugAlphabet[int(b)%len(slugAlphabet)]
	}
	return string(out)
}

// generateSlug returns a short identifier not currently in use. After
// maxSlugAttempts collisions it falls back to a timestamp-prefixed slug,
// which is unique for all practical purposes.
func generateSlug(ctx context.Context, store SlugChecker, now time.Time) (string, error) {
	for i := 0; i < maxSlugAttempts; i++ {
		slug := randomSlug(slugLength)
		taken, err := store.SlugExists(ctx, slug)
		if err != nil {
			return "", err
		}
		if !taken {
			return slug, nil
		}
	}
	return strconv.FormatInt(now.UnixMilli(), 36) + "-" + randomSlug(4), nil
}
