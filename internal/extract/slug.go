// internal/extract/slug.go
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
)

// Slugs shorter than this are considered too ambiguous to be stable
// identifiers and trigger the fallback chain.
const minSlugLength = 3

var (
	slugStripPattern     = regexp.MustCompile(`[^a-z0-9\s/-]`)
	slugSeparatorPattern = regexp.MustCompile(`[\s/_]+`)
	slugHyphenPattern    = regexp.MustCompile(`-+`)
)

// ToSlug lowercases the value, strips everything outside [a-z0-9/-] and
// whitespace, collapses separator runs to single hyphens, and trims
// leading/trailing hyphens.
func ToSlug(value string) string {
	s := strings.ToLower(strings.TrimSpace(value))
	s = slugStripPattern.ReplaceAllString(s, "")
	s = slugSeparatorPattern.ReplaceAllString(s, "-")
	s = slugHyphenPattern.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// EnsureSlug slugifies value, falling back to the seed and finally to a
// deterministic hash of the seed when the result is too short. The
// returned slug is always non-empty and matches [a-z0-9-]+.
func EnsureSlug(value, seed string) string {
	if s := ToSlug(value); len(s) >= minSlugLength {
		return s
	}
	if s := ToSlug(seed); len(s) >= minSlugLength {
		return s
	}
	return HashSlug(seed)
}

// TermSlug slugifies a tag or category label. Labels with no usable
// text still get a stable, non-empty slug.
func TermSlug(label string) string {
	if s := ToSlug(label); s != "" {
		return s
	}
	return HashSlug(label)
}

// HashSlug derives a stable slug from a hash of the seed. Used when no
// usable title or path text exists, and for disambiguating slug
// collisions across documents.
func HashSlug(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return hex.EncodeToString(sum[:])[:8]
}
