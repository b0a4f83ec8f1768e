// Package sanitize turns caller-supplied names into safe identifiers and
// checks that paths stay inside allowed roots.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	// MaxTokenLength bounds a single subject token.
	MaxTokenLength = 64

	// hashSuffixLength is "_" plus eight hex characters.
	hashSuffixLength = 9

	// EmptyToken replaces names that sanitize to nothing.
	EmptyToken = "unnamed"
)

// SubjectToken maps name onto a single messaging subject token: lowercase
// letters, digits, '-' and '_'. Separators and wildcards ('.', '*', '>',
// whitespace) become '_', runs of '_' collapse, and names longer than
// MaxTokenLength are truncated with a hash suffix so distinct long names
// stay distinct.
//
//	"Deploy Finished" -> "deploy_finished"
//	"GET /api.v1"     -> "get_api_v1"
//	"" or "***"       -> "unnamed"
func SubjectToken(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	underscore := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	token := strings.Trim(b.String(), "_")
	if token == "" {
		return EmptyToken
	}
	if len(token) > MaxTokenLength {
		token = truncateWithHash(token)
	}
	return token
}

// truncateWithHash shortens s to MaxTokenLength keeping a digest of the
// full value: <prefix>_<8 hex>.
func truncateWithHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	prefix := strings.TrimRight(s[:MaxTokenLength-hashSuffixLength], "_")
	return prefix + "_" + hex.EncodeToString(sum[:])[:8]
}
