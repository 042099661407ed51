package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"
)

func HashString(input string) string {
	hash := sha256.Sum256([]byte(input))
	return hex.EncodeToString(hash[:])
}

// NormalizeQuery lowercases, trims and collapses whitespace so that trivially
// different spellings of the same question share a cache entry.
func NormalizeQuery(query string) string {
	var b strings.Builder
	b.Grow(len(query))
	space := false
	for _, r := range strings.TrimSpace(query) {
		if unicode.IsSpace(r) {
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// ResponseCacheKey is a pure function of the normalized query, the strategy
// and the result-size parameter.
func ResponseCacheKey(query, strategy string, maxResults int) string {
	return "graphrag:v1:" + HashString(NormalizeQuery(query)+"\x1f"+strategy+"\x1f"+strconv.Itoa(maxResults))
}
