// Package shared contains helpers used by multiple source connectors:
// content normalization, the deduplication content hash, deterministic
// external-id synthesis, and a coarse language guess.
package shared

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// hashContentLimit bounds how much normalized content feeds the dedup hash.
const hashContentLimit = 1024

// NormalizeContent lowercases, trims, and collapses internal whitespace so
// trivially reformatted copies of the same text hash identically.
func NormalizeContent(content string) string {
	var b strings.Builder
	b.Grow(len(content))

	lastSpace := true
	for _, r := range strings.ToLower(strings.TrimSpace(content)) {
		if unicode.IsSpace(r) {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}

	return strings.TrimRight(b.String(), " ")
}

// ContentHash computes the cross-connector deduplication key: a SHA-256
// digest over the normalized, truncated content, hex encoded.
func ContentHash(content string) string {
	normalized := NormalizeContent(content)
	if len(normalized) > hashContentLimit {
		normalized = normalized[:hashContentLimit]
	}
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// SynthesizeExternalID builds a deterministic external id for sources that
// provide none, so re-imports of the same file stay idempotent.
func SynthesizeExternalID(content string, date time.Time, author string, index int) string {
	truncated := NormalizeContent(content)
	if len(truncated) > 128 {
		truncated = truncated[:128]
	}

	h := sha256.New()
	h.Write([]byte(truncated))
	h.Write([]byte{0})
	h.Write([]byte(date.UTC().Format("2006-01-02")))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(strings.TrimSpace(author))))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))

	return "gen_" + hex.EncodeToString(h.Sum(nil))[:32]
}

// commonEnglishWords backs the placeholder language check.
var commonEnglishWords = map[string]struct{}{
	"the": {}, "and": {}, "was": {}, "for": {}, "with": {}, "this": {},
	"that": {}, "very": {}, "not": {}, "you": {}, "are": {}, "but": {},
	"have": {}, "had": {}, "our": {}, "they": {}, "were": {}, "there": {},
}

// DetectLanguage is a coarse placeholder, not a language-ID model: text
// containing common English words is tagged "en", anything else "unknown".
// Treat the result as low-confidence metadata only.
func DetectLanguage(content string) string {
	words := strings.Fields(strings.ToLower(content))
	if len(words) == 0 {
		return ""
	}

	matches := 0
	for _, w := range words {
		w = strings.Trim(w, ".,!?;:\"'()")
		if _, ok := commonEnglishWords[w]; ok {
			matches++
		}
	}

	if matches > 0 {
		return "en"
	}
	return "unknown"
}
