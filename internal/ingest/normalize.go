package ingest

import (
	"regexp"
	"strings"
)

// minUsableMerchantLen is the shortest normalized merchant considered
// meaningful. Anything shorter triggers the LLM fallback.
const minUsableMerchantLen = 3

// Processor noise tokens that carry no merchant identity.
var noiseTokens = map[string]struct{}{
	"PURCHASE":  {},
	"PAYMENT":   {},
	"DEBIT":     {},
	"CREDIT":    {},
	"POS":       {},
	"CHECKCARD": {},
}

var (
	trailingRefPattern = regexp.MustCompile(`[#*]\s*\d+\s*$`)
	longDigitPattern   = regexp.MustCompile(`\d{4,}`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

// NormalizeMerchant deterministically canonicalizes a raw statement
// descriptor: uppercase, reference numbers and long digit runs removed,
// processor noise dropped, whitespace collapsed. An output shorter than
// minUsableMerchantLen means the descriptor needs the LLM fallback.
func NormalizeMerchant(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = trailingRefPattern.ReplaceAllString(s, "")
	s = longDigitPattern.ReplaceAllString(s, "")

	words := strings.Fields(s)
	kept := make([]string, 0, len(words))
	for _, w := range words {
		if _, noise := noiseTokens[w]; noise {
			continue
		}
		kept = append(kept, w)
	}

	s = strings.Join(kept, " ")
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

// Usable reports whether a normalized merchant is long enough to key rules
// and aggregates on.
func Usable(normalized string) bool {
	return len(normalized) >= minUsableMerchantLen
}
