package store

import (
	"strings"
)

// ContentPolicy decides whether note text must be archived for moderation
type ContentPolicy interface {
	// Match the policy terms found in the plain text; empty when nothing matched
	Match(plainText []byte) []string
}

// TermPolicy ContentPolicy matching a fixed list of terms, ignoring case
type TermPolicy struct {
	terms []string
	lower []string
}

// NewTermPolicy define a term policy; blank and repeated terms are dropped
func NewTermPolicy(terms []string) *TermPolicy {
	policy := &TermPolicy{}
	seen := map[string]bool{}
	for _, term := range terms {
		term = strings.TrimSpace(term)
		key := strings.ToLower(term)
		if term == "" || seen[key] {
			continue
		}
		seen[key] = true
		policy.terms = append(policy.terms, term)
		policy.lower = append(policy.lower, key)
	}
	return policy
}

// Match the policy terms found in the plain text, in policy order
func (p *TermPolicy) Match(plainText []byte) []string {
	if len(p.terms) == 0 {
		return nil
	}
	haystack := strings.ToLower(string(plainText))
	var matched []string
	for idx, term := range p.lower {
		if strings.Contains(haystack, term) {
			matched = append(matched, p.terms[idx])
		}
	}
	return matched
}

// describeMatches join matched terms into the flag reason, cut to fit the column
func describeMatches(matched []string, limit int) string {
	reason := strings.Join(matched, ", ")
	runes := []rune(reason)
	if len(runes) > limit {
		reason = string(runes[:limit])
	}
	return reason
}

// previewRunes number of runes shown in a listing preview
const previewRunes = 30

// makePreview first runes of the text, with an ellipsis when cut
func makePreview(plainText []byte) string {
	runes := []rune(string(plainText))
	if len(runes) > previewRunes {
		return string(runes[:previewRunes]) + "…"
	}
	return string(runes)
}
